package ecp

import (
	"crypto/rand"
	"testing"

	"github.com/kovaden/tempesta/internal/mpi"
)

func TestOnCurveGenerator(t *testing.T) {
	for _, g := range []*Group{P256, P384, P521} {
		base := Point{}
		base.X.Copy(g.Gx)
		base.Y.Copy(g.Gy)
		base.Z.SetInt64(1)
		if !OnCurve(&base, g) {
			t.Fatalf("%s: generator fails curve equation", g.Name)
		}
	}
}

func TestScalarMultIdentity(t *testing.T) {
	g := P256
	base := Point{}
	base.X.Copy(g.Gx)
	base.Y.Copy(g.Gy)
	base.Z.SetInt64(1)

	one := new(mpi.Int).SetInt64(1)
	r := ScalarMult(one, &base, g)
	Normalize(r, g)
	if mpi.Cmp(&r.X, g.Gx) != 0 || mpi.Cmp(&r.Y, g.Gy) != 0 {
		t.Fatalf("1*G != G")
	}
}

func TestScalarMultDoubling(t *testing.T) {
	g := P256
	base := Point{}
	base.X.Copy(g.Gx)
	base.Y.Copy(g.Gy)
	base.Z.SetInt64(1)

	two := new(mpi.Int).SetInt64(2)
	viaMult := ScalarMult(two, &base, g)
	Normalize(viaMult, g)

	viaDouble := Double(&base, g)
	Normalize(viaDouble, g)

	if mpi.Cmp(&viaMult.X, &viaDouble.X) != 0 || mpi.Cmp(&viaMult.Y, &viaDouble.Y) != 0 {
		t.Fatalf("2*G via ScalarMult disagrees with Double(G)")
	}
}

func TestDeriveSharedSecretSymmetric(t *testing.T) {
	g := P256
	ka, pa, err := GenerateEphemeral(rand.Reader, g)
	if err != nil {
		t.Fatal(err)
	}
	kb, pb, err := GenerateEphemeral(rand.Reader, g)
	if err != nil {
		t.Fatal(err)
	}

	sharedA, err := DeriveSharedSecret(ka, pb, g)
	if err != nil {
		t.Fatal(err)
	}
	sharedB, err := DeriveSharedSecret(kb, pa, g)
	if err != nil {
		t.Fatal(err)
	}
	if mpi.Cmp(sharedA, sharedB) != 0 {
		t.Fatalf("ECDH shared secrets disagree")
	}
}

func TestOnCurveRejectsTamperedPoint(t *testing.T) {
	g := P256
	base := Point{}
	base.X.Copy(g.Gx)
	base.Y.Copy(g.Gy)
	base.Z.SetInt64(1)

	var one mpi.Int
	one.SetInt64(1)
	var tampered Point
	tampered.Z.SetInt64(1)
	_ = mpi.Add(&tampered.X, &base.X, &one)
	tampered.Y.Copy(&base.Y)

	if OnCurve(&tampered, g) {
		t.Fatalf("tampered point should fail the curve equation")
	}
}
