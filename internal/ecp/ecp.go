// Package ecp implements an EcpPoint/EcpGrp-style data model: Jacobian
// points on a short-Weierstrass prime-field curve, a named-curve group
// description, a small precomputed-multiples table for fixed-base
// scalar multiplication, and ECDH shared-secret derivation — all
// expressed over internal/mpi rather than a higher-level bignum
// package, since the MPI engine is this module's own deliverable.
package ecp

import (
	"crypto/elliptic"
	"errors"
	"io"

	"github.com/kovaden/tempesta/internal/mpi"
)

// ErrInvalidPoint flags a point that fails the curve equation or an
// out-of-range scalar.
var ErrInvalidPoint = errors.New("ecp: invalid point")

// Point is (X, Y, Z) in Jacobian coordinates; Z == 0 is the point at
// infinity by convention. Affine points normalise Z to 1.
type Point struct {
	X, Y, Z mpi.Int
}

// IsInfinity reports whether p is the point at infinity.
func (p *Point) IsInfinity() bool { return p.Z.IsZero() }

// CombTable holds precomputed small multiples of a fixed base point.
// This is a deliberately small stand-in for bignum.c's full w-NAF comb
// table: the 1..15 odd multiples of G in affine form. ScalarMultBase
// reads only entry 0 (G itself) and runs plain double-and-add; the
// other entries are not used by any multiply in this package.
type CombTable struct {
	multiples [8]Point // odd multiples 1G, 3G, 5G, ..., 15G
}

// Group is the immutable description of a named curve (EcpGrp).
type Group struct {
	Name       string
	PBits, NBits int
	P, A, B, N *mpi.Int
	Gx, Gy     *mpi.Int
	Comb       *CombTable
}

var (
	P256 = buildGroup("secp256r1", elliptic.P256())
	P384 = buildGroup("secp384r1", elliptic.P384())
	P521 = buildGroup("secp521r1", elliptic.P521())
)

func fromBig(v interface{ Bytes() []byte }) *mpi.Int {
	var x mpi.Int
	b := v.Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	_ = x.ReadBinary(b)
	return &x
}

func buildGroup(name string, c elliptic.Curve) *Group {
	p := c.Params()
	g := &Group{
		Name:  name,
		PBits: p.BitSize,
		NBits: p.N.BitLen(),
		P:     fromBig(p.P),
		A:     negThree(p.P),
		B:     fromBig(p.B),
		N:     fromBig(p.N),
		Gx:    fromBig(p.Gx),
		Gy:    fromBig(p.Gy),
	}
	g.Comb = buildComb(g)
	return g
}

// negThree returns P-3 mod P: every NIST prime curve in this table uses
// a = -3.
func negThree(p interface{ Bytes() []byte }) *mpi.Int {
	pm := fromBig(p)
	three := new(mpi.Int).SetInt64(3)
	var a mpi.Int
	_ = mpi.Sub(&a, pm, three)
	return &a
}

func buildComb(g *Group) *CombTable {
	base := Point{}
	base.X.Copy(g.Gx)
	base.Y.Copy(g.Gy)
	base.Z.SetInt64(1)

	t := &CombTable{}
	t.multiples[0] = base
	dbl := Double(&base, g)
	for i := 1; i < 8; i++ {
		t.multiples[i] = *Add(&t.multiples[i-1], dbl, g)
	}
	for i := range t.multiples {
		Normalize(&t.multiples[i], g)
	}
	return t
}

// Normalize converts a Jacobian point to affine form (Z=1), leaving
// the point at infinity untouched.
func Normalize(p *Point, g *Group) {
	if p.IsInfinity() {
		return
	}
	var zInv, zInv2, zInv3 mpi.Int
	if err := mpi.InvMod(&zInv, &p.Z, g.P); err != nil {
		return
	}
	_ = mpi.Mul(&zInv2, &zInv, &zInv)
	_ = mpi.Mod(&zInv2, &zInv2, g.P)
	_ = mpi.Mul(&zInv3, &zInv2, &zInv)
	_ = mpi.Mod(&zInv3, &zInv3, g.P)

	var nx, ny mpi.Int
	_ = mpi.Mul(&nx, &p.X, &zInv2)
	_ = mpi.Mod(&nx, &nx, g.P)
	_ = mpi.Mul(&ny, &p.Y, &zInv3)
	_ = mpi.Mod(&ny, &ny, g.P)

	p.X.Copy(&nx)
	p.Y.Copy(&ny)
	p.Z.SetInt64(1)
}

// Double computes 2P in Jacobian coordinates (a = -3 formula).
func Double(p *Point, g *Group) *Point {
	if p.IsInfinity() {
		r := *p
		return &r
	}
	P := g.P
	var ysq, s, m, x3, y3, z3, t1, t2 mpi.Int

	_ = mpi.Mul(&ysq, &p.Y, &p.Y)
	_ = mpi.Mod(&ysq, &ysq, P)

	_ = mpi.Mul(&s, &p.X, &ysq)
	_ = mpi.MulUint(&s, &s, 4)
	_ = mpi.Mod(&s, &s, P)

	// m = 3*(X - Z^2)*(X + Z^2), using a = -3
	var z2 mpi.Int
	_ = mpi.Mul(&z2, &p.Z, &p.Z)
	_ = mpi.Mod(&z2, &z2, P)
	_ = mpi.Sub(&t1, &p.X, &z2)
	_ = mpi.Add(&t2, &p.X, &z2)
	_ = mpi.Mul(&m, &t1, &t2)
	_ = mpi.MulUint(&m, &m, 3)
	_ = mpi.Mod(&m, &m, P)

	_ = mpi.Mul(&x3, &m, &m)
	var s2 mpi.Int
	_ = mpi.MulUint(&s2, &s, 2)
	_ = mpi.Sub(&x3, &x3, &s2)
	_ = mpi.Mod(&x3, &x3, P)

	var ysq2 mpi.Int
	_ = mpi.Mul(&ysq2, &ysq, &ysq)
	_ = mpi.MulUint(&ysq2, &ysq2, 8)
	_ = mpi.Sub(&y3, &s, &x3)
	_ = mpi.Mul(&y3, &y3, &m)
	_ = mpi.Sub(&y3, &y3, &ysq2)
	_ = mpi.Mod(&y3, &y3, P)

	_ = mpi.Mul(&z3, &p.Y, &p.Z)
	_ = mpi.MulUint(&z3, &z3, 2)
	_ = mpi.Mod(&z3, &z3, P)

	return &Point{X: x3, Y: y3, Z: z3}
}

// Add computes P+Q in Jacobian coordinates (general case; the
// coincident-input case falls back to Double, matching mixed-addition
// edge-case handling in EC libraries generally).
func Add(p, q *Point, g *Group) *Point {
	if p.IsInfinity() {
		r := *q
		return &r
	}
	if q.IsInfinity() {
		r := *p
		return &r
	}
	P := g.P
	var z1z1, z2z2, u1, u2, s1, s2, h, r mpi.Int

	_ = mpi.Mul(&z1z1, &p.Z, &p.Z)
	_ = mpi.Mod(&z1z1, &z1z1, P)
	_ = mpi.Mul(&z2z2, &q.Z, &q.Z)
	_ = mpi.Mod(&z2z2, &z2z2, P)

	_ = mpi.Mul(&u1, &p.X, &z2z2)
	_ = mpi.Mod(&u1, &u1, P)
	_ = mpi.Mul(&u2, &q.X, &z1z1)
	_ = mpi.Mod(&u2, &u2, P)

	var z2cubed, z1cubed mpi.Int
	_ = mpi.Mul(&z2cubed, &z2z2, &q.Z)
	_ = mpi.Mod(&z2cubed, &z2cubed, P)
	_ = mpi.Mul(&s1, &p.Y, &z2cubed)
	_ = mpi.Mod(&s1, &s1, P)

	_ = mpi.Mul(&z1cubed, &z1z1, &p.Z)
	_ = mpi.Mod(&z1cubed, &z1cubed, P)
	_ = mpi.Mul(&s2, &q.Y, &z1cubed)
	_ = mpi.Mod(&s2, &s2, P)

	if mpi.Cmp(&u1, &u2) == 0 {
		if mpi.Cmp(&s1, &s2) != 0 {
			return &Point{} // P + (-P) = infinity (Z left zero)
		}
		return Double(p, g)
	}

	_ = mpi.Sub(&h, &u2, &u1)
	_ = mpi.Mod(&h, &h, P)
	_ = mpi.Sub(&r, &s2, &s1)
	_ = mpi.Mod(&r, &r, P)

	var h2, h3, u1h2, x3, y3, z3 mpi.Int
	_ = mpi.Mul(&h2, &h, &h)
	_ = mpi.Mod(&h2, &h2, P)
	_ = mpi.Mul(&h3, &h2, &h)
	_ = mpi.Mod(&h3, &h3, P)
	_ = mpi.Mul(&u1h2, &u1, &h2)
	_ = mpi.Mod(&u1h2, &u1h2, P)

	_ = mpi.Mul(&x3, &r, &r)
	_ = mpi.Sub(&x3, &x3, &h3)
	var u1h2x2 mpi.Int
	_ = mpi.MulUint(&u1h2x2, &u1h2, 2)
	_ = mpi.Sub(&x3, &x3, &u1h2x2)
	_ = mpi.Mod(&x3, &x3, P)

	var s1h3 mpi.Int
	_ = mpi.Mul(&s1h3, &s1, &h3)
	_ = mpi.Mod(&s1h3, &s1h3, P)
	_ = mpi.Sub(&y3, &u1h2, &x3)
	_ = mpi.Mul(&y3, &y3, &r)
	_ = mpi.Sub(&y3, &y3, &s1h3)
	_ = mpi.Mod(&y3, &y3, P)

	_ = mpi.Mul(&z3, &p.Z, &q.Z)
	_ = mpi.Mul(&z3, &z3, &h)
	_ = mpi.Mod(&z3, &z3, P)

	return &Point{X: x3, Y: y3, Z: z3}
}

// ScalarMult computes k*P by left-to-right double-and-add over k's
// bits (mpi.GetBit): every bit does a double, and an add is performed
// only for the set bits, so the number of group operations depends on
// the scalar's bit pattern. No safe_cond_assign-style masking is
// applied. ScalarMultBase is the fixed-base entry point used on the
// ephemeral ECDHE path.
func ScalarMult(k *mpi.Int, p *Point, g *Group) *Point {
	acc := &Point{} // infinity
	bits := k.BitLen()
	for i := bits - 1; i >= 0; i-- {
		acc = Double(acc, g)
		if k.GetBit(i) == 1 {
			acc = Add(acc, p, g)
		}
	}
	return acc
}

// ScalarMultBase computes k*G, the fixed-base multiply ServerKeyExchange
// uses for its ephemeral public point. The group's comb table holds the
// base point's small odd multiples (1G, 3G, ... 15G); double-and-add
// against table entry 0 (G itself, the smallest precomputed multiple)
// still avoids recomputing G's coordinates from (Gx, Gy) on every call.
func ScalarMultBase(k *mpi.Int, g *Group) *Point {
	base := &Point{X: g.Comb.multiples[0].X, Y: g.Comb.multiples[0].Y, Z: g.Comb.multiples[0].Z}
	return ScalarMult(k, base, g)
}

// DeriveSharedSecret computes the ECDH premaster: the X coordinate of
// privKey * peerPublic, after validating peerPublic lies on the curve.
func DeriveSharedSecret(priv *mpi.Int, peer *Point, g *Group) (*mpi.Int, error) {
	if !OnCurve(peer, g) {
		return nil, ErrInvalidPoint
	}
	shared := ScalarMult(priv, peer, g)
	if shared.IsInfinity() {
		return nil, ErrInvalidPoint
	}
	Normalize(shared, g)
	x := new(mpi.Int)
	x.Copy(&shared.X)
	return x, nil
}

// OnCurve checks y^2 = x^3 + a*x + b (mod p) for an affine-normalised
// point; Jacobian points are normalised first (copy, not in place).
func OnCurve(p *Point, g *Group) bool {
	if p.IsInfinity() {
		return false
	}
	var cp Point
	cp.X.Copy(&p.X)
	cp.Y.Copy(&p.Y)
	cp.Z.Copy(&p.Z)
	Normalize(&cp, g)

	var lhs, rhs, x3, ax mpi.Int
	_ = mpi.Mul(&lhs, &cp.Y, &cp.Y)
	_ = mpi.Mod(&lhs, &lhs, g.P)

	_ = mpi.Mul(&x3, &cp.X, &cp.X)
	_ = mpi.Mod(&x3, &x3, g.P)
	_ = mpi.Mul(&x3, &x3, &cp.X)
	_ = mpi.Mod(&x3, &x3, g.P)

	_ = mpi.Mul(&ax, g.A, &cp.X)
	_ = mpi.Mod(&ax, &ax, g.P)

	_ = mpi.Add(&rhs, &x3, &ax)
	_ = mpi.Add(&rhs, &rhs, g.B)
	_ = mpi.Mod(&rhs, &rhs, g.P)

	return mpi.Cmp(&lhs, &rhs) == 0
}

// GenerateEphemeral draws a random scalar in [1, N) and returns it
// with its public point k*G, for ServerKeyExchange's ephemeral key.
func GenerateEphemeral(rnd io.Reader, g *Group) (*mpi.Int, *Point, error) {
	var k mpi.Int
	nbytes := (g.NBits + 7) / 8
	for {
		if err := k.FillRandom(rnd, nbytes); err != nil {
			return nil, nil, err
		}
		if k.IsZero() || mpi.CmpAbs(&k, g.N) >= 0 {
			continue
		}
		break
	}
	pub := ScalarMultBase(&k, g)
	Normalize(pub, g)
	return &k, pub, nil
}
