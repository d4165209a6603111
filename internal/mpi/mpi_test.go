package mpi

import (
	"math/big"
	"testing"
)

func toBig(x *Int) *big.Int {
	b := make([]byte, x.ByteLen())
	if len(b) == 0 {
		return big.NewInt(0)
	}
	_ = x.WriteBinary(b)
	r := new(big.Int).SetBytes(b)
	if x.Sign() < 0 {
		r.Neg(r)
	}
	return r
}

func fromBig(t *testing.T, v *big.Int) *Int {
	t.Helper()
	var x Int
	abs := new(big.Int).Abs(v)
	buf := abs.Bytes()
	if len(buf) == 0 {
		buf = []byte{0}
	}
	if err := x.ReadBinary(buf); err != nil {
		t.Fatalf("ReadBinary: %v", err)
	}
	if v.Sign() < 0 && !x.IsZero() {
		x.sign = -1
	}
	return &x
}

func bigFromHex(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		t.Fatalf("bad hex literal %q", s)
	}
	return v
}

func TestAddSub(t *testing.T) {
	cases := []struct{ a, b string }{
		{"0", "0"},
		{"1", "1"},
		{"ffffffffffffffff", "1"},
		{"-1", "1"},
		{"-ffffffffffffffff", "ffffffffffffffff"},
		{"123456789abcdef0123456789abcdef0", "fedcba9876543210"},
	}
	for _, c := range cases {
		av := bigFromHex(t, c.a)
		bv := bigFromHex(t, c.b)
		a := fromBig(t, av)
		b := fromBig(t, bv)

		var sum Int
		if err := Add(&sum, a, b); err != nil {
			t.Fatalf("Add(%s,%s): %v", c.a, c.b, err)
		}
		want := new(big.Int).Add(av, bv)
		if got := toBig(&sum); got.Cmp(want) != 0 {
			t.Errorf("Add(%s,%s) = %s, want %s", c.a, c.b, got, want)
		}

		var diff Int
		if err := Sub(&diff, a, b); err != nil {
			t.Fatalf("Sub(%s,%s): %v", c.a, c.b, err)
		}
		wantd := new(big.Int).Sub(av, bv)
		if got := toBig(&diff); got.Cmp(wantd) != 0 {
			t.Errorf("Sub(%s,%s) = %s, want %s", c.a, c.b, got, wantd)
		}
	}
}

func TestMul(t *testing.T) {
	av := bigFromHex(t, "123456789abcdef0123456789abcdef0123456789abcdef")
	bv := bigFromHex(t, "fedcba9876543210fedcba9876543210")
	a := fromBig(t, av)
	b := fromBig(t, bv)

	var prod Int
	if err := Mul(&prod, a, b); err != nil {
		t.Fatalf("Mul: %v", err)
	}
	want := new(big.Int).Mul(av, bv)
	if got := toBig(&prod); got.Cmp(want) != 0 {
		t.Errorf("Mul = %s, want %s", got, want)
	}
}

func TestDivMod(t *testing.T) {
	cases := []struct{ a, b string }{
		{"123456789abcdef0123456789abcdef0123456789abcdef", "fedcba987654321"},
		{"ffffffffffffffffffffffffffffffff", "3"},
		{"10000000000000000000000000000000000000000", "ffffffffffffffff"},
		{"7", "7"},
		{"5", "7"},
	}
	for _, c := range cases {
		av := bigFromHex(t, c.a)
		bv := bigFromHex(t, c.b)
		a := fromBig(t, av)
		b := fromBig(t, bv)

		var q, r Int
		if err := DivMod(&q, &r, a, b); err != nil {
			t.Fatalf("DivMod(%s,%s): %v", c.a, c.b, err)
		}
		wantQ, wantR := new(big.Int).QuoRem(av, bv, new(big.Int))
		if got := toBig(&q); got.Cmp(wantQ) != 0 {
			t.Errorf("Div(%s,%s) = %s, want %s", c.a, c.b, got, wantQ)
		}
		if got := toBig(&r); got.Cmp(wantR) != 0 {
			t.Errorf("Mod(%s,%s) rem = %s, want %s", c.a, c.b, got, wantR)
		}

		var qb Int
		qb.Copy(&q)
		var prodCheck, sumCheck Int
		_ = Mul(&prodCheck, &qb, b)
		_ = Add(&sumCheck, &prodCheck, &r)
		if toBig(&sumCheck).Cmp(av) != 0 {
			t.Errorf("Q*B+R != A for (%s,%s)", c.a, c.b)
		}
	}
}

func TestModNonNegative(t *testing.T) {
	av := bigFromHex(t, "-17")
	bv := bigFromHex(t, "5")
	a := fromBig(t, av)
	b := fromBig(t, bv)
	var r Int
	if err := Mod(&r, a, b); err != nil {
		t.Fatalf("Mod: %v", err)
	}
	want := new(big.Int).Mod(av, bv)
	if got := toBig(&r); got.Cmp(want) != 0 {
		t.Errorf("Mod(-17,5) = %s, want %s", got, want)
	}
	if r.Sign() < 0 {
		t.Errorf("Mod result is negative: %s", toBig(&r))
	}
}

func TestCmpAndBits(t *testing.T) {
	a := fromBig(t, bigFromHex(t, "ff00"))
	b := fromBig(t, bigFromHex(t, "100"))
	if Cmp(a, b) <= 0 {
		t.Errorf("expected a > b")
	}
	if CmpAbs(a, b) <= 0 {
		t.Errorf("expected |a| > |b|")
	}
	if a.BitLen() != 16 {
		t.Errorf("BitLen = %d, want 16", a.BitLen())
	}
	if a.GetBit(8) != 1 {
		t.Errorf("GetBit(8) = %d, want 1", a.GetBit(8))
	}
	if a.GetBit(0) != 0 {
		t.Errorf("GetBit(0) = %d, want 0", a.GetBit(0))
	}
}

func TestReadWriteBinaryRoundTrip(t *testing.T) {
	vecs := [][]byte{
		{0},
		{1},
		{0xff, 0xff, 0xff},
		{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
	}
	for _, v := range vecs {
		var x Int
		if err := x.ReadBinary(v); err != nil {
			t.Fatalf("ReadBinary(%x): %v", v, err)
		}
		out := make([]byte, len(v))
		if err := x.WriteBinary(out); err != nil {
			t.Fatalf("WriteBinary(%x): %v", v, err)
		}
		want := new(big.Int).SetBytes(v).Bytes()
		got := new(big.Int).SetBytes(out).Bytes()
		if new(big.Int).SetBytes(want).Cmp(new(big.Int).SetBytes(got)) != 0 {
			t.Errorf("round trip mismatch for %x: got %x", v, out)
		}
	}
}

func TestSafeCondAssign(t *testing.T) {
	x := fromBig(t, bigFromHex(t, "1"))
	y := fromBig(t, bigFromHex(t, "abcdef"))

	xc := x.Clone()
	if err := SafeCondAssign(xc, y, 0); err != nil {
		t.Fatalf("SafeCondAssign(0): %v", err)
	}
	if Cmp(xc, x) != 0 {
		t.Errorf("assign=0 changed value: got %s, want %s", toBig(xc), toBig(x))
	}

	xc2 := x.Clone()
	if err := SafeCondAssign(xc2, y, 1); err != nil {
		t.Fatalf("SafeCondAssign(1): %v", err)
	}
	if Cmp(xc2, y) != 0 {
		t.Errorf("assign=1 did not adopt value: got %s, want %s", toBig(xc2), toBig(y))
	}
}

func TestSafeCondSwap(t *testing.T) {
	a := fromBig(t, bigFromHex(t, "11"))
	b := fromBig(t, bigFromHex(t, "22"))

	a1, b1 := a.Clone(), b.Clone()
	if err := SafeCondSwap(a1, b1, 0); err != nil {
		t.Fatalf("SafeCondSwap(0): %v", err)
	}
	if Cmp(a1, a) != 0 || Cmp(b1, b) != 0 {
		t.Errorf("swap=0 altered operands")
	}

	a2, b2 := a.Clone(), b.Clone()
	if err := SafeCondSwap(a2, b2, 1); err != nil {
		t.Fatalf("SafeCondSwap(1): %v", err)
	}
	if Cmp(a2, b) != 0 || Cmp(b2, a) != 0 {
		t.Errorf("swap=1 did not exchange operands: a2=%s b2=%s", toBig(a2), toBig(b2))
	}
}

func TestGCD(t *testing.T) {
	cases := []struct{ a, b string }{
		{"270", "192"},
		{"1", "1"},
		{"abcdef", "123456"},
	}
	for _, c := range cases {
		av := bigFromHex(t, c.a)
		bv := bigFromHex(t, c.b)
		a, b := fromBig(t, av), fromBig(t, bv)
		var g Int
		if err := GCD(&g, a, b); err != nil {
			t.Fatalf("GCD(%s,%s): %v", c.a, c.b, err)
		}
		want := new(big.Int).GCD(nil, nil, av, bv)
		if got := toBig(&g); got.Cmp(want) != 0 {
			t.Errorf("GCD(%s,%s) = %s, want %s", c.a, c.b, got, want)
		}
	}
}

func TestInvMod(t *testing.T) {
	av := bigFromHex(t, "3")
	nv := bigFromHex(t, "b") // 11 decimal
	a, n := fromBig(t, av), fromBig(t, nv)
	var inv Int
	if err := InvMod(&inv, a, n); err != nil {
		t.Fatalf("InvMod: %v", err)
	}
	want := new(big.Int).ModInverse(av, nv)
	if got := toBig(&inv); got.Cmp(want) != 0 {
		t.Errorf("InvMod(3,11) = %s, want %s", got, want)
	}

	// No inverse when gcd != 1.
	a2 := fromBig(t, bigFromHex(t, "4"))
	n2 := fromBig(t, bigFromHex(t, "8"))
	if err := InvMod(&inv, a2, n2); err == nil {
		t.Errorf("expected ErrInput for non-invertible input")
	}
}

func TestExpMod(t *testing.T) {
	cases := []struct{ a, e, n string }{
		{"4", "13", "497"},
		{"2", "10", "3e9"},
		{"123456789abcdef", "3", "fffffffffffffffb"},
	}
	for _, c := range cases {
		av := bigFromHex(t, c.a)
		ev := bigFromHex(t, c.e)
		nv := bigFromHex(t, c.n)
		a, e, n := fromBig(t, av), fromBig(t, ev), fromBig(t, nv)

		var x Int
		if err := ExpMod(&x, a, e, n, nil); err != nil {
			t.Fatalf("ExpMod(%s,%s,%s): %v", c.a, c.e, c.n, err)
		}
		want := new(big.Int).Exp(av, ev, nv)
		if got := toBig(&x); got.Cmp(want) != 0 {
			t.Errorf("ExpMod(%s,%s,%s) = %s, want %s", c.a, c.e, c.n, got, want)
		}
	}
}

func TestExpModZeroExponent(t *testing.T) {
	a := fromBig(t, bigFromHex(t, "1234"))
	e := fromBig(t, bigFromHex(t, "0"))
	n := fromBig(t, bigFromHex(t, "65"))
	var x Int
	if err := ExpMod(&x, a, e, n, nil); err != nil {
		t.Fatalf("ExpMod zero exponent: %v", err)
	}
	if CmpInt64(&x, 1) != 0 {
		t.Errorf("a^0 mod n = %s, want 1", toBig(&x))
	}
}
