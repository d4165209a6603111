package mpi

// GCD computes G = gcd(|A|, |B|) using the binary GCD algorithm (shift
// out common factors of two, then repeatedly subtract the smaller from
// the larger and halve). Not constant time; used only for modulus
// sanity checks and inverse computation, never on live-traffic secrets
// outside InvMod's own use of it.
func GCD(g, a, b *Int) error {
	ta := a.Clone()
	ta.sign = 1
	tb := b.Clone()
	tb.sign = 1

	if ta.IsZero() {
		g.Copy(tb)
		return nil
	}
	if tb.IsZero() {
		g.Copy(ta)
		return nil
	}

	shift := 0
	for ta.GetBit(0) == 0 && tb.GetBit(0) == 0 && !ta.IsZero() && !tb.IsZero() {
		ta.ShiftR(1)
		tb.ShiftR(1)
		shift++
	}
	for ta.GetBit(0) == 0 {
		ta.ShiftR(1)
	}

	for !tb.IsZero() {
		for tb.GetBit(0) == 0 {
			tb.ShiftR(1)
		}
		if CmpAbs(ta, tb) > 0 {
			ta, tb = tb, ta
		}
		if err := SubAbs(tb, tb, ta); err != nil {
			return err
		}
	}

	if err := ta.ShiftL(shift); err != nil {
		return err
	}
	g.Copy(ta)
	g.sign = 1
	return nil
}

// InvMod computes X = A^-1 mod N via the extended Euclidean algorithm
// on non-negative representatives, ported from bignum.c's
// ttls_mpi_inv_mod. Returns ErrInput if gcd(A, N) != 1 (no inverse
// exists) or if N <= 1.
func InvMod(x, a, n *Int) error {
	if CmpInt64(n, 1) <= 0 {
		return ErrInput
	}

	var am Int
	if err := Mod(&am, a, n); err != nil {
		return err
	}
	if am.IsZero() {
		return ErrInput
	}

	g := new(Int)
	if err := GCD(g, &am, n); err != nil {
		return err
	}
	if CmpInt64(g, 1) != 0 {
		return ErrInput
	}

	// Extended Euclid: maintain (r0, s0) and (r1, s1) such that
	// r_i = s_i*A + t_i*N; only s_i is tracked since we only need A^-1.
	r0, r1 := n.Clone(), am.Clone()
	s0, s1 := new(Int).SetInt64(0), new(Int).SetInt64(1)

	for !r1.IsZero() {
		q, rem := new(Int), new(Int)
		if err := DivMod(q, rem, r0, r1); err != nil {
			return err
		}
		qs := new(Int)
		if err := Mul(qs, q, s1); err != nil {
			return err
		}
		s2 := new(Int)
		if err := Sub(s2, s0, qs); err != nil {
			return err
		}
		r0, r1 = r1, rem
		s0, s1 = s1, s2
	}

	if CmpInt64(r0, 1) != 0 {
		return ErrInput
	}

	if err := Mod(x, s0, n); err != nil {
		return err
	}
	return nil
}
