package mpi

import "math/bits"

// DivMod computes Q = A / B, R = A % B via Knuth Algorithm D: the divisor
// is normalized so its most-significant bit is set, long division
// produces both quotient and remainder, and remainder sign follows the
// dividend (normalization to [0, |B|) happens only in Mod, not here).
// Division by zero is ErrInput. Either of Q, R may be nil if the caller
// does not need that output.
func DivMod(q, r *Int, a, b *Int) error {
	if b.IsZero() {
		return ErrInput
	}
	if CmpAbs(a, b) < 0 {
		if q != nil {
			q.SetInt64(0)
		}
		if r != nil {
			r.Copy(a)
		}
		return nil
	}

	an := a.used()
	for an > 1 && a.limbAt(an-1) == 0 {
		an--
	}
	bn := b.used()
	for bn > 1 && b.limbAt(bn-1) == 0 {
		bn--
	}

	shift := 0
	top := b.limbAt(bn - 1)
	for top&(1<<(W-1)) == 0 {
		top <<= 1
		shift++
	}

	// Normalize divisor and dividend by shift.
	bn2 := new(Int)
	bn2.Copy(b)
	bn2.sign = 1
	_ = bn2.ShiftL(shift)
	an2 := new(Int)
	an2.Copy(a)
	an2.sign = 1
	_ = an2.ShiftL(shift)

	m := an - bn // quotient has at most m+1 limbs
	if m < 0 {
		m = 0
	}
	u := make([]uint64, an+2) // working remainder, plus guard limbs
	copy(u, an2.limb)
	v := make([]uint64, bn)
	copy(v, bn2.limb[:bn])

	qq := make([]uint64, m+1)

	for j := m; j >= 0; j-- {
		// Estimate qhat from the top two limbs of u over the top limb
		// of v (Knuth D3: classical double-limb/single-limb trial
		// divide), then refine by a small, bounded correction loop.
		u2 := u[j+bn]
		u1 := u[j+bn-1]
		var qhat, rhat uint64
		rhatOverflowed := false
		if u2 >= v[bn-1] {
			qhat = ^uint64(0)
			rhat, rhatOverflowed = addOverflow(u1, v[bn-1])
		} else {
			qhat, rhat = bits.Div64(u2, u1, v[bn-1])
		}
		for !rhatOverflowed && qhat > 0 && mulTooBig(qhat, v, bn, rhat, u, j) {
			qhat--
			rhat, rhatOverflowed = addOverflow(rhat, v[bn-1])
		}

		// Multiply and subtract: u[j:j+bn+1] -= qhat * v[0:bn].
		borrow := uint64(0)
		carry := uint64(0)
		for i := 0; i < bn; i++ {
			hi, lo := bits.Mul64(qhat, v[i])
			lo2, c1 := bits.Add64(lo, carry, 0)
			carry = hi + c1
			d, b1 := bits.Sub64(u[j+i], lo2, borrow)
			u[j+i] = d
			borrow = b1
		}
		d, b1 := bits.Sub64(u[j+bn], carry, borrow)
		u[j+bn] = d
		borrow = b1

		if borrow != 0 {
			// qhat was one too large: add v back once.
			qhat--
			c := uint64(0)
			for i := 0; i < bn; i++ {
				s, c1 := bits.Add64(u[j+i], v[i], c)
				u[j+i] = s
				c = c1
			}
			u[j+bn], _ = bits.Add64(u[j+bn], 0, c)
		}
		qq[j] = qhat
	}

	if q != nil {
		q.limb = qq
		q.sign = a.sign * b.sign
		q.fixup()
	}
	if r != nil {
		rem := make([]uint64, bn)
		copy(rem, u[:bn])
		r.limb = rem
		r.sign = a.sign
		r.ShiftR(shift)
		r.fixup()
	}
	return nil
}

// mulTooBig reports whether qhat*v[bn-2] > rhat*2^W + u[j+bn-2], the
// classical Knuth D3 refinement test.
func mulTooBig(qhat uint64, v []uint64, bn int, rhat uint64, u []uint64, j int) bool {
	if bn < 2 {
		return false
	}
	hi, lo := bits.Mul64(qhat, v[bn-2])
	if hi > rhat {
		return true
	}
	if hi < rhat {
		return false
	}
	return lo > u[j+bn-2]
}

func addOverflow(a, b uint64) (uint64, bool) {
	s, c := bits.Add64(a, b, 0)
	return s, c != 0
}

// Div computes Q = A / B.
func Div(q, a, b *Int) error {
	return DivMod(q, nil, a, b)
}

// Mod computes R = A mod B, requiring B > 0, and normalizes the result
// into [0, B) by at most two corrective add/sub operations, folded in
// here rather than left to the caller.
func Mod(r, a, b *Int) error {
	if CmpInt64(b, 0) <= 0 {
		return ErrInput
	}
	var rem Int
	if err := DivMod(nil, &rem, a, b); err != nil {
		return err
	}
	if rem.Sign() < 0 {
		if err := Add(&rem, &rem, b); err != nil {
			return err
		}
	}
	if CmpAbs(&rem, b) >= 0 {
		if err := Sub(&rem, &rem, b); err != nil {
			return err
		}
	}
	r.Copy(&rem)
	r.sign = 1
	return nil
}
