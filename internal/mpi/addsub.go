package mpi

import "math/bits"

// AddAbs computes X = |A| + |B| by ripple carry. X may alias A or B.
func AddAbs(x, a, b *Int) error {
	if CmpAbs(a, b) < 0 {
		a, b = b, a
	}
	an := a.used()
	for an > 1 && a.limbAt(an-1) == 0 {
		an--
	}
	if err := x.reserve(an + 1); err != nil {
		return err
	}

	res := make([]uint64, an+1)
	var carry uint64
	for i := 0; i < an; i++ {
		s, c1 := bits.Add64(a.limbAt(i), b.limbAt(i), carry)
		res[i] = s
		carry = c1
	}
	res[an] = carry

	x.limb = res
	x.sign = 1
	x.fixup()
	return nil
}

// SubAbs computes X = |A| - |B|. Requires |A| >= |B|; returns ErrInput
// otherwise. X may alias A or B.
func SubAbs(x, a, b *Int) error {
	if CmpAbs(a, b) < 0 {
		return ErrInput
	}
	an := a.used()
	for an > 1 && a.limbAt(an-1) == 0 {
		an--
	}
	res := make([]uint64, an)
	var borrow uint64
	for i := 0; i < an; i++ {
		d, b1 := bits.Sub64(a.limbAt(i), b.limbAt(i), borrow)
		res[i] = d
		borrow = b1
	}
	x.limb = res
	x.sign = 1
	x.fixup()
	return nil
}

// Add computes X = A + B with correct signed semantics: the magnitude
// case is selected from the operand signs, and the result carries the
// sign of the larger magnitude (or + in the exact-cancellation case).
func Add(x, a, b *Int) error {
	as, bs := sgn(a), sgn(b)
	if as*bs >= 0 {
		if err := AddAbs(x, a, b); err != nil {
			return err
		}
		if as < 0 && !x.IsZero() {
			x.sign = -1
		}
		return nil
	}
	// opposite signs: subtract the smaller magnitude from the larger.
	if CmpAbs(a, b) >= 0 {
		if err := SubAbs(x, a, b); err != nil {
			return err
		}
		if as < 0 && !x.IsZero() {
			x.sign = -1
		}
		return nil
	}
	if err := SubAbs(x, b, a); err != nil {
		return err
	}
	if bs < 0 && !x.IsZero() {
		x.sign = -1
	}
	return nil
}

// Sub computes X = A - B.
func Sub(x, a, b *Int) error {
	nb := b.Clone()
	nb.sign = -sgn(b)
	if nb.IsZero() {
		nb.sign = 1
	}
	return Add(x, a, nb)
}

func sgn(x *Int) int8 {
	if x.IsZero() {
		return 1
	}
	return x.sign
}
