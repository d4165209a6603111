package mpi

// SafeCondAssign sets X = Y if assign != 0, else leaves X unchanged, in
// time independent of assign. Both operands must already have equal
// limb capacity in the caller's intended use (the Montgomery ladder
// keeps its two accumulators the same size); this copies up to the
// longer of the two and masks limb-by-limb rather than branching.
func SafeCondAssign(x, y *Int, assign uint8) error {
	flag := condMask(assign)

	n := len(x.limb)
	if len(y.limb) > n {
		n = len(y.limb)
	}
	if err := x.grow(n); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		xi := x.limbAt(i)
		yi := y.limbAt(i)
		x.limb[i] = xi ^ (flag & (xi ^ yi))
	}

	sx, sy := uint64(x.sign), uint64(y.sign)
	x.sign = int8(sx ^ (flag & (sx ^ sy)))
	x.fixup()
	return nil
}

// SafeCondSwap exchanges X and Y if swap != 0, else leaves both
// unchanged, in time independent of swap.
func SafeCondSwap(x, y *Int, swap uint8) error {
	flag := condMask(swap)

	n := len(x.limb)
	if len(y.limb) > n {
		n = len(y.limb)
	}
	if err := x.grow(n); err != nil {
		return err
	}
	if err := y.grow(n); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		xi, yi := x.limb[i], y.limb[i]
		t := flag & (xi ^ yi)
		x.limb[i] = xi ^ t
		y.limb[i] = yi ^ t
	}

	sx, sy := uint64(x.sign), uint64(y.sign)
	t := flag & (sx ^ sy)
	x.sign = int8(sx ^ t)
	y.sign = int8(sy ^ t)
	x.fixup()
	y.fixup()
	return nil
}

// condMask turns a 0/1 flag into an all-zero or all-one uint64 mask:
// (f|-f)>>(W-1) normalizes any nonzero f to 1, then negation spreads
// that single bit across the whole word, avoiding a data-dependent
// branch.
func condMask(f uint8) uint64 {
	v := uint64(f)
	norm := (v | -v) >> (W - 1)
	return -norm
}
