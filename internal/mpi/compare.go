package mpi

// CmpAbs compares |x| to |y|: -1, 0, +1. Not constant time; never apply
// to secret-dependent operands on an exposed code path.
func CmpAbs(x, y *Int) int {
	xn, yn := x.used(), y.used()
	for xn > 1 && x.limbAt(xn-1) == 0 {
		xn--
	}
	for yn > 1 && y.limbAt(yn-1) == 0 {
		yn--
	}
	if xn > yn {
		return 1
	}
	if xn < yn {
		return -1
	}
	for i := xn - 1; i >= 0; i-- {
		a, b := x.limbAt(i), y.limbAt(i)
		if a > b {
			return 1
		}
		if a < b {
			return -1
		}
	}
	return 0
}

// Cmp compares the signed values of x and y, returning the sign of
// (x - y). Canonical zero compares equal regardless of stored sign.
func Cmp(x, y *Int) int {
	xz, yz := x.IsZero(), y.IsZero()
	if xz && yz {
		return 0
	}
	xs, ys := x.Sign(), y.Sign()
	if xz {
		xs = 1
	}
	if yz {
		ys = 1
	}
	if xs > 0 && ys < 0 {
		return 1
	}
	if xs < 0 && ys > 0 {
		return -1
	}
	c := CmpAbs(x, y)
	if xs < 0 {
		return -c
	}
	return c
}

// CmpInt64 compares x against the signed value z.
func CmpInt64(x *Int, z int64) int {
	var t Int
	t.SetInt64(z)
	return Cmp(x, &t)
}
