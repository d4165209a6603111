package mpi

import "math/bits"

// mulAddAcc is the multiply-add-accumulate kernel:
// d[0:n+1] += s[0:n] * b, returning nothing extra because the carry is
// folded directly into d[n]. Callers must ensure d has room for n+1
// limbs from the given offset. Ported from bignum.c's mpi_mul_hlp.
func mulAddAcc(d []uint64, s []uint64, b uint64) {
	var carry uint64
	for i := 0; i < len(s); i++ {
		hi, lo := bits.Mul64(s[i], b)
		lo, c1 := bits.Add64(lo, d[i], 0)
		lo, c2 := bits.Add64(lo, carry, 0)
		d[i] = lo
		carry = hi + c1 + c2
	}
	i := len(s)
	for carry != 0 {
		sum, c := bits.Add64(d[i], carry, 0)
		d[i] = sum
		carry = c
		i++
	}
}

// Mul computes X = A * B (schoolbook, O(n*m)). Any aliasing of X with A
// or B is handled via a temporary copy of the aliased source. The output
// sign is the product of the input signs.
func Mul(x, a, b *Int) error {
	if x == a {
		ac := a.Clone()
		a = ac
	}
	if x == b {
		bc := b.Clone()
		b = bc
	}

	an, bn := a.used(), b.used()
	for an > 1 && a.limbAt(an-1) == 0 {
		an--
	}
	for bn > 1 && b.limbAt(bn-1) == 0 {
		bn--
	}

	res := make([]uint64, an+bn)
	if !a.IsZero() && !b.IsZero() {
		as := a.limb
		if len(as) < an {
			as = append(append([]uint64{}, as...), make([]uint64, an-len(as))...)
		}
		for j := 0; j < bn; j++ {
			bj := b.limbAt(j)
			if bj == 0 {
				continue
			}
			mulAddAcc(res[j:j+an+1], as[:an], bj)
		}
	}

	x.limb = res
	x.sign = a.sign * b.sign
	x.fixup()
	return nil
}

// MulUint computes X = A * b for a single-limb scalar b.
func MulUint(x, a *Int, b uint64) error {
	an := a.used()
	for an > 1 && a.limbAt(an-1) == 0 {
		an--
	}
	res := make([]uint64, an+1)
	if b != 0 && !a.IsZero() {
		as := a.limb
		if len(as) < an {
			as = append(append([]uint64{}, as...), make([]uint64, an-len(as))...)
		}
		mulAddAcc(res, as[:an], b)
	}
	x.limb = res
	x.sign = sgn(a)
	x.fixup()
	return nil
}
