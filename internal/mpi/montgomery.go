package mpi

import "math/bits"

// montgSetup computes mm = -N[0]^-1 mod 2^W via Newton-Raphson lifting
// (ttls_mpi_montg_init): each iteration doubles the number of correct
// low bits, so six iterations take the 1 correct bit of x=1 to all 64.
// N must be odd (true of every modulus this package is handed: RSA and
// EC prime moduli are always odd).
func montgSetup(n0 uint64) uint64 {
	x := uint64(1)
	for i := 0; i < 6; i++ {
		x = x * (2 - n0*x)
	}
	return -x
}

// pad returns x's limbs zero-extended (never truncated) to exactly n
// entries, copying so the original is untouched.
func pad(x *Int, n int) []uint64 {
	out := make([]uint64, n)
	copy(out, x.limb)
	return out
}

// montmul computes (a*b*R^-1) mod n where R = 2^(nLimbs*W), via CIOS
// Montgomery multiplication (ttls_mpi_montmul). a and b must already be
// < n; the result is < n. nLimbs is the limb width of n (the Montgomery
// radix's exponent), mm = montgSetup(n.limb[0]).
func montmul(a, b, n []uint64, mm uint64, nLimbs int) []uint64 {
	t := make([]uint64, nLimbs+2)

	for i := 0; i < nLimbs; i++ {
		carry := uint64(0)
		for j := 0; j < nLimbs; j++ {
			hi, lo := bits.Mul64(a[j], b[i])
			lo, c1 := bits.Add64(lo, t[j], 0)
			lo, c2 := bits.Add64(lo, carry, 0)
			t[j] = lo
			carry = hi + c1 + c2
		}
		s, c := bits.Add64(t[nLimbs], carry, 0)
		t[nLimbs] = s
		t[nLimbs+1] += c

		m := t[0] * mm
		carry = 0
		for j := 0; j < nLimbs; j++ {
			hi, lo := bits.Mul64(n[j], m)
			lo, c1 := bits.Add64(lo, t[j], 0)
			lo, c2 := bits.Add64(lo, carry, 0)
			t[j] = lo
			carry = hi + c1 + c2
		}
		s, c = bits.Add64(t[nLimbs], carry, 0)
		t[nLimbs] = s
		t[nLimbs+1] += c

		copy(t[0:nLimbs+1], t[1:nLimbs+2])
		t[nLimbs+1] = 0
	}

	result := t[:nLimbs]
	sub := make([]uint64, nLimbs)
	borrow := uint64(0)
	for j := 0; j < nLimbs; j++ {
		d, b1 := bits.Sub64(result[j], n[j], borrow)
		sub[j] = d
		borrow = b1
	}
	// result spans at most nLimbs+1 limbs (bounded < 2N); if that top
	// limb is set, or the plain subtraction didn't borrow, N fit inside
	// and the reduced value is sub.
	needSub := t[nLimbs] != 0 || borrow == 0
	mask := uint64(0)
	if needSub {
		mask = ^uint64(0)
	}
	out := make([]uint64, nLimbs)
	for j := 0; j < nLimbs; j++ {
		out[j] = (result[j] &^ mask) | (sub[j] & mask)
	}
	return out
}

// MaxWindow is the largest sliding-window width exp_mod ever selects
// (ECP_WINDOW_SIZE); wpool sizes its per-worker table to 1<<MaxWindow
// so ExpModPooled's table slots always fit.
const MaxWindow = 6

// windowSize picks the sliding-window width from the exponent's bit
// length, matching ttls_mpi_exp_mod's thresholds.
func windowSize(bitlen int) int {
	switch {
	case bitlen <= 23:
		return 1
	case bitlen <= 79:
		return 3
	case bitlen <= 239:
		return 4
	case bitlen <= 671:
		return 5
	default:
		return 6
	}
}

// ExpMod computes X = A^E mod N by sliding-window Montgomery
// exponentiation (ttls_mpi_exp_mod). N must be positive and odd. A
// negative A is first normalized into its non-negative representative
// mod N. rr may be a caller-supplied precomputed R^2 mod N; if nil it
// is computed here.
func ExpMod(x, a, e, n *Int, rr *Int) error {
	return expMod(x, a, e, n, rr, nil)
}

// ExpModPooled is ExpMod but also copies its sliding-window table into
// the caller-supplied scratch (normally a wpool slot's table). The
// table entries are still freshly allocated on every call; the scratch
// receives a copy of them. table must have at least 1<<MaxWindow
// entries; only the first 1<<(w-1) are written, where w is chosen by
// windowSize(e.BitLen()).
func ExpModPooled(x, a, e, n, rr *Int, table *[1 << MaxWindow]Int) error {
	return expMod(x, a, e, n, rr, table)
}

func expMod(x, a, e, n, rr *Int, pooled *[1 << MaxWindow]Int) error {
	if CmpInt64(n, 0) <= 0 || n.GetBit(0) == 0 {
		return ErrInput
	}
	if CmpInt64(e, 0) < 0 {
		return ErrInput
	}

	nLimbs := n.used()
	for nLimbs > 1 && n.limbAt(nLimbs-1) == 0 {
		nLimbs--
	}
	mm := montgSetup(n.limbAt(0))
	nPad := pad(n, nLimbs)

	var base Int
	if err := Mod(&base, a, n); err != nil {
		return err
	}

	if rr == nil {
		rr = new(Int)
		rr.SetInt64(1)
		if err := rr.ShiftL(2 * nLimbs * W); err != nil {
			return err
		}
		if err := Mod(rr, rr, n); err != nil {
			return err
		}
	}
	rrPad := pad(rr, nLimbs)

	one := new(Int).SetInt64(1)
	monOne := montmul(pad(one, nLimbs), rrPad, nPad, mm, nLimbs)

	baseMon := montmul(pad(&base, nLimbs), rrPad, nPad, mm, nLimbs)

	ebits := e.BitLen()
	if ebits == 0 {
		x.SetInt64(1)
		return Mod(x, x, n)
	}
	w := windowSize(ebits)
	tableSize := 1 << uint(w-1)

	table := make([][]uint64, tableSize)
	table[0] = append([]uint64{}, baseMon...)
	if tableSize > 1 {
		sq := montmul(baseMon, baseMon, nPad, mm, nLimbs)
		for i := 1; i < tableSize; i++ {
			table[i] = montmul(table[i-1], sq, nPad, mm, nLimbs)
		}
	}
	if pooled != nil {
		for i := 0; i < tableSize; i++ {
			pooled[i].limb = append(pooled[i].limb[:0], table[i]...)
			pooled[i].sign = 1
		}
	}

	acc := append([]uint64{}, monOne...)

	i := ebits - 1
	for i >= 0 {
		if e.GetBit(i) == 0 {
			acc = montmul(acc, acc, nPad, mm, nLimbs)
			i--
			continue
		}
		l := i - w + 1
		if l < 0 {
			l = 0
		}
		for e.GetBit(l) == 0 {
			l++
		}
		for j := i; j >= l; j-- {
			acc = montmul(acc, acc, nPad, mm, nLimbs)
		}
		value := 0
		for j := i; j >= l; j-- {
			value = value<<1 | e.GetBit(j)
		}
		idx := (value - 1) / 2
		acc = montmul(acc, table[idx], nPad, mm, nLimbs)
		i = l - 1
	}

	onePad := make([]uint64, nLimbs)
	onePad[0] = 1
	resLimbs := montmul(acc, onePad, nPad, mm, nLimbs)

	x.limb = resLimbs
	x.sign = 1
	x.fixup()
	return nil
}
