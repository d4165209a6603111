package mpi

// ShiftL computes X = X * 2^count in place. Not required to be constant
// time.
func (x *Int) ShiftL(count int) error {
	if count <= 0 {
		return nil
	}
	oldBits := x.BitLen()
	newLimbs := (oldBits + count + W - 1) / W
	if newLimbs < 1 {
		newLimbs = 1
	}
	if err := x.grow(newLimbs); err != nil {
		return err
	}

	limbShift := count / W
	bitShift := uint(count % W)

	if limbShift > 0 {
		for i := len(x.limb) - 1; i >= 0; i-- {
			if i-limbShift >= 0 {
				x.limb[i] = x.limb[i-limbShift]
			} else {
				x.limb[i] = 0
			}
		}
	}
	if bitShift > 0 {
		carry := uint64(0)
		for i := 0; i < len(x.limb); i++ {
			next := x.limb[i] >> (W - bitShift)
			x.limb[i] = (x.limb[i] << bitShift) | carry
			carry = next
		}
	}
	x.fixup()
	return nil
}

// ShiftR computes X = X / 2^count in place (floor division). A value
// smaller than 2^count yields canonical zero.
func (x *Int) ShiftR(count int) {
	if count <= 0 {
		return
	}
	limbShift := count / W
	bitShift := uint(count % W)
	n := len(x.limb)

	if limbShift >= n {
		x.limb = x.limb[:0]
		x.fixup()
		return
	}

	if limbShift > 0 {
		copy(x.limb, x.limb[limbShift:])
		for i := n - limbShift; i < n; i++ {
			x.limb[i] = 0
		}
	}
	if bitShift > 0 {
		carry := uint64(0)
		for i := n - limbShift - 1; i >= 0; i-- {
			next := x.limb[i] << (W - bitShift)
			x.limb[i] = (x.limb[i] >> bitShift) | carry
			carry = next
		}
	}
	x.fixup()
}
