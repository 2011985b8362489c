package capability

import "math/bits"

// MinRegion is the smallest region a NAPOT pmpaddr value can describe.
const MinRegion = 8

// NAPOTEncode returns the pmpaddr value for the naturally aligned
// power-of-two region [base, base+size). ok is false when size is not a power
// of two of at least MinRegion or base is not aligned to size.
func NAPOTEncode(base, size uint64) (addr uint64, ok bool) {
	if size < MinRegion || size&(size-1) != 0 || base&(size-1) != 0 {
		return 0, false
	}
	return (base | (size/2 - 1)) >> 2, true
}

// NAPOTDecode inverts NAPOTEncode.
func NAPOTDecode(addr uint64) (base, size uint64) {
	t := bits.TrailingZeros64(^addr)
	if t >= 61 {
		// Whole address space.
		return 0, 0
	}
	size = 1 << (t + 3)
	base = (addr &^ (1<<t - 1)) << 2
	return base, size
}

// napotWithin reports whether NAPOT region addr lies inside [begin, end).
func napotWithin(addr uint64, begin, end uint64) bool {
	base, size := NAPOTDecode(addr)
	if size == 0 {
		return false
	}
	return begin <= base && base+size <= end
}
