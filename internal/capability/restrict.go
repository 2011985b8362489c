package capability

// Slice narrows a range capability to [begin, end). Only capabilities with
// nothing allocated (Free == Begin) can be sliced; memory can additionally
// drop access bits.
func Slice(c Capability, begin, end uint64, rwx RWX) (Capability, bool) {
	switch c := c.(type) {
	case Memory:
		if c.PMP || c.Free != c.Begin || !within(uint64(c.Begin), uint64(c.End), begin, end) || !rwx.Subset(c.RWX) {
			return nil, false
		}
		return Memory{Begin: uint32(begin), End: uint32(end), Free: uint32(begin), RWX: rwx}, true
	case Time:
		if c.Free != c.Begin || !within(uint64(c.Begin), uint64(c.End), begin, end) {
			return nil, false
		}
		c.Begin, c.End, c.Free = uint16(begin), uint16(end), uint16(begin)
		return c, true
	case Channels:
		if c.Free != c.Begin || !within(uint64(c.Begin), uint64(c.End), begin, end) {
			return nil, false
		}
		return Channels{Begin: uint16(begin), End: uint16(end), Free: uint16(begin)}, true
	}
	return nil, false
}

// Split cuts an unallocated range capability at mid into [Begin, mid) and
// [mid, End). Both halves keep the original's depth and access bits.
func Split(c Capability, mid uint64) (left, right Capability, ok bool) {
	switch c := c.(type) {
	case Memory:
		if c.PMP || c.Free != c.Begin || mid <= uint64(c.Begin) || mid >= uint64(c.End) {
			return nil, nil, false
		}
		l, r := c, c
		l.End = uint32(mid)
		r.Begin, r.Free = uint32(mid), uint32(mid)
		return l, r, true
	case Time:
		if c.Free != c.Begin || mid <= uint64(c.Begin) || mid >= uint64(c.End) {
			return nil, nil, false
		}
		l, r := c, c
		l.End = uint16(mid)
		r.Begin, r.Free = uint16(mid), uint16(mid)
		return l, r, true
	case Channels:
		if c.Free != c.Begin || mid <= uint64(c.Begin) || mid >= uint64(c.End) {
			return nil, nil, false
		}
		l, r := c, c
		l.End = uint16(mid)
		r.Begin, r.Free = uint16(mid), uint16(mid)
		return l, r, true
	}
	return nil, nil, false
}

func within(pbegin, pend, begin, end uint64) bool {
	return pbegin <= begin && begin < end && end <= pend
}
