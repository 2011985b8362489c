package capability

// IsChild reports whether child lies entirely within parent's resources.
//
// It is the topology predicate: revoke uses it to decide which of a node's
// list successors are its descendants, so it must hold for every descendant
// regardless of how it was allocated. Undefined type pairs are never
// children.
func IsChild(parent, child Capability) bool {
	switch p := parent.(type) {
	case Memory:
		switch c := child.(type) {
		case Memory:
			return p.Begin <= c.Begin && c.End <= p.End && c.RWX.Subset(p.RWX)
		case PMP:
			return napotWithin(c.Addr, uint64(p.Begin), uint64(p.End)) && c.RWX.Subset(p.RWX)
		case LoadedPMP:
			return napotWithin(c.Addr, uint64(p.Begin), uint64(p.End))
		}
	case PMP:
		if c, ok := child.(LoadedPMP); ok {
			return c.Addr == p.Addr
		}
	case Time:
		if c, ok := child.(Time); ok {
			return c.Hart == p.Hart && p.Begin <= c.Begin && c.End <= p.End && c.Depth > p.Depth
		}
	case Channels:
		switch c := child.(type) {
		case Channels:
			return p.Begin <= c.Begin && c.End <= p.End
		case Receiver:
			return p.Begin <= c.Channel && c.Channel < p.End
		case Sender:
			return p.Begin <= c.Channel && c.Channel < p.End
		}
	case Receiver:
		if c, ok := child.(Sender); ok {
			return c.Channel == p.Channel
		}
	case Supervisor:
		if c, ok := child.(Supervisor); ok {
			return p.Begin <= c.Begin && c.End <= p.End
		}
	}
	return false
}

// CanDerive reports whether child may be derived from parent right now.
//
// Range-shaped children must be carved from the front of the parent's free
// region (child.Begin == parent.Free) and start out with nothing allocated
// (child.Free == child.Begin), so siblings never overlap and no sibling scan
// is needed. This is the only gate for derive_cap and must be checked before
// any table mutation.
func CanDerive(parent, child Capability) bool {
	switch p := parent.(type) {
	case Memory:
		switch c := child.(type) {
		case Memory:
			return !p.PMP && !c.PMP &&
				bump(uint64(p.Free), uint64(p.End), uint64(c.Begin), uint64(c.End), uint64(c.Free)) &&
				c.RWX.Subset(p.RWX)
		case PMP:
			return napotWithin(c.Addr, uint64(p.Free), uint64(p.End)) && c.RWX.Subset(p.RWX)
		}
	case Time:
		if c, ok := child.(Time); ok {
			return c.Hart == p.Hart && c.Depth > p.Depth &&
				bump(uint64(p.Free), uint64(p.End), uint64(c.Begin), uint64(c.End), uint64(c.Free))
		}
	case Channels:
		switch c := child.(type) {
		case Channels:
			return bump(uint64(p.Free), uint64(p.End), uint64(c.Begin), uint64(c.End), uint64(c.Free))
		case Receiver:
			return c.Channel == p.Free && p.Free < p.End
		}
	case Receiver:
		if c, ok := child.(Sender); ok {
			return c.Channel == p.Channel
		}
	case Supervisor:
		if c, ok := child.(Supervisor); ok {
			return bump(uint64(p.Free), uint64(p.End), uint64(c.Begin), uint64(c.End), uint64(c.Free))
		}
	}
	return false
}

func bump(pfree, pend, begin, end, free uint64) bool {
	return begin == pfree && begin < end && end <= pend && free == begin
}

// AfterDerive returns the parent's value once child has been derived from
// it. The caller must have checked CanDerive.
func AfterDerive(parent, child Capability) Capability {
	switch p := parent.(type) {
	case Memory:
		switch c := child.(type) {
		case Memory:
			p.Free = c.End
		case PMP:
			p.PMP = true
		}
		return p
	case Time:
		p.Free = child.(Time).End
		return p
	case Channels:
		switch c := child.(type) {
		case Channels:
			p.Free = c.End
		case Receiver:
			p.Free = c.Channel + 1
		}
		return p
	case Supervisor:
		p.Free = child.(Supervisor).End
		return p
	}
	return parent
}

// AfterRevoke returns the parent's value once all its children are gone:
// the free boundary returns to the start of the range.
func AfterRevoke(c Capability) Capability {
	switch c := c.(type) {
	case Memory:
		c.Free, c.PMP = c.Begin, false
		return c
	case Time:
		c.Free = c.Begin
		return c
	case Channels:
		c.Free = c.Begin
		return c
	case Supervisor:
		c.Free = c.Begin
		return c
	}
	return c
}

// WellFormed reports whether range-shaped capabilities satisfy
// begin <= free <= end.
func WellFormed(c Capability) bool {
	switch c := c.(type) {
	case Memory:
		return c.Begin <= c.Free && c.Free <= c.End
	case Time:
		return c.Begin <= c.Free && c.Free <= c.End
	case Channels:
		return c.Begin <= c.Free && c.Free <= c.End
	case Supervisor:
		return c.Begin <= c.Free && c.Free <= c.End
	}
	return true
}
