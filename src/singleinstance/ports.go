package singleinstance

const (
	DefaultPortStart = 49500
	DefaultPortEnd   = 49550
)

// PortRange is the inclusive loopback port range scanned for a resident.
// Only Start is ever bound.
type PortRange struct {
	Start int
	End   int
}

func DefaultPortRange() PortRange { return PortRange{Start: DefaultPortStart, End: DefaultPortEnd} }

// normalized falls back to defaults for unset values and clamps to [1024, 65535].
func (r PortRange) normalized() PortRange {
	if r.Start == 0 {
		r.Start = DefaultPortStart
	}
	if r.End == 0 {
		r.End = DefaultPortEnd
	}
	if r.Start < 1024 {
		r.Start = 1024
	}
	if r.End > 65535 {
		r.End = 65535
	}
	if r.End < r.Start {
		r.Start, r.End = r.End, r.Start
	}
	return r
}
