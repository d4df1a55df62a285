package funding

// TriState is a three-valued outcome. The zero value is StateUnknown so
// that a partially populated result never reads as settled or failed.
type TriState int

const (
	// StateUnknown means pending or indeterminate. Callers must keep
	// polling; it is distinct from StateFailed.
	StateUnknown TriState = iota
	StateSettled
	StateFailed
)

func (s TriState) String() string {
	switch s {
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
