package counting

type Kind int

const (
	Ignored Kind = iota
	Accepted
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "ignored"
	}
}

type IgnoreReason int

const (
	ReasonNone IgnoreReason = iota
	ReasonNotReady
	ReasonNotConfigured
	ReasonDisabled
	ReasonNotNumeric
)

func (r IgnoreReason) String() string {
	switch r {
	case ReasonNotReady:
		return "not_ready"
	case ReasonNotConfigured:
		return "not_configured"
	case ReasonDisabled:
		return "disabled"
	case ReasonNotNumeric:
		return "not_numeric"
	default:
		return "none"
	}
}

type Violation int

const (
	ViolationNone Violation = iota
	// ViolationSequence is a value other than the next expected one.
	ViolationSequence
	// ViolationAuthorRepeat is the right value from the author of the previous count.
	ViolationAuthorRepeat
)

func (v Violation) String() string {
	switch v {
	case ViolationSequence:
		return "sequence"
	case ViolationAuthorRepeat:
		return "author_repeat"
	default:
		return "none"
	}
}

// Signal tells the transport how to acknowledge a submission. The moderator
// never talks to the chat platform itself.
type Signal struct {
	Kind   Kind
	Reason IgnoreReason

	// Accepted
	Value     int64
	Milestone bool

	// Rejected
	Expected  int64
	Violation Violation
	DidReset  bool
}

func ignored(reason IgnoreReason) Signal {
	return Signal{Kind: Ignored, Reason: reason}
}

func accepted(value int64, milestone bool) Signal {
	return Signal{Kind: Accepted, Value: value, Milestone: milestone}
}

func rejected(expected int64, violation Violation, didReset bool) Signal {
	return Signal{Kind: Rejected, Expected: expected, Violation: violation, DidReset: didReset}
}
