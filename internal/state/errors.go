package state

import (
	"fmt"
	"strings"
)

// TransitionError reports an illegal state transition attempt. It carries
// the full allowed set so callers can render a helpful message.
type TransitionError struct {
	Kind    Kind
	From    string
	To      string
	Allowed []string
	// Reason is set when the transition was refused by a policy layered
	// above the transition table (e.g. advancing an order without an
	// approved payment), not by the table itself.
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid %s transition from %s to %s: %s", e.Kind, e.From, e.To, e.Reason)
	}
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("invalid %s transition from %s to %s: %s is terminal", e.Kind, e.From, e.To, e.From)
	}
	return fmt.Sprintf("invalid %s transition from %s to %s (allowed: %s)", e.Kind, e.From, e.To, strings.Join(e.Allowed, ", "))
}

// UnknownStateError reports a `from` state that is not present in the
// transition table at all. Defensive: should not occur as long as inputs
// are parsed at the boundary.
type UnknownStateError struct {
	Kind  Kind
	State string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown %s state %q", e.Kind, e.State)
}
