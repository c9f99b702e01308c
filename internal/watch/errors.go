package watch

import "errors"

var (
	// ErrPersistence wraps any failure to durably commit a graph mutation.
	// The in-memory graph is unchanged when it is returned.
	ErrPersistence = errors.New("watch graph not persisted")
	ErrMalformedID = errors.New("malformed identifier")
	ErrQueueFull   = errors.New("dispatch queue full")
	ErrStopped     = errors.New("monitor stopped")
)

// Outcome is the result of a graph mutation or a dispatch attempt.
// Non-error no-ops (AlreadyPresent, NotFound) are outcomes, not errors.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	Added
	AlreadyPresent
	Removed
	NotFound
	Sent
	Suppressed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	case Removed:
		return "removed"
	case NotFound:
		return "not_found"
	case Sent:
		return "sent"
	case Suppressed:
		return "suppressed"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}
