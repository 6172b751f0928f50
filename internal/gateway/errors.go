package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies a per-entity transport failure.
type Kind int

const (
	OtherHTTP Kind = iota
	Forbidden
	NotFound
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case RateLimited:
		return "rate_limited"
	default:
		return "http_error"
	}
}

var (
	// ErrFatal marks authentication and connection failures. A run that
	// sees one stops.
	ErrFatal = errors.New("fatal transport failure")
	// ErrUnsupported is returned for operations the target cannot perform.
	ErrUnsupported = errors.New("operation not supported")
)

// TransportError is a non-fatal failure of a single remote call.
type TransportError struct {
	Kind   Kind
	Status int
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FatalError wraps a failure that invalidates the whole session.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}

// IsFatal reports whether err should abort a run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// KindOf returns the transport kind of err, if it is a TransportError.
func KindOf(err error) (Kind, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return OtherHTTP, false
}

// IsForbidden reports whether err is a permission failure.
func IsForbidden(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Forbidden
}

// KindForStatus maps an HTTP status to a transport kind.
func KindForStatus(status int) Kind {
	switch status {
	case 403:
		return Forbidden
	case 404:
		return NotFound
	case 429:
		return RateLimited
	default:
		return OtherHTTP
	}
}
