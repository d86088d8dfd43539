package platform

import (
	"errors"
	"fmt"
)

// Error kinds adapters surface to the executor. Each maps to one policy in
// the sync loop, so adapters must wrap the right sentinel rather than
// returning bare transport errors.
var (
	// ErrUnauthorized halts the direction; the driver tells the operator
	// to refresh credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited means the platform itself turned us away.
	ErrRateLimited = errors.New("rate limited by platform")

	// ErrNoOriginalFile marks manual activities with nothing to download.
	ErrNoOriginalFile = errors.New("no original file")

	// ErrNotFound is permanent for the activity.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported marks operations a platform doesn't offer (OneDrive
	// cannot list activities).
	ErrUnsupported = errors.New("operation not supported")
)

// TransportError wraps network faults and timeouts. The executor keeps the
// activity pending and retries on a later run.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError.
func Transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// IsTransient reports whether err should be retried on a later run.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
