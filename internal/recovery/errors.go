package recovery

import "errors"

var (
	// ErrUnauthenticated means the webhook could not be tied to a merchant secret.
	ErrUnauthenticated = errors.New("webhook not authenticated")
	// ErrMalformed means the webhook body could not be understood.
	ErrMalformed = errors.New("malformed webhook payload")
	// ErrStoreUnavailable means state could not be read or written. The gateway
	// should retry the delivery.
	ErrStoreUnavailable = errors.New("event store unavailable")
)

// IngestError carries one of the sentinel kinds above plus the underlying cause.
type IngestError struct {
	Kind error
	Err  error
}

func (e *IngestError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *IngestError) Unwrap() error { return e.Err }

// Is matches the kind, so errors.Is(err, ErrMalformed) works on wrapped errors.
func (e *IngestError) Is(target error) bool { return target == e.Kind }

func ingestErr(kind, err error) error {
	return &IngestError{Kind: kind, Err: err}
}
