package fieldsync

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEphemeralURL = errors.New("fieldsync: url is ephemeral and cannot be cached")
	ErrBlobTooLarge = errors.New("fieldsync: blob exceeds cache byte budget")
	ErrQueueFull    = errors.New("fieldsync: operation queue is full")
	ErrClosed       = errors.New("fieldsync: closed")
)

// ErrorKind classifies a backend failure. The kind decides whether the
// coordinator retries an operation or drops it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindNotFound
	KindUnavailable
	KindInvalidArgument
	KindResourceExhausted
	KindDeadlineExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission-denied"
	case KindNotFound:
		return "not-found"
	case KindUnavailable:
		return "unavailable"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindResourceExhausted:
		return "resource-exhausted"
	case KindDeadlineExceeded:
		return "deadline-exceeded"
	default:
		return "unknown"
	}
}

// Permanent reports whether retrying cannot succeed.
// Resource exhaustion counts as permanent for queued writes: the write is abandoned
// and reported instead of retried forever.
func (k ErrorKind) Permanent() bool {
	switch k {
	case KindPermissionDenied, KindNotFound, KindInvalidArgument, KindResourceExhausted:
		return true
	default:
		return false
	}
}

// BackendError is returned by Backend implementations to tell the coordinator
// how to treat a failure.
type BackendError struct {
	Kind ErrorKind
	Err  error
}

func NewBackendError(kind ErrorKind, err error) *BackendError {
	return &BackendError{Kind: kind, Err: err}
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return "backend: " + e.Kind.String()
	}
	return fmt.Sprintf("backend: %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// KindOf classifies err. Context deadlines map to KindDeadlineExceeded;
// errors that carry no kind are KindUnknown (and therefore retried).
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	return KindUnknown
}

// IsPermanent is shorthand for KindOf(err).Permanent().
func IsPermanent(err error) bool {
	return err != nil && KindOf(err).Permanent()
}

// DropError reports a queued operation that was removed without being applied.
type DropError struct {
	Op      Operation
	Retries int
	Err     error
}

func (e *DropError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("dropped %s %s after %d attempts: %v", e.Op.Kind(), e.Op.ID, e.Retries, e.Err)
	}
	return fmt.Sprintf("dropped %s %s: %v", e.Op.Kind(), e.Op.ID, e.Err)
}

func (e *DropError) Unwrap() error { return e.Err }
