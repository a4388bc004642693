package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
)

// Kind categorizes storage errors.
type Kind string

const (
	// KindUnavailable: configuration absent, liveness failed, timeout, or
	// network failure. Recovered by falling back to the cache.
	KindUnavailable Kind = "BACKEND_UNAVAILABLE"

	// KindOperation: a reachable backend rejected a specific call.
	KindOperation Kind = "BACKEND_OPERATION"

	// KindCorruptCache: the local snapshot could not be decoded.
	// Recovered by reseeding bootstrap data.
	KindCorruptCache Kind = "CORRUPT_CACHE"

	// KindPersistenceFailed: no tier accepted a write. Terminal for the operation.
	KindPersistenceFailed Kind = "PERSISTENCE_FAILED"
)

// Error is the single error type of the storage tiers.
type Error struct {
	Kind    Kind
	Backend Backend
	Op      string // "get events", "save task", ...
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Backend != "" {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Backend)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", prefix, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Unavailable builds a KindUnavailable error.
func Unavailable(b Backend, op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Backend: b, Op: op, Err: err}
}

// Operation builds a KindOperation error.
func Operation(b Backend, op string, err error) *Error {
	return &Error{Kind: KindOperation, Backend: b, Op: op, Err: err}
}

// CorruptCache builds a KindCorruptCache error.
func CorruptCache(op string, err error) *Error {
	return &Error{Kind: KindCorruptCache, Backend: BackendLocal, Op: op, Err: err}
}

// PersistenceFailed builds a KindPersistenceFailed error aggregating the
// failure of every tier that was tried.
func PersistenceFailed(op string, causes ...error) *Error {
	var merr *multierror.Error
	for _, c := range causes {
		if c != nil {
			merr = multierror.Append(merr, c)
		}
	}
	return &Error{Kind: KindPersistenceFailed, Op: op, Err: merr.ErrorOrNil()}
}

// Classify turns a raw backend error into an *Error.
// Errors that are already classified pass through untouched. Timeouts,
// cancellations and network errors are Unavailable; anything else is an
// Operation error.
func Classify(b Backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unavailable(b, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Unavailable(b, op, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Unavailable(b, op, err)
	}
	return Operation(b, op, err)
}

// KindOf returns the Kind of a classified error, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsUnavailable reports whether err is a KindUnavailable error.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// IsOperation reports whether err is a KindOperation error.
func IsOperation(err error) bool { return KindOf(err) == KindOperation }

// IsCorruptCache reports whether err is a KindCorruptCache error.
func IsCorruptCache(err error) bool { return KindOf(err) == KindCorruptCache }

// IsPersistenceFailed reports whether err is a KindPersistenceFailed error.
func IsPersistenceFailed(err error) bool { return KindOf(err) == KindPersistenceFailed }
