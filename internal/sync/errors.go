package sync

import (
	"errors"
	"fmt"
)

// ErrorKind tags an engine error with its failure class. The kinds mirror
// the surface a UI needs to distinguish: connectivity problems, local or
// remote I/O, policy violations, bad input, and cooperative cancellation.
type ErrorKind int

// Error kinds, from transient to caller-fault.
const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindStorage
	KindSync
	KindValidation
	KindCancelled
)

// String returns the lowercase kind name for logs and error maps.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindStorage:
		return "storage"
	case KindSync:
		return "sync"
	case KindValidation:
		return "validation"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a kind and a stable machine-readable
// code. Use errors.As to recover it, or KindOf for just the kind.
type Error struct {
	Kind ErrorKind
	Code string // e.g. "paused", "sync_in_progress"
	Msg  string
	Err  error // wrapped cause, for errors.Is()
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel errors for policy checks. Use errors.Is(err, sync.ErrPaused).
var (
	ErrPaused            = errors.New("sync is paused")
	ErrSyncInProgress    = errors.New("a sync pass is already running")
	ErrNoPendingConflict = errors.New("no pending conflict for path")
	ErrRemoteNotFound    = errors.New("remote object not found")
	ErrCancelled         = errors.New("operation cancelled")
)

// KindOf extracts the ErrorKind from err, walking the wrap chain.
// Plain context cancellation maps to KindCancelled.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}

	return KindUnknown
}

// networkErr wraps err as a connectivity failure.
func networkErr(msg string, err error) *Error {
	return &Error{Kind: KindNetwork, Code: "network", Msg: msg, Err: err}
}

// NetworkError wraps err as a connectivity failure. Exported for backend
// implementations living outside this package.
func NetworkError(msg string, err error) error {
	return networkErr(msg, err)
}

// StorageError wraps err as an I/O failure. Exported for backend
// implementations living outside this package.
func StorageError(msg string, err error) error {
	return storageErr(msg, err)
}

// storageErr wraps err as a local or remote I/O failure. The cause is
// carried undecorated so callers can still reach the driver error.
func storageErr(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Code: "storage", Msg: msg, Err: err}
}

// syncErr builds a policy-violation error around a sentinel cause.
func syncErr(code, msg string, cause error) *Error {
	return &Error{Kind: KindSync, Code: code, Msg: msg, Err: cause}
}

// validationErr reports rejected input.
func validationErr(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Msg: msg}
}

// cancelledErr wraps a context cancellation as a cooperative abort.
func cancelledErr(msg string, cause error) *Error {
	return &Error{Kind: KindCancelled, Code: "cancelled", Msg: msg, Err: errors.Join(ErrCancelled, cause)}
}
