package notes

import (
	"errors"
	"fmt"
)

// ErrNoteNotFound indicates the referenced note does not exist.
var ErrNoteNotFound = errors.New("notes: note not found")

// VersionConflictError reports an optimistic concurrency failure. It
// carries the current authoritative record so the caller can re-derive
// its patch and retry explicitly; the store never retries on its own.
type VersionConflictError struct {
	ExpectedVersion int64
	Current         Note
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("notes: version conflict on %s: expected %d, stored %d",
		e.Current.NoteID, e.ExpectedVersion, e.Current.Version)
}

// StorageError wraps a durable-storage failure with an operation.reason
// code. Operations are version-checked, so callers may retry with
// backoff after a StorageError.
type StorageError struct {
	code string
	err  error
}

func (e *StorageError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StorageError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code for the failure.
func (e *StorageError) Code() string {
	return e.code
}

func newStorageError(operation, reason string, cause error) error {
	return &StorageError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
