package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or incompatible snapshot data.
	ErrValidation = errors.New("validation failed")
	// ErrStorage marks unreadable or corrupt snapshot files.
	ErrStorage = errors.New("snapshot storage error")
)

// ValidationError describes one shape or invariant violation.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps an I/O or decode failure for a snapshot file.
type StorageError struct {
	Path string
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s snapshot %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
