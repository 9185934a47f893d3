package model

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument marks a rejected caller parameter (bad limit, unknown
// dimension, ...). It is raised before any processing starts.
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidArgumentf returns an error wrapping ErrInvalidArgument.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// StorageError reports an unavailable or corrupt record store. It is fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError; nil stays nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
