package vfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/shatterbird/birdfs/pkg/client"
)

// Error is one of the failure kinds a filesystem operation can report.
type Error struct {
	msg string
	std error
}

func (e *Error) Error() string {
	return e.msg
}

// Is lets ErrNotFound match fs.ErrNotExist and ErrReadOnly match
// fs.ErrPermission.
func (e *Error) Is(target error) bool {
	return e.std != nil && target == e.std
}

var (
	// ErrNotFound: unknown commit, missing path segment or missing blob.
	ErrNotFound = &Error{msg: "no such file or directory", std: fs.ErrNotExist}
	// ErrNotADirectory: descending through or listing a non-directory.
	ErrNotADirectory = &Error{msg: "not a directory"}
	// ErrIsADirectory: reading content at a directory.
	ErrIsADirectory = &Error{msg: "is a directory"}
	// ErrUnavailable: unrecognised content variant, or the store could not
	// be reached.
	ErrUnavailable = &Error{msg: "unavailable"}
	// ErrReadOnly: any mutating operation.
	ErrReadOnly = &Error{msg: "read-only file system", std: fs.ErrPermission}
)

// storeError translates an object store error into the vfs taxonomy.
// Cancellation is passed through untouched.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, client.ErrNotFound):
		return ErrNotFound
	case errors.As(err, new(*Error)):
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}
