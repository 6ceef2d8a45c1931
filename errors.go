package goftp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a reconnect is needed but Connect
	// was never called.
	ErrNotConnected = errors.New("not connected")

	// ErrQueueClosed is returned for work submitted after Close.
	ErrQueueClosed = errors.New("task queue closed")

	// ErrTaskPanicked wraps a panic recovered from a queued task.
	ErrTaskPanicked = errors.New("task panicked")

	// ErrPoolClosed is returned by GetOrCreate once the Pool is closed.
	ErrPoolClosed = errors.New("pool closed")
)

// ConnectionError reports an authentication or network failure while
// opening or rebuilding the session.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransferError reports an upload or download that failed after the
// reconnect-and-retry attempt.
type TransferError struct {
	Op   string // "download" or "upload"
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ListingError reports that every listing strategy failed for Path.
type ListingError struct {
	Path string
	Err  error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("failed to list %s: %v", e.Path, e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

// FilesystemError reports a local directory creation or file write failure.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
