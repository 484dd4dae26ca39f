package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrPortAllocation means no free local port could be obtained.
	ErrPortAllocation = errors.New("port allocation failed")

	// ErrBind means the file server listener could not be started.
	ErrBind = errors.New("listener bind failed")

	// ErrAgentMissing means the tunnel provider's binary is not installed.
	// It is fatal for the share being started and is never retried.
	ErrAgentMissing = errors.New("tunnel agent binary not found")

	// ErrTunnelSpawn means the tunnel agent process failed to start.
	ErrTunnelSpawn = errors.New("tunnel agent spawn failed")

	// ErrAuth indicates a bad bearer token or share password.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimited is returned when a connection is dropped because the
	// share is at its concurrent-connection ceiling.
	ErrRateLimited = errors.New("connection limit exceeded")

	// ErrRequestTimeout means a peer connection exceeded its time budget
	// and was abandoned.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrShareNotFound means the requested share ID does not exist.
	ErrShareNotFound = errors.New("share not found")
)

// ShareError wraps an underlying error with share context.
type ShareError struct {
	ShareID string
	Op      string
	Err     error
}

func (e *ShareError) Error() string {
	if e.ShareID != "" {
		return fmt.Sprintf("share %s: %s: %v", e.ShareID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ShareError) Unwrap() error {
	return e.Err
}
