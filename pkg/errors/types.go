package errors

import (
	"fmt"
)

// ErrFileChanged occurs when a file's contents after a transfer don't match
// the hash that was advertised for it. The received artifact must be
// discarded and never installed.
var ErrFileChanged = New("file contents changed during sync")

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// HashMismatchError is the post-transfer integrity failure for a named font.
// The artifact carrying the wrong bytes has already been discarded by the
// time this error surfaces.
type HashMismatchError struct {
	Name     string
	Expected string
	Actual   string
}

func (err HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %q: expected %s, got %s",
		err.Name, err.Expected, err.Actual)
}

// HeartbeatTimeoutError occurs when a session hasn't shown any liveness
// signal within the configured timeout. The session is presumed dead and
// removed from the registry.
type HeartbeatTimeoutError struct {
	SessionID string
}

func (err HeartbeatTimeoutError) Error() string {
	return fmt.Sprintf("session %s heartbeat timed out", err.SessionID)
}

// ConflictUnresolvedError occurs when an interactive conflict policy
// couldn't get an answer. Callers must treat it as Skip, never Overwrite.
type ConflictUnresolvedError struct {
	Name string
}

func (err ConflictUnresolvedError) Error() string {
	return fmt.Sprintf("conflict for %q was not resolved", err.Name)
}
