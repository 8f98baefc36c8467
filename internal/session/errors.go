package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExists is returned by Start when the connection already owns
	// a live session.
	ErrSessionExists = errors.New("connection already has an active session")
	// ErrNoSession is returned when the connection owns no session.
	ErrNoSession = errors.New("no session for connection")
	// ErrSessionMismatch is returned when a command names a session the
	// connection does not own.
	ErrSessionMismatch = errors.New("session does not belong to connection")
	ErrInvalidMode     = errors.New("invalid capture mode")
	ErrInvalidChunk    = errors.New("invalid audio chunk")
	// ErrStaleState rejects chunks that arrive while a session is paused.
	ErrStaleState       = errors.New("session is paused")
	ErrUploadTooLarge   = errors.New("upload exceeds size limit")
	ErrExtractionFailed = errors.New("audio extraction failed")
	ErrPersistence      = errors.New("persistence failure")

	ErrInvalidTransition = errors.New("invalid state transition")
)

// TransitionError reports a command that is not legal in the session's
// current state. It matches ErrInvalidTransition.
type TransitionError struct {
	From    State
	Command Command
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a session that is %s", e.Command, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Error codes carried by error events.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeInvalidState   = "invalid_state"
	CodeStaleState     = "stale_state"
	CodeSizeLimit      = "size_limit"
	CodePersistence    = "persistence"
	CodeExtraction     = "extraction"
	CodeNotFound       = "not_found"
)

// ErrorCode maps an error returned by the Manager to its client-facing code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUploadTooLarge):
		return CodeSizeLimit
	case errors.Is(err, ErrStaleState):
		return CodeStaleState
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionExists):
		return CodeInvalidState
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrSessionMismatch):
		return CodeNotFound
	case errors.Is(err, ErrExtractionFailed):
		return CodeExtraction
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInvalidPayload
	}
}
