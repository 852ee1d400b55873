// internal/game/errors.go
package game

import (
	"errors"
	"fmt"

	"github.com/jason-s-yu/mazerush/internal/session"
)

// Kind classifies a rejected command.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotActive  Kind = "not_active"
	KindNotFound   Kind = "not_found"
	KindCapacity   Kind = "capacity"
	KindConflict   Kind = "conflict"
	KindTransport  Kind = "transport"
)

// Error is returned by every Service operation that rejects a command.
// Err, when set, is the underlying sentinel (for example maze.ErrBlocked)
// and stays reachable through errors.Is.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind with an empty or equal Reason,
// so callers can test errors.Is(err, ErrFrozen).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

func validationError(reason string, err error) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Err: err}
}

// Sentinels for comparisons with errors.Is.
var (
	ErrMissingName     = &Error{Kind: KindValidation, Reason: "missing display name"}
	ErrFrozen          = &Error{Kind: KindValidation, Reason: "frozen"}
	ErrNotActive       = &Error{Kind: KindNotActive}
	ErrRaceNotStarted  = &Error{Kind: KindNotActive, Reason: "race has not started"}
	ErrAlreadyFinished = &Error{Kind: KindNotActive, Reason: "already finished"}
	ErrPlayerNotFound  = &Error{Kind: KindNotFound, Reason: "player not found", Err: session.ErrPlayerNotFound}
)

// KindOf returns the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}
