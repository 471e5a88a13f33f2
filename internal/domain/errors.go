package domain

import (
	"errors"
	"fmt"
)

// Reason is the machine-readable cause recorded on failed operations.
type Reason string

const (
	ReasonStorageUnavailable    Reason = "storage_unavailable"
	ReasonDetectionUnavailable  Reason = "detection_unavailable"
	ReasonDetectionInvalidInput Reason = "detection_invalid_input"
	ReasonSearchUnavailable     Reason = "search_unavailable"
	ReasonSearchInvalidInput    Reason = "search_invalid_input"
	ReasonInvalidSelection      Reason = "invalid_selection"
	ReasonSessionNotFound       Reason = "session_not_found"
	ReasonSessionExpired        Reason = "session_expired"
	ReasonSessionConflict       Reason = "session_conflict"
)

// Error carries a Reason plus an optional human detail and cause.
type Error struct {
	Reason Reason
	Detail string
	Err    error
}

// Sentinels for errors.Is matching. Matching compares reasons only.
var (
	ErrStorageUnavailable    = &Error{Reason: ReasonStorageUnavailable}
	ErrDetectionUnavailable  = &Error{Reason: ReasonDetectionUnavailable}
	ErrDetectionInvalidInput = &Error{Reason: ReasonDetectionInvalidInput}
	ErrSearchUnavailable     = &Error{Reason: ReasonSearchUnavailable}
	ErrSearchInvalidInput    = &Error{Reason: ReasonSearchInvalidInput}
	ErrInvalidSelection      = &Error{Reason: ReasonInvalidSelection}
	ErrSessionNotFound       = &Error{Reason: ReasonSessionNotFound}
	ErrSessionExpired        = &Error{Reason: ReasonSessionExpired}
	ErrSessionConflict       = &Error{Reason: ReasonSessionConflict}
)

// NewError builds an Error with a formatted detail.
func NewError(reason Reason, format string, args ...interface{}) *Error {
	return &Error{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// WrapError attaches reason to err. A nil err yields nil.
func WrapError(reason Reason, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Reason: reason, Detail: err.Error(), Err: err}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Reason. An expired session also matches ErrSessionNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Reason == t.Reason {
		return true
	}
	return e.Reason == ReasonSessionExpired && t.Reason == ReasonSessionNotFound
}

// ReasonOf extracts the Reason of err, or "" when err carries none.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
