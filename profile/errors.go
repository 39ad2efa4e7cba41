package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Repository for a never-configured profile.
	ErrNotFound = errors.New("profile: not found")
	// ErrStorageUnavailable marks persistence failures (schema missing,
	// database locked or closed).
	ErrStorageUnavailable = errors.New("profile: storage unavailable")
)

type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindStorage       Kind = "storage"
)

const (
	CodeUnknownProfile     = "UNKNOWN_PROFILE"
	CodeInvalidTTL         = "INVALID_TTL"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// Error is returned by Store.Set. Code is stable and safe to show to admins.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code, and ErrStorageUnavailable for storage errors.
func (e *Error) Is(target error) bool {
	if target == ErrStorageUnavailable {
		return e.Kind == KindStorage
	}
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}
