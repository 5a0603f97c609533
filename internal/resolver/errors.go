package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/iwbot/internal/identity"
	"github.com/MimeLyc/iwbot/pkg/log"
)

type ErrorType int

const (
	ErrInput ErrorType = iota
	ErrInvalidTitle
	ErrNotFound
	ErrIdentityConflict
	ErrTransientNetwork
	ErrCancelled
	ErrUnknown
)

// Error is a classified resolution failure. Message is the user-facing text
// that ends up in the ledger; Context and Cause are for logs.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrInput:
		return "InputError"
	case ErrInvalidTitle:
		return "InvalidTitle"
	case ErrNotFound:
		return "NotFound"
	case ErrIdentityConflict:
		return "IdentityConflict"
	case ErrTransientNetwork:
		return "TransientNetwork"
	case ErrCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Fatal reports whether the error type stops a whole pass rather than a
// single occurrence or page.
func (t ErrorType) Fatal() bool {
	return t == ErrCancelled
}

func IsErrorType(err error, errorType ErrorType) bool {
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	return NewErrorWithCause(errorType, message, err)
}

// Classify maps an arbitrary error from a lookup or a save to its type.
func Classify(err error) ErrorType {
	var rErr *Error
	switch {
	case err == nil:
		return ErrUnknown
	case errors.As(err, &rErr):
		return rErr.Type
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case identity.IsInvalidTitle(err):
		return ErrInvalidTitle
	default:
		return ErrTransientNetwork
	}
}

// SafeExecute runs fn, turning a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered: %v", r)
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
