package errors

import (
	"errors"
	"fmt"
)

// New returns an error that formats as the given text.
func New(format string, args ...interface{}) error {
	if len(args) == 0 {
		return errors.New(format)
	}
	return fmt.Errorf(format, args...)
}

// Is and As are re-exported so that callers only need to import this package.
var (
	Is = errors.Is
	As = errors.As
)

type withContext struct {
	base    error
	context string
}

// WithContext annotates `err` with a short description of what was being
// done when it occurred. It returns nil if `err` is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return withContext{base: err, context: context}
}

func (err withContext) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.base)
}

func (err withContext) Unwrap() error {
	return err.base
}

// FriendlyError is an error whose message is meant to be shown directly to
// the user, without any of the surrounding context.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError with the formatted message.
func NewFriendlyError(format string, args ...interface{}) FriendlyError {
	return FriendlyError{fmt.Sprintf(format, args...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message to display to the user.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

// Friendly is implemented by errors that carry a message for the end user.
type Friendly interface {
	FriendlyMessage() string
}

// GetRootCause strips all context from `err` and returns the innermost
// error.
func GetRootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// GetFriendlyError returns the first friendly error in the chain of `err`.
func GetFriendlyError(err error) (Friendly, bool) {
	for err != nil {
		if friendly, ok := err.(Friendly); ok {
			return friendly, true
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}
