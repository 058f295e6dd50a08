package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error with the formatted message.
func New(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// contextError wraps an error with a short description of what was being
// attempted when the error occurred.
type contextError struct {
	context string
	err     error
}

// WithContext annotates `err` with `context`. The resulting message has the
// form "context: err". Nil errors are passed through unchanged so that the
// result can be returned directly.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// RootCause strips all context from `err` and returns the original error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// Is is a passthrough to the standard library so that callers don't need to
// import both packages.
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// As is a passthrough to the standard library.
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}

// FriendlyError is an error whose message is meant to be shown directly to
// the user without any additional context.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	msg string
}

// NewFriendlyError creates an error with a message that should be printed
// as-is to the user.
func NewFriendlyError(template string, args ...interface{}) error {
	return friendlyError{fmt.Sprintf(template, args...)}
}

func (err friendlyError) Error() string {
	return err.msg
}

func (err friendlyError) FriendlyMessage() string {
	return err.msg
}

// GetPrintableMessage returns the message that should be shown to the user
// for `err`. If any error in the chain is a FriendlyError, its message is
// used verbatim. Otherwise, the full contextual message is returned.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}
