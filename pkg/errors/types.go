package errors

import (
	"fmt"
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// InvalidPath represents a path that can't be used, such as a local sync
// directory that isn't absolute after resolution.
type InvalidPath struct {
	Path   string
	Reason string
}

func (err InvalidPath) Error() string {
	return fmt.Sprintf("invalid path %q: %s", err.Path, err.Reason)
}
