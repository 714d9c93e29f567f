package errors

import (
	"fmt"
	"strings"
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

// ConfigurationError is returned when the configuration doesn't contain
// enough information to resolve a dataset or a workspace.
type ConfigurationError struct {
	Reason string
}

func (err ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", err.Reason)
}

// FriendlyMessage implements Friendly.
func (err ConfigurationError) FriendlyMessage() string {
	return fmt.Sprintf("The datasets configuration is incomplete: %s.\n"+
		"Set the missing option in datasets.yaml, "+
		"~/.datasets/datasets.yaml, or on the command line.", err.Reason)
}

// TransferError is returned when the transfer tool reports an error while
// listing, pulling or pushing. Output contains whatever diagnostic text the
// tool produced.
type TransferError struct {
	Op       string
	Location string
	Output   string
	Err      error
}

func (err *TransferError) Error() string {
	msg := fmt.Sprintf("%s %s failed", err.Op, err.Location)
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	if out := strings.TrimSpace(err.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (err *TransferError) Unwrap() error {
	return err.Err
}
