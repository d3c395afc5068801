package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The sync or preview itself failed
	ExitCommandError = 2 // Command error (bad flags, database not reachable, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics go here so they never corrupt JSON output
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Success writes data as JSON, or calls text to write it for people.
func (f *OutputFormatter) Success(data any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	return text(f.Writer)
}

// Failure reports err and turns it into the command's exit error. Sync errors
// show their user facing message; the cause only shows in verbose mode.
func (f *OutputFormatter) Failure(err error) error {
	reason, msg := "internal", err.Error()
	if syncErr, ok := wishsync.AsSyncError(err); ok {
		reason, msg = string(syncErr.Reason), syncErr.Message
	}

	if f.Format == "json" {
		json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Reason: reason, Message: msg},
		})
	} else {
		fmt.Fprintf(f.ErrWriter, "Error [%s]: %s\n", reason, msg)
	}
	f.VerboseLog("cause: %v", err)

	return WrapExitError(ExitFailure, msg, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.ErrWriter, format+"\n", args...)
}
