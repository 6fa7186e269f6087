package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/metatypedev/ghjk/internal/compiler"
	"github.com/metatypedev/ghjk/internal/envs"
	"github.com/metatypedev/ghjk/internal/graph"
	"github.com/metatypedev/ghjk/internal/installs"
	"github.com/metatypedev/ghjk/internal/ports"
	"github.com/metatypedev/ghjk/internal/shim"
	"github.com/metatypedev/ghjk/internal/tasks"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A task or install failed
	ExitCommandError = 2 // Command error (bad ghjkfile, unknown env, etc.)
)

// Error codes reported in --format json output.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeNoGhjkfile    = "E002" // No ghjkfile found
	ErrCodeLoadFailed    = "E003" // ghjkfile failed to load or match the schema
	ErrCodeNotFound      = "E004" // Unknown env, task or port
	ErrCodeCycle         = "E005" // Dependency cycle
	ErrCodeWriteFailed   = "E006" // File write error
	ErrCodeInstallFailed = "E007" // Version resolution or install failed
	ErrCodeTaskFailed    = "E008" // Task exited non-zero
	ErrCodeEnvFailed     = "E009" // Env could not be materialized
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
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

// Classify maps an error to its JSON error code and process exit code.
func Classify(err error) (string, int) {
	var (
		compileErr *compiler.CompileError
		validErr   compiler.ValidationError
		taskErr    *tasks.TaskFailedError
	)
	switch {
	case errors.As(err, &taskErr):
		if taskErr.ExitCode <= 0 {
			return ErrCodeTaskFailed, ExitFailure
		}
		return ErrCodeTaskFailed, taskErr.ExitCode
	case errors.Is(err, compiler.ErrNoGhjkfile):
		return ErrCodeNoGhjkfile, ExitCommandError
	case errors.As(err, &validErr):
		return validErr.Code, ExitCommandError
	case errors.As(err, &compileErr):
		return ErrCodeLoadFailed, ExitCommandError
	case graph.IsCycleError(err):
		return ErrCodeCycle, ExitCommandError
	case errors.As(err, new(*NotFoundError)), ports.IsUnknownPort(err), installs.IsUnknownDep(err),
		tasks.IsMissingTasks(err), compiler.IsUnknownEnv(err):
		return ErrCodeNotFound, ExitCommandError
	case installs.IsVersionNotFound(err), installs.IsDuplicateInstall(err):
		return ErrCodeInstallFailed, ExitFailure
	case envs.IsUnknownProvision(err), shim.IsConflict(err):
		return ErrCodeEnvFailed, ExitFailure
	}
	return ErrCodeGeneric, ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := Classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(exit, message, err)
}

// Table writes rows as aligned text columns.
func (f *OutputFormatter) Table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, r := range rows {
		writeRow(tw, r)
	}
	tw.Flush()
}

func writeRow(w io.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}
