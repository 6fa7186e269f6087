package compiler

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// UnknownEnvError is returned when an inherit clause names neither a declared
// env nor a task.
type UnknownEnvError struct {
	Env    string
	Parent string
}

func (e *UnknownEnvError) Error() string {
	return fmt.Sprintf("env %q inherits unknown env %q", e.Env, e.Parent)
}

// IsUnknownEnv reports whether err is an *UnknownEnvError.
func IsUnknownEnv(err error) bool {
	var target *UnknownEnvError
	return errors.As(err, &target)
}

// CompileError is a ghjkfile error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
