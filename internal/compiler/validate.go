package compiler

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/metatypedev/ghjk/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// Env errors (E101-E109)
	ErrInvalidVarName  = "E101" // var name is not a posix identifier
	ErrEmptyTaskRef    = "E102" // dyn var or hook without a task
	ErrInheritConflict = "E103" // inherit names set together with none
	ErrReservedVarName = "E104" // var managed by ghjk itself
	ErrEmptyEnvName    = "E105" // default env name is empty

	// Task errors (E110-E119)
	ErrInvalidTaskName = "E110" // task name contains whitespace
	ErrEmptyCmd        = "E111" // cmd given but empty program
	ErrCmdAndRunner    = "E112" // both cmd and runner set
	ErrEmptyDependsOn  = "E113" // empty dependency name
	ErrRunnerCollision = "E114" // identical anonymous tasks, one with a runner

	// Install errors (E120-E129)
	ErrEmptyAllowedDep = "E120" // allowed build dep without a port
)

// ValidationError represents a declaration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var varNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedVars are set by the env materializer.
var reservedVars = []string{"GHJK_ENV"}

// Validate checks every declaration in the Builder.
// Returns all errors found (does not fail-fast).
func (b *Builder) Validate() []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(b.defaultEnv) == "" {
		errs = append(errs, ValidationError{
			Field:   "default_env",
			Message: "default env name is empty",
			Code:    ErrEmptyEnvName,
		})
	}

	for _, d := range b.envs {
		prefix := fmt.Sprintf("envs.%s", d.Name)
		errs = append(errs, validateEnvFields(prefix, d.Inherit.None, d.Inherit.Names, d.Vars, slices.Collect(maps.Keys(d.DynVars)))...)
		for _, k := range slices.Sorted(maps.Keys(d.DynVars)) {
			if d.DynVars[k].TaskKey == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.dyn_vars.%s", prefix, k),
					Message: "dynamic var needs a task",
					Code:    ErrEmptyTaskRef,
				})
			}
		}
		for i, h := range append(slices.Clone(d.OnEnter), d.OnExit...) {
			if strings.TrimSpace(h) == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.hooks[%d]", prefix, i),
					Message: "hook needs a task",
					Code:    ErrEmptyTaskRef,
				})
			}
		}
		errs = append(errs, validateAllowedDeps(prefix, d.AllowedBuildDeps)...)
	}

	for i, t := range b.tasks {
		prefix := fmt.Sprintf("tasks.%s", strings.Trim(taskLabel(t, TaskRef(i)), `"`))
		if t.Name != "" && strings.ContainsAny(t.Name, " \t\n") {
			errs = append(errs, ValidationError{
				Field:   prefix,
				Message: fmt.Sprintf("task name %q must not contain whitespace", t.Name),
				Code:    ErrInvalidTaskName,
			})
		}
		errs = append(errs, validateEnvFields(prefix, t.Inherit.None, t.Inherit.Names, t.Vars, slices.Collect(maps.Keys(t.DynVars)))...)
		if len(t.Cmd) > 0 && strings.TrimSpace(t.Cmd[0]) == "" {
			errs = append(errs, ValidationError{
				Field:   prefix + ".cmd",
				Message: "cmd program is empty",
				Code:    ErrEmptyCmd,
			})
		}
		if len(t.Cmd) > 0 && t.Runner != nil {
			errs = append(errs, ValidationError{
				Field:   prefix,
				Message: "task has both a cmd and an in-process runner",
				Code:    ErrCmdAndRunner,
			})
		}
		for j, dep := range t.DependsOn {
			if strings.TrimSpace(dep) == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.depends_on[%d]", prefix, j),
					Message: "dependency name is empty",
					Code:    ErrEmptyDependsOn,
				})
			}
		}
		errs = append(errs, validateAllowedDeps(prefix, t.AllowedBuildDeps)...)
	}

	return errs
}

func validateEnvFields(prefix string, none bool, inherit []string, vars map[string]string, dynKeys []string) []ValidationError {
	var errs []ValidationError

	// E103: inherit: false cannot also name parents
	if none && len(inherit) > 0 {
		errs = append(errs, ValidationError{
			Field:   prefix + ".inherit",
			Message: "inherit is disabled but parents are listed",
			Code:    ErrInheritConflict,
		})
	}

	keys := append(slices.Collect(maps.Keys(vars)), dynKeys...)
	slices.Sort(keys)
	for _, k := range keys {
		switch {
		case !varNamePattern.MatchString(k):
			errs = append(errs, ValidationError{
				Field:   prefix + ".vars." + k,
				Message: fmt.Sprintf("%q is not a valid variable name", k),
				Code:    ErrInvalidVarName,
			})
		case slices.Contains(reservedVars, k):
			errs = append(errs, ValidationError{
				Field:   prefix + ".vars." + k,
				Message: fmt.Sprintf("%s is set by ghjk", k),
				Code:    ErrReservedVarName,
			})
		}
	}
	return errs
}

func validateAllowedDeps(prefix string, deps map[string]ir.AllowedPortDep) []ValidationError {
	var errs []ValidationError
	for _, name := range slices.Sorted(maps.Keys(deps)) {
		if deps[name].DefaultConfig.Port == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.allowed_build_deps.%s", prefix, name),
				Message: "allowed build dep needs a default config port",
				Code:    ErrEmptyAllowedDep,
			})
		}
	}
	return errs
}
