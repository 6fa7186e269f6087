package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// MissingTask is one reference to a task that does not exist.
type MissingTask struct {
	Key string // the missing task
	By  string // what referenced it
}

// MissingTasksError reports every missing task reference found in one pass.
type MissingTasksError struct {
	Missing []MissingTask
}

func (e *MissingTasksError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = fmt.Sprintf("%q (referenced by %s)", m.Key, m.By)
	}
	return fmt.Sprintf("%d missing task(s): %s", len(e.Missing), strings.Join(parts, ", "))
}

// IsMissingTasks returns true if err wraps a *MissingTasksError.
func IsMissingTasks(err error) bool {
	var me *MissingTasksError
	return errors.As(err, &me)
}

// TaskFailedError reports a task command that exited non-zero.
type TaskFailedError struct {
	Key      string
	ExitCode int
	Err      error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed with exit code %d: %v", e.Key, e.ExitCode, e.Err)
}

func (e *TaskFailedError) Unwrap() error { return e.Err }
