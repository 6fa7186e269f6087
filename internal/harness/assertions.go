package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		switch event.Type {
		case EventTask:
			fmt.Fprintf(&buf, "  [%d] task %s\n", event.Seq, event.Task)
		case EventCook:
			fmt.Fprintf(&buf, "  [%d] cook %s\n", event.Seq, event.Env)
		default:
			fmt.Fprintf(&buf, "  [%d] %s %s%s\n", event.Seq, event.Type, event.Task, event.Env)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalEnv:
			err = assertFinalEnv(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func taskRuns(trace []TraceEvent) []string {
	var keys []string
	for _, ev := range trace {
		if ev.Type == EventTask {
			keys = append(keys, ev.Task)
		}
	}
	return keys
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	if slices.Contains(taskRuns(trace), a.Task) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("task %s ran", a.Task),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks first runs only. Other tasks may run in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	runs := taskRuns(trace)
	prev, prevPos := "", -1
	for _, task := range a.Tasks {
		pos := slices.Index(runs, task)
		if pos < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all tasks present: %v", a.Tasks),
				Actual:   fmt.Sprintf("missing task: %s", task),
				Trace:    trace,
			}
		}
		if pos <= prevPos {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("tasks in order: %v", a.Tasks),
				Actual:   fmt.Sprintf("%s (pos %d) should be before %s (pos %d)", prev, prevPos+1, task, pos+1),
				Trace:    trace,
			}
		}
		prev, prevPos = task, pos
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, key := range taskRuns(trace) {
		if key == a.Task {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("task %s ran %d time(s)", a.Task, a.Count),
		Actual:   fmt.Sprintf("ran %d time(s)", count),
		Trace:    trace,
	}
}

func assertFinalEnv(result *Result, a Assertion) error {
	vars, ok := result.Envs[a.Env]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalEnv,
			Expected: fmt.Sprintf("env %s cooked", a.Env),
			Actual:   "never cooked",
			Trace:    result.Trace,
		}
	}
	for _, k := range slices.Sorted(maps.Keys(a.Expect)) {
		if got, ok := vars[k]; !ok || got != a.Expect[k] {
			actual := "unset"
			if ok {
				actual = fmt.Sprintf("%q", got)
			}
			return &AssertionError{
				Type:     AssertFinalEnv,
				Expected: fmt.Sprintf("%s=%q in env %s", k, a.Expect[k], a.Env),
				Actual:   actual,
				Trace:    result.Trace,
			}
		}
	}
	return nil
}
