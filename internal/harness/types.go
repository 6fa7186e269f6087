package harness

// Trace event types.
const (
	EventTask  = "task"
	EventCook  = "cook"
	EventError = "error"
)

// TraceEvent is one task run, cooked env or expected failure.
type TraceEvent struct {
	Type   string            `json:"type"`
	Task   string            `json:"task,omitempty"`
	Env    string            `json:"env,omitempty"`
	Stdout string            `json:"stdout,omitempty"`
	Vars   map[string]string `json:"vars,omitempty"`
	Bins   []string          `json:"bins,omitempty"`
	Seq    int64             `json:"seq"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is false once any expect clause or assertion fails.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Envs holds the vars of the last cook of each env.
	Envs map[string]map[string]string `json:"envs,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Envs:   make(map[string]map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
