package harness

// Trace event types.
const (
	EventAction   = "action"
	EventResponse = "response"
)

// TraceEvent is one recorded action call or api response.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Params any    `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion holds.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Actions returns the recorded action events in call order.
func (r *Result) Actions() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == EventAction {
			out = append(out, e)
		}
	}
	return out
}

// Response returns the api response event, if any.
func (r *Result) Response() (TraceEvent, bool) {
	for _, e := range r.Trace {
		if e.Type == EventResponse {
			return e, true
		}
	}
	return TraceEvent{}, false
}
