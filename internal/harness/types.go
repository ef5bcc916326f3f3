package harness

// Trace record types.
const (
	RecordInvoke       = "invoke"
	RecordCompletion   = "completion"
	RecordEvent        = "event"
	RecordResponse     = "response"
	RecordNotification = "notification"
)

// CaseOK is the completion case of a step that succeeded.
const CaseOK = "ok"

func validRecord(r string) bool {
	switch r {
	case RecordInvoke, RecordCompletion, RecordEvent, RecordResponse, RecordNotification:
		return true
	}
	return false
}

// TraceEvent is one record in a scenario trace: a step invocation, its
// completion, a platform callback the coordinator processed, a crossing
// delivered to the responder, or a posted notification.
type TraceEvent struct {
	Seq    int64                  `json:"seq"`
	Type   string                 `json:"type"`
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Case   string                 `json:"case,omitempty"`
	Result interface{}            `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion
	// matched.
	Pass bool `json:"pass"`

	// Trace contains all records in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the final coordinator state keyed by table name.
	State map[string]interface{} `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]interface{}),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
