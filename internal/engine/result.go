package engine

// Result is the three-valued outcome of evaluating a condition or a logic
// tree. Indeterminate means "cannot be determined this tick" (missing or
// stale data) and is distinct from False so AND/OR short-circuiting stays
// correct.
type Result int8

const (
	False Result = iota
	True
	Indeterminate
)

func (r Result) String() string {
	switch r {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "indeterminate"
	}
}

// Not flips True/False; Indeterminate stays Indeterminate.
func (r Result) Not() Result {
	switch r {
	case True:
		return False
	case False:
		return True
	default:
		return Indeterminate
	}
}

// Outcome is the result of one condition evaluation together with the value
// the comparison saw, kept for trigger snapshots and dry runs.
type Outcome struct {
	Result   Result  `json:"result"`
	Value    float64 `json:"value,omitempty"`
	HasValue bool    `json:"has_value"`
	Detail   string  `json:"detail,omitempty"`
}

func outcome(res Result, detail string) Outcome {
	return Outcome{Result: res, Detail: detail}
}

func valueOutcome(res Result, value float64, detail string) Outcome {
	return Outcome{Result: res, Value: value, HasValue: true, Detail: detail}
}
