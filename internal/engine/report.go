package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sentinel/internal/rule"
)

// EvalReport is the per-rule evaluation outcome for one tick: the final
// three-valued result plus every condition outcome that was computed before
// short-circuiting stopped.
type EvalReport struct {
	RuleID      string             `json:"rule_id"`
	RuleName    string             `json:"rule_name"`
	Result      Result             `json:"-"`
	ResultLabel string             `json:"result"`
	Conditions  map[string]Outcome `json:"conditions"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
	MissingKeys int                `json:"missing_keys,omitempty"`
}

// SnapshotMap renders the report as the audit snapshot stored on a trigger
// record.
func (r *EvalReport) SnapshotMap() map[string]any {
	conditions := make(map[string]any, len(r.Conditions))
	for id, o := range r.Conditions {
		entry := map[string]any{
			"result": o.Result.String(),
			"detail": o.Detail,
		}
		if o.HasValue {
			entry["value"] = o.Value
		}
		conditions[id] = entry
	}
	return map[string]any{
		"result":       r.Result.String(),
		"evaluated_at": r.EvaluatedAt,
		"conditions":   conditions,
	}
}

// BuildTriggerMessage renders the human-readable notification body for a
// fired rule. Values are rounded through decimal so messages do not carry
// float artifacts like 50000.000000000001.
func BuildTriggerMessage(r *rule.Rule, report *EvalReport) string {
	var b strings.Builder
	name := r.Name
	if name == "" {
		name = r.ID
	}
	fmt.Fprintf(&b, "Rule %q triggered at %s", name, report.EvaluatedAt.UTC().Format(time.RFC3339))
	for _, c := range r.Conditions {
		o, ok := report.Conditions[c.ID]
		if !ok {
			continue
		}
		b.WriteString("\n- ")
		if c.Label != "" {
			b.WriteString(c.Label)
		} else {
			b.WriteString(c.ID)
		}
		b.WriteString(": ")
		b.WriteString(o.Detail)
		if o.HasValue {
			fmt.Fprintf(&b, " => %s", decimal.NewFromFloat(o.Value).Round(8).String())
		}
		fmt.Fprintf(&b, " (%s)", o.Result)
	}
	return b.String()
}
