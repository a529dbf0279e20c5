package rule

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel/internal/market"
)

// ErrInvalidRule wraps every definition failure surfaced by Resolve, so the
// store can distinguish a bad rule from an I/O problem with errors.Is.
var ErrInvalidRule = errors.New("invalid rule definition")

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Stats carries the running counters the engine updates each tick.
// TriggerCount counts emitted records; SuppressedCount counts evaluations
// that were true but swallowed by cooldown. LastResult remembers the most
// recent determinate outcome so reset events can detect a true-to-false flip.
type Stats struct {
	LastEvaluatedAt time.Time `json:"last_evaluated_at"`
	LastTriggeredAt time.Time `json:"last_triggered_at"`
	TriggerCount    int64     `json:"trigger_count"`
	SuppressedCount int64     `json:"suppressed_count"`
	LastResult      string    `json:"last_result,omitempty"`
}

// statsCell is the one mutable slot behind a rule's counters. Every Rule
// object that has represented the same rule id shares a single cell, so a
// file reload never loses an update written through an older pointer.
type statsCell struct {
	mu sync.Mutex
	s  Stats
}

// Rule is a user-defined monitoring strategy: a flat condition list plus a
// logic tree referencing conditions by id. Rules are owned by the rule store
// and consumed read-only per tick, except for Stats and Status.
type Rule struct {
	ID          string       `yaml:"id"`
	Owner       string       `yaml:"owner"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Schedule    string       `yaml:"schedule"`
	Conditions  []*Condition `yaml:"conditions"`
	Logic       *LogicNode   `yaml:"logic"`
	Notify      Preferences  `yaml:"notify"`

	Status      Status `yaml:"status"`
	StatusCause string `yaml:"-"`

	// Resolved at load time by the rule store.
	Interval time.Duration `yaml:"-"`
	Cooldown time.Duration `yaml:"-"`

	statsOnce sync.Once
	stats     *statsCell
}

func (r *Rule) cell() *statsCell {
	r.statsOnce.Do(func() { r.stats = &statsCell{} })
	return r.stats
}

// StatsSnapshot returns a consistent copy of the rule's counters.
func (r *Rule) StatsSnapshot() Stats {
	c := r.cell()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// SetStats replaces the counters wholesale, used when rehydrating persisted
// stats at startup.
func (r *Rule) SetStats(s Stats) {
	c := r.cell()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = s
}

// UpdateStats applies fn under the stats lock and returns the updated copy.
func (r *Rule) UpdateStats(fn func(*Stats)) Stats {
	c := r.cell()
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.s)
	return c.s
}

// ShareStats makes r read and write the same counters as prev. The store
// calls this when a reload keeps a rule id, before handing r to anyone else.
func (r *Rule) ShareStats(prev *Rule) {
	r.statsOnce.Do(func() { r.stats = prev.cell() })
}

// Condition returns the condition with the given id, if present.
func (r *Rule) Condition(id string) (*Condition, bool) {
	for _, c := range r.Conditions {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Resolve validates the definition and fills the derived fields. A rule that
// fails to resolve is quarantined (status error) by the store, never evaluated.
func (r *Rule) Resolve() error {
	if err := r.resolve(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	return nil
}

func (r *Rule) resolve() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Notify.Channels == nil && r.Notify.AlertOn == (Events{}) {
		r.Notify.AlertOn = DefaultPreferences().AlertOn
	}
	interval, ok := ParseSchedule(r.Schedule)
	if !ok {
		return fmt.Errorf("rule %s: unparsable schedule %q", r.ID, r.Schedule)
	}
	r.Interval = interval
	if r.Notify.Cooldown.Enabled {
		d, err := ParseCooldown(r.Notify.Cooldown.Duration)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.Cooldown = d
	}
	refs := make(map[string]bool, len(r.Conditions))
	for _, c := range r.Conditions {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("rule %s: condition without id", r.ID)
		}
		if refs[c.ID] {
			return fmt.Errorf("rule %s: duplicate condition id %s", r.ID, c.ID)
		}
		if err := c.Compile(); err != nil {
			return fmt.Errorf("rule %s: condition %s: %w", r.ID, c.ID, err)
		}
		refs[c.ID] = true
	}
	if r.Logic == nil {
		return fmt.Errorf("rule %s: logic tree is required", r.ID)
	}
	if err := r.Logic.Validate(refs); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return nil
}

// RequiredKeys derives the set of market data keys this rule needs from its
// condition payloads. Disabled conditions contribute nothing.
func (r *Rule) RequiredKeys() []market.DataKey {
	var keys []market.DataKey
	for _, c := range r.Conditions {
		if !c.Enabled {
			continue
		}
		keys = append(keys, c.RequiredKeys()...)
	}
	return keys
}

// TriggerRecord is the immutable log entry produced when a rule fires.
type TriggerRecord struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"rule_id"`
	Owner       string         `json:"owner"`
	TriggeredAt time.Time      `json:"triggered_at"`
	Snapshot    map[string]any `json:"snapshot"`
	Message     string         `json:"message"`
}
