package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sentinel/internal/logger"
	"sentinel/internal/rule"
)

// TriggerStore persists trigger records and rule evaluation stats. The record
// append is the source of truth for a firing; notification delivery happens
// after and never rolls a recorded firing back.
type TriggerStore interface {
	Append(ctx context.Context, rec rule.TriggerRecord) error
	SaveRuleStats(ctx context.Context, ruleID string, stats rule.Stats) error
}

// NotificationSink delivers one rendered alert according to the owner's
// channel preferences.
type NotificationSink interface {
	Notify(ctx context.Context, prefs rule.Preferences, title, message string) error
}

type TriggerConfig struct {
	NotifyAttempts int
	NotifyBackoff  time.Duration
}

func (c *TriggerConfig) withDefaults() TriggerConfig {
	out := *c
	if out.NotifyAttempts <= 0 {
		out.NotifyAttempts = 3
	}
	if out.NotifyBackoff <= 0 {
		out.NotifyBackoff = 2 * time.Second
	}
	return out
}

// TriggerHandler turns true evaluation results into trigger records and
// notifications, enforcing the per-rule cooldown in between.
type TriggerHandler struct {
	cfg   TriggerConfig
	store TriggerStore
	sink  NotificationSink
	nowFn func() time.Time
}

func NewTriggerHandler(store TriggerStore, sink NotificationSink, cfg TriggerConfig) *TriggerHandler {
	return &TriggerHandler{
		cfg:   cfg.withDefaults(),
		store: store,
		sink:  sink,
		nowFn: time.Now,
	}
}

// Handle applies the trigger decision for one evaluated rule and reports
// whether a trigger record was written. Indeterminate results never fire and
// never reset the cooldown clock; a true result inside the cooldown window is
// suppressed but counted. All counter access goes through the rule's stats
// lock so a concurrent file reload or API read never observes a torn update.
func (h *TriggerHandler) Handle(ctx context.Context, r *rule.Rule, report *EvalReport) bool {
	now := h.nowFn()
	prev := r.StatsSnapshot()

	if h.cooldownEnded(prev, r.Cooldown, now) && h.sink != nil && r.Notify.AlertOn.CooldownEnd {
		h.notifyWithRetry(ctx, r, "Cooldown ended: "+r.Name,
			fmt.Sprintf("Rule %q finished its cooldown and is armed again.", r.Name))
	}

	switch report.Result {
	case Indeterminate:
		logger.Debugf("rule %s: indeterminate, skipping trigger decision", r.ID)
		h.saveStats(ctx, r.ID, r.UpdateStats(func(s *rule.Stats) {
			s.LastEvaluatedAt = now
		}))
		return false
	case False:
		if prev.LastResult == True.String() && h.sink != nil && r.Notify.AlertOn.Reset {
			h.notifyWithRetry(ctx, r, "Resolved: "+r.Name,
				fmt.Sprintf("Rule %q no longer matches.", r.Name))
		}
		h.saveStats(ctx, r.ID, r.UpdateStats(func(s *rule.Stats) {
			s.LastEvaluatedAt = now
			s.LastResult = False.String()
		}))
		return false
	}

	if h.inCooldown(prev, r.Cooldown, now) {
		stats := r.UpdateStats(func(s *rule.Stats) {
			s.LastEvaluatedAt = now
			s.LastResult = True.String()
			s.SuppressedCount++
		})
		logger.Debugf("rule %s: condition met but cooling down until %s, suppressed (%d total)",
			r.ID, prev.LastTriggeredAt.Add(r.Cooldown).Format(time.RFC3339), stats.SuppressedCount)
		h.saveStats(ctx, r.ID, stats)
		return false
	}

	rec := rule.TriggerRecord{
		ID:          uuid.NewString(),
		RuleID:      r.ID,
		Owner:       r.Owner,
		TriggeredAt: now,
		Snapshot:    report.SnapshotMap(),
		Message:     BuildTriggerMessage(r, report),
	}
	if err := h.store.Append(ctx, rec); err != nil {
		logger.Errorf("rule %s: recording trigger failed: %v", r.ID, err)
		h.saveStats(ctx, r.ID, r.UpdateStats(func(s *rule.Stats) {
			s.LastEvaluatedAt = now
		}))
		return false
	}

	stats := r.UpdateStats(func(s *rule.Stats) {
		s.LastEvaluatedAt = now
		s.LastResult = True.String()
		s.TriggerCount++
		s.LastTriggeredAt = now
	})
	h.saveStats(ctx, r.ID, stats)
	logger.Infof("rule %s (%s) triggered, record %s", r.ID, r.Name, rec.ID)

	if h.sink != nil && r.Notify.AlertOn.Trigger {
		h.notifyWithRetry(ctx, r, "Alert: "+r.Name, rec.Message)
	}
	return true
}

// NotifyError reports a rule failure to its owner, for rules that opted into
// error events. Called when the scheduler parks a rule in error status.
func (h *TriggerHandler) NotifyError(ctx context.Context, r *rule.Rule, cause string) {
	if h.sink == nil || !r.Notify.AlertOn.Error {
		return
	}
	h.notifyWithRetry(ctx, r, "Rule error: "+r.Name,
		fmt.Sprintf("Rule %q was paused with an error: %s", r.Name, cause))
}

func (h *TriggerHandler) inCooldown(prev rule.Stats, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 || prev.LastTriggeredAt.IsZero() {
		return false
	}
	return now.Sub(prev.LastTriggeredAt) < cooldown
}

// cooldownEnded reports whether the cooldown deadline passed between the
// previous evaluation and this one.
func (h *TriggerHandler) cooldownEnded(prev rule.Stats, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 || prev.LastTriggeredAt.IsZero() {
		return false
	}
	deadline := prev.LastTriggeredAt.Add(cooldown)
	return prev.LastEvaluatedAt.Before(deadline) && !now.Before(deadline)
}

// notifyWithRetry delivers with bounded retries. Delivery failure is logged
// and dropped; the trigger record already stands on its own.
func (h *TriggerHandler) notifyWithRetry(ctx context.Context, r *rule.Rule, title, message string) {
	var lastErr error
	for attempt := 0; attempt < h.cfg.NotifyAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(h.cfg.NotifyBackoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Warnf("rule %s: notification abandoned: %v", r.ID, ctx.Err())
				return
			case <-timer.C:
			}
		}
		if lastErr = h.sink.Notify(ctx, r.Notify, title, message); lastErr == nil {
			return
		}
		logger.Warnf("rule %s: notification attempt %d failed: %v", r.ID, attempt+1, lastErr)
	}
	logger.Errorf("rule %s: notification dropped after %d attempts: %v", r.ID, h.cfg.NotifyAttempts, lastErr)
}

func (h *TriggerHandler) saveStats(ctx context.Context, ruleID string, stats rule.Stats) {
	if err := h.store.SaveRuleStats(ctx, ruleID, stats); err != nil {
		logger.Warnf("rule %s: persisting stats failed: %v", ruleID, err)
	}
}
