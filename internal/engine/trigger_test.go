package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentinel/internal/rule"
)

type fakeTriggerStore struct {
	mu        sync.Mutex
	records   []rule.TriggerRecord
	stats     map[string]rule.Stats
	appendErr error
}

func newFakeTriggerStore() *fakeTriggerStore {
	return &fakeTriggerStore{stats: make(map[string]rule.Stats)}
}

func (f *fakeTriggerStore) Append(ctx context.Context, rec rule.TriggerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeTriggerStore) SaveRuleStats(ctx context.Context, ruleID string, stats rule.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[ruleID] = stats
	return nil
}

type fakeSink struct {
	mu       sync.Mutex
	sent     []string
	titles   []string
	failures int
}

func (f *fakeSink) Notify(ctx context.Context, prefs rule.Preferences, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("delivery failed")
	}
	f.sent = append(f.sent, message)
	f.titles = append(f.titles, title)
	return nil
}

func triggerRule(cooldown time.Duration) *rule.Rule {
	return &rule.Rule{
		ID:       "r1",
		Owner:    "alice",
		Name:     "btc watch",
		Cooldown: cooldown,
		Notify:   rule.Preferences{AlertOn: rule.Events{Trigger: true}},
	}
}

func trueReport(at time.Time) *EvalReport {
	return &EvalReport{
		RuleID:      "r1",
		Result:      True,
		ResultLabel: True.String(),
		Conditions:  map[string]Outcome{"c1": valueOutcome(True, 50500, "price BTC above 50000")},
		EvaluatedAt: at,
	}
}

func newTestHandler(store TriggerStore, sink NotificationSink, now time.Time) *TriggerHandler {
	h := NewTriggerHandler(store, sink, TriggerConfig{NotifyAttempts: 3, NotifyBackoff: time.Millisecond})
	h.nowFn = func() time.Time { return now }
	return h
}

func TestHandleTrueWritesRecordAndNotifies(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	h := newTestHandler(store, sink, now)
	r := triggerRule(0)

	fired := h.Handle(context.Background(), r, trueReport(now))

	assert.True(t, fired)
	assert.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, "r1", rec.RuleID)
	assert.Equal(t, "alice", rec.Owner)
	assert.NotEmpty(t, rec.ID)
	assert.Contains(t, rec.Message, "btc watch")
	assert.Len(t, sink.sent, 1)
	stats := r.StatsSnapshot()
	assert.Equal(t, int64(1), stats.TriggerCount)
	assert.Equal(t, now, stats.LastTriggeredAt)
}

func TestHandleFalseAndIndeterminateDoNotFire(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{}
	now := time.Now()
	h := newTestHandler(store, sink, now)
	r := triggerRule(0)

	report := trueReport(now)
	report.Result = False
	assert.False(t, h.Handle(context.Background(), r, report))

	report.Result = Indeterminate
	assert.False(t, h.Handle(context.Background(), r, report))

	assert.Empty(t, store.records)
	assert.Empty(t, sink.sent)
	stats := r.StatsSnapshot()
	assert.Zero(t, stats.TriggerCount)
	assert.Equal(t, now, stats.LastEvaluatedAt)
}

func TestHandleCooldownSuppressesButCounts(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{}
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	h := newTestHandler(store, sink, start)
	r := triggerRule(30 * time.Minute)

	assert.True(t, h.Handle(context.Background(), r, trueReport(start)))

	// still true ten minutes later: suppressed, single record remains
	h.nowFn = func() time.Time { return start.Add(10 * time.Minute) }
	assert.False(t, h.Handle(context.Background(), r, trueReport(start.Add(10*time.Minute))))
	assert.Len(t, store.records, 1)
	stats := r.StatsSnapshot()
	assert.Equal(t, int64(1), stats.SuppressedCount)
	assert.Equal(t, start, stats.LastTriggeredAt, "suppressed evaluations do not extend the window")

	// window elapsed: fires again
	h.nowFn = func() time.Time { return start.Add(31 * time.Minute) }
	assert.True(t, h.Handle(context.Background(), r, trueReport(start.Add(31*time.Minute))))
	assert.Len(t, store.records, 2)
	assert.Equal(t, int64(2), r.StatsSnapshot().TriggerCount)
}

func TestHandleIndeterminateDoesNotResetCooldown(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{}
	start := time.Now()
	h := newTestHandler(store, sink, start)
	r := triggerRule(time.Hour)

	assert.True(t, h.Handle(context.Background(), r, trueReport(start)))
	report := trueReport(start.Add(time.Minute))
	report.Result = Indeterminate
	h.nowFn = func() time.Time { return start.Add(time.Minute) }
	assert.False(t, h.Handle(context.Background(), r, report))
	stats := r.StatsSnapshot()
	assert.Equal(t, start, stats.LastTriggeredAt)
	assert.Zero(t, stats.SuppressedCount)
}

func TestHandleRecordFailureSkipsNotification(t *testing.T) {
	store := newFakeTriggerStore()
	store.appendErr = errors.New("disk full")
	sink := &fakeSink{}
	now := time.Now()
	h := newTestHandler(store, sink, now)
	r := triggerRule(0)

	fired := h.Handle(context.Background(), r, trueReport(now))

	assert.False(t, fired, "record append is the source of truth")
	assert.Empty(t, sink.sent)
	assert.Zero(t, r.StatsSnapshot().TriggerCount)
}

func TestHandleRetriesNotification(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{failures: 2}
	now := time.Now()
	h := newTestHandler(store, sink, now)
	r := triggerRule(0)

	fired := h.Handle(context.Background(), r, trueReport(now))

	assert.True(t, fired)
	assert.Len(t, store.records, 1, "record stands even while delivery struggles")
	assert.Len(t, sink.sent, 1, "third attempt succeeds")
}

func TestHandleNotifiesResetOnTrueToFalseFlip(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{}
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	h := newTestHandler(store, sink, start)
	r := triggerRule(0)
	r.Notify.AlertOn.Reset = true

	assert.True(t, h.Handle(context.Background(), r, trueReport(start)))

	report := trueReport(start.Add(time.Minute))
	report.Result = False
	h.nowFn = func() time.Time { return start.Add(time.Minute) }
	assert.False(t, h.Handle(context.Background(), r, report))
	assert.Len(t, sink.titles, 2)
	assert.Contains(t, sink.titles[1], "Resolved")

	// staying false is quiet, only the flip notifies
	h.nowFn = func() time.Time { return start.Add(2 * time.Minute) }
	assert.False(t, h.Handle(context.Background(), r, report))
	assert.Len(t, sink.titles, 2)
}

func TestHandleNotifiesCooldownEndOnce(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{}
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	h := newTestHandler(store, sink, start)
	r := triggerRule(30 * time.Minute)
	r.Notify.AlertOn.CooldownEnd = true

	assert.True(t, h.Handle(context.Background(), r, trueReport(start)))

	falseAt := func(at time.Time) *EvalReport {
		rep := trueReport(at)
		rep.Result = False
		return rep
	}

	// inside the window nothing happens
	h.nowFn = func() time.Time { return start.Add(10 * time.Minute) }
	assert.False(t, h.Handle(context.Background(), r, falseAt(start.Add(10*time.Minute))))
	assert.Len(t, sink.titles, 1)

	// first evaluation past the deadline announces the window is over
	h.nowFn = func() time.Time { return start.Add(31 * time.Minute) }
	assert.False(t, h.Handle(context.Background(), r, falseAt(start.Add(31*time.Minute))))
	assert.Len(t, sink.titles, 2)
	assert.Contains(t, sink.titles[1], "Cooldown ended")

	// the next tick does not repeat it
	h.nowFn = func() time.Time { return start.Add(32 * time.Minute) }
	assert.False(t, h.Handle(context.Background(), r, falseAt(start.Add(32*time.Minute))))
	assert.Len(t, sink.titles, 2)
}

func TestNotifyErrorHonorsPreference(t *testing.T) {
	sink := &fakeSink{}
	h := newTestHandler(newFakeTriggerStore(), sink, time.Now())
	r := triggerRule(0)

	h.NotifyError(context.Background(), r, "evaluation panic: boom")
	assert.Empty(t, sink.sent, "error alerts are opt-in")

	r.Notify.AlertOn.Error = true
	h.NotifyError(context.Background(), r, "evaluation panic: boom")
	assert.Len(t, sink.sent, 1)
	assert.Contains(t, sink.sent[0], "boom")
	assert.Contains(t, sink.titles[0], "Rule error")
}

func TestHandleRespectsAlertOnPreference(t *testing.T) {
	store := newFakeTriggerStore()
	sink := &fakeSink{}
	now := time.Now()
	h := newTestHandler(store, sink, now)
	r := triggerRule(0)
	r.Notify.AlertOn.Trigger = false

	fired := h.Handle(context.Background(), r, trueReport(now))

	assert.True(t, fired)
	assert.Len(t, store.records, 1)
	assert.Empty(t, sink.sent)
}
