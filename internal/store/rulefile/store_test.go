package rulefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"sentinel/internal/rule"
)

const goodRules = `rules:
  - id: btc-breakout
    owner: alice
    name: BTC breakout
    schedule: 1m
    conditions:
      - id: c1
        type: price_alert
        enabled: true
        payload:
          asset: BTC
          direction: above
          target_price: 50000
    logic:
      ref: c1
    notify:
      alert_on:
        trigger: true
      cooldown:
        enabled: true
        duration: 30m
  - id: broken
    owner: alice
    name: broken rule
    schedule: every now and then
    conditions:
      - id: c1
        type: price_alert
        enabled: true
        payload:
          asset: BTC
          direction: above
          target_price: 1
    logic:
      ref: c1
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewQuarantinesInvalidRules(t *testing.T) {
	s, err := New(writeRules(t, goodRules))
	assert.NoError(t, err)

	ctx := context.Background()
	active, err := s.ListActiveRules(ctx)
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, "btc-breakout", active[0].ID)

	broken, ok, err := s.Rule(ctx, "broken")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rule.StatusError, broken.Status)
	assert.Contains(t, broken.StatusCause, "schedule")

	all, err := s.ListRules(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMarkRuleStatus(t *testing.T) {
	s, err := New(writeRules(t, goodRules))
	assert.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, s.MarkRuleStatus(ctx, "btc-breakout", rule.StatusError, "evaluation panic"))
	active, _ := s.ListActiveRules(ctx)
	assert.Empty(t, active)

	assert.Error(t, s.MarkRuleStatus(ctx, "ghost", rule.StatusPaused, ""))
}

func TestMarkRuleStatusSignalsChange(t *testing.T) {
	s, err := New(writeRules(t, goodRules))
	assert.NoError(t, err)

	assert.NoError(t, s.MarkRuleStatus(context.Background(), "btc-breakout", rule.StatusError, "evaluation panic"))
	select {
	case <-s.Changes():
	default:
		t.Fatal("status mark must signal the change channel")
	}
}

func TestReloadPreservesStats(t *testing.T) {
	s, err := New(writeRules(t, goodRules))
	assert.NoError(t, err)

	ctx := context.Background()
	r, ok, _ := s.Rule(ctx, "btc-breakout")
	assert.True(t, ok)
	r.SetStats(rule.Stats{TriggerCount: 7})

	assert.NoError(t, s.reload())
	reloaded, ok, _ := s.Rule(ctx, "btc-breakout")
	assert.True(t, ok)
	assert.Equal(t, int64(7), reloaded.StatsSnapshot().TriggerCount, "cooldown state survives a file edit")
}

func TestReloadKeepsStatUpdatesFromConcurrentWriters(t *testing.T) {
	s, err := New(writeRules(t, goodRules))
	assert.NoError(t, err)

	ctx := context.Background()
	r, ok, _ := s.Rule(ctx, "btc-breakout")
	assert.True(t, ok)

	// a scheduler goroutine keeps bumping counters while the watch goroutine
	// reloads the file underneath it
	const writes = 500
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < writes; i++ {
			r.UpdateStats(func(st *rule.Stats) { st.TriggerCount++ })
		}
	}()
	for i := 0; i < 25; i++ {
		assert.NoError(t, s.reload())
	}
	<-done

	reloaded, ok, _ := s.Rule(ctx, "btc-breakout")
	assert.True(t, ok)
	assert.Equal(t, int64(writes), reloaded.StatsSnapshot().TriggerCount,
		"no update may be lost across reloads")
}

func TestNewRejectsUnreadableFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = New("")
	assert.Error(t, err)
}

func TestDuplicateIDsKeepFirst(t *testing.T) {
	content := `rules:
  - id: dup
    schedule: 1m
    conditions:
      - id: c1
        type: price_alert
        enabled: true
        payload: {asset: BTC, direction: above, target_price: 1}
    logic: {ref: c1}
  - id: dup
    schedule: 5m
    conditions:
      - id: c1
        type: price_alert
        enabled: true
        payload: {asset: ETH, direction: above, target_price: 2}
    logic: {ref: c1}
`
	s, err := New(writeRules(t, content))
	assert.NoError(t, err)
	all, _ := s.ListRules(context.Background())
	assert.Len(t, all, 1)
	assert.Equal(t, "1m", all[0].Schedule)
}
