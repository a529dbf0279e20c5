package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sentinel/internal/logger"
	"sentinel/internal/rule"
)

// RuleStore is the scheduler's view of rule persistence. Changes returns a
// channel that receives a signal whenever the backing store detects an
// external edit; a nil channel is valid and means no change notifications.
type RuleStore interface {
	ListActiveRules(ctx context.Context) ([]*rule.Rule, error)
	Rule(ctx context.Context, id string) (*rule.Rule, bool, error)
	MarkRuleStatus(ctx context.Context, ruleID string, status rule.Status, cause string) error
	Changes() <-chan struct{}
}

type SchedulerConfig struct {
	Heartbeat      time.Duration
	TickTimeout    time.Duration
	ReloadInterval time.Duration
	MaxParallel    int
}

func (c *SchedulerConfig) withDefaults() SchedulerConfig {
	out := *c
	if out.Heartbeat <= 0 {
		out.Heartbeat = 5 * time.Second
	}
	if out.TickTimeout <= 0 {
		out.TickTimeout = 30 * time.Second
	}
	if out.ReloadInterval <= 0 {
		out.ReloadInterval = time.Minute
	}
	if out.MaxParallel <= 0 {
		out.MaxParallel = 4
	}
	return out
}

// Scheduler drives rule evaluation in batches. A heartbeat ticker collects
// every rule whose next-due time has passed, prefetches the union of their
// data keys once, then evaluates the batch concurrently. One slow or broken
// rule never blocks the rest of the batch past the tick deadline.
type Scheduler struct {
	cfg        SchedulerConfig
	rules      RuleStore
	prefetcher *Prefetcher
	conditions *ConditionEvaluator
	triggers   *TriggerHandler

	mu      sync.Mutex
	active  []*rule.Rule
	nextDue map[string]time.Time

	reloadCh chan struct{}
	nowFn    func() time.Time
}

func NewScheduler(rules RuleStore, prefetcher *Prefetcher, triggers *TriggerHandler, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		rules:      rules,
		prefetcher: prefetcher,
		conditions: NewConditionEvaluator(),
		triggers:   triggers,
		nextDue:    make(map[string]time.Time),
		reloadCh:   make(chan struct{}, 1),
		nowFn:      time.Now,
	}
}

// ReloadNow requests an asynchronous rule reload. Safe from any goroutine.
func (s *Scheduler) ReloadNow() {
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return fmt.Errorf("initial rule load: %w", err)
	}

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	reload := time.NewTicker(s.cfg.ReloadInterval)
	defer reload.Stop()
	changes := s.rules.Changes()

	logger.Infof("scheduler started, heartbeat %s", s.cfg.Heartbeat)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler stopping: %v", ctx.Err())
			return nil
		case <-changes:
			if err := s.reload(ctx); err != nil {
				logger.Errorf("scheduler: reload after change failed: %v", err)
			}
		case <-s.reloadCh:
			if err := s.reload(ctx); err != nil {
				logger.Errorf("scheduler: requested reload failed: %v", err)
			}
		case <-reload.C:
			if err := s.reload(ctx); err != nil {
				logger.Errorf("scheduler: periodic reload failed: %v", err)
			}
		case <-heartbeat.C:
			s.tick(ctx)
		}
	}
}

// reload swaps in the current active rule set. Due times of surviving rules
// are preserved so a reload does not stampede every rule at once; new rules
// become due immediately.
func (s *Scheduler) reload(ctx context.Context) error {
	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	due := make(map[string]time.Time, len(rules))
	now := s.nowFn()
	for _, r := range rules {
		if at, ok := s.nextDue[r.ID]; ok {
			due[r.ID] = at
		} else {
			due[r.ID] = now
		}
	}
	s.active = rules
	s.nextDue = due
	logger.Infof("scheduler: loaded %d active rules", len(rules))
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.nowFn()

	s.mu.Lock()
	var due []*rule.Rule
	for _, r := range s.active {
		if at, ok := s.nextDue[r.ID]; ok && !at.After(now) {
			due = append(due, r)
			s.nextDue[r.ID] = now.Add(r.Interval)
		}
	}
	s.mu.Unlock()
	if len(due) == 0 {
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	snap := s.prefetcher.Snapshot(tickCtx, batchRequests(due))

	g, gctx := errgroup.WithContext(tickCtx)
	g.SetLimit(s.cfg.MaxParallel)
	for _, r := range due {
		r := r
		g.Go(func() error {
			s.evaluateRule(gctx, r, snap)
			return nil
		})
	}
	_ = g.Wait()

	m := s.prefetcher.Metrics()
	logger.Debugf("scheduler: tick evaluated %d rules in %s (cache hits %d misses %d fetch errors %d)",
		len(due), time.Since(now), m.CacheHits, m.CacheMisses, m.FetchErrors)
}

// batchRequests unions the required keys of all due rules. Each key carries
// the shortest interval of any rule that needs it so the cache never serves
// data staler than the fastest consumer tolerates.
func batchRequests(due []*rule.Rule) []KeyRequest {
	reqs := make([]KeyRequest, 0, len(due))
	for _, r := range due {
		for _, key := range r.RequiredKeys() {
			reqs = append(reqs, KeyRequest{Key: key, MaxTTL: r.Interval})
		}
	}
	return reqs
}

// evaluateRule runs one rule against the shared snapshot. A panic inside
// evaluation is contained to this rule: it is logged, the rule is parked in
// error status, and the rest of the batch continues.
func (s *Scheduler) evaluateRule(ctx context.Context, r *rule.Rule, snap *Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			cause := fmt.Sprintf("evaluation panic: %v", rec)
			logger.Errorf("rule %s: %s\n%s", r.ID, cause, debug.Stack())
			if err := s.rules.MarkRuleStatus(ctx, r.ID, rule.StatusError, cause); err != nil {
				logger.Errorf("rule %s: marking error status failed: %v", r.ID, err)
			}
			s.triggers.NotifyError(ctx, r, cause)
		}
	}()

	report := s.evaluate(r, snap)
	s.triggers.Handle(ctx, r, report)
}

// evaluate reduces the rule's logic tree over lazily computed condition
// outcomes. Short-circuited siblings are never evaluated; each condition is
// evaluated at most once even when referenced by multiple tree leaves.
func (s *Scheduler) evaluate(r *rule.Rule, snap *Snapshot) *EvalReport {
	outcomes := make(map[string]Outcome, len(r.Conditions))
	leaf := func(id string) Result {
		if o, ok := outcomes[id]; ok {
			return o.Result
		}
		c, ok := r.Condition(id)
		if !ok {
			o := outcome(Indeterminate, "unknown condition "+id)
			outcomes[id] = o
			return o.Result
		}
		o := s.conditions.Evaluate(c, snap)
		outcomes[id] = o
		return o.Result
	}
	res := Reduce(r.Logic, leaf)
	return &EvalReport{
		RuleID:      r.ID,
		RuleName:    r.Name,
		Result:      res,
		ResultLabel: res.String(),
		Conditions:  outcomes,
		EvaluatedAt: snap.TakenAt,
		MissingKeys: snap.MissingCount(),
	}
}

// Simulate runs the full evaluation pipeline for one rule without touching
// cooldowns, trigger records, or notifications.
func (s *Scheduler) Simulate(ctx context.Context, ruleID string) (*EvalReport, error) {
	r, ok, err := s.rules.Rule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("rule %s not found", ruleID)
	}
	snap := s.prefetcher.Snapshot(ctx, batchRequests([]*rule.Rule{r}))
	return s.evaluate(r, snap), nil
}
