package rulefile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sentinel/internal/logger"
	"sentinel/internal/rule"
)

// FileConfig maps the rules file.
type FileConfig struct {
	Rules []*rule.Rule `yaml:"rules"`
}

// Store loads monitoring rules from one YAML file and watches it for edits.
// Rules that fail validation are quarantined in error status instead of
// taking the rest of the file down.
type Store struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	rules    map[string]*rule.Rule
	order    []string
	loadedAt time.Time

	changes chan struct{}
}

// New reads the rule file and starts watching it for updates.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("rule store requires path")
	}
	s := &Store{
		path:    path,
		rules:   make(map[string]*rule.Rule),
		changes: make(chan struct{}, 1),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rule file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := s.reload(); err != nil {
			logger.Errorf("rule file reload failed: %v", err)
			return
		}
		s.signal()
	})
	v.WatchConfig()
	s.v = v
	return s, nil
}

// Changes signals whenever the backing file was reloaded after an edit.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// ListActiveRules returns the rules eligible for scheduling, in file order.
func (s *Store) ListActiveRules(ctx context.Context) ([]*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rule.Rule, 0, len(s.order))
	for _, id := range s.order {
		if r := s.rules[id]; r != nil && r.Status == rule.StatusActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// Rule returns any known rule regardless of status.
func (s *Store) Rule(ctx context.Context, id string) (*rule.Rule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[strings.TrimSpace(id)]
	return r, ok, nil
}

// ListRules returns every loaded rule, quarantined ones included.
func (s *Store) ListRules(ctx context.Context) ([]*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rule.Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id])
	}
	return out, nil
}

// MarkRuleStatus parks or reactivates a rule until the next file reload. The
// change channel fires so the scheduler drops an errored rule right away
// instead of waiting out its reload interval.
func (s *Store) MarkRuleStatus(ctx context.Context, ruleID string, status rule.Status, cause string) error {
	s.mu.Lock()
	r, ok := s.rules[ruleID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("rule %s not found", ruleID)
	}
	r.Status = status
	r.StatusCause = cause
	s.mu.Unlock()
	s.signal()
	return nil
}

// reload re-reads the file. Evaluation stats and runtime status survive a
// reload for rules that keep their ID, so a file edit does not reset
// cooldowns mid-window.
func (s *Store) reload() error {
	cfg, err := readRuleFile(s.path)
	if err != nil {
		return err
	}

	next := make(map[string]*rule.Rule, len(cfg.Rules))
	order := make([]string, 0, len(cfg.Rules))
	quarantined := 0
	for i, r := range cfg.Rules {
		if r == nil {
			continue
		}
		if r.ID == "" {
			logger.Errorf("rule file %s: entry %d has no id, skipping", filepath.Base(s.path), i)
			continue
		}
		if _, dup := next[r.ID]; dup {
			logger.Errorf("rule file %s: duplicate rule id %s, keeping first", filepath.Base(s.path), r.ID)
			continue
		}
		if err := r.Resolve(); err != nil {
			r.Status = rule.StatusError
			r.StatusCause = err.Error()
			quarantined++
			logger.Errorf("rule %s quarantined: %v", r.ID, err)
		}
		next[r.ID] = r
		order = append(order, r.ID)
	}

	s.mu.Lock()
	for id, r := range next {
		if prev, ok := s.rules[id]; ok {
			r.ShareStats(prev)
		}
	}
	s.rules = next
	s.order = order
	s.loadedAt = time.Now()
	s.mu.Unlock()

	logger.Infof("rule store loaded %d rules (%d quarantined) from %s",
		len(order), quarantined, filepath.Base(s.path))
	return nil
}

func (s *Store) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func readRuleFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read rule file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var cfg FileConfig
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse rule file: %w", err)
	}
	return cfg, nil
}
