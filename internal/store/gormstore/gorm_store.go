package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"sentinel/internal/rule"
	storemodel "sentinel/internal/store/model"
)

type triggerRecordModel = storemodel.TriggerRecordModel
type ruleStatsModel = storemodel.RuleStatsModel

// GormStore persists trigger records and rule stats in SQLite via Gorm.
type GormStore struct {
	db *gorm.DB
}

func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&triggerRecordModel{}, &ruleStatsModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append writes one trigger record. Record IDs are unique; replays of the
// same ID are rejected by the primary key.
func (s *GormStore) Append(ctx context.Context, rec rule.TriggerRecord) error {
	snapshot, err := json.Marshal(rec.Snapshot)
	if err != nil {
		return fmt.Errorf("encode trigger snapshot: %w", err)
	}
	m := triggerRecordModel{
		ID:            rec.ID,
		RuleID:        rec.RuleID,
		Owner:         rec.Owner,
		TriggeredAt:   rec.TriggeredAt.Unix(),
		SnapshotJSON:  datatypes.JSON(snapshot),
		Message:       rec.Message,
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ListRecent returns the newest trigger records, optionally filtered by rule.
func (s *GormStore) ListRecent(ctx context.Context, ruleID string, limit int) ([]rule.TriggerRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&triggerRecordModel{}).
		Order("triggered_at DESC").Limit(limit)
	if ruleID != "" {
		q = q.Where("rule_id = ?", ruleID)
	}
	var rows []triggerRecordModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rule.TriggerRecord, 0, len(rows))
	for _, row := range rows {
		rec := rule.TriggerRecord{
			ID:          row.ID,
			RuleID:      row.RuleID,
			Owner:       row.Owner,
			TriggeredAt: time.Unix(row.TriggeredAt, 0),
			Message:     row.Message,
		}
		if len(row.SnapshotJSON) > 0 {
			if err := json.Unmarshal(row.SnapshotJSON, &rec.Snapshot); err != nil {
				return nil, fmt.Errorf("decode trigger snapshot %s: %w", row.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveRuleStats upserts the evaluation counters for one rule.
func (s *GormStore) SaveRuleStats(ctx context.Context, ruleID string, stats rule.Stats) error {
	m := ruleStatsModel{
		RuleID:          ruleID,
		LastEvaluatedAt: unixOrZero(stats.LastEvaluatedAt),
		LastTriggeredAt: unixOrZero(stats.LastTriggeredAt),
		TriggerCount:    stats.TriggerCount,
		SuppressedCount: stats.SuppressedCount,
		LastResult:      stats.LastResult,
		UpdatedAtUnix:   time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// RuleStats loads persisted counters, used to rehydrate cooldown state on
// startup.
func (s *GormStore) RuleStats(ctx context.Context, ruleID string) (rule.Stats, bool, error) {
	var row ruleStatsModel
	err := s.db.WithContext(ctx).First(&row, "rule_id = ?", ruleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rule.Stats{}, false, nil
	}
	if err != nil {
		return rule.Stats{}, false, err
	}
	return rule.Stats{
		LastEvaluatedAt: timeOrZero(row.LastEvaluatedAt),
		LastTriggeredAt: timeOrZero(row.LastTriggeredAt),
		TriggerCount:    row.TriggerCount,
		SuppressedCount: row.SuppressedCount,
		LastResult:      row.LastResult,
	}, true, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
