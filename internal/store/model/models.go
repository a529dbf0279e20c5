package model

import "gorm.io/datatypes"

// TriggerRecordModel is the audit row written for every fired rule.
type TriggerRecordModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	RuleID        string         `gorm:"column:rule_id;index:idx_trigger_rule"`
	Owner         string         `gorm:"column:owner;index:idx_trigger_owner"`
	TriggeredAt   int64          `gorm:"column:triggered_at;index:idx_trigger_at"`
	SnapshotJSON  datatypes.JSON `gorm:"column:snapshot_json;type:TEXT"`
	Message       string         `gorm:"column:message;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (TriggerRecordModel) TableName() string { return "trigger_records" }

// RuleStatsModel persists per-rule evaluation counters across restarts.
type RuleStatsModel struct {
	RuleID          string `gorm:"column:rule_id;primaryKey"`
	LastEvaluatedAt int64  `gorm:"column:last_evaluated_at"`
	LastTriggeredAt int64  `gorm:"column:last_triggered_at"`
	TriggerCount    int64  `gorm:"column:trigger_count"`
	SuppressedCount int64  `gorm:"column:suppressed_count"`
	LastResult      string `gorm:"column:last_result"`
	UpdatedAtUnix   int64  `gorm:"column:updated_at"`
}

func (RuleStatsModel) TableName() string { return "rule_stats" }
