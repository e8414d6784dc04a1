package model

import (
	"gorm.io/datatypes"
)

type SignalModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Action         string         `gorm:"column:action"`
	Confidence     float64        `gorm:"column:confidence"`
	Strength       string         `gorm:"column:strength"`
	ReferencePrice float64        `gorm:"column:reference_price"`
	Status         string         `gorm:"column:status;index:idx_signals_status_expiry,priority:1"`
	IsPublic       bool           `gorm:"column:is_public"`
	Rationale      string         `gorm:"column:rationale"`
	SnapshotsJSON  datatypes.JSON `gorm:"column:snapshots_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at;index"`
	ExpiresAtUnix  int64          `gorm:"column:expires_at;index:idx_signals_status_expiry,priority:2"`

	ExecutedAtUnix  *int64 `gorm:"column:executed_at"`
	CancelledAtUnix *int64 `gorm:"column:cancelled_at"`
}

func (SignalModel) TableName() string { return "signals" }

type BotExecutionModel struct {
	ID               int64          `gorm:"column:id;primaryKey;autoIncrement"`
	SignalID         string         `gorm:"column:signal_id;uniqueIndex:idx_execution_signal_user,priority:1"`
	UserID           string         `gorm:"column:user_id;uniqueIndex:idx_execution_signal_user,priority:2"`
	Status           string         `gorm:"column:status"`
	ValidationPassed bool           `gorm:"column:validation_passed"`
	ValidationErrors datatypes.JSON `gorm:"column:validation_errors;type:TEXT"`
	SignalPrice      float64        `gorm:"column:signal_price"`
	ActualEntryPrice float64        `gorm:"column:actual_entry_price"`
	Slippage         float64        `gorm:"column:slippage"`
	LatencyMs        int64          `gorm:"column:latency_ms"`
	CreatedAtUnix    int64          `gorm:"column:created_at"`
	UpdatedAtUnix    int64          `gorm:"column:updated_at"`
}

func (BotExecutionModel) TableName() string { return "bot_executions" }
