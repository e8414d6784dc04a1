package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"pulse/internal/bot"
	"pulse/internal/store"
	"pulse/internal/store/model"
)

func (s *Store) CreateExecution(ctx context.Context, exec *bot.Execution) error {
	if exec == nil || exec.SignalID == "" || exec.UserID == "" {
		return fmt.Errorf("execution requires signal_id and user_id")
	}
	row, err := toExecutionModel(exec)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Create(row).Error
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicateExecution
	}
	if err != nil {
		return err
	}
	exec.ID = row.ID
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id int64) (*bot.Execution, error) {
	var row model.BotExecutionModel
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromExecutionModel(&row)
}

func (s *Store) FindExecution(ctx context.Context, signalID, userID string) (*bot.Execution, error) {
	var row model.BotExecutionModel
	err := s.db.WithContext(ctx).
		First(&row, "signal_id = ? AND user_id = ?", signalID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromExecutionModel(&row)
}

func (s *Store) UpdateExecution(ctx context.Context, exec *bot.Execution) error {
	if exec == nil || exec.ID == 0 {
		return fmt.Errorf("execution requires an id")
	}
	exec.UpdatedAt = time.Now().UTC()
	row, err := toExecutionModel(exec)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Model(&model.BotExecutionModel{}).
		Where("id = ?", exec.ID).
		Updates(map[string]any{
			"status":             row.Status,
			"actual_entry_price": row.ActualEntryPrice,
			"slippage":           row.Slippage,
			"latency_ms":         row.LatencyMs,
			"updated_at":         row.UpdatedAtUnix,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, signalID string) ([]bot.Execution, error) {
	var rows []model.BotExecutionModel
	err := s.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]bot.Execution, 0, len(rows))
	for i := range rows {
		exec, err := fromExecutionModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *exec)
	}
	return out, nil
}

func toExecutionModel(exec *bot.Execution) (*model.BotExecutionModel, error) {
	validationErrors, err := json.Marshal(exec.ValidationErrors)
	if err != nil {
		return nil, err
	}
	created := exec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := exec.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	return &model.BotExecutionModel{
		ID:               exec.ID,
		SignalID:         exec.SignalID,
		UserID:           exec.UserID,
		Status:           string(exec.Status),
		ValidationPassed: exec.ValidationPassed,
		ValidationErrors: validationErrors,
		SignalPrice:      exec.SignalPrice,
		ActualEntryPrice: exec.ActualEntryPrice,
		Slippage:         exec.Slippage,
		LatencyMs:        exec.LatencyMs,
		CreatedAtUnix:    created.UnixMilli(),
		UpdatedAtUnix:    updated.UnixMilli(),
	}, nil
}

func fromExecutionModel(row *model.BotExecutionModel) (*bot.Execution, error) {
	exec := &bot.Execution{
		ID:               row.ID,
		SignalID:         row.SignalID,
		UserID:           row.UserID,
		Status:           bot.ExecutionStatus(row.Status),
		ValidationPassed: row.ValidationPassed,
		SignalPrice:      row.SignalPrice,
		ActualEntryPrice: row.ActualEntryPrice,
		Slippage:         row.Slippage,
		LatencyMs:        row.LatencyMs,
		CreatedAt:        time.UnixMilli(row.CreatedAtUnix).UTC(),
		UpdatedAt:        time.UnixMilli(row.UpdatedAtUnix).UTC(),
	}
	if len(row.ValidationErrors) > 0 {
		var errs []string
		if err := json.Unmarshal(row.ValidationErrors, &errs); err != nil {
			return nil, err
		}
		exec.ValidationErrors = errs
	}
	return exec, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
