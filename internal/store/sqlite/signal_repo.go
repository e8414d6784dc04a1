package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pulse/internal/analysis/indicator"
	"pulse/internal/logger"
	"pulse/internal/signal"
	"pulse/internal/store"
	"pulse/internal/store/model"
)

func (s *Store) Create(ctx context.Context, sig *signal.Signal) error {
	if sig == nil || sig.ID == "" {
		return fmt.Errorf("signal requires an id")
	}
	row, err := toModel(sig)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *Store) Get(ctx context.Context, id string) (*signal.Signal, error) {
	var row model.SignalModel
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromModel(&row)
}

func (s *Store) FindActive(ctx context.Context, f store.ActiveFilter, now time.Time) ([]signal.Signal, error) {
	// Opportunistic sweep; correctness rests on the expires_at predicate
	// below, so a failed sweep is only logged.
	if _, err := s.ExpireOldSignals(ctx, now); err != nil {
		logger.Warnf("opportunistic expiry sweep failed: %v", err)
	}

	q := s.db.WithContext(ctx).
		Where("status = ? AND expires_at > ?", string(signal.StatusActive), now.UnixMilli()).
		Order("created_at DESC")
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.PublicOnly {
		q = q.Where("is_public = ?", true)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []model.SignalModel
	if err := q.Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromModels(rows)
}

func (s *Store) FindHistory(ctx context.Context, f store.HistoryFilter, now time.Time) ([]signal.Signal, error) {
	q := s.db.WithContext(ctx).
		Where("status <> ? OR expires_at <= ?", string(signal.StatusActive), now.UnixMilli()).
		Order("created_at DESC")
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	var rows []model.SignalModel
	if err := q.Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out, err := fromModels(rows)
	if err != nil {
		return nil, err
	}
	// Rows the sweep has not flipped yet still read as expired.
	for i := range out {
		out[i].Status = out[i].EffectiveStatus(now)
	}
	return out, nil
}

// Transition is the sole concurrency-control point: a conditional UPDATE that
// commits only when the persisted status still equals `from`. Exactly one of
// two racing transitions wins; the loser sees ErrAlreadyResolved.
func (s *Store) Transition(ctx context.Context, id string, from, to signal.Status, at time.Time) error {
	if from.Terminal() {
		return store.ErrAlreadyResolved
	}
	updates := map[string]any{"status": string(to)}
	switch to {
	case signal.StatusExecuted:
		updates["executed_at"] = at.UnixMilli()
	case signal.StatusCancelled:
		updates["cancelled_at"] = at.UnixMilli()
	}
	res := s.db.WithContext(ctx).
		Model(&model.SignalModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.SignalModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return store.ErrNotFound
		}
		return store.ErrAlreadyResolved
	}
	return nil
}

func (s *Store) ExpireOldSignals(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.SignalModel{}).
		Where("status = ? AND expires_at <= ?", string(signal.StatusActive), now.UnixMilli()).
		Update("status", string(signal.StatusExpired))
	return res.RowsAffected, res.Error
}

func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status <> ? AND created_at < ?", string(signal.StatusActive), cutoff.UnixMilli()).
		Delete(&model.SignalModel{})
	return res.RowsAffected, res.Error
}

func toModel(sig *signal.Signal) (*model.SignalModel, error) {
	snapshots, err := json.Marshal(sig.Snapshots)
	if err != nil {
		return nil, err
	}
	row := &model.SignalModel{
		ID:             sig.ID,
		Symbol:         sig.Symbol,
		Action:         string(sig.Action),
		Confidence:     sig.Confidence,
		Strength:       string(sig.Strength),
		ReferencePrice: sig.ReferencePrice,
		Status:         string(sig.Status),
		IsPublic:       sig.IsPublic,
		Rationale:      sig.Rationale,
		SnapshotsJSON:  snapshots,
		CreatedAtUnix:  sig.CreatedAt.UnixMilli(),
		ExpiresAtUnix:  sig.ExpiresAt.UnixMilli(),
	}
	if sig.ExecutedAt != nil {
		v := sig.ExecutedAt.UnixMilli()
		row.ExecutedAtUnix = &v
	}
	if sig.CancelledAt != nil {
		v := sig.CancelledAt.UnixMilli()
		row.CancelledAtUnix = &v
	}
	return row, nil
}

func fromModel(row *model.SignalModel) (*signal.Signal, error) {
	sig := &signal.Signal{
		ID:             row.ID,
		Symbol:         row.Symbol,
		Action:         signal.Action(row.Action),
		Confidence:     row.Confidence,
		Strength:       signal.Strength(row.Strength),
		ReferencePrice: row.ReferencePrice,
		Status:         signal.Status(row.Status),
		IsPublic:       row.IsPublic,
		Rationale:      row.Rationale,
		CreatedAt:      time.UnixMilli(row.CreatedAtUnix).UTC(),
		ExpiresAt:      time.UnixMilli(row.ExpiresAtUnix).UTC(),
	}
	if len(row.SnapshotsJSON) > 0 {
		snapshots := map[string]indicator.Snapshot{}
		if err := json.Unmarshal(row.SnapshotsJSON, &snapshots); err != nil {
			return nil, err
		}
		sig.Snapshots = snapshots
	}
	if row.ExecutedAtUnix != nil {
		v := time.UnixMilli(*row.ExecutedAtUnix).UTC()
		sig.ExecutedAt = &v
	}
	if row.CancelledAtUnix != nil {
		v := time.UnixMilli(*row.CancelledAtUnix).UTC()
		sig.CancelledAt = &v
	}
	return sig, nil
}

func fromModels(rows []model.SignalModel) ([]signal.Signal, error) {
	out := make([]signal.Signal, 0, len(rows))
	for i := range rows {
		sig, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *sig)
	}
	return out, nil
}
