package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
)

// OutboxStats counts outbox rows by status.
type OutboxStats struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// OutboxRepository stores effects awaiting delivery.
type OutboxRepository interface {
	// Enqueue inserts records. Used inside the pipeline transaction.
	Enqueue(ctx context.Context, records []entities.OutboxRecord) error

	// Due returns pending rows whose next attempt is at or before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]entities.OutboxRecord, error)

	// MarkDelivered records a successful delivery.
	MarkDelivered(ctx context.Context, id uint, at time.Time) error

	// MarkRetry records a failed attempt and schedules the next one.
	MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error

	// MarkFailed moves a row to the dead-letter state.
	MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error

	// Requeue resets failed rows to pending, returning how many were reset.
	Requeue(ctx context.Context, now time.Time) (int64, error)

	// ListByObservation returns the rows produced for an observation, oldest first.
	ListByObservation(ctx context.Context, observationID uint) ([]entities.OutboxRecord, error)

	// Stats counts rows per status.
	Stats(ctx context.Context) (OutboxStats, error)
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, records []entities.OutboxRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&records, upsertBatchSize).Error; err != nil {
		return dbError(err, "enqueue_effects", "", "count", len(records))
	}
	return nil
}

func (r *outboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]entities.OutboxRecord, error) {
	var records []entities.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", entities.OutboxPending, now).
		Order("next_attempt_at ASC, id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, dbError(err, "list_due_effects", "")
	}
	return records, nil
}

func (r *outboxRepository) update(ctx context.Context, id uint, op string, fields map[string]any) error {
	result := r.db.WithContext(ctx).Model(&entities.OutboxRecord{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return dbError(result.Error, op, "", "outbox_id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError("outbox_record", id)
	}
	return nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id uint, at time.Time) error {
	return r.update(ctx, id, "mark_delivered", map[string]any{
		"status":       entities.OutboxDelivered,
		"delivered_at": at,
		"last_error":   "",
	})
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error {
	return r.update(ctx, id, "mark_retry", map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next,
		"last_error":      lastErr,
	})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uint, attempts int, lastErr string) error {
	return r.update(ctx, id, "mark_failed", map[string]any{
		"status":     entities.OutboxFailed,
		"attempts":   attempts,
		"last_error": lastErr,
	})
}

func (r *outboxRepository) Requeue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.OutboxRecord{}).
		Where("status = ?", entities.OutboxFailed).
		Updates(map[string]any{
			"status":          entities.OutboxPending,
			"attempts":        0,
			"next_attempt_at": now,
		})
	if result.Error != nil {
		return 0, dbError(result.Error, "requeue_failed", "")
	}
	return result.RowsAffected, nil
}

func (r *outboxRepository) ListByObservation(ctx context.Context, observationID uint) ([]entities.OutboxRecord, error) {
	var records []entities.OutboxRecord
	err := r.db.WithContext(ctx).
		Where("observation_id = ?", observationID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, dbError(err, "list_observation_effects", "", "observation_id", observationID)
	}
	return records, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var rows []struct {
		Status entities.OutboxStatus
		N      int64
	}
	err := r.db.WithContext(ctx).Model(&entities.OutboxRecord{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return OutboxStats{}, dbError(err, "outbox_stats", "")
	}
	var stats OutboxStats
	for _, row := range rows {
		switch row.Status {
		case entities.OutboxPending:
			stats.Pending = row.N
		case entities.OutboxDelivered:
			stats.Delivered = row.N
		case entities.OutboxFailed:
			stats.Failed = row.N
		}
	}
	return stats, nil
}
