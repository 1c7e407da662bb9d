package datastore

import (
	"context"

	"gorm.io/gorm"

	"github.com/tphakala/idconsensus/internal/datastore/entities"
)

// RequestRepository holds rows written by the effect reducer for downstream
// workers, and the processed message ledger that makes the reducer idempotent.
type RequestRepository interface {
	// MarkProcessed records messageID and reports whether it was new.
	MarkProcessed(ctx context.Context, messageID, kind string) (bool, error)

	AddListRefresh(ctx context.Context, req *entities.ListRefreshRequest) error
	AddNotification(ctx context.Context, n *entities.Notification) error

	ListRefreshes(ctx context.Context, userID uint) ([]entities.ListRefreshRequest, error)
	ListNotifications(ctx context.Context, userID uint) ([]entities.Notification, error)
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) MarkProcessed(ctx context.Context, messageID, kind string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&entities.ProcessedEffect{}).Where("message_id = ?", messageID).Count(&n).Error; err != nil {
		return false, dbError(err, "check_processed", "", "message_id", messageID)
	}
	if n > 0 {
		return false, nil
	}
	return insertOnce(r.db.WithContext(ctx), &entities.ProcessedEffect{MessageID: messageID, Kind: kind}, "mark_processed")
}

func (r *requestRepository) AddListRefresh(ctx context.Context, req *entities.ListRefreshRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return dbError(err, "add_list_refresh", "", "user_id", req.UserID)
	}
	return nil
}

func (r *requestRepository) AddNotification(ctx context.Context, n *entities.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return dbError(err, "add_notification", "", "user_id", n.UserID)
	}
	return nil
}

func (r *requestRepository) ListRefreshes(ctx context.Context, userID uint) ([]entities.ListRefreshRequest, error) {
	var reqs []entities.ListRefreshRequest
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&reqs).Error; err != nil {
		return nil, dbError(err, "list_refreshes", "", "user_id", userID)
	}
	return reqs, nil
}

func (r *requestRepository) ListNotifications(ctx context.Context, userID uint) ([]entities.Notification, error) {
	var ns []entities.Notification
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&ns).Error; err != nil {
		return nil, dbError(err, "list_notifications", "", "user_id", userID)
	}
	return ns, nil
}
