package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, page, limit int) ([]model.Notification, int64, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, id, recipientID uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error

	CreateEmailLog(ctx context.Context, log *model.EmailLog) error
	UpdateEmailLog(ctx context.Context, log *model.EmailLog) error
	ListEmailLogs(ctx context.Context, status string, page, limit int) ([]model.EmailLog, int64, error)

	// FindRetryable returns FAILED rows whose backoff window has elapsed,
	// oldest first, bounded by limit.
	FindRetryable(ctx context.Context, now time.Time, limit int) ([]model.EmailLog, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return GetDB(ctx, r.db).Create(n).Error
}

func (r *notificationRepository) List(ctx context.Context, recipientID uuid.UUID, unreadOnly bool, page, limit int) ([]model.Notification, int64, error) {
	var notifications []model.Notification
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Notification{}).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("read = false")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&notifications).Error; err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Notification{}).
		Where("recipient_id = ? AND read = false", recipientID).
		Count(&count).Error
	return count, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID uuid.UUID) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Notification{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("read", true)
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Notification{}).
		Where("recipient_id = ? AND read = false", recipientID).
		Update("read", true)
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Notification{}).Error
}

func (r *notificationRepository) CreateEmailLog(ctx context.Context, log *model.EmailLog) error {
	return GetDB(ctx, r.db).Create(log).Error
}

func (r *notificationRepository) UpdateEmailLog(ctx context.Context, log *model.EmailLog) error {
	return GetDB(ctx, r.db).Save(log).Error
}

func (r *notificationRepository) ListEmailLogs(ctx context.Context, status string, page, limit int) ([]model.EmailLog, int64, error) {
	var logs []model.EmailLog
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.EmailLog{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

func (r *notificationRepository) FindRetryable(ctx context.Context, now time.Time, limit int) ([]model.EmailLog, error) {
	var logs []model.EmailLog
	err := GetDB(ctx, r.db).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", model.EmailStatusFailed, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
