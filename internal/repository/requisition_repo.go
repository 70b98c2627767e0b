package repository

import (
	"context"
	"time"

	"backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequisitionFilter narrows List results. Zero values mean no filter.
type RequisitionFilter struct {
	RequesterID *uuid.UUID
	Status      string
	Page        int
	Limit       int
}

type RequisitionRepository interface {
	Create(ctx context.Context, req *model.Requisition) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Requisition, error)
	FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.Requisition, error)
	List(ctx context.Context, filter RequisitionFilter) ([]model.Requisition, int64, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Requisition, error)

	// UpdateStatusIf performs the compare-and-set transition: the row moves
	// to newStatus only when its current status equals expected. Returns the
	// number of rows affected; zero means the precondition failed.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, newStatus string) (int64, error)

	AppendApproval(ctx context.Context, approval *model.Approval) error
	AppendStatusHistory(ctx context.Context, entry *model.StatusHistory) error
	ListStatusHistory(ctx context.Context, requisitionID uuid.UUID) ([]model.StatusHistory, error)

	// ListApprovedUnviewed returns the rows MarkApprovedViewed would stamp.
	ListApprovedUnviewed(ctx context.Context) ([]model.Requisition, error)

	// MarkApprovedViewed stamps AdminViewedAt on all and only rows with
	// status APPROVED and a null AdminViewedAt. Returns the affected count.
	MarkApprovedViewed(ctx context.Context, at time.Time) (int64, error)
}

type requisitionRepository struct {
	db *gorm.DB
}

func NewRequisitionRepository(db *gorm.DB) RequisitionRepository {
	return &requisitionRepository{db: db}
}

// Create persists the requisition header together with its items; gorm
// inserts the association rows in the same statement batch, and the caller
// wraps this in the transaction manager so header-without-items is never
// visible.
func (r *requisitionRepository) Create(ctx context.Context, req *model.Requisition) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requisitionRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Requisition, error) {
	var req model.Requisition
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requisitionRepository) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.Requisition, error) {
	var req model.Requisition
	err := GetDB(ctx, r.db).
		Preload("Requester").
		Preload("Items").
		Preload("Items.Product").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requisitionRepository) List(ctx context.Context, filter RequisitionFilter) ([]model.Requisition, int64, error) {
	var reqs []model.Requisition
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Requisition{})
	if filter.RequesterID != nil {
		query = query.Where("requester_id = ?", *filter.RequesterID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := query.Preload("Requester").Preload("Items").
		Order("created_at DESC").Offset(offset).Limit(filter.Limit).Find(&reqs).Error; err != nil {
		return nil, 0, err
	}

	return reqs, total, nil
}

func (r *requisitionRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Requisition, error) {
	var reqs []model.Requisition
	err := GetDB(ctx, r.db).
		Preload("Requester").
		Where("status = ? AND created_at < ?", model.ReqStatusPending, cutoff).
		Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *requisitionRepository) UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, newStatus string) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Requisition{}).
		Where("id = ? AND status = ?", id, expected).
		Update("status", newStatus)
	return result.RowsAffected, result.Error
}

func (r *requisitionRepository) AppendApproval(ctx context.Context, approval *model.Approval) error {
	return GetDB(ctx, r.db).Create(approval).Error
}

func (r *requisitionRepository) AppendStatusHistory(ctx context.Context, entry *model.StatusHistory) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *requisitionRepository) ListStatusHistory(ctx context.Context, requisitionID uuid.UUID) ([]model.StatusHistory, error) {
	var entries []model.StatusHistory
	err := GetDB(ctx, r.db).
		Where("requisition_id = ?", requisitionID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *requisitionRepository) ListApprovedUnviewed(ctx context.Context) ([]model.Requisition, error) {
	var rows []model.Requisition
	err := GetDB(ctx, r.db).
		Where("status = ? AND admin_viewed_at IS NULL", model.ReqStatusApproved).
		Find(&rows).Error
	return rows, err
}

func (r *requisitionRepository) MarkApprovedViewed(ctx context.Context, at time.Time) (int64, error) {
	result := GetDB(ctx, r.db).Model(&model.Requisition{}).
		Where("status = ? AND admin_viewed_at IS NULL", model.ReqStatusApproved).
		Update("admin_viewed_at", at)
	return result.RowsAffected, result.Error
}
