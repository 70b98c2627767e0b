package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperr"
	"backend/pkg/cache"
	"backend/pkg/logger"
)

// --- DTOs ---

type RequisitionItemInput struct {
	ProductID string          `json:"product_id" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

type CreateRequisitionDTO struct {
	Items []RequisitionItemInput `json:"items" binding:"required"`
	Note  string                 `json:"note"`

	// IdempotencyKey deduplicates rapid repeat submissions. Optional; a
	// payload hash is derived when absent.
	IdempotencyKey string `json:"-"`
}

type DecideDTO struct {
	Comment string `json:"comment"`
}

type RequisitionItemResponse struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type RequisitionResponse struct {
	ID            string                    `json:"id"`
	RequesterID   string                    `json:"requester_id"`
	RequesterName string                    `json:"requester_name,omitempty"`
	Status        string                    `json:"status"`
	TotalAmount   string                    `json:"total_amount"`
	IssueNote     string                    `json:"issue_note,omitempty"`
	AdminViewedAt *string                   `json:"admin_viewed_at"`
	Items         []RequisitionItemResponse `json:"items"`
	CreatedAt     string                    `json:"created_at"`
}

type StatusHistoryResponse struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type RequisitionFilter struct {
	RequesterID string
	Status      string
	Page        int
	Limit       int
}

// --- Interface ---

type RequisitionService interface {
	Create(ctx context.Context, requesterUserID string, req CreateRequisitionDTO) (RequisitionResponse, error)
	Decide(ctx context.Context, requisitionID, actorUserID, decision, comment string) (RequisitionResponse, error)
	Get(ctx context.Context, id string) (RequisitionResponse, error)
	List(ctx context.Context, filter RequisitionFilter) ([]RequisitionResponse, int64, error)
	ListPendingForApprover(ctx context.Context, actorUserID string, page, limit int) ([]RequisitionResponse, int64, error)
	History(ctx context.Context, id string) ([]StatusHistoryResponse, error)
	MarkApprovedViewed(ctx context.Context, adminUserID string) (int64, error)
	Approvers(ctx context.Context, requisitionID string) ([]model.Employee, error)
}

type requisitionService struct {
	txm       repository.TransactionManager
	reqRepo   repository.RequisitionRepository
	userRepo  repository.UserRepository
	auditRepo repository.AuditRepository
	resolver  ApproverResolver
	notifier  NotificationService
	idem      cache.Store
	idemTTL   time.Duration
	now       func() time.Time
}

func NewRequisitionService(
	txm repository.TransactionManager,
	reqRepo repository.RequisitionRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	resolver ApproverResolver,
	notifier NotificationService,
	idem cache.Store,
	idemTTL time.Duration,
) RequisitionService {
	if idemTTL <= 0 {
		idemTTL = 30 * time.Second
	}
	return &requisitionService{
		txm:       txm,
		reqRepo:   reqRepo,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		resolver:  resolver,
		notifier:  notifier,
		idem:      idem,
		idemTTL:   idemTTL,
		now:       time.Now,
	}
}

// --- Implementation ---

func (s *requisitionService) Create(ctx context.Context, requesterUserID string, req CreateRequisitionDTO) (RequisitionResponse, error) {
	requester, err := s.loadUser(ctx, requesterUserID)
	if err != nil {
		return RequisitionResponse{}, err
	}

	items, total, err := buildItems(req.Items)
	if err != nil {
		return RequisitionResponse{}, err
	}

	// Resolving before the write both validates that a decision will be
	// possible and produces the recipient set for the side effect.
	approvers, err := s.resolver.Resolve(ctx, requester.EmployeeID)
	if err != nil {
		return RequisitionResponse{}, err
	}
	if len(approvers) == 0 {
		return RequisitionResponse{}, apperr.Validation("no eligible approver found for requester").
			WithCode(apperr.CodeNoEligibleApprover)
	}

	if err := s.claimIdempotency(ctx, requesterUserID, req); err != nil {
		return RequisitionResponse{}, err
	}

	requisition := &model.Requisition{
		RequesterID: requester.ID,
		Status:      model.ReqStatusPending,
		TotalAmount: total,
		IssueNote:   req.Note,
		Items:       items,
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.reqRepo.Create(txCtx, requisition); err != nil {
			return fmt.Errorf("create requisition: %w", err)
		}

		history := &model.StatusHistory{
			RequisitionID: requisition.ID,
			FromStatus:    "",
			ToStatus:      model.ReqStatusPending,
			ActorID:       &requester.ID,
		}
		if err := s.reqRepo.AppendStatusHistory(txCtx, history); err != nil {
			return fmt.Errorf("append status history: %w", err)
		}

		return s.writeAudit(txCtx, &requester.ID, model.ActionCreateRequisition, requisition.ID.String(), requester.Username, map[string]interface{}{
			"total":      total.StringFixed(4),
			"item_count": len(items),
		})
	})
	if err != nil {
		return RequisitionResponse{}, apperr.Internal("persist requisition", err)
	}

	// Fire-and-forget: notification failure never rolls back the requisition.
	tctx := TemplateContext{
		RequisitionID: requisition.ID.String(),
		RequesterName: requester.DisplayName,
		TotalAmount:   total.StringFixed(2),
		ItemCount:     len(items),
	}
	for _, approver := range approvers {
		s.notifier.NotifyAsync(approver.EmployeeID, model.NotifKindReqCreated, tctx)
	}

	return s.Get(ctx, requisition.ID.String())
}

func (s *requisitionService) Decide(ctx context.Context, requisitionID, actorUserID, decision, comment string) (RequisitionResponse, error) {
	reqID, err := uuid.Parse(requisitionID)
	if err != nil {
		return RequisitionResponse{}, apperr.Validation("invalid requisition id")
	}

	var newStatus string
	switch decision {
	case model.DecisionApprove:
		newStatus = model.ReqStatusApproved
	case model.DecisionReject:
		newStatus = model.ReqStatusRejected
	default:
		return RequisitionResponse{}, apperr.Validation("decision must be APPROVE or REJECT")
	}

	actor, err := s.loadUser(ctx, actorUserID)
	if err != nil {
		return RequisitionResponse{}, err
	}

	requisition, err := s.reqRepo.FindByID(ctx, reqID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RequisitionResponse{}, apperr.NotFound("requisition not found")
	}
	if err != nil {
		return RequisitionResponse{}, apperr.Internal("load requisition", err)
	}

	requester, err := s.userRepo.GetByID(ctx, requisition.RequesterID.String())
	if err != nil {
		return RequisitionResponse{}, apperr.Internal("load requester", err)
	}

	if err := s.checkEligibility(ctx, actor, requester); err != nil {
		return RequisitionResponse{}, err
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		// Compare-and-set: losing a race to another decision means zero
		// rows move, and the whole transaction backs out.
		rows, err := s.reqRepo.UpdateStatusIf(txCtx, reqID, model.ReqStatusPending, newStatus)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if rows == 0 {
			return apperr.Conflict(apperr.CodeReqNotPending,
				fmt.Sprintf("requisition is not pending (current status: %s)", requisition.Status))
		}

		approval := &model.Approval{
			RequisitionID: reqID,
			Decision:      decision,
			ActorID:       actor.ID,
			Comment:       comment,
		}
		if err := s.reqRepo.AppendApproval(txCtx, approval); err != nil {
			return fmt.Errorf("append approval: %w", err)
		}

		history := &model.StatusHistory{
			RequisitionID: reqID,
			FromStatus:    model.ReqStatusPending,
			ToStatus:      newStatus,
			ActorID:       &actor.ID,
		}
		if err := s.reqRepo.AppendStatusHistory(txCtx, history); err != nil {
			return fmt.Errorf("append status history: %w", err)
		}

		action := model.ActionApproveRequisition
		if decision == model.DecisionReject {
			action = model.ActionRejectRequisition
		}
		return s.writeAudit(txCtx, &actor.ID, action, reqID.String(), requester.Username, map[string]interface{}{
			"decision": decision,
			"comment":  comment,
		})
	})
	if err != nil {
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			return RequisitionResponse{}, appErr
		}
		return RequisitionResponse{}, apperr.Internal("persist decision", err)
	}

	kind := model.NotifKindReqApproved
	if decision == model.DecisionReject {
		kind = model.NotifKindReqRejected
	}
	s.notifier.NotifyAsync(requester.EmployeeID, kind, TemplateContext{
		RequisitionID: reqID.String(),
		RequesterName: requester.DisplayName,
		ApproverName:  actor.DisplayName,
		TotalAmount:   requisition.TotalAmount.StringFixed(2),
		Decision:      decision,
		Comment:       comment,
	})

	return s.Get(ctx, requisitionID)
}

func (s *requisitionService) Get(ctx context.Context, id string) (RequisitionResponse, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return RequisitionResponse{}, apperr.Validation("invalid requisition id")
	}

	requisition, err := s.reqRepo.FindByIDWithRelations(ctx, reqID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RequisitionResponse{}, apperr.NotFound("requisition not found")
	}
	if err != nil {
		return RequisitionResponse{}, apperr.Internal("load requisition", err)
	}

	return toRequisitionResponse(*requisition), nil
}

func (s *requisitionService) List(ctx context.Context, filter RequisitionFilter) ([]RequisitionResponse, int64, error) {
	repoFilter := repository.RequisitionFilter{
		Status: filter.Status,
		Page:   filter.Page,
		Limit:  filter.Limit,
	}
	if filter.RequesterID != "" {
		rid, err := uuid.Parse(filter.RequesterID)
		if err != nil {
			return nil, 0, apperr.Validation("invalid requester id")
		}
		repoFilter.RequesterID = &rid
	}

	rows, total, err := s.reqRepo.List(ctx, repoFilter)
	if err != nil {
		return nil, 0, apperr.Internal("list requisitions", err)
	}

	out := make([]RequisitionResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRequisitionResponse(r))
	}
	return out, total, nil
}

// ListPendingForApprover returns PENDING requisitions whose requester the
// actor is eligible to decide for.
func (s *requisitionService) ListPendingForApprover(ctx context.Context, actorUserID string, page, limit int) ([]RequisitionResponse, int64, error) {
	actor, err := s.loadUser(ctx, actorUserID)
	if err != nil {
		return nil, 0, err
	}

	rows, _, err := s.reqRepo.List(ctx, repository.RequisitionFilter{
		Status: model.ReqStatusPending,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return nil, 0, apperr.Internal("list pending requisitions", err)
	}

	out := make([]RequisitionResponse, 0, len(rows))
	for _, r := range rows {
		if r.Requester == nil {
			continue
		}
		eligible, err := s.resolver.IsEligible(ctx, r.Requester.EmployeeID, actor.EmployeeID)
		if err != nil {
			logger.Warn("eligibility check failed",
				zap.String("requisition_id", r.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if eligible || actor.Role == model.RoleAdmin || actor.Role == model.RoleDev {
			out = append(out, toRequisitionResponse(r))
		}
	}
	return out, int64(len(out)), nil
}

func (s *requisitionService) History(ctx context.Context, id string) ([]StatusHistoryResponse, error) {
	reqID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.Validation("invalid requisition id")
	}

	entries, err := s.reqRepo.ListStatusHistory(ctx, reqID)
	if err != nil {
		return nil, apperr.Internal("load status history", err)
	}

	out := make([]StatusHistoryResponse, 0, len(entries))
	for _, e := range entries {
		resp := StatusHistoryResponse{
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339),
		}
		if e.ActorID != nil {
			resp.ActorID = e.ActorID.String()
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *requisitionService) MarkApprovedViewed(ctx context.Context, adminUserID string) (int64, error) {
	admin, err := s.loadUser(ctx, adminUserID)
	if err != nil {
		return 0, err
	}

	var marked int64
	var acknowledged []model.Requisition
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		acknowledged, err = s.reqRepo.ListApprovedUnviewed(txCtx)
		if err != nil {
			return fmt.Errorf("list approved unviewed: %w", err)
		}
		marked, err = s.reqRepo.MarkApprovedViewed(txCtx, s.now())
		if err != nil {
			return fmt.Errorf("mark approved viewed: %w", err)
		}
		if marked == 0 {
			return nil // Nothing new, skip the audit row
		}
		return s.writeAudit(txCtx, &admin.ID, model.ActionMarkViewed, "", "", map[string]interface{}{
			"marked": marked,
		})
	})
	if err != nil {
		return 0, apperr.Internal("mark approved viewed", err)
	}

	// The admin acknowledgement means the goods are ready for pickup. Tell
	// each requester, fire-and-forget.
	for _, req := range acknowledged {
		requester, err := s.userRepo.GetByID(ctx, req.RequesterID.String())
		if err != nil {
			logger.Warn("skip goods-arrived notification",
				zap.String("requisition_id", req.ID.String()), zap.Error(err))
			continue
		}
		s.notifier.NotifyAsync(requester.EmployeeID, model.NotifKindGoodsArrived, TemplateContext{
			RequisitionID: req.ID.String(),
			RequesterName: requester.DisplayName,
		})
	}
	return marked, nil
}

// Approvers exposes the eligible set for a requisition so the UI can show
// who may decide.
func (s *requisitionService) Approvers(ctx context.Context, requisitionID string) ([]model.Employee, error) {
	resp, err := s.Get(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	requester, err := s.userRepo.GetByID(ctx, resp.RequesterID)
	if err != nil {
		return nil, apperr.Internal("load requester", err)
	}
	return s.resolver.Resolve(ctx, requester.EmployeeID)
}

// --- Helpers ---

func buildItems(inputs []RequisitionItemInput) ([]model.RequisitionItem, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, apperr.Validation("requisition requires at least one item").
			WithCode(apperr.CodeEmptyItems)
	}

	items := make([]model.RequisitionItem, 0, len(inputs))
	total := decimal.Zero
	for i, input := range inputs {
		productID, err := uuid.Parse(input.ProductID)
		if err != nil {
			return nil, decimal.Zero, apperr.Validation(fmt.Sprintf("item %d: invalid product id", i))
		}
		if input.Quantity <= 0 {
			return nil, decimal.Zero, apperr.Validation(fmt.Sprintf("item %d: quantity must be positive", i))
		}
		if input.UnitPrice.IsNegative() {
			return nil, decimal.Zero, apperr.Validation(fmt.Sprintf("item %d: unit price must not be negative", i))
		}

		lineTotal := input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity)))
		items = append(items, model.RequisitionItem{
			ProductID: productID,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitPrice,
			LineTotal: lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return items, total, nil
}

// claimIdempotency reserves the submission key; a second rapid identical
// submission loses the SetNX race and gets a conflict.
func (s *requisitionService) claimIdempotency(ctx context.Context, requesterUserID string, req CreateRequisitionDTO) error {
	if s.idem == nil {
		return nil
	}

	key := req.IdempotencyKey
	if key == "" {
		payload, err := json.Marshal(req.Items)
		if err != nil {
			return apperr.Internal("hash submission", err)
		}
		sum := sha256.Sum256(append([]byte(requesterUserID+"|"+req.Note+"|"), payload...))
		key = hex.EncodeToString(sum[:])
	} else {
		key = requesterUserID + "|" + key
	}

	claimed, err := s.idem.SetNX(ctx, key, "1", s.idemTTL)
	if err != nil {
		// A broken cache must not block submissions; it is best-effort.
		logger.Warn("idempotency store unavailable", zap.Error(err))
		return nil
	}
	if !claimed {
		return apperr.Conflict(apperr.CodeDuplicateRequest, "duplicate submission, please retry later")
	}
	return nil
}

func (s *requisitionService) checkEligibility(ctx context.Context, actor, requester *model.User) error {
	// Admins and dev operators may decide regardless of org matching.
	if actor.Role == model.RoleAdmin || actor.Role == model.RoleDev {
		return nil
	}

	eligible, err := s.resolver.IsEligible(ctx, requester.EmployeeID, actor.EmployeeID)
	if err != nil {
		return err
	}
	if !eligible {
		return apperr.Forbidden("you are not an eligible approver for this requisition")
	}
	return nil
}

func (s *requisitionService) loadUser(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation("invalid user id")
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	return user, nil
}

func (s *requisitionService) writeAudit(ctx context.Context, userID *uuid.UUID, action, entityID, entityName string, details map[string]interface{}) error {
	payload, _ := json.Marshal(details)
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(payload),
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func toRequisitionResponse(r model.Requisition) RequisitionResponse {
	resp := RequisitionResponse{
		ID:          r.ID.String(),
		RequesterID: r.RequesterID.String(),
		Status:      r.Status,
		TotalAmount: r.TotalAmount.StringFixed(4),
		IssueNote:   r.IssueNote,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
	if r.Requester != nil {
		resp.RequesterName = r.Requester.DisplayName
	}
	if r.AdminViewedAt != nil {
		s := r.AdminViewedAt.Format(time.RFC3339)
		resp.AdminViewedAt = &s
	}
	resp.Items = make([]RequisitionItemResponse, 0, len(r.Items))
	for _, item := range r.Items {
		itemResp := RequisitionItemResponse{
			ID:        item.ID.String(),
			ProductID: item.ProductID.String(),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(4),
			LineTotal: item.LineTotal.StringFixed(4),
		}
		if item.Product != nil {
			itemResp.ProductName = item.Product.Name
		}
		resp.Items = append(resp.Items, itemResp)
	}
	return resp
}
