package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperr"
	"backend/pkg/cache"
)

// --- Shared fakes ---

type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*model.User
	tokens map[string]*model.RefreshToken
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{
		users:  make(map[uuid.UUID]*model.User),
		tokens: make(map[string]*model.RefreshToken),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, gorm.ErrRecordNotFound
	}
	if u, ok := r.users[uid]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByEmployeeID(_ context.Context, employeeID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.EmployeeID == employeeID {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) List(_ context.Context, _, _ int) ([]model.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	return out, int64(len(out)), nil
}

func (r *fakeUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid, err := uuid.Parse(id)
	if err != nil {
		return gorm.ErrRecordNotFound
	}
	delete(r.users, uid)
	return nil
}

func (r *fakeUserRepo) CreateRefreshToken(_ context.Context, token *model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	r.tokens[token.Token] = token
	return nil
}

func (r *fakeUserRepo) GetRefreshToken(_ context.Context, token string) (*model.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.tokens[token]; ok {
		return rt, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) DeleteRefreshToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

type fakeRequisitionRepo struct {
	mu           sync.Mutex
	requisitions map[uuid.UUID]*model.Requisition
	approvals    []model.Approval
	history      []model.StatusHistory
	users        *fakeUserRepo
}

func newFakeRequisitionRepo(users *fakeUserRepo) *fakeRequisitionRepo {
	return &fakeRequisitionRepo{
		requisitions: make(map[uuid.UUID]*model.Requisition),
		users:        users,
	}
}

func (r *fakeRequisitionRepo) Create(_ context.Context, req *model.Requisition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = uuid.New()
	req.CreatedAt = time.Now()
	for i := range req.Items {
		req.Items[i].ID = uuid.New()
		req.Items[i].RequisitionID = req.ID
	}
	clone := *req
	r.requisitions[req.ID] = &clone
	return nil
}

func (r *fakeRequisitionRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Requisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.requisitions[id]; ok {
		clone := *req
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRequisitionRepo) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.Requisition, error) {
	req, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.users != nil {
		if u, uerr := r.users.GetByID(ctx, req.RequesterID.String()); uerr == nil {
			req.Requester = u
		}
	}
	return req, nil
}

func (r *fakeRequisitionRepo) List(ctx context.Context, filter repository.RequisitionFilter) ([]model.Requisition, int64, error) {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0, len(r.requisitions))
	for id := range r.requisitions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var out []model.Requisition
	for _, id := range ids {
		req, err := r.FindByIDWithRelations(ctx, id)
		if err != nil {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		out = append(out, *req)
	}
	return out, int64(len(out)), nil
}

func (r *fakeRequisitionRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]model.Requisition, error) {
	rows, _, err := r.List(ctx, repository.RequisitionFilter{Status: model.ReqStatusPending})
	if err != nil {
		return nil, err
	}
	var out []model.Requisition
	for _, req := range rows {
		if req.CreatedAt.Before(cutoff) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *fakeRequisitionRepo) UpdateStatusIf(_ context.Context, id uuid.UUID, expected, newStatus string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requisitions[id]
	if !ok || req.Status != expected {
		return 0, nil
	}
	req.Status = newStatus
	return 1, nil
}

func (r *fakeRequisitionRepo) AppendApproval(_ context.Context, approval *model.Approval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	approval.ID = uuid.New()
	r.approvals = append(r.approvals, *approval)
	return nil
}

func (r *fakeRequisitionRepo) AppendStatusHistory(_ context.Context, entry *model.StatusHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	r.history = append(r.history, *entry)
	return nil
}

func (r *fakeRequisitionRepo) ListStatusHistory(_ context.Context, requisitionID uuid.UUID) ([]model.StatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.StatusHistory
	for _, e := range r.history {
		if e.RequisitionID == requisitionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRequisitionRepo) ListApprovedUnviewed(_ context.Context) ([]model.Requisition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Requisition
	for _, req := range r.requisitions {
		if req.Status == model.ReqStatusApproved && req.AdminViewedAt == nil {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *fakeRequisitionRepo) MarkApprovedViewed(_ context.Context, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var marked int64
	for _, req := range r.requisitions {
		if req.Status == model.ReqStatusApproved && req.AdminViewedAt == nil {
			stamp := at
			req.AdminViewedAt = &stamp
			marked++
		}
	}
	return marked, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *fakeAuditRepo) Create(_ context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, _, _ int) ([]model.AuditLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditLog(nil), r.entries...), int64(len(r.entries)), nil
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

// fakeResolver returns a fixed approver set for every requester.
type fakeResolver struct {
	approvers []model.Employee
	err       error
}

func (f *fakeResolver) Resolve(context.Context, string) ([]model.Employee, error) {
	return f.approvers, f.err
}

func (f *fakeResolver) IsEligible(_ context.Context, _, actorEmployeeID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, a := range f.approvers {
		if a.EmployeeID == actorEmployeeID {
			return true, nil
		}
	}
	return false, nil
}

type sentNotification struct {
	Recipient string
	Kind      string
	Context   TemplateContext
}

// fakeNotifier records dispatched notifications; the query API is unused in
// these tests.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Notify(_ context.Context, recipient, kind string, tctx TemplateContext) error {
	f.NotifyAsync(recipient, kind, tctx)
	return nil
}

func (f *fakeNotifier) NotifyAsync(recipient, kind string, tctx TemplateContext) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{Recipient: recipient, Kind: kind, Context: tctx})
}

func (f *fakeNotifier) RetryFailed(context.Context, int) (RetrySummary, error) {
	return RetrySummary{}, nil
}

func (f *fakeNotifier) List(context.Context, string, bool, int, int) ([]NotificationResponse, int64, error) {
	return nil, 0, nil
}
func (f *fakeNotifier) UnreadCount(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeNotifier) MarkRead(context.Context, string, string) error     { return nil }
func (f *fakeNotifier) MarkAllRead(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeNotifier) Delete(context.Context, string) error               { return nil }
func (f *fakeNotifier) ListEmailLogs(context.Context, string, int, int) ([]EmailLogResponse, int64, error) {
	return nil, 0, nil
}
func (f *fakeNotifier) Close() {}

func (f *fakeNotifier) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Kind)
	}
	return out
}

// --- Fixture ---

type requisitionFixture struct {
	svc       RequisitionService
	reqRepo   *fakeRequisitionRepo
	auditRepo *fakeAuditRepo
	notifier  *fakeNotifier
	requester *model.User
	manager   *model.User
	admin     *model.User
}

func newRequisitionFixture(t *testing.T, policyApprovers []model.Employee) *requisitionFixture {
	t.Helper()

	requester := &model.User{ID: uuid.New(), EmployeeID: "E001", Username: "e001", DisplayName: "Somsak", Role: model.RoleUser}
	manager := &model.User{ID: uuid.New(), EmployeeID: "M001", Username: "m001", DisplayName: "Manager", Role: model.RoleManager}
	admin := &model.User{ID: uuid.New(), EmployeeID: "A001", Username: "a001", DisplayName: "Admin", Role: model.RoleAdmin}

	users := newFakeUserRepo(requester, manager, admin)
	reqRepo := newFakeRequisitionRepo(users)
	auditRepo := &fakeAuditRepo{}
	notifier := &fakeNotifier{}
	resolver := &fakeResolver{approvers: policyApprovers}

	svc := NewRequisitionService(
		fakeTxManager{}, reqRepo, users, auditRepo, resolver, notifier,
		cache.NewMemoryStore(), time.Minute)

	return &requisitionFixture{
		svc:       svc,
		reqRepo:   reqRepo,
		auditRepo: auditRepo,
		notifier:  notifier,
		requester: requester,
		manager:   manager,
		admin:     admin,
	}
}

func defaultApprovers() []model.Employee {
	return []model.Employee{{EmployeeID: "M001", DisplayName: "Manager", Email: "m001@example.com"}}
}

func price(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Tests ---

func TestCreateRequisitionComputesTotal(t *testing.T) {
	fx := newRequisitionFixture(t, defaultApprovers())

	resp, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 3, UnitPrice: price("50")},
			{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: price("50")},
		},
		Note: "Q3 restock",
	})
	require.NoError(t, err)

	assert.Equal(t, model.ReqStatusPending, resp.Status)
	assert.Equal(t, "200.0000", resp.TotalAmount)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "150.0000", resp.Items[0].LineTotal)

	// Initial history row: no FromStatus, PENDING ToStatus.
	history, err := fx.svc.History(context.Background(), resp.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].FromStatus)
	assert.Equal(t, model.ReqStatusPending, history[0].ToStatus)

	// One notification per approver, audit row written.
	assert.Equal(t, []string{model.NotifKindReqCreated}, fx.notifier.kinds())
	assert.Contains(t, fx.auditRepo.actions(), model.ActionCreateRequisition)
}

func TestCreateRequisitionValidation(t *testing.T) {
	tests := []struct {
		name     string
		items    []RequisitionItemInput
		wantCode string
	}{
		{
			name:     "empty items",
			items:    nil,
			wantCode: apperr.CodeEmptyItems,
		},
		{
			name: "zero quantity",
			items: []RequisitionItemInput{
				{ProductID: uuid.NewString(), Quantity: 0, UnitPrice: price("10")},
			},
			wantCode: apperr.CodeValidationFailed,
		},
		{
			name: "negative price",
			items: []RequisitionItemInput{
				{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: price("-1")},
			},
			wantCode: apperr.CodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newRequisitionFixture(t, defaultApprovers())

			_, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{Items: tt.items})
			require.Error(t, err)
			var appErr *apperr.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}
}

func TestCreateRequisitionRejectsRapidDuplicate(t *testing.T) {
	fx := newRequisitionFixture(t, defaultApprovers())

	dto := CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: price("10")},
		},
		IdempotencyKey: "submit-1",
	}

	_, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), dto)
	require.NoError(t, err)

	_, err = fx.svc.Create(context.Background(), fx.requester.ID.String(), dto)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeDuplicateRequest, appErr.Code)
}

func TestCreateRequisitionNoEligibleApprover(t *testing.T) {
	fx := newRequisitionFixture(t, nil)

	_, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: price("10")},
		},
	})
	require.Error(t, err)
	var appErr *apperr.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeNoEligibleApprover, appErr.Code)
}

func TestDecideApprove(t *testing.T) {
	fx := newRequisitionFixture(t, defaultApprovers())

	created, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 2, UnitPrice: price("25.50")},
		},
	})
	require.NoError(t, err)

	resp, err := fx.svc.Decide(context.Background(), created.ID, fx.manager.ID.String(), model.DecisionApprove, "ok")
	require.NoError(t, err)
	assert.Equal(t, model.ReqStatusApproved, resp.Status)

	require.Len(t, fx.reqRepo.approvals, 1)
	assert.Equal(t, model.DecisionApprove, fx.reqRepo.approvals[0].Decision)
	assert.Equal(t, fx.manager.ID, fx.reqRepo.approvals[0].ActorID)
	assert.Equal(t, "ok", fx.reqRepo.approvals[0].Comment)

	history, err := fx.svc.History(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ReqStatusPending, history[1].FromStatus)
	assert.Equal(t, model.ReqStatusApproved, history[1].ToStatus)

	// Requester is notified of the outcome.
	assert.Contains(t, fx.notifier.kinds(), model.NotifKindReqApproved)
	assert.Contains(t, fx.auditRepo.actions(), model.ActionApproveRequisition)
}

func TestDecideRejectNotifiesRequester(t *testing.T) {
	fx := newRequisitionFixture(t, defaultApprovers())

	created, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: price("99")},
		},
	})
	require.NoError(t, err)

	resp, err := fx.svc.Decide(context.Background(), created.ID, fx.manager.ID.String(), model.DecisionReject, "over budget")
	require.NoError(t, err)
	assert.Equal(t, model.ReqStatusRejected, resp.Status)
	assert.Contains(t, fx.notifier.kinds(), model.NotifKindReqRejected)
}

func TestDecideTwiceConflictsAndKeepsState(t *testing.T) {
	fx := newRequisitionFixture(t, defaultApprovers())

	created, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: price("10")},
		},
	})
	require.NoError(t, err)

	_, err = fx.svc.Decide(context.Background(), created.ID, fx.manager.ID.String(), model.DecisionApprove, "")
	require.NoError(t, err)

	// Second decision loses the compare-and-set and must not change anything.
	_, err = fx.svc.Decide(context.Background(), created.ID, fx.manager.ID.String(), model.DecisionReject, "")
	require.Error(t, err)
	var appErr *apperr.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeReqNotPending, appErr.Code)

	resp, err := fx.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReqStatusApproved, resp.Status)
	assert.Len(t, fx.reqRepo.approvals, 1)

	history, err := fx.svc.History(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2) // Exactly one row per performed transition
}

func TestDecideForbiddenForIneligibleActor(t *testing.T) {
	fx := newRequisitionFixture(t, []model.Employee{{EmployeeID: "OTHER"}})

	created, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 1, UnitPrice: price("10")},
		},
	})
	require.NoError(t, err)

	_, err = fx.svc.Decide(context.Background(), created.ID, fx.manager.ID.String(), model.DecisionApprove, "")
	require.Error(t, err)
	var appErr *apperr.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.CodeForbidden, appErr.Code)

	// Admins bypass the eligibility check.
	_, err = fx.svc.Decide(context.Background(), created.ID, fx.admin.ID.String(), model.DecisionApprove, "")
	require.NoError(t, err)
}

func TestMarkApprovedViewed(t *testing.T) {
	fx := newRequisitionFixture(t, defaultApprovers())

	var approvedIDs []string
	for i := 0; i < 2; i++ {
		created, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
			Items: []RequisitionItemInput{
				{ProductID: uuid.NewString(), Quantity: i + 1, UnitPrice: price("10")},
			},
		})
		require.NoError(t, err)
		_, err = fx.svc.Decide(context.Background(), created.ID, fx.manager.ID.String(), model.DecisionApprove, "")
		require.NoError(t, err)
		approvedIDs = append(approvedIDs, created.ID)
	}

	// One requisition stays pending and must not be touched.
	pending, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: uuid.NewString(), Quantity: 5, UnitPrice: price("10")},
		},
	})
	require.NoError(t, err)

	marked, err := fx.svc.MarkApprovedViewed(context.Background(), fx.admin.ID.String())
	require.NoError(t, err)
	assert.EqualValues(t, 2, marked)

	for _, id := range approvedIDs {
		resp, err := fx.svc.Get(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, resp.AdminViewedAt)
	}
	resp, err := fx.svc.Get(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Nil(t, resp.AdminViewedAt)

	// Each requester is told the goods arrived, once per acknowledged row.
	var arrived []sentNotification
	for _, n := range fx.notifier.sent {
		if n.Kind == model.NotifKindGoodsArrived {
			arrived = append(arrived, n)
		}
	}
	require.Len(t, arrived, 2)
	for _, n := range arrived {
		assert.Equal(t, fx.requester.EmployeeID, n.Recipient)
	}

	// Already-marked rows are not re-stamped.
	marked, err = fx.svc.MarkApprovedViewed(context.Background(), fx.admin.ID.String())
	require.NoError(t, err)
	assert.EqualValues(t, 0, marked)

	// And nothing further is announced.
	var again int
	for _, n := range fx.notifier.sent {
		if n.Kind == model.NotifKindGoodsArrived {
			again++
		}
	}
	assert.Equal(t, 2, again)
}
