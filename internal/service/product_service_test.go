package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"backend/internal/model"
	"backend/pkg/apperr"
)

type fakeProductRepo struct {
	mu         sync.Mutex
	products   map[uuid.UUID]*model.Product
	categories []model.ProductCategory
	history    []model.PriceHistory
}

func newFakeProductRepo() *fakeProductRepo {
	return &fakeProductRepo{products: make(map[uuid.UUID]*model.Product)}
}

func (r *fakeProductRepo) Create(_ context.Context, product *model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	product.ID = uuid.New()
	clone := *product
	r.products[product.ID] = &clone
	return nil
}

func (r *fakeProductRepo) Update(_ context.Context, product *model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *product
	r.products[product.ID] = &clone
	return nil
}

func (r *fakeProductRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
	return nil
}

func (r *fakeProductRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.products[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeProductRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return r.FindByID(ctx, id)
}

func (r *fakeProductRepo) List(_ context.Context, _, _ int, search string, categoryID *uuid.UUID) ([]model.Product, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Product
	for _, p := range r.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(search)) {
			continue
		}
		if categoryID != nil && (p.CategoryID == nil || *p.CategoryID != *categoryID) {
			continue
		}
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (r *fakeProductRepo) CreateCategory(_ context.Context, category *model.ProductCategory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	category.ID = uuid.New()
	r.categories = append(r.categories, *category)
	return nil
}

func (r *fakeProductRepo) ListCategories(context.Context) ([]model.ProductCategory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ProductCategory(nil), r.categories...), nil
}

func (r *fakeProductRepo) AppendPriceHistory(_ context.Context, entry *model.PriceHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	r.history = append(r.history, *entry)
	return nil
}

func (r *fakeProductRepo) ListPriceHistory(_ context.Context, productID uuid.UUID, _, _ int) ([]model.PriceHistory, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.PriceHistory
	for _, e := range r.history {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func newProductService(t *testing.T) (ProductService, *fakeProductRepo, *fakeAuditRepo, string) {
	t.Helper()
	repo := newFakeProductRepo()
	audit := &fakeAuditRepo{}
	svc := NewProductService(fakeTxManager{}, repo, audit)
	return svc, repo, audit, uuid.NewString()
}

func TestCreateProduct(t *testing.T) {
	svc, _, audit, adminID := newProductService(t)

	product, err := svc.Create(context.Background(), adminID, CreateProductDTO{
		Name:      "A4 Paper",
		UnitCost:  price("120.50"),
		OrderUnit: "ream",
	})
	require.NoError(t, err)
	assert.Equal(t, "A4 Paper", product.Name)
	assert.Equal(t, "120.5000", product.UnitCost)
	assert.Contains(t, audit.actions(), model.ActionCreateProduct)

	_, err = svc.Create(context.Background(), adminID, CreateProductDTO{
		Name:     "Broken",
		UnitCost: price("-5"),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationFailed, apperr.From(err).Code)
}

func TestChangePriceAppendsHistory(t *testing.T) {
	svc, repo, audit, adminID := newProductService(t)

	product, err := svc.Create(context.Background(), adminID, CreateProductDTO{
		Name:     "Stapler",
		UnitCost: price("100"),
	})
	require.NoError(t, err)

	updated, err := svc.ChangePrice(context.Background(), adminID, product.ID, ChangePriceDTO{NewPrice: price("125")})
	require.NoError(t, err)
	assert.Equal(t, "125.0000", updated.UnitCost)

	require.Len(t, repo.history, 1)
	entry := repo.history[0]
	assert.Equal(t, "100", entry.OldPrice.String())
	assert.Equal(t, "125", entry.NewPrice.String())
	assert.Equal(t, "25", entry.PercentChange.String())
	assert.Contains(t, audit.actions(), model.ActionChangePrice)
}

func TestChangePriceFromZeroOldPrice(t *testing.T) {
	svc, repo, _, adminID := newProductService(t)

	product, err := svc.Create(context.Background(), adminID, CreateProductDTO{
		Name:     "Free Sample",
		UnitCost: price("0"),
	})
	require.NoError(t, err)

	// Percent change is undefined against zero; recorded as zero, not a crash.
	_, err = svc.ChangePrice(context.Background(), adminID, product.ID, ChangePriceDTO{NewPrice: price("10")})
	require.NoError(t, err)
	require.Len(t, repo.history, 1)
	assert.True(t, repo.history[0].PercentChange.IsZero())
}

func TestChangePriceRejectsNoop(t *testing.T) {
	svc, _, _, adminID := newProductService(t)

	product, err := svc.Create(context.Background(), adminID, CreateProductDTO{
		Name:     "Pen",
		UnitCost: price("15"),
	})
	require.NoError(t, err)

	_, err = svc.ChangePrice(context.Background(), adminID, product.ID, ChangePriceDTO{NewPrice: price("15")})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidationFailed, apperr.From(err).Code)

	_, err = svc.ChangePrice(context.Background(), adminID, uuid.NewString(), ChangePriceDTO{NewPrice: price("20")})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.From(err).Code)
}

func TestItemPricesFrozenAfterCatalogChange(t *testing.T) {
	// A requisition keeps the prices it was submitted with even when the
	// catalog price changes afterwards.
	productSvc, _, _, adminID := newProductService(t)
	fx := newRequisitionFixture(t, defaultApprovers())

	product, err := productSvc.Create(context.Background(), adminID, CreateProductDTO{
		Name:     "Notebook",
		UnitCost: price("40"),
	})
	require.NoError(t, err)

	created, err := fx.svc.Create(context.Background(), fx.requester.ID.String(), CreateRequisitionDTO{
		Items: []RequisitionItemInput{
			{ProductID: product.ID, Quantity: 2, UnitPrice: price("40")},
		},
	})
	require.NoError(t, err)

	_, err = productSvc.ChangePrice(context.Background(), adminID, product.ID, ChangePriceDTO{NewPrice: price("60")})
	require.NoError(t, err)

	resp, err := fx.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "40.0000", resp.Items[0].UnitPrice)
	assert.Equal(t, "80.0000", resp.TotalAmount)
}
