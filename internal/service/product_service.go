package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperr"
)

// --- DTOs ---

type CreateProductDTO struct {
	Name       string          `json:"name" binding:"required"`
	CategoryID string          `json:"category_id"`
	UnitCost   decimal.Decimal `json:"unit_cost" binding:"required"`
	OrderUnit  string          `json:"order_unit"`
	PhotoURL   string          `json:"photo_url"`
}

type UpdateProductDTO struct {
	Name       *string `json:"name"`
	CategoryID *string `json:"category_id"`
	OrderUnit  *string `json:"order_unit"`
	PhotoURL   *string `json:"photo_url"`
}

type ChangePriceDTO struct {
	NewPrice decimal.Decimal `json:"new_price" binding:"required"`
}

type ProductResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CategoryID   *string `json:"category_id"`
	CategoryName string  `json:"category_name,omitempty"`
	UnitCost     string  `json:"unit_cost"`
	OrderUnit    string  `json:"order_unit"`
	PhotoURL     string  `json:"photo_url,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type PriceHistoryResponse struct {
	ID            string `json:"id"`
	OldPrice      string `json:"old_price"`
	NewPrice      string `json:"new_price"`
	PercentChange string `json:"percent_change"`
	ChangedBy     string `json:"changed_by,omitempty"`
	ChangedByName string `json:"changed_by_name,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// --- Interface ---

type ProductService interface {
	Create(ctx context.Context, actorUserID string, req CreateProductDTO) (ProductResponse, error)
	Update(ctx context.Context, actorUserID, id string, req UpdateProductDTO) (ProductResponse, error)
	Delete(ctx context.Context, actorUserID, id string) error
	Get(ctx context.Context, id string) (ProductResponse, error)
	List(ctx context.Context, page, limit int, search, categoryID string) ([]ProductResponse, int64, error)

	ChangePrice(ctx context.Context, actorUserID, id string, req ChangePriceDTO) (ProductResponse, error)
	PriceHistory(ctx context.Context, id string, page, limit int) ([]PriceHistoryResponse, int64, error)

	CreateCategory(ctx context.Context, actorUserID, name string) (*model.ProductCategory, error)
	ListCategories(ctx context.Context) ([]model.ProductCategory, error)
}

type productService struct {
	txm         repository.TransactionManager
	productRepo repository.ProductRepository
	auditRepo   repository.AuditRepository
}

func NewProductService(txm repository.TransactionManager, productRepo repository.ProductRepository, auditRepo repository.AuditRepository) ProductService {
	return &productService{txm: txm, productRepo: productRepo, auditRepo: auditRepo}
}

// --- Implementation ---

func (s *productService) Create(ctx context.Context, actorUserID string, req CreateProductDTO) (ProductResponse, error) {
	actorID, err := uuid.Parse(actorUserID)
	if err != nil {
		return ProductResponse{}, apperr.Validation("invalid user id")
	}
	if req.UnitCost.IsNegative() {
		return ProductResponse{}, apperr.Validation("unit cost must not be negative")
	}

	product := &model.Product{
		Name:      req.Name,
		UnitCost:  req.UnitCost,
		OrderUnit: req.OrderUnit,
		PhotoURL:  req.PhotoURL,
	}
	if req.CategoryID != "" {
		catID, err := uuid.Parse(req.CategoryID)
		if err != nil {
			return ProductResponse{}, apperr.Validation("invalid category id")
		}
		product.CategoryID = &catID
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.productRepo.Create(txCtx, product); err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		return s.audit(txCtx, actorID, model.ActionCreateProduct, product.ID.String(), product.Name, map[string]interface{}{
			"unit_cost": req.UnitCost.StringFixed(4),
		})
	})
	if err != nil {
		return ProductResponse{}, apperr.Internal("create product", err)
	}

	return s.Get(ctx, product.ID.String())
}

func (s *productService) Update(ctx context.Context, actorUserID, id string, req UpdateProductDTO) (ProductResponse, error) {
	actorID, err := uuid.Parse(actorUserID)
	if err != nil {
		return ProductResponse{}, apperr.Validation("invalid user id")
	}
	productID, err := uuid.Parse(id)
	if err != nil {
		return ProductResponse{}, apperr.Validation("invalid product id")
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProductResponse{}, apperr.NotFound("product not found")
	}
	if err != nil {
		return ProductResponse{}, apperr.Internal("load product", err)
	}

	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.OrderUnit != nil {
		product.OrderUnit = *req.OrderUnit
	}
	if req.PhotoURL != nil {
		product.PhotoURL = *req.PhotoURL
	}
	if req.CategoryID != nil {
		if *req.CategoryID == "" {
			product.CategoryID = nil
		} else {
			catID, err := uuid.Parse(*req.CategoryID)
			if err != nil {
				return ProductResponse{}, apperr.Validation("invalid category id")
			}
			product.CategoryID = &catID
		}
	}
	product.Category = nil

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.productRepo.Update(txCtx, product); err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		return s.audit(txCtx, actorID, model.ActionUpdateProduct, product.ID.String(), product.Name, nil)
	})
	if err != nil {
		return ProductResponse{}, apperr.Internal("update product", err)
	}

	return s.Get(ctx, id)
}

func (s *productService) Delete(ctx context.Context, actorUserID, id string) error {
	actorID, err := uuid.Parse(actorUserID)
	if err != nil {
		return apperr.Validation("invalid user id")
	}
	productID, err := uuid.Parse(id)
	if err != nil {
		return apperr.Validation("invalid product id")
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("product not found")
	}
	if err != nil {
		return apperr.Internal("load product", err)
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.productRepo.Delete(txCtx, productID); err != nil {
			return fmt.Errorf("delete product: %w", err)
		}
		return s.audit(txCtx, actorID, model.ActionDeleteProduct, id, product.Name, nil)
	})
	if err != nil {
		return apperr.Internal("delete product", err)
	}
	return nil
}

func (s *productService) Get(ctx context.Context, id string) (ProductResponse, error) {
	productID, err := uuid.Parse(id)
	if err != nil {
		return ProductResponse{}, apperr.Validation("invalid product id")
	}
	product, err := s.productRepo.FindByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ProductResponse{}, apperr.NotFound("product not found")
	}
	if err != nil {
		return ProductResponse{}, apperr.Internal("load product", err)
	}
	return toProductResponse(*product), nil
}

func (s *productService) List(ctx context.Context, page, limit int, search, categoryID string) ([]ProductResponse, int64, error) {
	var catID *uuid.UUID
	if categoryID != "" {
		parsed, err := uuid.Parse(categoryID)
		if err != nil {
			return nil, 0, apperr.Validation("invalid category id")
		}
		catID = &parsed
	}

	products, total, err := s.productRepo.List(ctx, page, limit, search, catID)
	if err != nil {
		return nil, 0, apperr.Internal("list products", err)
	}

	out := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out, total, nil
}

// ChangePrice updates the unit cost under a row lock and appends the change
// to the price history in the same transaction.
func (s *productService) ChangePrice(ctx context.Context, actorUserID, id string, req ChangePriceDTO) (ProductResponse, error) {
	actorID, err := uuid.Parse(actorUserID)
	if err != nil {
		return ProductResponse{}, apperr.Validation("invalid user id")
	}
	productID, err := uuid.Parse(id)
	if err != nil {
		return ProductResponse{}, apperr.Validation("invalid product id")
	}
	if req.NewPrice.IsNegative() {
		return ProductResponse{}, apperr.Validation("price must not be negative")
	}

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.productRepo.FindByIDForUpdate(txCtx, productID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("product not found")
		}
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}

		oldPrice := product.UnitCost
		if oldPrice.Equal(req.NewPrice) {
			return apperr.Validation("new price equals current price")
		}

		// Percent change is undefined against a zero old price.
		percent := decimal.Zero
		if !oldPrice.IsZero() {
			percent = req.NewPrice.Sub(oldPrice).Div(oldPrice).Mul(decimal.NewFromInt(100)).Round(4)
		}

		product.UnitCost = req.NewPrice
		if err := s.productRepo.Update(txCtx, product); err != nil {
			return fmt.Errorf("update price: %w", err)
		}

		entry := &model.PriceHistory{
			ProductID:     productID,
			OldPrice:      oldPrice,
			NewPrice:      req.NewPrice,
			PercentChange: percent,
			ChangedBy:     &actorID,
		}
		if err := s.productRepo.AppendPriceHistory(txCtx, entry); err != nil {
			return fmt.Errorf("append price history: %w", err)
		}

		return s.audit(txCtx, actorID, model.ActionChangePrice, productID.String(), product.Name, map[string]interface{}{
			"old_price": oldPrice.StringFixed(4),
			"new_price": req.NewPrice.StringFixed(4),
		})
	})
	if err != nil {
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			return ProductResponse{}, appErr
		}
		return ProductResponse{}, apperr.Internal("change price", err)
	}

	return s.Get(ctx, id)
}

func (s *productService) PriceHistory(ctx context.Context, id string, page, limit int) ([]PriceHistoryResponse, int64, error) {
	productID, err := uuid.Parse(id)
	if err != nil {
		return nil, 0, apperr.Validation("invalid product id")
	}

	entries, total, err := s.productRepo.ListPriceHistory(ctx, productID, page, limit)
	if err != nil {
		return nil, 0, apperr.Internal("list price history", err)
	}

	out := make([]PriceHistoryResponse, 0, len(entries))
	for _, e := range entries {
		resp := PriceHistoryResponse{
			ID:            e.ID.String(),
			OldPrice:      e.OldPrice.StringFixed(4),
			NewPrice:      e.NewPrice.StringFixed(4),
			PercentChange: e.PercentChange.StringFixed(4),
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		}
		if e.ChangedBy != nil {
			resp.ChangedBy = e.ChangedBy.String()
		}
		if e.Actor != nil {
			resp.ChangedByName = e.Actor.DisplayName
		}
		out = append(out, resp)
	}
	return out, total, nil
}

func (s *productService) CreateCategory(ctx context.Context, actorUserID, name string) (*model.ProductCategory, error) {
	actorID, err := uuid.Parse(actorUserID)
	if err != nil {
		return nil, apperr.Validation("invalid user id")
	}
	if name == "" {
		return nil, apperr.Validation("category name is required")
	}

	category := &model.ProductCategory{Name: name}
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.productRepo.CreateCategory(txCtx, category); err != nil {
			return fmt.Errorf("create category: %w", err)
		}
		return s.audit(txCtx, actorID, model.ActionCreateCategory, category.ID.String(), name, nil)
	})
	if err != nil {
		return nil, apperr.Internal("create category", err)
	}
	return category, nil
}

func (s *productService) ListCategories(ctx context.Context) ([]model.ProductCategory, error) {
	categories, err := s.productRepo.ListCategories(ctx)
	if err != nil {
		return nil, apperr.Internal("list categories", err)
	}
	return categories, nil
}

func (s *productService) audit(ctx context.Context, actorID uuid.UUID, action, entityID, entityName string, details map[string]interface{}) error {
	payload, _ := json.Marshal(details)
	entry := &model.AuditLog{
		UserID:     &actorID,
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

func toProductResponse(p model.Product) ProductResponse {
	resp := ProductResponse{
		ID:        p.ID.String(),
		Name:      p.Name,
		UnitCost:  p.UnitCost.StringFixed(4),
		OrderUnit: p.OrderUnit,
		PhotoURL:  p.PhotoURL,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.CategoryID != nil {
		s := p.CategoryID.String()
		resp.CategoryID = &s
	}
	if p.Category != nil {
		resp.CategoryName = p.Category.Name
	}
	return resp
}
