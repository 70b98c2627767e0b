package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"backend/internal/middleware"
	"backend/internal/model"
	"backend/internal/service"
	"backend/pkg/pagination"
	"backend/pkg/response"
)

type ProductHandler struct {
	productService service.ProductService
}

func NewProductHandler(productService service.ProductService) *ProductHandler {
	return &ProductHandler{productService: productService}
}

func (h *ProductHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleUser, model.RoleManager, model.RoleAdmin, model.RoleDev)
	adminOnly := middleware.RequireRole(model.RoleAdmin, model.RoleDev)

	products := router.Group("/api/products")
	{
		products.GET("", anyRole, h.ListProducts)
		products.GET("/:id", anyRole, h.GetProduct)
		products.GET("/:id/price-history", adminOnly, h.PriceHistory)
		products.POST("", adminOnly, h.CreateProduct)
		products.PUT("/:id", adminOnly, h.UpdateProduct)
		products.PUT("/:id/price", adminOnly, h.ChangePrice)
		products.DELETE("/:id", adminOnly, h.DeleteProduct)
	}

	categories := router.Group("/api/product-categories")
	{
		categories.GET("", anyRole, h.ListCategories)
		categories.POST("", adminOnly, h.CreateCategory)
	}
}

// ListProducts returns the paginated catalog with optional search and category filter
// @Summary      List products
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        page         query     int     false  "Page number (default: 1)"
// @Param        limit        query     int     false  "Items per page (default: 20)"
// @Param        search       query     string  false  "Search by product name"
// @Param        category_id  query     string  false  "Filter by category"
// @Success      200  {object}  response.ListResponse
// @Router       /api/products [get]
func (h *ProductHandler) ListProducts(c *gin.Context) {
	params := pagination.Parse(c)

	products, total, err := h.productService.List(c.Request.Context(), params.Page, params.Limit,
		c.Query("search"), c.Query("category_id"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.List(products, total, params.Page, params.Limit))
}

// GetProduct returns one product
// @Summary      Get product
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Product ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/products/{id} [get]
func (h *ProductHandler) GetProduct(c *gin.Context) {
	product, err := h.productService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

// CreateProduct adds a catalog item
// @Summary      Create product
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  service.CreateProductDTO  true  "Product payload"
// @Success      201  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Router       /api/products [post]
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req service.CreateProductDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	product, err := h.productService.Create(c.Request.Context(), c.GetString("userID"), req)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, product))
}

// UpdateProduct updates catalog attributes. Price changes go through the
// dedicated price endpoint so the history stays complete.
// @Summary      Update product
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                    true  "Product ID"
// @Param        payload  body  service.UpdateProductDTO  true  "Update payload"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/products/{id} [put]
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	var req service.UpdateProductDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	product, err := h.productService.Update(c.Request.Context(), c.GetString("userID"), c.Param("id"), req)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

// ChangePrice updates the unit cost and appends a price history entry
// @Summary      Change product price
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                  true  "Product ID"
// @Param        payload  body  service.ChangePriceDTO  true  "New price"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Router       /api/products/{id}/price [put]
func (h *ProductHandler) ChangePrice(c *gin.Context) {
	var req service.ChangePriceDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	product, err := h.productService.ChangePrice(c.Request.Context(), c.GetString("userID"), c.Param("id"), req)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, product))
}

// PriceHistory lists price changes for a product, most recent first
// @Summary      Product price history
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        id     path   string  true   "Product ID"
// @Param        page   query  int     false  "Page number (default: 1)"
// @Param        limit  query  int     false  "Items per page (default: 20)"
// @Success      200  {object}  response.ListResponse
// @Router       /api/products/{id}/price-history [get]
func (h *ProductHandler) PriceHistory(c *gin.Context) {
	params := pagination.Parse(c)

	entries, total, err := h.productService.PriceHistory(c.Request.Context(), c.Param("id"), params.Page, params.Limit)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.List(entries, total, params.Page, params.Limit))
}

// DeleteProduct soft deletes a product
// @Summary      Delete product
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Product ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/products/{id} [delete]
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	if err := h.productService.Delete(c.Request.Context(), c.GetString("userID"), c.Param("id")); err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Product deleted successfully"}))
}

// ListCategories returns all product categories
// @Summary      List categories
// @Tags         products
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/product-categories [get]
func (h *ProductHandler) ListCategories(c *gin.Context) {
	categories, err := h.productService.ListCategories(c.Request.Context())
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, categories))
}

// CreateCategory adds a product category
// @Summary      Create category
// @Tags         products
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  object{name=string}  true  "Category payload"
// @Success      201  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Router       /api/product-categories [post]
func (h *ProductHandler) CreateCategory(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	category, err := h.productService.CreateCategory(c.Request.Context(), c.GetString("userID"), req.Name)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, category))
}
