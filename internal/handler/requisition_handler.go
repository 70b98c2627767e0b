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

type RequisitionHandler struct {
	requisitionService service.RequisitionService
}

func NewRequisitionHandler(requisitionService service.RequisitionService) *RequisitionHandler {
	return &RequisitionHandler{requisitionService: requisitionService}
}

func (h *RequisitionHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleUser, model.RoleManager, model.RoleAdmin, model.RoleDev)
	approvers := middleware.RequireRole(model.RoleManager, model.RoleAdmin, model.RoleDev)
	adminOnly := middleware.RequireRole(model.RoleAdmin, model.RoleDev)

	requisitions := router.Group("/api/requisitions")
	{
		requisitions.POST("", anyRole, h.CreateRequisition)
		requisitions.GET("", anyRole, h.ListRequisitions)
		requisitions.GET("/pending-approval", approvers, h.ListPendingApproval)
		requisitions.POST("/mark-viewed", adminOnly, h.MarkApprovedViewed)
		requisitions.GET("/:id", anyRole, h.GetRequisition)
		requisitions.GET("/:id/history", anyRole, h.GetHistory)
		requisitions.GET("/:id/approvers", anyRole, h.GetApprovers)
		requisitions.PUT("/:id/approve", approvers, h.Approve)
		requisitions.PUT("/:id/reject", approvers, h.Reject)
	}
}

// CreateRequisition submits a new requisition for approval
// @Summary      Create requisition
// @Tags         requisitions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                        false  "Client token deduplicating rapid resubmissions"
// @Param        payload          body    service.CreateRequisitionDTO  true   "Requisition payload"
// @Success      201  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/requisitions [post]
func (h *RequisitionHandler) CreateRequisition(c *gin.Context) {
	var req service.CreateRequisitionDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	requisition, err := h.requisitionService.Create(c.Request.Context(), c.GetString("userID"), req)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, requisition))
}

// ListRequisitions lists requisitions. Non-admin callers see only their own.
// @Summary      List requisitions
// @Tags         requisitions
// @Security     BearerAuth
// @Produce      json
// @Param        page    query  int     false  "Page number (default: 1)"
// @Param        limit   query  int     false  "Items per page (default: 20)"
// @Param        status  query  string  false  "Filter by status: PENDING, APPROVED, REJECTED"
// @Success      200  {object}  response.ListResponse
// @Router       /api/requisitions [get]
func (h *RequisitionHandler) ListRequisitions(c *gin.Context) {
	params := pagination.Parse(c)

	filter := service.RequisitionFilter{
		Status: c.Query("status"),
		Page:   params.Page,
		Limit:  params.Limit,
	}
	role := c.GetString("userRole")
	if role != model.RoleAdmin && role != model.RoleDev {
		filter.RequesterID = c.GetString("userID")
	}

	requisitions, total, err := h.requisitionService.List(c.Request.Context(), filter)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.List(requisitions, total, params.Page, params.Limit))
}

// ListPendingApproval lists pending requisitions the caller may decide on
// @Summary      List requisitions awaiting my approval
// @Tags         requisitions
// @Security     BearerAuth
// @Produce      json
// @Param        page   query  int  false  "Page number (default: 1)"
// @Param        limit  query  int  false  "Items per page (default: 20)"
// @Success      200  {object}  response.ListResponse
// @Router       /api/requisitions/pending-approval [get]
func (h *RequisitionHandler) ListPendingApproval(c *gin.Context) {
	params := pagination.Parse(c)

	requisitions, total, err := h.requisitionService.ListPendingForApprover(
		c.Request.Context(), c.GetString("userID"), params.Page, params.Limit)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.List(requisitions, total, params.Page, params.Limit))
}

// GetRequisition returns one requisition with its items
// @Summary      Get requisition
// @Tags         requisitions
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Requisition ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/requisitions/{id} [get]
func (h *RequisitionHandler) GetRequisition(c *gin.Context) {
	requisition, err := h.requisitionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, requisition))
}

// GetHistory returns the status transition log of a requisition
// @Summary      Requisition status history
// @Tags         requisitions
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Requisition ID"
// @Success      200  {object}  response.Response
// @Router       /api/requisitions/{id}/history [get]
func (h *RequisitionHandler) GetHistory(c *gin.Context) {
	history, err := h.requisitionService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, history))
}

// GetApprovers returns the eligible approver set for a requisition
// @Summary      Eligible approvers
// @Tags         requisitions
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Requisition ID"
// @Success      200  {object}  response.Response
// @Router       /api/requisitions/{id}/approvers [get]
func (h *RequisitionHandler) GetApprovers(c *gin.Context) {
	approvers, err := h.requisitionService.Approvers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, approvers))
}

// Approve approves a pending requisition
// @Summary      Approve requisition
// @Tags         requisitions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string             true   "Requisition ID"
// @Param        payload  body  service.DecideDTO  false  "Optional comment"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/requisitions/{id}/approve [put]
func (h *RequisitionHandler) Approve(c *gin.Context) {
	h.decide(c, model.DecisionApprove)
}

// Reject rejects a pending requisition
// @Summary      Reject requisition
// @Tags         requisitions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string             true   "Requisition ID"
// @Param        payload  body  service.DecideDTO  false  "Optional comment"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/requisitions/{id}/reject [put]
func (h *RequisitionHandler) Reject(c *gin.Context) {
	h.decide(c, model.DecisionReject)
}

func (h *RequisitionHandler) decide(c *gin.Context, decision string) {
	var req service.DecideDTO
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	requisition, err := h.requisitionService.Decide(
		c.Request.Context(), c.Param("id"), c.GetString("userID"), decision, req.Comment)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, requisition))
}

// MarkApprovedViewed marks every unviewed approved requisition as seen by
// purchasing staff
// @Summary      Mark approved requisitions viewed
// @Tags         requisitions
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/requisitions/mark-viewed [post]
func (h *RequisitionHandler) MarkApprovedViewed(c *gin.Context) {
	marked, err := h.requisitionService.MarkApprovedViewed(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"marked": marked}))
}
