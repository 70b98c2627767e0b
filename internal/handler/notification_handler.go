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

type NotificationHandler struct {
	notificationService service.NotificationService
	maxEmailAttempts    int
}

func NewNotificationHandler(notificationService service.NotificationService, maxEmailAttempts int) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		maxEmailAttempts:    maxEmailAttempts,
	}
}

func (h *NotificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	anyRole := middleware.RequireRole(model.RoleUser, model.RoleManager, model.RoleAdmin, model.RoleDev)
	adminOnly := middleware.RequireRole(model.RoleAdmin, model.RoleDev)

	notifications := router.Group("/api/notifications")
	{
		notifications.GET("", anyRole, h.ListNotifications)
		notifications.GET("/unread-count", anyRole, h.UnreadCount)
		notifications.PUT("/read-all", anyRole, h.MarkAllRead)
		notifications.PUT("/:id/read", anyRole, h.MarkRead)
		notifications.DELETE("/:id", adminOnly, h.DeleteNotification)
	}

	emails := router.Group("/api/email-management")
	{
		emails.GET("/logs", adminOnly, h.ListEmailLogs)
		emails.POST("/retry", adminOnly, h.RetryFailed)
	}
}

// ListNotifications returns the caller's in-app notifications
// @Summary      List my notifications
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        page    query  int   false  "Page number (default: 1)"
// @Param        limit   query  int   false  "Items per page (default: 20)"
// @Param        unread  query  bool  false  "Only unread notifications"
// @Success      200  {object}  response.ListResponse
// @Router       /api/notifications [get]
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	params := pagination.Parse(c)
	unreadOnly := c.Query("unread") == "true"

	notifications, total, err := h.notificationService.List(
		c.Request.Context(), c.GetString("userID"), unreadOnly, params.Page, params.Limit)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.List(notifications, total, params.Page, params.Limit))
}

// UnreadCount returns the caller's unread notification count
// @Summary      Unread notification count
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notificationService.UnreadCount(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"count": count}))
}

// MarkRead marks one of the caller's notifications as read
// @Summary      Mark notification read
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Notification ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/notifications/{id}/read [put]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notificationService.MarkRead(c.Request.Context(), c.Param("id"), c.GetString("userID")); err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Notification marked as read"}))
}

// MarkAllRead marks all of the caller's notifications as read
// @Summary      Mark all notifications read
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/notifications/read-all [put]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	marked, err := h.notificationService.MarkAllRead(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"marked": marked}))
}

// DeleteNotification removes a notification
// @Summary      Delete notification
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Notification ID"
// @Success      200  {object}  response.Response
// @Router       /api/notifications/{id} [delete]
func (h *NotificationHandler) DeleteNotification(c *gin.Context) {
	if err := h.notificationService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Notification deleted successfully"}))
}

// ListEmailLogs lists outbound email delivery attempts
// @Summary      List email logs
// @Tags         emails
// @Security     BearerAuth
// @Produce      json
// @Param        page    query  int     false  "Page number (default: 1)"
// @Param        limit   query  int     false  "Items per page (default: 20)"
// @Param        status  query  string  false  "Filter by status: PENDING, SENT, FAILED, DEAD"
// @Success      200  {object}  response.ListResponse
// @Router       /api/email-management/logs [get]
func (h *NotificationHandler) ListEmailLogs(c *gin.Context) {
	params := pagination.Parse(c)

	logs, total, err := h.notificationService.ListEmailLogs(
		c.Request.Context(), c.Query("status"), params.Page, params.Limit)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.List(logs, total, params.Page, params.Limit))
}

// RetryFailed runs one retry sweep over failed email deliveries
// @Summary      Retry failed emails
// @Tags         emails
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/email-management/retry [post]
func (h *NotificationHandler) RetryFailed(c *gin.Context) {
	summary, err := h.notificationService.RetryFailed(c.Request.Context(), h.maxEmailAttempts)
	if err != nil {
		response.AbortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, summary))
}
