package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/mailer"
	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperr"
	"backend/pkg/logger"
)

const (
	// retryBaseBackoff is doubled per recorded attempt, capped at retryMaxBackoff.
	retryBaseBackoff = 5 * time.Minute
	retryMaxBackoff  = 24 * time.Hour

	// retrySweepBatch bounds how many rows one sweep touches.
	retrySweepBatch = 200

	notifyTimeout = 30 * time.Second
)

// RetrySummary reports the outcome of one retry sweep.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

// Pusher delivers in-app payloads to connected clients. Satisfied by the
// websocket hub; faked in tests.
type Pusher interface {
	SendToUser(userID string, payload []byte)
}

type NotificationResponse struct {
	ID            string  `json:"id"`
	Kind          string  `json:"kind"`
	Title         string  `json:"title"`
	Message       string  `json:"message"`
	RequisitionID *string `json:"requisition_id"`
	Read          bool    `json:"read"`
	CreatedAt     string  `json:"created_at"`
}

type EmailLogResponse struct {
	ID           string `json:"id"`
	Recipient    string `json:"recipient"`
	Kind         string `json:"kind"`
	Subject      string `json:"subject"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	NextRetryAt  string `json:"next_retry_at,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// NotificationService is the dispatcher plus the in-app notification query API.
type NotificationService interface {
	// Notify renders kind for the recipient, sends the email, and records
	// the EmailLog and in-app Notification rows. Email delivery failure is
	// recorded, not returned; only directory/storage failures surface.
	Notify(ctx context.Context, recipientEmployeeID string, kind string, tctx TemplateContext) error

	// NotifyAsync submits Notify to the dispatcher pool so business
	// transactions never block on SMTP.
	NotifyAsync(recipientEmployeeID string, kind string, tctx TemplateContext)

	// RetryFailed re-attempts FAILED deliveries whose backoff has elapsed.
	// Rows reaching maxAttempts are marked DEAD and left for operators.
	RetryFailed(ctx context.Context, maxAttempts int) (RetrySummary, error)

	List(ctx context.Context, recipientID string, unreadOnly bool, page, limit int) ([]NotificationResponse, int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, id string) error
	ListEmailLogs(ctx context.Context, status string, page, limit int) ([]EmailLogResponse, int64, error)

	// Close releases the dispatcher pool.
	Close()
}

type notificationService struct {
	notifRepo repository.NotificationRepository
	userRepo  repository.UserRepository
	directory repository.DirectoryRepository
	mail      mailer.Mailer
	pusher    Pusher
	pool      *ants.Pool
	now       func() time.Time
}

// NewNotificationService builds the dispatcher. poolSize bounds concurrent
// SMTP sends; pusher may be nil when no websocket hub is running (reminder
// command).
func NewNotificationService(
	notifRepo repository.NotificationRepository,
	userRepo repository.UserRepository,
	directory repository.DirectoryRepository,
	mail mailer.Mailer,
	pusher Pusher,
	poolSize int,
) (NotificationService, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &notificationService{
		notifRepo: notifRepo,
		userRepo:  userRepo,
		directory: directory,
		mail:      mail,
		pusher:    pusher,
		pool:      pool,
		now:       time.Now,
	}, nil
}

func (s *notificationService) Notify(ctx context.Context, recipientEmployeeID string, kind string, tctx TemplateContext) error {
	email, err := s.directory.EmailOf(ctx, recipientEmployeeID)
	if err != nil {
		return err
	}

	subject, body, err := renderMessage(kind, tctx)
	if err != nil {
		return apperr.Internal("render notification", err)
	}

	// The in-app row needs a user account; approvers without one get email only.
	var recipientUserID uuid.UUID
	user, err := s.userRepo.GetByEmployeeID(ctx, recipientEmployeeID)
	switch {
	case err == nil:
		recipientUserID = user.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Email-only recipient
	default:
		return apperr.Internal("load recipient account", err)
	}

	emailLog := &model.EmailLog{
		RecipientID: recipientUserID,
		Recipient:   email,
		Kind:        kind,
		Subject:     subject,
		Body:        body,
		Status:      model.EmailStatusPending,
	}

	s.attemptDelivery(emailLog)

	if err := s.notifRepo.CreateEmailLog(ctx, emailLog); err != nil {
		return apperr.Internal("record email log", err)
	}

	if recipientUserID != uuid.Nil {
		notification := &model.Notification{
			RecipientID: recipientUserID,
			Kind:        kind,
			Title:       subject,
			Message:     body,
		}
		if reqID, parseErr := uuid.Parse(tctx.RequisitionID); parseErr == nil {
			notification.RequisitionID = &reqID
		}
		if err := s.notifRepo.Create(ctx, notification); err != nil {
			return apperr.Internal("record notification", err)
		}
		s.push(recipientUserID.String(), notification)
	}

	return nil
}

func (s *notificationService) NotifyAsync(recipientEmployeeID string, kind string, tctx TemplateContext) {
	err := s.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.Notify(ctx, recipientEmployeeID, kind, tctx); err != nil {
			logger.Error("async notification failed",
				zap.String("recipient", recipientEmployeeID),
				zap.String("kind", kind),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		logger.Error("dispatcher pool rejected notification",
			zap.String("recipient", recipientEmployeeID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

// attemptDelivery sends the email and stamps the log row with the outcome.
// Failure sets the backoff window for the retry sweep.
func (s *notificationService) attemptDelivery(log *model.EmailLog) {
	log.AttemptCount++
	if err := s.mail.Send(log.Recipient, log.Subject, log.Body); err != nil {
		log.Status = model.EmailStatusFailed
		log.LastError = err.Error()
		next := s.now().Add(backoffFor(log.AttemptCount))
		log.NextRetryAt = &next
		logger.Warn("email delivery failed",
			zap.String("recipient", log.Recipient),
			zap.String("kind", log.Kind),
			zap.Int("attempt", log.AttemptCount),
			zap.Error(err),
		)
		return
	}

	sentAt := s.now()
	log.Status = model.EmailStatusSent
	log.SentAt = &sentAt
	log.LastError = ""
	log.NextRetryAt = nil
}

func (s *notificationService) RetryFailed(ctx context.Context, maxAttempts int) (RetrySummary, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	rows, err := s.notifRepo.FindRetryable(ctx, s.now(), retrySweepBatch)
	if err != nil {
		return RetrySummary{}, apperr.Internal("scan failed emails", err)
	}

	var summary RetrySummary
	for i := range rows {
		row := &rows[i]
		summary.Attempted++

		s.attemptDelivery(row)

		if row.Status == model.EmailStatusFailed && row.AttemptCount >= maxAttempts {
			row.Status = model.EmailStatusDead
			row.NextRetryAt = nil
		}

		switch row.Status {
		case model.EmailStatusSent:
			summary.Succeeded++
		case model.EmailStatusDead:
			summary.Dead++
		default:
			summary.Failed++
		}

		if err := s.notifRepo.UpdateEmailLog(ctx, row); err != nil {
			return summary, apperr.Internal("update email log", err)
		}
	}

	logger.Info("email retry sweep completed",
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("dead", summary.Dead),
	)
	return summary, nil
}

func (s *notificationService) List(ctx context.Context, recipientID string, unreadOnly bool, page, limit int) ([]NotificationResponse, int64, error) {
	rid, err := uuid.Parse(recipientID)
	if err != nil {
		return nil, 0, apperr.Validation("invalid recipient id")
	}

	rows, total, err := s.notifRepo.List(ctx, rid, unreadOnly, page, limit)
	if err != nil {
		return nil, 0, apperr.Internal("list notifications", err)
	}

	out := make([]NotificationResponse, 0, len(rows))
	for _, n := range rows {
		out = append(out, toNotificationResponse(n))
	}
	return out, total, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	rid, err := uuid.Parse(recipientID)
	if err != nil {
		return 0, apperr.Validation("invalid recipient id")
	}
	count, err := s.notifRepo.UnreadCount(ctx, rid)
	if err != nil {
		return 0, apperr.Internal("count unread notifications", err)
	}
	return count, nil
}

func (s *notificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	nid, err := uuid.Parse(id)
	if err != nil {
		return apperr.Validation("invalid notification id")
	}
	rid, err := uuid.Parse(recipientID)
	if err != nil {
		return apperr.Validation("invalid recipient id")
	}

	rows, err := s.notifRepo.MarkRead(ctx, nid, rid)
	if err != nil {
		return apperr.Internal("mark notification read", err)
	}
	if rows == 0 {
		return apperr.NotFound("notification not found")
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	rid, err := uuid.Parse(recipientID)
	if err != nil {
		return 0, apperr.Validation("invalid recipient id")
	}
	rows, err := s.notifRepo.MarkAllRead(ctx, rid)
	if err != nil {
		return 0, apperr.Internal("mark notifications read", err)
	}
	return rows, nil
}

func (s *notificationService) Delete(ctx context.Context, id string) error {
	nid, err := uuid.Parse(id)
	if err != nil {
		return apperr.Validation("invalid notification id")
	}
	if err := s.notifRepo.Delete(ctx, nid); err != nil {
		return apperr.Internal("delete notification", err)
	}
	return nil
}

func (s *notificationService) ListEmailLogs(ctx context.Context, status string, page, limit int) ([]EmailLogResponse, int64, error) {
	rows, total, err := s.notifRepo.ListEmailLogs(ctx, status, page, limit)
	if err != nil {
		return nil, 0, apperr.Internal("list email logs", err)
	}

	out := make([]EmailLogResponse, 0, len(rows))
	for _, row := range rows {
		resp := EmailLogResponse{
			ID:           row.ID.String(),
			Recipient:    row.Recipient,
			Kind:         row.Kind,
			Subject:      row.Subject,
			Status:       row.Status,
			AttemptCount: row.AttemptCount,
			LastError:    row.LastError,
			CreatedAt:    row.CreatedAt.Format(time.RFC3339),
		}
		if row.NextRetryAt != nil {
			resp.NextRetryAt = row.NextRetryAt.Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	return out, total, nil
}

func (s *notificationService) Close() {
	s.pool.Release()
}

func (s *notificationService) push(userID string, n *model.Notification) {
	if s.pusher == nil {
		return
	}
	payload, err := json.Marshal(toNotificationResponse(*n))
	if err != nil {
		return
	}
	s.pusher.SendToUser(userID, payload)
}

func backoffFor(attempts int) time.Duration {
	backoff := retryBaseBackoff
	for i := 1; i < attempts; i++ {
		backoff *= 2
		if backoff >= retryMaxBackoff {
			return retryMaxBackoff
		}
	}
	return backoff
}

func toNotificationResponse(n model.Notification) NotificationResponse {
	resp := NotificationResponse{
		ID:        n.ID.String(),
		Kind:      n.Kind,
		Title:     n.Title,
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if n.RequisitionID != nil {
		s := n.RequisitionID.String()
		resp.RequisitionID = &s
	}
	return resp
}
