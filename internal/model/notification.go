package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification template kinds: the fixed set of messages the dispatcher renders
const (
	NotifKindReqCreated   = "REQUISITION_CREATED"
	NotifKindReqApproved  = "REQUISITION_APPROVED"
	NotifKindReqRejected  = "REQUISITION_REJECTED"
	NotifKindGoodsArrived = "GOODS_ARRIVED"
	NotifKindReminder     = "REMINDER"
)

// Email delivery status constants
const (
	EmailStatusPending = "PENDING"
	EmailStatusSent    = "SENT"
	EmailStatusFailed  = "FAILED"
	EmailStatusDead    = "DEAD" // Gave up after max attempts
)

// Notification is an in-app message addressed to a user. Rows are mutated
// only to flip the read flag; deleted only by explicit admin action.
type Notification struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RecipientID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"recipient_id"`
	Kind          string     `gorm:"type:varchar(30);not null;index" json:"kind"`
	Title         string     `gorm:"type:varchar(255);not null" json:"title"`
	Message       string     `gorm:"type:text;not null" json:"message"`
	RequisitionID *uuid.UUID `gorm:"type:uuid;index" json:"requisition_id"`
	Read          bool       `gorm:"not null;default:false;index" json:"read"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
}

// EmailLog records one outbound email delivery attempt chain. AttemptCount
// and NextRetryAt drive the retry sweep so it never rescans rows whose
// backoff window has not elapsed.
type EmailLog struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RecipientID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"recipient_id"`
	Recipient     string     `gorm:"type:varchar(255);not null" json:"recipient"` // Resolved email address
	Kind          string     `gorm:"type:varchar(30);not null" json:"kind"`
	Subject       string     `gorm:"type:varchar(255);not null" json:"subject"`
	Body          string     `gorm:"type:text;not null" json:"body"`
	Status        string     `gorm:"type:varchar(10);not null;default:'PENDING';index" json:"status"` // PENDING, SENT, FAILED, DEAD
	AttemptCount  int        `gorm:"type:int;not null;default:0" json:"attempt_count"`
	NextRetryAt   *time.Time `gorm:"index" json:"next_retry_at"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	SentAt        *time.Time `json:"sent_at"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
