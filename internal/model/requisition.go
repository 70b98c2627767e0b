package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequisitionStatus constants. PENDING is the only initial state; APPROVED
// and REJECTED are terminal.
const (
	ReqStatusPending  = "PENDING"
	ReqStatusApproved = "APPROVED"
	ReqStatusRejected = "REJECTED"
)

// Decision constants recorded on Approval rows
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// Requisition is an employee's stationery purchase request. TotalAmount is
// derived at submission time and must equal the sum of the item line totals.
type Requisition struct {
	ID            uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequesterID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester     *User            `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Status        string           `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	TotalAmount   decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"total_amount"`
	IssueNote     string           `gorm:"type:text" json:"issue_note"`
	AdminViewedAt *time.Time       `gorm:"index" json:"admin_viewed_at"` // Set once when an admin acknowledges the approved requisition
	Items         []RequisitionItem `gorm:"foreignKey:RequisitionID" json:"items"`
	CreatedAt     time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// RequisitionItem is one catalog line within a requisition. UnitPrice and
// LineTotal are frozen at submission time; later catalog price changes do
// not rewrite them.
type RequisitionItem struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequisitionID uuid.UUID       `gorm:"type:uuid;not null;index" json:"requisition_id"`
	ProductID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	Product       *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Quantity      int             `gorm:"type:int;not null" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"unit_price"`
	LineTotal     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"line_total"`
}

// Approval records one decision event on a requisition
type Approval struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequisitionID uuid.UUID  `gorm:"type:uuid;not null;index" json:"requisition_id"`
	Decision      string     `gorm:"type:varchar(10);not null" json:"decision"` // APPROVE, REJECT
	ActorID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"actor_id"`
	Actor         *User      `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	Comment       string     `gorm:"type:text" json:"comment"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StatusHistory is the append-only audit trail of every status transition a
// requisition undergoes. Exactly one row per performed transition.
type StatusHistory struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequisitionID uuid.UUID `gorm:"type:uuid;not null;index" json:"requisition_id"`
	FromStatus    string    `gorm:"type:varchar(20)" json:"from_status"` // Empty on the initial PENDING row
	ToStatus      string    `gorm:"type:varchar(20);not null" json:"to_status"`
	ActorID       *uuid.UUID `gorm:"type:uuid" json:"actor_id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}
