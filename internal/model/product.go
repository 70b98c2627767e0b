package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductCategory groups products for the catalog UI
type ProductCategory struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Product represents a stationery item in the catalog. UnitCost is the
// current price only; historical prices live in PriceHistory.
type Product struct {
	ID         uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name       string           `gorm:"type:varchar(255);not null;index" json:"name"`
	CategoryID *uuid.UUID       `gorm:"type:uuid;index" json:"category_id"`
	Category   *ProductCategory `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	UnitCost   decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"unit_cost"`
	OrderUnit  string           `gorm:"type:varchar(50)" json:"order_unit"` // e.g. box, pack, piece
	PhotoURL   string           `gorm:"type:varchar(512)" json:"photo_url"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	DeletedAt  gorm.DeletedAt   `gorm:"index" json:"-"`
}

// PriceHistory is an append-only log of unit-cost changes per product
type PriceHistory struct {
	ID            uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProductID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"product_id"`
	Product       *Product        `gorm:"foreignKey:ProductID" json:"-"`
	OldPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"old_price"`
	NewPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"new_price"`
	PercentChange decimal.Decimal `gorm:"type:decimal(9,4);not null" json:"percent_change"`
	ChangedBy     *uuid.UUID      `gorm:"type:uuid;index" json:"changed_by"`
	Actor         *User           `gorm:"foreignKey:ChangedBy" json:"actor,omitempty"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
}
