package database

import (
	"backend/internal/model"
	"backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate owned models. The personnel_directory view is external
	// and never migrated here.
	err = db.AutoMigrate(
		&model.User{},
		&model.RefreshToken{},
		&model.ProductCategory{},
		&model.Product{},
		&model.PriceHistory{},
		&model.Requisition{},
		&model.RequisitionItem{},
		&model.Approval{},
		&model.StatusHistory{},
		&model.Notification{},
		&model.EmailLog{},
		&model.AuditLog{},
	)
	if err != nil {
		logger.Warn("failed to auto-migrate models", zap.Error(err))
	}

	return db, nil
}
