package repository

import (
	"context"
	"errors"
	"fmt"

	"backend/internal/model"
	"backend/pkg/apperr"

	"gorm.io/gorm"
)

// Title patterns treated as manager positions in the directory. The
// directory stores free-text titles, so matching is pattern based.
var managerTitlePatterns = []string{"%manager%", "%head of%", "%director%", "%supervisor%"}

// DirectoryRepository is the read-only accessor over the external personnel
// directory view. The view is owned by HR; this system never writes to it.
type DirectoryRepository interface {
	FindByEmployeeID(ctx context.Context, employeeID string) (*model.Employee, error)

	// FindManagers returns the unranked superset of candidate approvers:
	// directory entries with a manager-pattern title whose org code (any
	// tier) is in orgCodes or whose supervisor code equals supervisorCode,
	// plus the entry whose employee ID equals supervisorCode regardless of
	// title.
	FindManagers(ctx context.Context, orgCodes []string, supervisorCode string) ([]model.Employee, error)

	EmailOf(ctx context.Context, employeeID string) (string, error)
}

type directoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) DirectoryRepository {
	return &directoryRepository{db: db}
}

func (r *directoryRepository) FindByEmployeeID(ctx context.Context, employeeID string) (*model.Employee, error) {
	var emp model.Employee
	err := GetDB(ctx, r.db).First(&emp, "employee_id = ?", employeeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(fmt.Sprintf("employee %s not found in directory", employeeID))
	}
	if err != nil {
		return nil, apperr.Internal("directory lookup failed", err)
	}
	return &emp, nil
}

func (r *directoryRepository) FindManagers(ctx context.Context, orgCodes []string, supervisorCode string) ([]model.Employee, error) {
	if len(orgCodes) == 0 && supervisorCode == "" {
		return nil, nil
	}

	db := GetDB(ctx, r.db)

	titleCond := db.Where("title ILIKE ?", managerTitlePatterns[0])
	for _, pattern := range managerTitlePatterns[1:] {
		titleCond = titleCond.Or("title ILIKE ?", pattern)
	}

	// An org code may appear at any tier of a manager's own hierarchy.
	attrCond := db.Where("1 = 0")
	if len(orgCodes) > 0 {
		attrCond = attrCond.
			Or("org_code1 IN ?", orgCodes).
			Or("org_code2 IN ?", orgCodes).
			Or("org_code3 IN ?", orgCodes)
	}
	if supervisorCode != "" {
		attrCond = attrCond.Or("supervisor_code = ?", supervisorCode)
	}

	matchCond := db.Where(titleCond).Where(attrCond)
	if supervisorCode != "" {
		matchCond = db.Where(matchCond).Or("employee_id = ?", supervisorCode)
	}

	var managers []model.Employee
	if err := db.Model(&model.Employee{}).Where(matchCond).Find(&managers).Error; err != nil {
		return nil, apperr.Internal("directory manager search failed", err)
	}
	return managers, nil
}

func (r *directoryRepository) EmailOf(ctx context.Context, employeeID string) (string, error) {
	emp, err := r.FindByEmployeeID(ctx, employeeID)
	if err != nil {
		return "", err
	}
	if emp.Email == "" {
		return "", apperr.NotFound(fmt.Sprintf("employee %s has no email in directory", employeeID))
	}
	return emp.Email, nil
}
