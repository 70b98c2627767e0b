package model

// Employee is a row in the external personnel directory view. The view is
// read-mostly and owned by HR, never written by this system, so there are
// no gorm write tags and no timestamps here.
type Employee struct {
	EmployeeID     string `gorm:"column:employee_id;primaryKey" json:"employee_id"`
	DisplayName    string `gorm:"column:display_name" json:"display_name"`
	Title          string `gorm:"column:title" json:"title"`
	OrgCode1       string `gorm:"column:org_code1" json:"org_code1"` // Division
	OrgCode2       string `gorm:"column:org_code2" json:"org_code2"` // Department
	OrgCode3       string `gorm:"column:org_code3" json:"org_code3"` // Section
	SupervisorCode string `gorm:"column:supervisor_code" json:"supervisor_code"`
	CostCenter     string `gorm:"column:cost_center" json:"cost_center"`
	Email          string `gorm:"column:email" json:"email"`
}

// TableName maps Employee onto the HR-owned directory view.
func (Employee) TableName() string {
	return "personnel_directory"
}

// HasOrgAttributes reports whether the employee carries any organizational
// attribute usable for approver matching.
func (e Employee) HasOrgAttributes() bool {
	return e.OrgCode1 != "" || e.OrgCode2 != "" || e.OrgCode3 != "" || e.SupervisorCode != ""
}
