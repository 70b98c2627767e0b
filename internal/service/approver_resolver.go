package service

import (
	"context"

	"backend/internal/model"
	"backend/internal/repository"
	"backend/pkg/apperr"
)

// Approval policy constants. "any" lets every eligible approver decide;
// "nearest" restricts the eligible set to the closest matching tier.
const (
	PolicyAnyApprover = "any"
	PolicyNearestTier = "nearest"
)

// ApproverResolver determines which managers may decide on a requester's
// requisitions. The result is a set; callers must not assume any ordering
// or a single authoritative approver.
type ApproverResolver interface {
	Resolve(ctx context.Context, employeeID string) ([]model.Employee, error)
	IsEligible(ctx context.Context, requesterEmployeeID, actorEmployeeID string) (bool, error)
}

type approverResolver struct {
	directory       repository.DirectoryRepository
	policy          string
	fallbackContact string
}

// NewApproverResolver builds a resolver with the configured policy and
// optional fallback contact for employees without organizational attributes.
func NewApproverResolver(directory repository.DirectoryRepository, policy, fallbackContact string) ApproverResolver {
	if policy == "" {
		policy = PolicyAnyApprover
	}
	return &approverResolver{
		directory:       directory,
		policy:          policy,
		fallbackContact: fallbackContact,
	}
}

func (r *approverResolver) Resolve(ctx context.Context, employeeID string) ([]model.Employee, error) {
	emp, err := r.directory.FindByEmployeeID(ctx, employeeID)
	if err != nil {
		return nil, err
	}

	if !emp.HasOrgAttributes() {
		if r.fallbackContact == "" {
			return nil, apperr.Validation("employee has no organizational attributes and no fallback contact is configured").
				WithCode(apperr.CodeNoEligibleApprover)
		}
		fallback, err := r.directory.FindByEmployeeID(ctx, r.fallbackContact)
		if err != nil {
			return nil, err
		}
		return []model.Employee{*fallback}, nil
	}

	var orgCodes []string
	for _, code := range []string{emp.OrgCode1, emp.OrgCode2, emp.OrgCode3} {
		if code != "" {
			orgCodes = append(orgCodes, code)
		}
	}

	managers, err := r.directory.FindManagers(ctx, orgCodes, emp.SupervisorCode)
	if err != nil {
		return nil, err
	}

	// The requester never approves their own requisition, even when their
	// own title matches a manager pattern.
	managers = excludeEmployee(managers, emp.EmployeeID)

	if r.policy == PolicyNearestTier {
		managers = nearestTier(emp, managers)
	}

	return dedupeEmployees(managers), nil
}

func (r *approverResolver) IsEligible(ctx context.Context, requesterEmployeeID, actorEmployeeID string) (bool, error) {
	approvers, err := r.Resolve(ctx, requesterEmployeeID)
	if err != nil {
		return false, err
	}
	for _, a := range approvers {
		if a.EmployeeID == actorEmployeeID {
			return true, nil
		}
	}
	return false, nil
}

// nearestTier keeps only the closest matching candidates: the recorded
// supervisor beats a section (tier 3) match, which beats department (tier 2),
// which beats division (tier 1).
func nearestTier(emp *model.Employee, managers []model.Employee) []model.Employee {
	tiers := [][]model.Employee{nil, nil, nil, nil}

	for _, m := range managers {
		switch {
		case emp.SupervisorCode != "" && (m.EmployeeID == emp.SupervisorCode || m.SupervisorCode == emp.SupervisorCode):
			tiers[0] = append(tiers[0], m)
		case emp.OrgCode3 != "" && matchesOrgCode(m, emp.OrgCode3):
			tiers[1] = append(tiers[1], m)
		case emp.OrgCode2 != "" && matchesOrgCode(m, emp.OrgCode2):
			tiers[2] = append(tiers[2], m)
		case emp.OrgCode1 != "" && matchesOrgCode(m, emp.OrgCode1):
			tiers[3] = append(tiers[3], m)
		}
	}

	for _, tier := range tiers {
		if len(tier) > 0 {
			return tier
		}
	}
	return nil
}

func matchesOrgCode(m model.Employee, code string) bool {
	return m.OrgCode1 == code || m.OrgCode2 == code || m.OrgCode3 == code
}

func excludeEmployee(employees []model.Employee, employeeID string) []model.Employee {
	out := employees[:0]
	for _, e := range employees {
		if e.EmployeeID != employeeID {
			out = append(out, e)
		}
	}
	return out
}

func dedupeEmployees(employees []model.Employee) []model.Employee {
	seen := make(map[string]bool, len(employees))
	out := make([]model.Employee, 0, len(employees))
	for _, e := range employees {
		if !seen[e.EmployeeID] {
			seen[e.EmployeeID] = true
			out = append(out, e)
		}
	}
	return out
}
