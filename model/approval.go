package model

import "time"

// ApprovalCategory identifies which business queue a pending approval came
// from.
type ApprovalCategory string

const (
	CategoryIncident   ApprovalCategory = "incident"
	CategoryGatePass   ApprovalCategory = "gate_pass"
	CategoryWorker     ApprovalCategory = "worker"
	CategoryContractor ApprovalCategory = "contractor"
	CategoryVisitor    ApprovalCategory = "visitor"
	CategoryAsset      ApprovalCategory = "asset"
)

// PendingApproval is the normalized, ephemeral shape every heterogeneous
// approval queue is mapped into. It is computed per request and never
// persisted.
type PendingApproval struct {
	ID          string           `json:"id"`
	ReferenceID string           `json:"reference_id"`
	Title       string           `json:"title"`
	Category    ApprovalCategory `json:"category"`
	SubType     string           `json:"sub_type,omitempty"`
	Status      string           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// DaysPending is floor(now - reference timestamp) in whole UTC days.
	// The reference timestamp is category-specific: incidents use
	// updated_at, every other category uses created_at.
	DaysPending int `json:"days_pending"`

	Priority       string `json:"priority,omitempty"`
	RequesterName  string `json:"requester_name,omitempty"`
	DepartmentID   string `json:"-"`
	DepartmentName string `json:"department_name,omitempty"`
	CompanyID      string `json:"-"`
	CompanyName    string `json:"company_name,omitempty"`
}
