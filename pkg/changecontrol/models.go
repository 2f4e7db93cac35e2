// Package changecontrol implements the RFC workflow that gates changes to
// requirements. A change request carries its own lifecycle, separate from
// the requirement it targets: approving an RFC records the decision, it
// does not edit the requirement.
package changecontrol

import (
	"time"

	"gorm.io/gorm"
)

// Status is a change request's workflow state.
type Status string

const (
	StatusProposed    Status = "proposed"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusImplemented Status = "implemented"
	StatusCancelled   Status = "cancelled"
)

// ValidStatus reports whether s is a known workflow state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusProposed, StatusUnderReview, StatusApproved, StatusRejected, StatusImplemented, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func Terminal(s Status) bool {
	switch s {
	case StatusRejected, StatusImplemented, StatusCancelled:
		return true
	}
	return false
}

// ImpactLevel grades the blast radius a change request claims.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// ValidImpactLevel reports whether l is a known impact level.
func ValidImpactLevel(l ImpactLevel) bool {
	switch l {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
		return true
	}
	return false
}

// ChangeRequestRecord is the GORM model for a change request.
type ChangeRequestRecord struct {
	ID                        string         `gorm:"primaryKey;column:id;type:varchar(36)"`
	DisplayID                 string         `gorm:"column:display_id;uniqueIndex:idx_cr_display,priority:2;not null"`
	DisplayNum                int64          `gorm:"column:display_num;index:idx_cr_display_num;not null"`
	ProjectID                 string         `gorm:"column:project_id;uniqueIndex:idx_cr_display,priority:1;index:idx_cr_project;not null"`
	RequirementID             string         `gorm:"column:requirement_id;index:idx_cr_requirement;not null"`
	Title                     string         `gorm:"column:title;not null"`
	Description               string         `gorm:"column:description"`
	Reason                    string         `gorm:"column:reason;not null"`
	ImpactLevel               string         `gorm:"column:impact_level;not null"`
	ImpactDescription         string         `gorm:"column:impact_description"`
	RiskDescription           string         `gorm:"column:risk_description"`
	ScheduleImpactDescription string         `gorm:"column:schedule_impact_description"`
	CostEstimate              float64        `gorm:"column:cost_estimate"`
	TimeEstimateHours         int            `gorm:"column:time_estimate_hours"`
	Status                    string         `gorm:"column:status;index:idx_cr_status;not null"`
	RequesterID               string         `gorm:"column:requester_id;not null"`
	DecidedBy                 string         `gorm:"column:decided_by"`
	DecidedAt                 *time.Time     `gorm:"column:decided_at"`
	DecisionNote              string         `gorm:"column:decision_note"`
	LockVersion               int64          `gorm:"column:lock_version;default:0;not null"`
	CreatedAt                 time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt                 gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName returns the GORM table name.
func (ChangeRequestRecord) TableName() string { return "change_requests" }

// ChangeRequest is the API-facing change request.
type ChangeRequest struct {
	ID                        string      `json:"id"`
	DisplayID                 string      `json:"displayId"`
	ProjectID                 string      `json:"projectId"`
	RequirementID             string      `json:"requirementId"`
	Title                     string      `json:"title"`
	Description               string      `json:"description,omitempty"`
	Reason                    string      `json:"reason"`
	ImpactLevel               ImpactLevel `json:"impactLevel"`
	ImpactDescription         string      `json:"impactDescription,omitempty"`
	RiskDescription           string      `json:"riskDescription,omitempty"`
	ScheduleImpactDescription string      `json:"scheduleImpactDescription,omitempty"`
	CostEstimate              float64     `json:"costEstimate"`
	TimeEstimateHours         int         `json:"timeEstimateHours"`
	Status                    Status      `json:"status"`
	RequesterID               string      `json:"requesterId"`
	DecidedBy                 string      `json:"decidedBy,omitempty"`
	DecidedAt                 string      `json:"decidedAt,omitempty"`
	DecisionNote              string      `json:"decisionNote,omitempty"`
	CreatedAt                 string      `json:"createdAt"`
	UpdatedAt                 string      `json:"updatedAt"`
}

// ChangeRequestList is a paginated list of change requests.
type ChangeRequestList struct {
	ChangeRequests []ChangeRequest `json:"changeRequests"`
	NextPageToken  string          `json:"nextPageToken,omitempty"`
	TotalSize      int             `json:"totalSize"`
}

// CreateInput carries the fields accepted when proposing a change request.
// TimeEstimateHours is whole hours; fractional JSON input fails decoding.
type CreateInput struct {
	RequirementID             string      `json:"requirementId"`
	Title                     string      `json:"title"`
	Description               string      `json:"description"`
	Reason                    string      `json:"reason"`
	ImpactLevel               ImpactLevel `json:"impactLevel"`
	ImpactDescription         string      `json:"impactDescription"`
	RiskDescription           string      `json:"riskDescription"`
	ScheduleImpactDescription string      `json:"scheduleImpactDescription"`
	CostEstimate              float64     `json:"costEstimate"`
	TimeEstimateHours         int         `json:"timeEstimateHours"`
}

// TransitionInput carries a workflow transition request.
type TransitionInput struct {
	Status Status `json:"status"`
	Note   string `json:"note"`
}

// RecordToChangeRequest converts a change request record to the API type.
func RecordToChangeRequest(rec ChangeRequestRecord) ChangeRequest {
	cr := ChangeRequest{
		ID:                        rec.ID,
		DisplayID:                 rec.DisplayID,
		ProjectID:                 rec.ProjectID,
		RequirementID:             rec.RequirementID,
		Title:                     rec.Title,
		Description:               rec.Description,
		Reason:                    rec.Reason,
		ImpactLevel:               ImpactLevel(rec.ImpactLevel),
		ImpactDescription:         rec.ImpactDescription,
		RiskDescription:           rec.RiskDescription,
		ScheduleImpactDescription: rec.ScheduleImpactDescription,
		CostEstimate:              rec.CostEstimate,
		TimeEstimateHours:         rec.TimeEstimateHours,
		Status:                    Status(rec.Status),
		RequesterID:               rec.RequesterID,
		DecidedBy:                 rec.DecidedBy,
		DecisionNote:              rec.DecisionNote,
		CreatedAt:                 rec.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:                 rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	if rec.DecidedAt != nil {
		cr.DecidedAt = rec.DecidedAt.Format(time.RFC3339Nano)
	}
	return cr
}
