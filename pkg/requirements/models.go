package requirements

import (
	"time"

	"gorm.io/gorm"

	"github.com/reqboard/reqboard/pkg/dbjson"
)

// RequirementRecord is the GORM model for a requirement. Deleted
// requirements are tombstoned (soft delete) so display IDs are never reused
// and the audit trail stays intact.
type RequirementRecord struct {
	ID                    string             `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID             string             `gorm:"column:project_id;index:idx_req_project;uniqueIndex:idx_req_display,priority:1;not null"`
	DisplayID             string             `gorm:"column:display_id;uniqueIndex:idx_req_display,priority:2;not null"`
	DisplayNum            int64              `gorm:"column:display_num;index:idx_req_display_num;not null"`
	ParentID              *string            `gorm:"column:parent_id;index:idx_req_parent;type:varchar(36)"`
	Title                 string             `gorm:"column:title;not null"`
	Description           string             `gorm:"column:description"`
	Kind                  string             `gorm:"column:kind;not null"`
	Priority              string             `gorm:"column:priority;default:medium;not null"`
	Status                string             `gorm:"column:status;index:idx_req_status;default:draft;not null"`
	AcceptanceCriteria    dbjson.StringSlice `gorm:"column:acceptance_criteria;type:text"`
	Tags                  dbjson.StringSlice `gorm:"column:tags;type:text"`
	OwnerID               string             `gorm:"column:owner_id"`
	IsBaselined           bool               `gorm:"column:is_baselined;default:false;not null"`
	BaselineVersion       int                `gorm:"column:baseline_version;default:0;not null"`
	HasUnbaselinedChanges bool               `gorm:"column:has_unbaselined_changes;default:false;not null"`
	LockVersion           int64              `gorm:"column:lock_version;default:0;not null"`
	CreatedAt             time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time          `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt             gorm.DeletedAt     `gorm:"column:deleted_at;index"`
}

// TableName returns the GORM table name.
func (RequirementRecord) TableName() string { return "requirements" }

// RecordToRequirement converts a requirement record to the API type.
func RecordToRequirement(rec RequirementRecord) Requirement {
	var parentID string
	if rec.ParentID != nil {
		parentID = *rec.ParentID
	}
	return Requirement{
		ID:                    rec.ID,
		DisplayID:             rec.DisplayID,
		ProjectID:             rec.ProjectID,
		ParentID:              parentID,
		Title:                 rec.Title,
		Description:           rec.Description,
		Kind:                  Kind(rec.Kind),
		Priority:              Priority(rec.Priority),
		Status:                Status(rec.Status),
		AcceptanceCriteria:    []string(rec.AcceptanceCriteria),
		Tags:                  []string(rec.Tags),
		OwnerID:               rec.OwnerID,
		IsBaselined:           rec.IsBaselined,
		BaselineVersion:       rec.BaselineVersion,
		HasUnbaselinedChanges: rec.HasUnbaselinedChanges,
		CreatedAt:             rec.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:             rec.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// SnapshotFields renders the requirement's content as a flat map. Baselines
// store this copy-on-capture, so later edits to the live row can never reach
// into a stored snapshot.
func (rec RequirementRecord) SnapshotFields() map[string]any {
	var parentID string
	if rec.ParentID != nil {
		parentID = *rec.ParentID
	}
	return map[string]any{
		"displayId":          rec.DisplayID,
		"parentId":           parentID,
		"title":              rec.Title,
		"description":        rec.Description,
		"kind":               rec.Kind,
		"priority":           rec.Priority,
		"status":             rec.Status,
		"acceptanceCriteria": append([]string(nil), rec.AcceptanceCriteria...),
		"tags":               append([]string(nil), rec.Tags...),
		"ownerId":            rec.OwnerID,
	}
}
