// Package trace maintains links between requirements and external
// artifacts, and derives the traceability matrix and coverage metric from
// them. Links are plain associations: creating or removing one never
// mutates the requirement itself.
package trace

import "time"

// ArtifactType classifies what a trace link points at.
type ArtifactType string

const (
	ArtifactTask        ArtifactType = "task"
	ArtifactTestCase    ArtifactType = "test_case"
	ArtifactStakeholder ArtifactType = "stakeholder"
	ArtifactMeeting     ArtifactType = "meeting"
)

// ValidArtifactType reports whether t is a known artifact type.
func ValidArtifactType(t ArtifactType) bool {
	switch t {
	case ArtifactTask, ArtifactTestCase, ArtifactStakeholder, ArtifactMeeting:
		return true
	}
	return false
}

// coveringTypes are the artifact types that count toward coverage. A
// requirement tied only to stakeholders or meetings is documented, not
// covered.
var coveringTypes = []ArtifactType{ArtifactTask, ArtifactTestCase}

// TraceLinkRecord is the GORM model for a requirement-to-artifact link.
// The unique index makes link creation idempotent at the storage layer.
type TraceLinkRecord struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID     string    `gorm:"column:project_id;uniqueIndex:idx_trace_link,priority:1;not null"`
	RequirementID string    `gorm:"column:requirement_id;uniqueIndex:idx_trace_link,priority:2;index:idx_trace_requirement;not null"`
	ArtifactType  string    `gorm:"column:artifact_type;uniqueIndex:idx_trace_link,priority:3;not null"`
	ArtifactID    string    `gorm:"column:artifact_id;uniqueIndex:idx_trace_link,priority:4;not null"`
	CreatedBy     string    `gorm:"column:created_by;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (TraceLinkRecord) TableName() string { return "trace_links" }

// TraceLink is the API-facing link.
type TraceLink struct {
	ID            string       `json:"id"`
	RequirementID string       `json:"requirementId"`
	ArtifactType  ArtifactType `json:"artifactType"`
	ArtifactID    string       `json:"artifactId"`
	CreatedBy     string       `json:"createdBy"`
	CreatedAt     string       `json:"createdAt"`
}

// LinkInput carries the fields accepted when creating a link.
type LinkInput struct {
	ArtifactType ArtifactType `json:"artifactType"`
	ArtifactID   string       `json:"artifactId"`
}

// MatrixRow is one requirement's slice of the traceability matrix.
type MatrixRow struct {
	RequirementID string                    `json:"requirementId"`
	DisplayID     string                    `json:"displayId"`
	Title         string                    `json:"title"`
	Artifacts     map[ArtifactType][]string `json:"artifacts"`
	Covered       bool                      `json:"covered"`
}

// Matrix is the full project traceability matrix.
type Matrix struct {
	Rows      []MatrixRow `json:"rows"`
	TotalSize int         `json:"totalSize"`
}

// Coverage is the project coverage metric. Percent is 100 times the share
// of requirements with at least one task or test case link, rounded to the
// nearest integer, and 0 for a project with no requirements.
type Coverage struct {
	TotalRequirements   int `json:"totalRequirements"`
	CoveredRequirements int `json:"coveredRequirements"`
	Percent             int `json:"percent"`
}

// RecordToTraceLink converts a link record to the API type.
func RecordToTraceLink(rec TraceLinkRecord) TraceLink {
	return TraceLink{
		ID:            rec.ID,
		RequirementID: rec.RequirementID,
		ArtifactType:  ArtifactType(rec.ArtifactType),
		ArtifactID:    rec.ArtifactID,
		CreatedBy:     rec.CreatedBy,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339Nano),
	}
}
