package baseline

import (
	"time"

	"github.com/reqboard/reqboard/pkg/dbjson"
)

// BaselineRecord is the GORM model for an immutable requirement snapshot.
// Records are append-only: versions for a requirement are 1-based, strictly
// increasing, and never mutated or deleted. The snapshot is a full copy of
// the requirement's content at capture time, never a reference into the
// live row.
type BaselineRecord struct {
	ID            string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID     string     `gorm:"column:project_id;index:idx_baseline_project;not null"`
	RequirementID string     `gorm:"column:requirement_id;uniqueIndex:idx_baseline_version,priority:1;not null"`
	Version       int        `gorm:"column:version;uniqueIndex:idx_baseline_version,priority:2;not null"`
	Snapshot      dbjson.Map `gorm:"column:snapshot;type:text;not null"`
	CapturedAt    time.Time  `gorm:"column:captured_at;not null"`
	CapturedBy    string     `gorm:"column:captured_by;not null"`
}

// TableName returns the GORM table name.
func (BaselineRecord) TableName() string { return "requirement_baselines" }

// Baseline is the API-facing snapshot.
type Baseline struct {
	ID            string         `json:"id"`
	RequirementID string         `json:"requirementId"`
	Version       int            `json:"version"`
	Snapshot      map[string]any `json:"snapshot"`
	CapturedAt    string         `json:"capturedAt"`
	CapturedBy    string         `json:"capturedBy"`
}

// BaselineList is a paginated, version-ordered list of snapshots.
type BaselineList struct {
	Baselines     []Baseline `json:"baselines"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
	TotalSize     int        `json:"totalSize"`
}

// FieldDiff is a single field-level difference between two snapshots.
type FieldDiff struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// DiffResult is the outcome of comparing two baseline versions.
type DiffResult struct {
	RequirementID string      `json:"requirementId"`
	VersionA      int         `json:"versionA"`
	VersionB      int         `json:"versionB"`
	Changes       []FieldDiff `json:"changes"`
}

// RecordToBaseline converts a baseline record to the API type.
func RecordToBaseline(rec BaselineRecord) Baseline {
	return Baseline{
		ID:            rec.ID,
		RequirementID: rec.RequirementID,
		Version:       rec.Version,
		Snapshot:      map[string]any(rec.Snapshot),
		CapturedAt:    rec.CapturedAt.Format(time.RFC3339Nano),
		CapturedBy:    rec.CapturedBy,
	}
}
