package history

import (
	"time"

	"github.com/reqboard/reqboard/pkg/dbjson"
)

// EntityType identifies which kind of entity a ledger entry belongs to.
type EntityType string

const (
	EntityRequirement   EntityType = "requirement"
	EntityChangeRequest EntityType = "change_request"
)

// Action is the closed set of state-affecting operations recorded in the
// ledger.
type Action string

const (
	ActionCreated       Action = "Created"
	ActionEdited        Action = "Edited"
	ActionStatusChanged Action = "StatusChanged"
	ActionBaselined     Action = "Baselined"
	ActionCommented     Action = "Commented"
	ActionDeleted       Action = "Deleted"
)

// EntryRecord is the GORM model for an append-only ledger entry. Entries are
// never mutated or deleted; Seq is a per-entity sequence counter that fixes
// the order of a single entity's history regardless of clock resolution.
type EntryRecord struct {
	ID              string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	ProjectID       string     `gorm:"column:project_id;index:idx_history_project;not null"`
	EntityType      string     `gorm:"column:entity_type;index:idx_history_entity,priority:1;not null"`
	EntityID        string     `gorm:"column:entity_id;index:idx_history_entity,priority:2;not null"`
	Seq             int64      `gorm:"column:seq;index:idx_history_entity,priority:3;not null"`
	Action          string     `gorm:"column:action;not null"`
	ActorID         string     `gorm:"column:actor_id;not null"`
	BaselineVersion *int       `gorm:"column:baseline_version"`
	Details         dbjson.Map `gorm:"column:details;type:text"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (EntryRecord) TableName() string { return "history_entries" }

// Entry is the API-facing ledger entry.
type Entry struct {
	ID              string         `json:"id"`
	EntityType      EntityType     `json:"entityType"`
	EntityID        string         `json:"entityId"`
	Seq             int64          `json:"seq"`
	Action          Action         `json:"action"`
	ActorID         string         `json:"actorId"`
	BaselineVersion *int           `json:"baselineVersion,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	CreatedAt       string         `json:"createdAt"`
}

// EntryList is a paginated list of ledger entries.
type EntryList struct {
	Entries       []Entry `json:"entries"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
	TotalSize     int     `json:"totalSize"`
}
