// Package identifier issues unique, monotonically increasing, human-readable
// display IDs per project and per entity kind. Allocated values are never
// reused, including after the owning entity is deleted.
package identifier

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Kind selects the sequence an ID is drawn from.
type Kind string

const (
	KindRequirement   Kind = "requirement"
	KindChangeRequest Kind = "change_request"
)

// Prefix returns the display-ID prefix for the kind.
func (k Kind) Prefix() string {
	switch k {
	case KindRequirement:
		return "REQ"
	case KindChangeRequest:
		return "RFC"
	}
	return "ID"
}

// SequenceRecord is the GORM model for a per-project, per-kind counter.
type SequenceRecord struct {
	ProjectID string `gorm:"primaryKey;column:project_id"`
	Kind      string `gorm:"primaryKey;column:kind"`
	NextValue int64  `gorm:"column:next_value;not null;default:0"`
}

// TableName returns the GORM table name.
func (SequenceRecord) TableName() string { return "display_sequences" }

// Allocator hands out display IDs backed by the display_sequences table.
type Allocator struct {
	db *gorm.DB
}

// NewAllocator creates a new Allocator.
func NewAllocator(db *gorm.DB) *Allocator {
	return &Allocator{db: db}
}

// AutoMigrate creates or updates the display_sequences table.
func (a *Allocator) AutoMigrate() error {
	if err := a.db.AutoMigrate(&SequenceRecord{}); err != nil {
		return fmt.Errorf("auto-migrate display_sequences: %w", err)
	}
	return nil
}

// Next allocates the next display ID for the project and kind, e.g.
// "REQ-0001", along with its raw sequence value. It runs in its own
// transaction.
func (a *Allocator) Next(projectID string, kind Kind) (string, int64, error) {
	var (
		id  string
		num int64
	)
	err := a.db.Transaction(func(tx *gorm.DB) error {
		var allocErr error
		id, num, allocErr = a.NextTx(tx, projectID, kind)
		return allocErr
	})
	return id, num, err
}

// NextTx allocates the next display ID inside the caller's transaction, so
// the allocation commits or rolls back together with the entity creation.
// The row-level UPDATE serializes concurrent allocators on the same
// sequence, which keeps values strictly increasing and gap-checked only by
// rolled-back creations. Callers persist the returned sequence value next
// to the formatted ID; the padded string stops sorting numerically once a
// sequence outgrows four digits.
func (a *Allocator) NextTx(tx *gorm.DB, projectID string, kind Kind) (string, int64, error) {
	// Make sure the counter row exists. DoNothing keeps a concurrent
	// creator from failing the transaction.
	seed := SequenceRecord{ProjectID: projectID, Kind: string(kind), NextValue: 0}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return "", 0, fmt.Errorf("seed display sequence: %w", err)
	}

	res := tx.Model(&SequenceRecord{}).
		Where("project_id = ? AND kind = ?", projectID, kind).
		UpdateColumn("next_value", gorm.Expr("next_value + 1"))
	if res.Error != nil {
		return "", 0, fmt.Errorf("advance display sequence: %w", res.Error)
	}

	var rec SequenceRecord
	if err := tx.Where("project_id = ? AND kind = ?", projectID, kind).First(&rec).Error; err != nil {
		return "", 0, fmt.Errorf("read display sequence: %w", err)
	}

	return FormatDisplayID(kind, rec.NextValue), rec.NextValue, nil
}

// FormatDisplayID renders a sequence value as a display ID.
func FormatDisplayID(kind Kind, value int64) string {
	return fmt.Sprintf("%s-%04d", kind.Prefix(), value)
}

// ParseValue extracts the sequence value from a display ID. Pagination
// tokens carry display IDs, and list queries compare their numeric values
// so ordering holds past four digits.
func ParseValue(displayID string) (int64, error) {
	idx := strings.LastIndexByte(displayID, '-')
	if idx < 0 {
		return 0, fmt.Errorf("malformed display ID %q", displayID)
	}
	value, err := strconv.ParseInt(displayID[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed display ID %q: %w", displayID, err)
	}
	return value, nil
}
