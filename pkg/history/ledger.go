// Package history implements the append-only audit ledger for requirements
// and change requests. Appends run inside the caller's transaction so a
// mutation and its ledger entry commit or roll back as a unit.
package history

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AppendInput describes a ledger entry to record.
type AppendInput struct {
	ProjectID       string
	EntityType      EntityType
	EntityID        string
	Action          Action
	ActorID         string
	BaselineVersion *int
	Details         map[string]any
}

// Ledger provides append and read operations over history_entries.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a new Ledger.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// AutoMigrate creates or updates the history_entries table.
func (l *Ledger) AutoMigrate() error {
	if err := l.db.AutoMigrate(&EntryRecord{}); err != nil {
		return fmt.Errorf("auto-migrate history_entries: %w", err)
	}
	return nil
}

// AppendTx records an entry inside the caller's transaction. The per-entity
// Seq is derived from the current maximum within the same transaction, so
// two writers on the same entity serialize on the entity row they are
// already holding.
func (l *Ledger) AppendTx(tx *gorm.DB, in AppendInput) (*EntryRecord, error) {
	var maxSeq int64
	err := tx.Model(&EntryRecord{}).
		Where("entity_type = ? AND entity_id = ?", in.EntityType, in.EntityID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return nil, fmt.Errorf("read history sequence: %w", err)
	}

	rec := &EntryRecord{
		ID:              uuid.New().String(),
		ProjectID:       in.ProjectID,
		EntityType:      string(in.EntityType),
		EntityID:        in.EntityID,
		Seq:             maxSeq + 1,
		Action:          string(in.Action),
		ActorID:         in.ActorID,
		BaselineVersion: in.BaselineVersion,
		Details:         in.Details,
		CreatedAt:       time.Now().UTC(),
	}
	if err := tx.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("append history entry: %w", err)
	}
	return rec, nil
}

// Append records an entry in its own transaction. Used for operations that
// touch no other state, such as comments.
func (l *Ledger) Append(in AppendInput) (*EntryRecord, error) {
	var rec *EntryRecord
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var appendErr error
		rec, appendErr = l.AppendTx(tx, in)
		return appendErr
	})
	return rec, err
}

// List returns paginated entries for an entity, newest first. pageToken is
// the Seq of the last entry from the previous page; pass "" for the first
// page.
func (l *Ledger) List(entityType EntityType, entityID string, pageSize int, pageToken string) ([]EntryRecord, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var totalSize int64
	err := l.db.Model(&EntryRecord{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Count(&totalSize).Error
	if err != nil {
		return nil, "", 0, fmt.Errorf("count history entries: %w", err)
	}

	query := l.db.
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("seq DESC").
		Limit(pageSize + 1)
	if pageToken != "" {
		seq, err := strconv.ParseInt(pageToken, 10, 64)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("seq < ?", seq)
	}

	var records []EntryRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list history entries: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = strconv.FormatInt(records[pageSize-1].Seq, 10)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// RecordToEntry converts a ledger record to the API type.
func RecordToEntry(rec EntryRecord) Entry {
	return Entry{
		ID:              rec.ID,
		EntityType:      EntityType(rec.EntityType),
		EntityID:        rec.EntityID,
		Seq:             rec.Seq,
		Action:          Action(rec.Action),
		ActorID:         rec.ActorID,
		BaselineVersion: rec.BaselineVersion,
		Details:         map[string]any(rec.Details),
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339Nano),
	}
}
