// Package baseline captures immutable, versioned snapshots of requirements.
// Baselining is non-destructive and auditable: what was committed to, and
// when, stays reconstructable regardless of later edits.
package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/requirements"
)

// maxCreateAttempts bounds optimistic-concurrency retries on the
// requirement row during baseline capture.
const maxCreateAttempts = 3

// Manager owns baseline snapshots.
type Manager struct {
	db     *gorm.DB
	reqs   *requirements.Store
	ledger *history.Ledger
}

// NewManager creates a baseline Manager.
func NewManager(db *gorm.DB, reqs *requirements.Store, ledger *history.Ledger) *Manager {
	return &Manager{db: db, reqs: reqs, ledger: ledger}
}

// AutoMigrate creates or updates the requirement_baselines table.
func (m *Manager) AutoMigrate() error {
	if err := m.db.AutoMigrate(&BaselineRecord{}); err != nil {
		return fmt.Errorf("auto-migrate requirement_baselines: %w", err)
	}
	return nil
}

// CreateBaseline captures the requirement's current content as version
// previous+1 (starting at 1), marks the requirement baselined with no
// unbaselined changes, and appends a Baselined history entry. Each call is
// an explicit, auditable snapshot: two calls in immediate succession create
// two distinct versions. The snapshot insert, the requirement flags, and
// the ledger entry commit as one transaction.
func (m *Manager) CreateBaseline(ctx context.Context, projectID, requirementID, actorID string) (*Baseline, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		b, err := m.tryCreate(ctx, projectID, requirementID, actorID)
		if errors.Is(err, requirements.ErrStaleRecord) {
			continue
		}
		return b, err
	}
	return nil, apperrors.ConcurrencyConflict("requirement", requirementID)
}

func (m *Manager) tryCreate(ctx context.Context, projectID, requirementID, actorID string) (*Baseline, error) {
	var rec BaselineRecord
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := m.reqs.GetRecordTx(tx, projectID, requirementID)
		if err != nil {
			return err
		}

		var maxVersion int
		err = tx.Model(&BaselineRecord{}).
			Where("requirement_id = ?", req.ID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error
		if err != nil {
			return fmt.Errorf("read baseline version: %w", err)
		}
		version := maxVersion + 1

		rec = BaselineRecord{
			ID:            uuid.New().String(),
			ProjectID:     projectID,
			RequirementID: req.ID,
			Version:       version,
			Snapshot:      req.SnapshotFields(),
			CapturedAt:    time.Now().UTC(),
			CapturedBy:    actorID,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("create baseline: %w", err)
		}

		res := tx.Model(&requirements.RequirementRecord{}).
			Where("id = ? AND lock_version = ?", req.ID, req.LockVersion).
			Updates(map[string]any{
				"is_baselined":            true,
				"baseline_version":        version,
				"has_unbaselined_changes": false,
				"lock_version":            req.LockVersion + 1,
			})
		if res.Error != nil {
			return fmt.Errorf("mark requirement baselined: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return requirements.ErrStaleRecord
		}

		_, err = m.ledger.AppendTx(tx, history.AppendInput{
			ProjectID:       projectID,
			EntityType:      history.EntityRequirement,
			EntityID:        req.ID,
			Action:          history.ActionBaselined,
			ActorID:         actorID,
			BaselineVersion: &version,
			Details:         map[string]any{"version": version},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := RecordToBaseline(rec)
	return &out, nil
}

// GetBaselineHistory returns the requirement's snapshots in version order.
// pageToken is the version of the last record from the previous page; pass
// "" for the first page.
func (m *Manager) GetBaselineHistory(ctx context.Context, projectID, requirementID string, pageSize int, pageToken string) ([]Baseline, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var totalSize int64
	err := m.db.WithContext(ctx).Model(&BaselineRecord{}).
		Where("project_id = ? AND requirement_id = ?", projectID, requirementID).
		Count(&totalSize).Error
	if err != nil {
		return nil, "", 0, fmt.Errorf("count baselines: %w", err)
	}

	query := m.db.WithContext(ctx).
		Where("project_id = ? AND requirement_id = ?", projectID, requirementID).
		Order("version ASC").
		Limit(pageSize + 1)
	if pageToken != "" {
		version, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("version > ?", version)
	}

	var records []BaselineRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list baselines: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = strconv.Itoa(records[pageSize-1].Version)
		records = records[:pageSize]
	}

	out := make([]Baseline, len(records))
	for i, rec := range records {
		out[i] = RecordToBaseline(rec)
	}
	return out, nextToken, int(totalSize), nil
}

// DiffBaselines produces a field-level diff between two snapshot versions.
// Pure read: no side effects. Fails with NotFound if either version is
// absent.
func (m *Manager) DiffBaselines(ctx context.Context, projectID, requirementID string, versionA, versionB int) (*DiffResult, error) {
	a, err := m.getVersion(ctx, projectID, requirementID, versionA)
	if err != nil {
		return nil, err
	}
	b, err := m.getVersion(ctx, projectID, requirementID, versionB)
	if err != nil {
		return nil, err
	}

	fields := map[string]struct{}{}
	for k := range a.Snapshot {
		fields[k] = struct{}{}
	}
	for k := range b.Snapshot {
		fields[k] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	result := &DiffResult{
		RequirementID: requirementID,
		VersionA:      versionA,
		VersionB:      versionB,
		Changes:       []FieldDiff{},
	}
	for _, name := range names {
		from, to := a.Snapshot[name], b.Snapshot[name]
		if !jsonEqual(from, to) {
			result.Changes = append(result.Changes, FieldDiff{Field: name, From: from, To: to})
		}
	}
	return result, nil
}

func (m *Manager) getVersion(ctx context.Context, projectID, requirementID string, version int) (*BaselineRecord, error) {
	var rec BaselineRecord
	err := m.db.WithContext(ctx).
		Where("project_id = ? AND requirement_id = ? AND version = ?", projectID, requirementID, version).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("baseline", fmt.Sprintf("%s@v%d", requirementID, version))
	}
	if err != nil {
		return nil, fmt.Errorf("get baseline version: %w", err)
	}
	return &rec, nil
}

// jsonEqual compares two snapshot values through their JSON encoding, which
// normalizes the type drift between captured Go values and values read back
// from the JSON column.
func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
