// Package requirements implements requirement entities, their parent/child
// hierarchy, and the lifecycle state machine. Mutations on a single
// requirement are serialized through an optimistic lock_version check with a
// bounded retry, and every mutation commits together with its history entry.
package requirements

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/dbjson"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/identifier"
)

// maxUpdateAttempts bounds optimistic-concurrency retries before the
// conflict is surfaced to the caller.
const maxUpdateAttempts = 3

// maxHierarchyDepth bounds ancestor walks. The creation invariant keeps the
// hierarchy a tree, so hitting this limit indicates corrupted data.
const maxHierarchyDepth = 1000

// ErrStaleRecord signals that an optimistic lock_version check failed inside
// a transaction. Callers retry with fresh state.
var ErrStaleRecord = errors.New("requirement record is stale")

// ChangeRequestChecker reports whether any in-flight change request
// references a requirement. Implemented by the change-control engine;
// injected here to keep the dependency one-directional.
type ChangeRequestChecker interface {
	HasActiveForRequirement(ctx context.Context, requirementID string) (bool, error)
}

// Ledger is the subset of the history ledger the store writes through. A
// failed ledger write fails the whole operation; no partial state commits.
type Ledger interface {
	AppendTx(tx *gorm.DB, in history.AppendInput) (*history.EntryRecord, error)
	Append(in history.AppendInput) (*history.EntryRecord, error)
}

// Store owns requirement entities.
type Store struct {
	db      *gorm.DB
	ids     *identifier.Allocator
	ledger  Ledger
	machine *LifecycleMachine
	crCheck ChangeRequestChecker
}

// NewStore creates a new requirement Store.
func NewStore(db *gorm.DB, ids *identifier.Allocator, ledger Ledger) *Store {
	return &Store{
		db:      db,
		ids:     ids,
		ledger:  ledger,
		machine: NewLifecycleMachine(),
	}
}

// SetChangeRequestChecker wires the change-control engine's reference check
// used by Delete.
func (s *Store) SetChangeRequestChecker(c ChangeRequestChecker) {
	s.crCheck = c
}

// AutoMigrate creates or updates the requirements table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&RequirementRecord{}); err != nil {
		return fmt.Errorf("auto-migrate requirements: %w", err)
	}
	return nil
}

// Create validates the input, allocates a display ID, and persists a new
// requirement with status draft. The allocation, the row, and the history
// entry commit as one transaction.
func (s *Store) Create(ctx context.Context, projectID, actorID string, in CreateInput) (*Requirement, error) {
	if in.Title == "" {
		return nil, apperrors.Validation("title", "title must not be empty")
	}
	if !ValidKind(in.Kind) {
		return nil, apperrors.Validation("kind", "unknown requirement kind %q", in.Kind)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !ValidPriority(in.Priority) {
		return nil, apperrors.Validation("priority", "unknown priority %q", in.Priority)
	}

	rec := &RequirementRecord{
		ID:                 uuid.New().String(),
		ProjectID:          projectID,
		Title:              in.Title,
		Description:        in.Description,
		Kind:               string(in.Kind),
		Priority:           string(in.Priority),
		Status:             string(StatusDraft),
		AcceptanceCriteria: in.AcceptanceCriteria,
		Tags:               normalizeTags(in.Tags),
		OwnerID:            in.OwnerID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ParentID != "" {
			var parent RequirementRecord
			err := tx.Where("id = ? AND project_id = ?", in.ParentID, projectID).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Validation("parentId", "parent requirement %s not found in project %s", in.ParentID, projectID)
			}
			if err != nil {
				return fmt.Errorf("resolve parent requirement: %w", err)
			}
			rec.ParentID = &parent.ID
		}

		displayID, displayNum, err := s.ids.NextTx(tx, projectID, identifier.KindRequirement)
		if err != nil {
			return err
		}
		rec.DisplayID = displayID
		rec.DisplayNum = displayNum

		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create requirement: %w", err)
		}

		_, err = s.ledger.AppendTx(tx, history.AppendInput{
			ProjectID:  projectID,
			EntityType: history.EntityRequirement,
			EntityID:   rec.ID,
			Action:     history.ActionCreated,
			ActorID:    actorID,
			Details:    map[string]any{"displayId": rec.DisplayID, "title": rec.Title},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := RecordToRequirement(*rec)
	return &out, nil
}

// Update applies a partial update. Status changes are validated against the
// lifecycle machine; all changed fields are diffed into a single history
// entry. Editing a baselined requirement flips hasUnbaselinedChanges.
func (s *Store) Update(ctx context.Context, projectID, id, actorID string, patch Patch) (*Requirement, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		req, err := s.tryUpdate(ctx, projectID, id, actorID, patch)
		if errors.Is(err, ErrStaleRecord) {
			continue
		}
		return req, err
	}
	return nil, apperrors.ConcurrencyConflict("requirement", id)
}

func (s *Store) tryUpdate(ctx context.Context, projectID, id, actorID string, patch Patch) (*Requirement, error) {
	rec, err := s.getRecord(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	details := map[string]any{}
	action := history.ActionEdited
	// Tracks whether any field captured in a baseline snapshot changes, so
	// the live row cannot drift from its last baseline unnoticed.
	snapshotDrift := false

	if patch.Title != nil && *patch.Title != rec.Title {
		if *patch.Title == "" {
			return nil, apperrors.Validation("title", "title must not be empty")
		}
		updates["title"] = *patch.Title
		details["title"] = diff(rec.Title, *patch.Title)
		snapshotDrift = true
	}
	if patch.Description != nil && *patch.Description != rec.Description {
		updates["description"] = *patch.Description
		details["description"] = diff(rec.Description, *patch.Description)
		snapshotDrift = true
	}
	if patch.Kind != nil && string(*patch.Kind) != rec.Kind {
		if !ValidKind(*patch.Kind) {
			return nil, apperrors.Validation("kind", "unknown requirement kind %q", *patch.Kind)
		}
		updates["kind"] = string(*patch.Kind)
		details["kind"] = diff(rec.Kind, string(*patch.Kind))
		snapshotDrift = true
	}
	if patch.Priority != nil && string(*patch.Priority) != rec.Priority {
		if !ValidPriority(*patch.Priority) {
			return nil, apperrors.Validation("priority", "unknown priority %q", *patch.Priority)
		}
		updates["priority"] = string(*patch.Priority)
		details["priority"] = diff(rec.Priority, string(*patch.Priority))
		snapshotDrift = true
	}
	if patch.OwnerID != nil && *patch.OwnerID != rec.OwnerID {
		updates["owner_id"] = *patch.OwnerID
		details["ownerId"] = diff(rec.OwnerID, *patch.OwnerID)
		snapshotDrift = true
	}
	if patch.AcceptanceCriteria != nil {
		updates["acceptance_criteria"] = toStringSlice(*patch.AcceptanceCriteria)
		details["acceptanceCriteria"] = diff([]string(rec.AcceptanceCriteria), *patch.AcceptanceCriteria)
		snapshotDrift = true
	}
	if patch.Tags != nil {
		normalized := normalizeTags(*patch.Tags)
		updates["tags"] = toStringSlice(normalized)
		details["tags"] = diff([]string(rec.Tags), normalized)
		snapshotDrift = true
	}

	if patch.ClearParent && rec.ParentID != nil {
		updates["parent_id"] = nil
		details["parentId"] = diff(*rec.ParentID, "")
		snapshotDrift = true
	} else if patch.ParentID != nil && !sameParent(rec.ParentID, *patch.ParentID) {
		if err := s.validateParentChange(ctx, rec, *patch.ParentID); err != nil {
			return nil, err
		}
		updates["parent_id"] = *patch.ParentID
		details["parentId"] = diff(parentOrEmpty(rec.ParentID), *patch.ParentID)
		snapshotDrift = true
	}

	if patch.Status != nil && string(*patch.Status) != rec.Status {
		if !ValidStatus(*patch.Status) {
			return nil, apperrors.Validation("status", "unknown status %q", *patch.Status)
		}
		if err := s.machine.ValidateTransition(Status(rec.Status), *patch.Status); err != nil {
			return nil, err
		}
		updates["status"] = string(*patch.Status)
		details["status"] = diff(rec.Status, string(*patch.Status))
		action = history.ActionStatusChanged
		snapshotDrift = true
	}

	if len(updates) == 0 {
		out := RecordToRequirement(*rec)
		return &out, nil
	}

	if snapshotDrift && rec.IsBaselined {
		updates["has_unbaselined_changes"] = true
	}
	updates["lock_version"] = rec.LockVersion + 1

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&RequirementRecord{}).
			Where("id = ? AND lock_version = ?", rec.ID, rec.LockVersion).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update requirement: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleRecord
		}

		_, err := s.ledger.AppendTx(tx, history.AppendInput{
			ProjectID:       projectID,
			EntityType:      history.EntityRequirement,
			EntityID:        rec.ID,
			Action:          action,
			ActorID:         actorID,
			BaselineVersion: baselineVersionOf(rec),
			Details:         details,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, projectID, id)
}

// ValidateStatusChange checks a prospective status transition without
// applying it. Used by the dry-run path.
func (s *Store) ValidateStatusChange(ctx context.Context, projectID, id string, to Status) error {
	rec, err := s.getRecord(ctx, projectID, id)
	if err != nil {
		return err
	}
	if !ValidStatus(to) {
		return apperrors.Validation("status", "unknown status %q", to)
	}
	return s.machine.ValidateTransition(Status(rec.Status), to)
}

// Delete tombstones a requirement. Rejected with Conflict while the
// requirement has children or is referenced by an in-flight change
// request; the tombstone keeps the display ID out of circulation.
func (s *Store) Delete(ctx context.Context, projectID, id, actorID string) error {
	rec, err := s.getRecord(ctx, projectID, id)
	if err != nil {
		return err
	}

	var children int64
	if err := s.db.WithContext(ctx).Model(&RequirementRecord{}).Where("parent_id = ?", rec.ID).Count(&children).Error; err != nil {
		return fmt.Errorf("count child requirements: %w", err)
	}
	if children > 0 {
		return apperrors.Conflict("requirement %s has %d child requirement(s)", rec.DisplayID, children)
	}

	if s.crCheck != nil {
		active, err := s.crCheck.HasActiveForRequirement(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("check change requests: %w", err)
		}
		if active {
			return apperrors.Conflict("requirement %s is referenced by an in-flight change request", rec.DisplayID)
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&RequirementRecord{}, "id = ?", rec.ID).Error; err != nil {
			return fmt.Errorf("delete requirement: %w", err)
		}
		_, err := s.ledger.AppendTx(tx, history.AppendInput{
			ProjectID:       projectID,
			EntityType:      history.EntityRequirement,
			EntityID:        rec.ID,
			Action:          history.ActionDeleted,
			ActorID:         actorID,
			BaselineVersion: baselineVersionOf(rec),
			Details:         map[string]any{"displayId": rec.DisplayID},
		})
		return err
	})
}

// Comment records a comment in the requirement's history without touching
// entity fields.
func (s *Store) Comment(ctx context.Context, projectID, id, actorID, text string) error {
	if text == "" {
		return apperrors.Validation("comment", "comment must not be empty")
	}
	rec, err := s.getRecord(ctx, projectID, id)
	if err != nil {
		return err
	}
	_, err = s.ledger.Append(history.AppendInput{
		ProjectID:       projectID,
		EntityType:      history.EntityRequirement,
		EntityID:        rec.ID,
		Action:          history.ActionCommented,
		ActorID:         actorID,
		BaselineVersion: baselineVersionOf(rec),
		Details:         map[string]any{"comment": text},
	})
	return err
}

// GetByID retrieves a requirement by its opaque ID.
func (s *Store) GetByID(ctx context.Context, projectID, id string) (*Requirement, error) {
	rec, err := s.getRecord(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	out := RecordToRequirement(*rec)
	return &out, nil
}

// GetRecordTx reads the raw requirement row inside the caller's transaction.
// The baseline manager uses it to snapshot and flag requirements in the same
// transaction as the snapshot insert.
func (s *Store) GetRecordTx(tx *gorm.DB, projectID, id string) (*RequirementRecord, error) {
	var rec RequirementRecord
	err := tx.Where("id = ? AND project_id = ?", id, projectID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("requirement", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get requirement: %w", err)
	}
	return &rec, nil
}

func (s *Store) getRecord(ctx context.Context, projectID, id string) (*RequirementRecord, error) {
	return s.GetRecordTx(s.db.WithContext(ctx), projectID, id)
}

// List returns paginated requirements for a project, ordered by display ID.
// pageToken is the display ID of the last record from the previous page.
func (s *Store) List(ctx context.Context, projectID string, filter Filter, pageSize int, pageToken string) ([]Requirement, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := s.filtered(s.db.WithContext(ctx).Model(&RequirementRecord{}), projectID, filter)

	var totalSize int64
	if err := base.Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count requirements: %w", err)
	}

	// Ordering and paging compare the numeric sequence value, not the
	// padded string, which stops sorting correctly past four digits.
	query := s.filtered(s.db.WithContext(ctx), projectID, filter).
		Order("display_num ASC").
		Limit(pageSize + 1)
	if pageToken != "" {
		afterNum, err := identifier.ParseValue(pageToken)
		if err != nil {
			return nil, "", 0, apperrors.Validation("pageToken", "malformed page token %q", pageToken)
		}
		query = query.Where("display_num > ?", afterNum)
	}

	var records []RequirementRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list requirements: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].DisplayID
		records = records[:pageSize]
	}

	out := make([]Requirement, len(records))
	for i, rec := range records {
		out[i] = RecordToRequirement(rec)
	}
	return out, nextToken, int(totalSize), nil
}

// ListAll returns every live requirement in the project matching the filter,
// ordered by display ID. Checks for cancellation between batches.
func (s *Store) ListAll(ctx context.Context, projectID string, filter Filter) ([]Requirement, error) {
	var out []Requirement
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, next, _, err := s.List(ctx, projectID, filter, 100, pageToken)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next == "" {
			return out, nil
		}
		pageToken = next
	}
}

func (s *Store) filtered(query *gorm.DB, projectID string, filter Filter) *gorm.DB {
	query = query.Where("project_id = ?", projectID)
	if len(filter.Kinds) > 0 {
		query = query.Where("kind IN ?", filter.Kinds)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	return query
}

// validateParentChange checks that the new parent resolves within the
// project and that re-parenting introduces no cycle, by walking the
// prospective ancestor chain.
func (s *Store) validateParentChange(ctx context.Context, rec *RequirementRecord, newParentID string) error {
	if newParentID == rec.ID {
		return apperrors.Conflict("requirement %s cannot be its own parent", rec.DisplayID)
	}

	var parent RequirementRecord
	err := s.db.WithContext(ctx).Where("id = ? AND project_id = ?", newParentID, rec.ProjectID).First(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Validation("parentId", "parent requirement %s not found in project %s", newParentID, rec.ProjectID)
	}
	if err != nil {
		return fmt.Errorf("resolve parent requirement: %w", err)
	}

	current := parent
	for depth := 0; depth < maxHierarchyDepth; depth++ {
		if current.ParentID == nil {
			return nil
		}
		if *current.ParentID == rec.ID {
			return apperrors.Conflict("setting parent %s on %s would create a cycle", newParentID, rec.DisplayID)
		}
		var next RequirementRecord
		if err := s.db.WithContext(ctx).Where("id = ?", *current.ParentID).First(&next).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("walk ancestor chain: %w", err)
		}
		current = next
	}
	return apperrors.Conflict("ancestor chain of %s exceeds maximum depth", newParentID)
}

// normalizeTags enforces set semantics on tags while keeping first-seen
// order stable.
func normalizeTags(tags []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var out []string
	for _, tag := range tags {
		if tag == "" || seen.Contains(tag) {
			continue
		}
		seen.Add(tag)
		out = append(out, tag)
	}
	return out
}

func toStringSlice(values []string) dbjson.StringSlice {
	if values == nil {
		values = []string{}
	}
	return dbjson.StringSlice(values)
}

func baselineVersionOf(rec *RequirementRecord) *int {
	if rec.BaselineVersion <= 0 {
		return nil
	}
	v := rec.BaselineVersion
	return &v
}

func diff(from, to any) map[string]any {
	return map[string]any{"from": from, "to": to}
}

func sameParent(current *string, proposed string) bool {
	if current == nil {
		return proposed == ""
	}
	return *current == proposed
}

func parentOrEmpty(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}
