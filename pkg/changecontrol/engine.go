package changecontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/identifier"
	"github.com/reqboard/reqboard/pkg/requirements"
)

// errStaleRecord signals that another writer bumped the lock version inside
// a transaction. Callers retry with fresh state.
var errStaleRecord = errors.New("change request record is stale")

const maxTransitionAttempts = 3

// Engine owns the change request workflow.
type Engine struct {
	db      *gorm.DB
	ids     *identifier.Allocator
	ledger  *history.Ledger
	machine *WorkflowMachine
}

// NewEngine creates a change-control Engine.
func NewEngine(db *gorm.DB, ids *identifier.Allocator, ledger *history.Ledger) *Engine {
	return &Engine{
		db:      db,
		ids:     ids,
		ledger:  ledger,
		machine: NewWorkflowMachine(),
	}
}

// AutoMigrate creates or updates the change_requests table.
func (e *Engine) AutoMigrate() error {
	if err := e.db.AutoMigrate(&ChangeRequestRecord{}); err != nil {
		return fmt.Errorf("auto-migrate change_requests: %w", err)
	}
	return nil
}

// Create validates the input, allocates a display ID, and persists a new
// change request with status proposed. The target requirement must exist in
// the same project. The allocation, the row, and the history entry commit
// as one transaction.
func (e *Engine) Create(ctx context.Context, projectID, actorID string, in CreateInput) (*ChangeRequest, error) {
	if in.RequirementID == "" {
		return nil, apperrors.Validation("requirementId", "requirementId must not be empty")
	}
	if in.Title == "" {
		return nil, apperrors.Validation("title", "title must not be empty")
	}
	if in.Reason == "" {
		return nil, apperrors.Validation("reason", "reason must not be empty")
	}
	if in.ImpactLevel == "" {
		in.ImpactLevel = ImpactMedium
	}
	if !ValidImpactLevel(in.ImpactLevel) {
		return nil, apperrors.Validation("impactLevel", "unknown impact level %q", in.ImpactLevel)
	}
	if in.CostEstimate < 0 {
		return nil, apperrors.Validation("costEstimate", "costEstimate must not be negative")
	}
	if in.TimeEstimateHours < 0 {
		return nil, apperrors.Validation("timeEstimateHours", "timeEstimateHours must not be negative")
	}

	rec := &ChangeRequestRecord{
		ID:                        uuid.New().String(),
		ProjectID:                 projectID,
		RequirementID:             in.RequirementID,
		Title:                     in.Title,
		Description:               in.Description,
		Reason:                    in.Reason,
		ImpactLevel:               string(in.ImpactLevel),
		ImpactDescription:         in.ImpactDescription,
		RiskDescription:           in.RiskDescription,
		ScheduleImpactDescription: in.ScheduleImpactDescription,
		CostEstimate:              in.CostEstimate,
		TimeEstimateHours:         in.TimeEstimateHours,
		Status:                    string(StatusProposed),
		RequesterID:               actorID,
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req requirements.RequirementRecord
		err := tx.Where("id = ? AND project_id = ?", in.RequirementID, projectID).First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("requirement", in.RequirementID)
		}
		if err != nil {
			return fmt.Errorf("resolve requirement: %w", err)
		}

		displayID, displayNum, err := e.ids.NextTx(tx, projectID, identifier.KindChangeRequest)
		if err != nil {
			return err
		}
		rec.DisplayID = displayID
		rec.DisplayNum = displayNum

		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("create change request: %w", err)
		}

		_, err = e.ledger.AppendTx(tx, history.AppendInput{
			ProjectID:  projectID,
			EntityType: history.EntityChangeRequest,
			EntityID:   rec.ID,
			Action:     history.ActionCreated,
			ActorID:    actorID,
			Details:    map[string]any{"displayId": rec.DisplayID, "requirementId": rec.RequirementID, "title": rec.Title},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := RecordToChangeRequest(*rec)
	return &out, nil
}

// TransitionStatus moves a change request through its workflow. Decision
// states record who decided, when, and the note. Terminal states admit no
// further transitions.
func (e *Engine) TransitionStatus(ctx context.Context, projectID, id, actorID string, in TransitionInput) (*ChangeRequest, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cr, err := e.tryTransition(ctx, projectID, id, actorID, in)
		if errors.Is(err, errStaleRecord) {
			continue
		}
		return cr, err
	}
	return nil, apperrors.ConcurrencyConflict("change request", id)
}

func (e *Engine) tryTransition(ctx context.Context, projectID, id, actorID string, in TransitionInput) (*ChangeRequest, error) {
	rec, err := e.getRecord(ctx, projectID, id)
	if err != nil {
		return nil, err
	}

	if !ValidStatus(in.Status) {
		return nil, apperrors.Validation("status", "unknown status %q", in.Status)
	}
	from := Status(rec.Status)
	if err := e.machine.ValidateTransition(from, in.Status); err != nil {
		return nil, err
	}
	// Repeating the current pending state is a no-op, not a new decision.
	if from == in.Status {
		out := RecordToChangeRequest(*rec)
		return &out, nil
	}

	updates := map[string]any{
		"status":       string(in.Status),
		"lock_version": rec.LockVersion + 1,
	}
	switch in.Status {
	case StatusApproved, StatusRejected, StatusCancelled:
		updates["decided_by"] = actorID
		updates["decided_at"] = time.Now().UTC()
		updates["decision_note"] = in.Note
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ChangeRequestRecord{}).
			Where("id = ? AND lock_version = ?", rec.ID, rec.LockVersion).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update change request: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errStaleRecord
		}

		details := map[string]any{"status": map[string]any{"from": rec.Status, "to": string(in.Status)}}
		if in.Note != "" {
			details["note"] = in.Note
		}
		_, err := e.ledger.AppendTx(tx, history.AppendInput{
			ProjectID:  projectID,
			EntityType: history.EntityChangeRequest,
			EntityID:   rec.ID,
			Action:     history.ActionStatusChanged,
			ActorID:    actorID,
			Details:    details,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return e.GetByID(ctx, projectID, id)
}

// Comment records a comment in the change request's history without
// touching entity fields.
func (e *Engine) Comment(ctx context.Context, projectID, id, actorID, text string) error {
	if text == "" {
		return apperrors.Validation("comment", "comment must not be empty")
	}
	rec, err := e.getRecord(ctx, projectID, id)
	if err != nil {
		return err
	}
	_, err = e.ledger.Append(history.AppendInput{
		ProjectID:  projectID,
		EntityType: history.EntityChangeRequest,
		EntityID:   rec.ID,
		Action:     history.ActionCommented,
		ActorID:    actorID,
		Details:    map[string]any{"comment": text},
	})
	return err
}

// ValidateStatusChange checks a prospective workflow transition without
// applying it. Used by the dry-run path.
func (e *Engine) ValidateStatusChange(ctx context.Context, projectID, id string, to Status) error {
	rec, err := e.getRecord(ctx, projectID, id)
	if err != nil {
		return err
	}
	if !ValidStatus(to) {
		return apperrors.Validation("status", "unknown status %q", to)
	}
	return e.machine.ValidateTransition(Status(rec.Status), to)
}

// GetByID returns a change request by its internal ID.
func (e *Engine) GetByID(ctx context.Context, projectID, id string) (*ChangeRequest, error) {
	rec, err := e.getRecord(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	out := RecordToChangeRequest(*rec)
	return &out, nil
}

// GetForRequirement returns the change requests targeting a requirement,
// most recent first.
func (e *Engine) GetForRequirement(ctx context.Context, projectID, requirementID string) ([]ChangeRequest, error) {
	var records []ChangeRequestRecord
	err := e.db.WithContext(ctx).
		Where("project_id = ? AND requirement_id = ?", projectID, requirementID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list change requests for requirement: %w", err)
	}

	out := make([]ChangeRequest, len(records))
	for i, rec := range records {
		out[i] = RecordToChangeRequest(rec)
	}
	return out, nil
}

// List returns paginated change requests in the project, display ID order.
// pageToken is the display ID of the last record from the previous page.
func (e *Engine) List(ctx context.Context, projectID string, statuses []Status, pageSize int, pageToken string) ([]ChangeRequest, string, int, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	base := e.db.WithContext(ctx).Model(&ChangeRequestRecord{}).Where("project_id = ?", projectID)
	if len(statuses) > 0 {
		base = base.Where("status IN ?", statuses)
	}

	var totalSize int64
	if err := base.Session(&gorm.Session{}).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count change requests: %w", err)
	}

	// Numeric ordering; the padded display string missorts past four digits.
	query := base.Session(&gorm.Session{}).Order("display_num ASC").Limit(pageSize + 1)
	if pageToken != "" {
		afterNum, err := identifier.ParseValue(pageToken)
		if err != nil {
			return nil, "", 0, apperrors.Validation("pageToken", "malformed page token %q", pageToken)
		}
		query = query.Where("display_num > ?", afterNum)
	}

	var records []ChangeRequestRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list change requests: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].DisplayID
		records = records[:pageSize]
	}

	out := make([]ChangeRequest, len(records))
	for i, rec := range records {
		out[i] = RecordToChangeRequest(rec)
	}
	return out, nextToken, int(totalSize), nil
}

// HasActiveForRequirement reports whether any change request still in
// flight (proposed, under review, or approved but not yet implemented)
// references the requirement. Satisfies the reference check the
// requirement store consults before a delete.
func (e *Engine) HasActiveForRequirement(ctx context.Context, requirementID string) (bool, error) {
	var count int64
	err := e.db.WithContext(ctx).Model(&ChangeRequestRecord{}).
		Where("requirement_id = ? AND status IN ?", requirementID,
			[]string{string(StatusProposed), string(StatusUnderReview), string(StatusApproved)}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count active change requests: %w", err)
	}
	return count > 0, nil
}

func (e *Engine) getRecord(ctx context.Context, projectID, id string) (*ChangeRequestRecord, error) {
	var rec ChangeRequestRecord
	err := e.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", id, projectID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("change request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get change request: %w", err)
	}
	return &rec, nil
}
