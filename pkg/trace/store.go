package trace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/requirements"
)

// Store owns trace links and the metrics derived from them.
type Store struct {
	db   *gorm.DB
	reqs *requirements.Store
}

// NewStore creates a trace Store.
func NewStore(db *gorm.DB, reqs *requirements.Store) *Store {
	return &Store{db: db, reqs: reqs}
}

// AutoMigrate creates or updates the trace_links table.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&TraceLinkRecord{}); err != nil {
		return fmt.Errorf("auto-migrate trace_links: %w", err)
	}
	return nil
}

// Link associates a requirement with an artifact. Idempotent: linking the
// same artifact twice leaves a single link and reports the existing one.
func (s *Store) Link(ctx context.Context, projectID, requirementID, actorID string, in LinkInput) (*TraceLink, error) {
	if !ValidArtifactType(in.ArtifactType) {
		return nil, apperrors.Validation("artifactType", "unknown artifact type %q", in.ArtifactType)
	}
	if in.ArtifactID == "" {
		return nil, apperrors.Validation("artifactId", "artifactId must not be empty")
	}

	var out TraceLinkRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req requirements.RequirementRecord
		err := tx.Where("id = ? AND project_id = ?", requirementID, projectID).First(&req).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("requirement", requirementID)
		}
		if err != nil {
			return fmt.Errorf("resolve requirement: %w", err)
		}

		rec := TraceLinkRecord{
			ID:            uuid.New().String(),
			ProjectID:     projectID,
			RequirementID: req.ID,
			ArtifactType:  string(in.ArtifactType),
			ArtifactID:    in.ArtifactID,
			CreatedBy:     actorID,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "project_id"}, {Name: "requirement_id"},
				{Name: "artifact_type"}, {Name: "artifact_id"},
			},
			DoNothing: true,
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("create trace link: %w", err)
		}

		// Read back so a duplicate request returns the original link.
		return tx.Where("project_id = ? AND requirement_id = ? AND artifact_type = ? AND artifact_id = ?",
			projectID, req.ID, string(in.ArtifactType), in.ArtifactID).
			First(&out).Error
	})
	if err != nil {
		return nil, err
	}

	link := RecordToTraceLink(out)
	return &link, nil
}

// Unlink removes a requirement-to-artifact association. Idempotent:
// removing an absent link is a no-op.
func (s *Store) Unlink(ctx context.Context, projectID, requirementID string, in LinkInput) error {
	if !ValidArtifactType(in.ArtifactType) {
		return apperrors.Validation("artifactType", "unknown artifact type %q", in.ArtifactType)
	}
	if in.ArtifactID == "" {
		return apperrors.Validation("artifactId", "artifactId must not be empty")
	}

	err := s.db.WithContext(ctx).
		Where("project_id = ? AND requirement_id = ? AND artifact_type = ? AND artifact_id = ?",
			projectID, requirementID, string(in.ArtifactType), in.ArtifactID).
		Delete(&TraceLinkRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete trace link: %w", err)
	}
	return nil
}

// ListForRequirement returns a requirement's links, newest first.
func (s *Store) ListForRequirement(ctx context.Context, projectID, requirementID string) ([]TraceLink, error) {
	if _, err := s.reqs.GetByID(ctx, projectID, requirementID); err != nil {
		return nil, err
	}

	var records []TraceLinkRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND requirement_id = ?", projectID, requirementID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list trace links: %w", err)
	}

	out := make([]TraceLink, len(records))
	for i, rec := range records {
		out[i] = RecordToTraceLink(rec)
	}
	return out, nil
}

// MatrixFilter narrows the matrix to requirements of the given kinds or
// statuses. Empty slices match everything.
type MatrixFilter struct {
	Kinds    []requirements.Kind
	Statuses []requirements.Status
}

func (f MatrixFilter) matches(req requirements.Requirement) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, req.Kind) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, req.Status) {
		return false
	}
	return true
}

// BuildMatrix renders the traceability matrix for the live requirements in
// the project matching the filter, grouped by artifact type. The matrix is
// recomputed from current link state on every call.
func (s *Store) BuildMatrix(ctx context.Context, projectID string, filter MatrixFilter) (*Matrix, error) {
	var records []TraceLinkRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("artifact_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load trace links: %w", err)
	}

	byRequirement := map[string]map[ArtifactType][]string{}
	for _, rec := range records {
		artifacts := byRequirement[rec.RequirementID]
		if artifacts == nil {
			artifacts = map[ArtifactType][]string{}
			byRequirement[rec.RequirementID] = artifacts
		}
		at := ArtifactType(rec.ArtifactType)
		artifacts[at] = append(artifacts[at], rec.ArtifactID)
	}

	matrix := &Matrix{Rows: []MatrixRow{}}
	err = s.reqs.Walk(ctx, projectID, func(req requirements.Requirement) error {
		if !filter.matches(req) {
			return nil
		}
		artifacts := byRequirement[req.ID]
		if artifacts == nil {
			artifacts = map[ArtifactType][]string{}
		}
		matrix.Rows = append(matrix.Rows, MatrixRow{
			RequirementID: req.ID,
			DisplayID:     req.DisplayID,
			Title:         req.Title,
			Artifacts:     artifacts,
			Covered:       isCovered(artifacts),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	matrix.TotalSize = len(matrix.Rows)
	return matrix, nil
}

// ComputeCoverage returns the project coverage metric. Only live
// requirements count toward the denominator; links left behind by deleted
// requirements are ignored.
func (s *Store) ComputeCoverage(ctx context.Context, projectID string) (*Coverage, error) {
	types := make([]string, len(coveringTypes))
	for i, t := range coveringTypes {
		types[i] = string(t)
	}

	var records []TraceLinkRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND artifact_type IN ?", projectID, types).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load covering links: %w", err)
	}
	linked := mapset.NewThreadUnsafeSet[string]()
	for _, rec := range records {
		linked.Add(rec.RequirementID)
	}

	cov := &Coverage{}
	err = s.reqs.Walk(ctx, projectID, func(req requirements.Requirement) error {
		cov.TotalRequirements++
		if linked.Contains(req.ID) {
			cov.CoveredRequirements++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cov.TotalRequirements > 0 {
		cov.Percent = int(math.Round(100 * float64(cov.CoveredRequirements) / float64(cov.TotalRequirements)))
	}
	return cov, nil
}

func isCovered(artifacts map[ArtifactType][]string) bool {
	for _, t := range coveringTypes {
		if len(artifacts[t]) > 0 {
			return true
		}
	}
	return false
}
