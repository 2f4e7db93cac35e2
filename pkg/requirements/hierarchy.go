package requirements

import (
	"context"
	"fmt"
)

// GetHierarchy produces the requirement tree for a project: roots with
// nested children, siblings ordered by display ID. The creation and
// re-parenting invariants keep the structure a tree, so the build always
// terminates. Cancellation is checked between units of work so an abandoned
// caller does not waste further computation.
func (s *Store) GetHierarchy(ctx context.Context, projectID string) ([]*HierarchyNode, error) {
	records, err := s.listRecords(ctx, projectID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*HierarchyNode, len(records))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nodes[records[i].ID] = &HierarchyNode{Requirement: RecordToRequirement(records[i])}
	}

	var roots []*HierarchyNode
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := nodes[records[i].ID]
		if records[i].ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*records[i].ParentID]
		if !ok {
			// Parent outside the live set; surface the child as a root
			// rather than dropping it.
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	return roots, nil
}

// Walk visits every live requirement in the project in display-ID order,
// stopping early if fn returns an error or the context is cancelled.
func (s *Store) Walk(ctx context.Context, projectID string, fn func(Requirement) error) error {
	records, err := s.listRecords(ctx, projectID)
	if err != nil {
		return err
	}
	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(RecordToRequirement(records[i])); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) listRecords(ctx context.Context, projectID string) ([]RequirementRecord, error) {
	var records []RequirementRecord
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("display_num ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list requirements for hierarchy: %w", err)
	}
	return records, nil
}
