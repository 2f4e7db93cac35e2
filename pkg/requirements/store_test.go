package requirements

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/identifier"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) (*Store, *history.Ledger) {
	t.Helper()
	db := newTestDB(t)

	ids := identifier.NewAllocator(db)
	require.NoError(t, ids.AutoMigrate())
	ledger := history.NewLedger(db)
	require.NoError(t, ledger.AutoMigrate())
	store := NewStore(db, ids, ledger)
	require.NoError(t, store.AutoMigrate())
	return store, ledger
}

func mustCreate(t *testing.T, store *Store, projectID string, in CreateInput) *Requirement {
	t.Helper()
	req, err := store.Create(context.Background(), projectID, "alice", in)
	require.NoError(t, err)
	return req
}

func TestStore_Create(t *testing.T) {
	store, ledger := newTestStore(t)

	req := mustCreate(t, store, "proj-1", CreateInput{
		Title: "User login",
		Kind:  KindFunctional,
		Tags:  []string{"auth", "auth", "mvp", ""},
	})

	assert.Equal(t, "REQ-0001", req.DisplayID)
	assert.Equal(t, StatusDraft, req.Status)
	assert.Equal(t, PriorityMedium, req.Priority) // defaulted
	assert.Equal(t, []string{"auth", "mvp"}, req.Tags)
	assert.False(t, req.IsBaselined)
	assert.Zero(t, req.BaselineVersion)

	// Creation is recorded in the ledger.
	entries, _, total, err := ledger.List(history.EntityRequirement, req.ID, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, string(history.ActionCreated), entries[0].Action)
}

func TestStore_Create_Validation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "proj-1", "alice", CreateInput{Kind: KindFunctional})
	var ve *apperrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "title", ve.Field)

	_, err = store.Create(ctx, "proj-1", "alice", CreateInput{Title: "x", Kind: "mystery"})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "kind", ve.Field)

	_, err = store.Create(ctx, "proj-1", "alice", CreateInput{Title: "x", Kind: KindFunctional, Priority: "urgent"})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "priority", ve.Field)
}

func TestStore_Create_ParentMustResolveInProject(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	other := mustCreate(t, store, "proj-2", CreateInput{Title: "Other project root", Kind: KindBusiness})

	_, err := store.Create(ctx, "proj-1", "alice", CreateInput{
		Title:    "Child",
		Kind:     KindFunctional,
		ParentID: other.ID,
	})
	var ve *apperrors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "parentId", ve.Field)
}

func TestStore_DisplayIDsStrictlyIncreaseAcrossDeletes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, store, "proj-1", CreateInput{Title: "First", Kind: KindFunctional})
	assert.Equal(t, "REQ-0001", first.DisplayID)

	require.NoError(t, store.Delete(ctx, "proj-1", first.ID, "alice"))

	second := mustCreate(t, store, "proj-1", CreateInput{Title: "Second", Kind: KindFunctional})
	assert.Equal(t, "REQ-0002", second.DisplayID, "deleted display IDs are never reused")
}

func TestStore_Update_Fields(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()

	req := mustCreate(t, store, "proj-1", CreateInput{Title: "Old title", Kind: KindFunctional})

	newTitle := "New title"
	newPriority := PriorityHigh
	criteria := []string{"logs in under 2s", "rejects bad password"}
	updated, err := store.Update(ctx, "proj-1", req.ID, "bob", Patch{
		Title:              &newTitle,
		Priority:           &newPriority,
		AcceptanceCriteria: &criteria,
	})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, PriorityHigh, updated.Priority)
	assert.Equal(t, criteria, updated.AcceptanceCriteria)

	entries, _, _, err := ledger.List(history.EntityRequirement, req.ID, 10, "")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(history.ActionEdited), entries[0].Action)
	diffed, ok := entries[0].Details["title"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Old title", diffed["from"])
	assert.Equal(t, "New title", diffed["to"])
}

func TestStore_Update_StatusTransitions(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()

	req := mustCreate(t, store, "proj-1", CreateInput{Title: "Login", Kind: KindFunctional})

	// Jumping draft -> approved is rejected and leaves status unchanged.
	target := StatusApproved
	_, err := store.Update(ctx, "proj-1", req.ID, "bob", Patch{Status: &target})
	var it *apperrors.InvalidTransitionError
	require.True(t, errors.As(err, &it))
	assert.Equal(t, "draft", it.From)
	assert.Equal(t, "approved", it.To)

	got, err := store.GetByID(ctx, "proj-1", req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)

	// Stepping through the canonical order succeeds.
	for _, next := range []Status{StatusReview, StatusApproved, StatusImplemented, StatusVerified, StatusClosed} {
		st := next
		got, err = store.Update(ctx, "proj-1", req.ID, "bob", Patch{Status: &st})
		require.NoError(t, err, "transition to %s", next)
		assert.Equal(t, next, got.Status)
	}

	// Closed is terminal.
	back := StatusDraft
	_, err = store.Update(ctx, "proj-1", req.ID, "bob", Patch{Status: &back})
	require.True(t, errors.As(err, &it))

	// Each successful transition produced a StatusChanged entry.
	entries, _, _, err := ledger.List(history.EntityRequirement, req.ID, 20, "")
	require.NoError(t, err)
	statusChanges := 0
	for _, e := range entries {
		if e.Action == string(history.ActionStatusChanged) {
			statusChanges++
		}
	}
	assert.Equal(t, 5, statusChanges)
}

func TestStore_Update_ReviewBackToDraft(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req := mustCreate(t, store, "proj-1", CreateInput{Title: "Login", Kind: KindFunctional})

	review := StatusReview
	_, err := store.Update(ctx, "proj-1", req.ID, "bob", Patch{Status: &review})
	require.NoError(t, err)

	draft := StatusDraft
	got, err := store.Update(ctx, "proj-1", req.ID, "bob", Patch{Status: &draft})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
}

func TestStore_Update_BaselinedSetsUnbaselinedFlag(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req := mustCreate(t, store, "proj-1", CreateInput{Title: "Login", Kind: KindFunctional})

	// Simulate a prior baseline directly on the row.
	require.NoError(t, store.db.Model(&RequirementRecord{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{"is_baselined": true, "baseline_version": 1}).Error)

	newTitle := "Login v2"
	got, err := store.Update(ctx, "proj-1", req.ID, "bob", Patch{Title: &newTitle})
	require.NoError(t, err)
	assert.True(t, got.HasUnbaselinedChanges)
}

func TestStore_Update_BaselinedFlagCoversAllSnapshotFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Status and owner are part of the baseline snapshot, so changing
	// either drifts the row from its last baseline just like a title edit.
	review := StatusReview
	owner := "dave"
	cases := []struct {
		name  string
		patch Patch
	}{
		{"status", Patch{Status: &review}},
		{"owner", Patch{OwnerID: &owner}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := mustCreate(t, store, "proj-1", CreateInput{Title: "Login " + tc.name, Kind: KindFunctional})
			require.NoError(t, store.db.Model(&RequirementRecord{}).
				Where("id = ?", req.ID).
				Updates(map[string]any{"is_baselined": true, "baseline_version": 1}).Error)

			got, err := store.Update(ctx, "proj-1", req.ID, "bob", tc.patch)
			require.NoError(t, err)
			assert.True(t, got.HasUnbaselinedChanges)
		})
	}
}

func TestStore_Update_NoChangesWritesNoHistory(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()

	req := mustCreate(t, store, "proj-1", CreateInput{Title: "Login", Kind: KindFunctional})

	sameTitle := "Login"
	_, err := store.Update(ctx, "proj-1", req.ID, "bob", Patch{Title: &sameTitle})
	require.NoError(t, err)

	_, _, total, err := ledger.List(history.EntityRequirement, req.ID, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total) // only the creation entry
}

func TestStore_Update_NotFound(t *testing.T) {
	store, _ := newTestStore(t)

	title := "x"
	_, err := store.Update(context.Background(), "proj-1", "missing", "bob", Patch{Title: &title})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_ParentCycleRejected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	root := mustCreate(t, store, "proj-1", CreateInput{Title: "Root", Kind: KindBusiness})
	mid := mustCreate(t, store, "proj-1", CreateInput{Title: "Mid", Kind: KindFunctional, ParentID: root.ID})
	leaf := mustCreate(t, store, "proj-1", CreateInput{Title: "Leaf", Kind: KindFunctional, ParentID: mid.ID})

	// Re-parenting the root under its own descendant must be rejected.
	_, err := store.Update(ctx, "proj-1", root.ID, "alice", Patch{ParentID: &leaf.ID})
	var cf *apperrors.ConflictError
	require.True(t, errors.As(err, &cf))

	// Self-parenting is rejected too.
	_, err = store.Update(ctx, "proj-1", mid.ID, "alice", Patch{ParentID: &mid.ID})
	require.True(t, errors.As(err, &cf))

	// A legal re-parent still works.
	_, err = store.Update(ctx, "proj-1", leaf.ID, "alice", Patch{ParentID: &root.ID})
	require.NoError(t, err)
}

func TestStore_Delete_Guards(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	root := mustCreate(t, store, "proj-1", CreateInput{Title: "Root", Kind: KindBusiness})
	child := mustCreate(t, store, "proj-1", CreateInput{Title: "Child", Kind: KindFunctional, ParentID: root.ID})

	// Parent with children cannot be deleted.
	err := store.Delete(ctx, "proj-1", root.ID, "alice")
	var cf *apperrors.ConflictError
	require.True(t, errors.As(err, &cf))

	// Active change request blocks deletion.
	store.SetChangeRequestChecker(staticChecker{active: map[string]bool{child.ID: true}})
	err = store.Delete(ctx, "proj-1", child.ID, "alice")
	require.True(t, errors.As(err, &cf))

	// Once unreferenced, the child can go, then the root.
	store.SetChangeRequestChecker(staticChecker{})
	require.NoError(t, store.Delete(ctx, "proj-1", child.ID, "alice"))
	require.NoError(t, store.Delete(ctx, "proj-1", root.ID, "alice"))

	_, err = store.GetByID(ctx, "proj-1", root.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_Comment(t *testing.T) {
	store, ledger := newTestStore(t)
	ctx := context.Background()

	req := mustCreate(t, store, "proj-1", CreateInput{Title: "Login", Kind: KindFunctional})

	require.NoError(t, store.Comment(ctx, "proj-1", req.ID, "carol", "needs security review"))

	err := store.Comment(ctx, "proj-1", req.ID, "carol", "")
	var ve *apperrors.ValidationError
	require.True(t, errors.As(err, &ve))

	entries, _, _, err := ledger.List(history.EntityRequirement, req.ID, 10, "")
	require.NoError(t, err)
	assert.Equal(t, string(history.ActionCommented), entries[0].Action)
	assert.Equal(t, "needs security review", entries[0].Details["comment"])
}

func TestStore_FailedLedgerWriteAbortsMutation(t *testing.T) {
	db := newTestDB(t)
	ids := identifier.NewAllocator(db)
	require.NoError(t, ids.AutoMigrate())
	realLedger := history.NewLedger(db)
	require.NoError(t, realLedger.AutoMigrate())

	store := NewStore(db, ids, realLedger)
	require.NoError(t, store.AutoMigrate())

	req, err := store.Create(context.Background(), "proj-1", "alice", CreateInput{Title: "Login", Kind: KindFunctional})
	require.NoError(t, err)

	// Swap in a ledger that always fails: the update must roll back.
	failing := NewStore(db, ids, failingLedger{})
	newTitle := "Changed"
	_, err = failing.Update(context.Background(), "proj-1", req.ID, "bob", Patch{Title: &newTitle})
	require.Error(t, err)

	got, err := store.GetByID(context.Background(), "proj-1", req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login", got.Title, "primary mutation must not commit without its history entry")
}

func TestStore_ListWithFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, "proj-1", CreateInput{Title: "A", Kind: KindFunctional})
	mustCreate(t, store, "proj-1", CreateInput{Title: "B", Kind: KindBusiness})
	req := mustCreate(t, store, "proj-1", CreateInput{Title: "C", Kind: KindFunctional})

	review := StatusReview
	_, err := store.Update(ctx, "proj-1", req.ID, "alice", Patch{Status: &review})
	require.NoError(t, err)

	all, _, total, err := store.List(ctx, "proj-1", Filter{}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	functional, _, _, err := store.List(ctx, "proj-1", Filter{Kinds: []Kind{KindFunctional}}, 10, "")
	require.NoError(t, err)
	assert.Len(t, functional, 2)

	inReview, _, _, err := store.List(ctx, "proj-1", Filter{Statuses: []Status{StatusReview}}, 10, "")
	require.NoError(t, err)
	require.Len(t, inReview, 1)
	assert.Equal(t, "C", inReview[0].Title)
}

func TestStore_ListPagination(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		mustCreate(t, store, "proj-1", CreateInput{Title: title, Kind: KindFunctional})
	}

	page1, token, total, err := store.List(ctx, "proj-1", Filter{}, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)

	page2, token2, _, err := store.List(ctx, "proj-1", Filter{}, 2, token)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Empty(t, token2)
	assert.Equal(t, "C", page2[0].Title)
}

func TestStore_ListOrderSurvivesFiveDigitIDs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Jump the sequence to where the four-digit padding runs out. A string
	// sort would put REQ-10000 before REQ-9999.
	require.NoError(t, store.db.Create(&identifier.SequenceRecord{
		ProjectID: "proj-1",
		Kind:      string(identifier.KindRequirement),
		NextValue: 9998,
	}).Error)

	first := mustCreate(t, store, "proj-1", CreateInput{Title: "Near the edge", Kind: KindFunctional})
	second := mustCreate(t, store, "proj-1", CreateInput{Title: "Past the edge", Kind: KindFunctional})
	require.Equal(t, "REQ-9999", first.DisplayID)
	require.Equal(t, "REQ-10000", second.DisplayID)

	page, token, _, err := store.List(ctx, "proj-1", Filter{}, 1, "")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "REQ-9999", page[0].DisplayID)
	require.Equal(t, "REQ-9999", token)

	page, _, _, err = store.List(ctx, "proj-1", Filter{}, 1, token)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "REQ-10000", page[0].DisplayID)
}

// staticChecker is a ChangeRequestChecker backed by a fixed map.
type staticChecker struct {
	active map[string]bool
}

func (c staticChecker) HasActiveForRequirement(_ context.Context, requirementID string) (bool, error) {
	return c.active[requirementID], nil
}

// failingLedger rejects every append.
type failingLedger struct{}

func (failingLedger) AppendTx(_ *gorm.DB, _ history.AppendInput) (*history.EntryRecord, error) {
	return nil, errors.New("ledger unavailable")
}

func (failingLedger) Append(_ history.AppendInput) (*history.EntryRecord, error) {
	return nil, errors.New("ledger unavailable")
}
