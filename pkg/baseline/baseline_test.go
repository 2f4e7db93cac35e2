package baseline

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reqboard/reqboard/pkg/apperrors"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/identifier"
	"github.com/reqboard/reqboard/pkg/requirements"
)

func newTestManager(t *testing.T) (*Manager, *requirements.Store, *history.Ledger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	ids := identifier.NewAllocator(db)
	require.NoError(t, ids.AutoMigrate())
	ledger := history.NewLedger(db)
	require.NoError(t, ledger.AutoMigrate())
	store := requirements.NewStore(db, ids, ledger)
	require.NoError(t, store.AutoMigrate())
	mgr := NewManager(db, store, ledger)
	require.NoError(t, mgr.AutoMigrate())
	return mgr, store, ledger
}

func strptr(s string) *string { return &s }

func TestManager_CreateBaseline_VersionsAndSnapshots(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	req, err := store.Create(ctx, "proj-1", "alice", requirements.CreateInput{
		Title: "Title v1",
		Kind:  requirements.KindFunctional,
	})
	require.NoError(t, err)

	b1, err := mgr.CreateBaseline(ctx, "proj-1", req.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, b1.Version)
	assert.Equal(t, "Title v1", b1.Snapshot["title"])
	assert.Equal(t, "alice", b1.CapturedBy)

	// The live requirement reflects the new baseline.
	got, err := store.GetByID(ctx, "proj-1", req.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBaselined)
	assert.Equal(t, 1, got.BaselineVersion)
	assert.False(t, got.HasUnbaselinedChanges)

	// Edit then baseline again; the two snapshots are independent copies.
	_, err = store.Update(ctx, "proj-1", req.ID, "alice", requirements.Patch{Title: strptr("Title v2")})
	require.NoError(t, err)

	got, err = store.GetByID(ctx, "proj-1", req.ID)
	require.NoError(t, err)
	assert.True(t, got.HasUnbaselinedChanges)

	b2, err := mgr.CreateBaseline(ctx, "proj-1", req.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, b2.Version)
	assert.Equal(t, "Title v2", b2.Snapshot["title"])

	got, err = store.GetByID(ctx, "proj-1", req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.BaselineVersion)
	assert.False(t, got.HasUnbaselinedChanges)
}

func TestManager_BaselineImmutableAfterEdit(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	req, err := store.Create(ctx, "proj-1", "alice", requirements.CreateInput{
		Title:       "Original",
		Description: "Original description",
		Kind:        requirements.KindBusiness,
	})
	require.NoError(t, err)

	_, err = mgr.CreateBaseline(ctx, "proj-1", req.ID, "alice")
	require.NoError(t, err)

	_, err = store.Update(ctx, "proj-1", req.ID, "alice", requirements.Patch{
		Title:       strptr("Changed"),
		Description: strptr("Changed description"),
	})
	require.NoError(t, err)

	baselines, _, total, err := mgr.GetBaselineHistory(ctx, "proj-1", req.ID, 10, "")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "Original", baselines[0].Snapshot["title"])
	assert.Equal(t, "Original description", baselines[0].Snapshot["description"])
}

func TestManager_GetBaselineHistory_OrderAndPagination(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	req, err := store.Create(ctx, "proj-1", "alice", requirements.CreateInput{
		Title: "Paged",
		Kind:  requirements.KindTechnical,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := mgr.CreateBaseline(ctx, "proj-1", req.ID, "alice")
		require.NoError(t, err)
	}

	// Versions are gapless and ascending.
	baselines, _, total, err := mgr.GetBaselineHistory(ctx, "proj-1", req.ID, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, baselines, 5)
	for i, b := range baselines {
		assert.Equal(t, i+1, b.Version)
	}

	page1, token, total, err := mgr.GetBaselineHistory(ctx, "proj-1", req.ID, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page1, 2)
	require.NotEmpty(t, token)
	assert.Equal(t, 1, page1[0].Version)
	assert.Equal(t, 2, page1[1].Version)

	page2, token, _, err := mgr.GetBaselineHistory(ctx, "proj-1", req.ID, 2, token)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.NotEmpty(t, token)
	assert.Equal(t, 3, page2[0].Version)

	page3, token, _, err := mgr.GetBaselineHistory(ctx, "proj-1", req.ID, 2, token)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.Empty(t, token)
	assert.Equal(t, 5, page3[0].Version)
}

func TestManager_CreateBaseline_RequirementMissing(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.CreateBaseline(context.Background(), "proj-1", "no-such-id", "alice")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestManager_CreateBaseline_RecordsHistory(t *testing.T) {
	mgr, store, ledger := newTestManager(t)
	ctx := context.Background()

	req, err := store.Create(ctx, "proj-1", "alice", requirements.CreateInput{
		Title: "Ledgered",
		Kind:  requirements.KindFunctional,
	})
	require.NoError(t, err)

	b, err := mgr.CreateBaseline(ctx, "proj-1", req.ID, "carol")
	require.NoError(t, err)

	entries, _, _, err := ledger.List(history.EntityRequirement, req.ID, 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	top := entries[0] // newest first
	assert.Equal(t, string(history.ActionBaselined), top.Action)
	assert.Equal(t, "carol", top.ActorID)
	require.NotNil(t, top.BaselineVersion)
	assert.Equal(t, b.Version, *top.BaselineVersion)
}

func TestManager_DiffBaselines(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	req, err := store.Create(ctx, "proj-1", "alice", requirements.CreateInput{
		Title:    "Login",
		Kind:     requirements.KindFunctional,
		Priority: requirements.PriorityHigh,
	})
	require.NoError(t, err)

	_, err = mgr.CreateBaseline(ctx, "proj-1", req.ID, "alice")
	require.NoError(t, err)

	_, err = store.Update(ctx, "proj-1", req.ID, "alice", requirements.Patch{
		Title:       strptr("Login with MFA"),
		Description: strptr("Requires a second factor"),
	})
	require.NoError(t, err)

	_, err = mgr.CreateBaseline(ctx, "proj-1", req.ID, "alice")
	require.NoError(t, err)

	diff, err := mgr.DiffBaselines(ctx, "proj-1", req.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 2)

	changed := map[string]FieldDiff{}
	for _, c := range diff.Changes {
		changed[c.Field] = c
	}
	assert.Equal(t, "Login", changed["title"].From)
	assert.Equal(t, "Login with MFA", changed["title"].To)
	assert.Equal(t, "", changed["description"].From)
	assert.Equal(t, "Requires a second factor", changed["description"].To)
}

func TestManager_DiffBaselines_SameVersionEmpty(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	req, err := store.Create(ctx, "proj-1", "alice", requirements.CreateInput{
		Title: "Stable",
		Kind:  requirements.KindFunctional,
	})
	require.NoError(t, err)
	_, err = mgr.CreateBaseline(ctx, "proj-1", req.ID, "alice")
	require.NoError(t, err)

	diff, err := mgr.DiffBaselines(ctx, "proj-1", req.ID, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, diff.Changes)
}

func TestManager_DiffBaselines_MissingVersion(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	req, err := store.Create(ctx, "proj-1", "alice", requirements.CreateInput{
		Title: "Lonely",
		Kind:  requirements.KindFunctional,
	})
	require.NoError(t, err)
	_, err = mgr.CreateBaseline(ctx, "proj-1", req.ID, "alice")
	require.NoError(t, err)

	_, err = mgr.DiffBaselines(ctx, "proj-1", req.ID, 1, 7)
	assert.True(t, apperrors.IsNotFound(err))
}
