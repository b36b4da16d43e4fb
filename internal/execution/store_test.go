package execution

import (
	"context"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/testutil"
	"github.com/stretchr/testify/require"
)

func seedExecution(t *testing.T, store *Store, pipelineID int64, status models.Status, startedAt time.Time) *models.Execution {
	t.Helper()

	exec := &models.Execution{
		PipelineID:  pipelineID,
		Status:      status,
		TriggerType: models.TriggerTypeManual,
		StartedAt:   startedAt,
	}
	require.NoError(t, store.Create(context.Background(), exec))
	return exec
}

func TestCompleteIsIdempotent(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := testutil.SeedRepository(t, db)
	pipe := testutil.SeedPipeline(t, db, repo.ID)
	store := NewStore(db)
	ctx := context.Background()

	exec := seedExecution(t, store, pipe.ID, models.StatusBuilding, time.Now().UTC().Add(-time.Minute))

	steps := []*models.ExecutionStep{
		{Name: "Build", State: "SUCCESSFUL", Log: "ok\n"},
	}
	require.NoError(t, store.Complete(ctx, exec.ID, models.StatusSuccess, "=== Build ===\nok\n", "", steps))

	got, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.GreaterOrEqual(t, got.DurationSeconds, 59)
	require.Len(t, got.Steps, 1)

	firstCompleted := *got.CompletedAt

	// a second terminal write is ignored entirely
	require.NoError(t, store.Complete(ctx, exec.ID, models.StatusFailed, "other", "boom", nil))

	got, err = store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, got.Status)
	require.Equal(t, firstCompleted.Unix(), got.CompletedAt.Unix())
	require.Empty(t, got.ErrorMessage)
	require.Len(t, got.Steps, 1)
}

func TestSetStatusSkipsCompletedRows(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := testutil.SeedRepository(t, db)
	pipe := testutil.SeedPipeline(t, db, repo.ID)
	store := NewStore(db)
	ctx := context.Background()

	exec := seedExecution(t, store, pipe.ID, models.StatusBuilding, time.Now().UTC())

	require.NoError(t, store.SetStatus(ctx, exec.ID, models.StatusTesting))
	got, err := store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusTesting, got.Status)

	require.NoError(t, store.Complete(ctx, exec.ID, models.StatusSuccess, "", "", nil))
	require.NoError(t, store.SetStatus(ctx, exec.ID, models.StatusDeploying))

	got, err = store.Get(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSuccess, got.Status)
}

func TestLatestOrdersByStart(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := testutil.SeedRepository(t, db)
	pipe := testutil.SeedPipeline(t, db, repo.ID)
	store := NewStore(db)

	now := time.Now().UTC()
	seedExecution(t, store, pipe.ID, models.StatusSuccess, now.Add(-2*time.Hour))
	newest := seedExecution(t, store, pipe.ID, models.StatusBuilding, now)
	seedExecution(t, store, pipe.ID, models.StatusFailed, now.Add(-time.Hour))

	latest, err := store.Latest(context.Background(), pipe.ID)
	require.NoError(t, err)
	require.Equal(t, newest.ID, latest.ID)
}

func TestListPaginationAndFilters(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := testutil.SeedRepository(t, db)
	pipe := testutil.SeedPipeline(t, db, repo.ID)
	store := NewStore(db)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		status := models.StatusSuccess
		if i%2 == 1 {
			status = models.StatusFailed
		}
		seedExecution(t, store, pipe.ID, status, now.Add(-time.Duration(i)*time.Hour))
	}

	execs, info, err := store.List(ctx, &ListRequest{PipelineID: pipe.ID, Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, execs, 2)
	require.Equal(t, int64(5), info.Total)
	require.Equal(t, 3, info.Pages)

	// newest first
	require.True(t, execs[0].StartedAt.After(execs[1].StartedAt))

	// out-of-range page: empty list, same metadata
	execs, info, err = store.List(ctx, &ListRequest{PipelineID: pipe.ID, Page: 9, PerPage: 2})
	require.NoError(t, err)
	require.Empty(t, execs)
	require.Equal(t, int64(5), info.Total)
	require.Equal(t, 3, info.Pages)

	// per_page clamp
	_, info, err = store.List(ctx, &ListRequest{PipelineID: pipe.ID, Page: 1, PerPage: 500})
	require.NoError(t, err)
	require.Equal(t, MaxPerPage, info.PerPage)

	// status filter
	execs, _, err = store.List(ctx, &ListRequest{PipelineID: pipe.ID, Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, execs, 2)

	// date range filter
	cutoff := now.Add(-90 * time.Minute)
	execs, _, err = store.List(ctx, &ListRequest{PipelineID: pipe.ID, From: &cutoff})
	require.NoError(t, err)
	require.Len(t, execs, 2)
}
