package logs

import (
	"context"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedExecution(t *testing.T, conn *gorm.DB, pipelineID int64, startedAt time.Time) *models.Execution {
	t.Helper()

	completed := startedAt.Add(90 * time.Second)
	exec := &models.Execution{
		PipelineID:      pipelineID,
		Status:          models.StatusSuccess,
		TriggerType:     models.TriggerTypeManual,
		BuildNumber:     12,
		Logs:            "=== Step: Build (SUCCESSFUL) ===\ncompiling\n=== Step: Deploy (SUCCESSFUL) ===\nshipped\n",
		StartedAt:       startedAt,
		CompletedAt:     &completed,
		DurationSeconds: 90,
		Steps: []*models.ExecutionStep{
			{Name: "Build", State: "SUCCESSFUL", Log: "compiling widgets\n"},
			{Name: "Deploy", State: "SUCCESSFUL", Log: "shipped to prod\n"},
		},
	}
	require.NoError(t, conn.Create(exec).Error)
	return exec
}

func newService(t *testing.T) (Logs, *gorm.DB, *models.Pipeline) {
	t.Helper()

	conn := testutil.OpenTestDB(t)
	repo := testutil.SeedRepository(t, conn)
	pipe := testutil.SeedPipeline(t, conn, repo.ID)
	return Service(context.Background()).WithDatabase(conn), conn, pipe
}

func TestQuerySummary(t *testing.T) {
	svc, conn, pipe := newService(t)
	exec := seedExecution(t, conn, pipe.ID, time.Now().UTC())

	resp, err := svc.Query(&QueryRequest{PipelineID: pipe.ID, ExecutionID: exec.ID})
	require.NoError(t, err)

	assert.Equal(t, exec.ID, resp.ExecutionID)
	assert.Equal(t, models.StatusSuccess, resp.Status)
	assert.Equal(t, 12, resp.BuildNumber)
	assert.Contains(t, resp.Logs, "compiling")
	assert.Nil(t, resp.Steps)

	// the summary list rides along with the detail portion
	require.Len(t, resp.Executions, 1)
	assert.Equal(t, exec.ID, resp.Executions[0].ID)
	assert.Equal(t, int64(1), resp.Pagination.Total)
}

func TestQuerySummaryListPagination(t *testing.T) {
	svc, conn, pipe := newService(t)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		seedExecution(t, conn, pipe.ID, now.Add(time.Duration(i)*time.Minute))
	}

	resp, err := svc.Query(&QueryRequest{PipelineID: pipe.ID, Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, resp.Executions, 1)
	assert.Equal(t, int64(3), resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.Pages)

	// past the last page: empty list, correct totals
	resp, err = svc.Query(&QueryRequest{PipelineID: pipe.ID, Page: 9, PerPage: 2})
	require.NoError(t, err)
	assert.Empty(t, resp.Executions)
	assert.Equal(t, int64(3), resp.Pagination.Total)
}

func TestQueryResolvesLatest(t *testing.T) {
	svc, conn, pipe := newService(t)

	now := time.Now().UTC()
	seedExecution(t, conn, pipe.ID, now.Add(-time.Hour))
	latest := seedExecution(t, conn, pipe.ID, now)

	resp, err := svc.Query(&QueryRequest{PipelineID: pipe.ID})
	require.NoError(t, err)
	assert.Equal(t, latest.ID, resp.ExecutionID)
}

func TestQueryNoExecutions(t *testing.T) {
	svc, _, pipe := newService(t)

	_, err := svc.Query(&QueryRequest{PipelineID: pipe.ID})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestQueryStepFilter(t *testing.T) {
	svc, conn, pipe := newService(t)
	exec := seedExecution(t, conn, pipe.ID, time.Now().UTC())

	// matches the step name, case-insensitively
	resp, err := svc.Query(&QueryRequest{PipelineID: pipe.ID, ExecutionID: exec.ID, StepFilter: "build"})
	require.NoError(t, err)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, "Build", resp.Steps[0].Name)
	assert.Empty(t, resp.Logs)

	// matches log text of a step whose name does not match
	resp, err = svc.Query(&QueryRequest{PipelineID: pipe.ID, ExecutionID: exec.ID, StepFilter: "shipped to PROD"})
	require.NoError(t, err)
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, "Deploy", resp.Steps[0].Name)

	// no match is an empty list, not an error
	resp, err = svc.Query(&QueryRequest{PipelineID: pipe.ID, ExecutionID: exec.ID, StepFilter: "nonesuch"})
	require.NoError(t, err)
	assert.Empty(t, resp.Steps)
}

func TestQueryScopedToPipeline(t *testing.T) {
	svc, conn, pipe := newService(t)

	other := testutil.SeedPipeline(t, conn, pipe.RepositoryID)
	exec := seedExecution(t, conn, other.ID, time.Now().UTC())

	_, err := svc.Query(&QueryRequest{PipelineID: pipe.ID, ExecutionID: exec.ID})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
