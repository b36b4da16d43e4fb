package pipeline

import (
	"context"
	"testing"

	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const validConfig = "image: golang:1.25\npipelines:\n  default:\n    - step:\n        name: Build\n        script:\n          - go build ./...\n"

func newService(t *testing.T) (Pipeline, *gorm.DB, *models.Repository) {
	t.Helper()

	conn := testutil.OpenTestDB(t)
	repo := testutil.SeedRepository(t, conn)
	return Service(context.Background()).WithDatabase(conn), conn, repo
}

func TestCreateAssignsVersions(t *testing.T) {
	svc, conn, repo := newService(t)

	first, err := svc.Create(&CreateRequest{RepositoryID: repo.ID, Config: validConfig})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, models.PipelineStatusDraft, first.Status)

	second, err := svc.Create(&CreateRequest{RepositoryID: repo.ID, Config: validConfig})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	// generating a config advances the repository
	var stored models.Repository
	require.NoError(t, conn.First(&stored, repo.ID).Error)
	assert.Equal(t, models.RepositoryStatusGenerated, stored.Status)
}

func TestCreateRejectsBadConfig(t *testing.T) {
	svc, _, repo := newService(t)

	_, err := svc.Create(&CreateRequest{RepositoryID: repo.ID, Config: "pipelines: {}\n"})
	require.Error(t, err)
}

func TestCreateRejectsBadSchedule(t *testing.T) {
	svc, _, repo := newService(t)

	_, err := svc.Create(&CreateRequest{
		RepositoryID: repo.ID,
		Config:       validConfig,
		Schedule:     "every tuesday",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}

func TestCreateUnknownRepository(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Create(&CreateRequest{RepositoryID: 404, Config: validConfig})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListScheduledOnly(t *testing.T) {
	svc, _, repo := newService(t)

	_, err := svc.Create(&CreateRequest{RepositoryID: repo.ID, Config: validConfig})
	require.NoError(t, err)
	scheduled, err := svc.Create(&CreateRequest{
		RepositoryID: repo.ID,
		Config:       validConfig,
		Schedule:     "0 4 * * *",
	})
	require.NoError(t, err)

	pipelines, err := svc.List(&ListRequest{Scheduled: true})
	require.NoError(t, err)
	require.Len(t, pipelines, 1)
	assert.Equal(t, scheduled.ID, pipelines[0].ID)
}

func TestRecordTest(t *testing.T) {
	svc, conn, repo := newService(t)

	created, err := svc.Create(&CreateRequest{RepositoryID: repo.ID, Config: validConfig})
	require.NoError(t, err)

	failed, err := svc.RecordTest(created.ID, &TestResult{
		Passed: false,
		Output: "=== Running step: Build ===\nboom\n",
		Error:  "step Build exited with 1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, failed.Status)

	passed, err := svc.RecordTest(created.ID, &TestResult{Passed: true, Output: "ok\n"})
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusSuccess, passed.Status)

	var stored models.Repository
	require.NoError(t, conn.First(&stored, repo.ID).Error)
	assert.Equal(t, models.RepositoryStatusTesting, stored.Status)
}
