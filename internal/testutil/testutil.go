package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pipewright/pipewright/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// OpenTestDB returns an in-memory sqlite DB with migrations applied.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(models.All...); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SeedRepository inserts a repository with sensible defaults.
func SeedRepository(tb testing.TB, db *gorm.DB) *models.Repository {
	tb.Helper()

	repo := &models.Repository{
		Name:               "widgets",
		Source:             "github",
		SourceRepoURL:      "https://github.com/acme/widgets.git",
		BitbucketWorkspace: "acme",
		BitbucketRepoURL:   "https://bitbucket.org/acme/widgets.git",
		DefaultBranch:      "main",
		Status:             models.RepositoryStatusMigrated,
	}
	if err := db.Create(repo).Error; err != nil {
		tb.Fatalf("seed repository: %v", err)
	}

	return repo
}

// SeedPipeline inserts a draft pipeline for the repository.
func SeedPipeline(tb testing.TB, db *gorm.DB, repositoryID int64) *models.Pipeline {
	tb.Helper()

	pipe := &models.Pipeline{
		RepositoryID: repositoryID,
		Version:      1,
		Config:       "image: atlassian/default-image:3\npipelines:\n  default:\n    - step:\n        name: Build\n        script:\n          - echo build\n",
		Status:       models.PipelineStatusDraft,
	}
	if err := db.Create(pipe).Error; err != nil {
		tb.Fatalf("seed pipeline: %v", err)
	}

	return pipe
}
