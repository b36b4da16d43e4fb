package pipeline

import (
	"context"
	"sync"

	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/pipelineconfig"
	"github.com/pipewright/pipewright/pkg/db"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Pipeline interface {
	WithDatabase(*gorm.DB) Pipeline
	List(*ListRequest) (models.Pipelines, error)
	Get(int64) (*models.Pipeline, error)
	Create(*CreateRequest) (*models.Pipeline, error)
	Delete(int64) error
	RecordTest(int64, *TestResult) (*models.Pipeline, error)
}

type pipelineService struct {
	ctx context.Context
	db  *gorm.DB
}

var (
	defaultService   *pipelineService
	defaultServiceMu sync.Mutex
)

func Service(ctx context.Context) Pipeline {
	defaultServiceMu.Lock()
	defer defaultServiceMu.Unlock()
	if defaultService != nil {
		return &pipelineService{ctx: ctx, db: defaultService.db}
	}
	return &pipelineService{ctx: ctx, db: db.Connection()}
}

func (s *pipelineService) WithDatabase(conn *gorm.DB) Pipeline {
	s.db = conn
	return s
}

type ListRequest struct {
	RepositoryID int64
	Status       string
	Scheduled    bool
}

func (s *pipelineService) List(req *ListRequest) (models.Pipelines, error) {
	var (
		pipelines = make(models.Pipelines, 0)
		q         = s.db.WithContext(s.ctx)
	)

	if req.RepositoryID != 0 {
		q = q.Where("repository_id = ?", req.RepositoryID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.Scheduled {
		q = q.Where("schedule <> ''")
	}

	return pipelines, q.Order("repository_id, version").Find(&pipelines).Error
}

func (s *pipelineService) Get(id int64) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	err := s.db.WithContext(s.ctx).
		Preload("Repository").
		First(&pipeline, id).Error
	return &pipeline, err
}

type CreateRequest struct {
	RepositoryID         int64                  `json:"repository_id"`
	Config               string                 `json:"config"`
	DeploymentServer     string                 `json:"deployment_server,omitempty"`
	EnvironmentVariables map[string]interface{} `json:"environment_variables,omitempty"`
	Schedule             string                 `json:"schedule,omitempty"`
	NotifyURL            string                 `json:"notify_url,omitempty"`
}

// Create validates the configuration and stores it as the next
// version for the repository. Earlier versions are kept.
func (s *pipelineService) Create(req *CreateRequest) (*models.Pipeline, error) {
	if _, err := pipelineconfig.Parse(req.Config); err != nil {
		return nil, err
	}

	if req.Schedule != "" {
		if _, err := cron.ParseStandard(req.Schedule); err != nil {
			return nil, errors.Wrapf(err, "invalid schedule %q", req.Schedule)
		}
	}

	q := s.db.WithContext(s.ctx)

	var repo models.Repository
	if err := q.First(&repo, req.RepositoryID).Error; err != nil {
		return nil, errors.Wrap(err, "load repository")
	}

	var version int
	if err := q.Model(&models.Pipeline{}).
		Where("repository_id = ?", repo.ID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error; err != nil {
		return nil, err
	}

	pipeline := &models.Pipeline{
		RepositoryID:         repo.ID,
		Version:              version + 1,
		Config:               req.Config,
		Status:               models.PipelineStatusDraft,
		DeploymentServer:     req.DeploymentServer,
		EnvironmentVariables: datatypes.JSONMap(req.EnvironmentVariables),
		Schedule:             req.Schedule,
		NotifyURL:            req.NotifyURL,
	}

	if err := q.Create(pipeline).Error; err != nil {
		return nil, err
	}

	if repo.Status == models.RepositoryStatusPending || repo.Status == models.RepositoryStatusMigrated {
		if err := q.Model(&repo).
			Update("status", models.RepositoryStatusGenerated).Error; err != nil {
			log.Warn("advance repository status", "repository_id", repo.ID, "error", err)
		}
	}

	log.Info(
		"pipeline created",
		"pipeline_id", pipeline.ID,
		"repository_id", repo.ID,
		"version", pipeline.Version,
	)

	return pipeline, nil
}

func (s *pipelineService) Delete(id int64) error {
	return s.db.WithContext(s.ctx).Delete(&models.Pipeline{}, id).Error
}

type TestResult struct {
	Passed bool   `json:"passed"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RecordTest stores the outcome of a local test run against a
// draft configuration.
func (s *pipelineService) RecordTest(id int64, result *TestResult) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	q := s.db.WithContext(s.ctx)

	if err := q.First(&pipeline, id).Error; err != nil {
		return nil, err
	}

	status := models.PipelineStatusFailed
	if result.Passed {
		status = models.PipelineStatusSuccess
	}

	updates := map[string]interface{}{
		"status":        status,
		"test_output":   result.Output,
		"error_message": result.Error,
	}
	if err := q.Model(&pipeline).Updates(updates).Error; err != nil {
		return nil, err
	}

	if result.Passed {
		if err := q.Model(&models.Repository{}).
			Where("id = ?", pipeline.RepositoryID).
			Update("status", models.RepositoryStatusTesting).Error; err != nil {
			log.Warn("advance repository status", "repository_id", pipeline.RepositoryID, "error", err)
		}
	}

	return &pipeline, nil
}
