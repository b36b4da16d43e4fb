package repository

import (
	"context"
	"sync"

	"github.com/pipewright/pipewright/internal/mirror"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/db"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type Repository interface {
	WithDatabase(*gorm.DB) Repository
	SetMirror(mirror.Mirror)
	List(*ListRequest) (models.Repositories, error)
	Get(int64) (*models.Repository, error)
	Create(*CreateRequest) (*models.Repository, error)
	Delete(int64) error
	Mirror(int64) (*models.Repository, error)
}

type repositoryService struct {
	ctx    context.Context
	db     *gorm.DB
	mirror mirror.Mirror
}

var (
	defaultService   *repositoryService
	defaultServiceMu sync.Mutex
)

func Service(ctx context.Context) Repository {
	defaultServiceMu.Lock()
	defer defaultServiceMu.Unlock()
	if defaultService != nil {
		return &repositoryService{
			ctx:    ctx,
			db:     defaultService.db,
			mirror: defaultService.mirror,
		}
	}
	return &repositoryService{ctx: ctx, db: db.Connection()}
}

func (s *repositoryService) WithDatabase(conn *gorm.DB) Repository {
	s.db = conn
	return s
}

func (s *repositoryService) SetMirror(m mirror.Mirror) {
	s.mirror = m
	defaultServiceMu.Lock()
	defer defaultServiceMu.Unlock()
	if defaultService == nil {
		defaultService = &repositoryService{db: s.db}
	}
	defaultService.mirror = m
}

type ListRequest struct {
	Status string
	Source string
}

func (s *repositoryService) List(req *ListRequest) (models.Repositories, error) {
	var (
		repos = make(models.Repositories, 0)
		q     = s.db.WithContext(s.ctx)
	)

	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.Source != "" {
		q = q.Where("source = ?", req.Source)
	}

	return repos, q.Order("name").Find(&repos).Error
}

func (s *repositoryService) Get(id int64) (*models.Repository, error) {
	var repo models.Repository
	err := s.db.WithContext(s.ctx).
		Preload("Pipelines").
		First(&repo, id).Error
	return &repo, err
}

type CreateRequest struct {
	Name               string `json:"name"`
	Source             string `json:"source"`
	SourceRepoURL      string `json:"source_repo_url,omitempty"`
	BitbucketWorkspace string `json:"bitbucket_workspace"`
	BitbucketRepoURL   string `json:"bitbucket_repo_url,omitempty"`
	DefaultBranch      string `json:"default_branch,omitempty"`
}

func (s *repositoryService) Create(req *CreateRequest) (*models.Repository, error) {
	if req.Name == "" {
		return nil, errors.New("repository name is required")
	}
	if req.BitbucketWorkspace == "" {
		return nil, errors.New("bitbucket workspace is required")
	}

	branch := req.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	repo := &models.Repository{
		Name:               req.Name,
		Source:             req.Source,
		SourceRepoURL:      req.SourceRepoURL,
		BitbucketWorkspace: req.BitbucketWorkspace,
		BitbucketRepoURL:   req.BitbucketRepoURL,
		DefaultBranch:      branch,
		Status:             models.RepositoryStatusPending,
	}

	if err := s.db.WithContext(s.ctx).Create(repo).Error; err != nil {
		return nil, err
	}

	log.Info("repository registered", "repository_id", repo.ID, "name", repo.Name)

	return repo, nil
}

func (s *repositoryService) Delete(id int64) error {
	return s.db.WithContext(s.ctx).Select("Pipelines").Delete(&models.Repository{ID: id}).Error
}

// Mirror pushes the source repository to its Bitbucket remote
// and marks the record migrated.
func (s *repositoryService) Mirror(id int64) (*models.Repository, error) {
	if s.mirror == nil {
		return nil, errors.New("no mirror backend configured")
	}

	var repo models.Repository
	q := s.db.WithContext(s.ctx)

	if err := q.First(&repo, id).Error; err != nil {
		return nil, err
	}
	if repo.SourceRepoURL == "" || repo.BitbucketRepoURL == "" {
		return nil, errors.Errorf("repository %d is missing a source or mirror URL", repo.ID)
	}

	if err := s.mirror.Push(s.ctx, repo.SourceRepoURL, repo.BitbucketRepoURL); err != nil {
		return nil, errors.Wrap(err, "mirror repository")
	}

	if err := q.Model(&repo).
		Update("status", models.RepositoryStatusMigrated).Error; err != nil {
		return nil, err
	}

	log.Info("repository mirrored", "repository_id", repo.ID, "target", repo.BitbucketRepoURL)

	return &repo, nil
}
