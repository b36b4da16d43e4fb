package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	exstorage "github.com/pipewright/pipewright/internal/execution"
	"github.com/pipewright/pipewright/internal/metrics"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/provider"
	"github.com/pipewright/pipewright/internal/relay"
	"github.com/pipewright/pipewright/pkg/db"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// DefaultMaxRetries bounds the re-trigger attempts after the
// first failed provider call. With the 1s initial wait and
// doubling, the default schedule is 1s, 2s, 4s.
const DefaultMaxRetries = 3

type Execution interface {
	WithDatabase(*gorm.DB) Execution
	SetProvider(provider.Client)
	SetRelay(*relay.Relay)
	Trigger(*TriggerRequest) (*models.Execution, error)
	List(*ListRequest) (models.Executions, *exstorage.PageInfo, error)
	Get(int64) (*models.Execution, error)
	GetForPipeline(pipelineID, id int64) (*models.Execution, error)
}

type executionService struct {
	ctx           context.Context
	db            *gorm.DB
	client        provider.Client
	relay         *relay.Relay
	retryInterval time.Duration
}

var (
	defaultService   *executionService
	defaultServiceMu sync.Mutex
)

func Service(ctx context.Context) Execution {
	defaultServiceMu.Lock()
	defer defaultServiceMu.Unlock()
	if defaultService != nil {
		return &executionService{
			ctx:           ctx,
			db:            defaultService.db,
			client:        defaultService.client,
			relay:         defaultService.relay,
			retryInterval: defaultService.retryInterval,
		}
	}
	return &executionService{
		ctx:           ctx,
		db:            db.Connection(),
		retryInterval: time.Second,
	}
}

func (s *executionService) WithDatabase(conn *gorm.DB) Execution {
	s.db = conn
	return s
}

func (s *executionService) SetProvider(client provider.Client) {
	s.client = client
	defaultServiceMu.Lock()
	defer defaultServiceMu.Unlock()
	if defaultService == nil {
		defaultService = &executionService{db: s.db, retryInterval: time.Second}
	}
	defaultService.client = client
}

func (s *executionService) SetRelay(r *relay.Relay) {
	s.relay = r
	defaultServiceMu.Lock()
	defer defaultServiceMu.Unlock()
	if defaultService == nil {
		defaultService = &executionService{db: s.db, retryInterval: time.Second}
	}
	defaultService.relay = r
}

// TriggerFailure is returned when every trigger attempt
// failed. No execution record exists in that case.
type TriggerFailure struct {
	Attempts int
	Retries  int
	LastErr  error
}

func (e *TriggerFailure) Error() string {
	return fmt.Sprintf("pipeline trigger failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *TriggerFailure) Unwrap() error { return e.LastErr }

type TriggerRequest struct {
	PipelineID  int64
	Branch      string
	TriggerType string

	// Retry defaults to true; with it disabled a single
	// attempt is made.
	Retry      *bool
	MaxRetries *int
}

// Trigger fires the pipeline on the provider, retrying with
// exponential backoff, and records the resulting execution in
// BUILDING state. The relay loop for the execution is started
// immediately so the terminal status is persisted even if no
// client ever subscribes to the stream.
func (s *executionService) Trigger(req *TriggerRequest) (*models.Execution, error) {
	if s.client == nil {
		return nil, errors.New("no pipeline provider configured")
	}

	var pipeline models.Pipeline
	if err := s.db.WithContext(s.ctx).
		Preload("Repository").
		First(&pipeline, req.PipelineID).Error; err != nil {
		return nil, errors.Wrap(err, "load pipeline")
	}
	if pipeline.Repository == nil {
		return nil, errors.Errorf("pipeline %d has no repository", pipeline.ID)
	}

	repo := provider.Repo{
		Workspace: pipeline.Repository.BitbucketWorkspace,
		Slug:      pipeline.Repository.Slug(),
	}

	branch := req.Branch
	if branch == "" {
		branch = pipeline.Repository.DefaultBranch
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = models.TriggerTypeManual
	}

	maxRetries := DefaultMaxRetries
	if req.MaxRetries != nil && *req.MaxRetries >= 0 {
		maxRetries = *req.MaxRetries
	}
	if req.Retry != nil && !*req.Retry {
		maxRetries = 0
	}

	run, attempts, err := s.triggerWithRetry(repo, branch, maxRetries)
	if err != nil {
		log.Error(
			"pipeline trigger exhausted retries",
			"pipeline_id", pipeline.ID,
			"attempts", attempts,
			"error", err,
		)
		return nil, &TriggerFailure{Attempts: attempts, Retries: attempts - 1, LastErr: err}
	}

	exec := &models.Execution{
		PipelineID:    pipeline.ID,
		Status:        models.StatusBuilding,
		TriggerType:   triggerType,
		BuildNumber:   run.BuildNumber,
		ProviderRunID: run.UUID,
		CommitHash:    run.CommitHash,
		StartedAt:     time.Now().UTC(),
	}

	store := exstorage.NewStore(s.db)
	if err := store.Create(s.ctx, exec); err != nil {
		return nil, errors.Wrap(err, "record execution")
	}

	log.Info(
		"pipeline triggered",
		"pipeline_id", pipeline.ID,
		"execution_id", exec.ID,
		"build_number", exec.BuildNumber,
		"attempts", attempts,
	)

	if s.relay != nil {
		s.relay.Acquire(relay.Spec{
			PipelineID:  pipeline.ID,
			ExecutionID: exec.ID,
			Repo:        repo,
			RunUUID:     run.UUID,
			StartedAt:   exec.StartedAt,
			NotifyURL:   pipeline.NotifyURL,
		})
	}

	return exec, nil
}

// triggerWithRetry waits 1s, 2s, 4s, ... between attempts and
// gives up after maxRetries+1 total attempts.
func (s *executionService) triggerWithRetry(repo provider.Repo, branch string, maxRetries int) (*provider.Run, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var (
		run      *provider.Run
		attempts int
	)

	op := func() error {
		attempts++
		var err error
		run, err = s.client.Trigger(s.ctx, repo, branch)
		if err != nil {
			metrics.TriggerAttemptsTotal.WithLabelValues("failure").Inc()
			log.Warn(
				"pipeline trigger attempt failed",
				"workspace", repo.Workspace,
				"slug", repo.Slug,
				"attempt", attempts,
				"error", err,
			)
			return err
		}
		metrics.TriggerAttemptsTotal.WithLabelValues("success").Inc()
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(maxRetries)), s.ctx))
	return run, attempts, err
}

type ListRequest struct {
	PipelineID int64
	Status     models.Status
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}

func (s *executionService) List(req *ListRequest) (models.Executions, *exstorage.PageInfo, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, nil, errors.Errorf("invalid status %q", req.Status)
	}

	store := exstorage.NewStore(s.db)
	return store.List(s.ctx, &exstorage.ListRequest{
		PipelineID: req.PipelineID,
		Status:     req.Status,
		From:       req.From,
		To:         req.To,
		Page:       req.Page,
		PerPage:    req.PerPage,
	})
}

func (s *executionService) Get(id int64) (*models.Execution, error) {
	return exstorage.NewStore(s.db).Get(s.ctx, id)
}

// GetForPipeline answers the on-demand status query from the
// store alone; the provider is never consulted here.
func (s *executionService) GetForPipeline(pipelineID, id int64) (*models.Execution, error) {
	return exstorage.NewStore(s.db).GetForPipeline(s.ctx, pipelineID, id)
}
