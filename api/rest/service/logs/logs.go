package logs

import (
	"context"
	"strings"
	"sync"
	"time"

	exstorage "github.com/pipewright/pipewright/internal/execution"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/db"
	"gorm.io/gorm"
)

type Logs interface {
	WithDatabase(*gorm.DB) Logs
	Query(*QueryRequest) (*QueryResponse, error)
}

type logsService struct {
	ctx context.Context
	db  *gorm.DB
}

var (
	defaultService   *logsService
	defaultServiceMu sync.Mutex
)

func Service(ctx context.Context) Logs {
	defaultServiceMu.Lock()
	defer defaultServiceMu.Unlock()
	if defaultService != nil {
		return &logsService{ctx: ctx, db: defaultService.db}
	}
	return &logsService{ctx: ctx, db: db.Connection()}
}

func (s *logsService) WithDatabase(conn *gorm.DB) Logs {
	s.db = conn
	return s
}

// QueryRequest selects logs along two axes: which execution
// (a specific one, or the latest for the pipeline when
// ExecutionID is zero) and which steps (all, or only those
// whose name or log text contains StepFilter). The
// status/date/page fields filter and paginate the summary
// list of the pipeline's executions; they never affect which
// execution is resolved for the detail portion.
type QueryRequest struct {
	PipelineID  int64
	ExecutionID int64
	StepFilter  string

	Status  models.Status
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}

type StepLogs struct {
	Name        string     `json:"name"`
	State       string     `json:"state"`
	StartedOn   *time.Time `json:"started_on,omitempty"`
	CompletedOn *time.Time `json:"completed_on,omitempty"`
	Log         string     `json:"log,omitempty"`
}

type QueryResponse struct {
	ExecutionID     int64         `json:"execution_id"`
	PipelineID      int64         `json:"pipeline_id"`
	Status          models.Status `json:"status"`
	BuildNumber     int           `json:"build_number,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`

	// Logs carries the full blob when no step filter is set.
	Logs string `json:"logs,omitempty"`

	// Steps is present only for filtered queries. An empty
	// slice means the filter matched nothing.
	StepFilter string      `json:"step_filter,omitempty"`
	Steps      []*StepLogs `json:"steps,omitempty"`

	// Executions summarizes the pipeline's other executions
	// under the status/date filters. A page past the end is
	// an empty list with correct totals.
	Executions []*ExecutionSummary `json:"executions"`
	Pagination *exstorage.PageInfo `json:"pagination"`
}

// ExecutionSummary is the list-portion view of an execution,
// without logs or steps.
type ExecutionSummary struct {
	ID              int64         `json:"id"`
	Status          models.Status `json:"status"`
	TriggerType     string        `json:"trigger_type"`
	BuildNumber     int           `json:"build_number,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	DurationSeconds int           `json:"duration_seconds,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
}

func (s *logsService) Query(req *QueryRequest) (*QueryResponse, error) {
	store := exstorage.NewStore(s.db)

	var (
		exec *models.Execution
		err  error
	)

	switch {
	case req.ExecutionID != 0 && req.PipelineID != 0:
		exec, err = store.GetForPipeline(s.ctx, req.PipelineID, req.ExecutionID)
	case req.ExecutionID != 0:
		exec, err = store.Get(s.ctx, req.ExecutionID)
	default:
		exec, err = store.Latest(s.ctx, req.PipelineID)
	}
	if err != nil {
		return nil, err
	}

	resp := &QueryResponse{
		ExecutionID:     exec.ID,
		PipelineID:      exec.PipelineID,
		Status:          exec.Status,
		BuildNumber:     exec.BuildNumber,
		StartedAt:       exec.StartedAt,
		CompletedAt:     exec.CompletedAt,
		DurationSeconds: exec.DurationSeconds,
		ErrorMessage:    exec.ErrorMessage,
	}

	if req.StepFilter == "" {
		resp.Logs = exec.Logs
	} else {
		resp.StepFilter = req.StepFilter
		resp.Steps = filterSteps(exec.Steps, req.StepFilter)
	}

	execs, page, err := store.List(s.ctx, &exstorage.ListRequest{
		PipelineID: exec.PipelineID,
		Status:     req.Status,
		From:       req.From,
		To:         req.To,
		Page:       req.Page,
		PerPage:    req.PerPage,
	})
	if err != nil {
		return nil, err
	}

	resp.Pagination = page
	resp.Executions = make([]*ExecutionSummary, 0, len(execs))
	for _, e := range execs {
		resp.Executions = append(resp.Executions, &ExecutionSummary{
			ID:              e.ID,
			Status:          e.Status,
			TriggerType:     e.TriggerType,
			BuildNumber:     e.BuildNumber,
			StartedAt:       e.StartedAt,
			CompletedAt:     e.CompletedAt,
			DurationSeconds: e.DurationSeconds,
			ErrorMessage:    e.ErrorMessage,
		})
	}

	return resp, nil
}

// filterSteps keeps steps whose name or log text contains the
// filter, case-insensitively, in execution order.
func filterSteps(steps []*models.ExecutionStep, filter string) []*StepLogs {
	needle := strings.ToLower(filter)
	out := make([]*StepLogs, 0)

	for _, step := range steps {
		if !strings.Contains(strings.ToLower(step.Name), needle) &&
			!strings.Contains(strings.ToLower(step.Log), needle) {
			continue
		}
		out = append(out, &StepLogs{
			Name:        step.Name,
			State:       step.State,
			StartedOn:   step.StartedOn,
			CompletedOn: step.CompletedOn,
			Log:         step.Log,
		})
	}

	return out
}
