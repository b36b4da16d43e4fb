package execution

import (
	"context"
	"time"

	"github.com/pipewright/pipewright/internal/models"
	"gorm.io/gorm"
)

// MaxPerPage caps the execution summary page size.
const MaxPerPage = 50

// Store persists execution records. An execution row is
// written at most twice in its lifetime: once on creation and
// once on the terminal transition; in between only its status
// column moves.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new execution record.
func (s *Store) Create(ctx context.Context, exec *models.Execution) error {
	return s.db.WithContext(ctx).Create(exec).Error
}

// Get fetches one execution with its persisted steps.
func (s *Store) Get(ctx context.Context, id int64) (*models.Execution, error) {
	exec := &models.Execution{}

	err := s.db.WithContext(ctx).
		Preload("Steps").
		First(exec, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return exec, nil
}

// GetForPipeline fetches one execution scoped to a pipeline.
func (s *Store) GetForPipeline(ctx context.Context, pipelineID, id int64) (*models.Execution, error) {
	exec := &models.Execution{}

	err := s.db.WithContext(ctx).
		Preload("Steps").
		First(exec, "id = ? AND pipeline_id = ?", id, pipelineID).Error
	if err != nil {
		return nil, err
	}

	return exec, nil
}

// Latest returns the most recently started execution for a
// pipeline, or gorm.ErrRecordNotFound when it has none.
func (s *Store) Latest(ctx context.Context, pipelineID int64) (*models.Execution, error) {
	exec := &models.Execution{}

	err := s.db.WithContext(ctx).
		Preload("Steps").
		Where("pipeline_id = ?", pipelineID).
		Order("started_at DESC, id DESC").
		First(exec).Error
	if err != nil {
		return nil, err
	}

	return exec, nil
}

// ListRequest filters and paginates executions of one
// pipeline. Page is 1-indexed; PerPage is clamped to
// MaxPerPage. A page beyond the last yields an empty list,
// not an error.
type ListRequest struct {
	PipelineID int64
	Status     models.Status
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}

// PageInfo is the pagination metadata returned with a list.
type PageInfo struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
}

func (s *Store) List(ctx context.Context, req *ListRequest) (models.Executions, *PageInfo, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}

	perPage := req.PerPage
	if perPage < 1 {
		perPage = MaxPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	q := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("pipeline_id = ?", req.PipelineID)

	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.From != nil {
		q = q.Where("started_at >= ?", *req.From)
	}
	if req.To != nil {
		q = q.Where("started_at <= ?", *req.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	pages := int((total + int64(perPage) - 1) / int64(perPage))

	execs := make(models.Executions, 0)
	err := q.Order("started_at DESC, id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&execs).Error
	if err != nil {
		return nil, nil, err
	}

	return execs, &PageInfo{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
	}, nil
}

// SetStatus records an observed non-terminal status change.
// Rows that already reached a terminal status are left alone.
func (s *Store) SetStatus(ctx context.Context, id int64, status models.Status) error {
	return s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ? AND completed_at IS NULL", id).
		Update("status", status).Error
}

// Complete performs the terminal transition: final status,
// log blob, steps, completion time and derived duration, all
// in one write. Completing an already-completed execution is
// a no-op, which keeps the terminal state idempotent when
// more than one relay loop observes the same run.
func (s *Store) Complete(ctx context.Context, id int64, status models.Status, logs, errorMessage string, steps []*models.ExecutionStep) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exec := &models.Execution{}
		if err := tx.First(exec, "id = ?", id).Error; err != nil {
			return err
		}

		if exec.CompletedAt != nil {
			return nil
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":           status,
			"logs":             logs,
			"completed_at":     now,
			"duration_seconds": int(now.Sub(exec.StartedAt).Seconds()),
		}
		if status == models.StatusFailed {
			updates["error_message"] = errorMessage
		}

		if err := tx.Model(exec).Updates(updates).Error; err != nil {
			return err
		}

		for _, step := range steps {
			step.ExecutionID = id
		}

		if len(steps) > 0 {
			if err := tx.Create(steps).Error; err != nil {
				return err
			}
		}

		return nil
	})
}
