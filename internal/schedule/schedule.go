// Package schedule fires scheduled pipelines on their cron
// expressions.
package schedule

import (
	"context"
	"sync"
	"time"

	esvc "github.com/pipewright/pipewright/api/rest/service/execution"
	psvc "github.com/pipewright/pipewright/api/rest/service/pipeline"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/pkg/log"
	"github.com/robfig/cron"
)

// DefaultReloadInterval is how often the scheduler re-reads
// the pipeline table to pick up new, changed, or removed
// schedules.
const DefaultReloadInterval = time.Minute

type Scheduler struct {
	reload time.Duration

	mu      sync.Mutex
	entries map[int64]*entry

	list    func(context.Context) (models.Pipelines, error)
	trigger func(context.Context, int64) error
}

type entry struct {
	schedule string
	cancel   context.CancelFunc
}

func New() *Scheduler {
	return &Scheduler{
		reload:  DefaultReloadInterval,
		entries: make(map[int64]*entry),
		list: func(ctx context.Context) (models.Pipelines, error) {
			return psvc.Service(ctx).List(&psvc.ListRequest{Scheduled: true})
		},
		trigger: func(ctx context.Context, pipelineID int64) error {
			_, err := esvc.Service(ctx).Trigger(&esvc.TriggerRequest{
				PipelineID:  pipelineID,
				TriggerType: models.TriggerTypeScheduled,
			})
			return err
		},
	}
}

// Run blocks until the context is cancelled, keeping one
// listener goroutine per scheduled pipeline.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info("scheduler starting", "reload_interval", s.reload)

	s.sync(ctx)

	ticker := time.NewTicker(s.reload)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

func (s *Scheduler) sync(ctx context.Context) {
	pipelines, err := s.list(ctx)
	if err != nil {
		log.Error("load scheduled pipelines", "error", err)
		return
	}

	seen := make(map[int64]bool, len(pipelines))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pipeline := range pipelines {
		seen[pipeline.ID] = true

		if e, ok := s.entries[pipeline.ID]; ok {
			if e.schedule == pipeline.Schedule {
				continue
			}
			// schedule changed: restart the listener
			e.cancel()
			delete(s.entries, pipeline.ID)
		}

		sched, err := cron.ParseStandard(pipeline.Schedule)
		if err != nil {
			log.Warn(
				"skipping pipeline with invalid schedule",
				"pipeline_id", pipeline.ID,
				"schedule", pipeline.Schedule,
				"error", err,
			)
			continue
		}

		listenCtx, cancel := context.WithCancel(ctx)
		s.entries[pipeline.ID] = &entry{schedule: pipeline.Schedule, cancel: cancel}
		go s.listen(listenCtx, pipeline.ID, sched)
	}

	for id, e := range s.entries {
		if !seen[id] {
			e.cancel()
			delete(s.entries, id)
		}
	}
}

func (s *Scheduler) listen(ctx context.Context, pipelineID int64, sched cron.Schedule) {
	for {
		select {
		case <-time.After(time.Until(sched.Next(time.Now()))):
			log.Info("scheduled trigger firing", "pipeline_id", pipelineID)
			if err := s.trigger(ctx, pipelineID); err != nil {
				log.Error(
					"scheduled trigger failure",
					"pipeline_id", pipelineID,
					"error", err,
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		e.cancel()
		delete(s.entries, id)
	}
}

// Tracking reports whether a listener exists for the
// pipeline.
func (s *Scheduler) Tracking(pipelineID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[pipelineID]
	return ok
}
