package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pipewright/pipewright/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(pipelines models.Pipelines) (*Scheduler, *triggerRecorder) {
	rec := &triggerRecorder{}
	s := New()
	s.list = func(ctx context.Context) (models.Pipelines, error) {
		return pipelines, nil
	}
	s.trigger = rec.trigger
	return s, rec
}

type triggerRecorder struct {
	mu  sync.Mutex
	ids []int64
}

func (r *triggerRecorder) trigger(ctx context.Context, pipelineID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, pipelineID)
	return nil
}

func TestSyncStartsAndStopsListeners(t *testing.T) {
	pipelines := models.Pipelines{
		{ID: 1, Schedule: "0 4 * * *"},
		{ID: 2, Schedule: "not a schedule"},
	}
	s, _ := newScheduler(pipelines)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.sync(ctx)
	assert.True(t, s.Tracking(1))
	assert.False(t, s.Tracking(2))

	// pipeline 1 loses its schedule on the next reload
	s.list = func(ctx context.Context) (models.Pipelines, error) {
		return models.Pipelines{}, nil
	}
	s.sync(ctx)
	assert.False(t, s.Tracking(1))
}

func TestSyncRestartsOnScheduleChange(t *testing.T) {
	s, _ := newScheduler(models.Pipelines{{ID: 1, Schedule: "0 4 * * *"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.sync(ctx)
	require.True(t, s.Tracking(1))
	first := s.entries[1]

	s.list = func(ctx context.Context) (models.Pipelines, error) {
		return models.Pipelines{{ID: 1, Schedule: "30 4 * * *"}}, nil
	}
	s.sync(ctx)
	require.True(t, s.Tracking(1))
	assert.NotSame(t, first, s.entries[1])
}

func TestListenFires(t *testing.T) {
	s, rec := newScheduler(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a schedule whose next tick is always immediate
	go s.listen(ctx, 42, immediateSchedule{})

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.ids) > 0 && rec.ids[0] == 42
	}, 5*time.Second, time.Millisecond)
}

type immediateSchedule struct{}

func (immediateSchedule) Next(t time.Time) time.Time { return t }
