package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pipewright/pipewright/internal/event"
	"github.com/pipewright/pipewright/internal/execution"
	"github.com/pipewright/pipewright/internal/metrics"
	"github.com/pipewright/pipewright/internal/models"
	"github.com/pipewright/pipewright/internal/notify"
	"github.com/pipewright/pipewright/internal/provider"
	"github.com/pipewright/pipewright/pkg/log"
)

const (
	// DefaultInterval is the delay between provider polls.
	DefaultInterval = 5 * time.Second
	// DefaultMaxIterations bounds a loop to roughly ten
	// minutes of wall clock at the default interval.
	DefaultMaxIterations = 120
)

// Spec identifies the execution a relay loop tracks and the
// provider coordinates needed to poll it.
type Spec struct {
	PipelineID  int64
	ExecutionID int64
	Repo        provider.Repo
	RunUUID     string
	StartedAt   time.Time
	NotifyURL   string
}

// snapshot is the per-step state a loop retains between
// polls. It exists only in loop memory and is superseded on
// every cycle.
type snapshot struct {
	state  string
	logLen int
}

type loop struct {
	cancel context.CancelFunc
	subs   int
}

// Relay runs one polling loop per tracked execution. Loops
// share nothing but the provider client, the record store,
// and the bus; each loop's snapshot map is private.
type Relay struct {
	client   provider.Client
	store    *execution.Store
	bus      event.Bus
	notifier *notify.Notifier

	interval      time.Duration
	maxIterations int

	mu    sync.Mutex
	loops map[int64]*loop
}

// Option adjusts relay behavior.
type Option func(*Relay)

// WithInterval overrides the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithMaxIterations overrides the iteration ceiling.
func WithMaxIterations(n int) Option {
	return func(r *Relay) { r.maxIterations = n }
}

// WithNotifier enables terminal webhook notices.
func WithNotifier(n *notify.Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

// New constructs a relay.
func New(client provider.Client, store *execution.Store, bus event.Bus, opts ...Option) *Relay {
	r := &Relay{
		client:        client,
		store:         store,
		bus:           bus,
		interval:      DefaultInterval,
		maxIterations: DefaultMaxIterations,
		loops:         make(map[int64]*loop),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Acquire registers a subscriber for an execution, starting
// its polling loop if none is running yet.
func (r *Relay) Acquire(spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loops[spec.ExecutionID]; ok {
		l.subs++
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.loops[spec.ExecutionID] = &loop{cancel: cancel, subs: 1}
	metrics.RelaySessionsActive.Inc()

	go func() {
		defer r.finish(spec.ExecutionID)
		r.run(ctx, spec)
	}()
}

// Release drops one subscriber; the loop is cancelled when
// the last subscriber leaves.
func (r *Relay) Release(executionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.loops[executionID]
	if !ok {
		return
	}

	l.subs--
	if l.subs <= 0 {
		l.cancel()
	}
}

// Tracking reports whether a loop is running for the
// execution.
func (r *Relay) Tracking(executionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.loops[executionID]
	return ok
}

func (r *Relay) finish(executionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.loops[executionID]; ok {
		l.cancel()
		delete(r.loops, executionID)
	}
	metrics.RelaySessionsActive.Dec()
}

// run polls the provider until the execution completes, the
// iteration ceiling is hit, a fetch fails, or the last
// subscriber cancels the context.
func (r *Relay) run(ctx context.Context, spec Spec) {
	prevSteps := make(map[string]snapshot)
	prevStatus := models.Status("")

	if exec, err := r.store.Get(ctx, spec.ExecutionID); err == nil {
		prevStatus = exec.Status
	}

	for i := 0; i < r.maxIterations; i++ {
		select {
		case <-ctx.Done():
			// explicit unsubscribe: stop silently
			return
		default:
		}

		run, err := r.client.GetRun(ctx, spec.Repo, spec.RunUUID)
		if err != nil {
			r.streamError(spec, err)
			return
		}

		steps, err := r.client.ListSteps(ctx, spec.Repo, spec.RunUUID)
		if err != nil {
			r.streamError(spec, err)
			return
		}

		status := r.translate(run, steps, prevStatus)
		elapsed := int(time.Since(spec.StartedAt).Seconds())

		if deltas := diffSteps(prevSteps, steps); len(deltas) > 0 {
			r.publish(spec, event.TypeLogDelta, Delta{
				Steps:          deltas,
				Status:         status,
				ElapsedSeconds: elapsed,
			})
		}

		if status != prevStatus {
			if !status.Terminal() {
				if err := r.store.SetStatus(ctx, spec.ExecutionID, status); err != nil {
					log.Error("persist status", "execution_id", spec.ExecutionID, "error", err)
				}
			}

			r.publish(spec, event.TypeStatusChanged, StatusChange{
				Previous: prevStatus,
				Current:  status,
				Final:    status.Terminal(),
			})
		}

		if status.Terminal() {
			r.complete(spec, status, steps)
			return
		}

		prevSteps = snapshots(steps)
		prevStatus = status

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
		}
	}

	r.publish(spec, event.TypeTimeout, TimeoutNotice{
		ElapsedSeconds: int(time.Since(spec.StartedAt).Seconds()),
	})
}

// translate maps the provider run state into the local
// vocabulary, promoting in-flight runs to TESTING/DEPLOYING
// while a test or deploy step is running. Unknown provider
// states keep the previous status rather than guessing.
func (r *Relay) translate(run *provider.Run, steps []provider.Step, prev models.Status) models.Status {
	status, ok := models.StatusFromProvider(run.State)
	if !ok {
		if prev != "" {
			return prev
		}
		return models.StatusBuilding
	}

	for _, step := range steps {
		if s, ok := models.StatusFromProvider(step.State); ok && !s.Terminal() {
			return models.RefineInProgress(status, step.Name)
		}
	}

	return status
}

func (r *Relay) complete(spec Spec, status models.Status, steps []provider.Step) {
	logs, errorMessage := finalLogs(steps, status)

	records := make([]*models.ExecutionStep, 0, len(steps))
	for _, step := range steps {
		records = append(records, &models.ExecutionStep{
			Name:        step.Name,
			State:       step.State,
			StartedOn:   step.StartedOn,
			CompletedOn: step.CompletedOn,
			Log:         step.Log,
		})
	}

	// detached context: completion must persist even when the
	// subscriber has just disconnected
	if err := r.store.Complete(context.Background(), spec.ExecutionID, status, logs, errorMessage, records); err != nil {
		log.Error("persist terminal execution", "execution_id", spec.ExecutionID, "error", err)
		return
	}

	duration := int(time.Since(spec.StartedAt).Seconds())
	metrics.ExecutionsTotal.WithLabelValues(string(status)).Inc()
	metrics.ExecutionDurationSeconds.WithLabelValues(string(status)).Observe(float64(duration))

	if r.notifier != nil && spec.NotifyURL != "" {
		notice := notify.Notice{
			PipelineID:      spec.PipelineID,
			ExecutionID:     spec.ExecutionID,
			Status:          status,
			DurationSeconds: duration,
			ErrorMessage:    errorMessage,
		}
		if err := r.notifier.Notify(context.Background(), spec.NotifyURL, notice); err != nil {
			log.Error("terminal webhook", "execution_id", spec.ExecutionID, "url", spec.NotifyURL, "error", err)
		}
	}
}

func (r *Relay) streamError(spec Spec, err error) {
	log.Error(
		"relay fetch failure",
		"pipeline_id", spec.PipelineID,
		"execution_id", spec.ExecutionID,
		"error", err,
	)

	r.publish(spec, event.TypeStreamError, StreamError{Message: err.Error()})
}

func (r *Relay) publish(spec Spec, t event.Type, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal relay message", "type", t, "error", err)
		return
	}

	metrics.RelayMessagesTotal.WithLabelValues(string(t)).Inc()

	r.bus.Publish(event.Event{
		Type:        t,
		PipelineID:  spec.PipelineID,
		ExecutionID: spec.ExecutionID,
		Timestamp:   time.Now().UTC(),
		Payload:     data,
	})
}

// diffSteps returns the steps that are new or whose state
// changed since the previous poll, in provider order. A step
// whose log grew but whose state held is not included; that
// bounds payload size on long-running steps.
func diffSteps(prev map[string]snapshot, steps []provider.Step) []StepDelta {
	deltas := make([]StepDelta, 0)

	for _, step := range steps {
		before, seen := prev[step.Name]

		isNew := !seen
		stateChanged := seen && before.state != step.State
		if !isNew && !stateChanged {
			continue
		}

		deltas = append(deltas, StepDelta{
			Name:         step.Name,
			State:        step.State,
			IsNew:        isNew,
			StateChanged: stateChanged,
			StartedOn:    step.StartedOn,
			CompletedOn:  step.CompletedOn,
			Log:          step.Log,
		})
	}

	return deltas
}

func snapshots(steps []provider.Step) map[string]snapshot {
	m := make(map[string]snapshot, len(steps))
	for _, step := range steps {
		m[step.Name] = snapshot{state: step.State, logLen: len(step.Log)}
	}
	return m
}

// finalLogs concatenates step logs into the single blob
// persisted on the terminal transition, and derives the error
// message for failed executions from the first failed step.
func finalLogs(steps []provider.Step, status models.Status) (string, string) {
	var (
		b            strings.Builder
		errorMessage string
	)

	for _, step := range steps {
		fmt.Fprintf(&b, "=== Step: %s (%s) ===\n", step.Name, step.State)
		if step.Log != "" {
			b.WriteString(step.Log)
			if !strings.HasSuffix(step.Log, "\n") {
				b.WriteByte('\n')
			}
		}

		if errorMessage == "" {
			if s, ok := models.StatusFromProvider(step.State); ok && s == models.StatusFailed {
				errorMessage = fmt.Sprintf("step %q failed", step.Name)
			}
		}
	}

	if status == models.StatusFailed && errorMessage == "" {
		errorMessage = "pipeline failed"
	}
	if status != models.StatusFailed {
		errorMessage = ""
	}

	return b.String(), errorMessage
}
