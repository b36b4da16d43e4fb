package relay

import (
	"time"

	"github.com/pipewright/pipewright/internal/models"
)

// StepDelta describes one step that is new or whose state
// changed since the previous poll. The step's full log text
// rides along whenever the step is included; steps that did
// not change are omitted from the message entirely.
type StepDelta struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	IsNew        bool       `json:"is_new"`
	StateChanged bool       `json:"state_changed"`
	StartedOn    *time.Time `json:"started_on,omitempty"`
	CompletedOn  *time.Time `json:"completed_on,omitempty"`
	Log          string     `json:"log,omitempty"`
}

// Delta is the payload of a log_delta event.
type Delta struct {
	Steps          []StepDelta   `json:"steps"`
	Status         models.Status `json:"status"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
}

// StatusChange is the payload of a status_changed event.
// Final is set when the new status is terminal.
type StatusChange struct {
	Previous models.Status `json:"previous_status"`
	Current  models.Status `json:"current_status"`
	Final    bool          `json:"final"`
}

// StreamError is the payload of a stream_error event. It
// tells subscribers the stream broke, which is distinct from
// the pipeline itself failing.
type StreamError struct {
	Message string `json:"message"`
}

// TimeoutNotice is the payload of a timeout event. The
// execution record is left in its last observed status; the
// provider may still be running.
type TimeoutNotice struct {
	ElapsedSeconds int `json:"elapsed_seconds"`
}

// Subscription is the payload of subscribed and unsubscribed
// events.
type Subscription struct {
	PipelineID  int64 `json:"pipeline_id"`
	ExecutionID int64 `json:"execution_id,omitempty"`
}
