package models

import "time"

// Trigger provenance tags. Informational only; no behavior
// hangs off them.
const (
	TriggerTypeManual    = "manual"
	TriggerTypeWebhook   = "webhook"
	TriggerTypeScheduled = "scheduled"
)

// Execution is one triggered run of a pipeline, tracked from
// the provider-side trigger call to its terminal status.
//
// CompletedAt is null exactly while Status is non-terminal.
// Logs and Steps are written once, on the terminal
// transition, to bound write volume during polling.
type Execution struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PipelineID int64  `gorm:"index;not null" json:"pipeline_id"`
	Status     Status `gorm:"type:text;index;not null" json:"status"`

	TriggerType string `gorm:"type:text;not null;default:manual" json:"trigger_type"`

	BuildNumber   int    `json:"build_number,omitempty"`
	ProviderRunID string `gorm:"type:text;index" json:"provider_run_id,omitempty"`
	CommitHash    string `json:"commit_hash,omitempty"`

	Logs         string `gorm:"type:text" json:"logs,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	StartedAt       time.Time  `gorm:"not null;index" json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	Steps []*ExecutionStep `gorm:"foreignKey:ExecutionID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`
}

type Executions []*Execution

// ExecutionStep is the persisted form of a provider step,
// written alongside the final log blob when its execution
// completes.
type ExecutionStep struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID int64      `gorm:"index;not null" json:"execution_id"`
	Name        string     `gorm:"not null" json:"name"`
	State       string     `gorm:"type:text;not null" json:"state"`
	StartedOn   *time.Time `json:"started_on,omitempty"`
	CompletedOn *time.Time `json:"completed_on,omitempty"`
	Log         string     `gorm:"type:text" json:"log,omitempty"`
}
