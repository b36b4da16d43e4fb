package models

import (
	"time"

	"gorm.io/datatypes"
)

// Pipeline statuses reflect the local test lifecycle of a
// configuration version, not the provider-side execution
// lifecycle (see Status for that).
const (
	PipelineStatusDraft   = "draft"
	PipelineStatusSuccess = "success"
	PipelineStatusFailed  = "failed"
)

// Pipeline is one version of a bitbucket-pipelines.yml
// configuration for a repository.
type Pipeline struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	RepositoryID int64  `gorm:"index;not null" json:"repository_id"`
	Version      int    `gorm:"not null;default:1" json:"version"`
	Config       string `gorm:"type:text;not null" json:"config"`
	Status       string `gorm:"type:text;not null;default:draft" json:"status"`

	DeploymentServer     string            `json:"deployment_server,omitempty"`
	EnvironmentVariables datatypes.JSONMap `gorm:"type:json" json:"environment_variables,omitempty"`

	// Schedule is an optional cron expression; scheduled
	// pipelines are triggered automatically with
	// trigger_type "scheduled".
	Schedule string `json:"schedule,omitempty"`

	// NotifyURL is POSTed to once when an execution of this
	// pipeline reaches a terminal status.
	NotifyURL string `json:"notify_url,omitempty"`

	TestOutput   string `json:"test_output,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	Repository *Repository  `gorm:"foreignKey:RepositoryID" json:"repository,omitempty"`
	Executions []*Execution `gorm:"foreignKey:PipelineID;constraint:OnDelete:CASCADE" json:"executions,omitempty"`
}

type Pipelines []*Pipeline
