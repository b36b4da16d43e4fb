package provider

import (
	"context"
	"time"
)

// Repo identifies a repository on the provider side.
type Repo struct {
	Workspace string
	Slug      string
}

// Run is one provider-side pipeline run. State carries the
// provider's own vocabulary; translation into the local
// status enum happens in one place (models.StatusFromProvider).
type Run struct {
	UUID        string
	BuildNumber int
	CommitHash  string
	State       string
}

// Step is a named unit of work within a run, as reported by
// the provider.
type Step struct {
	Name        string
	State       string
	StartedOn   *time.Time
	CompletedOn *time.Time
	Log         string
}

// Client defines the interface for interacting with the
// provider's pipeline API. Implementations do not retry;
// transport and auth failures surface as errors.
type Client interface {
	Trigger(ctx context.Context, repo Repo, branch string) (*Run, error)
	GetRun(ctx context.Context, repo Repo, runUUID string) (*Run, error)
	ListSteps(ctx context.Context, repo Repo, runUUID string) ([]Step, error)
}
