package models

import "strings"

// Status is the execution status vocabulary of this system.
// It mirrors, but is not identical to, the provider's own
// build-state vocabulary; StatusFromProvider is the single
// translation point between the two.
type Status string

const (
	StatusBuilding  Status = "BUILDING"
	StatusTesting   Status = "TESTING"
	StatusDeploying Status = "DEPLOYING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions are valid.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusBuilding, StatusTesting, StatusDeploying, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

var providerStatus = map[string]Status{
	// in-flight provider states
	"PENDING":     StatusBuilding,
	"BUILDING":    StatusBuilding,
	"IN_PROGRESS": StatusBuilding,
	"RUNNING":     StatusBuilding,

	// terminal provider states
	"SUCCESSFUL": StatusSuccess,
	"COMPLETED":  StatusSuccess,
	"PASSED":     StatusSuccess,
	"FAILED":     StatusFailed,
	"ERROR":      StatusFailed,
	"STOPPED":    StatusFailed,
}

// StatusFromProvider translates a provider build state into
// the local status vocabulary. The second return is false for
// states the table does not know.
func StatusFromProvider(state string) (Status, bool) {
	s, ok := providerStatus[strings.ToUpper(strings.TrimSpace(state))]
	return s, ok
}

// RefineInProgress promotes an in-flight status to TESTING or
// DEPLOYING based on the name of the step currently running.
// Terminal statuses are never refined.
func RefineInProgress(status Status, runningStep string) Status {
	if status != StatusBuilding {
		return status
	}

	name := strings.ToLower(runningStep)
	switch {
	case strings.Contains(name, "deploy"):
		return StatusDeploying
	case strings.Contains(name, "test"):
		return StatusTesting
	default:
		return status
	}
}
