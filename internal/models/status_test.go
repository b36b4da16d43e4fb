package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusFromProvider(t *testing.T) {
	cases := map[string]Status{
		"PENDING":     StatusBuilding,
		"IN_PROGRESS": StatusBuilding,
		"SUCCESSFUL":  StatusSuccess,
		"COMPLETED":   StatusSuccess,
		"FAILED":      StatusFailed,
		"ERROR":       StatusFailed,
		"STOPPED":     StatusFailed,
		"pending":     StatusBuilding,
		" stopped ":   StatusFailed,
	}

	for state, expected := range cases {
		got, ok := StatusFromProvider(state)
		require.True(t, ok, "state %q", state)
		require.Equal(t, expected, got, "state %q", state)
	}

	_, ok := StatusFromProvider("HALTED")
	require.False(t, ok)
}

func TestTerminal(t *testing.T) {
	require.True(t, StatusSuccess.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusBuilding.Terminal())
	require.False(t, StatusTesting.Terminal())
	require.False(t, StatusDeploying.Terminal())
}

func TestRefineInProgress(t *testing.T) {
	require.Equal(t, StatusTesting, RefineInProgress(StatusBuilding, "Run Tests"))
	require.Equal(t, StatusDeploying, RefineInProgress(StatusBuilding, "Deploy to staging"))
	require.Equal(t, StatusBuilding, RefineInProgress(StatusBuilding, "Build"))

	// terminal statuses never refine
	require.Equal(t, StatusSuccess, RefineInProgress(StatusSuccess, "Deploy"))
}
