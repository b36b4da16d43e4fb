package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLevelFromString(t *testing.T) {
	defer SetLevel(INFO)

	require.NoError(t, SetLevelFromString("debug"))
	require.Equal(t, DEBUG, logLevel)

	require.NoError(t, SetLevelFromString("WARNING"))
	require.Equal(t, WARNING, logLevel)

	require.Error(t, SetLevelFromString("verbose"))
}
