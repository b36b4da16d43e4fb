package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipewright/pipewright/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNotifyPostsNotice(t *testing.T) {
	var received Notice

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notice := Notice{
		PipelineID:      4,
		ExecutionID:     9,
		Status:          models.StatusSuccess,
		DurationSeconds: 42,
	}

	require.NoError(t, New(srv.Client()).Notify(context.Background(), srv.URL, notice))
	require.Equal(t, notice, received)
}

func TestNotifySurfacesBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := New(srv.Client()).Notify(context.Background(), srv.URL, Notice{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}
