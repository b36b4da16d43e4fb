package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pipewright/pipewright/internal/provider"
	"github.com/stretchr/testify/require"
)

var testRepo = provider.Repo{Workspace: "acme", Slug: "widgets"}

func TestTriggerPostsBranchTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/repositories/acme/widgets/pipelines/", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var payload struct {
			Target struct {
				Type    string `json:"type"`
				RefType string `json:"ref_type"`
				RefName string `json:"ref_name"`
			} `json:"target"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "pipeline_ref_target", payload.Target.Type)
		require.Equal(t, "branch", payload.Target.RefType)
		require.Equal(t, "main", payload.Target.RefName)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{
			"uuid": "{run-1}",
			"build_number": 7,
			"state": {"name": "PENDING"},
			"target": {"commit": {"hash": "abc123"}}
		}`)
	}))
	defer srv.Close()

	run, err := New(srv.URL, "secret", srv.Client()).Trigger(context.Background(), testRepo, "main")
	require.NoError(t, err)
	require.Equal(t, "{run-1}", run.UUID)
	require.Equal(t, 7, run.BuildNumber)
	require.Equal(t, "abc123", run.CommitHash)
	require.Equal(t, "PENDING", run.State)
}

func TestGetRunFlattensResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repositories/acme/widgets/pipelines/{run-1}", r.URL.Path)
		fmt.Fprint(w, `{
			"uuid": "{run-1}",
			"build_number": 7,
			"state": {"name": "COMPLETED", "result": {"name": "SUCCESSFUL"}},
			"target": {"commit": {"hash": "abc123"}}
		}`)
	}))
	defer srv.Close()

	run, err := New(srv.URL, "secret", srv.Client()).GetRun(context.Background(), testRepo, "{run-1}")
	require.NoError(t, err)
	require.Equal(t, "SUCCESSFUL", run.State)
}

func TestListStepsCollectsLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repositories/acme/widgets/pipelines/{run-1}/steps/":
			fmt.Fprint(w, `{"values": [
				{"uuid": "{s1}", "name": "Build", "state": {"name": "COMPLETED", "result": {"name": "SUCCESSFUL"}}},
				{"uuid": "{s2}", "name": "Test", "state": {"name": "IN_PROGRESS"}}
			]}`)
		case "/repositories/acme/widgets/pipelines/{run-1}/steps/{s1}/log":
			fmt.Fprint(w, "compiling\ndone\n")
		case "/repositories/acme/widgets/pipelines/{run-1}/steps/{s2}/log":
			// no output yet
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	steps, err := New(srv.URL, "secret", srv.Client()).ListSteps(context.Background(), testRepo, "{run-1}")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	require.Equal(t, "Build", steps[0].Name)
	require.Equal(t, "SUCCESSFUL", steps[0].State)
	require.Equal(t, "compiling\ndone\n", steps[0].Log)

	require.Equal(t, "Test", steps[1].Name)
	require.Equal(t, "IN_PROGRESS", steps[1].State)
	require.Empty(t, steps[1].Log)
}

func TestErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "token expired"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "stale", srv.Client()).Trigger(context.Background(), testRepo, "main")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
	require.Contains(t, err.Error(), "token expired")
}
