package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pipewright/pipewright/internal/provider"
	"github.com/pipewright/pipewright/pkg/log"
)

// Client implements provider.Client against the Bitbucket
// 2.0 REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New constructs a Bitbucket client. A nil http.Client gets a
// sensible default timeout.
func New(baseURL, token string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

type pipelineState struct {
	Name   string `json:"name"`
	Result *struct {
		Name string `json:"name"`
	} `json:"result,omitempty"`
}

// flatten prefers the result name once a run or step has one,
// falling back to the in-flight state name.
func (s pipelineState) flatten() string {
	if s.Result != nil && s.Result.Name != "" {
		return s.Result.Name
	}
	return s.Name
}

type pipelineResponse struct {
	UUID        string        `json:"uuid"`
	BuildNumber int           `json:"build_number"`
	State       pipelineState `json:"state"`
	Target      struct {
		Commit struct {
			Hash string `json:"hash"`
		} `json:"commit"`
	} `json:"target"`
}

func (p *pipelineResponse) run() *provider.Run {
	return &provider.Run{
		UUID:        p.UUID,
		BuildNumber: p.BuildNumber,
		CommitHash:  p.Target.Commit.Hash,
		State:       p.State.flatten(),
	}
}

type stepResponse struct {
	UUID        string        `json:"uuid"`
	Name        string        `json:"name"`
	State       pipelineState `json:"state"`
	StartedOn   *time.Time    `json:"started_on"`
	CompletedOn *time.Time    `json:"completed_on"`
}

type stepListResponse struct {
	Values []stepResponse `json:"values"`
}

// Trigger starts a new pipeline run on the given branch.
func (c *Client) Trigger(ctx context.Context, repo provider.Repo, branch string) (*provider.Run, error) {
	payload := map[string]interface{}{
		"target": map[string]interface{}{
			"type":     "pipeline_ref_target",
			"ref_type": "branch",
			"ref_name": branch,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var resp pipelineResponse
	if err := c.do(
		ctx,
		http.MethodPost,
		fmt.Sprintf("/repositories/%s/%s/pipelines/", repo.Workspace, repo.Slug),
		bytes.NewReader(body),
		&resp,
	); err != nil {
		return nil, err
	}

	return resp.run(), nil
}

// GetRun fetches the current state of a pipeline run.
func (c *Client) GetRun(ctx context.Context, repo provider.Repo, runUUID string) (*provider.Run, error) {
	var resp pipelineResponse
	if err := c.do(
		ctx,
		http.MethodGet,
		fmt.Sprintf("/repositories/%s/%s/pipelines/%s", repo.Workspace, repo.Slug, runUUID),
		nil,
		&resp,
	); err != nil {
		return nil, err
	}

	return resp.run(), nil
}

// ListSteps fetches the run's steps along with each step's
// log text. A missing log (the provider 404s until a step has
// produced output) is treated as empty, not as an error.
func (c *Client) ListSteps(ctx context.Context, repo provider.Repo, runUUID string) ([]provider.Step, error) {
	var resp stepListResponse
	if err := c.do(
		ctx,
		http.MethodGet,
		fmt.Sprintf("/repositories/%s/%s/pipelines/%s/steps/", repo.Workspace, repo.Slug, runUUID),
		nil,
		&resp,
	); err != nil {
		return nil, err
	}

	steps := make([]provider.Step, 0, len(resp.Values))

	for _, s := range resp.Values {
		logText, err := c.stepLog(ctx, repo, runUUID, s.UUID)
		if err != nil {
			return nil, err
		}

		steps = append(steps, provider.Step{
			Name:        s.Name,
			State:       s.State.flatten(),
			StartedOn:   s.StartedOn,
			CompletedOn: s.CompletedOn,
			Log:         logText,
		})
	}

	return steps, nil
}

func (c *Client) stepLog(ctx context.Context, repo provider.Repo, runUUID, stepUUID string) (string, error) {
	req, err := c.newRequest(
		ctx,
		http.MethodGet,
		fmt.Sprintf("/repositories/%s/%s/pipelines/%s/steps/%s/log", repo.Workspace, repo.Slug, runUUID, stepUUID),
		nil,
	)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer c.discard(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError(resp)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return string(buf), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer c.discard(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (c *Client) statusError(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf(
		"bitbucket responded %d: %s",
		resp.StatusCode,
		strings.TrimSpace(string(buf)),
	)
}

func (c *Client) discard(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, io.LimitReader(body, 1<<20)); err != nil {
		log.Debug("drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		log.Debug("close response body", "error", err)
	}
}
