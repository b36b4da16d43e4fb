package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pipewright/pipewright/internal/models"
)

// Notice is the payload POSTed to a pipeline's notify URL
// when one of its executions reaches a terminal status.
type Notice struct {
	PipelineID      int64         `json:"pipeline_id"`
	ExecutionID     int64         `json:"execution_id"`
	Status          models.Status `json:"status"`
	BuildNumber     int           `json:"build_number,omitempty"`
	DurationSeconds int           `json:"duration_seconds"`
	ErrorMessage    string        `json:"error_message,omitempty"`
}

// Notifier posts execution notices to webhook endpoints.
type Notifier struct {
	client *http.Client
}

// New constructs a notifier with the provided client.
func New(client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{client: client}
}

// Notify sends a POST request containing the notice.
func (n *Notifier) Notify(ctx context.Context, url string, notice Notice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, strings.TrimSpace(string(buf)))
	}

	return nil
}
