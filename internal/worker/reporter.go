package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/volaticloud/runbox/internal/execution"
)

// StatusUpdate is posted to the Producer's internal /executions/update
// endpoint after every status transition (spec §4.2 step 13).
type StatusUpdate struct {
	TaskID         string
	OrganizationID string
	Status         execution.Status
	Output         string
	Error          string
	Analysis       string
	ReportsBaseURL string
	EndTime        *time.Time
}

// Reporter is how the Worker tells the Producer about job progress. It
// matches the shape of the Producer's internal HTTP endpoints without
// depending on internal/producer directly.
type Reporter interface {
	ReportUpdate(ctx context.Context, update StatusUpdate) error
	ReportLog(ctx context.Context, organizationID, taskID, chunk string) error
}

// HTTPReporter posts updates and log chunks to the Producer's loopback-only
// internal endpoints.
type HTTPReporter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReporter builds a Reporter against the Producer's internal API,
// e.g. "http://127.0.0.1:8090".
func NewHTTPReporter(baseURL string) *HTTPReporter {
	return &HTTPReporter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type internalUpdateBody struct {
	TaskID         string            `json:"taskId"`
	OrganizationID string            `json:"organizationId"`
	Status         execution.Status  `json:"status"`
	Output         string            `json:"output,omitempty"`
	Error          string            `json:"error,omitempty"`
	Analysis       string            `json:"analysis,omitempty"`
	ReportsBaseURL string            `json:"reportsBaseUrl,omitempty"`
	EndTime        *time.Time        `json:"endTime,omitempty"`
}

func (r *HTTPReporter) ReportUpdate(ctx context.Context, update StatusUpdate) error {
	body := internalUpdateBody{
		TaskID:         update.TaskID,
		OrganizationID: update.OrganizationID,
		Status:         update.Status,
		Output:         update.Output,
		Error:          update.Error,
		Analysis:       update.Analysis,
		ReportsBaseURL: update.ReportsBaseURL,
		EndTime:        update.EndTime,
	}
	return r.post(ctx, "/executions/update", body)
}

type internalLogBody struct {
	TaskID         string `json:"taskId"`
	OrganizationID string `json:"organizationId"`
	Chunk          string `json:"chunk"`
}

func (r *HTTPReporter) ReportLog(ctx context.Context, organizationID, taskID, chunk string) error {
	return r.post(ctx, "/executions/log", internalLogBody{
		TaskID:         taskID,
		OrganizationID: organizationID,
		Chunk:          chunk,
	})
}

func (r *HTTPReporter) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
