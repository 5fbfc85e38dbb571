package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"clipwave/internal/domain"
	"clipwave/internal/orchestrator"
)

// Executor posts jobs to the pipeline step services, one endpoint per step:
// POST {base}/steps/{type}. It implements orchestrator.StepExecutor.
type Executor struct {
	client *http.Client
	cfg    Config
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		client: &http.Client{}, // no global timeout, the controller deadlines each call
		cfg:    cfg,
	}
}

type stepRequest struct {
	JobID   string `json:"job_id"`
	VideoID string `json:"video_id"`
	Type    string `json:"type"`
	Attempt int    `json:"attempt"`
}

type stepResponse struct {
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

func (e *Executor) Execute(ctx context.Context, job *domain.Job) (*orchestrator.StepResult, error) {
	url := fmt.Sprintf("%s/steps/%s", e.cfg.BaseURL, job.Type)
	resp, err := postJSON(ctx, e.client, e.cfg, url, stepRequest{
		JobID:   job.ID,
		VideoID: job.VideoID,
		Type:    string(job.Type),
		Attempt: job.Attempts + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s step: %w", job.Type, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s step response: %w", job.Type, err)
	}
	drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &orchestrator.StepError{
			Message: fmt.Sprintf("%s step returned %d", job.Type, resp.StatusCode),
			Details: map[string]any{
				"status": resp.StatusCode,
				"body":   strings.TrimSpace(string(body)),
			},
		}
	}

	var out stepResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decode %s step response: %w", job.Type, err)
		}
	}
	if out.Error != "" {
		// A 2xx with an error field: the service answered, the step failed.
		return nil, &orchestrator.StepError{Message: out.Error, Details: out.Result}
	}
	return &orchestrator.StepResult{Payload: out.Result}, nil
}
