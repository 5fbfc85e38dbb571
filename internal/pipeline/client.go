// Package pipeline reaches the external step services over HTTP. The
// coordination core never scrapes, transcodes or uploads anything itself;
// it posts work to the service owning that step and reads the result back.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a step response is read into memory.
const maxResponseBytes = 1 << 20

const defaultPublishTimeout = 30 * time.Second

// Config points the clients at the step services.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// PublishTimeout bounds one publish dispatch. The step executor does
	// not use it: the controller deadlines each step call instead.
	PublishTimeout time.Duration
}

func postJSON(ctx context.Context, client *http.Client, cfg Config, url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	return client.Do(req)
}

// drain finishes the body so the connection can be reused by the pool.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
