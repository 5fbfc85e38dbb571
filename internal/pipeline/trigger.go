package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clipwave/internal/domain"
)

// Trigger asks the publisher service to push one scheduled publication
// live: POST {base}/publish. It implements scheduling.PublishTrigger.
type Trigger struct {
	client  *http.Client
	cfg     Config
	timeout time.Duration
}

func NewTrigger(cfg Config) *Trigger {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Trigger{
		client:  &http.Client{},
		cfg:     cfg,
		timeout: timeout,
	}
}

type publishRequest struct {
	ScheduleID  string    `json:"schedule_id"`
	AccountID   string    `json:"account_id"`
	VideoID     *string   `json:"video_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Attempt     int       `json:"attempt"`
}

func (t *Trigger) Dispatch(ctx context.Context, s *domain.Schedule) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := postJSON(ctx, t.client, t.cfg, t.cfg.BaseURL+"/publish", publishRequest{
		ScheduleID:  s.ID,
		AccountID:   s.AccountID,
		VideoID:     s.VideoID,
		ScheduledAt: s.ScheduledAt,
		Attempt:     s.Attempts,
	})
	if err != nil {
		return fmt.Errorf("call publisher: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("publisher returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
