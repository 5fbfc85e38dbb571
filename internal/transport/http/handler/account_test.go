package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/memstore"
)

// ---- Monitor ----

func TestMonitorAccounts_ReportsHealth(t *testing.T) {
	srv := newTestServer(t)
	seedAccount(t, srv, "healthy", domain.ContentFilters{})

	// Active but missing publish credentials.
	_, err := memstore.NewAccountRepository(srv.store).Upsert(context.Background(), &domain.Account{
		ID:       "lame",
		Name:     "lame",
		Platform: "tiktok",
		Active:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w := srv.do(t, http.MethodGet, "/accounts", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var resp struct {
		Accounts []struct {
			AccountID string   `json:"account_id"`
			Healthy   bool     `json:"healthy"`
			Issues    []string `json:"issues"`
		} `json:"accounts"`
	}
	decodeBody(t, w, &resp)

	if len(resp.Accounts) != 2 {
		t.Fatalf("monitored %d accounts, want 2", len(resp.Accounts))
	}
	byID := map[string]bool{}
	for _, a := range resp.Accounts {
		byID[a.AccountID] = a.Healthy
		if a.AccountID == "lame" && len(a.Issues) == 0 {
			t.Error("unhealthy account reports no issues")
		}
	}
	if !byID["healthy"] || byID["lame"] {
		t.Errorf("health = %v, want healthy=true lame=false", byID)
	}
}

// ---- account-wide pause ----

func TestPauseAndResumeAccountSchedules_CountTouched(t *testing.T) {
	srv := newTestServer(t)
	seedVideo(t, srv, "v1", "ready")
	seedVideo(t, srv, "v2", "ready")
	seedAccount(t, srv, "a1", domain.ContentFilters{})

	for i, video := range []string{"v1", "v2"} {
		body := fmt.Sprintf(`{"video_id":%q,"account_ids":["a1"],"timing":"independent","scheduled_at":%q}`,
			video, futureRFC3339(time.Duration(i+1)*24*time.Hour))
		if w := srv.do(t, http.MethodPost, "/schedules", body); w.Code != http.StatusCreated {
			t.Fatalf("create schedule for %s: status = %d (body %s)", video, w.Code, w.Body.String())
		}
	}

	w := srv.do(t, http.MethodPost, "/accounts/a1/pause", "")
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var paused struct {
		Paused int `json:"paused"`
	}
	decodeBody(t, w, &paused)
	if paused.Paused != 2 {
		t.Errorf("paused = %d, want 2", paused.Paused)
	}

	w = srv.do(t, http.MethodPost, "/accounts/a1/resume", "")
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resumed struct {
		Resumed int `json:"resumed"`
	}
	decodeBody(t, w, &resumed)
	if resumed.Resumed != 2 {
		t.Errorf("resumed = %d, want 2", resumed.Resumed)
	}
}
