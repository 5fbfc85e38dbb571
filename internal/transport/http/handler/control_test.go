package handler_test

import (
	"net/http"
	"testing"

	"clipwave/internal/domain"
)

// ---- lifecycle ----

func TestControlStatus_TracksLifecycle(t *testing.T) {
	srv := newTestServer(t)

	var status struct {
		State       string `json:"state"`
		QueuePaused bool   `json:"queue_paused"`
	}
	decodeBody(t, srv.do(t, http.MethodGet, "/control/status", ""), &status)
	if status.State != "stopped" {
		t.Fatalf("initial state = %q, want stopped", status.State)
	}

	if w := srv.do(t, http.MethodPost, "/control/start", ""); w.Code != http.StatusNoContent {
		t.Fatalf("start status = %d, want 204", w.Code)
	}
	decodeBody(t, srv.do(t, http.MethodGet, "/control/status", ""), &status)
	if status.State != "running" {
		t.Fatalf("state after start = %q, want running", status.State)
	}

	if w := srv.do(t, http.MethodPost, "/control/pause", ""); w.Code != http.StatusNoContent {
		t.Fatalf("pause status = %d, want 204", w.Code)
	}
	decodeBody(t, srv.do(t, http.MethodGet, "/control/status", ""), &status)
	if status.State != "paused" {
		t.Fatalf("state after pause = %q, want paused", status.State)
	}

	if w := srv.do(t, http.MethodPost, "/control/resume", ""); w.Code != http.StatusNoContent {
		t.Fatalf("resume status = %d, want 204", w.Code)
	}
	if w := srv.do(t, http.MethodPost, "/control/stop", ""); w.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", w.Code)
	}
	decodeBody(t, srv.do(t, http.MethodGet, "/control/status", ""), &status)
	if status.State != "stopped" {
		t.Fatalf("state after stop = %q, want stopped", status.State)
	}
}

func TestControlPause_WhileStopped_Returns409(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/control/pause", "")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}
}

// ---- Tick ----

func TestTriggerTick_WhileStopped_Returns409(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodPost, "/control/tick", "")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 (body %s)", w.Code, w.Body.String())
	}
}

func TestTriggerTick_RunsQueuedJob(t *testing.T) {
	srv := newTestServer(t)
	seedVideo(t, srv, "v1", "processing")
	srv.do(t, http.MethodPost, "/jobs", `{"video_id":"v1","type":"transform"}`)
	srv.do(t, http.MethodPost, "/control/start", "")

	w := srv.do(t, http.MethodPost, "/control/tick", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var rep struct {
		Skipped    bool `json:"skipped"`
		Dispatched int  `json:"dispatched"`
		Completed  int  `json:"completed"`
	}
	decodeBody(t, w, &rep)

	if rep.Skipped {
		t.Fatal("tick reported skipped, want a full pass")
	}
	if rep.Dispatched != 1 || rep.Completed != 1 {
		t.Errorf("report = %+v, want the transform dispatched and completed", rep)
	}

	var video struct {
		Status string `json:"status"`
	}
	decodeBody(t, srv.do(t, http.MethodGet, "/videos/v1", ""), &video)
	if video.Status != "ready" {
		t.Errorf("video status = %q, want ready after transform", video.Status)
	}
}

// ---- Dashboard ----

func TestDashboard_AggregatesSections(t *testing.T) {
	srv := newTestServer(t)
	seedVideo(t, srv, "v1", "new")
	seedAccount(t, srv, "a1", domain.ContentFilters{})
	srv.do(t, http.MethodPost, "/jobs", `{"video_id":"v1","type":"scrape"}`)

	w := srv.do(t, http.MethodGet, "/dashboard", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var dash struct {
		GeneratedAt string `json:"generated_at"`
		System      struct {
			State string `json:"state"`
		} `json:"system"`
		Accounts struct {
			Total   int `json:"total"`
			Healthy int `json:"healthy"`
		} `json:"accounts"`
		Jobs struct {
			Total int `json:"total"`
		} `json:"jobs"`
	}
	decodeBody(t, w, &dash)

	if dash.GeneratedAt == "" {
		t.Error("generated_at is empty")
	}
	if dash.System.State != "stopped" {
		t.Errorf("system state = %q, want stopped", dash.System.State)
	}
	if dash.Accounts.Total != 1 || dash.Accounts.Healthy != 1 {
		t.Errorf("accounts = %+v, want one healthy account", dash.Accounts)
	}
	if dash.Jobs.Total != 1 {
		t.Errorf("jobs total = %d, want 1", dash.Jobs.Total)
	}
}
