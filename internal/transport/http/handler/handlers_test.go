package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clipwave/internal/alert"
	"clipwave/internal/distribution"
	"clipwave/internal/domain"
	"clipwave/internal/memstore"
	"clipwave/internal/orchestrator"
	"clipwave/internal/queue"
	"clipwave/internal/scheduling"
	"clipwave/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- fakes ----

type stepFunc func(ctx context.Context, job *domain.Job) (*orchestrator.StepResult, error)

func (f stepFunc) Execute(ctx context.Context, job *domain.Job) (*orchestrator.StepResult, error) {
	return f(ctx, job)
}

var okStep = stepFunc(func(context.Context, *domain.Job) (*orchestrator.StepResult, error) {
	return &orchestrator.StepResult{}, nil
})

type triggerFunc func(ctx context.Context, s *domain.Schedule) error

func (f triggerFunc) Dispatch(ctx context.Context, s *domain.Schedule) error { return f(ctx, s) }

var okTrigger = triggerFunc(func(context.Context, *domain.Schedule) error { return nil })

type nopSender struct{}

func (nopSender) Send(context.Context, string, string) error { return nil }

// ---- fixture ----

// testServer wires every handler onto a bare engine over memstore-backed
// components. Routes mirror the router's layout minus the auth middleware.
type testServer struct {
	engine *gin.Engine
	store  *memstore.Store
	ctrl   *orchestrator.Controller
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.DiscardHandler)

	schedules := memstore.NewScheduleRepository(store)
	videos := memstore.NewVideoRepository(store)
	accounts := memstore.NewAccountRepository(store)
	dists := memstore.NewDistributionRepository(store)

	q := queue.New(memstore.NewJobRepository(store), logger)
	coord := scheduling.NewCoordinator(schedules, videos, accounts, okTrigger, logger)
	matcher := distribution.NewMatcher(videos, accounts, dists, schedules, coord, logger)
	notifier := alert.NewNotifier(nopSender{}, logger)
	ctrl := orchestrator.NewController(q, coord, matcher, accounts, videos, okStep, notifier, orchestrator.Config{}, logger)

	video := handler.NewVideoHandler(ctrl, logger)
	job := handler.NewJobHandler(q, logger)
	schedule := handler.NewScheduleHandler(coord, ctrl, logger)
	dist := handler.NewDistributionHandler(matcher, logger)
	account := handler.NewAccountHandler(ctrl, coord, logger)
	control := handler.NewControlHandler(ctrl, logger)

	r := gin.New()
	r.POST("/videos", video.Register)
	r.GET("/videos/:id", video.GetByID)
	r.POST("/jobs", job.Enqueue)
	r.GET("/jobs", job.List)
	r.GET("/jobs/stats", job.Stats)
	r.GET("/jobs/:id", job.GetByID)
	r.POST("/queue/pause", job.PauseQueue)
	r.POST("/queue/resume", job.ResumeQueue)
	r.POST("/schedules", schedule.Create)
	r.GET("/schedules", schedule.List)
	r.GET("/schedules/:id", schedule.GetByID)
	r.GET("/schedules/:id/validate", schedule.Validate)
	r.POST("/schedules/:id/pause", schedule.Pause)
	r.POST("/schedules/:id/resume", schedule.Resume)
	r.POST("/schedules/:id/reschedule", schedule.Reschedule)
	r.DELETE("/schedules/:id", schedule.Cancel)
	r.POST("/waves", schedule.CreateWave)
	r.POST("/distributions/match/filters", dist.MatchFilters)
	r.POST("/distributions/match/schedule", dist.MatchSchedule)
	r.POST("/distributions/manual", dist.Manual)
	r.POST("/distributions/:id/retry", dist.Retry)
	r.GET("/distributions", dist.List)
	r.GET("/distributions/stats", dist.Stats)
	r.GET("/distributions/:id", dist.GetByID)
	r.GET("/accounts", account.Monitor)
	r.POST("/accounts/:id/pause", account.PauseSchedules)
	r.POST("/accounts/:id/resume", account.ResumeSchedules)
	r.POST("/control/start", control.Start)
	r.POST("/control/stop", control.Stop)
	r.POST("/control/pause", control.Pause)
	r.POST("/control/resume", control.Resume)
	r.POST("/control/tick", control.Tick)
	r.GET("/control/status", control.Status)
	r.GET("/dashboard", control.Dashboard)

	return &testServer{engine: r, store: store, ctrl: ctrl}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// ---- seed helpers ----

func seedAccount(t *testing.T, s *testServer, id string, filters domain.ContentFilters) {
	t.Helper()
	_, err := memstore.NewAccountRepository(s.store).Upsert(context.Background(), &domain.Account{
		ID:            id,
		Name:          id,
		Platform:      "youtube",
		Active:        true,
		Repository:    "org/" + id,
		CredentialRef: id + "-token",
		Filters:       filters,
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

func seedVideo(t *testing.T, s *testServer, id string, status domain.VideoStatus) {
	t.Helper()
	_, err := memstore.NewVideoRepository(s.store).Create(context.Background(), &domain.Video{
		ID:         id,
		Title:      "clip " + id,
		SourceURL:  "https://videos.example.com/" + id,
		Resolution: "1080p",
		Views:      50_000,
		Status:     status,
	})
	if err != nil {
		t.Fatalf("seed video %s: %v", id, err)
	}
}

func futureRFC3339(d time.Duration) string {
	return time.Now().UTC().Add(d).Format(time.RFC3339)
}
