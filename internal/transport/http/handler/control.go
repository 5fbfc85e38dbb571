package handler

import (
	"log/slog"
	"net/http"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/orchestrator"
	"github.com/gin-gonic/gin"
)

type ControlHandler struct {
	ctrl   *orchestrator.Controller
	logger *slog.Logger
}

func NewControlHandler(ctrl *orchestrator.Controller, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{ctrl: ctrl, logger: logger.With("component", "control_handler")}
}

func (h *ControlHandler) Start(ctx *gin.Context) {
	h.ctrl.Start()
	h.logger.Info("controller started", "operator", ctx.GetString("operator"))
	ctx.Status(http.StatusNoContent)
}

func (h *ControlHandler) Stop(ctx *gin.Context) {
	h.ctrl.Stop()
	h.logger.Info("controller stopped", "operator", ctx.GetString("operator"))
	ctx.Status(http.StatusNoContent)
}

func (h *ControlHandler) Pause(ctx *gin.Context) {
	if err := h.ctrl.Pause(); err != nil {
		respondError(ctx, h.logger, "pause controller", err)
		return
	}
	h.logger.Info("controller paused", "operator", ctx.GetString("operator"))
	ctx.Status(http.StatusNoContent)
}

func (h *ControlHandler) Resume(ctx *gin.Context) {
	if err := h.ctrl.Resume(); err != nil {
		respondError(ctx, h.logger, "resume controller", err)
		return
	}
	h.logger.Info("controller resumed", "operator", ctx.GetString("operator"))
	ctx.Status(http.StatusNoContent)
}

type executionResponse struct {
	ScheduleID string `json:"schedule_id"`
	AccountID  string `json:"account_id"`
	VideoID    string `json:"video_id,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

type tickResponse struct {
	StartedAt       time.Time           `json:"started_at"`
	DurationSeconds float64             `json:"duration_seconds"`
	Skipped         bool                `json:"skipped"`
	Reclaimed       int                 `json:"reclaimed"`
	TimedOut        int                 `json:"timed_out"`
	Promoted        int                 `json:"promoted"`
	Dispatched      int                 `json:"dispatched"`
	Completed       int                 `json:"completed"`
	Failed          int                 `json:"failed"`
	Executions      []executionResponse `json:"executions,omitempty"`
}

func toTickResponse(rep *orchestrator.TickReport) tickResponse {
	out := tickResponse{
		StartedAt:       rep.StartedAt,
		DurationSeconds: rep.Duration.Seconds(),
		Skipped:         rep.Skipped,
		Reclaimed:       rep.Reclaimed,
		TimedOut:        rep.TimedOut,
		Promoted:        rep.Promoted,
		Dispatched:      rep.Dispatched,
		Completed:       rep.Completed,
		Failed:          rep.Failed,
	}
	for _, res := range rep.Executions {
		out.Executions = append(out.Executions, executionResponse{
			ScheduleID: res.ScheduleID,
			AccountID:  res.AccountID,
			VideoID:    res.VideoID,
			Success:    res.Success,
			Error:      res.Error,
		})
	}
	return out
}

// Tick runs one coordination pass on demand. Unlike the periodic tick it
// also works while the controller is paused.
func (h *ControlHandler) Tick(ctx *gin.Context) {
	rep, err := h.ctrl.TriggerRun(ctx.Request.Context())
	if err != nil {
		respondError(ctx, h.logger, "trigger tick", err)
		return
	}
	h.logger.Info("tick triggered", "operator", ctx.GetString("operator"))
	ctx.JSON(http.StatusOK, toTickResponse(rep))
}

type systemStatusResponse struct {
	State         orchestrator.State `json:"state"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	UptimeSeconds int                `json:"uptime_seconds"`
	QueuePaused   bool               `json:"queue_paused"`
}

func toSystemStatusResponse(st orchestrator.SystemStatus) systemStatusResponse {
	return systemStatusResponse{
		State:         st.State,
		StartedAt:     st.StartedAt,
		UptimeSeconds: st.UptimeSeconds,
		QueuePaused:   st.QueuePaused,
	}
}

func (h *ControlHandler) Status(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, toSystemStatusResponse(h.ctrl.Status()))
}

type dashboardResponse struct {
	GeneratedAt   time.Time                     `json:"generated_at"`
	System        systemStatusResponse          `json:"system"`
	Accounts      accountSummaryResponse        `json:"accounts"`
	Jobs          jobStatsResponse              `json:"jobs"`
	Distributions distributionStatsResponse     `json:"distributions"`
	Schedules     map[domain.ScheduleStatus]int `json:"schedules"`
}

type accountSummaryResponse struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Healthy int `json:"healthy"`
}

func (h *ControlHandler) Dashboard(ctx *gin.Context) {
	snap, err := h.ctrl.DashboardSnapshot(ctx.Request.Context())
	if err != nil {
		respondError(ctx, h.logger, "dashboard", err)
		return
	}

	ctx.JSON(http.StatusOK, dashboardResponse{
		GeneratedAt: snap.GeneratedAt,
		System:      toSystemStatusResponse(snap.System),
		Accounts: accountSummaryResponse{
			Total:   snap.Accounts.Total,
			Active:  snap.Accounts.Active,
			Healthy: snap.Accounts.Healthy,
		},
		Jobs:          toJobStatsResponse(snap.Jobs),
		Distributions: toDistributionStatsResponse(snap.Distributions),
		Schedules:     snap.Schedules,
	})
}
