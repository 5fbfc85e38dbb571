package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/orchestrator"
	"clipwave/internal/repository"
	"clipwave/internal/scheduling"
	"github.com/gin-gonic/gin"
)

type ScheduleHandler struct {
	coordinator *scheduling.Coordinator
	ctrl        *orchestrator.Controller
	logger      *slog.Logger
}

func NewScheduleHandler(coordinator *scheduling.Coordinator, ctrl *orchestrator.Controller, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		coordinator: coordinator,
		ctrl:        ctrl,
		logger:      logger.With("component", "schedule_handler"),
	}
}

type createScheduleRequest struct {
	VideoID      string     `json:"video_id"      binding:"required"`
	AccountIDs   []string   `json:"account_ids"   binding:"required,min=1"`
	Timing       string     `json:"timing"        binding:"required,oneof=simultaneous staggered independent"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
	DelaySeconds int        `json:"delay_seconds" binding:"omitempty,min=1"`
}

type createWaveRequest struct {
	VideoIDs     []string   `json:"video_ids"     binding:"required,min=1"`
	AccountIDs   []string   `json:"account_ids"   binding:"required,min=1"`
	Timing       string     `json:"timing"        binding:"omitempty,oneof=simultaneous staggered"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
	DelaySeconds int        `json:"delay_seconds" binding:"omitempty,min=1"`
}

type rescheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

type scheduleResponse struct {
	ID                  string                `json:"id"`
	AccountID           string                `json:"account_id"`
	VideoID             *string               `json:"video_id,omitempty"`
	Type                domain.ScheduleType   `json:"type"`
	ScheduledAt         time.Time             `json:"scheduled_at"`
	DelaySeconds        *int                  `json:"delay_seconds,omitempty"`
	Status              domain.ScheduleStatus `json:"status"`
	Paused              bool                  `json:"paused"`
	CoordinationGroupID *string               `json:"coordination_group_id,omitempty"`
	WaveID              *string               `json:"wave_id,omitempty"`
	Attempts            int                   `json:"attempts"`
	ErrorMessage        *string               `json:"error_message,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:                  s.ID,
		AccountID:           s.AccountID,
		VideoID:             s.VideoID,
		Type:                s.Type,
		ScheduledAt:         s.ScheduledAt,
		DelaySeconds:        s.DelaySeconds,
		Status:              s.Status,
		Paused:              s.Paused,
		CoordinationGroupID: s.CoordinationGroupID,
		WaveID:              s.WaveID,
		Attempts:            s.Attempts,
		ErrorMessage:        s.ErrorMessage,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}

func toScheduleResponses(schedules []*domain.Schedule) []scheduleResponse {
	items := make([]scheduleResponse, len(schedules))
	for i, s := range schedules {
		items[i] = toScheduleResponse(s)
	}
	return items
}

// Create plans one video's publication across accounts with the requested
// coordination timing.
func (h *ScheduleHandler) Create(ctx *gin.Context) {
	var req createScheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schedules, err := h.ctrl.CoordinatePublication(ctx.Request.Context(), orchestrator.PublicationInput{
		VideoID:      req.VideoID,
		AccountIDs:   req.AccountIDs,
		Timing:       domain.ScheduleType(req.Timing),
		ScheduledAt:  req.ScheduledAt,
		DelaySeconds: req.DelaySeconds,
	})
	if err != nil {
		respondError(ctx, h.logger, "create schedules", err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"schedules": toScheduleResponses(schedules)})
}

// CreateWave publishes a batch of videos across accounts under one wave id.
func (h *ScheduleHandler) CreateWave(ctx *gin.Context) {
	var req createWaveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rep, err := h.ctrl.ScheduleWave(ctx.Request.Context(), req.VideoIDs, req.AccountIDs, orchestrator.WaveConfig{
		Timing:       domain.ScheduleType(req.Timing),
		ScheduledAt:  req.ScheduledAt,
		DelaySeconds: req.DelaySeconds,
	})
	if err != nil {
		respondError(ctx, h.logger, "create wave", err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"wave_id":   rep.WaveID,
		"schedules": toScheduleResponses(rep.Schedules),
	})
}

func (h *ScheduleHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	f := repository.ScheduleFilter{
		AccountID: ctx.Query("account_id"),
		VideoID:   ctx.Query("video_id"),
		WaveID:    ctx.Query("wave_id"),
		GroupID:   ctx.Query("group_id"),
		Status:    domain.ScheduleStatus(ctx.Query("status")),
		Limit:     limit,
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if raw := ctx.Query(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC3339"})
				return
			}
			*dst = t
		}
	}

	schedules, err := h.coordinator.Query(ctx.Request.Context(), f)
	if err != nil {
		respondError(ctx, h.logger, "list schedules", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"schedules": toScheduleResponses(schedules)})
}

func (h *ScheduleHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	s, err := h.coordinator.Get(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "get schedule", err)
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

type validationIssueResponse struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	ConflictingID string `json:"conflicting_id,omitempty"`
}

func (h *ScheduleHandler) Validate(ctx *gin.Context) {
	id := ctx.Param("id")

	report, err := h.coordinator.Validate(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "validate schedule", err)
		return
	}

	issues := make([]validationIssueResponse, len(report.Issues))
	for i, issue := range report.Issues {
		issues[i] = validationIssueResponse{
			Code:          issue.Code,
			Message:       issue.Message,
			ConflictingID: issue.ConflictingID,
		}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"schedule_id": report.ScheduleID,
		"valid":       report.Valid,
		"issues":      issues,
	})
}

func (h *ScheduleHandler) Pause(ctx *gin.Context) {
	id := ctx.Param("id")

	if _, err := h.coordinator.Pause(ctx.Request.Context(), id); err != nil {
		respondError(ctx, h.logger, "pause schedule", err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) Resume(ctx *gin.Context) {
	id := ctx.Param("id")

	if _, err := h.coordinator.Resume(ctx.Request.Context(), id); err != nil {
		respondError(ctx, h.logger, "resume schedule", err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// Cancel withdraws a schedule. The record stays for the audit trail.
func (h *ScheduleHandler) Cancel(ctx *gin.Context) {
	id := ctx.Param("id")

	if _, err := h.coordinator.Cancel(ctx.Request.Context(), id); err != nil {
		respondError(ctx, h.logger, "cancel schedule", err)
		return
	}

	ctx.Status(http.StatusNoContent)
}

// Reschedule re-arms a pending, scheduled or failed schedule at a new time.
func (h *ScheduleHandler) Reschedule(ctx *gin.Context) {
	id := ctx.Param("id")

	var req rescheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.coordinator.Reschedule(ctx.Request.Context(), id, req.ScheduledAt)
	if err != nil {
		respondError(ctx, h.logger, "reschedule", err)
		return
	}

	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}
