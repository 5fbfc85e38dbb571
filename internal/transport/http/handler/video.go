package handler

import (
	"log/slog"
	"net/http"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/orchestrator"
	"github.com/gin-gonic/gin"
)

type VideoHandler struct {
	ctrl   *orchestrator.Controller
	logger *slog.Logger
}

func NewVideoHandler(ctrl *orchestrator.Controller, logger *slog.Logger) *VideoHandler {
	return &VideoHandler{ctrl: ctrl, logger: logger.With("component", "video_handler")}
}

type registerVideoRequest struct {
	SourceID  string `json:"source_id"`
	Title     string `json:"title"`
	SourceURL string `json:"source_url" binding:"required,url"`
	Priority  int    `json:"priority"   binding:"omitempty,min=0"`
}

type videoResponse struct {
	ID              string             `json:"id"`
	SourceID        string             `json:"source_id,omitempty"`
	Title           string             `json:"title"`
	SourceURL       string             `json:"source_url"`
	Resolution      string             `json:"resolution,omitempty"`
	Views           int64              `json:"views"`
	DurationSeconds int                `json:"duration_seconds"`
	Watermarked     bool               `json:"watermarked"`
	Status          domain.VideoStatus `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func toVideoResponse(v *domain.Video) videoResponse {
	return videoResponse{
		ID:              v.ID,
		SourceID:        v.SourceID,
		Title:           v.Title,
		SourceURL:       v.SourceURL,
		Resolution:      v.Resolution,
		Views:           v.Views,
		DurationSeconds: v.DurationSeconds,
		Watermarked:     v.Watermarked,
		Status:          v.Status,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

// Register admits a source video and queues the scrape that fetches its
// metadata.
func (h *VideoHandler) Register(ctx *gin.Context) {
	var req registerVideoRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	video, job, err := h.ctrl.RegisterVideo(ctx.Request.Context(), orchestrator.RegisterInput{
		SourceID:  req.SourceID,
		Title:     req.Title,
		SourceURL: req.SourceURL,
		Priority:  req.Priority,
	})
	if err != nil {
		respondError(ctx, h.logger, "register video", err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"video": toVideoResponse(video),
		"job":   toJobResponse(job),
	})
}

func (h *VideoHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	video, err := h.ctrl.GetVideo(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "get video", err)
		return
	}

	ctx.JSON(http.StatusOK, toVideoResponse(video))
}
