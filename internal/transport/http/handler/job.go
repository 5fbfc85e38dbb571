package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/queue"
	"clipwave/internal/repository"
	"github.com/gin-gonic/gin"
)

type JobHandler struct {
	queue  *queue.Queue
	logger *slog.Logger
}

func NewJobHandler(q *queue.Queue, logger *slog.Logger) *JobHandler {
	return &JobHandler{queue: q, logger: logger.With("component", "job_handler")}
}

type enqueueJobRequest struct {
	VideoID     string `json:"video_id"     binding:"required"`
	Type        string `json:"type"         binding:"required,oneof=scrape download transform publish"`
	Priority    int    `json:"priority"     binding:"omitempty,min=0"`
	MaxAttempts int    `json:"max_attempts" binding:"omitempty,min=1,max=10"`
}

type jobResponse struct {
	ID           string           `json:"id"`
	VideoID      string           `json:"video_id"`
	Type         domain.JobType   `json:"type"`
	Status       domain.JobStatus `json:"status"`
	Priority     int              `json:"priority"`
	Attempts     int              `json:"attempts"`
	MaxAttempts  int              `json:"max_attempts"`
	QueuedAt     time.Time        `json:"queued_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	ErrorDetails map[string]any   `json:"error_details,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:           j.ID,
		VideoID:      j.VideoID,
		Type:         j.Type,
		Status:       j.Status,
		Priority:     j.Priority,
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		QueuedAt:     j.QueuedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		ErrorMessage: j.ErrorMessage,
		ErrorDetails: j.ErrorDetails,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
}

type jobStatsResponse struct {
	Total                int                      `json:"total"`
	ByStatus             map[domain.JobStatus]int `json:"by_status"`
	SuccessRate          float64                  `json:"success_rate"`
	AvgProcessingSeconds float64                  `json:"avg_processing_seconds"`
	AvgWaitSeconds       float64                  `json:"avg_wait_seconds"`
}

func toJobStatsResponse(st *domain.JobStats) jobStatsResponse {
	return jobStatsResponse{
		Total:                st.Total,
		ByStatus:             st.ByStatus,
		SuccessRate:          st.SuccessRate,
		AvgProcessingSeconds: st.AvgProcessingSeconds,
		AvgWaitSeconds:       st.AvgWaitSeconds,
	}
}

func (h *JobHandler) Enqueue(ctx *gin.Context) {
	var req enqueueJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.queue.Enqueue(ctx.Request.Context(), queue.EnqueueInput{
		VideoID:     req.VideoID,
		Type:        domain.JobType(req.Type),
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		respondError(ctx, h.logger, "enqueue job", err)
		return
	}

	ctx.JSON(http.StatusCreated, toJobResponse(job))
}

func (h *JobHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	jobs, err := h.queue.List(ctx.Request.Context(), repository.JobFilter{
		Type:    domain.JobType(ctx.Query("type")),
		Status:  domain.JobStatus(ctx.Query("status")),
		VideoID: ctx.Query("video_id"),
		Limit:   limit,
	})
	if err != nil {
		respondError(ctx, h.logger, "list jobs", err)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = toJobResponse(j)
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": items})
}

func (h *JobHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	job, err := h.queue.Get(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "get job", err)
		return
	}

	ctx.JSON(http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) Stats(ctx *gin.Context) {
	stats, err := h.queue.Statistics(ctx.Request.Context(), domain.JobType(ctx.Query("type")))
	if err != nil {
		respondError(ctx, h.logger, "job stats", err)
		return
	}

	ctx.JSON(http.StatusOK, toJobStatsResponse(stats))
}

// PauseQueue holds back dequeueing; queued jobs wait where they are.
func (h *JobHandler) PauseQueue(ctx *gin.Context) {
	h.queue.Pause()
	ctx.Status(http.StatusNoContent)
}

func (h *JobHandler) ResumeQueue(ctx *gin.Context) {
	h.queue.Resume()
	ctx.Status(http.StatusNoContent)
}
