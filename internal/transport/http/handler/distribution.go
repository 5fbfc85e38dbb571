package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"clipwave/internal/distribution"
	"clipwave/internal/domain"
	"clipwave/internal/repository"
	"github.com/gin-gonic/gin"
)

type DistributionHandler struct {
	matcher *distribution.Matcher
	logger  *slog.Logger
}

func NewDistributionHandler(matcher *distribution.Matcher, logger *slog.Logger) *DistributionHandler {
	return &DistributionHandler{matcher: matcher, logger: logger.With("component", "distribution_handler")}
}

type matchFiltersRequest struct {
	VideoID    string   `json:"video_id"`
	AccountIDs []string `json:"account_ids"`
}

type manualDistributeRequest struct {
	VideoID     string     `json:"video_id"    binding:"required"`
	AccountIDs  []string   `json:"account_ids" binding:"required,min=1"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Force       bool       `json:"force"`
}

type distributionResponse struct {
	ID           string                    `json:"id"`
	VideoID      string                    `json:"video_id"`
	AccountID    string                    `json:"account_id"`
	Method       domain.DistributionMethod `json:"method"`
	Reason       string                    `json:"reason,omitempty"`
	Status       domain.DistributionStatus `json:"status"`
	ScheduleID   *string                   `json:"schedule_id,omitempty"`
	RetryCount   int                       `json:"retry_count"`
	MaxRetries   int                       `json:"max_retries"`
	ErrorMessage *string                   `json:"error_message,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

func toDistributionResponse(d *domain.Distribution) distributionResponse {
	return distributionResponse{
		ID:           d.ID,
		VideoID:      d.VideoID,
		AccountID:    d.AccountID,
		Method:       d.Method,
		Reason:       d.Reason,
		Status:       d.Status,
		ScheduleID:   d.ScheduleID,
		RetryCount:   d.RetryCount,
		MaxRetries:   d.MaxRetries,
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type matchResultResponse struct {
	VideoID      string                `json:"video_id"`
	AccountID    string                `json:"account_id"`
	Distribution *distributionResponse `json:"distribution,omitempty"`
	Schedule     *scheduleResponse     `json:"schedule,omitempty"`
	Skipped      bool                  `json:"skipped"`
	Reason       string                `json:"reason,omitempty"`
}

func toMatchResultResponses(results []distribution.MatchResult) []matchResultResponse {
	items := make([]matchResultResponse, len(results))
	for i, r := range results {
		item := matchResultResponse{
			VideoID:   r.VideoID,
			AccountID: r.AccountID,
			Skipped:   r.Skipped,
			Reason:    r.Reason,
		}
		if r.Distribution != nil {
			d := toDistributionResponse(r.Distribution)
			item.Distribution = &d
		}
		if r.Schedule != nil {
			s := toScheduleResponse(r.Schedule)
			item.Schedule = &s
		}
		items[i] = item
	}
	return items
}

type distributionStatsResponse struct {
	Total       int                               `json:"total"`
	ByStatus    map[domain.DistributionStatus]int `json:"by_status"`
	ByMethod    map[domain.DistributionMethod]int `json:"by_method"`
	SuccessRate float64                           `json:"success_rate"`
}

func toDistributionStatsResponse(st *domain.DistributionStats) distributionStatsResponse {
	return distributionStatsResponse{
		Total:       st.Total,
		ByStatus:    st.ByStatus,
		ByMethod:    st.ByMethod,
		SuccessRate: st.SuccessRate,
	}
}

// MatchFilters runs a rule-matching pass: ready videos fan out to every
// account whose content filters they satisfy. The body may narrow the pass
// to one video or a set of accounts; an empty body means match everything.
func (h *DistributionHandler) MatchFilters(ctx *gin.Context) {
	var req matchFiltersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && ctx.Request.ContentLength > 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := h.matcher.AutoDistributeByFilters(ctx.Request.Context(), distribution.FilterMatchInput{
		VideoID:    req.VideoID,
		AccountIDs: req.AccountIDs,
	})
	if err != nil {
		respondError(ctx, h.logger, "match by filters", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"results": toMatchResultResponses(results)})
}

// MatchSchedule books unassigned videos into the accounts' open posting
// slots.
func (h *DistributionHandler) MatchSchedule(ctx *gin.Context) {
	results, err := h.matcher.AutoDistributeBySchedule(ctx.Request.Context())
	if err != nil {
		respondError(ctx, h.logger, "match by schedule", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"results": toMatchResultResponses(results)})
}

// Manual assigns a video to accounts by operator decision, optionally timed
// and optionally forcing out an existing assignment.
func (h *DistributionHandler) Manual(ctx *gin.Context) {
	var req manualDistributeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := distribution.ManualInput{
		VideoID:    req.VideoID,
		AccountIDs: req.AccountIDs,
		Force:      req.Force,
	}
	if req.ScheduledAt != nil {
		in.ScheduledAt = *req.ScheduledAt
	}

	dists, err := h.matcher.ManualDistribute(ctx.Request.Context(), in)
	if err != nil {
		respondError(ctx, h.logger, "manual distribute", err)
		return
	}

	items := make([]distributionResponse, len(dists))
	for i, d := range dists {
		items[i] = toDistributionResponse(d)
	}
	ctx.JSON(http.StatusCreated, gin.H{"distributions": items})
}

// Retry returns a failed distribution to assigned so the next matching or
// scheduling pass picks it up again.
func (h *DistributionHandler) Retry(ctx *gin.Context) {
	id := ctx.Param("id")

	d, err := h.matcher.RetryFailed(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "retry distribution", err)
		return
	}

	ctx.JSON(http.StatusOK, toDistributionResponse(d))
}

func (h *DistributionHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))

	dists, err := h.matcher.Query(ctx.Request.Context(), repository.DistributionFilter{
		VideoID:   ctx.Query("video_id"),
		AccountID: ctx.Query("account_id"),
		Status:    domain.DistributionStatus(ctx.Query("status")),
		Method:    domain.DistributionMethod(ctx.Query("method")),
		Limit:     limit,
	})
	if err != nil {
		respondError(ctx, h.logger, "list distributions", err)
		return
	}

	items := make([]distributionResponse, len(dists))
	for i, d := range dists {
		items[i] = toDistributionResponse(d)
	}
	ctx.JSON(http.StatusOK, gin.H{"distributions": items})
}

func (h *DistributionHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	d, err := h.matcher.Get(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "get distribution", err)
		return
	}

	ctx.JSON(http.StatusOK, toDistributionResponse(d))
}

func (h *DistributionHandler) Stats(ctx *gin.Context) {
	var from, to time.Time
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		if raw := ctx.Query(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC3339"})
				return
			}
			*dst = t
		}
	}

	stats, err := h.matcher.Statistics(ctx.Request.Context(), ctx.Query("account_id"), from, to)
	if err != nil {
		respondError(ctx, h.logger, "distribution stats", err)
		return
	}

	ctx.JSON(http.StatusOK, toDistributionStatsResponse(stats))
}
