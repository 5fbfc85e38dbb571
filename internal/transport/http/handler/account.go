package handler

import (
	"log/slog"
	"net/http"

	"clipwave/internal/orchestrator"
	"clipwave/internal/scheduling"
	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	ctrl        *orchestrator.Controller
	coordinator *scheduling.Coordinator
	logger      *slog.Logger
}

func NewAccountHandler(ctrl *orchestrator.Controller, coordinator *scheduling.Coordinator, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		ctrl:        ctrl,
		coordinator: coordinator,
		logger:      logger.With("component", "account_handler"),
	}
}

type accountStatusResponse struct {
	AccountID       string                     `json:"account_id"`
	Name            string                     `json:"name"`
	Platform        string                     `json:"platform"`
	Active          bool                       `json:"active"`
	Healthy         bool                       `json:"healthy"`
	Issues          []string                   `json:"issues,omitempty"`
	ActiveSchedules int                        `json:"active_schedules"`
	RecentStats     *distributionStatsResponse `json:"recent_stats,omitempty"`
	RecentErrors    []string                   `json:"recent_errors,omitempty"`
}

// Monitor reports per-account health: configuration gaps, schedule load,
// and the last week's distribution outcomes.
func (h *AccountHandler) Monitor(ctx *gin.Context) {
	statuses, err := h.ctrl.MonitorAccounts(ctx.Request.Context())
	if err != nil {
		respondError(ctx, h.logger, "monitor accounts", err)
		return
	}

	items := make([]accountStatusResponse, len(statuses))
	for i, st := range statuses {
		item := accountStatusResponse{
			AccountID:       st.AccountID,
			Name:            st.Name,
			Platform:        st.Platform,
			Active:          st.Active,
			Healthy:         st.Healthy,
			Issues:          st.Issues,
			ActiveSchedules: st.ActiveSchedules,
			RecentErrors:    st.RecentErrors,
		}
		if st.RecentStats != nil {
			stats := toDistributionStatsResponse(st.RecentStats)
			item.RecentStats = &stats
		}
		items[i] = item
	}
	ctx.JSON(http.StatusOK, gin.H{"accounts": items})
}

// PauseSchedules holds every live schedule on the account.
func (h *AccountHandler) PauseSchedules(ctx *gin.Context) {
	id := ctx.Param("id")

	n, err := h.coordinator.PauseForAccount(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "pause account schedules", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"paused": n})
}

func (h *AccountHandler) ResumeSchedules(ctx *gin.Context) {
	id := ctx.Param("id")

	n, err := h.coordinator.ResumeForAccount(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, h.logger, "resume account schedules", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"resumed": n})
}
