package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"clipwave/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer       = "Internal server error"
	errJobNotFound          = "Job not found"
	errScheduleNotFound     = "Schedule not found"
	errDistributionNotFound = "Distribution not found"
	errVideoNotFound        = "Video not found"
	errAccountNotFound      = "Account not found"
	errInvalidState         = "Operation not allowed in current state"
	errDuplicateAssignment  = "Video is already assigned to this account"
	errRetriesExhausted     = "Retry budget exhausted"
)

// respondError maps a component error onto the wire: validation problems are
// 400 with the offending field, conflicts 409 with the conflicting id,
// missing records 404, anything else a logged 500.
func respondError(ctx *gin.Context, logger *slog.Logger, op string, err error) {
	var verr *domain.ValidationError
	var cerr *domain.ConflictError
	switch {
	case errors.As(err, &verr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &cerr):
		ctx.JSON(http.StatusConflict, gin.H{"error": cerr.Error(), "conflicting_id": cerr.ConflictingID})
	case errors.Is(err, domain.ErrDuplicateAssignment):
		ctx.JSON(http.StatusConflict, gin.H{"error": errDuplicateAssignment})
	case errors.Is(err, domain.ErrRetriesExhausted):
		ctx.JSON(http.StatusConflict, gin.H{"error": errRetriesExhausted})
	case errors.Is(err, domain.ErrInvalidState):
		ctx.JSON(http.StatusConflict, gin.H{"error": errInvalidState})
	case errors.Is(err, domain.ErrJobNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
	case errors.Is(err, domain.ErrScheduleNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
	case errors.Is(err, domain.ErrDistributionNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errDistributionNotFound})
	case errors.Is(err, domain.ErrVideoNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errVideoNotFound})
	case errors.Is(err, domain.ErrAccountNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": errAccountNotFound})
	default:
		logger.Error(op, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
