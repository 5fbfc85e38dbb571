package httptransport

import (
	"log/slog"

	"clipwave/internal/transport/http/handler"
	"clipwave/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// Handlers bundles the endpoint handlers the router mounts.
type Handlers struct {
	Video        *handler.VideoHandler
	Job          *handler.JobHandler
	Schedule     *handler.ScheduleHandler
	Distribution *handler.DistributionHandler
	Account      *handler.AccountHandler
	Control      *handler.ControlHandler
}

func NewRouter(logger *slog.Logger, h Handlers, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(jwtKey)

	api := r.Group("/api/v1", authMW)

	videos := api.Group("/videos")
	videos.POST("", h.Video.Register)
	videos.GET("/:id", h.Video.GetByID)

	jobs := api.Group("/jobs")
	jobs.POST("", h.Job.Enqueue)
	jobs.GET("", h.Job.List)
	jobs.GET("/stats", h.Job.Stats)
	jobs.GET("/:id", h.Job.GetByID)

	queue := api.Group("/queue")
	queue.POST("/pause", h.Job.PauseQueue)
	queue.POST("/resume", h.Job.ResumeQueue)

	schedules := api.Group("/schedules")
	schedules.POST("", h.Schedule.Create)
	schedules.GET("", h.Schedule.List)
	schedules.GET("/:id", h.Schedule.GetByID)
	schedules.GET("/:id/validate", h.Schedule.Validate)
	schedules.POST("/:id/pause", h.Schedule.Pause)
	schedules.POST("/:id/resume", h.Schedule.Resume)
	schedules.POST("/:id/reschedule", h.Schedule.Reschedule)
	schedules.DELETE("/:id", h.Schedule.Cancel)

	api.POST("/waves", h.Schedule.CreateWave)

	distributions := api.Group("/distributions")
	distributions.POST("/match/filters", h.Distribution.MatchFilters)
	distributions.POST("/match/schedule", h.Distribution.MatchSchedule)
	distributions.POST("/manual", h.Distribution.Manual)
	distributions.POST("/:id/retry", h.Distribution.Retry)
	distributions.GET("", h.Distribution.List)
	distributions.GET("/stats", h.Distribution.Stats)
	distributions.GET("/:id", h.Distribution.GetByID)

	accounts := api.Group("/accounts")
	accounts.GET("", h.Account.Monitor)
	accounts.POST("/:id/pause", h.Account.PauseSchedules)
	accounts.POST("/:id/resume", h.Account.ResumeSchedules)

	control := api.Group("/control")
	control.POST("/start", h.Control.Start)
	control.POST("/stop", h.Control.Stop)
	control.POST("/pause", h.Control.Pause)
	control.POST("/resume", h.Control.Resume)
	control.POST("/tick", h.Control.Tick)
	control.GET("/status", h.Control.Status)

	api.GET("/dashboard", h.Control.Dashboard)

	return r
}
