// Package orchestrator runs the coordination loop. The controller owns the
// start/stop/pause state machine, drives the job queue and the scheduling
// coordinator on a periodic poll tick, and serves the monitoring views the
// dashboard reads.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clipwave/internal/alert"
	"clipwave/internal/ctxmeta"
	"clipwave/internal/distribution"
	"clipwave/internal/domain"
	"clipwave/internal/metrics"
	"clipwave/internal/queue"
	"clipwave/internal/repository"
	"clipwave/internal/scheduling"
	"github.com/google/uuid"
)

// StepExecutor performs one pipeline step outside the coordination core:
// scraping metadata, downloading a source, transforming a clip, publishing.
// The controller supplies a per-call deadline; a returned error counts as a
// failed attempt against the job's retry budget.
type StepExecutor interface {
	Execute(ctx context.Context, job *domain.Job) (*StepResult, error)
}

// StepResult is what a finished step hands back.
type StepResult struct {
	// Payload carries step output for the audit log; its shape varies by
	// step and is not schema-bound.
	Payload map[string]any
}

// StepError attaches structured detail to a step failure. The detail is
// stored with the job's error record.
type StepError struct {
	Message string
	Details map[string]any
}

func (e *StepError) Error() string { return e.Message }

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Config tunes the controller loop. Zero values fall back to the defaults.
type Config struct {
	// TickInterval is how often the poll tick runs.
	TickInterval time.Duration
	// BatchSize caps how many jobs one tick dispatches.
	BatchSize int
	// StepTimeout is the deadline for a single pipeline-step call.
	StepTimeout time.Duration
	// StaleAfter is how long a job may sit in processing before a tick
	// reclaims it as abandoned. Keep it well above StepTimeout.
	StaleAfter time.Duration
	// DefaultLeadTime positions a publication when the caller names no time.
	DefaultLeadTime time.Duration
	// StaggerDelaySeconds is the offset between staggered publications when
	// the caller names none.
	StaggerDelaySeconds int
}

const (
	defaultTickInterval = time.Minute
	defaultBatchSize    = 10
	defaultStepTimeout  = 30 * time.Second
	defaultStaleAfter   = 10 * time.Minute
	defaultLeadTime     = 5 * time.Minute
	defaultStaggerDelay = 300
)

func (cfg Config) withDefaults() Config {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.DefaultLeadTime <= 0 {
		cfg.DefaultLeadTime = defaultLeadTime
	}
	if cfg.StaggerDelaySeconds <= 0 {
		cfg.StaggerDelaySeconds = defaultStaggerDelay
	}
	return cfg
}

type Controller struct {
	queue       *queue.Queue
	coordinator *scheduling.Coordinator
	matcher     *distribution.Matcher
	accounts    repository.AccountProvider
	videos      repository.VideoRepository
	executor    StepExecutor
	notifier    *alert.Notifier
	cfg         Config
	logger      *slog.Logger

	mu        sync.Mutex
	state     State
	startedAt time.Time
}

func NewController(
	q *queue.Queue,
	coordinator *scheduling.Coordinator,
	matcher *distribution.Matcher,
	accounts repository.AccountProvider,
	videos repository.VideoRepository,
	executor StepExecutor,
	notifier *alert.Notifier,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		queue:       q,
		coordinator: coordinator,
		matcher:     matcher,
		accounts:    accounts,
		videos:      videos,
		executor:    executor,
		notifier:    notifier,
		cfg:         cfg.withDefaults(),
		state:       StateStopped,
		logger:      logger.With("component", "controller"),
	}
}

// ---- lifecycle ----

// Start moves a stopped controller to running. Starting twice is a no-op,
// and so is starting a paused controller: that is what Resume is for.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopped {
		return
	}
	c.state = StateRunning
	c.startedAt = time.Now().UTC()
	metrics.ControllerStartTime.SetToCurrentTime()
	metrics.ControllerState.Set(1)
	c.logger.Info("controller started")
}

// Stop halts ticking from any state. Stopping twice is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStopped {
		return
	}
	c.state = StateStopped
	c.startedAt = time.Time{}
	metrics.ControllerState.Set(0)
	c.logger.Info("controller stopped")
}

// Pause suspends ticking without ending the running session.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return domain.ErrInvalidState
	}
	c.state = StatePaused
	metrics.ControllerState.Set(2)
	c.logger.Info("controller paused")
	return nil
}

func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return domain.ErrInvalidState
	}
	c.state = StateRunning
	metrics.ControllerState.Set(1)
	c.logger.Info("controller resumed")
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run starts the controller and ticks until the context is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.Start()
	defer c.Stop()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.PollTick(ctx); err != nil {
				c.logger.Error("poll tick failed", "error", err)
			}
		}
	}
}

// ---- poll tick ----

// TickReport summarizes one pass of the coordination loop.
type TickReport struct {
	StartedAt time.Time
	Duration  time.Duration

	// Skipped is set when the controller was not running.
	Skipped bool

	Reclaimed  int
	TimedOut   int
	Promoted   int
	Dispatched int
	Completed  int
	Failed     int
	Executions []domain.ExecutionResult
}

// PollTick runs one pass of the coordination loop when the controller is
// running; a paused or stopped controller reports a skipped tick.
func (c *Controller) PollTick(ctx context.Context) (*TickReport, error) {
	if c.State() != StateRunning {
		return &TickReport{StartedAt: time.Now().UTC(), Skipped: true}, nil
	}
	return c.tick(ctx)
}

// TriggerRun runs one tick on operator demand. It works on a paused
// controller too (the operator asked), but not on a stopped one.
func (c *Controller) TriggerRun(ctx context.Context) (*TickReport, error) {
	if c.State() == StateStopped {
		return nil, domain.ErrInvalidState
	}
	return c.tick(ctx)
}

// tick is one pass of the coordination loop: sweep abandoned jobs, promote
// retry-eligible ones, claim a bounded batch and hand each job to the step
// executor, then dispatch every publication that came due. Phase failures
// are collected rather than fatal, so one broken phase cannot starve the
// others.
func (c *Controller) tick(ctx context.Context) (*TickReport, error) {
	ctx = ctxmeta.WithTickID(ctx, ctxmeta.NewID())
	rep := &TickReport{StartedAt: time.Now().UTC()}

	start := time.Now()
	defer func() {
		rep.Duration = time.Since(start)
		metrics.TicksTotal.Inc()
		metrics.TickDuration.Observe(rep.Duration.Seconds())
	}()

	var errs []error

	requeued, exhausted, err := c.queue.ReclaimStale(ctx, c.cfg.StaleAfter)
	if err != nil {
		errs = append(errs, err)
	} else {
		rep.Reclaimed = requeued
		rep.TimedOut = len(exhausted)
		for _, j := range exhausted {
			c.jobExhausted(ctx, j)
		}
	}

	promoted, err := c.queue.PromoteReadyRetries(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		rep.Promoted = len(promoted)
	}

	// DequeueBatch hands back what it claimed even when it errors out
	// partway; those jobs are already marked processing and must run.
	jobs, err := c.queue.DequeueBatch(ctx, "", c.cfg.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	rep.Dispatched = len(jobs)
	for _, job := range jobs {
		c.dispatchJob(ctx, job, rep)
	}

	results, err := c.coordinator.ExecuteDue(ctx, time.Now().UTC())
	if err != nil {
		errs = append(errs, err)
	} else {
		rep.Executions = results
		for _, res := range results {
			if !res.Success {
				c.notifier.PublishFailed(ctx, res)
			}
		}
	}

	c.refreshQueueDepth(ctx)

	if len(errs) > 0 {
		return rep, fmt.Errorf("poll tick: %w", errors.Join(errs...))
	}
	c.logger.Debug("tick finished",
		"reclaimed", rep.Reclaimed,
		"promoted", rep.Promoted,
		"dispatched", rep.Dispatched,
		"completed", rep.Completed,
		"failed", rep.Failed,
		"executed", len(rep.Executions),
	)
	return rep, nil
}

func (c *Controller) dispatchJob(ctx context.Context, job *domain.Job, rep *TickReport) {
	stepCtx, cancel := context.WithTimeout(ctx, c.cfg.StepTimeout)
	res, err := c.executor.Execute(stepCtx, job)
	cancel()

	if err != nil {
		c.failJob(ctx, job, err)
		rep.Failed++
		return
	}

	if _, err := c.queue.Complete(ctx, job.ID); err != nil {
		c.logger.Error("job completion not recorded", "job_id", job.ID, "error", err)
		rep.Failed++
		return
	}
	c.advanceVideo(ctx, job, res)
	rep.Completed++
}

func (c *Controller) failJob(ctx context.Context, job *domain.Job, execErr error) {
	var details map[string]any
	var stepErr *StepError
	if errors.As(execErr, &stepErr) {
		details = stepErr.Details
	}

	failed, err := c.queue.Fail(ctx, job.ID, execErr.Error(), details)
	if err != nil {
		c.logger.Error("job failure not recorded", "job_id", job.ID, "error", err)
		return
	}
	if failed.Status == domain.JobStatusFailed {
		c.jobExhausted(ctx, failed)
	}
}

// jobExhausted handles a job out of retry budget: the video it was working
// on is failed and an operator alert goes out.
func (c *Controller) jobExhausted(ctx context.Context, job *domain.Job) {
	if _, err := c.videos.SetStatus(ctx, job.VideoID, domain.VideoStatusFailed); err != nil {
		c.logger.Error("video status not updated",
			"video_id", job.VideoID, "status", domain.VideoStatusFailed, "error", err)
	}
	c.notifier.JobExhausted(ctx, job)
}

// advanceVideo moves the video along the pipeline when a step completes.
// Scrape completions leave the status alone: metadata arriving changes
// nothing about where the video stands.
func (c *Controller) advanceVideo(ctx context.Context, job *domain.Job, res *StepResult) {
	var next domain.VideoStatus
	switch job.Type {
	case domain.JobTypeDownload:
		next = domain.VideoStatusProcessing
	case domain.JobTypeTransform:
		next = domain.VideoStatusReady
	case domain.JobTypePublish:
		next = domain.VideoStatusPublished
	default:
		return
	}
	if _, err := c.videos.SetStatus(ctx, job.VideoID, next); err != nil {
		c.logger.Error("video status not updated",
			"video_id", job.VideoID, "status", next, "error", err)
	}
	if res != nil && len(res.Payload) > 0 {
		c.logger.Debug("step result", "job_id", job.ID, "type", job.Type, "payload", res.Payload)
	}
}

var queueStatuses = []domain.JobStatus{
	domain.JobStatusQueued,
	domain.JobStatusProcessing,
	domain.JobStatusRetrying,
	domain.JobStatusCompleted,
	domain.JobStatusFailed,
}

func (c *Controller) refreshQueueDepth(ctx context.Context) {
	stats, err := c.queue.Statistics(ctx, "")
	if err != nil {
		c.logger.Warn("queue depth not refreshed", "error", err)
		return
	}
	for _, status := range queueStatuses {
		metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(stats.ByStatus[status]))
	}
}

// ---- intake ----

// RegisterInput describes a source video entering the pipeline.
type RegisterInput struct {
	SourceID  string
	Title     string
	SourceURL string
	Priority  int
}

// RegisterVideo admits a source video: it is persisted in new status and a
// scrape job is enqueued to fetch its metadata. When the enqueue fails the
// video stays registered and the created record is returned with the error,
// so the operator can requeue instead of re-registering.
func (c *Controller) RegisterVideo(ctx context.Context, in RegisterInput) (*domain.Video, *domain.Job, error) {
	if in.SourceURL == "" {
		return nil, nil, domain.NewValidationError("source_url", "must not be empty")
	}

	video, err := c.videos.Create(ctx, &domain.Video{
		SourceID:  in.SourceID,
		Title:     in.Title,
		SourceURL: in.SourceURL,
		Status:    domain.VideoStatusNew,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register video: %w", err)
	}

	job, err := c.queue.Enqueue(ctx, queue.EnqueueInput{
		VideoID:  video.ID,
		Type:     domain.JobTypeScrape,
		Priority: in.Priority,
	})
	if err != nil {
		return video, nil, fmt.Errorf("register video %s: %w", video.ID, err)
	}

	c.logger.Info("video registered", "video_id", video.ID, "source_url", in.SourceURL)
	return video, job, nil
}

// GetVideo reads one registered video.
func (c *Controller) GetVideo(ctx context.Context, id string) (*domain.Video, error) {
	v, err := c.videos.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

// ---- publication entry points ----

type PublicationInput struct {
	VideoID    string
	AccountIDs []string
	Timing     domain.ScheduleType
	// ScheduledAt defaults to now plus the configured lead time.
	ScheduledAt *time.Time
	// DelaySeconds applies to staggered timing; zero takes the configured
	// default.
	DelaySeconds int
}

// CoordinatePublication plans one video's publication across the given
// accounts with the requested timing. Independent timing creates one
// uncoordinated schedule per account; a failure partway returns what was
// created next to the error.
func (c *Controller) CoordinatePublication(ctx context.Context, in PublicationInput) ([]*domain.Schedule, error) {
	at := c.resolveAt(in.ScheduledAt)

	switch in.Timing {
	case domain.ScheduleTypeSimultaneous:
		return c.coordinator.CreateSimultaneous(ctx, scheduling.SimultaneousInput{
			VideoID:    in.VideoID,
			AccountIDs: in.AccountIDs,
			At:         at,
		})

	case domain.ScheduleTypeStaggered:
		return c.coordinator.CreateStaggered(ctx, scheduling.StaggeredInput{
			VideoID:      in.VideoID,
			AccountIDs:   in.AccountIDs,
			StartAt:      at,
			DelaySeconds: c.resolveDelay(in.DelaySeconds),
		})

	case domain.ScheduleTypeIndependent:
		if len(in.AccountIDs) == 0 {
			return nil, domain.NewValidationError("account_ids", "at least one account is required")
		}
		out := make([]*domain.Schedule, 0, len(in.AccountIDs))
		for _, accountID := range in.AccountIDs {
			s, err := c.coordinator.CreateIndependent(ctx, scheduling.IndependentInput{
				AccountID: accountID,
				At:        at,
				VideoID:   &in.VideoID,
			})
			if err != nil {
				return out, err
			}
			out = append(out, s)
		}
		return out, nil

	default:
		return nil, domain.NewValidationError("timing", "unknown coordination type %q", in.Timing)
	}
}

// WaveConfig shapes a campaign wave.
type WaveConfig struct {
	// Timing is simultaneous (default) or staggered.
	Timing domain.ScheduleType
	// ScheduledAt defaults to now plus the configured lead time.
	ScheduledAt *time.Time
	// DelaySeconds applies to staggered waves; zero takes the configured
	// default.
	DelaySeconds int
}

type WaveReport struct {
	WaveID    string
	Schedules []*domain.Schedule
}

// ScheduleWave publishes every video on every account under one campaign
// wave. Simultaneous waves land in a single transaction; staggered waves
// roll out video by video, each offset one delay step from the last.
func (c *Controller) ScheduleWave(ctx context.Context, videoIDs, accountIDs []string, cfg WaveConfig) (*WaveReport, error) {
	at := c.resolveAt(cfg.ScheduledAt)

	switch cfg.Timing {
	case "", domain.ScheduleTypeSimultaneous:
		schedules, waveID, err := c.coordinator.CreateWave(ctx, scheduling.WaveInput{
			VideoIDs:   videoIDs,
			AccountIDs: accountIDs,
			At:         at,
		})
		if err != nil {
			return nil, err
		}
		return &WaveReport{WaveID: waveID, Schedules: schedules}, nil

	case domain.ScheduleTypeStaggered:
		return c.staggeredWave(ctx, videoIDs, accountIDs, at, cfg.DelaySeconds)

	default:
		return nil, domain.NewValidationError("timing", "a wave is simultaneous or staggered, not %q", cfg.Timing)
	}
}

// staggeredWave creates one staggered group per video under a shared wave
// id. Video i starts one delay step after video i-1, so no account is ever
// asked to publish two wave videos at the same instant. Groups created
// before a failure stay; the report lists them next to the error.
func (c *Controller) staggeredWave(ctx context.Context, videoIDs, accountIDs []string, at time.Time, delaySeconds int) (*WaveReport, error) {
	if len(videoIDs) == 0 {
		return nil, domain.NewValidationError("video_ids", "at least one video is required")
	}
	delay := c.resolveDelay(delaySeconds)
	waveID := uuid.NewString()
	rep := &WaveReport{WaveID: waveID}

	seen := make(map[string]struct{}, len(videoIDs))
	step := 0
	for _, videoID := range videoIDs {
		if _, dup := seen[videoID]; dup {
			continue
		}
		seen[videoID] = struct{}{}

		start := at.Add(time.Duration(step*delay) * time.Second)
		step++

		batch, err := c.coordinator.CreateStaggered(ctx, scheduling.StaggeredInput{
			VideoID:      videoID,
			AccountIDs:   accountIDs,
			StartAt:      start,
			DelaySeconds: delay,
			WaveID:       &waveID,
		})
		if err != nil {
			return rep, fmt.Errorf("wave %s: video %s: %w", waveID, videoID, err)
		}
		rep.Schedules = append(rep.Schedules, batch...)
	}

	metrics.WavesScheduledTotal.Inc()
	c.logger.Info("wave scheduled",
		"wave_id", waveID,
		"type", domain.ScheduleTypeStaggered,
		"videos", len(seen),
		"accounts", len(accountIDs),
		"schedules", len(rep.Schedules),
	)
	return rep, nil
}

func (c *Controller) resolveAt(at *time.Time) time.Time {
	if at != nil {
		return at.UTC()
	}
	return time.Now().UTC().Add(c.cfg.DefaultLeadTime)
}

func (c *Controller) resolveDelay(seconds int) int {
	if seconds > 0 {
		return seconds
	}
	return c.cfg.StaggerDelaySeconds
}

// ---- monitoring views ----

const (
	monitorStatsWindow = 7 * 24 * time.Hour
	recentErrorLimit   = 5
)

// AccountStatus is one row of the account health view.
type AccountStatus struct {
	AccountID string
	Name      string
	Platform  string
	Active    bool

	// Healthy means active with publishing credentials configured.
	Healthy bool
	Issues  []string

	ActiveSchedules int
	RecentStats     *domain.DistributionStats
	RecentErrors    []string
}

// MonitorAccounts reports the health of every account: configuration gaps,
// live schedule load, the last week's distribution outcomes and recent
// failure messages. Read-only; nothing is mutated.
func (c *Controller) MonitorAccounts(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := c.accounts.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("monitor accounts: %w", err)
	}

	now := time.Now().UTC()
	out := make([]AccountStatus, 0, len(accounts))
	for _, a := range accounts {
		st := AccountStatus{
			AccountID: a.ID,
			Name:      a.Name,
			Platform:  a.Platform,
			Active:    a.Active,
		}
		if !a.Active {
			st.Issues = append(st.Issues, "account is deactivated")
		}
		if a.Repository == "" {
			st.Issues = append(st.Issues, "no publish repository configured")
		}
		if a.CredentialRef == "" {
			st.Issues = append(st.Issues, "no credential reference configured")
		}
		st.Healthy = len(st.Issues) == 0

		active, err := c.coordinator.ActiveForAccount(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("monitor accounts: schedules for %s: %w", a.ID, err)
		}
		st.ActiveSchedules = len(active)

		stats, err := c.matcher.Statistics(ctx, a.ID, now.Add(-monitorStatsWindow), time.Time{})
		if err != nil {
			return nil, fmt.Errorf("monitor accounts: stats for %s: %w", a.ID, err)
		}
		st.RecentStats = stats

		failed, err := c.matcher.Query(ctx, repository.DistributionFilter{
			AccountID: a.ID,
			Status:    domain.DistributionFailed,
			Limit:     recentErrorLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("monitor accounts: failures for %s: %w", a.ID, err)
		}
		for _, d := range failed {
			if d.ErrorMessage != nil {
				st.RecentErrors = append(st.RecentErrors, *d.ErrorMessage)
			}
		}

		out = append(out, st)
	}
	return out, nil
}

// SystemStatus describes the controller itself.
type SystemStatus struct {
	State         State
	StartedAt     *time.Time
	UptimeSeconds int
	QueuePaused   bool
}

// AccountSummary condenses the account health view for the dashboard.
type AccountSummary struct {
	Total   int
	Active  int
	Healthy int
}

// DashboardSnapshot is one self-contained read of the whole system.
type DashboardSnapshot struct {
	GeneratedAt   time.Time
	System        SystemStatus
	Accounts      AccountSummary
	Jobs          *domain.JobStats
	Distributions *domain.DistributionStats
	Schedules     map[domain.ScheduleStatus]int
}

func (c *Controller) DashboardSnapshot(ctx context.Context) (*DashboardSnapshot, error) {
	now := time.Now().UTC()

	jobs, err := c.queue.Statistics(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	dists, err := c.matcher.Statistics(ctx, "", time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	schedules, err := c.coordinator.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}

	statuses, err := c.MonitorAccounts(ctx)
	if err != nil {
		return nil, err
	}
	accounts := AccountSummary{Total: len(statuses)}
	for _, st := range statuses {
		if st.Active {
			accounts.Active++
		}
		if st.Healthy {
			accounts.Healthy++
		}
	}

	return &DashboardSnapshot{
		GeneratedAt:   now,
		System:        c.systemStatus(now),
		Accounts:      accounts,
		Jobs:          jobs,
		Distributions: dists,
		Schedules:     schedules,
	}, nil
}

// Status reports the controller's lifecycle state and uptime.
func (c *Controller) Status() SystemStatus {
	return c.systemStatus(time.Now().UTC())
}

func (c *Controller) systemStatus(now time.Time) SystemStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := SystemStatus{
		State:       c.state,
		QueuePaused: c.queue.IsPaused(),
	}
	if c.state != StateStopped && !c.startedAt.IsZero() {
		started := c.startedAt
		st.StartedAt = &started
		st.UptimeSeconds = int(now.Sub(started).Seconds())
	}
	return st
}
