// Package scheduling plans publications across accounts and executes the
// ones that come due. Coordinated groups publish one video simultaneously
// or on a staggered rollout; independent schedules stand alone; a wave
// spans several videos and accounts under one campaign id.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/metrics"
	"clipwave/internal/repository"
	"github.com/google/uuid"
)

// dueBatchLimit caps how many due schedules one ExecuteDue pass claims.
// Anything beyond it is picked up on the next tick.
const dueBatchLimit = 50

// PublishTrigger hands a due schedule to whatever performs the actual
// platform upload. Implementations must be safe for concurrent use.
type PublishTrigger interface {
	Dispatch(ctx context.Context, s *domain.Schedule) error
}

type Coordinator struct {
	schedules repository.ScheduleRepository
	videos    repository.VideoRepository
	accounts  repository.AccountProvider
	trigger   PublishTrigger
	logger    *slog.Logger
}

func NewCoordinator(
	schedules repository.ScheduleRepository,
	videos repository.VideoRepository,
	accounts repository.AccountProvider,
	trigger PublishTrigger,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		schedules: schedules,
		videos:    videos,
		accounts:  accounts,
		trigger:   trigger,
		logger:    logger.With("component", "coordinator"),
	}
}

// ---- creation ----

type SimultaneousInput struct {
	VideoID    string
	AccountIDs []string
	At         time.Time
	// WaveID attaches the group to an existing campaign wave.
	WaveID *string
}

// CreateSimultaneous schedules one video on every account at the same
// instant. The schedules share a fresh coordination group id.
func (c *Coordinator) CreateSimultaneous(ctx context.Context, in SimultaneousInput) ([]*domain.Schedule, error) {
	if in.VideoID == "" {
		return nil, domain.NewValidationError("video_id", "is required")
	}
	if err := c.checkVideo(ctx, in.VideoID); err != nil {
		return nil, err
	}
	if err := checkAccountIDs(in.AccountIDs); err != nil {
		return nil, err
	}
	if err := checkFuture(in.At); err != nil {
		return nil, err
	}

	groupID := uuid.NewString()
	probe := &domain.Schedule{CoordinationGroupID: &groupID, WaveID: in.WaveID}
	batch := make([]*domain.Schedule, 0, len(in.AccountIDs))
	for _, accountID := range in.AccountIDs {
		if err := c.checkSlot(ctx, accountID, &in.VideoID, in.At, probe); err != nil {
			return nil, err
		}
		batch = append(batch, &domain.Schedule{
			AccountID:           accountID,
			VideoID:             &in.VideoID,
			Type:                domain.ScheduleTypeSimultaneous,
			ScheduledAt:         in.At.UTC(),
			Status:              domain.ScheduleStatusScheduled,
			CoordinationGroupID: &groupID,
			WaveID:              in.WaveID,
		})
	}

	created, err := c.schedules.CreateBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("create simultaneous group: %w", err)
	}
	metrics.SchedulesCreatedTotal.WithLabelValues(string(domain.ScheduleTypeSimultaneous)).Add(float64(len(created)))
	c.logger.Info("simultaneous group created",
		"group_id", groupID,
		"video_id", in.VideoID,
		"accounts", len(created),
		"scheduled_at", in.At.UTC(),
	)
	return created, nil
}

type StaggeredInput struct {
	VideoID      string
	AccountIDs   []string
	StartAt      time.Time
	DelaySeconds int
	// WaveID attaches the group to an existing campaign wave.
	WaveID *string
}

// CreateStaggered schedules one video on the accounts in order, each one
// DelaySeconds after the previous. The first fires at StartAt.
func (c *Coordinator) CreateStaggered(ctx context.Context, in StaggeredInput) ([]*domain.Schedule, error) {
	if in.VideoID == "" {
		return nil, domain.NewValidationError("video_id", "is required")
	}
	if in.DelaySeconds <= 0 {
		return nil, domain.NewValidationError("delay_seconds", "must be positive")
	}
	if err := c.checkVideo(ctx, in.VideoID); err != nil {
		return nil, err
	}
	if err := checkAccountIDs(in.AccountIDs); err != nil {
		return nil, err
	}
	if err := checkFuture(in.StartAt); err != nil {
		return nil, err
	}

	groupID := uuid.NewString()
	probe := &domain.Schedule{CoordinationGroupID: &groupID, WaveID: in.WaveID}
	batch := make([]*domain.Schedule, 0, len(in.AccountIDs))
	for i, accountID := range in.AccountIDs {
		offset := i * in.DelaySeconds
		at := in.StartAt.UTC().Add(time.Duration(offset) * time.Second)
		if err := c.checkSlot(ctx, accountID, &in.VideoID, at, probe); err != nil {
			return nil, err
		}
		delay := offset
		batch = append(batch, &domain.Schedule{
			AccountID:           accountID,
			VideoID:             &in.VideoID,
			Type:                domain.ScheduleTypeStaggered,
			ScheduledAt:         at,
			DelaySeconds:        &delay,
			Status:              domain.ScheduleStatusScheduled,
			CoordinationGroupID: &groupID,
			WaveID:              in.WaveID,
		})
	}

	created, err := c.schedules.CreateBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("create staggered group: %w", err)
	}
	metrics.SchedulesCreatedTotal.WithLabelValues(string(domain.ScheduleTypeStaggered)).Add(float64(len(created)))
	c.logger.Info("staggered group created",
		"group_id", groupID,
		"video_id", in.VideoID,
		"accounts", len(created),
		"start_at", in.StartAt.UTC(),
		"delay_seconds", in.DelaySeconds,
	)
	return created, nil
}

type IndependentInput struct {
	AccountID string
	At        time.Time
	// VideoID may be nil: an independent slot can be reserved first and
	// matched to a video later.
	VideoID *string
}

// PrepareIndependent runs every independent-schedule validation and returns
// the shaped, unsaved schedule. The distribution matcher uses it to persist
// the schedule in the same transaction as the assignment it backs.
func (c *Coordinator) PrepareIndependent(ctx context.Context, in IndependentInput) (*domain.Schedule, error) {
	if in.AccountID == "" {
		return nil, domain.NewValidationError("account_id", "is required")
	}
	if in.VideoID != nil {
		if err := c.checkVideo(ctx, *in.VideoID); err != nil {
			return nil, err
		}
	}
	if err := checkFuture(in.At); err != nil {
		return nil, err
	}
	if err := c.checkSlot(ctx, in.AccountID, in.VideoID, in.At, &domain.Schedule{}); err != nil {
		return nil, err
	}
	return &domain.Schedule{
		AccountID:   in.AccountID,
		VideoID:     in.VideoID,
		Type:        domain.ScheduleTypeIndependent,
		ScheduledAt: in.At.UTC(),
		Status:      domain.ScheduleStatusScheduled,
	}, nil
}

// CreateIndependent schedules a single publication with no coordination
// group.
func (c *Coordinator) CreateIndependent(ctx context.Context, in IndependentInput) (*domain.Schedule, error) {
	prepared, err := c.PrepareIndependent(ctx, in)
	if err != nil {
		return nil, err
	}
	created, err := c.schedules.Create(ctx, prepared)
	if err != nil {
		return nil, fmt.Errorf("create independent schedule: %w", err)
	}
	metrics.SchedulesCreatedTotal.WithLabelValues(string(domain.ScheduleTypeIndependent)).Inc()
	c.logger.Info("independent schedule created",
		"schedule_id", created.ID,
		"account_id", created.AccountID,
		"scheduled_at", created.ScheduledAt,
	)
	return created, nil
}

type WaveInput struct {
	VideoIDs   []string
	AccountIDs []string
	At         time.Time
}

// CreateWave schedules every video on every account at the same instant.
// Each video gets its own simultaneous coordination group; all groups share
// one wave id, which exempts them from conflict checks against each other.
// The whole wave is persisted atomically and the wave id is returned.
func (c *Coordinator) CreateWave(ctx context.Context, in WaveInput) ([]*domain.Schedule, string, error) {
	if len(in.VideoIDs) == 0 {
		return nil, "", domain.NewValidationError("video_ids", "at least one video is required")
	}
	seen := make(map[string]struct{}, len(in.VideoIDs))
	for _, videoID := range in.VideoIDs {
		if _, dup := seen[videoID]; dup {
			return nil, "", domain.NewValidationError("video_ids", "duplicate video %q", videoID)
		}
		seen[videoID] = struct{}{}
		if err := c.checkVideo(ctx, videoID); err != nil {
			return nil, "", err
		}
	}
	if err := checkAccountIDs(in.AccountIDs); err != nil {
		return nil, "", err
	}
	if err := checkFuture(in.At); err != nil {
		return nil, "", err
	}

	waveID := uuid.NewString()
	probe := &domain.Schedule{WaveID: &waveID}
	batch := make([]*domain.Schedule, 0, len(in.VideoIDs)*len(in.AccountIDs))
	for _, videoID := range in.VideoIDs {
		groupID := uuid.NewString()
		for _, accountID := range in.AccountIDs {
			vid := videoID
			gid := groupID
			if err := c.checkSlot(ctx, accountID, &vid, in.At, probe); err != nil {
				return nil, "", err
			}
			batch = append(batch, &domain.Schedule{
				AccountID:           accountID,
				VideoID:             &vid,
				Type:                domain.ScheduleTypeSimultaneous,
				ScheduledAt:         in.At.UTC(),
				Status:              domain.ScheduleStatusScheduled,
				CoordinationGroupID: &gid,
				WaveID:              &waveID,
			})
		}
	}

	created, err := c.schedules.CreateBatch(ctx, batch)
	if err != nil {
		return nil, "", fmt.Errorf("create wave: %w", err)
	}
	metrics.WavesScheduledTotal.Inc()
	metrics.SchedulesCreatedTotal.WithLabelValues(string(domain.ScheduleTypeSimultaneous)).Add(float64(len(created)))
	c.logger.Info("wave scheduled",
		"wave_id", waveID,
		"videos", len(in.VideoIDs),
		"accounts", len(in.AccountIDs),
		"schedules", len(created),
		"scheduled_at", in.At.UTC(),
	)
	return created, waveID, nil
}

// ---- validation ----

// Issue codes reported by Validate.
const (
	IssuePastDue        = "scheduled_in_past"
	IssueDuplicatePair  = "duplicate_pair"
	IssueConflictWindow = "conflict_window"
)

// ValidationIssue flags one problem found on a schedule.
type ValidationIssue struct {
	Code          string
	Message       string
	ConflictingID string
}

type ValidationReport struct {
	ScheduleID string
	Valid      bool
	Issues     []ValidationIssue
}

// Validate re-checks a schedule against the current state of the account:
// its time must not have slipped into the past, no other live schedule may
// target the same (video, account) pair, and no unrelated schedule on the
// account may sit inside the conflict window. Schedules of one campaign
// (shared group or wave) never conflict with each other.
func (c *Coordinator) Validate(ctx context.Context, scheduleID string) (*ValidationReport, error) {
	s, err := c.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{ScheduleID: s.ID, Valid: true}
	// A closed schedule has nothing left to conflict with.
	if s.Status.Terminal() {
		return report, nil
	}

	if s.Status != domain.ScheduleStatusExecuting && s.ScheduledAt.Before(time.Now().UTC()) {
		report.Issues = append(report.Issues, ValidationIssue{
			Code:    IssuePastDue,
			Message: fmt.Sprintf("scheduled_at %s is in the past", s.ScheduledAt.Format(time.RFC3339)),
		})
	}

	others, err := c.schedules.ListActiveByAccount(ctx, s.AccountID)
	if err != nil {
		return nil, fmt.Errorf("list active schedules for account %s: %w", s.AccountID, err)
	}
	for _, o := range others {
		if o.ID == s.ID {
			continue
		}
		if s.VideoID != nil && o.VideoID != nil && *o.VideoID == *s.VideoID {
			report.Issues = append(report.Issues, ValidationIssue{
				Code:          IssueDuplicatePair,
				Message:       fmt.Sprintf("video %s is already scheduled on this account", *s.VideoID),
				ConflictingID: o.ID,
			})
		}
		if !s.SameCampaign(o) && within(s.ScheduledAt, o.ScheduledAt, domain.ConflictWindow) {
			report.Issues = append(report.Issues, ValidationIssue{
				Code:          IssueConflictWindow,
				Message:       fmt.Sprintf("another publication on this account is within %s", domain.ConflictWindow),
				ConflictingID: o.ID,
			})
		}
	}

	report.Valid = len(report.Issues) == 0
	return report, nil
}

// ---- execution ----

// ExecuteDue claims every unpaused schedule due at or before the given
// instant and dispatches each one. Failures are isolated: a schedule that
// fails to publish is marked failed and the pass moves on. The returned
// results are ordered by scheduled time.
func (c *Coordinator) ExecuteDue(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error) {
	claimed, err := c.schedules.ClaimDue(ctx, before, dueBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}

	results := make([]domain.ExecutionResult, 0, len(claimed))
	for _, s := range claimed {
		results = append(results, c.execute(ctx, s))
	}
	return results, nil
}

func (c *Coordinator) execute(ctx context.Context, s *domain.Schedule) domain.ExecutionResult {
	res := domain.ExecutionResult{ScheduleID: s.ID, AccountID: s.AccountID}
	if s.VideoID != nil {
		res.VideoID = *s.VideoID
	}

	start := time.Now()
	err := c.dispatch(ctx, s)
	metrics.ScheduleDispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		res.Error = err.Error()
		metrics.SchedulesExecutedTotal.WithLabelValues("failure").Inc()
		if _, mErr := c.schedules.MarkFailed(ctx, s.ID, err.Error()); mErr != nil {
			c.logger.Error("failed to record schedule failure", "schedule_id", s.ID, "error", mErr)
		}
		c.logger.Warn("schedule dispatch failed",
			"schedule_id", s.ID,
			"account_id", s.AccountID,
			"video_id", res.VideoID,
			"error", err,
		)
		return res
	}

	res.Success = true
	metrics.SchedulesExecutedTotal.WithLabelValues("success").Inc()
	if _, mErr := c.schedules.MarkCompleted(ctx, s.ID); mErr != nil {
		c.logger.Error("failed to record schedule completion", "schedule_id", s.ID, "error", mErr)
	}
	if s.VideoID != nil {
		if _, vErr := c.videos.SetStatus(ctx, *s.VideoID, domain.VideoStatusPublished); vErr != nil {
			c.logger.Error("failed to mark video published", "video_id", *s.VideoID, "error", vErr)
		}
	}
	c.logger.Info("schedule executed",
		"schedule_id", s.ID,
		"account_id", s.AccountID,
		"video_id", res.VideoID,
	)
	return res
}

func (c *Coordinator) dispatch(ctx context.Context, s *domain.Schedule) error {
	if s.VideoID == nil {
		return errors.New("schedule has no video attached")
	}
	return c.trigger.Dispatch(ctx, s)
}

// ---- lifecycle ----

func (c *Coordinator) Pause(ctx context.Context, id string) (*domain.Schedule, error) {
	s, err := c.schedules.SetPaused(ctx, id, true)
	if err != nil {
		return nil, err
	}
	c.logger.Info("schedule paused", "schedule_id", id)
	return s, nil
}

func (c *Coordinator) Resume(ctx context.Context, id string) (*domain.Schedule, error) {
	s, err := c.schedules.SetPaused(ctx, id, false)
	if err != nil {
		return nil, err
	}
	c.logger.Info("schedule resumed", "schedule_id", id)
	return s, nil
}

// PauseForAccount pauses every active schedule on the account and reports
// how many changed.
func (c *Coordinator) PauseForAccount(ctx context.Context, accountID string) (int, error) {
	if _, err := c.accounts.GetByID(ctx, accountID); err != nil {
		return 0, err
	}
	n, err := c.schedules.SetPausedForAccount(ctx, accountID, true)
	if err != nil {
		return 0, fmt.Errorf("pause schedules for account %s: %w", accountID, err)
	}
	c.logger.Info("account schedules paused", "account_id", accountID, "count", n)
	return n, nil
}

// ResumeForAccount resumes every active schedule on the account and reports
// how many changed.
func (c *Coordinator) ResumeForAccount(ctx context.Context, accountID string) (int, error) {
	if _, err := c.accounts.GetByID(ctx, accountID); err != nil {
		return 0, err
	}
	n, err := c.schedules.SetPausedForAccount(ctx, accountID, false)
	if err != nil {
		return 0, fmt.Errorf("resume schedules for account %s: %w", accountID, err)
	}
	c.logger.Info("account schedules resumed", "account_id", accountID, "count", n)
	return n, nil
}

// Cancel closes a schedule before it runs. Cancelling twice is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, id string) (*domain.Schedule, error) {
	s, err := c.schedules.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	c.logger.Info("schedule cancelled", "schedule_id", id)
	return s, nil
}

// Reschedule moves a pending, scheduled or failed schedule to a new future
// time.
func (c *Coordinator) Reschedule(ctx context.Context, id string, at time.Time) (*domain.Schedule, error) {
	if err := checkFuture(at); err != nil {
		return nil, err
	}
	s, err := c.schedules.Reschedule(ctx, id, at.UTC())
	if err != nil {
		return nil, err
	}
	c.logger.Info("schedule moved", "schedule_id", id, "scheduled_at", s.ScheduledAt)
	return s, nil
}

// ---- queries ----

func (c *Coordinator) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	return c.schedules.GetByID(ctx, id)
}

func (c *Coordinator) Query(ctx context.Context, f repository.ScheduleFilter) ([]*domain.Schedule, error) {
	return c.schedules.List(ctx, f)
}

// ActiveForAccount returns the account's non-terminal schedules, soonest
// first.
func (c *Coordinator) ActiveForAccount(ctx context.Context, accountID string) ([]*domain.Schedule, error) {
	return c.schedules.ListActiveByAccount(ctx, accountID)
}

// StatusCounts reports how many schedules sit in each status.
func (c *Coordinator) StatusCounts(ctx context.Context) (map[domain.ScheduleStatus]int, error) {
	return c.schedules.CountByStatus(ctx)
}

// ---- checks ----

func checkAccountIDs(ids []string) error {
	if len(ids) == 0 {
		return domain.NewValidationError("account_ids", "at least one account is required")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return domain.NewValidationError("account_ids", "duplicate account %q", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func checkFuture(at time.Time) error {
	if !at.After(time.Now().UTC()) {
		return domain.NewValidationError("scheduled_at", "must be in the future")
	}
	return nil
}

func (c *Coordinator) checkVideo(ctx context.Context, videoID string) error {
	if _, err := c.videos.GetByID(ctx, videoID); err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return domain.NewValidationError("video_id", "unknown video %q", videoID)
		}
		return fmt.Errorf("get video %s: %w", videoID, err)
	}
	return nil
}

// checkSlot validates one planned (account, video, time) slot. The account
// must exist and be active, and the pair must not already have a live
// schedule. A near-simultaneous slot on the same account is only logged
// here: flagging it is Validate's job, and blocking it outright would make
// waves and racing operators fail spuriously.
func (c *Coordinator) checkSlot(ctx context.Context, accountID string, videoID *string, at time.Time, probe *domain.Schedule) error {
	account, err := c.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.NewValidationError("account_id", "unknown account %q", accountID)
		}
		return fmt.Errorf("get account %s: %w", accountID, err)
	}
	if !account.Active {
		return domain.NewValidationError("account_id", "account %q is inactive", accountID)
	}

	existing, err := c.schedules.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("list active schedules for account %s: %w", accountID, err)
	}
	for _, o := range existing {
		if videoID != nil && o.VideoID != nil && *o.VideoID == *videoID {
			return &domain.ConflictError{
				Resource:      "schedule",
				ConflictingID: o.ID,
				Reason:        fmt.Sprintf("video %s is already scheduled on account %s", *videoID, accountID),
			}
		}
		if !probe.SameCampaign(o) && within(at, o.ScheduledAt, domain.ConflictWindow) {
			c.logger.Warn("schedule lands inside conflict window",
				"account_id", accountID,
				"scheduled_at", at.UTC(),
				"conflicting_id", o.ID,
			)
		}
	}
	return nil
}

func within(a, b time.Time, d time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff < d
}
