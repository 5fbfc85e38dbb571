// Package distribution assigns ready videos to accounts: by content-filter
// rules, by open posting slots, or by operator hand. Every assignment is a
// Distribution row; slot and manual assignments also book the Schedule that
// will publish them, atomically.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/metrics"
	"clipwave/internal/repository"
	"clipwave/internal/scheduling"
)

const (
	// matchBatchLimit bounds how many videos one matching pass considers.
	matchBatchLimit = 100
	// slotHorizon is how far ahead the slot pass books publications.
	slotHorizon = 7 * 24 * time.Hour
)

// MatchResult reports one (video, account) pairing attempt. Skipped pairs
// stay in the batch so callers can see what a pass decided and why.
type MatchResult struct {
	VideoID      string
	AccountID    string
	Distribution *domain.Distribution
	Schedule     *domain.Schedule
	Skipped      bool
	Reason       string
}

type Matcher struct {
	videos        repository.VideoRepository
	accounts      repository.AccountProvider
	distributions repository.DistributionRepository
	schedules     repository.ScheduleRepository
	coordinator   *scheduling.Coordinator
	logger        *slog.Logger
}

func NewMatcher(
	videos repository.VideoRepository,
	accounts repository.AccountProvider,
	distributions repository.DistributionRepository,
	schedules repository.ScheduleRepository,
	coordinator *scheduling.Coordinator,
	logger *slog.Logger,
) *Matcher {
	return &Matcher{
		videos:        videos,
		accounts:      accounts,
		distributions: distributions,
		schedules:     schedules,
		coordinator:   coordinator,
		logger:        logger.With("component", "matcher"),
	}
}

// ---- rule matching ----

type FilterMatchInput struct {
	// VideoID restricts the pass to one video; empty means every ready one.
	VideoID string
	// AccountIDs restricts the pass; empty means every active account.
	AccountIDs []string
}

// AutoDistributeByFilters fans each eligible video out to every account
// whose content filters it satisfies. Pairs that already hold a live
// assignment are kept in the batch as skipped no-ops; one bad pair never
// aborts the pass.
func (m *Matcher) AutoDistributeByFilters(ctx context.Context, in FilterMatchInput) ([]MatchResult, error) {
	videos, err := m.eligibleVideos(ctx, in.VideoID)
	if err != nil {
		return nil, err
	}
	accounts, err := m.targetAccounts(ctx, in.AccountIDs)
	if err != nil {
		return nil, err
	}

	var results []MatchResult
	for _, v := range videos {
		for _, a := range accounts {
			if !a.Filters.Match(v) {
				continue
			}
			results = append(results, m.assign(ctx, v, a))
		}
	}

	if len(results) > 0 {
		created := 0
		for _, r := range results {
			if !r.Skipped {
				created++
			}
		}
		m.logger.Info("filter matching pass complete",
			"videos", len(videos),
			"accounts", len(accounts),
			"created", created,
			"skipped", len(results)-created,
		)
	}
	return results, nil
}

func (m *Matcher) assign(ctx context.Context, v *domain.Video, a *domain.Account) MatchResult {
	res := MatchResult{VideoID: v.ID, AccountID: a.ID}

	existing, err := m.distributions.FindActive(ctx, v.ID, a.ID)
	if err != nil {
		res.Skipped = true
		res.Reason = fmt.Sprintf("find active assignment: %v", err)
		return res
	}
	if existing != nil {
		metrics.DistributionsSkippedTotal.WithLabelValues("duplicate").Inc()
		m.logger.Debug("pair already assigned",
			"video_id", v.ID, "account_id", a.ID, "existing_id", existing.ID)
		res.Skipped = true
		res.Reason = fmt.Sprintf("already assigned (distribution %s)", existing.ID)
		return res
	}

	d, err := m.distributions.Create(ctx, &domain.Distribution{
		VideoID:   v.ID,
		AccountID: a.ID,
		Method:    domain.MethodRuleMatch,
		Reason:    matchReason(v, a.Filters),
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateAssignment) {
			// Lost a race with a concurrent pass; same outcome as the
			// FindActive skip above.
			metrics.DistributionsSkippedTotal.WithLabelValues("duplicate").Inc()
			res.Skipped = true
			res.Reason = "already assigned"
			return res
		}
		m.logger.Warn("assignment failed", "video_id", v.ID, "account_id", a.ID, "error", err)
		res.Skipped = true
		res.Reason = err.Error()
		return res
	}

	metrics.DistributionsCreatedTotal.WithLabelValues(string(domain.MethodRuleMatch)).Inc()
	m.logger.Info("video assigned by rule",
		"distribution_id", d.ID,
		"video_id", v.ID,
		"account_id", a.ID,
		"reason", d.Reason,
	)
	res.Distribution = d
	return res
}

// ---- slot matching ----

// AutoDistributeBySchedule books unassigned ready videos into the open
// posting slots of active accounts. Each booking creates the assignment and
// its publication schedule in one transaction, so a crash cannot leave one
// without the other.
func (m *Matcher) AutoDistributeBySchedule(ctx context.Context) ([]MatchResult, error) {
	videos, err := m.videos.ListUnassigned(ctx, matchBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("list unassigned videos: %w", err)
	}
	if len(videos) == 0 {
		return nil, nil
	}
	accounts, err := m.accounts.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	now := time.Now().UTC()
	var results []MatchResult
	next := 0
	for _, a := range accounts {
		if next >= len(videos) {
			break
		}
		existing, err := m.schedules.List(ctx, repository.ScheduleFilter{
			AccountID: a.ID,
			From:      now.Add(-24 * time.Hour),
			To:        now.Add(slotHorizon),
		})
		if err != nil {
			return results, fmt.Errorf("list schedules for account %s: %w", a.ID, err)
		}
		slots, err := NextOpenSlots(a, existing, now, slotHorizon, len(videos)-next)
		if err != nil {
			m.logger.Warn("skipping account with bad posting preferences",
				"account_id", a.ID, "error", err)
			continue
		}
		for _, slot := range slots {
			if next >= len(videos) {
				break
			}
			results = append(results, m.book(ctx, videos[next], a, slot))
			next++
		}
	}

	if len(results) > 0 {
		booked := 0
		for _, r := range results {
			if !r.Skipped {
				booked++
			}
		}
		m.logger.Info("slot matching pass complete",
			"videos", len(videos),
			"booked", booked,
			"skipped", len(results)-booked,
		)
	}
	return results, nil
}

func (m *Matcher) book(ctx context.Context, v *domain.Video, a *domain.Account, slot time.Time) MatchResult {
	res := MatchResult{VideoID: v.ID, AccountID: a.ID}

	prepared, err := m.coordinator.PrepareIndependent(ctx, scheduling.IndependentInput{
		AccountID: a.ID,
		At:        slot,
		VideoID:   &v.ID,
	})
	if err != nil {
		metrics.DistributionsSkippedTotal.WithLabelValues("validation").Inc()
		m.logger.Warn("slot booking rejected",
			"video_id", v.ID, "account_id", a.ID, "slot", slot, "error", err)
		res.Skipped = true
		res.Reason = err.Error()
		return res
	}

	d, s, err := m.distributions.CreateWithSchedule(ctx, &domain.Distribution{
		VideoID:   v.ID,
		AccountID: a.ID,
		Method:    domain.MethodScheduleMatch,
		Reason:    fmt.Sprintf("open slot %s", slot.Format(time.RFC3339)),
	}, prepared)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateAssignment) {
			metrics.DistributionsSkippedTotal.WithLabelValues("duplicate").Inc()
			res.Skipped = true
			res.Reason = "already assigned"
			return res
		}
		m.logger.Warn("slot booking failed",
			"video_id", v.ID, "account_id", a.ID, "slot", slot, "error", err)
		res.Skipped = true
		res.Reason = err.Error()
		return res
	}

	metrics.DistributionsCreatedTotal.WithLabelValues(string(domain.MethodScheduleMatch)).Inc()
	m.logger.Info("video booked into posting slot",
		"distribution_id", d.ID,
		"schedule_id", s.ID,
		"video_id", v.ID,
		"account_id", a.ID,
		"slot", slot,
	)
	res.Distribution = d
	res.Schedule = s
	return res
}

// ---- manual ----

type ManualInput struct {
	VideoID     string
	AccountIDs  []string
	ScheduledAt time.Time
	// Force overrides duplicate prevention by cancelling the existing
	// assignment, and the slot it booked, before creating the new one.
	Force bool
}

// ManualDistribute assigns a video to the given accounts at an explicit
// time, bypassing content filters. Without Force, a live assignment for any
// of the pairs fails the whole call with a ConflictError before anything is
// written.
func (m *Matcher) ManualDistribute(ctx context.Context, in ManualInput) ([]*domain.Distribution, error) {
	if in.VideoID == "" {
		return nil, domain.NewValidationError("video_id", "is required")
	}
	if len(in.AccountIDs) == 0 {
		return nil, domain.NewValidationError("account_ids", "at least one account is required")
	}
	if !in.ScheduledAt.After(time.Now().UTC()) {
		return nil, domain.NewValidationError("scheduled_at", "must be in the future")
	}
	if _, err := m.videos.GetByID(ctx, in.VideoID); err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return nil, domain.NewValidationError("video_id", "unknown video %q", in.VideoID)
		}
		return nil, fmt.Errorf("get video %s: %w", in.VideoID, err)
	}

	// Surface conflicts before writing anything, so a duplicate on the last
	// account cannot leave a half-applied batch.
	overrides := make(map[string]string, len(in.AccountIDs))
	for _, accountID := range in.AccountIDs {
		existing, err := m.distributions.FindActive(ctx, in.VideoID, accountID)
		if err != nil {
			return nil, fmt.Errorf("find active assignment: %w", err)
		}
		if existing == nil {
			continue
		}
		if !in.Force {
			return nil, &domain.ConflictError{
				Resource:      "distribution",
				ConflictingID: existing.ID,
				Reason:        fmt.Sprintf("video %s is already assigned to account %s", in.VideoID, accountID),
			}
		}
		overrides[accountID] = existing.ID
	}

	out := make([]*domain.Distribution, 0, len(in.AccountIDs))
	for _, accountID := range in.AccountIDs {
		if existingID, ok := overrides[accountID]; ok {
			if _, err := m.distributions.Cancel(ctx, existingID); err != nil {
				return out, fmt.Errorf("override distribution %s: %w", existingID, err)
			}
			m.logger.Info("existing assignment overridden",
				"distribution_id", existingID, "video_id", in.VideoID, "account_id", accountID)
		}

		prepared, err := m.coordinator.PrepareIndependent(ctx, scheduling.IndependentInput{
			AccountID: accountID,
			At:        in.ScheduledAt,
			VideoID:   &in.VideoID,
		})
		if err != nil {
			return out, err
		}
		d, s, err := m.distributions.CreateWithSchedule(ctx, &domain.Distribution{
			VideoID:   in.VideoID,
			AccountID: accountID,
			Method:    domain.MethodManual,
			Reason:    "manual assignment",
		}, prepared)
		if err != nil {
			return out, fmt.Errorf("assign video %s to account %s: %w", in.VideoID, accountID, err)
		}

		metrics.DistributionsCreatedTotal.WithLabelValues(string(domain.MethodManual)).Inc()
		m.logger.Info("video assigned manually",
			"distribution_id", d.ID,
			"schedule_id", s.ID,
			"video_id", in.VideoID,
			"account_id", accountID,
			"scheduled_at", in.ScheduledAt.UTC(),
			"forced", in.Force,
		)
		out = append(out, d)
	}
	return out, nil
}

// ---- retry and queries ----

// RetryFailed returns a failed assignment to the pool. Legal only while the
// retry budget lasts; the next matching or manual pass books it again.
func (m *Matcher) RetryFailed(ctx context.Context, id string) (*domain.Distribution, error) {
	d, err := m.distributions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DistributionFailed {
		return nil, domain.ErrInvalidState
	}
	if d.RetryCount >= d.MaxRetries {
		m.logger.Warn("retry budget exhausted",
			"distribution_id", id, "retry_count", d.RetryCount, "max_retries", d.MaxRetries)
		return nil, domain.ErrInvalidState
	}

	reset, err := m.distributions.ResetForRetry(ctx, id, d.RetryCount+1)
	if err != nil {
		return nil, err
	}
	metrics.DistributionRetriesTotal.Inc()
	m.logger.Info("distribution queued for retry",
		"distribution_id", id, "retry_count", reset.RetryCount)
	return reset, nil
}

func (m *Matcher) Statistics(ctx context.Context, accountID string, from, to time.Time) (*domain.DistributionStats, error) {
	return m.distributions.Stats(ctx, accountID, from, to)
}

func (m *Matcher) Get(ctx context.Context, id string) (*domain.Distribution, error) {
	return m.distributions.GetByID(ctx, id)
}

func (m *Matcher) Query(ctx context.Context, f repository.DistributionFilter) ([]*domain.Distribution, error) {
	return m.distributions.List(ctx, f)
}

// ---- helpers ----

func (m *Matcher) eligibleVideos(ctx context.Context, videoID string) ([]*domain.Video, error) {
	if videoID == "" {
		videos, err := m.videos.ListReady(ctx, matchBatchLimit)
		if err != nil {
			return nil, fmt.Errorf("list ready videos: %w", err)
		}
		return videos, nil
	}
	v, err := m.videos.GetByID(ctx, videoID)
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return nil, domain.NewValidationError("video_id", "unknown video %q", videoID)
		}
		return nil, fmt.Errorf("get video %s: %w", videoID, err)
	}
	if v.Status != domain.VideoStatusReady {
		return nil, domain.NewValidationError("video_id", "video %q is %s, not ready", videoID, v.Status)
	}
	return []*domain.Video{v}, nil
}

func (m *Matcher) targetAccounts(ctx context.Context, accountIDs []string) ([]*domain.Account, error) {
	if len(accountIDs) == 0 {
		accounts, err := m.accounts.List(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		return accounts, nil
	}
	out := make([]*domain.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		a, err := m.accounts.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				return nil, domain.NewValidationError("account_ids", "unknown account %q", id)
			}
			return nil, fmt.Errorf("get account %s: %w", id, err)
		}
		if !a.Active {
			return nil, domain.NewValidationError("account_ids", "account %q is inactive", id)
		}
		out = append(out, a)
	}
	return out, nil
}

// matchReason renders the satisfied filters for the assignment record.
func matchReason(v *domain.Video, f domain.ContentFilters) string {
	var parts []string
	if f.MinResolution != "" {
		parts = append(parts, fmt.Sprintf("resolution %s >= %s", v.Resolution, f.MinResolution))
	}
	if f.MinViews > 0 {
		parts = append(parts, fmt.Sprintf("views %d >= %d", v.Views, f.MinViews))
	}
	if f.MaxDurationSeconds > 0 {
		parts = append(parts, fmt.Sprintf("duration %ds <= %ds", v.DurationSeconds, f.MaxDurationSeconds))
	}
	if f.ExcludeWatermarked {
		parts = append(parts, "no watermark")
	}
	if len(parts) == 0 {
		return "no filters configured"
	}
	return strings.Join(parts, ", ")
}
