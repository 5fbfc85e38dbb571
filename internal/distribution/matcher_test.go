package distribution_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"clipwave/internal/distribution"
	"clipwave/internal/domain"
	"clipwave/internal/memstore"
	"clipwave/internal/repository"
	"clipwave/internal/scheduling"
)

// ---- helpers ----

type noopTrigger struct{}

func (noopTrigger) Dispatch(context.Context, *domain.Schedule) error { return nil }

func newMatcher(t *testing.T) (*distribution.Matcher, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.DiscardHandler)
	coord := scheduling.NewCoordinator(
		memstore.NewScheduleRepository(store),
		memstore.NewVideoRepository(store),
		memstore.NewAccountRepository(store),
		noopTrigger{},
		logger,
	)
	m := distribution.NewMatcher(
		memstore.NewVideoRepository(store),
		memstore.NewAccountRepository(store),
		memstore.NewDistributionRepository(store),
		memstore.NewScheduleRepository(store),
		coord,
		logger,
	)
	return m, store
}

func addAccount(t *testing.T, store *memstore.Store, a *domain.Account) *domain.Account {
	t.Helper()
	if a.Platform == "" {
		a.Platform = "youtube"
	}
	created, err := memstore.NewAccountRepository(store).Upsert(context.Background(), a)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return created
}

func addVideo(t *testing.T, store *memstore.Store, v *domain.Video) *domain.Video {
	t.Helper()
	if v.Status == "" {
		v.Status = domain.VideoStatusReady
	}
	created, err := memstore.NewVideoRepository(store).Create(context.Background(), v)
	if err != nil {
		t.Fatalf("seed video: %v", err)
	}
	return created
}

// goodClip satisfies the strict filters used across these tests.
func goodClip(id string) *domain.Video {
	return &domain.Video{
		ID:              id,
		Title:           "clip " + id,
		Resolution:      "1080p",
		Views:           50000,
		DurationSeconds: 45,
	}
}

// ---- rule matching ----

func TestAutoDistributeByFilters_FansOutToQualifyingAccounts(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{
		ID: "strict", Name: "strict", Active: true,
		Filters: domain.ContentFilters{MinResolution: "1080p", MinViews: 10000},
	})
	addAccount(t, store, &domain.Account{
		ID: "hungry", Name: "hungry", Active: true,
		Filters: domain.ContentFilters{MinViews: 100000},
	})
	addAccount(t, store, &domain.Account{
		ID: "clean", Name: "clean", Active: true,
		Filters: domain.ContentFilters{ExcludeWatermarked: true},
	})

	results, err := m.AutoDistributeByFilters(ctx, distribution.FilterMatchInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (hungry does not qualify)", len(results))
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Skipped {
			t.Errorf("pair %s/%s skipped: %s", r.VideoID, r.AccountID, r.Reason)
			continue
		}
		d := r.Distribution
		if d.Method != domain.MethodRuleMatch {
			t.Errorf("method = %q, want rule_match", d.Method)
		}
		if d.Status != domain.DistributionAssigned {
			t.Errorf("status = %q, want assigned", d.Status)
		}
		if d.Reason == "" {
			t.Error("expected a recorded match reason")
		}
		seen[r.AccountID] = true
	}
	if !seen["strict"] || !seen["clean"] {
		t.Errorf("fan-out hit %v, want strict and clean", seen)
	}
}

func TestAutoDistributeByFilters_SecondPassIsNoOp(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{
		ID: "a1", Name: "a1", Active: true,
		Filters: domain.ContentFilters{MinViews: 1000},
	})

	first, err := m.AutoDistributeByFilters(ctx, distribution.FilterMatchInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 1 || first[0].Skipped {
		t.Fatalf("first pass = %+v, want one created assignment", first)
	}

	second, err := m.AutoDistributeByFilters(ctx, distribution.FilterMatchInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 1 || !second[0].Skipped {
		t.Fatalf("second pass = %+v, want one skipped no-op", second)
	}

	all, err := memstore.NewDistributionRepository(store).List(ctx, repository.DistributionFilter{VideoID: "v1", AccountID: "a1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	live := 0
	for _, d := range all {
		if d.Status != domain.DistributionCancelled {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("live assignments = %d, want exactly 1", live)
	}
}

func TestAutoDistributeByFilters_WatermarkExcludesOutright(t *testing.T) {
	m, store := newMatcher(t)
	v := goodClip("v1")
	v.Watermarked = true
	addVideo(t, store, v)
	addAccount(t, store, &domain.Account{
		ID: "clean", Name: "clean", Active: true,
		Filters: domain.ContentFilters{ExcludeWatermarked: true},
	})

	results, err := m.AutoDistributeByFilters(context.Background(), distribution.FilterMatchInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v, want none for a watermarked video", results)
	}
}

func TestAutoDistributeByFilters_ValidatesExplicitTargets(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, &domain.Video{ID: "raw", Status: domain.VideoStatusProcessing})
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})

	cases := []struct {
		name  string
		input distribution.FilterMatchInput
	}{
		{"unknown video", distribution.FilterMatchInput{VideoID: "ghost"}},
		{"video not ready", distribution.FilterMatchInput{VideoID: "raw"}},
		{"unknown account", distribution.FilterMatchInput{AccountIDs: []string{"ghost"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.AutoDistributeByFilters(ctx, tc.input)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
		})
	}
}

// ---- slot matching ----

func TestAutoDistributeBySchedule_BooksOpenSlots(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addVideo(t, store, goodClip("v2"))
	addAccount(t, store, &domain.Account{
		ID: "a1", Name: "a1", Active: true,
		Posting: domain.PostingSchedule{
			PostsPerDay:    2,
			PreferredTimes: []string{"10:00", "18:30"},
			Timezone:       "UTC",
		},
	})

	results, err := m.AutoDistributeBySchedule(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	now := time.Now().UTC()
	times := make(map[time.Time]bool)
	for _, r := range results {
		if r.Skipped {
			t.Fatalf("pair %s/%s skipped: %s", r.VideoID, r.AccountID, r.Reason)
		}
		d, s := r.Distribution, r.Schedule
		if d.Method != domain.MethodScheduleMatch {
			t.Errorf("method = %q, want schedule_match", d.Method)
		}
		if d.Status != domain.DistributionScheduled {
			t.Errorf("status = %q, want scheduled", d.Status)
		}
		if d.ScheduleID == nil || *d.ScheduleID != s.ID {
			t.Error("assignment should link the booked schedule")
		}
		if s.Type != domain.ScheduleTypeIndependent {
			t.Errorf("schedule type = %q, want independent", s.Type)
		}
		if !s.ScheduledAt.After(now) {
			t.Errorf("slot %v is not in the future", s.ScheduledAt)
		}
		times[s.ScheduledAt] = true
	}
	if len(times) != 2 {
		t.Error("both videos booked into the same slot")
	}

	// Both videos now hold live assignments.
	left, err := memstore.NewVideoRepository(store).ListUnassigned(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("unassigned videos left = %d, want 0", len(left))
	}
}

func TestAutoDistributeBySchedule_IdleWithoutPreferences(t *testing.T) {
	m, store := newMatcher(t)
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})

	results, err := m.AutoDistributeBySchedule(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v, want none", results)
	}
}

func TestAutoDistributeBySchedule_NothingToDo(t *testing.T) {
	m, _ := newMatcher(t)
	results, err := m.AutoDistributeBySchedule(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %+v, want none", results)
	}
}

// ---- manual ----

func TestManualDistribute_BooksEveryAccount(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})
	addAccount(t, store, &domain.Account{ID: "a2", Name: "a2", Active: true})

	at := time.Now().UTC().Add(2 * time.Hour)
	out, err := m.ManualDistribute(ctx, distribution.ManualInput{
		VideoID:     "v1",
		AccountIDs:  []string{"a1", "a2"},
		ScheduledAt: at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("created = %d, want 2", len(out))
	}
	for _, d := range out {
		if d.Method != domain.MethodManual {
			t.Errorf("method = %q, want manual", d.Method)
		}
		if d.Status != domain.DistributionScheduled {
			t.Errorf("status = %q, want scheduled", d.Status)
		}
		if d.ScheduleID == nil {
			t.Fatal("manual assignment should book a schedule")
		}
		s, err := memstore.NewScheduleRepository(store).GetByID(ctx, *d.ScheduleID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !s.ScheduledAt.Equal(at) {
			t.Errorf("scheduled_at = %v, want %v", s.ScheduledAt, at)
		}
	}
}

func TestManualDistribute_DuplicateNeedsForce(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})

	at := time.Now().UTC().Add(2 * time.Hour)
	first, err := m.ManualDistribute(ctx, distribution.ManualInput{
		VideoID: "v1", AccountIDs: []string{"a1"}, ScheduledAt: at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = m.ManualDistribute(ctx, distribution.ManualInput{
		VideoID: "v1", AccountIDs: []string{"a1"}, ScheduledAt: at.Add(time.Hour),
	})
	var cerr *domain.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ConflictError", err)
	}
	if cerr.ConflictingID != first[0].ID {
		t.Errorf("conflicting id = %s, want %s", cerr.ConflictingID, first[0].ID)
	}
}

func TestManualDistribute_ForceOverridesExisting(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})

	at := time.Now().UTC().Add(2 * time.Hour)
	first, err := m.ManualDistribute(ctx, distribution.ManualInput{
		VideoID: "v1", AccountIDs: []string{"a1"}, ScheduledAt: at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	forced, err := m.ManualDistribute(ctx, distribution.ManualInput{
		VideoID: "v1", AccountIDs: []string{"a1"}, ScheduledAt: at.Add(time.Hour), Force: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(forced) != 1 {
		t.Fatalf("created = %d, want 1", len(forced))
	}

	repo := memstore.NewDistributionRepository(store)
	old, err := repo.GetByID(ctx, first[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if old.Status != domain.DistributionCancelled {
		t.Errorf("old assignment status = %q, want cancelled", old.Status)
	}
	oldSlot, err := memstore.NewScheduleRepository(store).GetByID(ctx, *first[0].ScheduleID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oldSlot.Status != domain.ScheduleStatusCancelled {
		t.Errorf("old slot status = %q, want cancelled", oldSlot.Status)
	}

	active, err := repo.FindActive(ctx, "v1", "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active == nil || active.ID != forced[0].ID {
		t.Fatalf("active = %+v, want the forced assignment", active)
	}
}

// ---- retry and stats ----

func TestRetryFailed_RunsDownTheBudget(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})

	out, err := m.ManualDistribute(ctx, distribution.ManualInput{
		VideoID:     "v1",
		AccountIDs:  []string{"a1"},
		ScheduledAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := out[0].ID
	repo := memstore.NewDistributionRepository(store)

	for want := 1; want <= domain.DefaultMaxRetries; want++ {
		if _, err := repo.MarkFailed(ctx, id, "publish bounced"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		d, err := m.RetryFailed(ctx, id)
		if err != nil {
			t.Fatalf("retry %d: unexpected error: %v", want, err)
		}
		if d.Status != domain.DistributionAssigned {
			t.Fatalf("status = %q, want assigned", d.Status)
		}
		if d.RetryCount != want {
			t.Fatalf("retry_count = %d, want %d", d.RetryCount, want)
		}
		if d.ErrorMessage != nil {
			t.Fatal("retry should clear the error message")
		}
		if d.ScheduleID != nil {
			t.Fatal("retry should detach the dead schedule")
		}
	}

	if _, err := repo.MarkFailed(ctx, id, "publish bounced"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.RetryFailed(ctx, id); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState once the budget is spent", err)
	}
}

func TestRetryFailed_RequiresFailedStatus(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})

	out, err := m.ManualDistribute(ctx, distribution.ManualInput{
		VideoID:     "v1",
		AccountIDs:  []string{"a1"},
		ScheduledAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.RetryFailed(ctx, out[0].ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
}

func TestStatistics_ScopesToAccount(t *testing.T) {
	m, store := newMatcher(t)
	ctx := context.Background()
	addVideo(t, store, goodClip("v1"))
	addVideo(t, store, goodClip("v2"))
	addAccount(t, store, &domain.Account{ID: "a1", Name: "a1", Active: true})
	addAccount(t, store, &domain.Account{ID: "a2", Name: "a2", Active: true})

	at := time.Now().UTC().Add(time.Hour)
	repo := memstore.NewDistributionRepository(store)

	booked, err := m.ManualDistribute(ctx, distribution.ManualInput{VideoID: "v1", AccountIDs: []string{"a1"}, ScheduledAt: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.MarkPublished(ctx, booked[0].ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failed, err := m.ManualDistribute(ctx, distribution.ManualInput{VideoID: "v2", AccountIDs: []string{"a1"}, ScheduledAt: at.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.MarkFailed(ctx, failed[0].ID, "bounced"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.ManualDistribute(ctx, distribution.ManualInput{VideoID: "v1", AccountIDs: []string{"a2"}, ScheduledAt: at}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := m.Statistics(ctx, "a1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Total != 2 {
		t.Errorf("total = %d, want 2", st.Total)
	}
	if st.ByStatus[domain.DistributionPublished] != 1 || st.ByStatus[domain.DistributionFailed] != 1 {
		t.Errorf("by status = %v, want one published and one failed", st.ByStatus)
	}
	if st.ByMethod[domain.MethodManual] != 2 {
		t.Errorf("by method = %v, want 2 manual", st.ByMethod)
	}
	if st.SuccessRate != 0.5 {
		t.Errorf("success rate = %v, want 0.5", st.SuccessRate)
	}
}
