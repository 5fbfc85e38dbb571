package scheduling_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/memstore"
	"clipwave/internal/scheduling"
)

// ---- helpers ----

type triggerFunc func(ctx context.Context, s *domain.Schedule) error

func (f triggerFunc) Dispatch(ctx context.Context, s *domain.Schedule) error { return f(ctx, s) }

var okTrigger = triggerFunc(func(context.Context, *domain.Schedule) error { return nil })

func newCoordinator(t *testing.T, trigger scheduling.PublishTrigger) (*scheduling.Coordinator, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	coord := scheduling.NewCoordinator(
		memstore.NewScheduleRepository(store),
		memstore.NewVideoRepository(store),
		memstore.NewAccountRepository(store),
		trigger,
		slog.New(slog.DiscardHandler),
	)
	return coord, store
}

func seedAccount(t *testing.T, store *memstore.Store, id string) {
	t.Helper()
	_, err := memstore.NewAccountRepository(store).Upsert(context.Background(), &domain.Account{
		ID:            id,
		Name:          id,
		Platform:      "youtube",
		Active:        true,
		Repository:    "org/" + id,
		CredentialRef: id + "-token",
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

func seedVideo(t *testing.T, store *memstore.Store, id string) {
	t.Helper()
	_, err := memstore.NewVideoRepository(store).Create(context.Background(), &domain.Video{
		ID:     id,
		Title:  "clip " + id,
		Status: domain.VideoStatusReady,
	})
	if err != nil {
		t.Fatalf("seed video %s: %v", id, err)
	}
}

func in(d time.Duration) time.Time {
	return time.Now().UTC().Add(d)
}

// ---- creation ----

func TestCreateSimultaneous_SharesOneGroup(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	for _, id := range []string{"a1", "a2", "a3"} {
		seedAccount(t, store, id)
	}

	at := in(time.Hour)
	created, err := coord.CreateSimultaneous(ctx, scheduling.SimultaneousInput{
		VideoID:    "v1",
		AccountIDs: []string{"a1", "a2", "a3"},
		At:         at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created = %d schedules, want 3", len(created))
	}
	group := created[0].CoordinationGroupID
	if group == nil {
		t.Fatal("expected a coordination group id")
	}
	for _, s := range created {
		if s.Type != domain.ScheduleTypeSimultaneous {
			t.Errorf("type = %q, want simultaneous", s.Type)
		}
		if s.Status != domain.ScheduleStatusScheduled {
			t.Errorf("status = %q, want scheduled", s.Status)
		}
		if !s.ScheduledAt.Equal(at) {
			t.Errorf("scheduled_at = %v, want %v", s.ScheduledAt, at)
		}
		if s.CoordinationGroupID == nil || *s.CoordinationGroupID != *group {
			t.Errorf("schedule %s not in group %s", s.ID, *group)
		}
		if s.VideoID == nil || *s.VideoID != "v1" {
			t.Errorf("schedule %s missing video", s.ID)
		}
		if s.WaveID != nil {
			t.Errorf("unexpected wave id on %s", s.ID)
		}
	}
}

func TestCreateSimultaneous_RejectsBadInput(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	cases := []struct {
		name  string
		input scheduling.SimultaneousInput
	}{
		{"missing video", scheduling.SimultaneousInput{AccountIDs: []string{"a1"}, At: in(time.Hour)}},
		{"unknown video", scheduling.SimultaneousInput{VideoID: "ghost", AccountIDs: []string{"a1"}, At: in(time.Hour)}},
		{"no accounts", scheduling.SimultaneousInput{VideoID: "v1", At: in(time.Hour)}},
		{"duplicate account", scheduling.SimultaneousInput{VideoID: "v1", AccountIDs: []string{"a1", "a1"}, At: in(time.Hour)}},
		{"unknown account", scheduling.SimultaneousInput{VideoID: "v1", AccountIDs: []string{"ghost"}, At: in(time.Hour)}},
		{"past time", scheduling.SimultaneousInput{VideoID: "v1", AccountIDs: []string{"a1"}, At: in(-time.Minute)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := coord.CreateSimultaneous(ctx, tc.input)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateSimultaneous_RejectsInactiveAccount(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	_, err := memstore.NewAccountRepository(store).Upsert(ctx, &domain.Account{
		ID: "dormant", Name: "dormant", Platform: "youtube", Active: false,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	_, err = coord.CreateSimultaneous(ctx, scheduling.SimultaneousInput{
		VideoID:    "v1",
		AccountIDs: []string{"dormant"},
		At:         in(time.Hour),
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestCreateSimultaneous_RejectsDuplicatePair(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	first, err := coord.CreateSimultaneous(ctx, scheduling.SimultaneousInput{
		VideoID:    "v1",
		AccountIDs: []string{"a1"},
		At:         in(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = coord.CreateSimultaneous(ctx, scheduling.SimultaneousInput{
		VideoID:    "v1",
		AccountIDs: []string{"a1"},
		At:         in(2 * time.Hour),
	})
	var cerr *domain.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want ConflictError", err)
	}
	if cerr.ConflictingID != first[0].ID {
		t.Errorf("conflicting id = %s, want %s", cerr.ConflictingID, first[0].ID)
	}
}

func TestCreateStaggered_OffsetsEachAccount(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	for _, id := range []string{"a1", "a2", "a3"} {
		seedAccount(t, store, id)
	}

	start := in(time.Hour)
	created, err := coord.CreateStaggered(ctx, scheduling.StaggeredInput{
		VideoID:      "v1",
		AccountIDs:   []string{"a1", "a2", "a3"},
		StartAt:      start,
		DelaySeconds: 300,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("created = %d schedules, want 3", len(created))
	}
	for i, s := range created {
		wantAt := start.Add(time.Duration(i*300) * time.Second)
		if !s.ScheduledAt.Equal(wantAt) {
			t.Errorf("schedule %d at %v, want %v", i, s.ScheduledAt, wantAt)
		}
		if s.DelaySeconds == nil || *s.DelaySeconds != i*300 {
			t.Errorf("schedule %d delay = %v, want %d", i, s.DelaySeconds, i*300)
		}
		if s.Type != domain.ScheduleTypeStaggered {
			t.Errorf("type = %q, want staggered", s.Type)
		}
	}
	if *created[0].CoordinationGroupID != *created[2].CoordinationGroupID {
		t.Error("staggered schedules should share one group")
	}
}

func TestCreateStaggered_RequiresPositiveDelay(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	_, err := coord.CreateStaggered(context.Background(), scheduling.StaggeredInput{
		VideoID:    "v1",
		AccountIDs: []string{"a1"},
		StartAt:    in(time.Hour),
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.Field != "delay_seconds" {
		t.Errorf("field = %q, want delay_seconds", verr.Field)
	}
}

func TestCreateIndependent_AllowsReservedSlot(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	seedAccount(t, store, "a1")

	s, err := coord.CreateIndependent(context.Background(), scheduling.IndependentInput{
		AccountID: "a1",
		At:        in(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.VideoID != nil {
		t.Errorf("video id = %v, want nil", *s.VideoID)
	}
	if s.CoordinationGroupID != nil || s.WaveID != nil {
		t.Error("independent schedule must not carry group or wave ids")
	}
	if s.Type != domain.ScheduleTypeIndependent {
		t.Errorf("type = %q, want independent", s.Type)
	}
}

func TestCreateWave_SchedulesEveryPairing(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedVideo(t, store, "v2")
	for _, id := range []string{"a1", "a2", "a3"} {
		seedAccount(t, store, id)
	}

	created, waveID, err := coord.CreateWave(ctx, scheduling.WaveInput{
		VideoIDs:   []string{"v1", "v2"},
		AccountIDs: []string{"a1", "a2", "a3"},
		At:         in(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(created) != 6 {
		t.Fatalf("created = %d schedules, want 6", len(created))
	}
	if waveID == "" {
		t.Fatal("expected a wave id")
	}
	groups := make(map[string]int)
	for _, s := range created {
		if s.WaveID == nil || *s.WaveID != waveID {
			t.Errorf("schedule %s not in wave %s", s.ID, waveID)
		}
		if s.CoordinationGroupID == nil {
			t.Fatalf("schedule %s has no group", s.ID)
		}
		groups[*s.CoordinationGroupID]++
	}
	if len(groups) != 2 {
		t.Errorf("wave spans %d groups, want 2 (one per video)", len(groups))
	}
	for g, n := range groups {
		if n != 3 {
			t.Errorf("group %s has %d schedules, want 3", g, n)
		}
	}
}

// ---- validation ----

func TestValidate_FlagsUnrelatedCloseSchedules(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedAccount(t, store, "a1")
	seedVideo(t, store, "v1")
	seedVideo(t, store, "v2")

	at := in(time.Hour)
	v1 := "v1"
	first, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at, VideoID: &v1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2 := "v2"
	second, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at.Add(30 * time.Second), VideoID: &v2})
	if err != nil {
		t.Fatalf("creating inside the window must still succeed: %v", err)
	}

	for _, pair := range []struct{ id, other string }{
		{first.ID, second.ID},
		{second.ID, first.ID},
	} {
		report, err := coord.Validate(ctx, pair.id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Valid {
			t.Fatalf("schedule %s should be invalid", pair.id)
		}
		if len(report.Issues) != 1 {
			t.Fatalf("issues = %d, want 1", len(report.Issues))
		}
		issue := report.Issues[0]
		if issue.Code != scheduling.IssueConflictWindow {
			t.Errorf("issue code = %q, want %q", issue.Code, scheduling.IssueConflictWindow)
		}
		if issue.ConflictingID != pair.other {
			t.Errorf("conflicting id = %s, want %s", issue.ConflictingID, pair.other)
		}
	}
}

func TestValidate_SameCampaignIsExempt(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedVideo(t, store, "v2")
	seedAccount(t, store, "a1")
	seedAccount(t, store, "a2")

	created, _, err := coord.CreateWave(ctx, scheduling.WaveInput{
		VideoIDs:   []string{"v1", "v2"},
		AccountIDs: []string{"a1", "a2"},
		At:         in(time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every account carries two publications at the same instant, but they
	// belong to one wave, so none of them flag each other.
	for _, s := range created {
		report, err := coord.Validate(ctx, s.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !report.Valid {
			t.Errorf("schedule %s invalid: %+v", s.ID, report.Issues)
		}
	}
}

func TestValidate_FlagsPastAndDuplicate(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	repo := memstore.NewScheduleRepository(store)
	v := "v1"

	// Seed through the repository to sidestep creation-time guards.
	past, err := repo.Create(ctx, &domain.Schedule{
		AccountID:   "a1",
		VideoID:     &v,
		Type:        domain.ScheduleTypeIndependent,
		ScheduledAt: in(-time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dup, err := repo.Create(ctx, &domain.Schedule{
		AccountID:   "a1",
		VideoID:     &v,
		Type:        domain.ScheduleTypeIndependent,
		ScheduledAt: in(-time.Hour),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := coord.Validate(ctx, past.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Valid {
		t.Fatal("schedule should be invalid")
	}
	codes := make(map[string]string)
	for _, issue := range report.Issues {
		codes[issue.Code] = issue.ConflictingID
	}
	for _, want := range []string{scheduling.IssuePastDue, scheduling.IssueDuplicatePair, scheduling.IssueConflictWindow} {
		if _, ok := codes[want]; !ok {
			t.Errorf("missing issue %q in %+v", want, report.Issues)
		}
	}
	if codes[scheduling.IssueDuplicatePair] != dup.ID {
		t.Errorf("duplicate issue points at %s, want %s", codes[scheduling.IssueDuplicatePair], dup.ID)
	}
}

func TestValidate_CleanSchedulePasses(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	v := "v1"
	s, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: in(time.Hour), VideoID: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	report, err := coord.Validate(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Valid || len(report.Issues) != 0 {
		t.Fatalf("report = %+v, want valid with no issues", report)
	}
}

// ---- execution ----

func TestExecuteDue_DispatchesAndCompletes(t *testing.T) {
	var dispatched []string
	trigger := triggerFunc(func(_ context.Context, s *domain.Schedule) error {
		dispatched = append(dispatched, s.ID)
		return nil
	})
	coord, store := newCoordinator(t, trigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	at := in(time.Hour)
	v := "v1"
	s, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at, VideoID: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Not due yet.
	results, err := coord.ExecuteDue(ctx, at.Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %d, want 0 before due time", len(results))
	}

	results, err = coord.ExecuteDue(ctx, at.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	r := results[0]
	if !r.Success || r.ScheduleID != s.ID || r.AccountID != "a1" || r.VideoID != "v1" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if len(dispatched) != 1 || dispatched[0] != s.ID {
		t.Fatalf("dispatched = %v, want [%s]", dispatched, s.ID)
	}

	got, err := coord.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.ScheduleStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}

	video, err := memstore.NewVideoRepository(store).GetByID(ctx, "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if video.Status != domain.VideoStatusPublished {
		t.Errorf("video status = %q, want published", video.Status)
	}
}

func TestExecuteDue_IsolatesFailures(t *testing.T) {
	trigger := triggerFunc(func(_ context.Context, s *domain.Schedule) error {
		if s.AccountID == "flaky" {
			return fmt.Errorf("upload rejected")
		}
		return nil
	})
	coord, store := newCoordinator(t, trigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "flaky")
	seedAccount(t, store, "steady")

	at := in(time.Hour)
	created, err := coord.CreateSimultaneous(ctx, scheduling.SimultaneousInput{
		VideoID:    "v1",
		AccountIDs: []string{"flaky", "steady"},
		At:         at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := coord.ExecuteDue(ctx, at.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	byAccount := make(map[string]domain.ExecutionResult, len(results))
	for _, r := range results {
		byAccount[r.AccountID] = r
	}
	if byAccount["flaky"].Success {
		t.Error("flaky account should have failed")
	}
	if byAccount["flaky"].Error == "" {
		t.Error("failed result should carry the error message")
	}
	if !byAccount["steady"].Success {
		t.Errorf("steady account should have succeeded: %s", byAccount["steady"].Error)
	}

	for _, s := range created {
		got, err := coord.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := domain.ScheduleStatusCompleted
		if s.AccountID == "flaky" {
			want = domain.ScheduleStatusFailed
		}
		if got.Status != want {
			t.Errorf("schedule %s status = %q, want %q", s.ID, got.Status, want)
		}
		if s.AccountID == "flaky" && (got.ErrorMessage == nil || *got.ErrorMessage == "") {
			t.Error("failed schedule should record the error")
		}
	}
}

func TestExecuteDue_SkipsPaused(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	at := in(time.Hour)
	v := "v1"
	s, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at, VideoID: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := coord.Pause(ctx, s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := coord.ExecuteDue(ctx, at.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("paused schedule was executed: %+v", results)
	}

	if _, err := coord.Resume(ctx, s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results, err = coord.ExecuteDue(ctx, at.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d after resume, want 1", len(results))
	}
}

func TestExecuteDue_FailsScheduleWithoutVideo(t *testing.T) {
	var calls int
	trigger := triggerFunc(func(context.Context, *domain.Schedule) error {
		calls++
		return nil
	})
	coord, store := newCoordinator(t, trigger)
	ctx := context.Background()
	seedAccount(t, store, "a1")

	at := in(time.Hour)
	s, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := coord.ExecuteDue(ctx, at.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Success {
		t.Fatalf("unexpected results: %+v", results)
	}
	if calls != 0 {
		t.Error("trigger must not fire for a videoless schedule")
	}
	got, err := coord.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.ScheduleStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

// ---- lifecycle ----

func TestPauseForAccount_CountsChangedSchedules(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedVideo(t, store, "v2")
	seedAccount(t, store, "a1")
	seedAccount(t, store, "a2")

	v1, v2 := "v1", "v2"
	if _, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: in(time.Hour), VideoID: &v1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: in(3 * time.Hour), VideoID: &v2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a2", At: in(time.Hour), VideoID: &v1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := coord.PauseForAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("paused %d schedules, want 2", n)
	}

	// Already paused rows don't count again.
	n, err = coord.PauseForAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("second pause changed %d schedules, want 0", n)
	}

	n, err = coord.ResumeForAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("resumed %d schedules, want 2", n)
	}

	if _, err := coord.PauseForAccount(ctx, "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("error = %v, want ErrAccountNotFound", err)
	}
}

func TestCancel_IdempotentOnlyWhenCancelled(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	at := in(time.Hour)
	v := "v1"
	s, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at, VideoID: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelled, err := coord.Cancel(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != domain.ScheduleStatusCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}

	again, err := coord.Cancel(ctx, s.ID)
	if err != nil {
		t.Fatalf("second cancel should be a no-op, got: %v", err)
	}
	if again.Status != domain.ScheduleStatusCancelled {
		t.Fatalf("status = %q, want cancelled", again.Status)
	}

	// A completed schedule cannot be cancelled.
	done, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at.Add(2 * time.Hour), VideoID: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := coord.ExecuteDue(ctx, at.Add(3*time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := coord.Cancel(ctx, done.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
}

func TestCancel_RejectsExecuting(t *testing.T) {
	coord, store := newCoordinator(t, okTrigger)
	ctx := context.Background()
	repo := memstore.NewScheduleRepository(store)
	v := "v1"

	s, err := repo.Create(ctx, &domain.Schedule{
		AccountID:   "a1",
		VideoID:     &v,
		Type:        domain.ScheduleTypeIndependent,
		ScheduledAt: in(-time.Minute),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claimed, err := repo.ClaimDue(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != s.ID {
		t.Fatalf("claimed = %+v, want the seeded schedule", claimed)
	}

	if _, err := coord.Cancel(ctx, s.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState while executing", err)
	}
}

func TestReschedule_RevivesFailedSchedule(t *testing.T) {
	trigger := triggerFunc(func(context.Context, *domain.Schedule) error {
		return fmt.Errorf("platform down")
	})
	coord, store := newCoordinator(t, trigger)
	ctx := context.Background()
	seedVideo(t, store, "v1")
	seedAccount(t, store, "a1")

	at := in(time.Hour)
	v := "v1"
	s, err := coord.CreateIndependent(ctx, scheduling.IndependentInput{AccountID: "a1", At: at, VideoID: &v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := coord.ExecuteDue(ctx, at.Add(time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failed, err := coord.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed.Status != domain.ScheduleStatusFailed {
		t.Fatalf("status = %q, want failed", failed.Status)
	}

	next := in(2 * time.Hour)
	moved, err := coord.Reschedule(ctx, s.ID, next)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.Status != domain.ScheduleStatusScheduled {
		t.Errorf("status = %q, want scheduled", moved.Status)
	}
	if moved.ErrorMessage != nil {
		t.Errorf("error message = %q, want cleared", *moved.ErrorMessage)
	}
	if !moved.ScheduledAt.Equal(next.UTC()) {
		t.Errorf("scheduled_at = %v, want %v", moved.ScheduledAt, next)
	}

	if _, err := coord.Reschedule(ctx, s.ID, in(-time.Minute)); err == nil {
		t.Fatal("expected error for past reschedule time")
	}
}
