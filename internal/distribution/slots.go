package distribution

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"clipwave/internal/domain"
	"github.com/robfig/cron/v3"
)

// NextOpenSlots derives the account's free publication slots from its
// posting preferences: each preferred wall-clock time becomes a cron line in
// the account's timezone, and an activation is open when it is not within
// the conflict window of an existing publication and the local day still has
// quota left. Accounts with no preferred times or a zero daily quota have no
// slots. Returned times are UTC, ascending, at most max of them, all within
// horizon of from.
func NextOpenSlots(account *domain.Account, existing []*domain.Schedule, from time.Time, horizon time.Duration, max int) ([]time.Time, error) {
	p := account.Posting
	if max <= 0 || p.PostsPerDay <= 0 || len(p.PreferredTimes) == 0 {
		return nil, nil
	}

	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("account %s timezone %q: %w", account.ID, tz, err)
	}

	crons := make([]cron.Schedule, 0, len(p.PreferredTimes))
	for _, pt := range p.PreferredTimes {
		clock, err := time.Parse("15:04", pt)
		if err != nil {
			return nil, fmt.Errorf("account %s preferred time %q: %w", account.ID, pt, err)
		}
		spec := fmt.Sprintf("CRON_TZ=%s %d %d * * %s", tz, clock.Minute(), clock.Hour(), dayOfWeekExpr(p.ActiveDays))
		cs, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("account %s slot spec %q: %w", account.ID, spec, err)
		}
		crons = append(crons, cs)
	}

	// Posted and still-planned publications both consume capacity;
	// cancelled and failed ones hand it back.
	taken := make([]time.Time, 0, len(existing))
	perDay := make(map[string]int)
	for _, s := range existing {
		if s.Status == domain.ScheduleStatusCancelled || s.Status == domain.ScheduleStatusFailed {
			continue
		}
		taken = append(taken, s.ScheduledAt)
		perDay[s.ScheduledAt.In(loc).Format(time.DateOnly)]++
	}

	end := from.Add(horizon)
	cursors := make([]time.Time, len(crons))
	for i, cs := range crons {
		cursors[i] = cs.Next(from)
	}

	var slots []time.Time
	for len(slots) < max {
		next := -1
		for i, t := range cursors {
			if t.IsZero() || t.After(end) {
				continue
			}
			if next == -1 || t.Before(cursors[next]) {
				next = i
			}
		}
		if next == -1 {
			break
		}
		candidate := cursors[next]
		cursors[next] = crons[next].Next(candidate)

		day := candidate.In(loc).Format(time.DateOnly)
		if perDay[day] >= p.PostsPerDay {
			continue
		}
		if occupied(candidate, taken) {
			continue
		}
		slots = append(slots, candidate.UTC())
		taken = append(taken, candidate)
		perDay[day]++
	}
	return slots, nil
}

func occupied(at time.Time, taken []time.Time) bool {
	for _, t := range taken {
		d := at.Sub(t)
		if d < 0 {
			d = -d
		}
		if d < domain.ConflictWindow {
			return true
		}
	}
	return false
}

// dayOfWeekExpr renders ActiveDays as a cron day-of-week field. Both sides
// number Sunday as 0. Empty means every day.
func dayOfWeekExpr(days []time.Weekday) string {
	if len(days) == 0 {
		return "*"
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}
