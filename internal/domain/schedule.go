package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
)

type ScheduleType string

const (
	ScheduleTypeSimultaneous ScheduleType = "simultaneous"
	ScheduleTypeStaggered    ScheduleType = "staggered"
	ScheduleTypeIndependent  ScheduleType = "independent"
)

func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleTypeSimultaneous, ScheduleTypeStaggered, ScheduleTypeIndependent:
		return true
	}
	return false
}

type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "pending"
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusExecuting ScheduleStatus = "executing"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// Terminal reports whether the status closes the schedule's state machine.
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleStatusCompleted || s == ScheduleStatusFailed || s == ScheduleStatusCancelled
}

// Active reports whether the status still blocks duplicate (video, account)
// pairs and counts toward near-simultaneous conflicts. Failed schedules do
// not block: operators must be able to reschedule after a failure.
func (s ScheduleStatus) Active() bool {
	return s == ScheduleStatusPending || s == ScheduleStatusScheduled || s == ScheduleStatusExecuting
}

// ConflictWindow is the minimum spacing between two unrelated publications
// on one account. The publish trigger is rate-limited per account, so two
// executions closer than this are flagged by validation.
const ConflictWindow = 60 * time.Second

// Schedule is one planned publication on one account. Schedules created
// together by a simultaneous or staggered call share a coordination group;
// schedules belonging to one campaign share a wave id across groups.
type Schedule struct {
	ID        string
	AccountID string
	VideoID   *string

	Type        ScheduleType
	ScheduledAt time.Time
	// DelaySeconds is the per-position offset used when the schedule was
	// created as part of a staggered group.
	DelaySeconds *int

	Status ScheduleStatus
	Paused bool

	CoordinationGroupID *string
	WaveID              *string

	Attempts     int
	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SameCampaign reports whether two schedules were deliberately created to
// publish together, which exempts them from the conflict window.
func (s *Schedule) SameCampaign(o *Schedule) bool {
	if s.CoordinationGroupID != nil && o.CoordinationGroupID != nil &&
		*s.CoordinationGroupID == *o.CoordinationGroupID {
		return true
	}
	if s.WaveID != nil && o.WaveID != nil && *s.WaveID == *o.WaveID {
		return true
	}
	return false
}

// ExecutionResult reports the outcome of dispatching one due schedule.
type ExecutionResult struct {
	ScheduleID string
	AccountID  string
	VideoID    string
	Success    bool
	Error      string
}
