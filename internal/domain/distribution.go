package domain

import (
	"errors"
	"time"
)

var (
	ErrDistributionNotFound = errors.New("distribution not found")
	ErrRetriesExhausted     = errors.New("retry budget exhausted")

	// ErrDuplicateAssignment is returned when a video/account pair already
	// has a live assignment. Cancelled and failed assignments do not block.
	ErrDuplicateAssignment = errors.New("video already assigned to account")
)

type DistributionMethod string

const (
	MethodRuleMatch     DistributionMethod = "rule_match"
	MethodScheduleMatch DistributionMethod = "schedule_match"
	MethodManual        DistributionMethod = "manual"
)

type DistributionStatus string

const (
	DistributionAssigned  DistributionStatus = "assigned"
	DistributionScheduled DistributionStatus = "scheduled"
	DistributionPublished DistributionStatus = "published"
	DistributionFailed    DistributionStatus = "failed"
	DistributionCancelled DistributionStatus = "cancelled"
)

// Active reports whether the status blocks another assignment of the same
// (video, account) pair.
func (s DistributionStatus) Active() bool {
	return s != DistributionCancelled && s != DistributionFailed
}

// DefaultMaxRetries bounds RetryFailed for assignments created without an
// explicit budget.
const DefaultMaxRetries = 3

// Distribution links a video to an account, independent of whether a
// publication time exists yet. ScheduleID is set once a Schedule is created
// for the assignment.
type Distribution struct {
	ID        string
	VideoID   string
	AccountID string

	Method DistributionMethod
	// Reason explains the match in free form ("views 84k >= 10k, ..." or
	// "open slot 2026-08-24T18:00Z"). Not schema-bound.
	Reason string

	Status     DistributionStatus
	ScheduleID *string

	RetryCount int
	MaxRetries int

	ErrorMessage *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DistributionStats is the derived aggregate for monitoring views.
type DistributionStats struct {
	Total       int
	ByStatus    map[DistributionStatus]int
	ByMethod    map[DistributionMethod]int
	SuccessRate float64
}
