package domain

import (
	"errors"
	"time"
)

var ErrAccountNotFound = errors.New("account not found")

// ContentFilters decide which videos an account accepts during rule
// matching. Zero values disable the corresponding check.
type ContentFilters struct {
	MinResolution      string
	MinViews           int64
	MaxDurationSeconds int
	ExcludeWatermarked bool
}

// Match reports whether the video satisfies every enabled filter. The
// watermark rule is a hard exclusion, not a ranking signal.
func (f ContentFilters) Match(v *Video) bool {
	if !ResolutionAtLeast(v.Resolution, f.MinResolution) {
		return false
	}
	if f.MinViews > 0 && v.Views < f.MinViews {
		return false
	}
	if f.MaxDurationSeconds > 0 && v.DurationSeconds > f.MaxDurationSeconds {
		return false
	}
	if f.ExcludeWatermarked && v.Watermarked {
		return false
	}
	return true
}

// PostingSchedule describes when an account wants to publish. Preferred
// times are local wall-clock values ("18:30") in Timezone; ActiveDays empty
// means every day.
type PostingSchedule struct {
	PostsPerDay    int
	PreferredTimes []string
	Timezone       string
	ActiveDays     []time.Weekday
}

// Account is per-channel configuration. It is owned and edited outside this
// core; the matcher and coordinator only read it.
type Account struct {
	ID       string
	Name     string
	Platform string
	Active   bool

	// Repository is the publish target (workflow-dispatch repo or API
	// endpoint); CredentialRef names the token used for it. Monitoring
	// treats an account missing either as unhealthy.
	Repository    string
	CredentialRef string

	Filters ContentFilters
	Posting PostingSchedule

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credentialed reports whether the account can actually publish.
func (a *Account) Credentialed() bool {
	return a.Repository != "" && a.CredentialRef != ""
}
