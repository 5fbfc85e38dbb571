package domain

import (
	"errors"
	"time"
)

var ErrVideoNotFound = errors.New("video not found")

type VideoStatus string

const (
	VideoStatusNew        VideoStatus = "new"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusReady      VideoStatus = "ready"
	VideoStatusPublished  VideoStatus = "published"
	VideoStatusFailed     VideoStatus = "failed"
)

// Video is the target entity of pipeline jobs and distributions. Content
// quality decisions happen upstream; this core only reads the attributes the
// matcher filters on.
type Video struct {
	ID        string
	SourceID  string
	Title     string
	SourceURL string

	Resolution      string
	Views           int64
	DurationSeconds int
	Watermarked     bool

	Status VideoStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// resolutionRank orders the supported vertical-resolution labels. Unknown
// labels rank below every known one, so a video with an unparseable
// resolution never satisfies a minimum-resolution filter.
var resolutionRank = map[string]int{
	"720p":  1,
	"1080p": 2,
	"1440p": 3,
	"2160p": 4,
}

// ResolutionAtLeast reports whether res meets min on the ordered scale
// 720p < 1080p < 1440p < 2160p. An empty min always passes.
func ResolutionAtLeast(res, min string) bool {
	if min == "" {
		return true
	}
	return resolutionRank[res] >= resolutionRank[min] && resolutionRank[res] > 0
}
