// seed provisions demo accounts and source videos in the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"clipwave/internal/domain"
	"clipwave/internal/infrastructure/postgres"
	"github.com/jackc/pgx/v5"
)

var accounts = []*domain.Account{
	{
		ID:            "yt-main",
		Name:          "Main Channel",
		Platform:      "youtube",
		Active:        true,
		Repository:    "clipwave/publish-yt-main",
		CredentialRef: "yt-main-token",
		Filters: domain.ContentFilters{
			MinResolution: "1080p",
			MinViews:      10_000,
		},
		Posting: domain.PostingSchedule{
			PostsPerDay:    2,
			PreferredTimes: []string{"10:00", "18:00"},
			Timezone:       "America/New_York",
		},
	},
	{
		ID:            "yt-shorts",
		Name:          "Shorts Channel",
		Platform:      "youtube",
		Active:        true,
		Repository:    "clipwave/publish-yt-shorts",
		CredentialRef: "yt-shorts-token",
		Filters: domain.ContentFilters{
			MaxDurationSeconds: 60,
			ExcludeWatermarked: true,
		},
		Posting: domain.PostingSchedule{
			PostsPerDay:    3,
			PreferredTimes: []string{"09:00", "14:00", "20:00"},
			Timezone:       "America/New_York",
		},
	},
	{
		ID:            "tt-clips",
		Name:          "Clips",
		Platform:      "tiktok",
		Active:        true,
		Repository:    "clipwave/publish-tt-clips",
		CredentialRef: "tt-clips-token",
		Filters: domain.ContentFilters{
			MinViews:           100_000,
			MaxDurationSeconds: 180,
		},
		Posting: domain.PostingSchedule{
			PostsPerDay:    4,
			PreferredTimes: []string{"08:00", "12:00", "17:00", "21:00"},
			Timezone:       "Europe/Berlin",
		},
	},
	{
		// No publish repository or credential ref: shows up unhealthy in /accounts
		ID:       "ig-reels",
		Name:     "Reels",
		Platform: "instagram",
		Active:   true,
	},
}

type videoSpec struct {
	sourceID string
	title    string
	url      string
	res      string
	views    int64
	duration int
	marked   bool
	status   domain.VideoStatus
}

var videos = []videoSpec{
	// Ready for matching — high views, clean, good resolution
	{"src-001", "Sunset timelapse over the bay", "https://source.example.com/v/src-001", "2160p", 420_000, 45, false, domain.VideoStatusReady},
	{"src-002", "Night market street food tour", "https://source.example.com/v/src-002", "1080p", 150_000, 150, false, domain.VideoStatusReady},
	{"src-003", "Thirty second espresso recipe", "https://source.example.com/v/src-003", "1080p", 95_000, 30, false, domain.VideoStatusReady},

	// Watermarked — the shorts channel filters it out
	{"src-004", "Drone pass over the old town", "https://source.example.com/v/src-004", "1440p", 210_000, 55, true, domain.VideoStatusReady},

	// Low views and low resolution — matches nobody's filters
	{"src-005", "Rainy window ambience", "https://source.example.com/v/src-005", "720p", 1_200, 600, false, domain.VideoStatusReady},

	// Fresh intake — gets a queued scrape job
	{"src-006", "Harbor ferry crossing at dawn", "https://source.example.com/v/src-006", "", 0, 0, false, domain.VideoStatusNew},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	accountRepo := postgres.NewAccountRepository(pool)
	videoRepo := postgres.NewVideoRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)

	for _, a := range accounts {
		if _, err := accountRepo.Upsert(ctx, a); err != nil {
			log.Fatalf("upsert account %s: %v", a.ID, err)
		}
	}

	// Insert videos, skip any that already exist (idempotent re-runs)
	var inserted, skipped, jobsQueued int
	for _, spec := range videos {
		var existing string
		err := pool.QueryRow(ctx,
			`SELECT id FROM videos WHERE source_id = $1`, spec.sourceID).Scan(&existing)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Fatalf("check video %s: %v", spec.sourceID, err)
		}

		v, err := videoRepo.Create(ctx, &domain.Video{
			SourceID:        spec.sourceID,
			Title:           spec.title,
			SourceURL:       spec.url,
			Resolution:      spec.res,
			Views:           spec.views,
			DurationSeconds: spec.duration,
			Watermarked:     spec.marked,
			Status:          spec.status,
		})
		if err != nil {
			log.Fatalf("insert video %s: %v", spec.sourceID, err)
		}
		inserted++

		if spec.status == domain.VideoStatusNew {
			_, err := jobRepo.Create(ctx, &domain.Job{
				VideoID:     v.ID,
				Type:        domain.JobTypeScrape,
				Status:      domain.JobStatusQueued,
				MaxAttempts: domain.DefaultMaxAttempts,
				QueuedAt:    time.Now().UTC(),
			})
			if err != nil {
				log.Fatalf("queue scrape for %s: %v", spec.sourceID, err)
			}
			jobsQueued++
		}
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Accounts:       %d upserted\n", len(accounts))
	fmt.Printf("  Videos created: %d  (skipped %d already existing)\n", inserted, skipped)
	fmt.Printf("  Jobs queued:    %d scrape\n", jobsQueued)
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 — mint an operator token (same JWT_SECRET as the server):")
	fmt.Println()
	fmt.Println("    export JWT=$(go run ./cmd/wavectl token --operator you)")
	fmt.Println()
	fmt.Println("  Step 2 — run a rule-matching pass over the ready videos:")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/api/v1/distributions/match/filters \\")
	fmt.Println("      -H \"Authorization: Bearer $JWT\" | jq")
	fmt.Println()
	fmt.Println("  Step 3 — force a coordination tick and watch the scrape job run:")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/api/v1/control/start -H \"Authorization: Bearer $JWT\"")
	fmt.Println("    curl -s -X POST http://localhost:8080/api/v1/control/tick \\")
	fmt.Println("      -H \"Authorization: Bearer $JWT\" | jq")
	fmt.Println()
	fmt.Println("  Step 4 — check the dashboard:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/api/v1/dashboard -H \"Authorization: Bearer $JWT\" | jq")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    src-001..003  →  matched to accounts whose filters they pass")
	fmt.Println("    src-004       →  skipped by yt-shorts (watermarked)")
	fmt.Println("    src-005       →  matches nobody")
	fmt.Println("    src-006       →  scrape job completes on the first tick")
}
