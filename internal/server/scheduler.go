package server

import (
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/revlens-ai/revlens/internal/schema"
)

// Scheduler re-reads the schema summary on a cron cadence so the planner
// picks up ingestion reruns without a restart.
type Scheduler struct {
	Matcher  *schema.Matcher
	Path     string
	CronSpec string
	Stop     chan struct{}

	lastRefresh time.Time
}

// Start runs the refresh loop in the background.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	now := time.Now()
	if !isDue(s.CronSpec, s.lastRefresh, now) {
		return
	}
	s.lastRefresh = now
	sum, err := schema.Load(s.Path)
	if err != nil {
		log.Printf("schema refresh skipped: %v", err)
		return
	}
	if err := s.Matcher.Swap(sum); err != nil {
		log.Printf("schema refresh failed: %v", err)
		return
	}
	log.Printf("schema summary refreshed: %d tables, %d relationships, %d collections",
		len(sum.Tables), len(sum.Relationships), len(sum.Collections))
}

func isDue(cronSpec string, last, now time.Time) bool {
	switch cronSpec {
	case "", "@hourly":
		return last.IsZero() || now.Sub(last) >= time.Hour
	case "@daily":
		return last.IsZero() || now.Sub(last) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Fallback: treat as @hourly if invalid
			return last.IsZero() || now.Sub(last) >= time.Hour
		}
		if last.IsZero() {
			return true
		}
		next := expr.Next(last)
		return !next.After(now)
	}
}
