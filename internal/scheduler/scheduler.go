// Package scheduler decides which search terms are due for scraping and
// drives the pipeline periodically in continuous mode.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/types"
)

// DefaultRefreshInterval is how long a scraped term stays fresh.
const DefaultRefreshInterval = 7 * 24 * time.Hour

// Scheduler tracks per-term scrape recency.
type Scheduler struct {
	terms    store.TermStore
	interval time.Duration
	logger   *slog.Logger

	// Now is the clock; replaced in tests.
	Now func() time.Time
}

// New creates a Scheduler. A non-positive interval uses DefaultRefreshInterval.
func New(terms store.TermStore, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{terms: terms, interval: interval, logger: logger, Now: time.Now}
}

// Interval returns the refresh interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// DueTerms returns active terms that were never scraped or were scraped more than
// one interval ago, oldest first. Each call reads a fresh snapshot.
func (s *Scheduler) DueTerms(ctx context.Context) ([]types.SearchTermState, error) {
	cutoff := s.Now().Add(-s.interval)
	due, err := s.terms.ListDueTerms(ctx, cutoff)
	if err != nil {
		return nil, types.NewStorageFailure("list due terms", err)
	}
	return due, nil
}

// Term returns the named term, creating it as active when it does not exist.
// Used for manually triggered single-term runs.
func (s *Scheduler) Term(ctx context.Context, term string) (types.SearchTermState, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return types.SearchTermState{}, &types.ValidationError{Field: "search_term", Message: "must not be empty"}
	}
	state, err := s.terms.GetTerm(ctx, term)
	if err != nil {
		return types.SearchTermState{}, types.NewStorageFailure("get term", err)
	}
	if state != nil {
		return *state, nil
	}
	if err := s.terms.UpsertTerm(ctx, term, true); err != nil {
		return types.SearchTermState{}, types.NewStorageFailure("create term", err)
	}
	s.logger.InfoContext(ctx, "created search term", "search_term", term)
	return types.SearchTermState{SearchTerm: term, IsActive: true}, nil
}

// RecordScrapeResult stamps last_scraped_at = now and jobs_found_count for term.
// It runs on failure too so a broken query is not retried until its next window.
// Only storage errors are returned.
func (s *Scheduler) RecordScrapeResult(ctx context.Context, term string, jobsFound int, success bool) error {
	if !success {
		jobsFound = 0
		s.logger.WarnContext(ctx, "scrape attempt failed; term deferred to next window",
			"search_term", term,
			"next_due", s.Now().Add(s.interval).Format(time.RFC3339))
	}
	if err := s.terms.UpdateTermResult(ctx, term, s.Now(), jobsFound); err != nil {
		return types.NewStorageFailure(fmt.Sprintf("update term %q", term), err)
	}
	s.logger.DebugContext(ctx, "recorded scrape result",
		"search_term", term,
		"jobs_found", jobsFound,
		"success", success)
	return nil
}
