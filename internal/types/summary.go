package types

import (
	"time"

	"github.com/google/uuid"
)

// ErrorCounts tallies failures by category.
type ErrorCounts struct {
	Scrape     int `json:"scrape"`
	Analysis   int `json:"analysis"`
	Storage    int `json:"storage"`
	Validation int `json:"validation"`
}

// Total returns the sum of all categories.
func (c ErrorCounts) Total() int {
	return c.Scrape + c.Analysis + c.Storage + c.Validation
}

// Add increments the counter for err's category. Uncategorized errors count as storage,
// since only store calls can produce them at the orchestrator boundary.
func (c *ErrorCounts) Add(err error) {
	switch ErrorCategory(err) {
	case CategoryScrape:
		c.Scrape++
	case CategoryAnalysis:
		c.Analysis++
	case CategoryValidation:
		c.Validation++
	case "":
	default:
		c.Storage++
	}
}

// RunSummary reports what one orchestrator run did.
type RunSummary struct {
	RunID               uuid.UUID   `json:"run_id"`
	StartedAt           time.Time   `json:"started_at"`
	FinishedAt          time.Time   `json:"finished_at"`
	TermsProcessed      int         `json:"terms_processed"`
	PostingsFetched     int         `json:"postings_fetched"`
	PostingsNew         int         `json:"postings_new"`
	PostingsAnalyzed    int         `json:"postings_analyzed"`
	PostingsSkipped     int         `json:"postings_skipped"`
	PendingRetried      int         `json:"pending_retried"`
	CompaniesIdentified int         `json:"companies_identified"`
	Errors              ErrorCounts `json:"errors"`
	Aborted             bool        `json:"aborted"`
	Cancelled           bool        `json:"cancelled"`
	FinalState          string      `json:"final_state"`
}

// Duration returns the wall-clock time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
