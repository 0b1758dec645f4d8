// Package store defines the persistence contracts the pipeline depends on.
package store

import (
	"context"
	"time"

	"github.com/jonathan/stack-scout/internal/types"
)

// JobStore persists scraped postings and their processed flag.
type JobStore interface {
	// InsertPostings stores postings, ignoring job_ids that already exist.
	// Returns the number of rows actually inserted.
	InsertPostings(ctx context.Context, postings []types.JobPosting) (int, error)
	// ExistingJobIDs returns the subset of ids already stored, in one lookup.
	ExistingJobIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// MarkProcessed flips processed and sets processed_at.
	MarkProcessed(ctx context.Context, jobID string, at time.Time) error
	// ListUnprocessed returns up to limit postings with processed = false, oldest first.
	ListUnprocessed(ctx context.Context, limit int) ([]types.JobPosting, error)
}

// CompanyStore persists identified companies keyed by (normalized name, tool).
type CompanyStore interface {
	// UpsertIdentifiedCompany inserts the pair if absent and reports whether it was created.
	// An existing pair only has empty display fields filled in.
	UpsertIdentifiedCompany(ctx context.Context, company types.IdentifiedCompany) (bool, error)
	// IsCompanyIdentified reports whether the company is recorded for any tool.
	IsCompanyIdentified(ctx context.Context, companyName string) (bool, error)
	// IdentifiedCompanyNames returns every normalized company key on record.
	IdentifiedCompanyNames(ctx context.Context) ([]string, error)
}

// TermStore persists SearchTermState rows.
type TermStore interface {
	// ListDueTerms returns active terms never scraped or scraped before cutoff,
	// never-scraped first, then oldest last_scraped_at first.
	ListDueTerms(ctx context.Context, cutoff time.Time) ([]types.SearchTermState, error)
	// GetTerm returns the term or nil when unknown.
	GetTerm(ctx context.Context, term string) (*types.SearchTermState, error)
	// UpsertTerm creates the term or updates its active flag.
	UpsertTerm(ctx context.Context, term string, active bool) error
	// UpdateTermResult records a scrape attempt.
	UpdateTermResult(ctx context.Context, term string, scrapedAt time.Time, jobsFound int) error
	// ListTerms returns all terms ordered by name.
	ListTerms(ctx context.Context) ([]types.SearchTermState, error)
}

// Store is the full persistence surface.
type Store interface {
	JobStore
	CompanyStore
	TermStore
	Close()
}
