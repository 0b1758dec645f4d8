package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/stack-scout/internal/types"
)

// -----------------------------------------------------------------------------
// Search Term Methods
// -----------------------------------------------------------------------------

const termColumns = `search_term, last_scraped_at, jobs_found_count, is_active`

func scanTerm(row pgx.Row) (types.SearchTermState, error) {
	var t types.SearchTermState
	err := row.Scan(&t.SearchTerm, &t.LastScrapedAt, &t.JobsFoundCount, &t.IsActive)
	return t, err
}

func collectTerms(rows pgx.Rows) ([]types.SearchTermState, error) {
	defer rows.Close()
	var terms []types.SearchTermState
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search term: %w", err)
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search terms: %w", err)
	}
	return terms, nil
}

// ListDueTerms returns active terms never scraped or last scraped before cutoff,
// never-scraped first, then oldest.
func (db *DB) ListDueTerms(ctx context.Context, cutoff time.Time) ([]types.SearchTermState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+termColumns+`
		 FROM search_terms
		 WHERE is_active AND (last_scraped_at IS NULL OR last_scraped_at < $1)
		 ORDER BY last_scraped_at ASC NULLS FIRST, search_term`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list due terms: %w", err)
	}
	return collectTerms(rows)
}

// GetTerm returns the term, or nil when it does not exist.
func (db *DB) GetTerm(ctx context.Context, term string) (*types.SearchTermState, error) {
	t, err := scanTerm(db.pool.QueryRow(ctx,
		`SELECT `+termColumns+` FROM search_terms WHERE search_term = $1`,
		strings.TrimSpace(term)))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get search term: %w", err)
	}
	return &t, nil
}

// UpsertTerm creates the term or sets its active flag.
func (db *DB) UpsertTerm(ctx context.Context, term string, active bool) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO search_terms (search_term, is_active) VALUES ($1, $2)
		 ON CONFLICT (search_term) DO UPDATE SET is_active = EXCLUDED.is_active`,
		strings.TrimSpace(term), active)
	if err != nil {
		return fmt.Errorf("failed to upsert search term: %w", err)
	}
	return nil
}

// UpdateTermResult records a scrape attempt, creating the term if needed.
func (db *DB) UpdateTermResult(ctx context.Context, term string, scrapedAt time.Time, jobsFound int) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO search_terms (search_term, last_scraped_at, jobs_found_count) VALUES ($1, $2, $3)
		 ON CONFLICT (search_term) DO UPDATE SET
		     last_scraped_at = EXCLUDED.last_scraped_at,
		     jobs_found_count = EXCLUDED.jobs_found_count`,
		term, scrapedAt, jobsFound)
	if err != nil {
		return fmt.Errorf("failed to update search term: %w", err)
	}
	return nil
}

// ListTerms returns all terms by name.
func (db *DB) ListTerms(ctx context.Context) ([]types.SearchTermState, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+termColumns+` FROM search_terms ORDER BY search_term`)
	if err != nil {
		return nil, fmt.Errorf("failed to list search terms: %w", err)
	}
	return collectTerms(rows)
}
