// Package localdb is a single-file SQLite store for running the pipeline
// without a PostgreSQL server. Timestamps are stored as unix milliseconds.
package localdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/types"
)

//go:embed schema.sql
var schema string

// maxParams keeps IN (...) lookups under SQLite's bound-parameter limit.
const maxParams = 500

// DB is a SQLite-backed store.Store.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and each :memory:
	// connection would otherwise see its own empty database.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{db: conn}, nil
}

// Close closes the database.
func (d *DB) Close() {
	_ = d.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// InsertPostings stores postings in one transaction, ignoring known job_ids.
func (d *DB) InsertPostings(ctx context.Context, postings []types.JobPosting) (int, error) {
	if len(postings) == 0 {
		return 0, nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO job_postings (job_id, platform, company, job_title, location,
		                           description, job_url, search_term, scraped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, p := range postings {
		res, err := stmt.ExecContext(ctx,
			p.JobID, string(p.Platform), p.Company, p.JobTitle, p.Location,
			p.Description, p.JobURL, p.SearchTerm, toMillis(p.ScrapedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert job posting %s: %w", p.JobID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read insert result: %w", err)
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit postings: %w", err)
	}
	return inserted, nil
}

// ExistingJobIDs returns which of ids are already stored.
func (d *DB) ExistingJobIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(ids); start += maxParams {
		chunk := ids[start:min(start+maxParams, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := d.db.QueryContext(ctx,
			`SELECT job_id FROM job_postings WHERE job_id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query job ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan job id: %w", err)
			}
			found[id] = true
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read job ids: %w", err)
		}
	}
	return found, nil
}

// MarkProcessed sets processed and processed_at for a posting.
func (d *DB) MarkProcessed(ctx context.Context, jobID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE job_postings SET processed = 1, processed_at = ? WHERE job_id = ?`,
		toMillis(at), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job %s processed: %w", jobID, err)
	}
	return nil
}

// ListUnprocessed returns unprocessed postings oldest first. limit <= 0 means all.
func (d *DB) ListUnprocessed(ctx context.Context, limit int) ([]types.JobPosting, error) {
	query := `SELECT job_id, platform, company, job_title, location, description,
	                 job_url, search_term, scraped_at, processed, processed_at
	          FROM job_postings WHERE processed = 0
	          ORDER BY scraped_at, job_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed postings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.JobPosting
	for rows.Next() {
		var (
			p           types.JobPosting
			platform    string
			scrapedAt   int64
			processedAt sql.NullInt64
		)
		if err := rows.Scan(&p.JobID, &platform, &p.Company, &p.JobTitle, &p.Location,
			&p.Description, &p.JobURL, &p.SearchTerm, &scrapedAt, &p.Processed, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		p.Platform = types.Platform(platform)
		p.ScrapedAt = fromMillis(scrapedAt)
		p.ProcessedAt = nullableTime(processedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read postings: %w", err)
	}
	return out, nil
}

// UpsertIdentifiedCompany inserts the (company_key, tool_detected) row. An
// existing row only has empty job_url, job_title and context filled in.
func (d *DB) UpsertIdentifiedCompany(ctx context.Context, c types.IdentifiedCompany) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO identified_companies (company_name, company_key, tool_detected, signal_type,
		                                   context, job_title, job_url, platform, identified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (company_key, tool_detected) DO NOTHING`,
		c.CompanyName, c.CompanyKey(), string(c.ToolDetected), string(c.SignalType),
		c.Context, c.JobTitle, c.JobURL, string(c.Platform), toMillis(c.IdentifiedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert identified company %q: %w", c.CompanyName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	created := n == 1

	if !created {
		_, err = tx.ExecContext(ctx,
			`UPDATE identified_companies SET
			     job_url   = COALESCE(NULLIF(job_url, ''), ?),
			     job_title = COALESCE(NULLIF(job_title, ''), ?),
			     context   = COALESCE(NULLIF(context, ''), ?)
			 WHERE company_key = ? AND tool_detected = ?`,
			c.JobURL, c.JobTitle, c.Context, c.CompanyKey(), string(c.ToolDetected))
		if err != nil {
			return false, fmt.Errorf("failed to update identified company %q: %w", c.CompanyName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit identified company: %w", err)
	}
	return created, nil
}

// IsCompanyIdentified reports whether any row exists for the normalized name.
func (d *DB) IsCompanyIdentified(ctx context.Context, companyName string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identified_companies WHERE company_key = ?)`,
		types.NormalizeCompanyName(companyName)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check identified company: %w", err)
	}
	return exists, nil
}

// IdentifiedCompanyNames returns every distinct company_key.
func (d *DB) IdentifiedCompanyNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT company_key FROM identified_companies ORDER BY company_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identified companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan company key: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

const termColumns = `search_term, last_scraped_at, jobs_found_count, is_active`

func (d *DB) queryTerms(ctx context.Context, query string, args ...any) ([]types.SearchTermState, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.SearchTermState
	for rows.Next() {
		var (
			t        types.SearchTermState
			lastSeen sql.NullInt64
		)
		if err := rows.Scan(&t.SearchTerm, &lastSeen, &t.JobsFoundCount, &t.IsActive); err != nil {
			return nil, err
		}
		t.LastScrapedAt = nullableTime(lastSeen)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListDueTerms returns active terms never scraped or scraped before cutoff,
// never-scraped first and then oldest first.
func (d *DB) ListDueTerms(ctx context.Context, cutoff time.Time) ([]types.SearchTermState, error) {
	terms, err := d.queryTerms(ctx,
		`SELECT `+termColumns+` FROM search_terms
		 WHERE is_active = 1 AND (last_scraped_at IS NULL OR last_scraped_at < ?)
		 ORDER BY last_scraped_at IS NOT NULL, last_scraped_at, search_term`,
		toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to list due terms: %w", err)
	}
	return terms, nil
}

// GetTerm returns the term, or nil when it does not exist.
func (d *DB) GetTerm(ctx context.Context, term string) (*types.SearchTermState, error) {
	terms, err := d.queryTerms(ctx,
		`SELECT `+termColumns+` FROM search_terms WHERE search_term = ?`, strings.TrimSpace(term))
	if err != nil {
		return nil, fmt.Errorf("failed to get term: %w", err)
	}
	if len(terms) == 0 {
		return nil, nil
	}
	return &terms[0], nil
}

// UpsertTerm creates the term or sets its active flag.
func (d *DB) UpsertTerm(ctx context.Context, term string, active bool) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO search_terms (search_term, is_active) VALUES (?, ?)
		 ON CONFLICT (search_term) DO UPDATE SET is_active = excluded.is_active`,
		strings.TrimSpace(term), active)
	if err != nil {
		return fmt.Errorf("failed to upsert term: %w", err)
	}
	return nil
}

// UpdateTermResult records a scrape attempt, creating the term when needed.
func (d *DB) UpdateTermResult(ctx context.Context, term string, scrapedAt time.Time, jobsFound int) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO search_terms (search_term, last_scraped_at, jobs_found_count, is_active)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT (search_term) DO UPDATE SET
		     last_scraped_at = excluded.last_scraped_at,
		     jobs_found_count = excluded.jobs_found_count`,
		term, toMillis(scrapedAt), jobsFound)
	if err != nil {
		return fmt.Errorf("failed to update term result: %w", err)
	}
	return nil
}

// ListTerms returns all terms by name.
func (d *DB) ListTerms(ctx context.Context) ([]types.SearchTermState, error) {
	terms, err := d.queryTerms(ctx, `SELECT `+termColumns+` FROM search_terms ORDER BY search_term`)
	if err != nil {
		return nil, fmt.Errorf("failed to list terms: %w", err)
	}
	return terms, nil
}
