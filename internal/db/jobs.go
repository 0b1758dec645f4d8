package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/stack-scout/internal/types"
)

// -----------------------------------------------------------------------------
// Job Posting Methods
// -----------------------------------------------------------------------------

// InsertPostings stores postings in one batch, ignoring job_ids already present.
// It returns the number of rows created.
func (db *DB) InsertPostings(ctx context.Context, postings []types.JobPosting) (int, error) {
	if len(postings) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range postings {
		batch.Queue(
			`INSERT INTO job_postings (job_id, platform, company, job_title, location,
			                           description, job_url, search_term, scraped_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (job_id) DO NOTHING`,
			p.JobID, string(p.Platform), p.Company, p.JobTitle, p.Location,
			p.Description, p.JobURL, p.SearchTerm, p.ScrapedAt,
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	inserted := 0
	for range postings {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert job posting: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ExistingJobIDs returns which of ids are already stored, in a single query.
func (db *DB) ExistingJobIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT job_id FROM job_postings WHERE job_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query job ids: %w", err)
	}
	existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan job ids: %w", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// MarkProcessed sets processed and processed_at for a posting.
func (db *DB) MarkProcessed(ctx context.Context, jobID string, at time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE job_postings SET processed = TRUE, processed_at = $2 WHERE job_id = $1`,
		jobID, at)
	if err != nil {
		return fmt.Errorf("failed to mark job %s processed: %w", jobID, err)
	}
	return nil
}

// ListUnprocessed returns unprocessed postings, oldest first. limit <= 0 means all.
func (db *DB) ListUnprocessed(ctx context.Context, limit int) ([]types.JobPosting, error) {
	query := `SELECT job_id, platform, company, job_title, location, description,
	                 job_url, search_term, scraped_at, processed, processed_at
	          FROM job_postings
	          WHERE NOT processed
	          ORDER BY scraped_at, job_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed postings: %w", err)
	}
	defer rows.Close()

	var postings []types.JobPosting
	for rows.Next() {
		var p types.JobPosting
		var platform string
		if err := rows.Scan(&p.JobID, &platform, &p.Company, &p.JobTitle, &p.Location,
			&p.Description, &p.JobURL, &p.SearchTerm, &p.ScrapedAt, &p.Processed, &p.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job posting: %w", err)
		}
		p.Platform = types.Platform(platform)
		postings = append(postings, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job postings: %w", err)
	}
	return postings, nil
}
