package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/stack-scout/internal/types"
)

// -----------------------------------------------------------------------------
// Identified Company Methods
// -----------------------------------------------------------------------------

// UpsertIdentifiedCompany inserts the (company_key, tool_detected) row atomically.
// An existing row only has empty job_url, job_title and context filled in.
// The returned bool is true when the row was created.
func (db *DB) UpsertIdentifiedCompany(ctx context.Context, c types.IdentifiedCompany) (bool, error) {
	var created bool
	err := db.pool.QueryRow(ctx,
		`INSERT INTO identified_companies (company_name, company_key, tool_detected, signal_type,
		                                   context, job_title, job_url, platform, identified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (company_key, tool_detected) DO UPDATE SET
		     job_url   = COALESCE(NULLIF(identified_companies.job_url, ''), EXCLUDED.job_url),
		     job_title = COALESCE(NULLIF(identified_companies.job_title, ''), EXCLUDED.job_title),
		     context   = COALESCE(NULLIF(identified_companies.context, ''), EXCLUDED.context)
		 RETURNING (xmax = 0)`,
		c.CompanyName, c.CompanyKey(), string(c.ToolDetected), string(c.SignalType),
		c.Context, c.JobTitle, c.JobURL, string(c.Platform), c.IdentifiedAt,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert identified company %q: %w", c.CompanyName, err)
	}
	return created, nil
}

// IsCompanyIdentified reports whether any row exists for the normalized name.
func (db *DB) IsCompanyIdentified(ctx context.Context, companyName string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM identified_companies WHERE company_key = $1)`,
		types.NormalizeCompanyName(companyName),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check identified company: %w", err)
	}
	return exists, nil
}

// IdentifiedCompanyNames returns every distinct company_key.
func (db *DB) IdentifiedCompanyNames(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT company_key FROM identified_companies ORDER BY company_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identified companies: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan identified companies: %w", err)
	}
	return names, nil
}
