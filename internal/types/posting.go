// Package types provides the data model shared across the stack-scout pipeline.
package types

import (
	"strings"
	"time"
)

// Platform identifies the job board a posting was scraped from.
type Platform string

// Supported platforms
const (
	PlatformLinkedIn Platform = "LinkedIn"
	PlatformApify    Platform = "Apify"
)

// JobPosting is one scraped job advertisement.
type JobPosting struct {
	JobID       string     `json:"job_id" validate:"required"`
	Platform    Platform   `json:"platform" validate:"required"`
	Company     string     `json:"company"`
	JobTitle    string     `json:"job_title"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description"`
	JobURL      string     `json:"job_url"`
	SearchTerm  string     `json:"search_term"`
	ScrapedAt   time.Time  `json:"scraped_at"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// SearchTermState is the scheduling bookkeeping for one search query.
type SearchTermState struct {
	SearchTerm     string     `json:"search_term"`
	LastScrapedAt  *time.Time `json:"last_scraped_at,omitempty"`
	JobsFoundCount int        `json:"jobs_found_count"`
	IsActive       bool       `json:"is_active"`
}

// IsDue reports whether the term should be scraped again at now.
// A term that was never scraped is always due.
func (s SearchTermState) IsDue(now time.Time, interval time.Duration) bool {
	if !s.IsActive {
		return false
	}
	if s.LastScrapedAt == nil {
		return true
	}
	return s.LastScrapedAt.Before(now.Add(-interval))
}

// NormalizeCompanyName returns the key used to match company names:
// lower-cased, trimmed, inner whitespace collapsed to single spaces.
func NormalizeCompanyName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
