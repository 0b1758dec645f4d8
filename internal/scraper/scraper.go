// Package scraper turns a search term into a bounded list of normalized job postings.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/stack-scout/internal/fetch"
	"github.com/jonathan/stack-scout/internal/types"
)

// DefaultMaxItems bounds a single term's scrape when the caller passes no limit.
const DefaultMaxItems = 500

// DefaultTimeout bounds one FetchPostings call.
const DefaultTimeout = 60 * time.Second

// RawPosting is one result as returned by an upstream source, before normalization.
type RawPosting struct {
	ExternalID  string
	Company     string
	Title       string
	Location    string
	Description string
	URL         string
}

// Source is an external job-scraping capability.
type Source interface {
	Platform() types.Platform
	Search(ctx context.Context, searchTerm string, maxItems int) ([]RawPosting, error)
}

// Gateway adapts a Source to the pipeline's JobPosting shape.
type Gateway struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger

	// Now stamps scraped_at; replaced in tests.
	Now func() time.Time
}

// NewGateway creates a Gateway. A non-positive timeout uses DefaultTimeout.
func NewGateway(source Source, timeout time.Duration, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{source: source, timeout: timeout, logger: logger, Now: time.Now}
}

// FetchPostings returns at most maxItems normalized postings for searchTerm, in
// upstream order. Zero results is a success. Upstream and timeout errors are
// returned as *types.ScrapeFailure; bad arguments as *types.ValidationError.
func (g *Gateway) FetchPostings(ctx context.Context, searchTerm string, maxItems int) ([]types.JobPosting, error) {
	searchTerm = strings.TrimSpace(searchTerm)
	if searchTerm == "" {
		return nil, &types.ValidationError{Field: "search_term", Message: "must not be empty"}
	}
	if maxItems <= 0 {
		return nil, &types.ValidationError{Field: "max_items", Message: fmt.Sprintf("must be > 0, got %d", maxItems)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := g.Now()
	raw, err := g.source.Search(ctx, searchTerm, maxItems)
	if err != nil {
		msg := "source request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", g.timeout)
		}
		return nil, &types.ScrapeFailure{SearchTerm: searchTerm, Message: msg, Cause: err}
	}

	postings := g.normalize(searchTerm, raw, maxItems)
	g.logger.InfoContext(ctx, "fetched postings",
		"search_term", searchTerm,
		"platform", g.source.Platform(),
		"raw", len(raw),
		"postings", len(postings),
		"elapsed", g.Now().Sub(started).Round(time.Millisecond).String())
	return postings, nil
}

func (g *Gateway) normalize(searchTerm string, raw []RawPosting, maxItems int) []types.JobPosting {
	platform := g.source.Platform()
	scrapedAt := g.Now().UTC()
	seen := make(map[string]bool, len(raw))
	postings := make([]types.JobPosting, 0, min(len(raw), maxItems))

	for _, r := range raw {
		if len(postings) >= maxItems {
			break
		}
		company := strings.Join(strings.Fields(r.Company), " ")
		if company == "" {
			g.logger.Debug("dropping posting without company", "external_id", r.ExternalID, "url", r.URL)
			continue
		}
		p := types.JobPosting{
			Platform:    platform,
			Company:     company,
			JobTitle:    strings.Join(strings.Fields(r.Title), " "),
			Location:    strings.TrimSpace(r.Location),
			Description: fetch.HTMLToText(r.Description),
			JobURL:      strings.TrimSpace(r.URL),
			SearchTerm:  searchTerm,
			ScrapedAt:   scrapedAt,
		}
		p.JobID = StableJobID(platform, r.ExternalID, p.JobURL, p.Company, p.JobTitle)
		if seen[p.JobID] {
			continue
		}
		seen[p.JobID] = true
		postings = append(postings, p)
	}
	return postings
}

// StableJobID returns the upstream id when present. Otherwise it derives a
// name-based UUID from the platform and URL, or from company and title when the
// URL is missing, so repeated scrapes of the same posting map to the same key.
func StableJobID(platform types.Platform, externalID, url, company, title string) string {
	if id := strings.TrimSpace(externalID); id != "" {
		return id
	}
	name := string(platform) + "|" + url
	if url == "" {
		name = string(platform) + "|" + types.NormalizeCompanyName(company) + "|" + strings.ToLower(title)
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
