package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/stack-scout/internal/fetch"
	"github.com/jonathan/stack-scout/internal/ratelimit"
	"github.com/jonathan/stack-scout/internal/types"
)

// LinkedIn guest endpoints
const (
	DefaultLinkedInBaseURL = "https://www.linkedin.com"
	linkedInSearchPath     = "/jobs-guest/jobs/api/seeMoreJobPostings/search"
	linkedInPostingPath    = "/jobs-guest/jobs/api/jobPosting/"
	linkedInPageSize       = 25
	linkedInMaxPages       = 40
)

// LinkedInConfig configures LinkedInSource.
type LinkedInConfig struct {
	BaseURL string
	// Location narrows the search (e.g. "United States"); empty means worldwide.
	Location string
	// RequestDelay spaces requests to the guest API.
	RequestDelay time.Duration
	// UseBrowser renders a posting in headless Chrome when the HTTP description is too short.
	UseBrowser     bool
	BrowserTimeout time.Duration
	Fetch          *fetch.Options
}

// LinkedInSource scrapes LinkedIn's public guest job search.
type LinkedInSource struct {
	cfg     LinkedInConfig
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewLinkedInSource creates a LinkedInSource.
func NewLinkedInSource(cfg LinkedInConfig, logger *slog.Logger) *LinkedInSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLinkedInBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BrowserTimeout <= 0 {
		cfg.BrowserTimeout = 30 * time.Second
	}
	if cfg.Fetch == nil {
		cfg.Fetch = fetch.DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkedInSource{cfg: cfg, limiter: ratelimit.NewLimiter(cfg.RequestDelay), logger: logger}
}

// Platform implements Source.
func (s *LinkedInSource) Platform() types.Platform {
	return types.PlatformLinkedIn
}

// Search pages through result cards until maxItems cards are collected or a page
// comes back empty, then fetches each card's description. A failure on the first
// page is an error; later page failures end pagination with what was collected.
// When more than half of the description fetches fail the scrape is treated as
// blocked and the last fetch error is returned instead of a short result.
func (s *LinkedInSource) Search(ctx context.Context, searchTerm string, maxItems int) ([]RawPosting, error) {
	var cards []RawPosting
	for page := 0; page < linkedInMaxPages && len(cards) < maxItems; page++ {
		found, err := s.searchPage(ctx, searchTerm, page*linkedInPageSize)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			s.logger.WarnContext(ctx, "stopping pagination after page error",
				"search_term", searchTerm, "page", page, "error", err)
			break
		}
		if len(found) == 0 {
			break
		}
		cards = append(cards, found...)
	}
	if len(cards) > maxItems {
		cards = cards[:maxItems]
	}

	out := make([]RawPosting, 0, len(cards))
	var (
		failed  int
		lastErr error
	)
	for _, card := range cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, err := s.description(ctx, card)
		if err != nil {
			// Left out so the next scrape offers it again.
			s.logger.WarnContext(ctx, "skipping posting without description",
				"external_id", card.ExternalID, "error", err)
			failed++
			lastErr = err
			continue
		}
		card.Description = desc
		out = append(out, card)
	}
	if failed*2 > len(cards) {
		return nil, fmt.Errorf("%d of %d description fetches failed: %w", failed, len(cards), lastErr)
	}
	return out, nil
}

func (s *LinkedInSource) searchPage(ctx context.Context, searchTerm string, start int) ([]RawPosting, error) {
	q := url.Values{}
	q.Set("keywords", searchTerm)
	if s.cfg.Location != "" {
		q.Set("location", s.cfg.Location)
	}
	q.Set("start", strconv.Itoa(start))
	pageURL := s.cfg.BaseURL + linkedInSearchPath + "?" + q.Encode()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, err := fetch.URL(ctx, pageURL, s.cfg.Fetch)
	if err != nil {
		return nil, err
	}
	return ParseLinkedInCards(result.HTML)
}

// ParseLinkedInCards extracts job cards from a guest search results fragment.
func ParseLinkedInCards(html string) ([]RawPosting, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var cards []RawPosting
	doc.Find("div.base-card, div.job-search-card").Each(func(_ int, card *goquery.Selection) {
		urn, _ := card.Attr("data-entity-urn")
		id := urn[strings.LastIndex(urn, ":")+1:]
		link, _ := card.Find("a.base-card__full-link").Attr("href")
		if i := strings.Index(link, "?"); i >= 0 {
			link = link[:i]
		}
		cards = append(cards, RawPosting{
			ExternalID: strings.TrimSpace(id),
			Title:      strings.TrimSpace(card.Find(".base-search-card__title").Text()),
			Company:    strings.TrimSpace(card.Find(".base-search-card__subtitle").Text()),
			Location:   strings.TrimSpace(card.Find(".job-search-card__location").Text()),
			URL:        strings.TrimSpace(link),
		})
	})
	return cards, nil
}

func (s *LinkedInSource) description(ctx context.Context, card RawPosting) (string, error) {
	target := card.URL
	if card.ExternalID != "" {
		target = s.cfg.BaseURL + linkedInPostingPath + card.ExternalID
	}
	if target == "" {
		return "", fmt.Errorf("posting has neither id nor url")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	result, err := fetch.URL(ctx, target, s.cfg.Fetch)
	if err != nil {
		return "", err
	}
	text, err := fetch.ExtractMainText(result.HTML, fetch.JobDescriptionSelectors())
	if err != nil {
		return "", err
	}

	if s.cfg.UseBrowser && fetch.ShouldUseBrowser(text) && card.URL != "" {
		s.logger.DebugContext(ctx, "description too short, rendering in browser",
			"external_id", card.ExternalID, "chars", len(text))
		html, err := fetch.WithBrowser(ctx, card.URL, s.cfg.BrowserTimeout, s.logger)
		if err != nil {
			s.logger.WarnContext(ctx, "browser fallback failed", "url", card.URL, "error", err)
			return text, nil
		}
		if rendered, err := fetch.ExtractMainText(html, fetch.JobDescriptionSelectors()); err == nil && len(rendered) > len(text) {
			text = rendered
		}
	}
	return text, nil
}
