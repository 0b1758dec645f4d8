package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/stack-scout/internal/fetch"
	"github.com/jonathan/stack-scout/internal/types"
)

// Apify defaults
const (
	DefaultApifyBaseURL = "https://api.apify.com"
	DefaultApifyActor   = "bebity~linkedin-jobs-scraper"
)

// ApifyConfig configures ApifySource.
type ApifyConfig struct {
	BaseURL string
	Token   string
	Actor   string
	// Location is passed to the actor input when set.
	Location string
	Client   *http.Client
}

// ApifySource runs an Apify scraping actor synchronously and reads its dataset.
type ApifySource struct {
	cfg    ApifyConfig
	logger *slog.Logger
}

// NewApifySource creates an ApifySource. The token is required.
func NewApifySource(cfg ApifyConfig, logger *slog.Logger) (*ApifySource, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &types.ValidationError{Field: "scraper.apify_token", Message: "is required for the apify source"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultApifyBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Actor == "" {
		cfg.Actor = DefaultApifyActor
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ApifySource{cfg: cfg, logger: logger}, nil
}

// Platform implements Source.
func (s *ApifySource) Platform() types.Platform {
	return types.PlatformApify
}

// Search implements Source.
func (s *ApifySource) Search(ctx context.Context, searchTerm string, maxItems int) ([]RawPosting, error) {
	input := map[string]any{
		"title":    searchTerm,
		"keywords": searchTerm,
		"rows":     maxItems,
		"maxItems": maxItems,
	}
	if s.cfg.Location != "" {
		input["location"] = s.cfg.Location
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode actor input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/acts/%s/run-sync-get-dataset-items?%s",
		s.cfg.BaseURL, url.PathEscape(s.cfg.Actor), url.Values{"format": {"json"}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &fetch.Error{URL: endpoint, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, &fetch.Error{URL: endpoint, Message: "actor request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &fetch.Error{URL: endpoint, Message: "failed to read dataset", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &fetch.Error{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d: %s", resp.StatusCode, truncate(string(data), 200)),
		}
	}

	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode dataset items: %w", err)
	}

	out := make([]RawPosting, 0, len(items))
	for _, item := range items {
		out = append(out, RawPosting{
			ExternalID:  firstString(item, "id", "jobId", "job_id"),
			Company:     firstString(item, "companyName", "company", "company_name"),
			Title:       firstString(item, "title", "jobTitle", "job_title"),
			Location:    firstString(item, "location", "jobLocation"),
			Description: firstString(item, "description", "descriptionText", "descriptionHtml"),
			URL:         firstString(item, "jobUrl", "link", "url"),
		})
	}
	s.logger.DebugContext(ctx, "actor returned items", "actor", s.cfg.Actor, "items", len(out))
	return out, nil
}

// firstString returns the first non-empty value among keys. Numeric ids are formatted without exponent.
func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := item[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		case map[string]any:
			if name, ok := v["name"].(string); ok && strings.TrimSpace(name) != "" {
				return strings.TrimSpace(name)
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
