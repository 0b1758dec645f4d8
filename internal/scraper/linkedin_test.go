package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/stack-scout/internal/types"
)

func linkedInCard(id, title, company string) string {
	return fmt.Sprintf(`<li><div class="base-card" data-entity-urn="urn:li:jobPosting:%s">
		<a class="base-card__full-link" href="https://www.linkedin.com/jobs/view/%s?trk=guest"></a>
		<h3 class="base-search-card__title"> %s </h3>
		<h4 class="base-search-card__subtitle"><a>%s</a></h4>
		<span class="job-search-card__location">Remote</span>
	</div></li>`, id, id, title, company)
}

func TestParseLinkedInCards(t *testing.T) {
	html := linkedInCard("101", "Sales Development Rep", "Acme") + linkedInCard("102", "BDR", "Beta")
	cards, err := ParseLinkedInCards(html)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, RawPosting{
		ExternalID: "101",
		Title:      "Sales Development Rep",
		Company:    "Acme",
		Location:   "Remote",
		URL:        "https://www.linkedin.com/jobs/view/101",
	}, cards[0])
}

func TestLinkedInSource_Search(t *testing.T) {
	var searches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == linkedInSearchPath:
			searches.Add(1)
			assert.Equal(t, "SDR", r.URL.Query().Get("keywords"))
			if r.URL.Query().Get("start") == "0" {
				_, _ = w.Write([]byte(linkedInCard("1", "SDR", "Acme") + linkedInCard("2", "SDR", "Beta") + linkedInCard("3", "SDR", "Gamma")))
				return
			}
			_, _ = w.Write([]byte(""))
		case strings.HasPrefix(r.URL.Path, linkedInPostingPath):
			id := strings.TrimPrefix(r.URL.Path, linkedInPostingPath)
			if id == "2" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = fmt.Fprintf(w, `<section><div class="show-more-less-html__markup"><p>Posting %s</p><p>Tools: Outreach.io</p></div></section>`, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	src := NewLinkedInSource(LinkedInConfig{BaseURL: server.URL}, nil)
	got, err := src.Search(context.Background(), "SDR", 10)
	require.NoError(t, err)

	require.Len(t, got, 2, "posting 2 has no description and is left for the next scrape")
	assert.Equal(t, "1", got[0].ExternalID)
	assert.Equal(t, "Posting 1\nTools: Outreach.io", got[0].Description)
	assert.Equal(t, "3", got[1].ExternalID)
	assert.Equal(t, int32(2), searches.Load())
}

func TestLinkedInSource_StopsAtMaxItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == linkedInSearchPath {
			_, _ = w.Write([]byte(linkedInCard("1", "SDR", "Acme") + linkedInCard("2", "SDR", "Beta")))
			return
		}
		_, _ = w.Write([]byte(`<div class="description__text">text</div>`))
	}))
	defer server.Close()

	src := NewLinkedInSource(LinkedInConfig{BaseURL: server.URL}, nil)
	got, err := src.Search(context.Background(), "SDR", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLinkedInSource_FirstPageErrorFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	src := NewLinkedInSource(LinkedInConfig{BaseURL: server.URL}, nil)
	_, err := src.Search(context.Background(), "SDR", 10)
	assert.Error(t, err)
}

func TestLinkedInSource_BlockedDescriptionsAreScrapeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == linkedInSearchPath {
			if r.URL.Query().Get("start") == "0" {
				_, _ = w.Write([]byte(linkedInCard("1", "SDR", "Acme") + linkedInCard("2", "SDR", "Beta")))
			}
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	gw := newTestGateway(NewLinkedInSource(LinkedInConfig{BaseURL: server.URL}, nil))
	postings, err := gw.FetchPostings(context.Background(), "SDR", 10)
	assert.Nil(t, postings)

	var sf *types.ScrapeFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "SDR", sf.SearchTerm)
	assert.Contains(t, err.Error(), "2 of 2 description fetches failed")
}
