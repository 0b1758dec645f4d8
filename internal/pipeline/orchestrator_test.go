package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/stack-scout/internal/dedup"
	"github.com/jonathan/stack-scout/internal/scheduler"
	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/types"
)

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fakeScraper struct {
	results map[string][]types.JobPosting
	errs    map[string]error
	calls   []string
}

func (f *fakeScraper) FetchPostings(_ context.Context, term string, _ int) ([]types.JobPosting, error) {
	f.calls = append(f.calls, term)
	if err := f.errs[term]; err != nil {
		return nil, err
	}
	out := make([]types.JobPosting, len(f.results[term]))
	copy(out, f.results[term])
	for i := range out {
		out[i].SearchTerm = term
		out[i].ScrapedAt = testNow
	}
	return out, nil
}

// keywordAnalyzer decides by description text; "INVALID" fails like a bad model reply.
type keywordAnalyzer struct {
	mu       sync.Mutex
	analyzed []string
	fail     bool
	onCall   func(p types.JobPosting)
	errFor   map[string]error
}

func (k *keywordAnalyzer) Analyze(_ context.Context, p types.JobPosting) (types.AnalysisVerdict, error) {
	k.mu.Lock()
	k.analyzed = append(k.analyzed, p.JobID)
	fail := k.fail
	k.mu.Unlock()
	if k.onCall != nil {
		k.onCall(p)
	}
	if err := k.errFor[p.JobID]; err != nil {
		return types.AnalysisVerdict{}, err
	}
	switch {
	case fail && strings.Contains(p.Description, "INVALID"):
		return types.AnalysisVerdict{}, &types.AnalysisFailure{JobID: p.JobID, Message: "invalid response", Attempts: 2}
	case strings.Contains(p.Description, "Outreach.io"):
		return types.AnalysisVerdict{UsesTool: true, ToolDetected: types.ToolOutreach, SignalType: types.SignalRequired, Context: "Outreach.io required"}, nil
	case strings.Contains(p.Description, "SalesLoft"):
		return types.AnalysisVerdict{UsesTool: true, ToolDetected: types.ToolSalesLoft, SignalType: types.SignalPreferred, Context: "SalesLoft"}, nil
	default:
		return types.NegativeVerdict(), nil
	}
}

func (k *keywordAnalyzer) calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.analyzed...)
}

type harness struct {
	orch     *Orchestrator
	mem      *store.Memory
	scraper  *fakeScraper
	analyzer *keywordAnalyzer
	sched    *scheduler.Scheduler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mem := store.NewMemory()
	sched := scheduler.New(mem, 0, nil)
	sched.Now = func() time.Time { return testNow }
	h := &harness{
		mem:      mem,
		scraper:  &fakeScraper{results: map[string][]types.JobPosting{}, errs: map[string]error{}},
		analyzer: &keywordAnalyzer{fail: true},
		sched:    sched,
	}
	h.orch = New(Deps{
		Scheduler: sched,
		Scraper:   h.scraper,
		Dedup:     dedup.New(mem, mem, dedup.NewCompanyCache(0), nil),
		Analyzer:  h.analyzer,
		Jobs:      mem,
		Companies: mem,
	}, cfg, nil)
	h.orch.Now = func() time.Time { return testNow }
	return h
}

func job(id, company, desc string) types.JobPosting {
	return types.JobPosting{JobID: id, Platform: types.PlatformLinkedIn, Company: company, JobTitle: "SDR", Description: desc, JobURL: "https://jobs/" + id}
}

func TestRun_EndToEndScenario(t *testing.T) {
	h := newHarness(t, Config{SkipKnownCompanies: true})
	ctx := context.Background()

	_, err := h.mem.InsertPostings(ctx, []types.JobPosting{job("B", "Z", "old")})
	require.NoError(t, err)
	require.NoError(t, h.mem.MarkProcessed(ctx, "B", testNow.Add(-time.Hour)))

	h.scraper.results["SDR"] = []types.JobPosting{
		job("A", "X", "Experience with Outreach.io required"),
		job("B", "Z", "old"),
		job("C", "Y", "Strong cold outreach skills"),
	}

	summary, err := h.orch.Run(ctx, RunOptions{SearchTerm: "SDR"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.TermsProcessed)
	assert.Equal(t, 3, summary.PostingsFetched)
	assert.Equal(t, 2, summary.PostingsNew)
	assert.Equal(t, 2, summary.PostingsAnalyzed)
	assert.Equal(t, 1, summary.CompaniesIdentified)
	assert.Equal(t, 0, summary.Errors.Total())
	assert.Equal(t, string(StateIdle), summary.FinalState)
	assert.False(t, summary.Aborted)

	assert.Equal(t, []string{"A", "C"}, h.analyzer.calls(), "B is filtered before analysis, order preserved")

	for _, id := range []string{"A", "C"} {
		p, ok := h.mem.Posting(id)
		require.True(t, ok)
		assert.True(t, p.Processed, id)
	}

	companies := h.mem.Companies()
	require.Len(t, companies, 1)
	assert.Equal(t, "X", companies[0].CompanyName)
	assert.Equal(t, types.ToolOutreach, companies[0].ToolDetected)
	assert.Equal(t, "https://jobs/A", companies[0].JobURL)

	term, err := h.mem.GetTerm(ctx, "SDR")
	require.NoError(t, err)
	require.NotNil(t, term.LastScrapedAt)
	assert.Equal(t, 3, term.JobsFoundCount)

	last := h.orch.LastSummary()
	require.NotNil(t, last)
	assert.Equal(t, summary.RunID, last.RunID)
	assert.Equal(t, StateIdle, h.orch.State())
}

func TestRun_IsIdempotent(t *testing.T) {
	h := newHarness(t, Config{SkipKnownCompanies: true})
	h.scraper.results["SDR"] = []types.JobPosting{
		job("A", "X", "Outreach.io"),
		job("C", "Y", "nothing"),
	}

	_, err := h.orch.Run(context.Background(), RunOptions{SearchTerm: "SDR"})
	require.NoError(t, err)
	second, err := h.orch.Run(context.Background(), RunOptions{SearchTerm: "SDR"})
	require.NoError(t, err)

	assert.Equal(t, 2, second.PostingsFetched)
	assert.Equal(t, 0, second.PostingsNew)
	assert.Equal(t, 0, second.PostingsAnalyzed)
	assert.Equal(t, 0, second.CompaniesIdentified)
	assert.Len(t, h.analyzer.calls(), 2)
	assert.Len(t, h.mem.Companies(), 1)
}

func TestRun_InvalidResponseIsolatedAndRetried(t *testing.T) {
	h := newHarness(t, Config{SkipKnownCompanies: true})
	h.scraper.results["SDR"] = []types.JobPosting{
		job("A", "X", "INVALID Outreach.io"),
		job("B", "Y", "SalesLoft"),
	}

	summary, err := h.orch.Run(context.Background(), RunOptions{SearchTerm: "SDR"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors.Analysis)
	assert.Equal(t, 1, summary.PostingsAnalyzed)
	assert.Equal(t, 1, summary.CompaniesIdentified)

	a, _ := h.mem.Posting("A")
	assert.False(t, a.Processed, "failed analysis must leave the posting unprocessed")
	b, _ := h.mem.Posting("B")
	assert.True(t, b.Processed)

	// The model recovers; the pending pass picks A up even though the scrape no longer offers it.
	h.analyzer.fail = false
	h.scraper.results["SDR"] = nil
	summary, err = h.orch.Run(context.Background(), RunOptions{SearchTerm: "SDR", RetryPending: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PendingRetried)
	assert.Equal(t, 1, summary.PostingsAnalyzed)
	assert.Equal(t, 1, summary.CompaniesIdentified)
	a, _ = h.mem.Posting("A")
	assert.True(t, a.Processed)
}

func TestRun_KnownCompanySkipped(t *testing.T) {
	h := newHarness(t, Config{SkipKnownCompanies: true})
	ctx := context.Background()
	_, err := h.mem.UpsertIdentifiedCompany(ctx, types.IdentifiedCompany{CompanyName: "Acme", ToolDetected: types.ToolSalesLoft})
	require.NoError(t, err)
	h.scraper.results["SDR"] = []types.JobPosting{job("A", " ACME ", "Outreach.io")}

	summary, err := h.orch.Run(ctx, RunOptions{SearchTerm: "SDR"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PostingsSkipped)
	assert.Equal(t, 0, summary.PostingsAnalyzed)
	assert.Empty(t, h.analyzer.calls())
	a, _ := h.mem.Posting("A")
	assert.True(t, a.Processed)
}

func TestRun_KnownCompanyStillRecordsOtherToolWhenSkipDisabled(t *testing.T) {
	h := newHarness(t, Config{SkipKnownCompanies: false})
	ctx := context.Background()
	_, err := h.mem.UpsertIdentifiedCompany(ctx, types.IdentifiedCompany{CompanyName: "Acme", ToolDetected: types.ToolSalesLoft})
	require.NoError(t, err)
	h.scraper.results["SDR"] = []types.JobPosting{job("A", "Acme", "Outreach.io")}

	summary, err := h.orch.Run(ctx, RunOptions{SearchTerm: "SDR"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CompaniesIdentified)
	assert.Len(t, h.mem.Companies(), 2)
}

func TestRun_ScrapeFailureDefersTermAndContinues(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	require.NoError(t, h.mem.UpsertTerm(ctx, "SDR", true))
	require.NoError(t, h.mem.UpsertTerm(ctx, "BDR", true))
	h.scraper.errs["BDR"] = &types.ScrapeFailure{SearchTerm: "BDR", Message: "timed out"}
	h.scraper.results["SDR"] = []types.JobPosting{job("A", "X", "nothing")}

	summary, err := h.orch.Run(ctx, RunOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SDR", "BDR"}, h.scraper.calls)
	assert.Equal(t, 2, summary.TermsProcessed)
	assert.Equal(t, 1, summary.Errors.Scrape)
	assert.Equal(t, 1, summary.PostingsAnalyzed)

	bdr, err := h.mem.GetTerm(ctx, "BDR")
	require.NoError(t, err)
	require.NotNil(t, bdr.LastScrapedAt)
	assert.Equal(t, 0, bdr.JobsFoundCount)

	due, err := h.sched.DueTerms(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)
}

type failingMarks struct {
	*store.Memory
}

func (f failingMarks) MarkProcessed(context.Context, string, time.Time) error {
	return errors.New("connection reset by peer")
}

func TestRun_StorageFailureAborts(t *testing.T) {
	h := newHarness(t, Config{})
	h.orch.deps.Jobs = failingMarks{h.mem}
	h.scraper.results["SDR"] = []types.JobPosting{job("A", "X", "Outreach.io"), job("B", "Y", "nothing")}

	summary, err := h.orch.Run(context.Background(), RunOptions{SearchTerm: "SDR"})
	var sf *types.StorageFailure
	require.ErrorAs(t, err, &sf)
	assert.True(t, summary.Aborted)
	assert.Equal(t, string(StateAborted), summary.FinalState)
	assert.Equal(t, 1, summary.Errors.Storage)
	assert.Equal(t, []string{"A"}, h.analyzer.calls(), "nothing runs after a storage failure")
	assert.Equal(t, StateAborted, h.orch.State())
}

func TestRun_StorageUnavailableAborts(t *testing.T) {
	h := newHarness(t, Config{})
	h.scraper.results["SDR"] = []types.JobPosting{job("A", "X", "Outreach.io")}
	ctx := context.Background()
	require.NoError(t, h.mem.UpsertTerm(ctx, "SDR", true))
	h.analyzer.onCall = func(types.JobPosting) { t.Fatal("analysis must not run") }

	h.mem.Fail = errors.New("db down")
	summary, err := h.orch.Run(ctx, RunOptions{SearchTerm: "SDR"})
	var sf *types.StorageFailure
	require.ErrorAs(t, err, &sf)
	assert.True(t, summary.Aborted)
}

func TestRun_CancellationBetweenPostings(t *testing.T) {
	h := newHarness(t, Config{})
	h.scraper.results["SDR"] = []types.JobPosting{
		job("A", "X", "Outreach.io"),
		job("B", "Y", "nothing"),
		job("C", "Z", "nothing"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.analyzer.onCall = func(p types.JobPosting) {
		if p.JobID == "A" {
			cancel()
		}
	}

	summary, err := h.orch.Run(ctx, RunOptions{SearchTerm: "SDR"})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Cancelled)
	assert.False(t, summary.Aborted)

	assert.Equal(t, []string{"A"}, h.analyzer.calls())
	a, _ := h.mem.Posting("A")
	assert.True(t, a.Processed, "the in-flight posting is recorded")
	assert.Len(t, h.mem.Companies(), 1)
	for _, id := range []string{"B", "C"} {
		p, ok := h.mem.Posting(id)
		require.True(t, ok, "fetched postings are stored for the pending pass")
		assert.False(t, p.Processed)
	}

	term, err := h.mem.GetTerm(context.Background(), "SDR")
	require.NoError(t, err)
	assert.NotNil(t, term.LastScrapedAt)
}

func TestRun_ProviderFailureDuringShutdownIsCounted(t *testing.T) {
	tests := []struct {
		name         string
		cause        error
		wantAnalysis int
	}{
		{"provider error", errors.New("googleapi: Error 503: backend unavailable"), 1},
		{"cancelled wait", context.Canceled, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.scraper.results["SDR"] = []types.JobPosting{job("A", "X", "nothing"), job("B", "Y", "nothing")}
			h.analyzer.errFor = map[string]error{
				"A": &types.AnalysisFailure{JobID: "A", Message: "provider call failed", Attempts: 1, Cause: tt.cause},
			}
			ctx, cancel := context.WithCancel(context.Background())
			h.analyzer.onCall = func(types.JobPosting) { cancel() }

			summary, err := h.orch.Run(ctx, RunOptions{SearchTerm: "SDR"})
			assert.ErrorIs(t, err, context.Canceled)
			require.NotNil(t, summary)
			assert.Equal(t, tt.wantAnalysis, summary.Errors.Analysis)
			assert.Zero(t, summary.PostingsAnalyzed)

			a, _ := h.mem.Posting("A")
			assert.False(t, a.Processed)
		})
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	h := newHarness(t, Config{})
	summary, err := h.orch.Run(context.Background(), RunOptions{MaxItemsPerTerm: -1})
	var ve *types.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "MaxItemsPerTerm", ve.Field)
	assert.Equal(t, 1, summary.Errors.Validation)
	assert.Empty(t, h.scraper.calls)
}

type heldLease struct{}

var errHeld = errors.New("lease held")

func (heldLease) Acquire(context.Context) (func(context.Context) error, error) {
	return nil, errHeld
}

type countingLease struct{ acquired, released int }

func (c *countingLease) Acquire(context.Context) (func(context.Context) error, error) {
	c.acquired++
	return func(context.Context) error { c.released++; return nil }, nil
}

func TestRun_Lease(t *testing.T) {
	h := newHarness(t, Config{})
	h.orch.deps.Lease = heldLease{}
	_, err := h.orch.Run(context.Background(), RunOptions{SearchTerm: "SDR"})
	assert.ErrorIs(t, err, errHeld)
	assert.Empty(t, h.scraper.calls)

	lease := &countingLease{}
	h.orch.deps.Lease = lease
	_, err = h.orch.Run(context.Background(), RunOptions{SearchTerm: "SDR"})
	require.NoError(t, err)
	assert.Equal(t, 1, lease.acquired)
	assert.Equal(t, 1, lease.released)
}

func TestRun_ProgressEvents(t *testing.T) {
	h := newHarness(t, Config{})
	h.scraper.results["SDR"] = []types.JobPosting{job("A", "X", "Outreach.io")}

	var states []State
	_, err := h.orch.Run(context.Background(), RunOptions{
		SearchTerm: "SDR",
		OnProgress: func(e ProgressEvent) { states = append(states, e.State) },
	})
	require.NoError(t, err)
	assert.Equal(t, []State{
		StateSelectingTerm, StateScraping, StateDeduplicating, StateAnalyzingBatch,
		StateRecording, StateUpdatingSchedule, StateIdle,
	}, states)
}
