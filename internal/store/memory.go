package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/stack-scout/internal/types"
)

// Memory is an in-process Store used for dry runs and tests.
// Fail, when set, is returned by every call so callers can exercise storage outages.
type Memory struct {
	mu        sync.Mutex
	postings  map[string]*types.JobPosting
	order     []string
	companies map[companyKey]types.IdentifiedCompany
	terms     map[string]*types.SearchTermState

	Fail error
}

type companyKey struct {
	name string
	tool types.Tool
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		postings:  make(map[string]*types.JobPosting),
		companies: make(map[companyKey]types.IdentifiedCompany),
		terms:     make(map[string]*types.SearchTermState),
	}
}

var _ Store = (*Memory)(nil)

// Close is a no-op.
func (m *Memory) Close() {}

// InsertPostings stores new postings and ignores known job_ids.
func (m *Memory) InsertPostings(_ context.Context, postings []types.JobPosting) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	inserted := 0
	for _, p := range postings {
		if _, ok := m.postings[p.JobID]; ok {
			continue
		}
		cp := p
		m.postings[p.JobID] = &cp
		m.order = append(m.order, p.JobID)
		inserted++
	}
	return inserted, nil
}

// ExistingJobIDs returns the ids already stored.
func (m *Memory) ExistingJobIDs(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	found := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.postings[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// MarkProcessed flips the processed flag.
func (m *Memory) MarkProcessed(_ context.Context, jobID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	p, ok := m.postings[jobID]
	if !ok {
		return nil
	}
	p.Processed = true
	processedAt := at
	p.ProcessedAt = &processedAt
	return nil
}

// ListUnprocessed returns unprocessed postings oldest first, ties broken by job_id.
func (m *Memory) ListUnprocessed(_ context.Context, limit int) ([]types.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	var out []types.JobPosting
	for _, id := range m.order {
		if p := m.postings[id]; !p.Processed {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScrapedAt.Equal(out[j].ScrapedAt) {
			return out[i].ScrapedAt.Before(out[j].ScrapedAt)
		}
		return out[i].JobID < out[j].JobID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Posting returns a copy of the stored posting, for assertions.
func (m *Memory) Posting(jobID string) (types.JobPosting, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.postings[jobID]
	if !ok {
		return types.JobPosting{}, false
	}
	return *p, true
}

// UpsertIdentifiedCompany inserts the (company, tool) pair if absent.
func (m *Memory) UpsertIdentifiedCompany(_ context.Context, c types.IdentifiedCompany) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	key := companyKey{name: c.CompanyKey(), tool: c.ToolDetected}
	existing, ok := m.companies[key]
	if !ok {
		m.companies[key] = c
		return true, nil
	}
	if existing.JobURL == "" {
		existing.JobURL = c.JobURL
	}
	if existing.JobTitle == "" {
		existing.JobTitle = c.JobTitle
	}
	if existing.Context == "" {
		existing.Context = c.Context
	}
	m.companies[key] = existing
	return false, nil
}

// IsCompanyIdentified reports whether the company has any identified row.
func (m *Memory) IsCompanyIdentified(_ context.Context, companyName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return false, m.Fail
	}
	name := types.NormalizeCompanyName(companyName)
	for k := range m.companies {
		if k.name == name {
			return true, nil
		}
	}
	return false, nil
}

// IdentifiedCompanyNames returns the distinct normalized names.
func (m *Memory) IdentifiedCompanyNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	seen := make(map[string]bool)
	var names []string
	for k := range m.companies {
		if !seen[k.name] {
			seen[k.name] = true
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Companies returns all identified companies sorted by name then tool.
func (m *Memory) Companies() []types.IdentifiedCompany {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.IdentifiedCompany, 0, len(m.companies))
	for _, c := range m.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompanyKey() != out[j].CompanyKey() {
			return out[i].CompanyKey() < out[j].CompanyKey()
		}
		return out[i].ToolDetected < out[j].ToolDetected
	})
	return out
}

// ListDueTerms returns due active terms, never-scraped first.
func (m *Memory) ListDueTerms(_ context.Context, cutoff time.Time) ([]types.SearchTermState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	var due []types.SearchTermState
	for _, t := range m.terms {
		if !t.IsActive {
			continue
		}
		if t.LastScrapedAt == nil || t.LastScrapedAt.Before(cutoff) {
			due = append(due, *t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastScrapedAt, due[j].LastScrapedAt
		switch {
		case a == nil && b == nil:
			return due[i].SearchTerm < due[j].SearchTerm
		case a == nil:
			return true
		case b == nil:
			return false
		case a.Equal(*b):
			return due[i].SearchTerm < due[j].SearchTerm
		default:
			return a.Before(*b)
		}
	})
	return due, nil
}

// GetTerm returns the term or nil.
func (m *Memory) GetTerm(_ context.Context, term string) (*types.SearchTermState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	t, ok := m.terms[strings.TrimSpace(term)]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

// UpsertTerm creates the term or sets its active flag.
func (m *Memory) UpsertTerm(_ context.Context, term string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	term = strings.TrimSpace(term)
	if t, ok := m.terms[term]; ok {
		t.IsActive = active
		return nil
	}
	m.terms[term] = &types.SearchTermState{SearchTerm: term, IsActive: active}
	return nil
}

// UpdateTermResult records a scrape attempt.
func (m *Memory) UpdateTermResult(_ context.Context, term string, scrapedAt time.Time, jobsFound int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	t, ok := m.terms[term]
	if !ok {
		t = &types.SearchTermState{SearchTerm: term, IsActive: true}
		m.terms[term] = t
	}
	at := scrapedAt
	t.LastScrapedAt = &at
	t.JobsFoundCount = jobsFound
	return nil
}

// ListTerms returns all terms by name.
func (m *Memory) ListTerms(_ context.Context) ([]types.SearchTermState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	out := make([]types.SearchTermState, 0, len(m.terms))
	for _, t := range m.terms {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SearchTerm < out[j].SearchTerm })
	return out, nil
}
