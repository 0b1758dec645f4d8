// Package storetest is a conformance suite run against every store.Store implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/types"
)

// Factory returns an empty store. Implementations sharing a database must give
// each call a clean slate.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func posting(id string, offset time.Duration) types.JobPosting {
	return types.JobPosting{
		JobID:       id,
		Platform:    types.PlatformLinkedIn,
		Company:     "Company " + id,
		JobTitle:    "SDR",
		Description: "desc " + id,
		JobURL:      "https://jobs.example.com/" + id,
		SearchTerm:  "SDR",
		ScrapedAt:   base.Add(offset),
	}
}

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertPostingsIgnoresDuplicates", func(t *testing.T) { testInsert(t, newStore(t)) })
	t.Run("ExistingJobIDsBatch", func(t *testing.T) { testExisting(t, newStore(t)) })
	t.Run("MarkProcessedAndListUnprocessed", func(t *testing.T) { testUnprocessed(t, newStore(t)) })
	t.Run("UpsertIdentifiedCompany", func(t *testing.T) { testUpsert(t, newStore(t)) })
	t.Run("Terms", func(t *testing.T) { testTerms(t, newStore(t)) })
}

func testInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	n, err := s.InsertPostings(ctx, []types.JobPosting{posting("a", 0), posting("b", time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dup := posting("a", 0)
	dup.Description = "changed"
	n, err = s.InsertPostings(ctx, []types.JobPosting{dup, posting("c", 2*time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.InsertPostings(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testExisting(t *testing.T, s store.Store) {
	ctx := context.Background()
	var postings []types.JobPosting
	var ids []string
	for i := 0; i < 600; i++ {
		id := fmt.Sprintf("job-%03d", i)
		ids = append(ids, id)
		if i%2 == 0 {
			postings = append(postings, posting(id, time.Duration(i)*time.Second))
		}
	}
	_, err := s.InsertPostings(ctx, postings)
	require.NoError(t, err)

	existing, err := s.ExistingJobIDs(ctx, ids)
	require.NoError(t, err)
	assert.Len(t, existing, 300)
	assert.True(t, existing["job-000"])
	assert.False(t, existing["job-001"])
	assert.True(t, existing["job-598"])

	empty, err := s.ExistingJobIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testUnprocessed(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.InsertPostings(ctx, []types.JobPosting{
		posting("late", 2*time.Hour),
		posting("early", 0),
		posting("mid", time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessed(ctx, "mid", base.Add(3*time.Hour)))

	pending, err := s.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "early", pending[0].JobID)
	assert.Equal(t, "late", pending[1].JobID)
	assert.Equal(t, "Company early", pending[0].Company)
	assert.Equal(t, types.PlatformLinkedIn, pending[0].Platform)
	assert.True(t, pending[0].ScrapedAt.Equal(base))
	assert.False(t, pending[0].Processed)
	assert.Nil(t, pending[0].ProcessedAt)

	limited, err := s.ListUnprocessed(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "early", limited[0].JobID)
}

func testUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := types.IdentifiedCompany{
		CompanyName:  "Acme Corp",
		ToolDetected: types.ToolOutreach,
		SignalType:   types.SignalRequired,
		JobTitle:     "SDR",
		Platform:     types.PlatformLinkedIn,
		IdentifiedAt: base,
	}
	created, err := s.UpsertIdentifiedCompany(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	c.CompanyName = "  ACME   corp"
	c.JobURL = "https://jobs.example.com/2"
	created, err = s.UpsertIdentifiedCompany(ctx, c)
	require.NoError(t, err)
	assert.False(t, created, "same normalized company and tool is a no-op")

	c.ToolDetected = types.ToolSalesLoft
	created, err = s.UpsertIdentifiedCompany(ctx, c)
	require.NoError(t, err)
	assert.True(t, created, "a different tool for a known company is recorded")

	known, err := s.IsCompanyIdentified(ctx, "acme corp ")
	require.NoError(t, err)
	assert.True(t, known)
	known, err = s.IsCompanyIdentified(ctx, "Beta")
	require.NoError(t, err)
	assert.False(t, known)

	names, err := s.IdentifiedCompanyNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme corp"}, names)
}

func testTerms(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, term := range []string{"SDR", "BDR", "AE", "RevOps"} {
		require.NoError(t, s.UpsertTerm(ctx, term, true))
	}
	require.NoError(t, s.UpsertTerm(ctx, "Paused", false))
	require.NoError(t, s.UpdateTermResult(ctx, "SDR", base.Add(-10*24*time.Hour), 12))
	require.NoError(t, s.UpdateTermResult(ctx, "BDR", base.Add(-20*24*time.Hour), 4))
	require.NoError(t, s.UpdateTermResult(ctx, "AE", base.Add(-24*time.Hour), 9))

	due, err := s.ListDueTerms(ctx, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	var names []string
	for _, d := range due {
		names = append(names, d.SearchTerm)
	}
	assert.Equal(t, []string{"RevOps", "BDR", "SDR"}, names)

	sdr, err := s.GetTerm(ctx, "SDR")
	require.NoError(t, err)
	require.NotNil(t, sdr)
	assert.Equal(t, 12, sdr.JobsFoundCount)
	require.NotNil(t, sdr.LastScrapedAt)
	assert.True(t, sdr.LastScrapedAt.Equal(base.Add(-10*24*time.Hour)))

	missing, err := s.GetTerm(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpsertTerm(ctx, "SDR", false))
	sdr, err = s.GetTerm(ctx, "SDR")
	require.NoError(t, err)
	assert.False(t, sdr.IsActive)
	assert.Equal(t, 12, sdr.JobsFoundCount, "deactivating keeps scrape history")

	all, err := s.ListTerms(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "AE", all[0].SearchTerm)
}
