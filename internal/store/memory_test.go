package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/store/storetest"
	"github.com/jonathan/stack-scout/internal/types"
)

func TestMemory_InsertPostingsIgnoresDuplicates(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	n, err := m.InsertPostings(ctx, []types.JobPosting{{JobID: "a"}, {JobID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.InsertPostings(ctx, []types.JobPosting{{JobID: "b"}, {JobID: "c"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	existing, err := m.ExistingJobIDs(ctx, []string{"a", "c", "z"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "c": true}, existing)
}

func TestMemory_MarkProcessedAndListUnprocessed(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	_, err := m.InsertPostings(ctx, []types.JobPosting{{JobID: "a"}, {JobID: "b"}, {JobID: "c"}})
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, m.MarkProcessed(ctx, "b", now))

	pending, err := m.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].JobID)
	assert.Equal(t, "c", pending[1].JobID)

	limited, err := m.ListUnprocessed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	p, ok := m.Posting("b")
	require.True(t, ok)
	assert.True(t, p.Processed)
	require.NotNil(t, p.ProcessedAt)
}

func TestMemory_UpsertIdentifiedCompanyIsIdempotent(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	c := types.IdentifiedCompany{CompanyName: "Acme Corp", ToolDetected: types.ToolOutreach}
	created, err := m.UpsertIdentifiedCompany(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	c.CompanyName = "  acme   CORP "
	c.JobURL = "https://example.com/2"
	created, err = m.UpsertIdentifiedCompany(ctx, c)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = m.UpsertIdentifiedCompany(ctx, types.IdentifiedCompany{CompanyName: "Acme Corp", ToolDetected: types.ToolSalesLoft})
	require.NoError(t, err)
	assert.True(t, created)

	companies := m.Companies()
	require.Len(t, companies, 2)
	assert.Equal(t, "https://example.com/2", companies[0].JobURL)

	known, err := m.IsCompanyIdentified(ctx, "ACME CORP")
	require.NoError(t, err)
	assert.True(t, known)

	names, err := m.IdentifiedCompanyNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme corp"}, names)
}

func TestMemory_ListDueTermsOrdering(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, term := range []string{"SDR", "BDR", "AE", "RevOps", "Paused"} {
		require.NoError(t, m.UpsertTerm(ctx, term, term != "Paused"))
	}
	require.NoError(t, m.UpdateTermResult(ctx, "SDR", now.Add(-10*24*time.Hour), 12))
	require.NoError(t, m.UpdateTermResult(ctx, "BDR", now.Add(-20*24*time.Hour), 4))
	require.NoError(t, m.UpdateTermResult(ctx, "AE", now.Add(-1*24*time.Hour), 9))

	due, err := m.ListDueTerms(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)

	var names []string
	for _, d := range due {
		names = append(names, d.SearchTerm)
	}
	assert.Equal(t, []string{"RevOps", "BDR", "SDR"}, names)
}

func TestMemory_Fail(t *testing.T) {
	m := store.NewMemory()
	m.Fail = errors.New("connection refused")

	_, err := m.ExistingJobIDs(context.Background(), []string{"a"})
	assert.Error(t, err)
	_, err = m.UpsertIdentifiedCompany(context.Background(), types.IdentifiedCompany{CompanyName: "x", ToolDetected: types.ToolBoth})
	assert.Error(t, err)
}

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return store.NewMemory() })
}
