package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/types"
)

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	s := New(mem, 0, nil)
	s.Now = func() time.Time { return now }
	return s, mem
}

func TestDueTerms_SevenDayRule(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	s, mem := newTestScheduler(t, now)
	ctx := context.Background()

	require.NoError(t, mem.UpsertTerm(ctx, "SDR", true))
	require.NoError(t, mem.UpsertTerm(ctx, "BDR", true))
	require.NoError(t, mem.UpsertTerm(ctx, "AE", true))
	require.NoError(t, mem.UpsertTerm(ctx, "Inactive", false))
	require.NoError(t, mem.UpdateTermResult(ctx, "BDR", now.Add(-8*24*time.Hour), 3))
	require.NoError(t, mem.UpdateTermResult(ctx, "AE", now.Add(-6*24*time.Hour), 3))

	due, err := s.DueTerms(ctx)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "SDR", due[0].SearchTerm, "never-scraped terms come first")
	assert.Equal(t, "BDR", due[1].SearchTerm)
}

func TestDueTerms_IsRestartable(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	s, mem := newTestScheduler(t, now)
	ctx := context.Background()
	require.NoError(t, mem.UpsertTerm(ctx, "SDR", true))

	first, err := s.DueTerms(ctx)
	require.NoError(t, err)
	second, err := s.DueTerms(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRecordScrapeResult_UpdatesOnFailure(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	s, mem := newTestScheduler(t, now)
	ctx := context.Background()
	require.NoError(t, mem.UpsertTerm(ctx, "SDR", true))

	require.NoError(t, s.RecordScrapeResult(ctx, "SDR", 42, false))

	term, err := mem.GetTerm(ctx, "SDR")
	require.NoError(t, err)
	require.NotNil(t, term.LastScrapedAt)
	assert.True(t, term.LastScrapedAt.Equal(now))
	assert.Equal(t, 0, term.JobsFoundCount)

	due, err := s.DueTerms(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "failed term must not come due again in the same window")
}

func TestRecordScrapeResult_Success(t *testing.T) {
	now := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	s, mem := newTestScheduler(t, now)
	ctx := context.Background()
	require.NoError(t, mem.UpsertTerm(ctx, "SDR", true))

	require.NoError(t, s.RecordScrapeResult(ctx, "SDR", 17, true))

	term, err := mem.GetTerm(ctx, "SDR")
	require.NoError(t, err)
	assert.Equal(t, 17, term.JobsFoundCount)
}

func TestScheduler_StorageErrorsSurface(t *testing.T) {
	s, mem := newTestScheduler(t, time.Now())
	mem.Fail = errors.New("connection reset")

	_, err := s.DueTerms(context.Background())
	var sf *types.StorageFailure
	assert.ErrorAs(t, err, &sf)

	err = s.RecordScrapeResult(context.Background(), "SDR", 1, true)
	assert.ErrorAs(t, err, &sf)
}

func TestTerm_CreatesMissingTerm(t *testing.T) {
	s, mem := newTestScheduler(t, time.Now())
	ctx := context.Background()

	state, err := s.Term(ctx, "  Sales Development  ")
	require.NoError(t, err)
	assert.Equal(t, "Sales Development", state.SearchTerm)
	assert.True(t, state.IsActive)

	stored, err := mem.GetTerm(ctx, "Sales Development")
	require.NoError(t, err)
	require.NotNil(t, stored)

	_, err = s.Term(ctx, "   ")
	var ve *types.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestService_RunsImmediatelyAndStops(t *testing.T) {
	var calls atomic.Int32
	ran := make(chan struct{}, 1)
	svc := NewService("@every 1h", func(context.Context) error {
		if calls.Add(1) == 1 {
			ran <- struct{}{}
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate pass")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestService_InvalidSchedule(t *testing.T) {
	svc := NewService("not a schedule", func(context.Context) error { return nil }, nil)
	err := svc.Run(context.Background())
	assert.Error(t, err)
}
