package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/stack-scout/internal/dedup"
	"github.com/jonathan/stack-scout/internal/scheduler"
	"github.com/jonathan/stack-scout/internal/store"
	"github.com/jonathan/stack-scout/internal/types"
)

// Defaults for Config.
const (
	DefaultMaxItemsPerTerm = 500
	DefaultPendingLimit    = 100
	DefaultStorageTimeout  = 10 * time.Second
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Scraper fetches postings for a term.
type Scraper interface {
	FetchPostings(ctx context.Context, searchTerm string, maxItems int) ([]types.JobPosting, error)
}

// Analyzer classifies one posting.
type Analyzer interface {
	Analyze(ctx context.Context, p types.JobPosting) (types.AnalysisVerdict, error)
}

// Lease guards against two orchestrators running at once.
type Lease interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// Config holds run-independent settings.
type Config struct {
	MaxItemsPerTerm    int
	StorageTimeout     time.Duration
	SkipKnownCompanies bool
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Scraper   Scraper
	Dedup     *dedup.Deduplicator
	Analyzer  Analyzer
	Jobs      store.JobStore
	Companies store.CompanyStore
	// Lease is optional.
	Lease Lease
}

// RunOptions holds per-run parameters.
type RunOptions struct {
	// SearchTerm runs a single term (created if unknown); empty runs all due terms.
	SearchTerm      string `validate:"max=200"`
	MaxItemsPerTerm int    `validate:"gte=0,lte=10000"`
	// RetryPending re-analyzes postings left unprocessed by earlier runs before scraping.
	RetryPending bool
	PendingLimit int `validate:"gte=0"`
	OnProgress   ProgressCallback
}

// Orchestrator runs one term and one posting at a time.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	// Now stamps processed_at and identified_at; replaced in tests.
	Now func() time.Time

	runMu sync.Mutex

	mu    sync.RWMutex
	state State
	last  *types.RunSummary
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxItemsPerTerm <= 0 {
		cfg.MaxItemsPerTerm = DefaultMaxItemsPerTerm
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger, Now: time.Now, state: StateIdle}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastSummary returns a copy of the most recent finished run's summary, or nil.
func (o *Orchestrator) LastSummary() *types.RunSummary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return nil
	}
	cp := *o.last
	return &cp
}

// run carries the mutable state of one Run call.
type run struct {
	opts    RunOptions
	summary *types.RunSummary
	logger  *slog.Logger
}

// Run executes one pass. Scrape and analysis failures are counted and the run
// continues; a storage failure aborts it and is returned. On cancellation the
// posting in progress is finished and recorded, the rest stay unprocessed, and
// the summary is returned with context.Canceled.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*types.RunSummary, error) {
	if !o.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.runMu.Unlock()

	summary := &types.RunSummary{RunID: uuid.New(), StartedAt: o.Now()}
	r := &run{opts: opts, summary: summary, logger: o.logger.With("run_id", summary.RunID.String())}

	if err := validate.Struct(&opts); err != nil {
		verr := validationError(err)
		return o.finish(r, verr), verr
	}
	if opts.MaxItemsPerTerm == 0 {
		opts.MaxItemsPerTerm = o.cfg.MaxItemsPerTerm
	}
	if opts.PendingLimit == 0 {
		opts.PendingLimit = DefaultPendingLimit
	}
	r.opts = opts

	if o.deps.Lease != nil {
		release, err := o.deps.Lease.Acquire(ctx)
		if err != nil {
			return o.finish(r, err), err
		}
		defer func() {
			relCtx, cancel := o.storageCtx(ctx)
			defer cancel()
			if err := release(relCtx); err != nil {
				r.logger.Warn("failed to release lease", "error", err)
			}
		}()
	}

	if cache := o.deps.Dedup.Cache(); cache != nil && cache.TTL() == 0 {
		cache.Invalidate()
	}

	r.logger.Info("pipeline run started",
		"search_term", opts.SearchTerm,
		"max_items_per_term", opts.MaxItemsPerTerm,
		"retry_pending", opts.RetryPending)

	err := o.execute(ctx, r)
	return o.finish(r, err), err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if r.opts.RetryPending {
		if err := o.retryPending(ctx, r); err != nil {
			return err
		}
	}

	o.transition(r, StateSelectingTerm, "", "selecting terms")
	terms, err := o.selectTerms(ctx, r)
	if err != nil {
		return err
	}
	r.logger.Info("terms selected", "count", len(terms))

	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.runTerm(ctx, r, term.SearchTerm); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) selectTerms(ctx context.Context, r *run) ([]types.SearchTermState, error) {
	sctx, cancel := o.storageCtx(ctx)
	defer cancel()
	if r.opts.SearchTerm != "" {
		term, err := o.deps.Scheduler.Term(sctx, r.opts.SearchTerm)
		if err != nil {
			return nil, err
		}
		return []types.SearchTermState{term}, nil
	}
	return o.deps.Scheduler.DueTerms(sctx)
}

// retryPending re-runs postings whose earlier analysis failed.
func (o *Orchestrator) retryPending(ctx context.Context, r *run) error {
	sctx, cancel := o.storageCtx(ctx)
	pending, err := o.deps.Jobs.ListUnprocessed(sctx, r.opts.PendingLimit)
	cancel()
	if err != nil {
		return types.NewStorageFailure("list unprocessed postings", err)
	}
	if len(pending) == 0 {
		return nil
	}

	r.logger.Info("retrying pending postings", "count", len(pending))
	o.transition(r, StateAnalyzingBatch, "", fmt.Sprintf("retrying %d pending postings", len(pending)))
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.summary.PendingRetried++
		if err := o.processPosting(ctx, r, p); err != nil {
			return err
		}
	}
	return nil
}

// runTerm takes one term through Scraping, Deduplicating, AnalyzingBatch and
// UpdatingSchedule. Only storage failures and cancellation are returned.
func (o *Orchestrator) runTerm(ctx context.Context, r *run, term string) error {
	logger := r.logger.With("search_term", term)

	o.transition(r, StateScraping, term, "scraping")
	postings, err := o.deps.Scraper.FetchPostings(ctx, term, r.opts.MaxItemsPerTerm)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.summary.Errors.Add(err)
		var ve *types.ValidationError
		if errors.As(err, &ve) {
			logger.Error("invalid scrape request", "error", err)
			return nil
		}
		logger.Warn("scrape failed", "error", err)
		r.summary.TermsProcessed++
		return o.updateSchedule(ctx, r, term, 0, false)
	}
	r.summary.PostingsFetched += len(postings)

	o.transition(r, StateDeduplicating, term, fmt.Sprintf("deduplicating %d postings", len(postings)))
	fresh, err := o.persistAndFilter(ctx, postings)
	if err != nil {
		return err
	}
	r.summary.PostingsNew += len(fresh)
	logger.Info("postings deduplicated", "fetched", len(postings), "new", len(fresh))

	o.transition(r, StateAnalyzingBatch, term, fmt.Sprintf("analyzing %d postings", len(fresh)))
	var cancelErr error
	for _, p := range fresh {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		if err := o.processPosting(ctx, r, p); err != nil {
			return err
		}
	}

	// Recorded on cancellation too: every fetched posting is stored, and the
	// unanalyzed ones are picked up by the pending pass.
	r.summary.TermsProcessed++
	if err := o.updateSchedule(ctx, r, term, len(postings), true); err != nil {
		return err
	}
	return cancelErr
}

// persistAndFilter snapshots which postings are new, then stores every fetched
// posting with insert-or-ignore.
func (o *Orchestrator) persistAndFilter(ctx context.Context, postings []types.JobPosting) ([]types.JobPosting, error) {
	if len(postings) == 0 {
		return nil, nil
	}
	sctx, cancel := o.storageCtx(ctx)
	defer cancel()

	fresh, err := o.deps.Dedup.FilterNewPostings(sctx, postings)
	if err != nil {
		return nil, err
	}
	if _, err := o.deps.Jobs.InsertPostings(sctx, postings); err != nil {
		return nil, types.NewStorageFailure("insert postings", err)
	}
	return fresh, nil
}

// processPosting runs the company-skip, analysis and recording steps for one
// posting. The posting is marked processed only after a valid verdict or a
// known-company skip.
func (o *Orchestrator) processPosting(ctx context.Context, r *run, p types.JobPosting) error {
	logger := r.logger.With("job_id", p.JobID, "company", p.Company)

	if o.cfg.SkipKnownCompanies {
		sctx, cancel := o.storageCtx(ctx)
		known, err := o.deps.Dedup.IsCompanyAlreadyIdentified(sctx, p.Company)
		cancel()
		if err != nil {
			return err
		}
		if known {
			logger.Debug("company already identified, skipping analysis")
			r.summary.PostingsSkipped++
			o.emit(r, StateAnalyzingBatch, p.SearchTerm, p.JobID, "skipped known company")
			return o.markProcessed(ctx, p.JobID)
		}
	}

	verdict, err := o.deps.Analyzer.Analyze(ctx, p)
	if err != nil {
		if interrupted(ctx, err) {
			// Left for the next run.
			logger.Info("analysis interrupted by cancellation")
			return nil
		}
		r.summary.Errors.Add(err)
		logger.Warn("analysis failed, posting left unprocessed", "error", err)
		o.emit(r, StateAnalyzingBatch, p.SearchTerm, p.JobID, "analysis failed")
		return nil
	}
	r.summary.PostingsAnalyzed++

	if verdict.UsesTool {
		o.transition(r, StateRecording, p.SearchTerm, fmt.Sprintf("%s uses %s", p.Company, verdict.ToolDetected))
		company := types.NewIdentifiedCompany(p, verdict, o.Now().UTC())
		sctx, cancel := o.storageCtx(ctx)
		created, err := o.deps.Companies.UpsertIdentifiedCompany(sctx, company)
		cancel()
		if err != nil {
			return types.NewStorageFailure("upsert identified company", err)
		}
		if created {
			r.summary.CompaniesIdentified++
			o.deps.Dedup.Remember(p.Company)
			logger.Info("company identified",
				"tool", verdict.ToolDetected,
				"signal", verdict.SignalType)
		} else {
			logger.Debug("company and tool already recorded", "tool", verdict.ToolDetected)
		}
		o.transition(r, StateAnalyzingBatch, p.SearchTerm, "")
	}

	return o.markProcessed(ctx, p.JobID)
}

// interrupted reports whether err comes from ctx ending rather than from the
// provider. A provider error that lands while shutdown starts is still a failure.
func interrupted(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (o *Orchestrator) markProcessed(ctx context.Context, jobID string) error {
	sctx, cancel := o.storageCtx(ctx)
	defer cancel()
	if err := o.deps.Jobs.MarkProcessed(sctx, jobID, o.Now().UTC()); err != nil {
		return types.NewStorageFailure("mark processed", err)
	}
	return nil
}

func (o *Orchestrator) updateSchedule(ctx context.Context, r *run, term string, jobsFound int, success bool) error {
	o.transition(r, StateUpdatingSchedule, term, "updating schedule")
	sctx, cancel := o.storageCtx(ctx)
	defer cancel()
	return o.deps.Scheduler.RecordScrapeResult(sctx, term, jobsFound, success)
}

// storageCtx bounds a storage call. It ignores cancellation so writes that
// follow a finished analysis still land during shutdown.
func (o *Orchestrator) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StorageTimeout)
}

func (o *Orchestrator) transition(r *run, s State, term, msg string) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if msg != "" {
		r.logger.Debug("state transition", "state", s, "search_term", term, "message", msg)
	}
	o.emit(r, s, term, "", msg)
}

func (o *Orchestrator) emit(r *run, s State, term, jobID, msg string) {
	if r.opts.OnProgress != nil && msg != "" {
		r.opts.OnProgress(ProgressEvent{State: s, SearchTerm: term, JobID: jobID, Message: msg})
	}
}

// finish stamps the summary and records it as the last run.
func (o *Orchestrator) finish(r *run, err error) *types.RunSummary {
	s := r.summary
	s.FinishedAt = o.Now()

	final := StateIdle
	var sf *types.StorageFailure
	switch {
	case errors.As(err, &sf):
		s.Errors.Add(err)
		s.Aborted = true
		final = StateAborted
		r.logger.Error("pipeline run aborted", "error", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.Cancelled = true
		r.logger.Warn("pipeline run cancelled")
	case err != nil:
		if types.ErrorCategory(err) != types.CategoryOther {
			s.Errors.Add(err)
		}
		s.Aborted = true
		final = StateAborted
		r.logger.Error("pipeline run failed", "error", err)
	}
	s.FinalState = string(final)

	o.mu.Lock()
	o.state = final
	o.last = s
	o.mu.Unlock()
	o.emit(r, final, "", "", "run finished")

	r.logger.Info("pipeline run finished",
		"terms_processed", s.TermsProcessed,
		"postings_fetched", s.PostingsFetched,
		"postings_new", s.PostingsNew,
		"postings_analyzed", s.PostingsAnalyzed,
		"postings_skipped", s.PostingsSkipped,
		"companies_identified", s.CompaniesIdentified,
		"errors", s.Errors.Total(),
		"duration", s.Duration().Round(time.Millisecond).String())

	cp := *s
	return &cp
}

var validate = validator.New()

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &types.ValidationError{
			Field:   verrs[0].Field(),
			Message: fmt.Sprintf("failed %q check (value %v)", verrs[0].Tag(), verrs[0].Value()),
		}
	}
	return &types.ValidationError{Message: err.Error()}
}
