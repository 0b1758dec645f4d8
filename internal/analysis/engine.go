// Package analysis classifies job postings with an LLM and validates the verdict.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonathan/stack-scout/internal/llm"
	"github.com/jonathan/stack-scout/internal/prompts"
	"github.com/jonathan/stack-scout/internal/ratelimit"
	"github.com/jonathan/stack-scout/internal/schemas"
	"github.com/jonathan/stack-scout/internal/types"
)

// Defaults for Options.
const (
	DefaultTimeout            = 60 * time.Second
	DefaultInvalidJSONRetries = 1
)

// Options tunes retries and timeouts.
type Options struct {
	// Retry governs transient provider errors (rate limits, 5xx, timeouts).
	// Retryable is always llm.IsTransient.
	Retry ratelimit.Policy
	// InvalidJSONRetries is how many times an unusable response is re-requested.
	InvalidJSONRetries int
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// DefaultOptions retries transient errors 3 times (1s, 2s, 4s) and invalid output once.
func DefaultOptions() Options {
	return Options{
		Retry:              ratelimit.DefaultPolicy(llm.IsTransient),
		InvalidJSONRetries: DefaultInvalidJSONRetries,
		Timeout:            DefaultTimeout,
	}
}

// InvalidResponseError means the model answered but the answer is unusable.
type InvalidResponseError struct {
	Raw   string
	Cause error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid verdict: %v", e.Cause)
}

func (e *InvalidResponseError) Unwrap() error {
	return e.Cause
}

// Engine runs one analysis at a time. Concurrent Analyze calls queue on an
// internal lock, and every provider attempt waits on the shared limiter.
type Engine struct {
	mu      sync.Mutex
	client  llm.Client
	limiter *ratelimit.Limiter
	opts    Options
	system  string
	posting string
	repair  string
	logger  *slog.Logger
}

// NewEngine creates an Engine. A nil limiter applies ratelimit.DefaultMinDelay.
func NewEngine(client llm.Client, limiter *ratelimit.Limiter, opts Options, logger *slog.Logger) *Engine {
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultMinDelay)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.InvalidJSONRetries < 0 {
		opts.InvalidJSONRetries = 0
	}
	opts.Retry.Retryable = llm.IsTransient
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:  client,
		limiter: limiter,
		opts:    opts,
		system:  prompts.MustGet(prompts.DetectionFile, prompts.KeySystem),
		posting: prompts.MustGet(prompts.DetectionFile, prompts.KeyPosting),
		repair:  prompts.MustGet(prompts.DetectionFile, prompts.KeyRepair),
		logger:  logger,
	}
}

// BuildRequest renders the system instructions and the posting payload.
func (e *Engine) BuildRequest(p types.JobPosting) llm.Request {
	return llm.Request{
		System: e.system,
		Prompt: prompts.Format(e.posting, map[string]string{
			"Company":     p.Company,
			"JobTitle":    p.JobTitle,
			"Description": p.Description,
		}),
	}
}

// Analyze classifies one posting. It returns a valid verdict, positive or negative,
// or an *types.AnalysisFailure. A failure is never reported as a negative.
func (e *Engine) Analyze(ctx context.Context, p types.JobPosting) (types.AnalysisVerdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	req := e.BuildRequest(p)
	totalAttempts := 0

	for round := 0; ; round++ {
		raw, attempts, err := e.call(ctx, req)
		totalAttempts += attempts
		if err != nil {
			return types.AnalysisVerdict{}, &types.AnalysisFailure{
				JobID:    p.JobID,
				Message:  "provider call failed",
				Attempts: totalAttempts,
				Cause:    err,
			}
		}

		verdict, err := ParseVerdict(raw)
		if err == nil {
			return e.finish(ctx, p, verdict), nil
		}

		if round >= e.opts.InvalidJSONRetries {
			return types.AnalysisVerdict{}, &types.AnalysisFailure{
				JobID:    p.JobID,
				Message:  "invalid response",
				Attempts: totalAttempts,
				Cause:    &InvalidResponseError{Raw: raw, Cause: err},
			}
		}
		e.logger.WarnContext(ctx, "invalid verdict, asking again",
			"job_id", p.JobID,
			"round", round+1,
			"error", err)
		req.Prompt = e.BuildRequest(p).Prompt + "\n\n" + prompts.Format(e.repair, map[string]string{"Problem": err.Error()})
	}
}

// call performs one rate-limited provider request with transient retries.
// A request already sent runs to completion or timeout even if ctx is cancelled;
// cancellation stops further waits and retries.
func (e *Engine) call(ctx context.Context, req llm.Request) (string, int, error) {
	var raw string
	attempts, err := e.opts.Retry.Do(ctx, e.logger, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.Timeout)
		defer cancel()
		out, err := e.client.GenerateJSON(callCtx, req)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	return raw, attempts, err
}

func (e *Engine) finish(ctx context.Context, p types.JobPosting, v types.AnalysisVerdict) types.AnalysisVerdict {
	reconciled, changed := Reconcile(v, p.Description)
	if changed {
		e.logger.InfoContext(ctx, "verdict not supported by description, downgraded",
			"job_id", p.JobID,
			"claimed", v.ToolDetected,
			"kept", reconciled.ToolDetected)
	}
	if reconciled.UsesTool && reconciled.Context == "" {
		reconciled.Context = EvidenceSnippet(p.Description, reconciled.ToolDetected)
	}
	reconciled.Context = TruncateContext(reconciled.Context)
	e.logger.DebugContext(ctx, "analyzed posting",
		"job_id", p.JobID,
		"company", p.Company,
		"tool", reconciled.ToolDetected,
		"signal", reconciled.SignalType)
	return reconciled
}

// wireVerdict mirrors the JSON the model returns; pointers distinguish missing from zero.
type wireVerdict struct {
	UsesTool     *bool   `json:"uses_tool"`
	ToolDetected *string `json:"tool_detected"`
	SignalType   *string `json:"signal_type"`
	Context      *string `json:"context"`
}

// ParseVerdict validates a raw model response and converts it to a verdict.
// A missing signal_type defaults to "none" for negatives and "stack_mention" for
// positives. Any schema or invariant violation is an error, never a negative.
func ParseVerdict(raw string) (types.AnalysisVerdict, error) {
	raw = llm.CleanJSONBlock(raw)
	if err := schemas.ValidateVerdict(raw); err != nil {
		return types.AnalysisVerdict{}, err
	}

	var w wireVerdict
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return types.AnalysisVerdict{}, err
	}
	if w.UsesTool == nil || w.ToolDetected == nil {
		return types.AnalysisVerdict{}, errors.New("uses_tool and tool_detected are required")
	}

	v := types.AnalysisVerdict{
		UsesTool:     *w.UsesTool,
		ToolDetected: types.Tool(*w.ToolDetected),
	}
	if w.Context != nil {
		v.Context = *w.Context
	}
	switch {
	case !v.UsesTool:
		v.SignalType = types.SignalNone
		v.Context = ""
	case w.SignalType == nil || *w.SignalType == "" || *w.SignalType == string(types.SignalNone):
		v.SignalType = types.SignalStackMention
	default:
		v.SignalType = types.SignalType(*w.SignalType)
	}

	if err := v.Validate(); err != nil {
		return types.AnalysisVerdict{}, err
	}
	return v, nil
}
