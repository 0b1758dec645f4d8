package types

import (
	"errors"
	"fmt"
)

// ScrapeFailure means the external scraper was unreachable or errored.
// Recovered by retrying the term on its next scheduled cycle.
type ScrapeFailure struct {
	SearchTerm string
	Message    string
	Cause      error
}

func (e *ScrapeFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scrape failed for %q: %s: %v", e.SearchTerm, e.Message, e.Cause)
	}
	return fmt.Sprintf("scrape failed for %q: %s", e.SearchTerm, e.Message)
}

func (e *ScrapeFailure) Unwrap() error {
	return e.Cause
}

// AnalysisFailure means no valid verdict could be produced for a posting.
// The posting stays unprocessed.
type AnalysisFailure struct {
	JobID    string
	Message  string
	Attempts int
	Cause    error
}

func (e *AnalysisFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("analysis failed for job %s after %d attempt(s): %s: %v", e.JobID, e.Attempts, e.Message, e.Cause)
	}
	return fmt.Sprintf("analysis failed for job %s after %d attempt(s): %s", e.JobID, e.Attempts, e.Message)
}

func (e *AnalysisFailure) Unwrap() error {
	return e.Cause
}

// StorageFailure means the persistence layer could not be read or written.
// It aborts the current run.
type StorageFailure struct {
	Op    string
	Cause error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Cause)
}

func (e *StorageFailure) Unwrap() error {
	return e.Cause
}

// NewStorageFailure wraps err unless it already is a StorageFailure.
func NewStorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var sf *StorageFailure
	if errors.As(err, &sf) {
		return err
	}
	return &StorageFailure{Op: op, Cause: err}
}

// ValidationError represents malformed input to a component.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Error categories reported in run summaries.
const (
	CategoryScrape     = "scrape"
	CategoryAnalysis   = "analysis"
	CategoryStorage    = "storage"
	CategoryValidation = "validation"
	CategoryOther      = "other"
)

// ErrorCategory classifies err into one of the summary categories.
func ErrorCategory(err error) string {
	var (
		sf *StorageFailure
		sc *ScrapeFailure
		af *AnalysisFailure
		ve *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &sf):
		return CategoryStorage
	case errors.As(err, &sc):
		return CategoryScrape
	case errors.As(err, &af):
		return CategoryAnalysis
	case errors.As(err, &ve):
		return CategoryValidation
	default:
		return CategoryOther
	}
}
