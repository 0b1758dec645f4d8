// Package pipeline drives search terms through scrape, dedup, analysis and recording.
package pipeline

// State is the orchestrator's position in a run.
type State string

// Orchestrator states
const (
	StateIdle             State = "Idle"
	StateSelectingTerm    State = "SelectingTerm"
	StateScraping         State = "Scraping"
	StateDeduplicating    State = "Deduplicating"
	StateAnalyzingBatch   State = "AnalyzingBatch"
	StateRecording        State = "Recording"
	StateUpdatingSchedule State = "UpdatingSchedule"
	StateAborted          State = "Aborted"
)

// ProgressEvent represents a progress update during a run
type ProgressEvent struct {
	State      State  `json:"state"`
	SearchTerm string `json:"search_term,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	Message    string `json:"message"`
}

// ProgressCallback is called on every state transition and per-posting outcome.
type ProgressCallback func(event ProgressEvent)
