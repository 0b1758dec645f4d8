package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jonathan/stack-scout/internal/pipeline"
	"github.com/jonathan/stack-scout/internal/types"
)

// SSE event names on /runs/stream.
const (
	eventProgress = "progress"
	eventSummary  = "summary"
	eventError    = "error"
)

var errStreamingUnsupported = errors.New("streaming not supported")

// runStream writes one run's progress as Server-Sent Events. The response is
// committed lazily, on the first in-progress event: idle and aborted events seen
// before that are held back so a run rejected up front still gets a plain
// status code from the handler.
type runStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	open    bool
	openErr error
	seq     int
	pending []pipeline.ProgressEvent
}

func newRunStream(w http.ResponseWriter) *runStream {
	return &runStream{w: w}
}

// Progress is the pipeline.ProgressCallback for the run.
func (s *runStream) Progress(ev pipeline.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open && (ev.State == pipeline.StateIdle || ev.State == pipeline.StateAborted) {
		s.pending = append(s.pending, ev)
		return
	}
	if s.commit() == nil {
		_ = s.write(eventProgress, ev)
	}
}

// Opened reports whether the response has been committed as an event stream.
func (s *runStream) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Finish flushes held-back events and closes the stream with the run's error
// (if any) and summary.
func (s *runStream) Finish(summary *types.RunSummary, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commit(); err != nil {
		return err
	}
	for _, ev := range s.pending {
		_ = s.write(eventProgress, ev)
	}
	s.pending = nil
	if runErr != nil {
		_ = s.write(eventError, map[string]any{"error": runErr.Error(), "status": HTTPStatus(runErr)})
	}
	if summary != nil {
		return s.write(eventSummary, summary)
	}
	return nil
}

func (s *runStream) commit() error {
	if s.open || s.openErr != nil {
		return s.openErr
	}
	flusher, ok := s.w.(http.Flusher)
	if !ok {
		s.openErr = errStreamingUnsupported
		return s.openErr
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
	s.flusher = flusher
	s.open = true
	return nil
}

func (s *runStream) write(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
