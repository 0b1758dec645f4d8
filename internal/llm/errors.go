package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ProviderError is a failed call to the LLM provider.
// StatusCode is 0 when the request never got an HTTP response.
type ProviderError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm provider error (HTTP %d): %s: %v", e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm provider error: %s: %v", e.Message, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// classify wraps a raw provider error with its HTTP status, when one is known.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{StatusCode: statusCode(err), Message: "generate content failed", Cause: err}
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) {
		return coded.HTTPCode()
	}
	return 0
}

// IsTransient reports whether err is worth retrying: rate limiting, server errors,
// timeouts and dropped connections. Other 4xx responses and malformed output are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	code := 0
	var pe *ProviderError
	if errors.As(err, &pe) {
		code = pe.StatusCode
	}
	if code == 0 {
		code = statusCode(err)
	}
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	case code >= 400:
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
