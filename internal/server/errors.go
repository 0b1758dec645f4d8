package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/stack-scout/internal/lease"
	"github.com/jonathan/stack-scout/internal/pipeline"
	"github.com/jonathan/stack-scout/internal/types"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var ve *types.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRunInProgress), errors.Is(err, lease.ErrLeaseHeld):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
