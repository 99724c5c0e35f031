package server

import (
	"errors"
	"net/http"

	"github.com/metaparticle-io/container-lib/pkg/types"
)

// converts domain errors to HTTP status codes
func toHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict

	// lock servers have always answered malformed requests with 429
	case errors.Is(err, types.ErrMalformed):
		return http.StatusTooManyRequests

	case errors.Is(err, types.ErrNotLeader):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// short client-facing message for an error status
func errorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "Not found."
	case errors.Is(err, types.ErrConflict):
		return "Conflict"
	default:
		return err.Error()
	}
}
