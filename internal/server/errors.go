// Package server provides the HTTP control surface for the matching
// pipeline.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/placement-matcher/internal/pipeline"
	"github.com/jonathan/placement-matcher/internal/session"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error.
// Session lifecycle conflicts map to 409: the request was well-formed
// but the session is not in a state that admits it.
func HTTPStatus(err error) int {
	var (
		notFound   *session.ErrNotFound
		entity     *pipeline.ErrEntityNotFound
		running    *session.ErrAlreadyRunning
		sessRun    *session.ErrSessionRunning
		terminal   *session.ErrSessionTerminal
		transition *session.ErrInvalidTransition
		kinds      *pipeline.ErrKindMismatch
		validation *ErrValidation
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &entity):
		return http.StatusNotFound
	case errors.As(err, &running), errors.As(err, &sessRun),
		errors.As(err, &terminal), errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &kinds), errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
