// Package assess submits pairs to the external scoring oracle under a
// concurrency bound, with retry, cost accounting and mandatory payload
// redaction. The provider contract is oracle-agnostic; the Gemini
// implementation in gemini.go is the default.
package assess

import (
	"context"
	"errors"
	"fmt"
)

// Intensity selects the assessment depth. Coarse is the cheap boolean
// pass run first; Deep produces a graded score with rationale and only
// runs on coarse passers.
type Intensity string

// Assessment intensities.
const (
	IntensityCoarse Intensity = "stage1"
	IntensityDeep   Intensity = "stage2"
)

// Request is one pair's assessment payload. Both entities must already
// be redacted; a Provider never sees anything else.
type Request struct {
	PairKey   string         `json:"pair_key"`
	Candidate RedactedEntity `json:"candidate"`
	Position  RedactedEntity `json:"position"`
	Intensity Intensity      `json:"-"`
}

// Response is the provider's verdict for one pair.
type Response struct {
	PairKey   string  `json:"pair_key"`
	Passed    bool    `json:"passed"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	Cost      float64 `json:"cost"`
	LatencyMS int64   `json:"latency_ms"`
}

// Provider is the external scoring oracle.
type Provider interface {
	Assess(ctx context.Context, req *Request) (*Response, error)
}

// TransientError marks a failure worth retrying: timeout, 5xx or 429.
// RateLimited failures additionally feed the saturation detector.
type TransientError struct {
	Err         error
	RateLimited bool
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ParseError marks a malformed provider response. The call is not
// retried; the pair is recorded with an error outcome and the batch
// continues. Cost carries the spend of the failed call so the
// accumulator stays truthful.
type ParseError struct {
	Err  error
	Cost float64
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparsable provider response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRateLimited reports whether err was a rate-limit rejection.
func IsRateLimited(err error) bool {
	var te *TransientError
	return errors.As(err, &te) && te.RateLimited
}
