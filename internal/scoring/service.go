// Package scoring runs the risk-analysis pipeline for one request:
// authorize, validate, score, then hand the result to the audit trail.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/features"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/gate"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/logging"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/metrics"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/risk"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/tracing"
)

// State is a step of the per-request pipeline.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateAuthorized State = "AUTHORIZED"
	StateValidated  State = "VALIDATED"
	StateScored     State = "SCORED"
	StateResponded  State = "RESPONDED"
	StateRejected   State = "REJECTED"
)

// ErrInference wraps every scoring failure. Its detail is for server logs only.
var ErrInference = errors.New("inference failed")

// Authorizer checks the caller's credential.
type Authorizer interface {
	Authorize(credential string) error
}

// Validator turns a raw body into the decoded payload and its feature vector.
type Validator interface {
	Validate(raw []byte) (features.Payload, features.Vector, error)
}

// Scorer returns the fraud probability for a feature vector.
type Scorer interface {
	Score(ctx context.Context, vec []float64) (float64, error)
}

// Auditor records a scored request without blocking.
type Auditor interface {
	Dispatch(ctx context.Context, req map[string]any, res risk.Result)
}

// Rejection is returned when the pipeline stops before SCORED.
type Rejection struct {
	From   State // last state reached
	Status int   // HTTP status for the client
	Err    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected after %s: %v", r.From, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Service composes the pipeline stages. It holds only immutable collaborators
// and is safe for concurrent use.
type Service struct {
	gate      Authorizer
	validator Validator
	scorer    Scorer
	auditor   Auditor
}

// New creates a Service.
func New(g Authorizer, v Validator, s Scorer, a Auditor) *Service {
	return &Service{gate: g, validator: v, scorer: s, auditor: a}
}

// Analyze runs RECEIVED → AUTHORIZED → VALIDATED → SCORED. On success the
// audit record is dispatched before returning; dispatch only enqueues, so it
// never delays the caller. Failures are returned as *Rejection. The caller
// reports SCORED → RESPONDED with Responded once the result is written.
func (s *Service) Analyze(ctx context.Context, credential string, body []byte) (risk.Result, error) {
	log := logging.L(ctx)
	state := StateReceived

	if err := s.gate.Authorize(credential); err != nil {
		return risk.Result{}, s.reject(ctx, state, http.StatusUnauthorized, "unauthorized", err)
	}
	state = s.advance(ctx, state, StateAuthorized)

	vctx, span := tracing.StartSpan(ctx, "risk.validate", tracing.RequestID(logging.RequestID(ctx)))
	payload, vec, err := s.validator.Validate(body)
	if err != nil {
		tracing.Fail(span, err)
		span.End()
		return risk.Result{}, s.reject(vctx, state, http.StatusBadRequest, "invalid", err)
	}
	span.End()
	state = s.advance(ctx, state, StateValidated)

	sctx, span := tracing.StartSpan(ctx, "risk.score")
	p, err := s.scorer.Score(sctx, vec)
	if err != nil {
		tracing.Fail(span, err)
		span.End()
		log.Error("risk scoring failed", "err", err)
		return risk.Result{}, s.reject(ctx, state, http.StatusInternalServerError, "error", fmt.Errorf("%w: %w", ErrInference, err))
	}
	res := risk.NewResult(p)
	span.SetAttributes(tracing.Probability(res.FraudProbability), tracing.Flagged(res.Flagged))
	span.End()
	s.advance(ctx, state, StateScored)

	s.auditor.Dispatch(ctx, payload, res)
	return res, nil
}

// Responded records the SCORED → RESPONDED transition after res has been
// written to the client.
func (s *Service) Responded(ctx context.Context, res risk.Result) {
	s.advance(ctx, StateScored, StateResponded)
	metrics.RiskRequests.WithLabelValues("responded").Inc()
	if res.Flagged {
		metrics.RiskFlagged.Inc()
	}
}

func (s *Service) advance(ctx context.Context, from, to State) State {
	logging.L(ctx).Debug("risk pipeline transition", "from", from, "to", to)
	return to
}

func (s *Service) reject(ctx context.Context, from State, status int, outcome string, err error) error {
	metrics.RiskRequests.WithLabelValues(outcome).Inc()
	logging.L(ctx).Debug("risk pipeline transition", "from", from, "to", StateRejected, "status", status, "err", err)
	return &Rejection{From: from, Status: status, Err: err}
}

// StatusOf maps an Analyze error to its HTTP status.
func StatusOf(err error) int {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Status
	}
	switch {
	case errors.Is(err, gate.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, features.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
