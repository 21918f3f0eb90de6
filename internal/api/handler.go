package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/audit"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/features"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/gate"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/logging"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/metrics"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/ratelimit"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/risk"
	"github.com/gyaneshwarpardhi/merchant-shield/internal/scoring"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 100
	readyThreshold   = 0.8
)

const unauthorizedMessage = "A valid API key is required"

// Analyzer runs the scoring pipeline for one request body. Responded is
// called once a successful result has been written.
type Analyzer interface {
	Analyze(ctx context.Context, credential string, body []byte) (risk.Result, error)
	Responded(ctx context.Context, res risk.Result)
}

// Authorizer checks a caller credential.
type Authorizer interface {
	Authorize(credential string) error
}

// Lister reads recent audit records, newest first.
type Lister interface {
	List(ctx context.Context, limit int) ([]*audit.Record, error)
}

// QueueReporter exposes audit queue fill level (0–1).
type QueueReporter interface {
	QueueUtilization() float64
}

// Deps holds all HTTP handler dependencies. Limiter may be nil.
type Deps struct {
	Scoring        Analyzer
	Gate           Authorizer
	Audit          Lister
	Queue          QueueReporter
	Limiter        *ratelimit.Limiter
	AllowedOrigins []string
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	mux    *http.ServeMux
	routes map[string][]string // path → allowed methods
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{Deps: d, mux: http.NewServeMux(), routes: make(map[string][]string)}

	h.handle(http.MethodPost, "/api/analyze-risk", h.analyzeRisk)
	h.handle(http.MethodGet, "/api/get-all-transactions", h.listTransactions)
	h.handle(http.MethodGet, "/healthz", h.healthz)
	h.handle(http.MethodGet, "/readyz", h.readyz)
	h.handle(http.MethodGet, "/metrics", promhttp.Handler().ServeHTTP)
	h.mux.HandleFunc("/", h.fallback)

	return requestIDMiddleware(loggingMiddleware(corsMiddleware(d.AllowedOrigins, h.mux)))
}

func (h *Handler) handle(method, path string, fn http.HandlerFunc) {
	h.mux.HandleFunc(method+" "+path, fn)
	h.routes[path] = append(h.routes[path], method)
}

// POST /api/analyze-risk — score one transaction.
func (h *Handler) analyzeRisk(w http.ResponseWriter, r *http.Request) {
	if h.Limiter != nil && !h.Limiter.Allow(clientKey(r)) {
		metrics.RiskRequests.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	credential := gate.Credential(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		// The credential is still checked first so an oversized anonymous
		// request gets 401, not 400.
		if h.Gate.Authorize(credential) != nil {
			writeStatusError(w, http.StatusUnauthorized, unauthorizedMessage)
			return
		}
		reason := "could not read request body"
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			reason = "request body too large"
		}
		writeError(w, http.StatusBadRequest, (&features.MissingPayloadError{Reason: reason}).Error())
		return
	}

	res, err := h.Scoring.Analyze(r.Context(), credential, body)
	if err != nil {
		switch status := scoring.StatusOf(err); status {
		case http.StatusUnauthorized:
			writeStatusError(w, status, unauthorizedMessage)
		case http.StatusBadRequest:
			writeError(w, status, clientReason(err))
		default:
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
	h.Scoring.Responded(r.Context(), res)
}

// GET /api/get-all-transactions?limit=N — most recent audit records.
func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	if err := h.Gate.Authorize(gate.Credential(r)); err != nil {
		writeStatusError(w, http.StatusUnauthorized, unauthorizedMessage)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > audit.MaxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and "+strconv.Itoa(audit.MaxListLimit))
			return
		}
		limit = n
	}

	recs, err := h.Audit.List(r.Context(), limit)
	if err != nil {
		logging.L(r.Context()).Error("list audit records failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if recs == nil {
		recs = []*audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if audit queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.Queue.QueueUtilization()
	if util > readyThreshold {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

// fallback turns the mux's plain-text 404 and 405 into JSON.
func (h *Handler) fallback(w http.ResponseWriter, r *http.Request) {
	methods, ok := h.routes[r.URL.Path]
	if !ok {
		writeStatusError(w, http.StatusNotFound, "The requested URL was not found on the server.")
		return
	}
	allow := slices.Clone(methods)
	if slices.Contains(allow, http.MethodGet) {
		allow = append(allow, http.MethodHead)
	}
	w.Header().Set("Allow", strings.Join(allow, ", "))
	writeStatusError(w, http.StatusMethodNotAllowed, "The method is not allowed for the requested URL.")
}

// clientReason returns the message safe to show for a 400.
func clientReason(err error) string {
	var rej *scoring.Rejection
	if errors.As(err, &rej) && rej.Err != nil {
		return rej.Err.Error()
	}
	return err.Error()
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
