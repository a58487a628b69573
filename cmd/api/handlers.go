package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MedGateAI/medgate-engine/engine/audit"
	"github.com/MedGateAI/medgate-engine/engine/authz"
	"github.com/MedGateAI/medgate-engine/engine/domain"
	"github.com/MedGateAI/medgate-engine/pkg/metrics"
)

// authorizer is the slice of the authorization service the handlers use.
type authorizer interface {
	Authorize(ctx context.Context, p domain.Patient) (domain.DecisionResult, error)
	AuthorizeByID(ctx context.Context, patientID int64) (domain.DecisionResult, error)
	AuthorizeBatch(ctx context.Context, patientIDs []int64, workers int) authz.BatchReport
}

// auditReader is implemented by the file sink; nil when decisions go to NATS.
type auditReader interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	Stats(ctx context.Context) (audit.Stats, error)
}

type api struct {
	svc     authorizer
	reader  auditReader
	reg     *metrics.Registry
	workers int
	log     *slog.Logger

	decisions *metrics.Histogram
}

func newAPI(svc authorizer, reader auditReader, reg *metrics.Registry, workers int, log *slog.Logger) *api {
	return &api{
		svc:       svc,
		reader:    reader,
		reg:       reg,
		workers:   workers,
		log:       log,
		decisions: reg.Histogram("authorize_duration_seconds", "Time to decide one request", metrics.DefaultBuckets),
	}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/authorize", a.handleAuthorize)
	mux.HandleFunc("POST /api/authorize/{id}", a.handleAuthorizeByID)
	mux.HandleFunc("POST /api/authorize/batch", a.handleBatch)
	mux.HandleFunc("GET /api/decisions", a.handleDecisions)
	mux.HandleFunc("GET /api/decisions/stats", a.handleStats)
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthorize decides an ad-hoc patient record from the request body.
func (a *api) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var p domain.Patient
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.decide(w, func() (domain.DecisionResult, error) {
		return a.svc.Authorize(r.Context(), p)
	})
}

// handleAuthorizeByID decides a patient already in the registry.
func (a *api) handleAuthorizeByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return
	}
	a.decide(w, func() (domain.DecisionResult, error) {
		return a.svc.AuthorizeByID(r.Context(), id)
	})
}

func (a *api) decide(w http.ResponseWriter, f func() (domain.DecisionResult, error)) {
	start := time.Now()
	res, err := f()
	a.decisions.Since(start)

	switch {
	case err == nil:
		a.reg.Counter(metrics.WithLabels("authorizations_total", "decision", string(res.Decision)),
			"Authorization decisions by outcome").Inc()
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, domain.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient not found")
	case isValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.log.Error("authorization failed", "err", err)
		a.reg.Counter("authorization_errors_total", "Authorization requests that failed").Inc()
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// BatchRequest is the JSON body for POST /api/authorize/batch.
type BatchRequest struct {
	PatientIDs []int64 `json:"patient_ids"`
}

func (a *api) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.PatientIDs) == 0 {
		writeError(w, http.StatusBadRequest, "patient_ids is required")
		return
	}

	report := a.svc.AuthorizeBatch(r.Context(), req.PatientIDs, a.workers)
	a.reg.Counter(metrics.WithLabels("authorizations_total", "decision", string(domain.Approved)),
		"Authorization decisions by outcome").Add(int64(report.Approved))
	a.reg.Counter(metrics.WithLabels("authorizations_total", "decision", string(domain.Denied)),
		"Authorization decisions by outcome").Add(int64(report.Denied))
	writeJSON(w, http.StatusOK, report)
}

func (a *api) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(w, http.StatusNotImplemented, "decision history is not available with this audit sink")
		return
	}

	var f audit.Filter
	q := r.URL.Query()
	if v := q.Get("patient_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid patient_id")
			return
		}
		f.PatientID = id
	}
	if v := q.Get("decision"); v != "" {
		d := domain.Decision(v)
		if !d.Valid() {
			writeError(w, http.StatusBadRequest, "invalid decision filter")
			return
		}
		f.Decision = d
	}
	f.Limit = 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	entries, err := a.reader.Query(r.Context(), f)
	if err != nil {
		a.log.Error("decision query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.reader == nil {
		writeError(w, http.StatusNotImplemented, "decision history is not available with this audit sink")
		return
	}
	stats, err := a.reader.Stats(r.Context())
	if err != nil {
		a.log.Error("stats query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func isValidationError(err error) bool {
	var ve *domain.ValidationError
	return errors.As(err, &ve)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
