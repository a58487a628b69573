// Package authz orchestrates the prior-authorization pipeline: validate the
// patient, embed a query built from the record, retrieve the closest policy
// document, run the rule engine against its text and record the outcome.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MedGateAI/medgate-engine/engine/decision"
	"github.com/MedGateAI/medgate-engine/engine/domain"
	"github.com/MedGateAI/medgate-engine/engine/semantic"
	"github.com/MedGateAI/medgate-engine/pkg/fn"
)

// ErrNoMatchingPolicy is returned when retrieval yields no candidate
// document, which only happens against an empty index.
var ErrNoMatchingPolicy = errors.New("authz: no matching policy document")

// PlaceholderPolicyText is evaluated when a retrieved document id has no
// stored text. The rule engine finds none of its criteria in it, so the
// request falls through to a denial with a full justification trail.
const PlaceholderPolicyText = "No SOP content available"

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever answers k-nearest-neighbor queries over the policy corpus.
type Retriever interface {
	Retrieve(ctx context.Context, embedding []float32, k int) ([]semantic.Hit, error)
}

// PolicyStore resolves a document id to its text.
type PolicyStore interface {
	Get(ctx context.Context, docID string) (string, error)
}

// PatientStore resolves a patient id to its record.
type PatientStore interface {
	Get(ctx context.Context, id int64) (domain.Patient, error)
}

// AuditSink records a finished decision and returns its audit id.
type AuditSink interface {
	Record(ctx context.Context, res domain.DecisionResult) (string, error)
}

// Deps wires the pipeline's collaborators. Embedder, Retriever and Policies
// are required; Patients is only needed for by-id entry points; a nil Audit
// disables recording; a nil Engine and Log get defaults.
type Deps struct {
	Embedder  Embedder
	Retriever Retriever
	Policies  PolicyStore
	Patients  PatientStore
	Audit     AuditSink
	Engine    *decision.Engine
	Log       *slog.Logger
}

// Service runs authorization requests.
type Service struct {
	embedder  Embedder
	retriever Retriever
	policies  PolicyStore
	patients  PatientStore
	audit     AuditSink
	engine    *decision.Engine
	log       *slog.Logger
}

// New validates deps and builds a Service.
func New(d Deps) (*Service, error) {
	if d.Embedder == nil {
		return nil, fmt.Errorf("authz: embedder is required")
	}
	if d.Retriever == nil {
		return nil, fmt.Errorf("authz: retriever is required")
	}
	if d.Policies == nil {
		return nil, fmt.Errorf("authz: policy store is required")
	}
	if d.Engine == nil {
		d.Engine = decision.New()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Service{
		embedder:  d.Embedder,
		retriever: d.Retriever,
		policies:  d.Policies,
		patients:  d.Patients,
		audit:     d.Audit,
		engine:    d.Engine,
		log:       d.Log,
	}, nil
}

// BuildQuery flattens a patient record into the retrieval query: diagnosis
// and procedure codes first, then demographics, then labs with their
// separators spaced out, then prior procedures. Field order is fixed so
// identical records always embed identically.
func BuildQuery(p domain.Patient) string {
	parts := []string{
		"diagnosis " + p.DiagnosisCode,
		"procedure " + p.ProcedureCode,
		fmt.Sprintf("age %d years", p.Age),
	}
	if p.Gender != "" {
		parts = append(parts, strings.ToLower(p.Gender))
	}
	if p.LabResults != "" {
		labs := strings.NewReplacer(";", " ", ":", " ").Replace(p.LabResults)
		parts = append(parts, "labs "+labs)
	}
	if len(p.PreviousProcedures) > 0 {
		parts = append(parts, "previous procedures "+strings.Join(p.PreviousProcedures, " "))
	}
	return strings.Join(parts, " ")
}

// Authorize runs the full pipeline for one patient record.
func (s *Service) Authorize(ctx context.Context, p domain.Patient) (domain.DecisionResult, error) {
	if err := domain.ValidatePatient(p); err != nil {
		return domain.DecisionResult{}, fmt.Errorf("authz: validate patient %d: %w", p.PatientID, err)
	}

	query := BuildQuery(p)
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return domain.DecisionResult{}, fmt.Errorf("authz: embed query: %w", err)
	}

	hits, err := s.retriever.Retrieve(ctx, embedding, 1)
	if err != nil {
		return domain.DecisionResult{}, fmt.Errorf("authz: retrieve policy: %w", err)
	}
	if len(hits) == 0 {
		return domain.DecisionResult{}, ErrNoMatchingPolicy
	}
	best := hits[0]

	text, err := s.policies.Get(ctx, best.DocID)
	switch {
	case errors.Is(err, domain.ErrPolicyNotFound):
		s.log.Warn("policy text missing, evaluating placeholder", "doc_id", best.DocID)
		text = PlaceholderPolicyText
	case err != nil:
		return domain.DecisionResult{}, fmt.Errorf("authz: load policy %s: %w", best.DocID, err)
	}

	verdict, trail := s.engine.Decide(p, text)

	res := domain.DecisionResult{
		PatientID:     p.PatientID,
		PatientName:   p.Name,
		DiagnosisCode: p.DiagnosisCode,
		ProcedureCode: p.ProcedureCode,
		Decision:      verdict,
		Justification: trail,
		MatchedDocID:  best.DocID,
		Distance:      best.Distance,
		QueryText:     query,
		DecidedAt:     time.Now().UTC(),
	}

	if s.audit != nil {
		id, err := s.audit.Record(ctx, res)
		if err != nil {
			// Recording failure must not overturn a finished decision.
			s.log.Error("audit record failed", "patient_id", p.PatientID, "error", err)
		} else {
			res.AuditID = id
		}
	}

	s.log.Info("authorization decided",
		"patient_id", p.PatientID,
		"decision", string(res.Decision),
		"doc_id", best.DocID,
		"distance", best.Distance,
	)
	return res, nil
}

// AuthorizeByID looks the patient up in the registry and authorizes them.
func (s *Service) AuthorizeByID(ctx context.Context, patientID int64) (domain.DecisionResult, error) {
	if s.patients == nil {
		return domain.DecisionResult{}, fmt.Errorf("authz: no patient store configured")
	}
	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return domain.DecisionResult{}, err
	}
	return s.Authorize(ctx, p)
}

// BatchItem is one patient's outcome inside a batch run.
type BatchItem struct {
	PatientID int64                  `json:"patient_id"`
	Result    *domain.DecisionResult `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// BatchReport summarizes a batch run. Items preserve the input order and
// every requested id appears exactly once.
type BatchReport struct {
	Items    []BatchItem `json:"items"`
	Approved int         `json:"approved"`
	Denied   int         `json:"denied"`
	Failed   int         `json:"failed"`
}

// AuthorizeBatch authorizes many patients with bounded concurrency. One
// patient's failure never aborts the rest.
func (s *Service) AuthorizeBatch(ctx context.Context, patientIDs []int64, workers int) BatchReport {
	results := fn.ParMapResult(patientIDs, workers, func(id int64) fn.Result[domain.DecisionResult] {
		return fn.FromPair(s.AuthorizeByID(ctx, id))
	})

	report := BatchReport{Items: make([]BatchItem, len(patientIDs))}
	for i, r := range results {
		item := BatchItem{PatientID: patientIDs[i]}
		if res, err := r.Unwrap(); err != nil {
			item.Error = err.Error()
			report.Failed++
		} else {
			item.Result = &res
			switch res.Decision {
			case domain.Approved:
				report.Approved++
			case domain.Denied:
				report.Denied++
			}
		}
		report.Items[i] = item
	}
	return report
}
