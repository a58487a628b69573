// Package domain defines core domain types, constants, and validation for the
// MedGate authorization pipeline. It acts as the validation gate at pipeline
// entry points.
package domain

import "time"

// Patient is the structured clinical record an authorization request is
// evaluated against. Immutable once constructed; passed by value into the
// pipeline.
type Patient struct {
	PatientID          int64    `json:"patient_id"`
	Name               string   `json:"name"`
	Age                int      `json:"age"`
	Gender             string   `json:"gender"`
	DiagnosisCode      string   `json:"diagnosis_code"`
	ProcedureCode      string   `json:"procedure_code"`
	LabResults         string   `json:"lab_results,omitempty"`         // "name:value" pairs separated by ";"
	PreviousProcedures []string `json:"previous_procedures,omitempty"` // ordered procedure codes
}

// Decision is the outcome of an authorization request.
type Decision string

const (
	Approved Decision = "Approved"
	Denied   Decision = "Denied"
	Pending  Decision = "Pending"
)

// ValidDecisions is the set of recognised decision values.
var ValidDecisions = map[Decision]bool{
	Approved: true, Denied: true, Pending: true,
}

// Valid reports whether d is a recognised decision value.
func (d Decision) Valid() bool { return ValidDecisions[d] }

// Evidence is one entry of the justification trail: a short human-readable
// statement tagged with whether the underlying criterion was satisfied.
type Evidence struct {
	Text      string `json:"text"`
	Satisfied bool   `json:"satisfied"`
}

// DecisionResult is the complete record of one pipeline invocation. Created
// once per request, immutable, handed to the audit sink and the caller.
type DecisionResult struct {
	PatientID     int64      `json:"patient_id"`
	PatientName   string     `json:"patient_name,omitempty"`
	DiagnosisCode string     `json:"diagnosis_code"`
	ProcedureCode string     `json:"procedure_code"`
	Decision      Decision   `json:"decision"`
	Justification []Evidence `json:"justification"`
	MatchedDocID  string     `json:"matched_doc_id"`
	Distance      float32    `json:"distance"`
	QueryText     string     `json:"query_text"`
	DecidedAt     time.Time  `json:"decided_at"`
	AuditID       string     `json:"audit_id,omitempty"` // empty when audit recording failed
}
