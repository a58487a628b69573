package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// ICD-style diagnosis code: letter, two alphanumerics, optional dotted suffix
// (e.g. "E11.9", "I10", "Z00.00").
var diagnosisRegex = regexp.MustCompile(`^[A-Z][0-9][0-9A-Z](\.[0-9A-Z]{1,4})?$`)

// CPT-style procedure code: four or five digits with an optional trailing
// letter (e.g. "83036", "99395", "0042T").
var procedureRegex = regexp.MustCompile(`^[0-9]{4,5}[A-Z]?$`)

// Lab results are "name:value" pairs separated by ";". Values are free-form;
// numeric extraction is the decision engine's concern, not validation's.
var labPairRegex = regexp.MustCompile(`^[^:;]+:[^:;]*$`)

const maxAge = 150

// ValidatePatient checks a Patient before it enters the pipeline. The decision
// engine itself tolerates malformed fields; this gate exists so that the API
// surface rejects records that could never produce a meaningful decision.
func ValidatePatient(p Patient) error {
	if p.Age < 0 {
		return NewValidationError("age", fmt.Sprintf("%d", p.Age), ErrNegativeAge)
	}
	if p.Age > maxAge {
		return NewValidationError("age", fmt.Sprintf("%d", p.Age), ErrInvalidPatient)
	}

	diag := strings.ToUpper(strings.TrimSpace(p.DiagnosisCode))
	if diag == "" {
		return NewValidationError("diagnosis_code", p.DiagnosisCode, ErrMissingDiagnosis)
	}
	if !diagnosisRegex.MatchString(diag) {
		return NewValidationError("diagnosis_code", p.DiagnosisCode, ErrMalformedCode)
	}

	proc := strings.ToUpper(strings.TrimSpace(p.ProcedureCode))
	if proc == "" {
		return NewValidationError("procedure_code", p.ProcedureCode, ErrMissingProcedure)
	}
	if !procedureRegex.MatchString(proc) {
		return NewValidationError("procedure_code", p.ProcedureCode, ErrMalformedCode)
	}

	if p.LabResults != "" {
		for _, pair := range strings.Split(p.LabResults, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			if !labPairRegex.MatchString(pair) {
				return NewValidationError("lab_results", pair, ErrMalformedLabResults)
			}
		}
	}

	for _, prev := range p.PreviousProcedures {
		code := strings.ToUpper(strings.TrimSpace(prev))
		if code == "" || !procedureRegex.MatchString(code) {
			return NewValidationError("previous_procedures", prev, ErrMalformedCode)
		}
	}

	return nil
}
