// Package decision implements the rule-based authorization engine: a pure,
// deterministic fold over an ordered list of checks evaluated against the
// patient record and the retrieved policy text. It performs no I/O and never
// fails; malformed input simply fails to contribute a vote.
package decision

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MedGateAI/medgate-engine/engine/domain"
)

// Vote is a single check's contribution to the running decision.
type Vote int

const (
	Abstain Vote = iota
	Approve
	Deny
)

// policyText carries precomputed case-folded views of the policy so checks
// don't re-fold on every evaluation.
type policyText struct {
	upper string
	lower string
}

// Check is one independent rule: a pure function of (patient, policy text)
// returning a vote and exactly one justification entry.
//
// Override marks the check's deny vote as final: once an override check
// denies, later approve votes cannot flip the decision back. Only the two
// threshold checks (age, lab value) are override-capable; policy documents
// state their numeric criteria as carve-outs from general approval rules.
type Check struct {
	Name     string
	Override bool
	eval     func(p domain.Patient, pol policyText) (Vote, domain.Evidence)
}

// Engine evaluates an ordered rule set. Read-only after construction.
type Engine struct {
	checks []Check
}

// New creates an Engine with the default rule set, in evaluation order:
// diagnosis match, procedure match, age threshold, HbA1c threshold,
// hypertension cross-reference, prior-procedure documentation.
func New() *Engine {
	return &Engine{checks: []Check{
		diagnosisMatch(),
		procedureMatch(),
		ageThreshold(),
		labThreshold("HbA1c", 7.0, ">7.0", 6.0, "<6.0"),
		conditionCrossRef("I10", "hypertension"),
		priorProcedures(),
	}}
}

// Checks returns the names of the rule set in evaluation order.
func (e *Engine) Checks() []string {
	names := make([]string, len(e.checks))
	for i, c := range e.checks {
		names[i] = c.Name
	}
	return names
}

// Decide runs every check in order and folds the votes into a final
// decision. The default is Denied; any approve vote flips to Approved; a
// deny vote from an override-capable check flips back to Denied and locks
// the outcome against later approvals. Every check appends exactly one
// justification entry, followed by a trailing entry naming the policy
// document's own heading.
func (e *Engine) Decide(p domain.Patient, text string) (domain.Decision, []domain.Evidence) {
	pol := policyText{upper: strings.ToUpper(text), lower: strings.ToLower(text)}

	decision := domain.Denied
	denied := false
	trail := make([]domain.Evidence, 0, len(e.checks)+1)

	for _, c := range e.checks {
		vote, ev := c.eval(p, pol)
		trail = append(trail, ev)
		switch vote {
		case Approve:
			if !denied {
				decision = domain.Approved
			}
		case Deny:
			if c.Override {
				decision = domain.Denied
				denied = true
			}
		}
	}

	trail = append(trail, domain.Evidence{
		Text:      "applied policy: " + policyReference(text),
		Satisfied: true,
	})
	return decision, trail
}

// --- rule set ---

func diagnosisMatch() Check {
	return Check{
		Name: "diagnosis-code-match",
		eval: func(p domain.Patient, pol policyText) (Vote, domain.Evidence) {
			diag := strings.ToUpper(strings.TrimSpace(p.DiagnosisCode))
			if diag == "" {
				return Abstain, domain.Evidence{Text: "diagnosis code not provided"}
			}
			// The 3-character prefix tolerates sub-code variants
			// ("E11.9" matches a policy citing "E11.x codes").
			match := strings.Contains(pol.upper, diag)
			if !match && len(diag) >= 3 {
				match = strings.Contains(pol.upper, diag[:3])
			}
			if match {
				return Approve, domain.Evidence{
					Text:      fmt.Sprintf("diagnosis code %s matches policy criteria", diag),
					Satisfied: true,
				}
			}
			return Abstain, domain.Evidence{
				Text: fmt.Sprintf("diagnosis code %s not found in policy criteria", diag),
			}
		},
	}
}

func procedureMatch() Check {
	return Check{
		Name: "procedure-code-match",
		eval: func(p domain.Patient, pol policyText) (Vote, domain.Evidence) {
			proc := strings.ToUpper(strings.TrimSpace(p.ProcedureCode))
			if proc == "" {
				return Abstain, domain.Evidence{Text: "procedure code not provided"}
			}
			if strings.Contains(pol.upper, proc) {
				return Approve, domain.Evidence{
					Text:      fmt.Sprintf("procedure code %s is covered by the policy", proc),
					Satisfied: true,
				}
			}
			return Abstain, domain.Evidence{
				Text: fmt.Sprintf("procedure code %s not explicitly covered", proc),
			}
		},
	}
}

func ageThreshold() Check {
	return Check{
		Name:     "age-threshold",
		Override: true,
		eval: func(p domain.Patient, pol policyText) (Vote, domain.Evidence) {
			switch {
			case p.Age > 50 && strings.Contains(pol.upper, "AGE >50"):
				return Approve, domain.Evidence{
					Text:      fmt.Sprintf("age %d meets the >50 criterion", p.Age),
					Satisfied: true,
				}
			case p.Age < 35 && strings.Contains(pol.upper, "AGE <35") && strings.Contains(pol.upper, "DENIED"):
				return Deny, domain.Evidence{
					Text: fmt.Sprintf("age %d falls under the <35 denial criterion", p.Age),
				}
			}
			return Abstain, domain.Evidence{Text: "no age criterion applies"}
		},
	}
}

// labThreshold builds an override-capable check that extracts the numeric
// value after a named lab marker and compares it against threshold literals
// quoted in the policy text. The literal-containment comparison mirrors how
// the policy documents state their criteria; a reworded threshold is
// silently ignored, which is a known limitation of the rule set.
func labThreshold(marker string, high float64, highLit string, low float64, lowLit string) Check {
	valuePattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(marker) + `\s*:\s*(\d+(?:\.\d+)?)`)
	markerLower := strings.ToLower(marker)

	return Check{
		Name:     "lab-threshold-" + markerLower,
		Override: true,
		eval: func(p domain.Patient, pol policyText) (Vote, domain.Evidence) {
			labs := p.LabResults
			if !strings.Contains(strings.ToLower(labs), markerLower) {
				return Abstain, domain.Evidence{Text: marker + " not present in lab results"}
			}

			m := valuePattern.FindStringSubmatch(labs)
			if m == nil {
				// Marker present but no parsable number: abstain, not an error.
				return Abstain, domain.Evidence{Text: marker + " value not readable from lab results"}
			}
			value, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return Abstain, domain.Evidence{Text: marker + " value not readable from lab results"}
			}

			switch {
			case value > high && strings.Contains(pol.upper, highLit):
				return Approve, domain.Evidence{
					Text:      fmt.Sprintf("%s %g exceeds the %s threshold", marker, value, highLit),
					Satisfied: true,
				}
			case value < low && strings.Contains(pol.upper, lowLit) && strings.Contains(pol.upper, "DENIED"):
				return Deny, domain.Evidence{
					Text: fmt.Sprintf("%s %g is below the %s denial threshold", marker, value, lowLit),
				}
			}
			return Abstain, domain.Evidence{Text: fmt.Sprintf("%s %g meets no stated threshold", marker, value)}
		},
	}
}

func conditionCrossRef(codePrefix, condition string) Check {
	prefixLower := strings.ToLower(codePrefix)
	conditionLower := strings.ToLower(condition)

	return Check{
		Name: "condition-cross-reference",
		eval: func(p domain.Patient, pol policyText) (Vote, domain.Evidence) {
			if strings.Contains(strings.ToLower(p.DiagnosisCode), prefixLower) &&
				strings.Contains(pol.lower, conditionLower) {
				return Approve, domain.Evidence{
					Text:      fmt.Sprintf("%s diagnosis (%s) matches the policy's %s criteria", condition, strings.ToUpper(codePrefix), condition),
					Satisfied: true,
				}
			}
			return Abstain, domain.Evidence{
				Text: fmt.Sprintf("no %s cross-reference applies", condition),
			}
		},
	}
}

func priorProcedures() Check {
	return Check{
		Name: "prior-procedure-documentation",
		eval: func(p domain.Patient, pol policyText) (Vote, domain.Evidence) {
			if len(p.PreviousProcedures) > 0 && strings.Contains(pol.lower, "previous") {
				return Approve, domain.Evidence{
					Text:      "previous procedures documented, supporting the request",
					Satisfied: true,
				}
			}
			return Abstain, domain.Evidence{Text: "no prior-procedure documentation applies"}
		},
	}
}

// policyReference extracts the policy's own title line: the first line
// mentioning AUTHORIZATION or GUIDELINES, else a generic label.
func policyReference(text string) string {
	for _, line := range strings.Split(text, "\n") {
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "AUTHORIZATION") || strings.Contains(upper, "GUIDELINES") {
			return strings.TrimSpace(line)
		}
	}
	return "Medical SOP"
}
