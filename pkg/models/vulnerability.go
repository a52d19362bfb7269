package models

import "encoding/json"

// Priority is the ordinal risk classification assigned by the assessment
// collaborator. P0 is the most urgent.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// Vulnerability is a single finding reported by the scan collaborator.
// Scanner-specific fields that the orchestrator does not interpret are kept
// in Extra so varying collaborator payloads round-trip intact.
type Vulnerability struct {
	ID        string   `json:"id"`
	CVEID     string   `json:"cve_id,omitempty"`
	Title     string   `json:"title,omitempty"`
	Severity  string   `json:"severity,omitempty"`
	Priority  Priority `json:"priority,omitempty"`
	CVSSScore float64  `json:"cvss_score,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type vulnerabilityAlias Vulnerability

var vulnerabilityKnownFields = map[string]bool{
	"id": true, "cve_id": true, "title": true,
	"severity": true, "priority": true, "cvss_score": true,
}

// UnmarshalJSON keeps unrecognized scanner fields in Extra.
func (v *Vulnerability) UnmarshalJSON(data []byte) error {
	var a vulnerabilityAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range vulnerabilityKnownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		a.Extra = raw
	}
	*v = Vulnerability(a)
	return nil
}

// MarshalJSON re-emits the extension fields alongside the typed ones.
func (v Vulnerability) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(vulnerabilityAlias(v))
	if err != nil {
		return nil, err
	}
	if len(v.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, val := range v.Extra {
		if _, dup := merged[k]; !dup {
			merged[k] = val
		}
	}
	return json.Marshal(merged)
}

// Assessment is one prioritized finding returned by the assessment
// collaborator.
type Assessment struct {
	VulnerabilityID string   `json:"vulnerability_id"`
	CVEID           string   `json:"cve_id,omitempty"`
	Title           string   `json:"title,omitempty"`
	Severity        string   `json:"severity,omitempty"`
	Priority        Priority `json:"priority"`
	Score           float64  `json:"score,omitempty"`
	CVSSScore       float64  `json:"cvss_score,omitempty"`
	Rationale       string   `json:"rationale,omitempty"`
}

// Vulnerability projects the assessment back into the shape the remediation
// collaborator consumes.
func (a Assessment) Vulnerability() Vulnerability {
	return Vulnerability{
		ID:        a.VulnerabilityID,
		CVEID:     a.CVEID,
		Title:     a.Title,
		Severity:  a.Severity,
		Priority:  a.Priority,
		CVSSScore: a.CVSSScore,
	}
}

// AssessmentSummary is the per-priority count map returned alongside
// assessments.
type AssessmentSummary map[Priority]int
