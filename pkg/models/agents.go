package models

import "time"

// AgentStatus is the last observed health of a collaborator agent.
type AgentStatus string

const (
	AgentStatusHealthy   AgentStatus = "healthy"
	AgentStatusUnhealthy AgentStatus = "unhealthy"
	AgentStatusUnknown   AgentStatus = "unknown"
)

// AgentInfo describes one external collaborator agent.
type AgentInfo struct {
	Name         string      `json:"name"`
	URL          string      `json:"url"`
	Status       AgentStatus `json:"status"`
	Version      string      `json:"version,omitempty"`
	LastCheck    *time.Time  `json:"last_check,omitempty"`
	Capabilities []string    `json:"capabilities,omitempty"`
}

// Collaborator agent names.
const (
	AgentScanner     = "security-scanner"
	AgentAssessment  = "risk-assessment"
	AgentRemediation = "auto-remediation"
)

// ScanRequest is the payload sent to the scan collaborator.
type ScanRequest struct {
	Repository string   `json:"repository"`
	Branch     string   `json:"branch"`
	ScanTypes  []string `json:"scan_types"`
	TargetPath string   `json:"target_path,omitempty"`
}

// ScanTrigger is the scan collaborator's acknowledgement.
type ScanTrigger struct {
	ScanID string `json:"scan_id"`
	Status string `json:"status,omitempty"`
}

// ScanResult is the (possibly still running) state of a scan. Results is a
// list of per-scanner result blocks, each holding its own vulnerability list.
type ScanResult struct {
	ScanID  string            `json:"scan_id"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Results []ScannerFindings `json:"results,omitempty"`
}

// ScannerFindings is one scanner's block inside a scan result.
type ScannerFindings struct {
	ScanType        string          `json:"scan_type,omitempty"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
}

// Scan result status values reported by the scan collaborator.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
)

// Vulnerabilities flattens the nested per-scanner findings into one list.
func (r *ScanResult) Vulnerabilities() []Vulnerability {
	var out []Vulnerability
	for _, block := range r.Results {
		out = append(out, block.Vulnerabilities...)
	}
	return out
}

// AssessRequest is the payload sent to the assessment collaborator.
type AssessRequest struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Repository      string          `json:"repository"`
	BusinessContext map[string]any  `json:"business_context,omitempty"`
}

// AssessResult is the assessment collaborator's response.
type AssessResult struct {
	AssessmentID string            `json:"assessment_id"`
	Assessments  []Assessment      `json:"assessments"`
	Summary      AssessmentSummary `json:"summary"`
}

// RemediateRequest is the payload for batch remediation.
type RemediateRequest struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Repository      string          `json:"repository"`
	Branch          string          `json:"branch"`
	AutoCreatePR    bool            `json:"auto_create_pr"`
}

// RemediateResult is the remediation collaborator's response.
type RemediateResult struct {
	BatchID        string `json:"batch_id"`
	FixesGenerated int    `json:"fixes_generated"`
	PRsCreated     int    `json:"prs_created"`
}
