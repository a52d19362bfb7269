// Package models defines the domain models for the orchestrator service.
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusPending          WorkflowStatus = "pending"
	WorkflowStatusScanning         WorkflowStatus = "scanning"
	WorkflowStatusAssessing        WorkflowStatus = "assessing"
	WorkflowStatusAwaitingApproval WorkflowStatus = "awaiting_approval"
	WorkflowStatusRemediating      WorkflowStatus = "remediating"
	WorkflowStatusCompleted        WorkflowStatus = "completed"
	WorkflowStatusFailed           WorkflowStatus = "failed"
	WorkflowStatusCancelled        WorkflowStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the state of a single workflow step.
type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusInProgress       StepStatus = "in_progress"
	StepStatusAwaitingApproval StepStatus = "awaiting_approval"
	StepStatusCompleted        StepStatus = "completed"
	StepStatusFailed           StepStatus = "failed"
	StepStatusSkipped          StepStatus = "skipped"
)

// Terminal reports whether a step in this state may no longer advance.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// StepAction identifies the kind of work a step performs.
type StepAction string

const (
	StepActionScan            StepAction = "scan"
	StepActionAssess          StepAction = "assess"
	StepActionAutoRemediate   StepAction = "auto_remediate"
	StepActionRequestApproval StepAction = "request_approval"
	StepActionComplete        StepAction = "complete"
)

// Fixed step identifiers, in execution order.
const (
	StepScan      = "scan"
	StepAssess    = "assess"
	StepDecide    = "decide"
	StepRemediate = "remediate"
	StepComplete  = "complete"
)

// StepOrder is the fixed total order of workflow steps.
var StepOrder = []string{StepScan, StepAssess, StepDecide, StepRemediate, StepComplete}

// WorkflowStep is a single stage within a workflow.
type WorkflowStep struct {
	StepID       string         `json:"step_id"`
	Action       StepAction     `json:"action"`
	Status       StepStatus     `json:"status"`
	Agent        string         `json:"agent,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Workflow is the aggregate root for one remediation pipeline run.
type Workflow struct {
	ID         string `json:"workflow_id"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`

	Status      WorkflowStatus `json:"status"`
	CurrentStep string         `json:"current_step,omitempty"`
	Steps       []WorkflowStep `json:"steps"`

	// Downstream artifact references.
	ScanID         string   `json:"scan_id,omitempty"`
	AssessmentID   string   `json:"assessment_id,omitempty"`
	RemediationIDs []string `json:"remediation_ids,omitempty"`

	// Vulnerability counters.
	TotalVulnerabilities int `json:"total_vulnerabilities"`
	CriticalCount        int `json:"critical_count"`
	HighCount            int `json:"high_count"`

	// Decision counters.
	AutoRemediated   int `json:"auto_remediated"`
	AwaitingApproval int `json:"awaiting_approval"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	TriggeredBy string           `json:"triggered_by"`
	Metadata    WorkflowMetadata `json:"metadata"`
}

// WorkflowMetadata carries the caller-supplied run options.
type WorkflowMetadata struct {
	ScanTypes     []string `json:"scan_types"`
	AutoRemediate bool     `json:"auto_remediate"`
	Notify        bool     `json:"notify"`
}

// Step returns the step with the given id, or nil.
func (w *Workflow) Step(stepID string) *WorkflowStep {
	for i := range w.Steps {
		if w.Steps[i].StepID == stepID {
			return &w.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy so store reads never alias the stored aggregate.
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Steps = make([]WorkflowStep, len(w.Steps))
	for i, s := range w.Steps {
		cp.Steps[i] = s
		cp.Steps[i].Input = cloneMap(s.Input)
		cp.Steps[i].Output = cloneMap(s.Output)
		if s.StartedAt != nil {
			t := *s.StartedAt
			cp.Steps[i].StartedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			cp.Steps[i].CompletedAt = &t
		}
	}
	cp.RemediationIDs = append([]string(nil), w.RemediationIDs...)
	cp.Metadata.ScanTypes = append([]string(nil), w.Metadata.ScanTypes...)
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// WorkflowRequest is the payload to start a workflow.
type WorkflowRequest struct {
	Repository    string   `json:"repository"`
	Branch        string   `json:"branch"`
	ScanTypes     []string `json:"scan_types"`
	AutoRemediate *bool    `json:"auto_remediate,omitempty"`
	Notify        *bool    `json:"notify,omitempty"`
}

// DefaultScanTypes lists every scanner the platform knows about.
var DefaultScanTypes = []string{"dependency", "code", "secret", "container", "iac"}

// Normalize fills in request defaults. AutoRemediate and Notify default to
// true when the caller omits them.
func (r *WorkflowRequest) Normalize() {
	if r.Branch == "" {
		r.Branch = "main"
	}
	if len(r.ScanTypes) == 0 {
		r.ScanTypes = append([]string(nil), DefaultScanTypes...)
	}
	if r.AutoRemediate == nil {
		v := true
		r.AutoRemediate = &v
	}
	if r.Notify == nil {
		v := true
		r.Notify = &v
	}
}
