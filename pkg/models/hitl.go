package models

import "time"

// ApprovalStatus is the lifecycle state of an approval request. A request
// leaves pending exactly once.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// ApprovalType classifies what kind of sign-off is being requested.
type ApprovalType string

const (
	ApprovalTypeRemediation ApprovalType = "remediation"
	ApprovalTypeDeployment  ApprovalType = "deployment"
	ApprovalTypeException   ApprovalType = "exception"
	ApprovalTypeEscalation  ApprovalType = "escalation"
)

// ApprovalRequest asks a human to sign off on a batch of vulnerabilities.
// Once resolved it is never mutated again.
type ApprovalRequest struct {
	ID         string         `json:"approval_id"`
	WorkflowID string         `json:"workflow_id"`
	Type       ApprovalType   `json:"approval_type"`
	Status     ApprovalStatus `json:"status"`

	Title            string   `json:"title"`
	Description      string   `json:"description"`
	VulnerabilityIDs []string `json:"vulnerability_ids"`

	Priority          Priority `json:"priority"`
	RiskSummary       string   `json:"risk_summary,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`

	RequestedBy string     `json:"requested_by"`
	RequestedAt time.Time  `json:"requested_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	ResolvedBy        string     `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolutionComment string     `json:"resolution_comment,omitempty"`
}

// ExpiredAt reports whether the request's deadline has passed at now while
// it is still pending. Expiry is applied lazily on read.
func (a *ApprovalRequest) ExpiredAt(now time.Time) bool {
	return a.Status == ApprovalStatusPending && a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

// Clone returns a deep copy of the approval request.
func (a *ApprovalRequest) Clone() *ApprovalRequest {
	cp := *a
	cp.VulnerabilityIDs = append([]string(nil), a.VulnerabilityIDs...)
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// ApprovalDecision is the payload resolving an approval request.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Resolver string `json:"resolver"`
	Comment  string `json:"comment,omitempty"`
}

// AuditAction enumerates every lifecycle event the audit trail records.
type AuditAction string

const (
	AuditScanStarted           AuditAction = "scan_started"
	AuditScanCompleted         AuditAction = "scan_completed"
	AuditVulnerabilityDetected AuditAction = "vulnerability_detected"
	AuditAssessmentCompleted   AuditAction = "assessment_completed"
	AuditApprovalRequested     AuditAction = "approval_requested"
	AuditApprovalGranted       AuditAction = "approval_granted"
	AuditApprovalDenied        AuditAction = "approval_denied"
	AuditRemediationStarted    AuditAction = "remediation_started"
	AuditRemediationCompleted  AuditAction = "remediation_completed"
	AuditRemediationFailed     AuditAction = "remediation_failed"
	AuditCommentAdded          AuditAction = "comment_added"
	AuditWorkflowCompleted     AuditAction = "workflow_completed"
	AuditWorkflowFailed        AuditAction = "workflow_failed"
	AuditWorkflowCancelled     AuditAction = "workflow_cancelled"
)

// AuditLogEntry is one immutable fact in the audit trail.
type AuditLogEntry struct {
	ID        string      `json:"entry_id"`
	Timestamp time.Time   `json:"timestamp"`
	Action    AuditAction `json:"action"`
	Actor     string      `json:"actor"`

	WorkflowID      string `json:"workflow_id,omitempty"`
	VulnerabilityID string `json:"vulnerability_id,omitempty"`
	ApprovalID      string `json:"approval_id,omitempty"`

	Details map[string]any `json:"details,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Comment is an annotation on a workflow, vulnerability, or approval.
// Only the original author may edit it, and only its content.
type Comment struct {
	ID         string     `json:"comment_id"`
	TargetType string     `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Author     string     `json:"author"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	Mentions   []string   `json:"mentions,omitempty"`
}
