// Package engine drives remediation workflows through their fixed step
// sequence: scan, assess, decide, remediate, complete. Each workflow runs on
// its own goroutine; a workflow that reaches the approval gate parks by
// letting that goroutine exit, and ResolveApproval finishes the run inline.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/audit"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/config"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/hitl"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// Collaborator is the slice of the agent client the engine depends on.
type Collaborator interface {
	TriggerScan(ctx context.Context, req models.ScanRequest) (*models.ScanTrigger, error)
	PollScan(ctx context.Context, scanID string, ceiling time.Duration) (*models.ScanResult, error)
	Assess(ctx context.Context, req models.AssessRequest) (*models.AssessResult, error)
	RemediateBatch(ctx context.Context, req models.RemediateRequest) (*models.RemediateResult, error)
}

// Policy is the deterministic remediation decision table. It is fixed at
// startup; per-workflow auto_remediate only gates the P3/P4 row.
type Policy struct {
	RequireApprovalP0P1 bool
	AutoRemediateP2     bool
	AutoRemediateP3P4   bool
	AutoCreatePR        bool
}

// errHalted signals that a stage observed a terminal workflow and the run
// should stop without reporting a failure.
var errHalted = errors.New("workflow halted")

// Engine orchestrates workflow execution.
type Engine struct {
	store     repository.WorkflowStore
	approvals *hitl.Service
	agents    Collaborator
	auditLog  *audit.Log
	logger    *logging.Logger
	metrics   *engineMetrics

	policy      Policy
	scanCeiling time.Duration
	expiryHours int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds the engine with the policy table and timing knobs from cfg.
func New(cfg *config.Config, store repository.WorkflowStore, approvals *hitl.Service, agents Collaborator, auditLog *audit.Log, logger *logging.Logger) (*Engine, error) {
	m, err := newEngineMetrics()
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:     store,
		approvals: approvals,
		agents:    agents,
		auditLog:  auditLog,
		logger:    logger,
		metrics:   m,
		policy: Policy{
			RequireApprovalP0P1: cfg.Workflow.RequireApprovalP0P1,
			AutoRemediateP2:     cfg.Workflow.AutoRemediateP2,
			AutoRemediateP3P4:   cfg.Workflow.AutoRemediateP3P4,
			AutoCreatePR:        cfg.Workflow.AutoCreatePR,
		},
		scanCeiling: cfg.ScanWaitCeiling(),
		expiryHours: cfg.Workflow.ApprovalExpiryHours,
		cancels:     make(map[string]context.CancelFunc),
	}, nil
}

// StartWorkflow validates the request, persists a new PENDING workflow with
// all five steps, and launches its execution goroutine.
func (e *Engine) StartWorkflow(ctx context.Context, req models.WorkflowRequest, triggeredBy string) (*models.Workflow, error) {
	if req.Repository == "" {
		return nil, errs.Validation("repository is required")
	}
	req.Normalize()

	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:          uuid.New().String(),
		Repository:  req.Repository,
		Branch:      req.Branch,
		Status:      models.WorkflowStatusPending,
		CurrentStep: models.StepScan,
		Steps:       newSteps(),
		CreatedAt:   now,
		UpdatedAt:   now,
		TriggeredBy: triggeredBy,
		Metadata: models.WorkflowMetadata{
			ScanTypes:     req.ScanTypes,
			AutoRemediate: *req.AutoRemediate,
			Notify:        *req.Notify,
		},
	}

	if err := e.store.Create(ctx, wf); err != nil {
		return nil, err
	}
	e.metrics.recordStarted(ctx, wf.Repository)
	e.logger.Info("workflow started",
		"workflow_id", wf.ID,
		"repository", wf.Repository,
		"branch", wf.Branch,
		"triggered_by", triggeredBy,
	)

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[wf.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(runCtx, wf.ID)

	return wf, nil
}

func newSteps() []models.WorkflowStep {
	actions := map[string]models.StepAction{
		models.StepScan:      models.StepActionScan,
		models.StepAssess:    models.StepActionAssess,
		models.StepDecide:    models.StepActionAutoRemediate,
		models.StepRemediate: models.StepActionAutoRemediate,
		models.StepComplete:  models.StepActionComplete,
	}
	agents := map[string]string{
		models.StepScan:      models.AgentScanner,
		models.StepAssess:    models.AgentAssessment,
		models.StepRemediate: models.AgentRemediation,
	}
	steps := make([]models.WorkflowStep, 0, len(models.StepOrder))
	for _, id := range models.StepOrder {
		steps = append(steps, models.WorkflowStep{
			StepID: id,
			Action: actions[id],
			Status: models.StepStatusPending,
			Agent:  agents[id],
		})
	}
	return steps
}

// run executes one workflow to completion, the approval gate, or failure.
func (e *Engine) run(ctx context.Context, id string) {
	defer e.wg.Done()
	defer e.releaseCancel(id)
	defer func() {
		if r := recover(); r != nil {
			e.failWorkflow(context.Background(), id, "", fmt.Errorf("panic: %v", r))
		}
	}()

	wf, err := e.executeScan(ctx, id)
	if err != nil {
		e.handleStageError(ctx, id, models.StepScan, err)
		return
	}

	wf, err = e.executeAssessment(ctx, id)
	if err != nil {
		e.handleStageError(ctx, id, models.StepAssess, err)
		return
	}
	if wf.Status == models.WorkflowStatusCompleted {
		// Clean scan, nothing to decide.
		return
	}

	wf, err = e.executeDecision(ctx, id)
	if err != nil {
		e.handleStageError(ctx, id, models.StepRemediate, err)
		return
	}
	if wf.Status == models.WorkflowStatusAwaitingApproval {
		// Parked at the gate. ResolveApproval picks the run back up.
		return
	}

	if err := e.completeWorkflow(ctx, id); err != nil {
		e.handleStageError(ctx, id, models.StepComplete, err)
	}
}

func (e *Engine) handleStageError(ctx context.Context, id, stepID string, err error) {
	if errors.Is(err, errHalted) || errors.Is(err, context.Canceled) {
		e.logger.Info("workflow run stopped", "workflow_id", id)
		return
	}
	e.failWorkflow(ctx, id, stepID, err)
}

// executeScan triggers a scan and waits, bounded, for its completion.
func (e *Engine) executeScan(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := e.beginStep(ctx, id, models.StepScan, models.WorkflowStatusScanning)
	if err != nil {
		return nil, err
	}

	e.auditLog.Append(audit.Record{
		Action:     models.AuditScanStarted,
		Actor:      "orchestrator",
		WorkflowID: id,
		Details: map[string]any{
			"repository": wf.Repository,
			"branch":     wf.Branch,
			"scan_types": wf.Metadata.ScanTypes,
		},
	})

	trigger, err := e.agents.TriggerScan(ctx, models.ScanRequest{
		Repository: wf.Repository,
		Branch:     wf.Branch,
		ScanTypes:  wf.Metadata.ScanTypes,
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		w.ScanID = trigger.ScanID
		return nil
	}); err != nil {
		return nil, err
	}

	result, err := e.agents.PollScan(ctx, trigger.ScanID, e.scanCeiling)
	if err != nil {
		return nil, err
	}
	vulns := result.Vulnerabilities()

	wf, err = e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		w.TotalVulnerabilities = len(vulns)
		completeStep(w.Step(models.StepScan), map[string]any{
			"scan_id":             result.ScanID,
			"vulnerability_count": len(vulns),
			"vulnerabilities":     vulns,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.auditLog.Append(audit.Record{
		Action:     models.AuditScanCompleted,
		Actor:      models.AgentScanner,
		WorkflowID: id,
		Details: map[string]any{
			"scan_id":             result.ScanID,
			"vulnerability_count": len(vulns),
		},
	})
	for _, v := range vulns {
		e.auditLog.Append(audit.Record{
			Action:          models.AuditVulnerabilityDetected,
			Actor:           models.AgentScanner,
			WorkflowID:      id,
			VulnerabilityID: v.ID,
			Details:         map[string]any{"severity": v.Severity, "title": v.Title},
		})
	}
	return wf, nil
}

// executeAssessment sends the scan findings for prioritization. A clean scan
// short-circuits the workflow straight to COMPLETED.
func (e *Engine) executeAssessment(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := e.beginStep(ctx, id, models.StepAssess, models.WorkflowStatusAssessing)
	if err != nil {
		return nil, err
	}

	vulns, err := vulnerabilitiesFromStep(wf.Step(models.StepScan))
	if err != nil {
		return nil, err
	}

	if len(vulns) == 0 {
		wf, err = e.store.Update(ctx, id, func(w *models.Workflow) error {
			if w.Status.Terminal() {
				return errHalted
			}
			completeStep(w.Step(models.StepAssess), map[string]any{
				"assessments": []models.Assessment{},
				"message":     "no vulnerabilities found",
			})
			skipStep(w.Step(models.StepDecide), "no vulnerabilities to act on")
			skipStep(w.Step(models.StepRemediate), "no vulnerabilities to act on")
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := e.completeWorkflow(ctx, id); err != nil {
			return nil, err
		}
		return e.store.Get(ctx, id)
	}

	result, err := e.agents.Assess(ctx, models.AssessRequest{
		Vulnerabilities: vulns,
		Repository:      wf.Repository,
	})
	if err != nil {
		return nil, err
	}

	wf, err = e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		w.AssessmentID = result.AssessmentID
		w.CriticalCount = result.Summary[models.PriorityP0]
		w.HighCount = result.Summary[models.PriorityP1]
		completeStep(w.Step(models.StepAssess), map[string]any{
			"assessment_id": result.AssessmentID,
			"assessments":   result.Assessments,
			"summary":       result.Summary,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.auditLog.Append(audit.Record{
		Action:     models.AuditAssessmentCompleted,
		Actor:      models.AgentAssessment,
		WorkflowID: id,
		Details: map[string]any{
			"assessment_id": result.AssessmentID,
			"critical":      result.Summary[models.PriorityP0],
			"high":          result.Summary[models.PriorityP1],
		},
	})
	return wf, nil
}

// executeDecision applies the policy table to every assessed finding,
// dispatches the auto-remediable batch, and opens an approval request for
// the batch that needs a human.
func (e *Engine) executeDecision(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := e.beginStep(ctx, id, models.StepDecide, models.WorkflowStatusRemediating)
	if err != nil {
		return nil, err
	}

	assessments, err := assessmentsFromStep(wf.Step(models.StepAssess))
	if err != nil {
		return nil, err
	}

	var auto, needApproval []models.Assessment
	var skipped []string
	for _, a := range assessments {
		switch priorityOf(a) {
		case models.PriorityP0, models.PriorityP1:
			if e.policy.RequireApprovalP0P1 {
				needApproval = append(needApproval, a)
			} else {
				auto = append(auto, a)
			}
		case models.PriorityP2:
			if e.policy.AutoRemediateP2 {
				auto = append(auto, a)
			} else {
				needApproval = append(needApproval, a)
			}
		default: // P3, P4
			if e.policy.AutoRemediateP3P4 && wf.Metadata.AutoRemediate {
				auto = append(auto, a)
			} else {
				skipped = append(skipped, a.VulnerabilityID)
			}
		}
	}

	decision := map[string]any{
		"auto_remediated":   len(auto),
		"awaiting_approval": len(needApproval),
		"skipped":           len(skipped),
		"skipped_ids":       skipped,
	}
	if _, err := e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		completeStep(w.Step(models.StepDecide), decision)
		return nil
	}); err != nil {
		return nil, err
	}

	var remediated *models.RemediateResult
	if len(auto) > 0 {
		remediated, err = e.remediate(ctx, wf, auto, "policy")
		if err != nil {
			return nil, err
		}
	}

	if len(needApproval) > 0 {
		return e.parkForApproval(ctx, wf, needApproval, remediated)
	}

	return e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		applyRemediation(w, remediated)
		if step := w.Step(models.StepRemediate); !step.Status.Terminal() {
			completeStep(step, remediateOutput(remediated))
		}
		return nil
	})
}

// remediate submits one batch to the remediation collaborator and audits
// both edges of the call.
func (e *Engine) remediate(ctx context.Context, wf *models.Workflow, batch []models.Assessment, reason string) (*models.RemediateResult, error) {
	vulns := make([]models.Vulnerability, len(batch))
	ids := make([]string, len(batch))
	for i, a := range batch {
		vulns[i] = a.Vulnerability()
		ids[i] = a.VulnerabilityID
	}

	if _, err := e.store.Update(ctx, wf.ID, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		step := w.Step(models.StepRemediate)
		step.Status = models.StepStatusInProgress
		now := time.Now().UTC()
		step.StartedAt = &now
		step.Input = map[string]any{"vulnerability_ids": ids, "reason": reason}
		return nil
	}); err != nil {
		return nil, err
	}

	e.auditLog.Append(audit.Record{
		Action:     models.AuditRemediationStarted,
		Actor:      "orchestrator",
		WorkflowID: wf.ID,
		Details:    map[string]any{"vulnerability_count": len(vulns), "reason": reason},
	})

	result, err := e.agents.RemediateBatch(ctx, models.RemediateRequest{
		Vulnerabilities: vulns,
		Repository:      wf.Repository,
		Branch:          wf.Branch,
		AutoCreatePR:    e.policy.AutoCreatePR,
	})
	if err != nil {
		e.auditLog.Append(audit.Record{
			Action:     models.AuditRemediationFailed,
			Actor:      models.AgentRemediation,
			WorkflowID: wf.ID,
			Err:        err,
		})
		return nil, err
	}

	e.auditLog.Append(audit.Record{
		Action:     models.AuditRemediationCompleted,
		Actor:      models.AgentRemediation,
		WorkflowID: wf.ID,
		Details: map[string]any{
			"batch_id":        result.BatchID,
			"fixes_generated": result.FixesGenerated,
			"prs_created":     result.PRsCreated,
		},
	})
	return result, nil
}

// parkForApproval opens the approval request and moves the workflow to the
// gate. The execution goroutine exits after this returns.
func (e *Engine) parkForApproval(ctx context.Context, wf *models.Workflow, batch []models.Assessment, remediated *models.RemediateResult) (*models.Workflow, error) {
	ids := make([]string, len(batch))
	top := models.PriorityP4
	for i, a := range batch {
		ids[i] = a.VulnerabilityID
		if p := priorityOf(a); p < top {
			top = p
		}
	}

	approval, err := e.approvals.Create(ctx, hitl.CreateRequest{
		WorkflowID:       wf.ID,
		Title:            fmt.Sprintf("Remediation approval: %s (%d vulnerabilities)", wf.Repository, len(batch)),
		Description:      fmt.Sprintf("Workflow %s requires approval to remediate %d %s-or-higher findings in %s.", wf.ID, len(batch), top, wf.Repository),
		VulnerabilityIDs: ids,
		Priority:         top,
		RiskSummary:      riskSummary(batch),
		RecommendedAction: fmt.Sprintf("Approve remediation of all %d findings on branch %s.",
			len(batch), wf.Branch),
		RequestedBy:    "orchestrator",
		ExpiresInHours: e.expiryHours,
		SkipNotify:     !wf.Metadata.Notify,
	})
	if err != nil {
		return nil, err
	}

	return e.store.Update(ctx, wf.ID, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		applyRemediation(w, remediated)
		w.Status = models.WorkflowStatusAwaitingApproval
		w.CurrentStep = models.StepRemediate
		w.AwaitingApproval = len(batch)
		step := w.Step(models.StepRemediate)
		step.Status = models.StepStatusAwaitingApproval
		if step.Input == nil {
			step.Input = map[string]any{}
		}
		step.Input["approval_id"] = approval.ID
		step.Input["pending_vulnerability_ids"] = ids
		return nil
	})
}

// ResolveApproval records the human decision and finishes the parked
// workflow inline on the caller's goroutine.
func (e *Engine) ResolveApproval(ctx context.Context, approvalID string, vulnerabilityIDs []string, decision models.ApprovalDecision) (*models.Workflow, error) {
	approval, err := e.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	wf, err := e.store.Get(ctx, approval.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return nil, errs.InvalidState("workflow %s already %s", wf.ID, wf.Status)
	}

	// Decide first: the store serializes concurrent resolvers and the loser
	// gets ErrInvalidState before any workflow state moves.
	approval, err = e.approvals.Decide(ctx, approvalID, decision)
	if err != nil {
		return nil, err
	}

	var remediated *models.RemediateResult
	if decision.Approved {
		subset := vulnerabilityIDs
		if len(subset) == 0 {
			subset = approval.VulnerabilityIDs
		}
		batch, err := e.approvedBatch(wf, subset)
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			remediated, err = e.remediate(ctx, wf, batch, "approved by "+decision.Resolver)
			if errors.Is(err, errHalted) {
				return nil, errs.InvalidState("workflow %s is no longer active", wf.ID)
			}
			if err != nil {
				e.failWorkflow(ctx, wf.ID, models.StepRemediate, err)
				return nil, err
			}
		}
	}

	wf, err = e.store.Update(ctx, wf.ID, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			// Cancelled between the entry check and this update.
			return errs.InvalidState("workflow %s already %s", w.ID, w.Status)
		}
		applyRemediation(w, remediated)
		w.AwaitingApproval = 0
		step := w.Step(models.StepRemediate)
		out := remediateOutput(remediated)
		out["approval_id"] = approvalID
		out["approved"] = decision.Approved
		completeStep(step, out)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.completeWorkflow(ctx, wf.ID); err != nil {
		return nil, err
	}
	return e.store.Get(ctx, wf.ID)
}

// approvedBatch maps the approved vulnerability ids back onto the stored
// assessments so the remediation payload carries full findings.
func (e *Engine) approvedBatch(wf *models.Workflow, ids []string) ([]models.Assessment, error) {
	assessments, err := assessmentsFromStep(wf.Step(models.StepAssess))
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var batch []models.Assessment
	for _, a := range assessments {
		if want[a.VulnerabilityID] {
			batch = append(batch, a)
		}
	}
	return batch, nil
}

// CancelWorkflow requests cancellation of a non-terminal workflow. The
// running stage observes the flag at its next store update; an in-flight
// collaborator call finishes but its result is discarded.
func (e *Engine) CancelWorkflow(ctx context.Context, id, actor string) (*models.Workflow, error) {
	wf, err := e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errs.InvalidState("workflow %s already %s", id, w.Status)
		}
		now := time.Now().UTC()
		w.Status = models.WorkflowStatusCancelled
		w.CompletedAt = &now
		w.CurrentStep = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	e.auditLog.Append(audit.Record{
		Action:     models.AuditWorkflowCancelled,
		Actor:      actor,
		WorkflowID: id,
	})
	e.logger.Info("workflow cancelled", "workflow_id", id, "actor", actor)
	return wf, nil
}

// GetWorkflow returns one workflow aggregate.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	return e.store.Get(ctx, id)
}

// ListWorkflows returns workflows matching the filter, newest first.
func (e *Engine) ListWorkflows(ctx context.Context, f repository.WorkflowFilter) ([]*models.Workflow, error) {
	return e.store.List(ctx, f)
}

// DeleteWorkflow removes a workflow record. Administrative use only.
func (e *Engine) DeleteWorkflow(ctx context.Context, id string) error {
	return e.store.Delete(ctx, id)
}

// Wait blocks until every execution goroutine has exited. Used on shutdown
// and in tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// beginStep transitions the workflow into the given status and marks the
// step in progress. It refuses terminal workflows with errHalted.
func (e *Engine) beginStep(ctx context.Context, id, stepID string, status models.WorkflowStatus) (*models.Workflow, error) {
	return e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		w.Status = status
		w.CurrentStep = stepID
		step := w.Step(stepID)
		step.Status = models.StepStatusInProgress
		now := time.Now().UTC()
		step.StartedAt = &now
		return nil
	})
}

// completeWorkflow closes out a fully processed workflow.
func (e *Engine) completeWorkflow(ctx context.Context, id string) error {
	wf, err := e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		now := time.Now().UTC()
		w.Status = models.WorkflowStatusCompleted
		w.CurrentStep = ""
		w.CompletedAt = &now
		step := w.Step(models.StepComplete)
		completeStep(step, map[string]any{
			"total_vulnerabilities": w.TotalVulnerabilities,
			"auto_remediated":       w.AutoRemediated,
		})
		return nil
	})
	if err != nil {
		return err
	}

	e.auditLog.Append(audit.Record{
		Action:     models.AuditWorkflowCompleted,
		Actor:      "orchestrator",
		WorkflowID: id,
		Details: map[string]any{
			"total_vulnerabilities": wf.TotalVulnerabilities,
			"auto_remediated":       wf.AutoRemediated,
			"critical":              wf.CriticalCount,
			"high":                  wf.HighCount,
		},
	})
	e.metrics.recordCompleted(ctx)
	e.logger.Info("workflow completed", "workflow_id", id, "auto_remediated", wf.AutoRemediated)
	return nil
}

// failWorkflow marks the current step and the workflow failed. A workflow
// that already reached a terminal state is left untouched.
func (e *Engine) failWorkflow(ctx context.Context, id, stepID string, cause error) {
	_, err := e.store.Update(ctx, id, func(w *models.Workflow) error {
		if w.Status.Terminal() {
			return errHalted
		}
		now := time.Now().UTC()
		w.Status = models.WorkflowStatusFailed
		w.CompletedAt = &now
		if stepID != "" {
			if step := w.Step(stepID); step != nil && !step.Status.Terminal() {
				step.Status = models.StepStatusFailed
				step.ErrorMessage = cause.Error()
				step.CompletedAt = &now
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errHalted) {
			e.logger.Error("failed to record workflow failure", "workflow_id", id, "error", err)
		}
		return
	}

	e.auditLog.Append(audit.Record{
		Action:     models.AuditWorkflowFailed,
		Actor:      "orchestrator",
		WorkflowID: id,
		Details:    map[string]any{"step": stepID},
		Err:        cause,
	})
	e.metrics.recordFailed(ctx, stepID)
	e.logger.Error("workflow failed", "workflow_id", id, "step", stepID, "error", cause)
}

func (e *Engine) releaseCancel(id string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()
}

func completeStep(step *models.WorkflowStep, output map[string]any) {
	now := time.Now().UTC()
	step.Status = models.StepStatusCompleted
	step.Output = output
	step.CompletedAt = &now
}

func skipStep(step *models.WorkflowStep, reason string) {
	now := time.Now().UTC()
	step.Status = models.StepStatusSkipped
	step.Output = map[string]any{"reason": reason}
	step.CompletedAt = &now
}

func applyRemediation(w *models.Workflow, r *models.RemediateResult) {
	if r == nil {
		return
	}
	w.AutoRemediated += r.FixesGenerated
	if r.BatchID != "" {
		w.RemediationIDs = append(w.RemediationIDs, r.BatchID)
	}
}

func remediateOutput(r *models.RemediateResult) map[string]any {
	if r == nil {
		return map[string]any{"fixes_generated": 0}
	}
	return map[string]any{
		"batch_id":        r.BatchID,
		"fixes_generated": r.FixesGenerated,
		"prs_created":     r.PRsCreated,
	}
}

func priorityOf(a models.Assessment) models.Priority {
	if a.Priority == "" {
		return models.PriorityP2
	}
	return a.Priority
}

func riskSummary(batch []models.Assessment) string {
	counts := map[models.Priority]int{}
	for _, a := range batch {
		counts[priorityOf(a)]++
	}
	parts := make([]string, 0, len(counts))
	for _, p := range []models.Priority{models.PriorityP0, models.PriorityP1, models.PriorityP2, models.PriorityP3, models.PriorityP4} {
		if n := counts[p]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, p))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

// vulnerabilitiesFromStep decodes the vulnerability list out of a step's
// output. The round trip through JSON makes the read independent of whether
// the aggregate came from memory or a database document.
func vulnerabilitiesFromStep(step *models.WorkflowStep) ([]models.Vulnerability, error) {
	var out []models.Vulnerability
	if err := decodeOutput(step, "vulnerabilities", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func assessmentsFromStep(step *models.WorkflowStep) ([]models.Assessment, error) {
	var out []models.Assessment
	if err := decodeOutput(step, "assessments", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeOutput(step *models.WorkflowStep, key string, out any) error {
	if step == nil || step.Output == nil {
		return nil
	}
	raw, ok := step.Output[key]
	if !ok || raw == nil {
		return nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode step output %q: %w", key, err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode step output %q: %w", key, err)
	}
	return nil
}
