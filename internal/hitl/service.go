// Package hitl implements the human-in-the-loop approval subsystem. It owns
// every mutation of ApprovalRequest aggregates; the workflow engine only
// reads resolved approvals back.
package hitl

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/audit"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/notifications"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// CreateRequest is the input for Create.
type CreateRequest struct {
	WorkflowID        string          `json:"workflow_id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	VulnerabilityIDs  []string        `json:"vulnerability_ids"`
	Priority          models.Priority `json:"priority"`
	RiskSummary       string          `json:"risk_summary"`
	RecommendedAction string          `json:"recommended_action"`
	RequestedBy       string          `json:"requested_by"`
	ExpiresInHours    int             `json:"expires_in_hours"`

	// SkipNotify suppresses the outbound notification. Workflows that were
	// started with notifications disabled set this.
	SkipNotify bool `json:"-"`
}

// Service coordinates approval requests and their resolution.
type Service struct {
	store         repository.ApprovalStore
	auditLog      *audit.Log
	notifier      notifications.Notifier
	defaultExpiry time.Duration
	logger        *logging.Logger
}

// NewService creates the approval service.
func NewService(store repository.ApprovalStore, auditLog *audit.Log, notifier notifications.Notifier, defaultExpiry time.Duration, logger *logging.Logger) *Service {
	return &Service{
		store:         store,
		auditLog:      auditLog,
		notifier:      notifier,
		defaultExpiry: defaultExpiry,
		logger:        logger,
	}
}

// Create registers a pending approval request and dispatches the
// notification in the background. Notification failure never fails creation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.ApprovalRequest, error) {
	if req.WorkflowID == "" {
		return nil, errs.Validation("workflow_id is required")
	}
	if req.Title == "" {
		return nil, errs.Validation("title is required")
	}

	expiry := s.defaultExpiry
	if req.ExpiresInHours > 0 {
		expiry = time.Duration(req.ExpiresInHours) * time.Hour
	}
	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = "system"
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityP2
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiry)

	approval := &models.ApprovalRequest{
		ID:                uuid.New().String(),
		WorkflowID:        req.WorkflowID,
		Type:              models.ApprovalTypeRemediation,
		Status:            models.ApprovalStatusPending,
		Title:             req.Title,
		Description:       req.Description,
		VulnerabilityIDs:  req.VulnerabilityIDs,
		Priority:          priority,
		RiskSummary:       req.RiskSummary,
		RecommendedAction: req.RecommendedAction,
		RequestedBy:       requestedBy,
		RequestedAt:       now,
		ExpiresAt:         &expiresAt,
	}

	if err := s.store.Create(ctx, approval); err != nil {
		return nil, err
	}

	s.auditLog.Append(audit.Record{
		Action:     models.AuditApprovalRequested,
		Actor:      requestedBy,
		WorkflowID: req.WorkflowID,
		ApprovalID: approval.ID,
		Details: map[string]any{
			"priority":            string(priority),
			"vulnerability_count": len(req.VulnerabilityIDs),
		},
	})

	// Fire-and-forget: the request is created whether or not anyone hears
	// about it.
	if !req.SkipNotify {
		go s.notify(approval.Clone())
	}

	s.logger.Info("approval request created", "approval_id", approval.ID, "workflow_id", req.WorkflowID)

	return approval, nil
}

func (s *Service) notify(a *models.ApprovalRequest) {
	nctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.notifier.ApprovalRequested(nctx, a); err != nil {
		s.logger.Warn("approval notification failed", "approval_id", a.ID, "error", err)
	}
}

// Get returns one approval request, applying lazy expiry.
func (s *Service) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	approval, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.expireIfDue(ctx, approval)
}

// List returns approvals matching the filter, newest first, applying lazy
// expiry to each pending entry.
func (s *Service) List(ctx context.Context, f repository.ApprovalFilter) ([]*models.ApprovalRequest, error) {
	approvals, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := approvals[:0]
	for _, a := range approvals {
		a, err = s.expireIfDue(ctx, a)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ListPending returns only requests that are still actionable.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*models.ApprovalRequest, error) {
	return s.List(ctx, repository.ApprovalFilter{Status: models.ApprovalStatusPending, Limit: limit})
}

// Decide resolves a pending approval exactly once. Concurrent decisions are
// serialized by the store's per-aggregate update; the loser observes
// errs.ErrInvalidState.
func (s *Service) Decide(ctx context.Context, id string, decision models.ApprovalDecision) (*models.ApprovalRequest, error) {
	if decision.Resolver == "" {
		return nil, errs.Validation("resolver is required")
	}

	approval, err := s.store.Update(ctx, id, func(a *models.ApprovalRequest) error {
		now := time.Now().UTC()
		if a.ExpiredAt(now) {
			return errs.InvalidState("approval %s has expired", id)
		}
		if a.Status != models.ApprovalStatusPending {
			return errs.InvalidState("approval %s already %s", id, a.Status)
		}
		if decision.Approved {
			a.Status = models.ApprovalStatusApproved
		} else {
			a.Status = models.ApprovalStatusRejected
		}
		a.ResolvedBy = decision.Resolver
		a.ResolvedAt = &now
		a.ResolutionComment = decision.Comment
		return nil
	})
	if err != nil {
		return nil, err
	}

	action := models.AuditApprovalGranted
	if !decision.Approved {
		action = models.AuditApprovalDenied
	}
	s.auditLog.Append(audit.Record{
		Action:     action,
		Actor:      decision.Resolver,
		WorkflowID: approval.WorkflowID,
		ApprovalID: approval.ID,
		Details: map[string]any{
			"decision": string(approval.Status),
			"comment":  decision.Comment,
		},
	})

	s.logger.Info("approval decision made",
		"approval_id", id,
		"approved", decision.Approved,
		"resolver", decision.Resolver,
	)

	return approval, nil
}

// expireIfDue flips a pending request past its deadline to expired. The
// write goes through the store so concurrent readers agree.
func (s *Service) expireIfDue(ctx context.Context, a *models.ApprovalRequest) (*models.ApprovalRequest, error) {
	if !a.ExpiredAt(time.Now().UTC()) {
		return a, nil
	}
	return s.store.Update(ctx, a.ID, func(stored *models.ApprovalRequest) error {
		if stored.ExpiredAt(time.Now().UTC()) {
			stored.Status = models.ApprovalStatusExpired
		}
		return nil
	})
}
