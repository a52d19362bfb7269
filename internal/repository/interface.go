// Package repository provides the durable stores for workflow and approval
// aggregates. Both stores guarantee single-writer-per-aggregate updates:
// the mutate callback passed to Update runs while holding that aggregate's
// lock, so concurrent writers to the same id are serialized.
package repository

import (
	"context"

	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// WorkflowFilter narrows List results. Zero fields match everything.
type WorkflowFilter struct {
	Status     models.WorkflowStatus
	Repository string
	Limit      int
}

// WorkflowStore persists workflow aggregates keyed by workflow id.
type WorkflowStore interface {
	// Create stores a new workflow. The id must not already exist.
	Create(ctx context.Context, wf *models.Workflow) error
	// Get returns a copy of the workflow, or errs.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Workflow, error)
	// Update applies mutate to the workflow under the aggregate's lock and
	// persists the result. If mutate returns an error nothing is written.
	Update(ctx context.Context, id string, mutate func(*models.Workflow) error) (*models.Workflow, error)
	// List returns workflows matching the filter, newest first.
	List(ctx context.Context, f WorkflowFilter) ([]*models.Workflow, error)
	// Delete removes a workflow. Administrative use only; workflows are
	// otherwise retained for audit.
	Delete(ctx context.Context, id string) error
}

// ApprovalFilter narrows approval List results.
type ApprovalFilter struct {
	Status     models.ApprovalStatus
	WorkflowID string
	Priority   models.Priority
	Limit      int
}

// ApprovalStore persists approval requests keyed by approval id.
type ApprovalStore interface {
	Create(ctx context.Context, a *models.ApprovalRequest) error
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, id string, mutate func(*models.ApprovalRequest) error) (*models.ApprovalRequest, error)
	List(ctx context.Context, f ApprovalFilter) ([]*models.ApprovalRequest, error)
}
