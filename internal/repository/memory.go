package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// MemoryWorkflowStore is the in-memory WorkflowStore. Each aggregate carries
// its own mutex, so updates to different workflows never contend.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*workflowEntry
}

type workflowEntry struct {
	mu sync.Mutex
	wf *models.Workflow
}

// NewMemoryWorkflowStore creates an empty in-memory workflow store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*workflowEntry)}
}

// Create stores a new workflow.
func (s *MemoryWorkflowStore) Create(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return errs.InvalidState("workflow %s already exists", wf.ID)
	}
	s.workflows[wf.ID] = &workflowEntry{wf: wf.Clone()}
	return nil
}

// Get returns a copy of the workflow.
func (s *MemoryWorkflowStore) Get(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	entry, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("workflow", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.wf.Clone(), nil
}

// Update applies mutate under the aggregate's lock.
func (s *MemoryWorkflowStore) Update(_ context.Context, id string, mutate func(*models.Workflow) error) (*models.Workflow, error) {
	s.mu.RLock()
	entry, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("workflow", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.wf.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	entry.wf = next
	return next.Clone(), nil
}

// List returns workflows matching the filter, newest first.
func (s *MemoryWorkflowStore) List(_ context.Context, f WorkflowFilter) ([]*models.Workflow, error) {
	s.mu.RLock()
	entries := make([]*workflowEntry, 0, len(s.workflows))
	for _, e := range s.workflows {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*models.Workflow
	for _, e := range entries {
		e.mu.Lock()
		wf := e.wf.Clone()
		e.mu.Unlock()
		if f.Status != "" && wf.Status != f.Status {
			continue
		}
		if f.Repository != "" && wf.Repository != f.Repository {
			continue
		}
		out = append(out, wf)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a workflow.
func (s *MemoryWorkflowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return errs.NotFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

// MemoryApprovalStore is the in-memory ApprovalStore.
type MemoryApprovalStore struct {
	mu        sync.RWMutex
	approvals map[string]*approvalEntry
}

type approvalEntry struct {
	mu sync.Mutex
	a  *models.ApprovalRequest
}

// NewMemoryApprovalStore creates an empty in-memory approval store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{approvals: make(map[string]*approvalEntry)}
}

// Create stores a new approval request.
func (s *MemoryApprovalStore) Create(_ context.Context, a *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvals[a.ID]; exists {
		return errs.InvalidState("approval %s already exists", a.ID)
	}
	s.approvals[a.ID] = &approvalEntry{a: a.Clone()}
	return nil
}

// Get returns a copy of the approval request.
func (s *MemoryApprovalStore) Get(_ context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	entry, ok := s.approvals[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("approval", id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.a.Clone(), nil
}

// Update applies mutate under the aggregate's lock. Concurrent decisions on
// the same approval serialize here; only the first sees pending state.
func (s *MemoryApprovalStore) Update(_ context.Context, id string, mutate func(*models.ApprovalRequest) error) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	entry, ok := s.approvals[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound("approval", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.a.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	entry.a = next
	return next.Clone(), nil
}

// List returns approvals matching the filter, newest first.
func (s *MemoryApprovalStore) List(_ context.Context, f ApprovalFilter) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	entries := make([]*approvalEntry, 0, len(s.approvals))
	for _, e := range s.approvals {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*models.ApprovalRequest
	for _, e := range entries {
		e.mu.Lock()
		a := e.a.Clone()
		e.mu.Unlock()
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.WorkflowID != "" && a.WorkflowID != f.WorkflowID {
			continue
		}
		if f.Priority != "" && a.Priority != f.Priority {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
