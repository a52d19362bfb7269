package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// Schema creates the orchestrator tables. Aggregates are stored as JSONB
// documents addressed by their id; the few indexed columns exist only to
// serve List filters.
const Schema = `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	repository TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	requested_at TIMESTAMPTZ NOT NULL,
	doc JSONB NOT NULL
);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, Schema)
	return err
}

// PostgresWorkflowStore is a PostgreSQL implementation of WorkflowStore.
// Updates take a row lock so each aggregate has a single writer at a time.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

// Create stores a new workflow.
func (s *PostgresWorkflowStore) Create(ctx context.Context, wf *models.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO workflows (id, repository, status, created_at, doc) VALUES ($1, $2, $3, $4, $5)",
		wf.ID, wf.Repository, wf.Status, wf.CreatedAt, doc)
	return err
}

// Get returns the workflow by id.
func (s *PostgresWorkflowStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, "SELECT doc FROM workflows WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	var wf models.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	return &wf, nil
}

// Update applies mutate inside a transaction holding the aggregate's row lock.
func (s *PostgresWorkflowStore) Update(ctx context.Context, id string, mutate func(*models.Workflow) error) (*models.Workflow, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, "SELECT doc FROM workflows WHERE id = $1 FOR UPDATE", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}

	var wf models.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow %s: %w", id, err)
	}
	if err := mutate(&wf); err != nil {
		return nil, err
	}
	wf.UpdatedAt = time.Now().UTC()

	next, err := json.Marshal(&wf)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE workflows SET status = $2, doc = $3 WHERE id = $1", id, wf.Status, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &wf, nil
}

// List returns workflows matching the filter, newest first.
func (s *PostgresWorkflowStore) List(ctx context.Context, f WorkflowFilter) ([]*models.Workflow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT doc FROM workflows
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR repository = $2)
		ORDER BY created_at DESC LIMIT $3`,
		string(f.Status), f.Repository, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var wf models.Workflow
		if err := json.Unmarshal(doc, &wf); err != nil {
			return nil, err
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// Delete removes a workflow.
func (s *PostgresWorkflowStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("workflow", id)
	}
	return nil
}

// PostgresApprovalStore is a PostgreSQL implementation of ApprovalStore.
type PostgresApprovalStore struct {
	db *pgxpool.Pool
}

// NewPostgresApprovalStore creates a new PostgresApprovalStore.
func NewPostgresApprovalStore(db *pgxpool.Pool) *PostgresApprovalStore {
	return &PostgresApprovalStore{db: db}
}

// Create stores a new approval request.
func (s *PostgresApprovalStore) Create(ctx context.Context, a *models.ApprovalRequest) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO approvals (id, workflow_id, status, priority, requested_at, doc) VALUES ($1, $2, $3, $4, $5, $6)",
		a.ID, a.WorkflowID, a.Status, a.Priority, a.RequestedAt, doc)
	return err
}

// Get returns the approval request by id.
func (s *PostgresApprovalStore) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, "SELECT doc FROM approvals WHERE id = $1", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("approval", id)
	}
	if err != nil {
		return nil, err
	}
	var a models.ApprovalRequest
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("unmarshal approval %s: %w", id, err)
	}
	return &a, nil
}

// Update applies mutate inside a transaction holding the row lock.
func (s *PostgresApprovalStore) Update(ctx context.Context, id string, mutate func(*models.ApprovalRequest) error) (*models.ApprovalRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, "SELECT doc FROM approvals WHERE id = $1 FOR UPDATE", id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("approval", id)
	}
	if err != nil {
		return nil, err
	}

	var a models.ApprovalRequest
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("unmarshal approval %s: %w", id, err)
	}
	if err := mutate(&a); err != nil {
		return nil, err
	}

	next, err := json.Marshal(&a)
	if err != nil {
		return nil, fmt.Errorf("marshal approval: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE approvals SET status = $2, doc = $3 WHERE id = $1", id, a.Status, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns approvals matching the filter, newest first.
func (s *PostgresApprovalStore) List(ctx context.Context, f ApprovalFilter) ([]*models.ApprovalRequest, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT doc FROM approvals
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR workflow_id = $2) AND ($3 = '' OR priority = $3)
		ORDER BY requested_at DESC LIMIT $4`,
		string(f.Status), f.WorkflowID, string(f.Priority), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ApprovalRequest
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a models.ApprovalRequest
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
