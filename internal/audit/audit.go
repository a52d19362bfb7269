// Package audit implements the append-only audit trail for compliance
// replay. Entries are never mutated or deleted; appending never fails and
// never surfaces an error to the calling operation.
package audit

import (
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// Record is the input for one audit entry. A nil Err records success.
type Record struct {
	Action          models.AuditAction
	Actor           string
	WorkflowID      string
	VulnerabilityID string
	ApprovalID      string
	Details         map[string]any
	Err             error
}

// Filter selects audit entries in Query. Zero fields match everything.
type Filter struct {
	WorkflowID      string
	VulnerabilityID string
	ApprovalID      string
	Actor           string
	Action          models.AuditAction
	Since           *time.Time
}

// Log is the in-process audit trail. Entries are held in insertion order,
// which is also chronological order, so timestamp ties keep insertion order.
type Log struct {
	mu       sync.Mutex
	entries  []models.AuditLogEntry
	comments map[string][]models.Comment
	targets  map[string]string // comment id -> target id
	logger   *logging.Logger
}

// NewLog creates an empty audit log.
func NewLog(logger *logging.Logger) *Log {
	return &Log{
		comments: make(map[string][]models.Comment),
		targets:  make(map[string]string),
		logger:   logger,
	}
}

// Append records one entry. It always succeeds.
func (l *Log) Append(rec Record) models.AuditLogEntry {
	entry := models.AuditLogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Action:    rec.Action,
		Actor:     rec.Actor,

		WorkflowID:      rec.WorkflowID,
		VulnerabilityID: rec.VulnerabilityID,
		ApprovalID:      rec.ApprovalID,
		Details:         rec.Details,
		Success:         rec.Err == nil,
	}
	if rec.Err != nil {
		entry.ErrorMessage = rec.Err.Error()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Info("audit entry",
		"action", entry.Action,
		"actor", entry.Actor,
		"workflow_id", entry.WorkflowID,
		"success", entry.Success,
	)

	return entry
}

// Query returns entries matching the filter, newest first, capped at limit.
func (l *Log) Query(f Filter, limit int) []models.AuditLogEntry {
	if limit <= 0 {
		limit = 100
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.AuditLogEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.matches(&l.entries[i]) {
			out = append(out, l.entries[i])
		}
	}
	return out
}

// Timeline returns every entry for a workflow in chronological order.
func (l *Log) Timeline(workflowID string) []models.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.AuditLogEntry
	for _, e := range l.entries {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out
}

func (f *Filter) matches(e *models.AuditLogEntry) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if f.VulnerabilityID != "" && e.VulnerabilityID != f.VulnerabilityID {
		return false
	}
	if f.ApprovalID != "" && e.ApprovalID != f.ApprovalID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// AddComment appends a comment to the target's thread and records the
// addition in the audit trail.
func (l *Log) AddComment(targetType, targetID, author, content string, mentions []string) models.Comment {
	comment := models.Comment{
		ID:         uuid.New().String(),
		TargetType: targetType,
		TargetID:   targetID,
		Author:     author,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
		Mentions:   mentions,
	}

	l.mu.Lock()
	l.comments[targetID] = append(l.comments[targetID], comment)
	l.targets[comment.ID] = targetID
	l.mu.Unlock()

	preview := content
	if len(preview) > 100 {
		preview = preview[:100]
	}
	l.Append(Record{
		Action: models.AuditCommentAdded,
		Actor:  author,
		Details: map[string]any{
			"target_type":     targetType,
			"target_id":       targetID,
			"content_preview": preview,
		},
	})

	return comment
}

// Comments returns the thread for a target.
func (l *Log) Comments(targetID string) []models.Comment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Comment(nil), l.comments[targetID]...)
}

// EditComment replaces a comment's content. Only the original author may
// edit, and only the content field changes.
func (l *Log) EditComment(commentID, newContent, editor string) (models.Comment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	targetID, ok := l.targets[commentID]
	if !ok {
		return models.Comment{}, errs.NotFound("comment", commentID)
	}
	thread := l.comments[targetID]
	for i := range thread {
		if thread[i].ID != commentID {
			continue
		}
		if thread[i].Author != editor {
			return models.Comment{}, errs.InvalidState("comment %s can only be edited by its author", commentID)
		}
		now := time.Now().UTC()
		thread[i].Content = newContent
		thread[i].EditedAt = &now
		return thread[i], nil
	}
	return models.Comment{}, errs.NotFound("comment", commentID)
}

// Stats returns entry and comment counts grouped by action.
func (l *Log) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	byAction := make(map[string]int)
	for _, e := range l.entries {
		byAction[string(e.Action)]++
	}
	totalComments := 0
	for _, thread := range l.comments {
		totalComments += len(thread)
	}
	return map[string]any{
		"total_entries":  len(l.entries),
		"total_comments": totalComments,
		"by_action":      byAction,
	}
}

// Export renders entries (optionally scoped to one workflow) as JSON or CSV.
func (l *Log) Export(workflowID, format string) (string, error) {
	entries := l.Query(Filter{WorkflowID: workflowID}, 10000)

	switch format {
	case "", "json":
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "csv":
		var buf strings.Builder
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"timestamp", "action", "actor", "workflow_id", "vulnerability_id", "success"})
		for _, e := range entries {
			_ = w.Write([]string{
				e.Timestamp.Format(time.RFC3339Nano),
				string(e.Action),
				e.Actor,
				e.WorkflowID,
				e.VulnerabilityID,
				strconv.FormatBool(e.Success),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return "", errs.Validation("unsupported export format %q", format)
	}
}
