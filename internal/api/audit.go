package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/audit"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// QueryAudit returns audit entries matching the query, newest first
// (GET /api/v1/audit)
func (s *Server) QueryAudit(c echo.Context) error {
	f := audit.Filter{
		WorkflowID:      c.QueryParam("workflow_id"),
		VulnerabilityID: c.QueryParam("vulnerability_id"),
		ApprovalID:      c.QueryParam("approval_id"),
		Actor:           c.QueryParam("actor"),
		Action:          models.AuditAction(c.QueryParam("action")),
	}
	if raw := c.QueryParam("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return problem(c, http.StatusBadRequest, "Bad Request", "since must be RFC 3339: "+err.Error())
		}
		f.Since = &t
	}

	entries := s.AuditLog.Query(f, listLimit(c, 100))
	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// ExportAudit renders the audit trail as JSON or CSV
// (GET /api/v1/audit/export?workflow_id=&format=)
func (s *Server) ExportAudit(c echo.Context) error {
	format := c.QueryParam("format")
	out, err := s.AuditLog.Export(c.QueryParam("workflow_id"), format)
	if err != nil {
		return fail(c, err)
	}
	if format == "csv" {
		return c.Blob(http.StatusOK, "text/csv", []byte(out))
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte(out))
}

// AuditStats returns aggregate counters over the audit trail
// (GET /api/v1/audit/stats)
func (s *Server) AuditStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.AuditLog.Stats())
}

// commentRequest is the payload for AddComment.
type commentRequest struct {
	TargetType string   `json:"target_type"`
	TargetID   string   `json:"target_id"`
	Content    string   `json:"content"`
	Mentions   []string `json:"mentions"`
}

// AddComment attaches a comment to a workflow, vulnerability, or approval
// (POST /api/v1/comments)
func (s *Server) AddComment(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.TargetID == "" || req.Content == "" {
		return problem(c, http.StatusBadRequest, "Validation Error", "target_id and content are required")
	}
	if req.TargetType == "" {
		req.TargetType = "workflow"
	}

	comment := s.AuditLog.AddComment(req.TargetType, req.TargetID, actor(c), req.Content, req.Mentions)
	return c.JSON(http.StatusCreated, comment)
}

// editCommentRequest is the payload for EditComment.
type editCommentRequest struct {
	Content string `json:"content"`
}

// EditComment updates a comment's content. Author-only
// (PATCH /api/v1/comments/:id)
func (s *Server) EditComment(c echo.Context) error {
	var req editCommentRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.Content == "" {
		return problem(c, http.StatusBadRequest, "Validation Error", "content is required")
	}

	comment, err := s.AuditLog.EditComment(c.Param("id"), req.Content, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, comment)
}

// ListComments returns the comment thread for one target
// (GET /api/v1/comments?target_id=)
func (s *Server) ListComments(c echo.Context) error {
	targetID := c.QueryParam("target_id")
	if targetID == "" {
		return problem(c, http.StatusBadRequest, "Validation Error", "target_id is required")
	}
	comments := s.AuditLog.Comments(targetID)
	return c.JSON(http.StatusOK, map[string]any{
		"comments": comments,
		"count":    len(comments),
	})
}
