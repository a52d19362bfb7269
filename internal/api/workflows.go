package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// StartWorkflow launches a new remediation workflow
// (POST /api/v1/workflows)
func (s *Server) StartWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.WorkflowRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	wf, err := s.Engine.StartWorkflow(ctx, req, actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, wf)
}

// ListWorkflows returns workflows, newest first, optionally filtered by
// status and repository
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	f := repository.WorkflowFilter{
		Status:     models.WorkflowStatus(c.QueryParam("status")),
		Repository: c.QueryParam("repository"),
		Limit:      listLimit(c, 50),
	}
	workflows, err := s.Engine.ListWorkflows(ctx, f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// GetWorkflow returns one workflow aggregate
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, err := s.Engine.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// DeleteWorkflow removes a workflow record. Administrative use only
// (DELETE /api/v1/workflows/:id)
func (s *Server) DeleteWorkflow(c echo.Context) error {
	if err := s.Engine.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CancelWorkflow requests cancellation of a running workflow
// (POST /api/v1/workflows/:id/cancel)
func (s *Server) CancelWorkflow(c echo.Context) error {
	wf, err := s.Engine.CancelWorkflow(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// GetTimeline returns the workflow's audit entries in chronological order
// (GET /api/v1/workflows/:id/timeline)
func (s *Server) GetTimeline(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.Engine.GetWorkflow(c.Request().Context(), id); err != nil {
		return fail(c, err)
	}
	entries := s.AuditLog.Timeline(id)
	return c.JSON(http.StatusOK, map[string]any{
		"workflow_id": id,
		"timeline":    entries,
		"count":       len(entries),
	})
}
