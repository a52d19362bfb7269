package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// ListAgents probes every collaborator agent and reports health
// (GET /api/v1/agents)
func (s *Server) ListAgents(c echo.Context) error {
	infos := s.Agents.CheckAll(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{
		"agents": infos,
		"count":  len(infos),
	})
}

// QuickScan triggers a scan without starting a workflow
// (POST /api/v1/scan)
func (s *Server) QuickScan(c echo.Context) error {
	var req models.ScanRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.Repository == "" {
		return problem(c, http.StatusBadRequest, "Validation Error", "repository is required")
	}
	if req.Branch == "" {
		req.Branch = "main"
	}
	if len(req.ScanTypes) == 0 {
		req.ScanTypes = models.DefaultScanTypes
	}

	trigger, err := s.Agents.TriggerScan(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusAccepted, trigger)
}

// QuickAssess runs a one-off assessment on caller-supplied findings
// (POST /api/v1/assess)
func (s *Server) QuickAssess(c echo.Context) error {
	var req models.AssessRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if len(req.Vulnerabilities) == 0 {
		return problem(c, http.StatusBadRequest, "Validation Error", "vulnerabilities are required")
	}

	result, err := s.Agents.Assess(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Stats summarizes workflows by status alongside audit trail counters
// (GET /api/v1/stats)
func (s *Server) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	byStatus := make(map[string]int)
	total := 0
	for _, status := range []models.WorkflowStatus{
		models.WorkflowStatusPending,
		models.WorkflowStatusScanning,
		models.WorkflowStatusAssessing,
		models.WorkflowStatusAwaitingApproval,
		models.WorkflowStatusRemediating,
		models.WorkflowStatusCompleted,
		models.WorkflowStatusFailed,
		models.WorkflowStatusCancelled,
	} {
		workflows, err := s.Engine.ListWorkflows(ctx, repository.WorkflowFilter{Status: status, Limit: maxListLimit})
		if err != nil {
			return fail(c, err)
		}
		if len(workflows) > 0 {
			byStatus[string(status)] = len(workflows)
			total += len(workflows)
		}
	}

	pending, err := s.Approvals.ListPending(ctx, maxListLimit)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"workflows": map[string]any{
			"total":     total,
			"by_status": byStatus,
		},
		"pending_approvals": len(pending),
		"audit":             s.AuditLog.Stats(),
	})
}
