package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/hitl"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// ListApprovals returns approval requests, newest first
// (GET /api/v1/approvals)
func (s *Server) ListApprovals(c echo.Context) error {
	f := repository.ApprovalFilter{
		Status:     models.ApprovalStatus(c.QueryParam("status")),
		WorkflowID: c.QueryParam("workflow_id"),
		Priority:   models.Priority(c.QueryParam("priority")),
		Limit:      listLimit(c, 50),
	}
	approvals, err := s.Approvals.List(c.Request().Context(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"approvals": approvals,
		"count":     len(approvals),
	})
}

// ListPendingApprovals returns only requests still awaiting a decision
// (GET /api/v1/approvals/pending)
func (s *Server) ListPendingApprovals(c echo.Context) error {
	approvals, err := s.Approvals.ListPending(c.Request().Context(), listLimit(c, 50))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"approvals": approvals,
		"count":     len(approvals),
	})
}

// GetApproval returns one approval request
// (GET /api/v1/approvals/:id)
func (s *Server) GetApproval(c echo.Context) error {
	approval, err := s.Approvals.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, approval)
}

// CreateApproval opens a standalone approval request, for sign-offs raised
// outside a workflow run
// (POST /api/v1/approvals)
func (s *Server) CreateApproval(c echo.Context) error {
	var req hitl.CreateRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.RequestedBy == "" {
		req.RequestedBy = actor(c)
	}
	approval, err := s.Approvals.Create(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, approval)
}

// decideRequest is the payload for DecideApproval.
type decideRequest struct {
	Approved         bool     `json:"approved"`
	Comment          string   `json:"comment"`
	VulnerabilityIDs []string `json:"vulnerability_ids"`
}

// DecideApproval resolves a pending approval and resumes its workflow
// (POST /api/v1/approvals/:id/decide)
func (s *Server) DecideApproval(c echo.Context) error {
	var req decideRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}

	wf, err := s.Engine.ResolveApproval(c.Request().Context(), c.Param("id"), req.VulnerabilityIDs, models.ApprovalDecision{
		Approved: req.Approved,
		Resolver: actor(c),
		Comment:  req.Comment,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}
