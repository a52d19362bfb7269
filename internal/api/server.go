// Package api contains the HTTP handlers for the orchestrator service.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/agents"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/audit"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/auth"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/engine"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/hitl"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
)

// maxListLimit caps the limit query parameter on every list endpoint.
const maxListLimit = 200

// Server holds the dependencies for the API server.
type Server struct {
	Engine    *engine.Engine
	Approvals *hitl.Service
	AuditLog  *audit.Log
	Agents    *agents.Client
	Logger    *logging.Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, approvals *hitl.Service, auditLog *audit.Log, ag *agents.Client, logger *logging.Logger) *Server {
	return &Server{
		Engine:    eng,
		Approvals: approvals,
		AuditLog:  auditLog,
		Agents:    ag,
		Logger:    logger,
	}
}

// RegisterRoutes mounts every handler under g, typically /api/v1.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/workflows", s.StartWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.DELETE("/workflows/:id", s.DeleteWorkflow)
	g.POST("/workflows/:id/cancel", s.CancelWorkflow)
	g.GET("/workflows/:id/timeline", s.GetTimeline)

	g.GET("/approvals", s.ListApprovals)
	g.GET("/approvals/pending", s.ListPendingApprovals)
	g.GET("/approvals/:id", s.GetApproval)
	g.POST("/approvals", s.CreateApproval)
	g.POST("/approvals/:id/decide", s.DecideApproval)

	g.GET("/audit", s.QueryAudit)
	g.GET("/audit/export", s.ExportAudit)
	g.GET("/audit/stats", s.AuditStats)

	g.POST("/comments", s.AddComment)
	g.PATCH("/comments/:id", s.EditComment)
	g.GET("/comments", s.ListComments)

	g.GET("/agents", s.ListAgents)
	g.POST("/scan", s.QuickScan)
	g.POST("/assess", s.QuickAssess)
	g.GET("/stats", s.Stats)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Health returns basic health status (always returns 200 OK).
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "symbiont-orchestrator",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 Problem Details JSON error response.
func problem(c echo.Context, status int, title, detail string) error {
	p := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	// echo only sets the content type when it is still unset.
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}

// fail maps the service error taxonomy onto HTTP status codes.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return problem(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, errs.ErrValidation):
		return problem(c, http.StatusBadRequest, "Validation Error", err.Error())
	case errors.Is(err, errs.ErrInvalidState):
		return problem(c, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, errs.ErrTimeout):
		return problem(c, http.StatusGatewayTimeout, "Timeout", err.Error())
	case errs.IsCollaborator(err):
		return problem(c, http.StatusBadGateway, "Collaborator Error", err.Error())
	default:
		return problem(c, http.StatusInternalServerError, "Internal Error", err.Error())
	}
}

// actor returns the authenticated principal for the request, or "anonymous".
func actor(c echo.Context) string {
	if a := auth.ActorFrom(c.Request().Context()); a != "" {
		return a
	}
	return "anonymous"
}

// listLimit parses and bounds the limit query parameter.
func listLimit(c echo.Context, def int) int {
	n := def
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			n = v
		}
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n
}
