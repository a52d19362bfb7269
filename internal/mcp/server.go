// Package mcp exposes the orchestrator's core operations as MCP tools so
// agentic clients can start workflows and work the approval queue.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/engine"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/hitl"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	approvals *hitl.Service
}

func NewServer(eng *engine.Engine, approvals *hitl.Service) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Vulnerability Remediation Orchestrator",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine:    eng,
		approvals: approvals,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start a vulnerability remediation workflow for a repository"),
			mcp.WithString("repository", mcp.Required(), mcp.Description("Repository to scan and remediate")),
			mcp.WithString("branch", mcp.Description("Branch to target, defaults to main")),
			mcp.WithBoolean("auto_remediate", mcp.Description("Allow automatic remediation of low-priority findings")),
		),
		s.handleStartWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Get the current state of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleGetWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_pending_approvals",
			mcp.WithDescription("List approval requests still awaiting a decision"),
		),
		s.handleListPendingApprovals,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"decide_approval",
			mcp.WithDescription("Approve or reject a pending remediation approval"),
			mcp.WithString("approval_id", mcp.Required(), mcp.Description("The approval request ID")),
			mcp.WithBoolean("approved", mcp.Required(), mcp.Description("True to approve, false to reject")),
			mcp.WithString("resolver", mcp.Required(), mcp.Description("Who is making the decision")),
			mcp.WithString("comment", mcp.Description("Optional resolution comment")),
		),
		s.handleDecideApproval,
	)
}

func (s *Server) handleStartWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	repository, ok := args["repository"].(string)
	if !ok || repository == "" {
		return mcp.NewToolResultError("Missing required parameter: repository"), nil
	}

	req := models.WorkflowRequest{Repository: repository}
	if branch, ok := args["branch"].(string); ok {
		req.Branch = branch
	}
	if auto, ok := args["auto_remediate"].(bool); ok {
		req.AutoRemediate = &auto
	}

	wf, err := s.engine.StartWorkflow(ctx, req, "mcp")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(wf)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["workflow_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	wf, err := s.engine.GetWorkflow(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(wf)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListPendingApprovals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvals, err := s.approvals.ListPending(ctx, 50)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list approvals: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(approvals)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleDecideApproval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["approval_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: approval_id"), nil
	}
	approved, ok := args["approved"].(bool)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: approved"), nil
	}
	resolver, ok := args["resolver"].(string)
	if !ok || resolver == "" {
		return mcp.NewToolResultError("Missing required parameter: resolver"), nil
	}
	comment, _ := args["comment"].(string)

	wf, err := s.engine.ResolveApproval(ctx, id, nil, models.ApprovalDecision{
		Approved: approved,
		Resolver: resolver,
		Comment:  comment,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to decide approval: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(wf)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers wires the MCP server's SSE transport into the echo
// router under /mcp.
func MountHTTPHandlers(e *echo.Echo, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	h := echo.WrapHandler(sseServer)
	e.POST("/mcp", h)
	e.Any("/mcp/sse", h)
	e.Any("/mcp/message", h)
}
