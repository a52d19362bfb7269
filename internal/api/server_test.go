package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/agents"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/audit"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/config"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/engine"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/hitl"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/notifications"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/repository"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// stubAgents serves the scan, assess, and remediate endpoints of all three
// collaborator agents from one handler.
type stubAgents struct {
	mu    sync.Mutex
	vulns []models.Vulnerability
}

func (s *stubAgents) setVulns(v []models.Vulnerability) {
	s.mu.Lock()
	s.vulns = v
	s.mu.Unlock()
}

func (s *stubAgents) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0.0"})
	})
	mux.HandleFunc("POST /scan", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ScanTrigger{ScanID: "scan-1", Status: models.ScanStatusRunning})
	})
	mux.HandleFunc("GET /scan/", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		vulns := s.vulns
		s.mu.Unlock()
		json.NewEncoder(w).Encode(models.ScanResult{
			ScanID:  "scan-1",
			Status:  models.ScanStatusCompleted,
			Results: []models.ScannerFindings{{ScanType: "dependency", Vulnerabilities: vulns}},
		})
	})
	mux.HandleFunc("POST /assess", func(w http.ResponseWriter, r *http.Request) {
		var req models.AssessRequest
		json.NewDecoder(r.Body).Decode(&req)
		result := models.AssessResult{AssessmentID: "assess-1", Summary: models.AssessmentSummary{}}
		for _, v := range req.Vulnerabilities {
			result.Assessments = append(result.Assessments, models.Assessment{
				VulnerabilityID: v.ID, Priority: v.Priority, Severity: v.Severity,
			})
			result.Summary[v.Priority]++
		}
		json.NewEncoder(w).Encode(result)
	})
	mux.HandleFunc("POST /remediate/batch", func(w http.ResponseWriter, r *http.Request) {
		var req models.RemediateRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(models.RemediateResult{
			BatchID:        "batch-1",
			FixesGenerated: len(req.Vulnerabilities),
			PRsCreated:     1,
		})
	})
	return mux
}

type fixture struct {
	echo      *echo.Echo
	stub      *stubAgents
	approvals *hitl.Service
	engine    *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stub := &stubAgents{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Agents.ScannerURL = srv.URL
	cfg.Agents.AssessmentURL = srv.URL
	cfg.Agents.RemediationURL = srv.URL
	cfg.Agents.TimeoutSeconds = 5
	cfg.Workflow.RequireApprovalP0P1 = true
	cfg.Workflow.AutoRemediateP3P4 = true
	cfg.Workflow.PollIntervalSeconds = 1
	cfg.Workflow.ScanWaitSeconds = 5
	cfg.Workflow.ApprovalExpiryHours = 24

	logger := logging.NewWithWriter(io.Discard)
	auditLog := audit.NewLog(logger)
	workflowStore := repository.NewMemoryWorkflowStore()
	approvalStore := repository.NewMemoryApprovalStore()
	approvals := hitl.NewService(approvalStore, auditLog, notifications.NopNotifier{}, cfg.ApprovalExpiry(), logger)
	agentClient := agents.NewClient(cfg, logger)

	eng, err := engine.New(cfg, workflowStore, approvals, agentClient, auditLog, logger)
	require.NoError(t, err)

	e := echo.New()
	server := NewServer(eng, approvals, auditLog, agentClient, logger)
	e.GET("/health", server.Health)
	server.RegisterRoutes(e.Group("/api/v1"))

	return &fixture{echo: e, stub: stub, approvals: approvals, engine: eng}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		buf, _ := json.Marshal(body)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) startAndWait(t *testing.T, status models.WorkflowStatus) models.Workflow {
	t.Helper()

	rec := f.do(http.MethodPost, "/api/v1/workflows", models.WorkflowRequest{Repository: "org/repo"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var wf models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))

	require.Eventually(t, func() bool {
		get := f.do(http.MethodGet, "/api/v1/workflows/"+wf.ID, nil)
		if get.Code != http.StatusOK {
			return false
		}
		require.NoError(t, json.Unmarshal(get.Body.Bytes(), &wf))
		return wf.Status == status
	}, 2*time.Second, 10*time.Millisecond, "workflow never reached %s", status)

	return wf
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestStartWorkflowCompletes(t *testing.T) {
	f := newFixture(t)
	f.stub.setVulns([]models.Vulnerability{{ID: "v1", Priority: models.PriorityP4, Severity: "low"}})

	wf := f.startAndWait(t, models.WorkflowStatusCompleted)
	assert.Equal(t, 1, wf.AutoRemediated)
	assert.Equal(t, "anonymous", wf.TriggeredBy)

	// Timeline is chronological and ends with workflow_completed.
	rec := f.do(http.MethodGet, "/api/v1/workflows/"+wf.ID+"/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var timeline struct {
		Timeline []models.AuditLogEntry `json:"timeline"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timeline))
	require.NotEmpty(t, timeline.Timeline)
	assert.Equal(t, models.AuditWorkflowCompleted, timeline.Timeline[len(timeline.Timeline)-1].Action)
}

func TestStartWorkflowValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/workflows", map[string]string{"branch": "main"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
}

func TestGetWorkflowNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/workflows/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, http.StatusNotFound, p.Status)
	assert.Equal(t, "Not Found", p.Title)
	assert.Equal(t, "/api/v1/workflows/nope", p.Instance)
}

func TestApprovalDecisionFlow(t *testing.T) {
	f := newFixture(t)
	f.stub.setVulns([]models.Vulnerability{{ID: "v1", Priority: models.PriorityP0, Severity: "critical"}})

	f.startAndWait(t, models.WorkflowStatusAwaitingApproval)

	rec := f.do(http.MethodGet, "/api/v1/approvals/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Approvals []models.ApprovalRequest `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Approvals, 1)

	id := listing.Approvals[0].ID
	rec = f.do(http.MethodPost, "/api/v1/approvals/"+id+"/decide", map[string]any{
		"approved": true,
		"comment":  "go ahead",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var wf models.Workflow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wf))
	assert.Equal(t, models.WorkflowStatusCompleted, wf.Status)
	assert.Equal(t, 1, wf.AutoRemediated)

	// The same approval cannot be decided twice.
	rec = f.do(http.MethodPost, "/api/v1/approvals/"+id+"/decide", map[string]any{"approved": false})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelCompletedWorkflowConflicts(t *testing.T) {
	f := newFixture(t)
	wf := f.startAndWait(t, models.WorkflowStatusCompleted)

	rec := f.do(http.MethodPost, "/api/v1/workflows/"+wf.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCommentsFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/comments", map[string]any{
		"target_type": "workflow",
		"target_id":   "wf-1",
		"content":     "looks risky",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var comment models.Comment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comment))
	assert.Equal(t, "anonymous", comment.Author)

	rec = f.do(http.MethodPatch, "/api/v1/comments/"+comment.ID, map[string]string{"content": "resolved"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/comments?target_id=wf-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"resolved"`)

	// Missing target_id is rejected.
	rec = f.do(http.MethodGet, "/api/v1/comments", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditQueryAndExport(t *testing.T) {
	f := newFixture(t)
	wf := f.startAndWait(t, models.WorkflowStatusCompleted)

	rec := f.do(http.MethodGet, "/api/v1/audit?workflow_id="+wf.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result struct {
		Entries []models.AuditLogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.Entries)
	// Newest first.
	assert.Equal(t, models.AuditWorkflowCompleted, result.Entries[0].Action)

	rec = f.do(http.MethodGet, "/api/v1/audit/export?workflow_id="+wf.ID+"&format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "timestamp,action,actor"))

	rec = f.do(http.MethodGet, "/api/v1/audit/export?format=xml", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuickScanValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/scan", map[string]string{"branch": "main"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/scan", map[string]string{"repository": "org/repo"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "scan-1")
}

func TestListAgents(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Agents map[string]models.AgentInfo `json:"agents"`
		Count  int                         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Count)
	for _, info := range result.Agents {
		assert.Equal(t, models.AgentStatusHealthy, info.Status)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.startAndWait(t, models.WorkflowStatusCompleted)

	rec := f.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Workflows struct {
			Total    int            `json:"total"`
			ByStatus map[string]int `json:"by_status"`
		} `json:"workflows"`
		PendingApprovals int `json:"pending_approvals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Workflows.Total)
	assert.Equal(t, 1, stats.Workflows.ByStatus["completed"])
	assert.Equal(t, 0, stats.PendingApprovals)
}
