package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/config"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

func testApproval(priority models.Priority) *models.ApprovalRequest {
	return &models.ApprovalRequest{
		ID:               "ap-1",
		WorkflowID:       "wf-123456789",
		Type:             models.ApprovalTypeRemediation,
		Status:           models.ApprovalStatusPending,
		Title:            "Remediate org/repo",
		Description:      "3 findings need sign-off",
		VulnerabilityIDs: []string{"v1", "v2", "v3"},
		Priority:         priority,
		RequestedBy:      "orchestrator",
		RequestedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFromConfig(t *testing.T) {
	logger := logging.NewWithWriter(io.Discard)

	cfg := &config.Config{}
	cfg.Notifications.Enabled = true
	assert.IsType(t, NopNotifier{}, FromConfig(cfg, logger), "no webhook url")

	cfg.Notifications.TeamsWebhookURL = "https://example.com/hook"
	cfg.Notifications.Enabled = false
	assert.IsType(t, NopNotifier{}, FromConfig(cfg, logger), "disabled")

	cfg.Notifications.Enabled = true
	assert.IsType(t, &TeamsNotifier{}, FromConfig(cfg, logger))
}

func TestTeamsNotifierPostsMessageCard(t *testing.T) {
	var card map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&card))
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.Enabled = true
	cfg.Notifications.TeamsWebhookURL = srv.URL
	cfg.Notifications.DashboardURL = "http://dashboard.local/approvals"

	n := NewTeamsNotifier(cfg, logging.NewWithWriter(io.Discard))
	require.NoError(t, n.ApprovalRequested(context.Background(), testApproval(models.PriorityP0)))

	assert.Equal(t, "MessageCard", card["@type"])
	// P0 and P1 use the red theme.
	assert.Equal(t, "dc2626", card["themeColor"])
	assert.Contains(t, card["summary"], "Remediate org/repo")

	sections := card["sections"].([]any)
	require.Len(t, sections, 3)
	first := sections[0].(map[string]any)
	assert.Contains(t, first["activitySubtitle"], "P0")

	actions := card["potentialAction"].([]any)
	require.Len(t, actions, 1)
}

func TestTeamsNotifierThemeForLowerPriority(t *testing.T) {
	var card map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&card)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.TeamsWebhookURL = srv.URL

	n := NewTeamsNotifier(cfg, logging.NewWithWriter(io.Discard))
	require.NoError(t, n.ApprovalRequested(context.Background(), testApproval(models.PriorityP3)))
	assert.Equal(t, "ca8a04", card["themeColor"])
}

func TestTeamsNotifierReportsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Notifications.TeamsWebhookURL = srv.URL

	n := NewTeamsNotifier(cfg, logging.NewWithWriter(io.Discard))
	err := n.ApprovalRequested(context.Background(), testApproval(models.PriorityP2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
