// Package notifications delivers best-effort alerts for approval requests.
// Delivery failures are logged and never propagate to the caller.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/config"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// Notifier dispatches human-facing notifications.
type Notifier interface {
	// ApprovalRequested announces a newly created approval request.
	ApprovalRequested(ctx context.Context, approval *models.ApprovalRequest) error
}

// NopNotifier is used when no webhook is configured.
type NopNotifier struct{}

// ApprovalRequested does nothing.
func (NopNotifier) ApprovalRequested(context.Context, *models.ApprovalRequest) error { return nil }

// TeamsNotifier posts MessageCard payloads to a Teams incoming webhook.
type TeamsNotifier struct {
	webhookURL   string
	dashboardURL string
	httpClient   *http.Client
	logger       *logging.Logger
}

// NewTeamsNotifier creates a TeamsNotifier from configuration.
func NewTeamsNotifier(cfg *config.Config, logger *logging.Logger) *TeamsNotifier {
	return &TeamsNotifier{
		webhookURL:   cfg.Notifications.TeamsWebhookURL,
		dashboardURL: cfg.Notifications.DashboardURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// FromConfig returns the configured notifier, or a NopNotifier when
// notifications are disabled or no webhook is set.
func FromConfig(cfg *config.Config, logger *logging.Logger) Notifier {
	if !cfg.Notifications.Enabled || cfg.Notifications.TeamsWebhookURL == "" {
		return NopNotifier{}
	}
	return NewTeamsNotifier(cfg, logger)
}

// ApprovalRequested posts an approval card to the webhook.
func (n *TeamsNotifier) ApprovalRequested(ctx context.Context, approval *models.ApprovalRequest) error {
	card := n.buildApprovalCard(approval)

	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info("approval notification sent", "approval_id", approval.ID)
	return nil
}

func (n *TeamsNotifier) buildApprovalCard(approval *models.ApprovalRequest) map[string]any {
	theme := "ca8a04"
	if approval.Priority == models.PriorityP0 || approval.Priority == models.PriorityP1 {
		theme = "dc2626"
	}

	riskSummary := approval.RiskSummary
	if riskSummary == "" {
		riskSummary = "No additional risk information available."
	}
	recommended := approval.RecommendedAction
	if recommended == "" {
		recommended = "Please review and approve or reject."
	}

	workflowRef := approval.WorkflowID
	if len(workflowRef) > 8 {
		workflowRef = workflowRef[:8]
	}

	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": theme,
		"summary":    fmt.Sprintf("Approval Required: %s", approval.Title),
		"sections": []map[string]any{
			{
				"activityTitle":    fmt.Sprintf("Approval Required: %s", approval.Title),
				"activitySubtitle": fmt.Sprintf("Priority: %s | Type: %s", approval.Priority, approval.Type),
				"facts": []map[string]string{
					{"name": "Workflow", "value": workflowRef},
					{"name": "Vulnerabilities", "value": fmt.Sprint(len(approval.VulnerabilityIDs))},
					{"name": "Requested By", "value": approval.RequestedBy},
					{"name": "Time", "value": approval.RequestedAt.Format("2006-01-02 15:04 UTC")},
				},
				"text":     approval.Description,
				"markdown": true,
			},
			{"activityTitle": "Risk Summary", "text": riskSummary},
			{"activityTitle": "Recommended Action", "text": recommended},
		},
		"potentialAction": []map[string]any{
			{
				"@type":   "OpenUri",
				"name":    "Review in Dashboard",
				"targets": []map[string]string{{"os": "default", "uri": n.dashboardURL}},
			},
		},
	}
}
