// Package agents implements the typed HTTP client for the external
// collaborator services: the scanner, the risk-assessment service, and the
// auto-remediation service.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/SYMBIONT-X/SYMBIONT-X/internal/config"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/errs"
	"github.com/SYMBIONT-X/SYMBIONT-X/internal/logging"
	"github.com/SYMBIONT-X/SYMBIONT-X/pkg/models"
)

// Client talks to the collaborator agents over their narrow HTTP contracts.
type Client struct {
	httpClient   *http.Client
	pollInterval time.Duration

	mu     sync.Mutex
	agents map[string]*models.AgentInfo

	logger *logging.Logger
}

// NewClient creates a collaborator client from configuration.
func NewClient(cfg *config.Config, logger *logging.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: cfg.AgentTimeout()},
		pollInterval: cfg.PollInterval(),
		agents: map[string]*models.AgentInfo{
			models.AgentScanner: {
				Name:         models.AgentScanner,
				URL:          cfg.Agents.ScannerURL,
				Status:       models.AgentStatusUnknown,
				Capabilities: []string{"scan", "dependency", "code", "secret", "container", "iac"},
			},
			models.AgentAssessment: {
				Name:         models.AgentAssessment,
				URL:          cfg.Agents.AssessmentURL,
				Status:       models.AgentStatusUnknown,
				Capabilities: []string{"assess", "prioritize", "context"},
			},
			models.AgentRemediation: {
				Name:         models.AgentRemediation,
				URL:          cfg.Agents.RemediationURL,
				Status:       models.AgentStatusUnknown,
				Capabilities: []string{"remediate", "pr", "templates"},
			},
		},
		logger: logger,
	}
}

func (c *Client) agentURL(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.agents[name]; ok {
		return a.URL
	}
	return ""
}

// CheckHealth probes one agent's /health endpoint and records the outcome.
func (c *Client) CheckHealth(ctx context.Context, name string) models.AgentInfo {
	url := c.agentURL(name)
	now := time.Now().UTC()

	status := models.AgentStatusUnhealthy
	version := ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err == nil {
		resp, err := c.httpClient.Do(req)
		if err == nil {
			func() {
				defer resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					status = models.AgentStatusHealthy
					var body struct {
						Version string `json:"version"`
					}
					if json.NewDecoder(resp.Body).Decode(&body) == nil {
						version = body.Version
					}
				}
			}()
		} else {
			c.logger.Warn("agent health check failed", "agent", name, "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.agents[name]
	a.Status = status
	a.LastCheck = &now
	if version != "" {
		a.Version = version
	}
	return *a
}

// CheckAll probes every agent concurrently and returns the results.
func (c *Client) CheckAll(ctx context.Context) map[string]models.AgentInfo {
	names := c.Names()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			c.CheckHealth(ctx, n)
		}(name)
	}
	wg.Wait()

	return c.Statuses()
}

// Names lists the registered agent names.
func (c *Client) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.agents))
	for n := range c.agents {
		names = append(names, n)
	}
	return names
}

// Statuses returns a snapshot of every agent's last observed state.
func (c *Client) Statuses() map[string]models.AgentInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.AgentInfo, len(c.agents))
	for n, a := range c.agents {
		out[n] = *a
	}
	return out
}

// TriggerScan asks the scanner to start a scan.
func (c *Client) TriggerScan(ctx context.Context, req models.ScanRequest) (*models.ScanTrigger, error) {
	var out models.ScanTrigger
	if err := c.postJSON(ctx, models.AgentScanner, "/scan", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetScanResult fetches the current state of a scan.
func (c *Client) GetScanResult(ctx context.Context, scanID string) (*models.ScanResult, error) {
	var out models.ScanResult
	if err := c.getJSON(ctx, models.AgentScanner, "/scan/"+scanID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollScan polls the scanner at the configured interval until the scan
// finishes, the ceiling elapses (errs.ErrTimeout), or ctx is cancelled.
// A scan that reports failed is a collaborator error, not a timeout.
func (c *Client) PollScan(ctx context.Context, scanID string, ceiling time.Duration) (*models.ScanResult, error) {
	deadline := time.NewTimer(ceiling)
	defer deadline.Stop()
	tick := time.NewTicker(c.pollInterval)
	defer tick.Stop()

	for {
		result, err := c.GetScanResult(ctx, scanID)
		if err != nil {
			return nil, err
		}
		switch result.Status {
		case models.ScanStatusCompleted:
			return result, nil
		case models.ScanStatusFailed:
			msg := result.Error
			if msg == "" {
				msg = "scan failed"
			}
			return nil, &errs.CollaboratorError{Agent: models.AgentScanner, Err: fmt.Errorf("%s", msg)}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("scan %s did not complete within %s: %w", scanID, ceiling, errs.ErrTimeout)
		case <-tick.C:
		}
	}
}

// Assess sends vulnerabilities to the risk-assessment agent.
func (c *Client) Assess(ctx context.Context, req models.AssessRequest) (*models.AssessResult, error) {
	var out models.AssessResult
	if err := c.postJSON(ctx, models.AgentAssessment, "/assess", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemediateBatch submits one batch of vulnerabilities for remediation.
func (c *Client) RemediateBatch(ctx context.Context, req models.RemediateRequest) (*models.RemediateResult, error) {
	var out models.RemediateResult
	if err := c.postJSON(ctx, models.AgentRemediation, "/remediate/batch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, agent, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", agent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.agentURL(agent)+path, bytes.NewReader(body))
	if err != nil {
		return &errs.CollaboratorError{Agent: agent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(agent, req, out)
}

func (c *Client) getJSON(ctx context.Context, agent, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.agentURL(agent)+path, nil)
	if err != nil {
		return &errs.CollaboratorError{Agent: agent, Err: err}
	}
	return c.do(agent, req, out)
}

func (c *Client) do(agent string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errs.CollaboratorError{Agent: agent, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &errs.CollaboratorError{Agent: agent, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errs.CollaboratorError{Agent: agent, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
