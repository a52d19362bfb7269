package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the orchestrator service.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Agents struct {
		ScannerURL     string `mapstructure:"scanner_url"`
		AssessmentURL  string `mapstructure:"assessment_url"`
		RemediationURL string `mapstructure:"remediation_url"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"agents"`

	Workflow struct {
		RequireApprovalP0P1 bool `mapstructure:"require_approval_p0_p1"`
		AutoRemediateP2     bool `mapstructure:"auto_remediate_p2"`
		AutoRemediateP3P4   bool `mapstructure:"auto_remediate_p3_p4"`
		PollIntervalSeconds int  `mapstructure:"poll_interval_seconds"`
		ScanWaitSeconds     int  `mapstructure:"scan_wait_seconds"`
		ApprovalExpiryHours int  `mapstructure:"approval_expiry_hours"`
		AutoCreatePR        bool `mapstructure:"auto_create_pr"`
	} `mapstructure:"workflow"`

	Notifications struct {
		Enabled         bool   `mapstructure:"enabled"`
		TeamsWebhookURL string `mapstructure:"teams_webhook_url"`
		DashboardURL    string `mapstructure:"dashboard_url"`
	} `mapstructure:"notifications"`

	Auth struct {
		Enabled      bool   `mapstructure:"enabled"`
		Issuer       string `mapstructure:"issuer"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// PollInterval returns the scan poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalSeconds) * time.Second
}

// ScanWaitCeiling returns the bounded total wait for scan completion.
func (c *Config) ScanWaitCeiling() time.Duration {
	return time.Duration(c.Workflow.ScanWaitSeconds) * time.Second
}

// AgentTimeout returns the per-request collaborator timeout.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agents.TimeoutSeconds) * time.Second
}

// ApprovalExpiry returns how long approval requests stay actionable.
func (c *Config) ApprovalExpiry() time.Duration {
	return time.Duration(c.Workflow.ApprovalExpiryHours) * time.Hour
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path uses the default search locations.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env carry the load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.Issuer = strings.TrimRight(strings.TrimSpace(config.Auth.Issuer), "/")

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "dev")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("agents.scanner_url", "http://localhost:8001")
	viper.SetDefault("agents.assessment_url", "http://localhost:8002")
	viper.SetDefault("agents.remediation_url", "http://localhost:8003")
	viper.SetDefault("agents.timeout_seconds", 300)
	viper.SetDefault("workflow.require_approval_p0_p1", true)
	viper.SetDefault("workflow.auto_remediate_p2", false)
	viper.SetDefault("workflow.auto_remediate_p3_p4", true)
	viper.SetDefault("workflow.poll_interval_seconds", 5)
	viper.SetDefault("workflow.scan_wait_seconds", 600)
	viper.SetDefault("workflow.approval_expiry_hours", 24)
	viper.SetDefault("workflow.auto_create_pr", false)
	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.dashboard_url", "http://localhost:5173/approvals")
}
