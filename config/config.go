package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort        = "8080"
	defaultProvider    = ProviderGitLab
	defaultGitLabURL   = "https://gitlab.com"
	defaultWorkflow    = "deploy.yml"
	defaultHTTPTimeout = 10 * time.Second
	maxHTTPTimeout     = 10 * time.Second
	defaultWorkerLimit = 16
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

// CI providers.
const (
	ProviderGitLab = "gitlab"
	ProviderGitHub = "github"
)

type Config struct {
	SlackBotToken      string
	SlackSigningSecret string
	SlackAppToken      string
	SlackAPIURL        string

	CIProvider string

	GitLabURL          string
	GitLabToken        string
	GitLabProjectID    string
	GitLabTriggerToken string

	GitHubToken        string
	GitHubRepository   string
	GitHubWorkflow     string
	GitHubTriggerToken string

	DialogflowProjectID   string
	DialogflowAccessToken string

	WebhookAllowedCIDRs string
	TrustedProxyCIDRs   string
	RepliesFile         string
	HTTPTimeout         time.Duration
	WorkerLimit         int64
	Port                string
	LogLevel            string
	LogFormat           string
}

// DialogflowConfigured returns true when both Dialogflow settings are present.
func (c *Config) DialogflowConfigured() bool {
	return c.DialogflowProjectID != "" && c.DialogflowAccessToken != ""
}

// SocketMode returns true when an app-level token is configured.
func (c *Config) SocketMode() bool {
	return c.SlackAppToken != ""
}

func Load() (*Config, error) {
	cfg := &Config{
		SlackBotToken:         os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret:    os.Getenv("SLACK_SIGNING_SECRET"),
		SlackAppToken:         os.Getenv("SLACK_APP_TOKEN"),
		SlackAPIURL:           os.Getenv("SLACK_API_URL"),
		CIProvider:            strings.ToLower(strings.TrimSpace(os.Getenv("CI_PROVIDER"))),
		GitLabURL:             os.Getenv("GITLAB_URL"),
		GitLabToken:           os.Getenv("GITLAB_TOKEN"),
		GitLabProjectID:       os.Getenv("GITLAB_PROJECT_ID"),
		GitLabTriggerToken:    os.Getenv("GITLAB_TRIGGER_TOKEN"),
		GitHubToken:           os.Getenv("GITHUB_TOKEN"),
		GitHubRepository:      os.Getenv("GITHUB_REPOSITORY"),
		GitHubWorkflow:        os.Getenv("GITHUB_WORKFLOW"),
		GitHubTriggerToken:    os.Getenv("GITHUB_TRIGGER_TOKEN"),
		DialogflowProjectID:   os.Getenv("DIALOGFLOW_PROJECT_ID"),
		DialogflowAccessToken: os.Getenv("DIALOGFLOW_ACCESS_TOKEN"),
		WebhookAllowedCIDRs:   os.Getenv("WEBHOOK_ALLOWED_CIDRS"),
		TrustedProxyCIDRs:     os.Getenv("TRUSTED_PROXY_CIDRS"),
		RepliesFile:           os.Getenv("REPLIES_FILE"),
		Port:                  os.Getenv("PORT"),
		LogLevel:              os.Getenv("LOG_LEVEL"),
		LogFormat:             strings.ToLower(os.Getenv("LOG_FORMAT")),
	}

	if cfg.SlackBotToken == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if cfg.SlackSigningSecret == "" {
		return nil, fmt.Errorf("SLACK_SIGNING_SECRET is required")
	}

	if cfg.CIProvider == "" {
		cfg.CIProvider = defaultProvider
	}
	switch cfg.CIProvider {
	case ProviderGitLab:
		if cfg.GitLabToken == "" {
			return nil, fmt.Errorf("GITLAB_TOKEN is required")
		}
		if cfg.GitLabProjectID == "" {
			return nil, fmt.Errorf("GITLAB_PROJECT_ID is required")
		}
		if cfg.GitLabURL == "" {
			cfg.GitLabURL = defaultGitLabURL
		}
	case ProviderGitHub:
		if cfg.GitHubToken == "" {
			return nil, fmt.Errorf("GITHUB_TOKEN is required")
		}
		if cfg.GitHubRepository == "" {
			return nil, fmt.Errorf("GITHUB_REPOSITORY is required")
		}
		if cfg.GitHubWorkflow == "" {
			cfg.GitHubWorkflow = defaultWorkflow
		}
	default:
		return nil, fmt.Errorf("CI_PROVIDER must be %q or %q, got %q", ProviderGitLab, ProviderGitHub, cfg.CIProvider)
	}

	// Dialogflow is optional but both halves must be set together.
	if (cfg.DialogflowProjectID == "") != (cfg.DialogflowAccessToken == "") {
		return nil, fmt.Errorf("DIALOGFLOW_PROJECT_ID and DIALOGFLOW_ACCESS_TOKEN must be set together")
	}

	timeout, err := durationEnv("HTTP_TIMEOUT", defaultHTTPTimeout)
	if err != nil {
		return nil, err
	}
	if timeout > maxHTTPTimeout {
		timeout = maxHTTPTimeout
	}
	cfg.HTTPTimeout = timeout

	limit, err := intEnv("WORKER_LIMIT", defaultWorkerLimit)
	if err != nil {
		return nil, err
	}
	cfg.WorkerLimit = limit

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func intEnv(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}
