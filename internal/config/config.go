package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultDebounceWindowSeconds  = 600
	defaultPollIntervalSeconds    = 60
	defaultJenkinsTimeoutSeconds  = 30
	defaultAnalysisTimeoutSeconds = 120
	defaultNotifyTimeoutSeconds   = 30
	defaultMaxAttempts            = 3
	defaultRetryInitialBackoffMS  = 500
	defaultLogTailKB              = 64
	defaultLogHeadLines           = 50
	defaultWorkerCount            = 4
	defaultWebhookAddr            = ":8080"
)

type Config struct {
	JenkinsURL      string   `yaml:"jenkins_url"`
	JenkinsUsername string   `yaml:"jenkins_username"`
	JenkinsAPIToken string   `yaml:"jenkins_api_token"`
	Jobs            []string `yaml:"jobs"`

	FailureScope       string `yaml:"failure_scope"`
	BranchFilter       string `yaml:"branch_filter"`
	EnableBranchFilter bool   `yaml:"enable_branch_filter"`

	DebounceWindowSeconds int    `yaml:"debounce_window_seconds"`
	PollIntervalSeconds   int    `yaml:"poll_interval_seconds"`
	PollSchedule          string `yaml:"poll_schedule"`

	WebhookAddr   string `yaml:"webhook_addr"`
	WebhookSecret string `yaml:"webhook_secret"`

	DBPath string `yaml:"db_path"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	JenkinsTimeoutSeconds  int `yaml:"jenkins_timeout_seconds"`
	AnalysisTimeoutSeconds int `yaml:"analysis_timeout_seconds"`
	NotifyTimeoutSeconds   int `yaml:"notify_timeout_seconds"`
	MaxAttempts            int `yaml:"max_attempts"`
	RetryInitialBackoffMS  int `yaml:"retry_initial_backoff_ms"`

	LogTailKB    int `yaml:"log_tail_kb"`
	LogHeadLines int `yaml:"log_head_lines"`
	WorkerCount  int `yaml:"worker_count"`

	EnableDetailedAnalysis   bool `yaml:"enable_detailed_analysis"`
	EnableSecurityScan       bool `yaml:"enable_security_scan"`
	EnablePerformanceMetrics bool `yaml:"enable_performance_metrics"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	TeamsWebhookURL string `yaml:"teams_webhook_url"`
	TeamsTeamID     string `yaml:"teams_team_id"`

	EnableSummaryChannel bool   `yaml:"enable_summary_channel"`
	SummaryPlatform      string `yaml:"summary_platform"`
	SummaryChannelID     string `yaml:"summary_channel_id"`

	LogLevel string `yaml:"log_level"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.JenkinsURL, "JENKINS_URL")
	envOverride(&cfg.JenkinsUsername, "JENKINS_USERNAME")
	envOverride(&cfg.JenkinsAPIToken, "JENKINS_API_TOKEN")
	envOverride(&cfg.FailureScope, "FAILURE_SCOPE")
	envOverride(&cfg.BranchFilter, "BRANCH_FILTER")
	envOverrideBool(&cfg.EnableBranchFilter, "ENABLE_BRANCH_FILTER")
	envOverrideInt(&cfg.DebounceWindowSeconds, "DEBOUNCE_WINDOW_SECONDS")
	envOverrideInt(&cfg.PollIntervalSeconds, "POLL_INTERVAL_SECONDS")
	envOverride(&cfg.PollSchedule, "POLL_SCHEDULE")
	envOverride(&cfg.WebhookAddr, "WEBHOOK_ADDR")
	envOverride(&cfg.WebhookSecret, "WEBHOOK_SECRET")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideInt(&cfg.JenkinsTimeoutSeconds, "JENKINS_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.AnalysisTimeoutSeconds, "ANALYSIS_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.NotifyTimeoutSeconds, "NOTIFY_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.MaxAttempts, "MAX_ATTEMPTS")
	envOverrideInt(&cfg.RetryInitialBackoffMS, "RETRY_INITIAL_BACKOFF_MS")
	envOverrideInt(&cfg.LogTailKB, "LOG_TAIL_KB")
	envOverrideInt(&cfg.LogHeadLines, "LOG_HEAD_LINES")
	envOverrideInt(&cfg.WorkerCount, "WORKER_COUNT")
	envOverrideBool(&cfg.EnableDetailedAnalysis, "ENABLE_DETAILED_ANALYSIS")
	envOverrideBool(&cfg.EnableSecurityScan, "ENABLE_SECURITY_SCAN")
	envOverrideBool(&cfg.EnablePerformanceMetrics, "ENABLE_PERFORMANCE_METRICS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.TeamsWebhookURL, "TEAMS_WEBHOOK_URL")
	envOverride(&cfg.TeamsTeamID, "TEAMS_TEAM_ID")
	envOverrideBool(&cfg.EnableSummaryChannel, "ENABLE_SUMMARY_CHANNEL")
	envOverride(&cfg.SummaryPlatform, "SUMMARY_PLATFORM")
	envOverride(&cfg.SummaryChannelID, "SUMMARY_CHANNEL_ID")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")

	if names := os.Getenv("JOBS"); names != "" {
		cfg.Jobs = nil
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.Jobs = append(cfg.Jobs, name)
			}
		}
	}

	// Defaults
	if cfg.FailureScope == "" {
		cfg.FailureScope = "failures"
	}
	if cfg.DebounceWindowSeconds == 0 {
		cfg.DebounceWindowSeconds = defaultDebounceWindowSeconds
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if cfg.WebhookAddr == "" {
		cfg.WebhookAddr = defaultWebhookAddr
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./buildwatch.db"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.JenkinsTimeoutSeconds == 0 {
		cfg.JenkinsTimeoutSeconds = defaultJenkinsTimeoutSeconds
	}
	if cfg.AnalysisTimeoutSeconds == 0 {
		cfg.AnalysisTimeoutSeconds = defaultAnalysisTimeoutSeconds
	}
	if cfg.NotifyTimeoutSeconds == 0 {
		cfg.NotifyTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryInitialBackoffMS == 0 {
		cfg.RetryInitialBackoffMS = defaultRetryInitialBackoffMS
	}
	if cfg.LogTailKB == 0 {
		cfg.LogTailKB = defaultLogTailKB
	}
	if cfg.LogHeadLines == 0 {
		cfg.LogHeadLines = defaultLogHeadLines
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Validate required fields
	required := map[string]string{
		"jenkins_url":       cfg.JenkinsURL,
		"jenkins_username":  cfg.JenkinsUsername,
		"jenkins_api_token": cfg.JenkinsAPIToken,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	switch cfg.FailureScope {
	case "failures", "non_success", "all":
	default:
		log.Fatalf("failure_scope must be 'failures', 'non_success' or 'all', got '%s'", cfg.FailureScope)
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if !cfg.SlackConfigured() && !cfg.TeamsConfigured() {
		log.Fatalf("at least one notification transport is required (slack_bot_token+slack_channel_id or teams_webhook_url)")
	}
	if cfg.SlackBotToken != "" && cfg.SlackChannelID == "" {
		log.Fatalf("slack_channel_id is required when slack_bot_token is set")
	}

	if cfg.EnableSummaryChannel {
		if cfg.SummaryChannelID == "" {
			log.Fatalf("summary_channel_id is required when enable_summary_channel is set")
		}
		switch cfg.SummaryPlatform {
		case "":
			cfg.SummaryPlatform = "slack"
		case "slack", "teams":
		default:
			log.Fatalf("summary_platform must be 'slack' or 'teams', got '%s'", cfg.SummaryPlatform)
		}
		if cfg.SummaryPlatform == "slack" && !cfg.SlackConfigured() {
			log.Fatalf("summary_platform=slack requires slack to be configured")
		}
		if cfg.SummaryPlatform == "teams" && !cfg.TeamsConfigured() {
			log.Fatalf("summary_platform=teams requires teams to be configured")
		}
	}

	switch cfg.LogLevel {
	case "debug", "info":
	default:
		log.Fatalf("log_level must be 'debug' or 'info', got '%s'", cfg.LogLevel)
	}

	for name, val := range map[string]int{
		"debounce_window_seconds":  cfg.DebounceWindowSeconds,
		"poll_interval_seconds":    cfg.PollIntervalSeconds,
		"jenkins_timeout_seconds":  cfg.JenkinsTimeoutSeconds,
		"analysis_timeout_seconds": cfg.AnalysisTimeoutSeconds,
		"notify_timeout_seconds":   cfg.NotifyTimeoutSeconds,
		"max_attempts":             cfg.MaxAttempts,
		"retry_initial_backoff_ms": cfg.RetryInitialBackoffMS,
		"log_tail_kb":              cfg.LogTailKB,
		"log_head_lines":           cfg.LogHeadLines,
		"worker_count":             cfg.WorkerCount,
	} {
		if val < 1 {
			log.Fatalf("invalid %s '%d': must be >= 1", name, val)
		}
	}

	// A branch filter value without the enable flag is ignored by the
	// filter engine; surface that so the operator notices.
	if cfg.BranchFilter != "" && !cfg.EnableBranchFilter {
		log.Printf("Warning: branch_filter='%s' is set but enable_branch_filter is false; branch filtering is inactive", cfg.BranchFilter)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) TeamsConfigured() bool {
	return c.TeamsWebhookURL != ""
}

// WebhookConfigured reports whether push-mode ingestion is enabled. The
// shared secret is mandatory for push mode; without it only polling runs.
func (c Config) WebhookConfigured() bool {
	return c.WebhookSecret != ""
}

func (c Config) Debug() bool { return c.LogLevel == "debug" }

func (c Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) JenkinsTimeout() time.Duration {
	return time.Duration(c.JenkinsTimeoutSeconds) * time.Second
}

func (c Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutSeconds) * time.Second
}

func (c Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}

func (c Config) RetryInitialBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoffMS) * time.Millisecond
}
