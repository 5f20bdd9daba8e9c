package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string
	BaseURL     string

	MonitorIntervalSec   int
	MonitorConcurrency   int
	ResumerIntervalSec   int
	StaleJobIntervalSec  int
	PlaybookDir          string
	PlaybookWatchEnabled bool
	ScriptWorkDir        string
	ScriptMemoryLimitMB  int
	DefaultScriptTimeout int
	ConditionPollSec     int
	ConditionTimeoutSec  int
	WebhookTimeoutSec    int
	DeliveryMaxAttempts  int
	CircuitWindowSec     int
	CircuitMaxExecutions int
	RateLimitHeartbeat   int
	RateLimitManagement  int
	RateLimitWindowSec   int
	WorkingHoursStart    int
	WorkingHoursEnd      int
	WorkingHoursTimezone string
	AdditionalScriptEnv  string
	AllowedWebhookHosts  string

	SecretsKey           string
	WebhookSigningSecret string
	SlackAPIToken        string
	SlackChannelID       string
	SlackSigningSecret   string
	PagerDutyRoutingKey  string
	PagerDutyEventsURL   string
	LogLevel             string
}

func FromEnv() Config {
	dataDir := stringOrDefault("MEDIC_DATA_DIR", "/data")
	dbPath := stringOrDefault("MEDIC_DB_PATH", filepath.Join(dataDir, "medic", "medic.sqlite"))

	return Config{
		Environment: stringOrDefault("MEDIC_ENV", "development"),
		HTTPAddr:    stringOrDefault("MEDIC_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      dbPath,
		BaseURL:     stringOrDefault("MEDIC_BASE_URL", "http://localhost:8080"),

		MonitorIntervalSec:   intOrDefault("MEDIC_MONITOR_INTERVAL_SECONDS", 15),
		MonitorConcurrency:   intOrDefault("MEDIC_MONITOR_CONCURRENCY", 8),
		ResumerIntervalSec:   intOrDefault("MEDIC_RESUMER_INTERVAL_SECONDS", 15),
		StaleJobIntervalSec:  intOrDefault("MEDIC_STALE_JOB_INTERVAL_SECONDS", 60),
		PlaybookDir:          strings.TrimSpace(os.Getenv("MEDIC_PLAYBOOK_DIR")),
		PlaybookWatchEnabled: boolOrDefault("MEDIC_PLAYBOOK_WATCH_ENABLED", true),
		ScriptWorkDir:        stringOrDefault("MEDIC_SCRIPT_WORK_DIR", os.TempDir()),
		ScriptMemoryLimitMB:  intOrDefault("MEDIC_SCRIPT_MEMORY_LIMIT_MB", 256),
		DefaultScriptTimeout: intOrDefault("MEDIC_SCRIPT_TIMEOUT_SECONDS", 30),
		ConditionPollSec:     intOrDefault("MEDIC_CONDITION_POLL_SECONDS", 5),
		ConditionTimeoutSec:  intOrDefault("MEDIC_CONDITION_TIMEOUT_SECONDS", 300),
		WebhookTimeoutSec:    intOrDefault("MEDIC_WEBHOOK_TIMEOUT_SECONDS", 30),
		DeliveryMaxAttempts:  intOrDefault("MEDIC_DELIVERY_MAX_ATTEMPTS", 3),
		CircuitWindowSec:     intOrDefault("MEDIC_CIRCUIT_WINDOW_SECONDS", 3600),
		CircuitMaxExecutions: intOrDefault("MEDIC_CIRCUIT_MAX_EXECUTIONS", 5),
		RateLimitHeartbeat:   intOrDefault("MEDIC_RATE_LIMIT_HEARTBEAT", 100),
		RateLimitManagement:  intOrDefault("MEDIC_RATE_LIMIT_MANAGEMENT", 20),
		RateLimitWindowSec:   intOrDefault("MEDIC_RATE_LIMIT_WINDOW_SECONDS", 60),
		WorkingHoursStart:    intOrDefault("MEDIC_WORKING_HOURS_START", 9),
		WorkingHoursEnd:      intOrDefault("MEDIC_WORKING_HOURS_END", 17),
		WorkingHoursTimezone: stringOrDefault("MEDIC_WORKING_HOURS_TIMEZONE", "America/Chicago"),
		AdditionalScriptEnv:  strings.TrimSpace(os.Getenv("MEDIC_ADDITIONAL_SCRIPT_ENV_VARS")),
		AllowedWebhookHosts:  strings.TrimSpace(os.Getenv("MEDIC_ALLOWED_WEBHOOK_HOSTS")),

		SecretsKey:           strings.TrimSpace(os.Getenv("MEDIC_SECRETS_KEY")),
		WebhookSigningSecret: os.Getenv("MEDIC_WEBHOOK_SECRET"),
		SlackAPIToken:        strings.TrimSpace(os.Getenv("SLACK_API_TOKEN")),
		SlackChannelID:       strings.TrimSpace(os.Getenv("SLACK_CHANNEL_ID")),
		SlackSigningSecret:   os.Getenv("SLACK_SIGNING_SECRET"),
		PagerDutyRoutingKey:  strings.TrimSpace(os.Getenv("PAGERDUTY_ROUTING_KEY")),
		PagerDutyEventsURL:   stringOrDefault("PAGERDUTY_EVENTS_URL", "https://events.pagerduty.com/v2/enqueue"),
		LogLevel:             stringOrDefault("LOG_LEVEL", "info"),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
