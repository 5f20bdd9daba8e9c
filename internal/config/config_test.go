package config

import (
	"testing"
)

// defaultEnv clears every variable the assertions below depend on so ambient
// shell state cannot leak into the test.
func defaultEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MEDIC_ENV", "MEDIC_HTTP_ADDR", "MEDIC_DATA_DIR", "MEDIC_DB_PATH",
		"MEDIC_MONITOR_INTERVAL_SECONDS", "MEDIC_MONITOR_CONCURRENCY",
		"MEDIC_PLAYBOOK_DIR", "MEDIC_PLAYBOOK_WATCH_ENABLED",
		"MEDIC_RATE_LIMIT_HEARTBEAT", "MEDIC_RATE_LIMIT_MANAGEMENT",
		"MEDIC_RATE_LIMIT_WINDOW_SECONDS", "MEDIC_WORKING_HOURS_START",
		"MEDIC_WORKING_HOURS_END", "MEDIC_WORKING_HOURS_TIMEZONE",
		"MEDIC_DELIVERY_MAX_ATTEMPTS", "MEDIC_SECRETS_KEY",
		"MEDIC_WEBHOOK_SECRET", "PAGERDUTY_EVENTS_URL", "LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	defaultEnv(t)
	cfg := FromEnv()

	if cfg.Environment != "development" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.DataDir != "/data" || cfg.DBPath != "/data/medic/medic.sqlite" {
		t.Fatalf("unexpected data paths %q %q", cfg.DataDir, cfg.DBPath)
	}
	if cfg.MonitorIntervalSec != 15 || cfg.MonitorConcurrency != 8 {
		t.Fatalf("unexpected monitor defaults %d %d", cfg.MonitorIntervalSec, cfg.MonitorConcurrency)
	}
	if cfg.RateLimitHeartbeat != 100 || cfg.RateLimitManagement != 20 || cfg.RateLimitWindowSec != 60 {
		t.Fatalf("unexpected rate limit defaults %d %d %d",
			cfg.RateLimitHeartbeat, cfg.RateLimitManagement, cfg.RateLimitWindowSec)
	}
	if cfg.WorkingHoursStart != 9 || cfg.WorkingHoursEnd != 17 || cfg.WorkingHoursTimezone != "America/Chicago" {
		t.Fatalf("unexpected working hours %d-%d %q",
			cfg.WorkingHoursStart, cfg.WorkingHoursEnd, cfg.WorkingHoursTimezone)
	}
	if !cfg.PlaybookWatchEnabled || cfg.PlaybookDir != "" {
		t.Fatalf("unexpected playbook defaults %v %q", cfg.PlaybookWatchEnabled, cfg.PlaybookDir)
	}
	if cfg.DeliveryMaxAttempts != 3 || cfg.ConditionPollSec != 5 || cfg.ConditionTimeoutSec != 300 {
		t.Fatalf("unexpected delivery/condition defaults %d %d %d",
			cfg.DeliveryMaxAttempts, cfg.ConditionPollSec, cfg.ConditionTimeoutSec)
	}
	if cfg.ScriptMemoryLimitMB != 256 {
		t.Fatalf("unexpected script memory limit %d", cfg.ScriptMemoryLimitMB)
	}
	if cfg.SecretsKey != "" || cfg.WebhookSigningSecret != "" {
		t.Fatal("secrets must default to unset")
	}
	if cfg.PagerDutyEventsURL != "https://events.pagerduty.com/v2/enqueue" {
		t.Fatalf("unexpected pagerduty url %q", cfg.PagerDutyEventsURL)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected log level %q", cfg.LogLevel)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	defaultEnv(t)
	t.Setenv("MEDIC_ENV", "production")
	t.Setenv("MEDIC_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("MEDIC_DATA_DIR", "/var/lib/medic")
	t.Setenv("MEDIC_MONITOR_INTERVAL_SECONDS", "30")
	t.Setenv("MEDIC_PLAYBOOK_DIR", "/etc/medic/playbooks")
	t.Setenv("MEDIC_PLAYBOOK_WATCH_ENABLED", "off")
	t.Setenv("MEDIC_RATE_LIMIT_HEARTBEAT", "500")
	t.Setenv("MEDIC_WORKING_HOURS_TIMEZONE", "Europe/Berlin")
	t.Setenv("MEDIC_WEBHOOK_SECRET", "hunter2")

	cfg := FromEnv()
	if cfg.Environment != "production" || cfg.HTTPAddr != "127.0.0.1:9090" {
		t.Fatalf("unexpected overrides %q %q", cfg.Environment, cfg.HTTPAddr)
	}
	if cfg.DataDir != "/var/lib/medic" || cfg.DBPath != "/var/lib/medic/medic/medic.sqlite" {
		t.Fatalf("expected db path derived from data dir, got %q", cfg.DBPath)
	}
	if cfg.MonitorIntervalSec != 30 {
		t.Fatalf("unexpected monitor interval %d", cfg.MonitorIntervalSec)
	}
	if cfg.PlaybookDir != "/etc/medic/playbooks" || cfg.PlaybookWatchEnabled {
		t.Fatalf("unexpected playbook settings %q %v", cfg.PlaybookDir, cfg.PlaybookWatchEnabled)
	}
	if cfg.RateLimitHeartbeat != 500 {
		t.Fatalf("unexpected heartbeat limit %d", cfg.RateLimitHeartbeat)
	}
	if cfg.WorkingHoursTimezone != "Europe/Berlin" {
		t.Fatalf("unexpected timezone %q", cfg.WorkingHoursTimezone)
	}
	if cfg.WebhookSigningSecret != "hunter2" {
		t.Fatalf("unexpected signing secret %q", cfg.WebhookSigningSecret)
	}
}

func TestFromEnvExplicitDBPathWins(t *testing.T) {
	defaultEnv(t)
	t.Setenv("MEDIC_DATA_DIR", "/var/lib/medic")
	t.Setenv("MEDIC_DB_PATH", "/mnt/fast/medic.sqlite")

	cfg := FromEnv()
	if cfg.DBPath != "/mnt/fast/medic.sqlite" {
		t.Fatalf("explicit db path must win, got %q", cfg.DBPath)
	}
}

func TestIntOrDefaultRejectsGarbage(t *testing.T) {
	defaultEnv(t)
	cases := map[string]int{"abc": 15, "0": 15, "-3": 15, " 45 ": 45}
	for value, want := range cases {
		t.Setenv("MEDIC_MONITOR_INTERVAL_SECONDS", value)
		if cfg := FromEnv(); cfg.MonitorIntervalSec != want {
			t.Fatalf("interval for %q = %d, want %d", value, cfg.MonitorIntervalSec, want)
		}
	}
}

func TestBoolOrDefaultSpellings(t *testing.T) {
	defaultEnv(t)
	cases := map[string]bool{
		"1": true, "true": true, "YES": true, "on": true,
		"0": false, "false": false, "no": false, "OFF": false,
		"bogus": true,
	}
	for value, want := range cases {
		t.Setenv("MEDIC_PLAYBOOK_WATCH_ENABLED", value)
		if cfg := FromEnv(); cfg.PlaybookWatchEnabled != want {
			t.Fatalf("watch enabled for %q = %v, want %v", value, cfg.PlaybookWatchEnabled, want)
		}
	}
}
