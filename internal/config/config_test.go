package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
shops:
  - name: demo
    shopify_domain: https://demo.myshopify.com/api/2024-01/graphql.json
    meta_page_id: "42"
`

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
	if cfg.Database.DSN != "shoprelay.db" {
		t.Errorf("Database.DSN = %q, want %q", cfg.Database.DSN, "shoprelay.db")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Batching.Delay != DefaultBatchDelay {
		t.Errorf("Batching.Delay = %v, want %v", cfg.Batching.Delay, DefaultBatchDelay)
	}
	if cfg.Batching.HistoryLimit != 12 {
		t.Errorf("Batching.HistoryLimit = %d, want 12", cfg.Batching.HistoryLimit)
	}
	if cfg.Batching.SegmentDelay != time.Second {
		t.Errorf("Batching.SegmentDelay = %v, want 1s", cfg.Batching.SegmentDelay)
	}
	if cfg.Batching.FallbackReply != DefaultFallbackReply {
		t.Errorf("Batching.FallbackReply = %q, want default", cfg.Batching.FallbackReply)
	}
	if cfg.Agent.Model != "gpt-5.2" {
		t.Errorf("Agent.Model = %q, want %q", cfg.Agent.Model, "gpt-5.2")
	}
	if cfg.Agent.ReasoningEffort != "medium" {
		t.Errorf("Agent.ReasoningEffort = %q, want %q", cfg.Agent.ReasoningEffort, "medium")
	}
	if cfg.Agent.MaxSteps != 10 {
		t.Errorf("Agent.MaxSteps = %d, want 10", cfg.Agent.MaxSteps)
	}
	if cfg.Delivery.GraphBaseURL != DefaultGraphBaseURL {
		t.Errorf("Delivery.GraphBaseURL = %q, want %q", cfg.Delivery.GraphBaseURL, DefaultGraphBaseURL)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if !cfg.Shops[0].AutoReplyEnabled() {
		t.Error("AutoReplyEnabled() = false, want true when unset")
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Shops) != 0 {
		t.Errorf("len(Shops) = %d, want 0", len(cfg.Shops))
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: mysql\n  name: relay\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "127.0.0.1")
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Database.Port = %d, want 3306", cfg.Database.Port)
	}
	if cfg.Database.User != "root" {
		t.Errorf("Database.User = %q, want %q", cfg.Database.User, "root")
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad driver", "database:\n  driver: oracle\n", `database.driver "oracle" is not supported`},
		{"mysql without name", "database:\n  driver: mysql\n", "database.name is required for mysql"},
		{"bad effort", "agent:\n  reasoning_effort: extreme\n", "agent.reasoning_effort"},
		{"bad provider", "agent:\n  provider: google\n", `agent.provider "google" is not supported`},
		{"bad cron", "maintenance:\n  archive_cron: \"every day\"\n", "maintenance.archive_cron"},
		{"bad log format", "logging:\n  format: xml\n", "logging.format"},
		{"negative delay", "batching:\n  delay: -5s\n", "batching.delay must not be negative"},
		{"shop without name", "shops:\n  - shopify_domain: x\n    meta_page_id: \"1\"\n", "shops[0].name is required"},
		{"shop without domain", "shops:\n  - name: a\n    meta_page_id: \"1\"\n", "shops[0].shopify_domain is required"},
		{"shop without account", "shops:\n  - name: a\n    shopify_domain: x\n", "needs at least one of"},
		{"malformed telegram token", "shops:\n  - name: a\n    shopify_domain: x\n    telegram_bot_token: nocolon\n", "telegram_bot_token is malformed"},
		{"duplicate shop", "shops:\n  - name: a\n    shopify_domain: x\n    meta_page_id: \"1\"\n  - name: a\n    shopify_domain: y\n    meta_page_id: \"2\"\n", `shops[1].name "a" is duplicated`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
			if !strings.HasPrefix(err.Error(), "config: validation failed:") {
				t.Errorf("error = %q, want validation prefix", err.Error())
			}
		})
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	_, err := Parse([]byte("database:\n  driver: oracle\nlogging:\n  format: xml\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"database.driver", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want to contain %q", err.Error(), want)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("shops: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse")
	}
}

func TestParse_EnvOverridesSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("SHOPRELAY_META_APP_SECRET", "env-secret")
	t.Setenv("META_VERIFY_TOKEN", "env-verify")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")

	cfg, err := Parse([]byte("agent:\n  api_key: sk-file\nserver:\n  app_secret: file-secret\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.APIKey != "sk-env" {
		t.Errorf("Agent.APIKey = %q, want %q", cfg.Agent.APIKey, "sk-env")
	}
	if cfg.Server.AppSecret != "env-secret" {
		t.Errorf("Server.AppSecret = %q, want %q", cfg.Server.AppSecret, "env-secret")
	}
	if cfg.Server.VerifyToken != "env-verify" {
		t.Errorf("Server.VerifyToken = %q, want %q", cfg.Server.VerifyToken, "env-verify")
	}
	if cfg.Alerts.Slack.BotToken != "xoxb-env" {
		t.Errorf("Alerts.Slack.BotToken = %q, want %q", cfg.Alerts.Slack.BotToken, "xoxb-env")
	}
}

func TestShopConfig_TelegramBotID(t *testing.T) {
	tests := []struct {
		token, want string
	}{
		{"555:AAbbCC", "555"},
		{"", ""},
		{"nocolon", ""},
	}
	for _, tt := range tests {
		s := ShopConfig{TelegramBotToken: tt.token}
		if got := s.TelegramBotID(); got != tt.want {
			t.Errorf("TelegramBotID(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shoprelay.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Shops) != 1 || cfg.Shops[0].Name != "demo" {
		t.Errorf("Shops = %+v, want one shop named demo", cfg.Shops)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/shoprelay.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

func TestLoad_FullFixture(t *testing.T) {
	cfg, err := Load("testdata/valid_full.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Port != 3307 {
		t.Errorf("Database = %+v, want mysql on 3307", cfg.Database)
	}
	if cfg.Batching.Delay != 10*time.Second {
		t.Errorf("Batching.Delay = %v, want 10s", cfg.Batching.Delay)
	}
	if cfg.Batching.SegmentDelay != 500*time.Millisecond {
		t.Errorf("Batching.SegmentDelay = %v, want 500ms", cfg.Batching.SegmentDelay)
	}
	if cfg.Agent.FallbackModel != "gpt-4o" {
		t.Errorf("Agent.FallbackModel = %q, want %q", cfg.Agent.FallbackModel, "gpt-4o")
	}
	if cfg.Maintenance.ArchiveAfter != 720*time.Hour {
		t.Errorf("Maintenance.ArchiveAfter = %v, want 720h", cfg.Maintenance.ArchiveAfter)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = false, want true")
	}
	if len(cfg.Shops) != 2 {
		t.Fatalf("len(Shops) = %d, want 2", len(cfg.Shops))
	}
	if got := cfg.Shops[0].TelegramBotID(); got != "555" {
		t.Errorf("Shops[0].TelegramBotID() = %q, want %q", got, "555")
	}
	if cfg.Shops[1].AutoReplyEnabled() {
		t.Error("Shops[1].AutoReplyEnabled() = true, want false")
	}
}
