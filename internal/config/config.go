// Package config provides YAML-based configuration loading for shoprelay.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level shoprelay configuration, loaded from shoprelay.yaml.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	Batching    BatchingConfig    `yaml:"batching"`
	Agent       AgentConfig       `yaml:"agent"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Shops       []ShopConfig      `yaml:"shops"`
}

// DatabaseConfig selects the storage driver. DSN wins over the discrete
// MySQL fields when both are set.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// ServerConfig holds webhook and operator API settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret"`
}

// BatchingConfig tunes the debounce window and the batch worker.
type BatchingConfig struct {
	Delay         time.Duration `yaml:"delay"`
	HistoryLimit  int           `yaml:"history_limit"`
	SegmentDelay  time.Duration `yaml:"segment_delay"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	Workers       int           `yaml:"workers"`
	FallbackReply string        `yaml:"fallback_reply"`
}

// AgentConfig configures the LLM runner.
type AgentConfig struct {
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	FallbackModel   string `yaml:"fallback_model"`
	ReasoningEffort string `yaml:"reasoning_effort"`
	MaxSteps        int    `yaml:"max_steps"`
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
}

// DeliveryConfig configures outbound platform calls.
type DeliveryConfig struct {
	GraphBaseURL        string  `yaml:"graph_base_url"`
	TelegramEndpoint    string  `yaml:"telegram_endpoint"`
	RatePerSecond       float64 `yaml:"rate_per_second"`
	Burst               int     `yaml:"burst"`
	FallbackAccessToken string  `yaml:"fallback_access_token"`
}

// AlertsConfig holds operator notification targets. Empty tokens disable
// the corresponding notifier.
type AlertsConfig struct {
	Slack   ChannelAlertConfig `yaml:"slack"`
	Discord ChannelAlertConfig `yaml:"discord"`
}

// ChannelAlertConfig is a bot token plus the channel alerts are posted to.
type ChannelAlertConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// MaintenanceConfig schedules the periodic sweeps.
type MaintenanceConfig struct {
	ArchiveCron  string        `yaml:"archive_cron"`
	ArchiveAfter time.Duration `yaml:"archive_after"`
	ReapCron     string        `yaml:"reap_cron"`
	ReceiptTTL   time.Duration `yaml:"receipt_ttl"`
}

// TelemetryConfig toggles OpenTelemetry metrics.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// ShopConfig seeds a shop row on migrate.
type ShopConfig struct {
	Name                string `yaml:"name"`
	ShopifyDomain       string `yaml:"shopify_domain"`
	ShopifyAccessToken  string `yaml:"shopify_access_token"`
	MetaPageID          string `yaml:"meta_page_id"`
	MetaPageAccessToken string `yaml:"meta_page_access_token"`
	InstagramAccountID  string `yaml:"instagram_account_id"`
	TelegramBotToken    string `yaml:"telegram_bot_token"`
	AutoReply           *bool  `yaml:"auto_reply"`
}

// TelegramBotID returns the numeric bot id, which Telegram encodes as the
// prefix of the bot token.
func (s ShopConfig) TelegramBotID() string {
	id, _, ok := strings.Cut(s.TelegramBotToken, ":")
	if !ok {
		return ""
	}
	return id
}

// AutoReplyEnabled defaults to true when unset.
func (s ShopConfig) AutoReplyEnabled() bool {
	return s.AutoReply == nil || *s.AutoReply
}

// Defaults.
const (
	DefaultBatchDelay    = 70 * time.Second
	DefaultHistoryLimit  = 12
	DefaultModel         = "gpt-5.2"
	DefaultFallbackReply = "Thanks for your message. We could not identify this shop yet."
	DefaultGraphBaseURL  = "https://graph.facebook.com/v18.0"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secrets found in the
// environment override the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(newEnv())
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newEnv binds the environment variables that may carry secrets. Each key
// accepts a SHOPRELAY_ prefixed name and a conventional bare name.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SHOPRELAY")
	v.AutomaticEnv()
	v.BindEnv("openai_api_key", "SHOPRELAY_OPENAI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("database_dsn", "SHOPRELAY_DATABASE_DSN", "DATABASE_DSN")
	v.BindEnv("meta_app_secret", "SHOPRELAY_META_APP_SECRET", "META_APP_SECRET")
	v.BindEnv("meta_verify_token", "SHOPRELAY_META_VERIFY_TOKEN", "META_VERIFY_TOKEN")
	v.BindEnv("meta_page_access_token", "SHOPRELAY_META_PAGE_ACCESS_TOKEN", "META_PAGE_ACCESS_TOKEN")
	v.BindEnv("slack_bot_token", "SHOPRELAY_SLACK_BOT_TOKEN", "SLACK_BOT_TOKEN")
	v.BindEnv("discord_bot_token", "SHOPRELAY_DISCORD_BOT_TOKEN", "DISCORD_BOT_TOKEN")
	return v
}

func (c *Config) applyEnv(v *viper.Viper) {
	if s := v.GetString("openai_api_key"); s != "" {
		c.Agent.APIKey = s
	}
	if s := v.GetString("database_dsn"); s != "" {
		c.Database.DSN = s
	}
	if s := v.GetString("meta_app_secret"); s != "" {
		c.Server.AppSecret = s
	}
	if s := v.GetString("meta_verify_token"); s != "" {
		c.Server.VerifyToken = s
	}
	if s := v.GetString("meta_page_access_token"); s != "" {
		c.Delivery.FallbackAccessToken = s
	}
	if s := v.GetString("slack_bot_token"); s != "" {
		c.Alerts.Slack.BotToken = s
	}
	if s := v.GetString("discord_bot_token"); s != "" {
		c.Alerts.Discord.BotToken = s
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = "shoprelay.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Batching.Delay == 0 {
		c.Batching.Delay = DefaultBatchDelay
	}
	if c.Batching.HistoryLimit == 0 {
		c.Batching.HistoryLimit = DefaultHistoryLimit
	}
	if c.Batching.SegmentDelay == 0 {
		c.Batching.SegmentDelay = time.Second
	}
	if c.Batching.PollInterval == 0 {
		c.Batching.PollInterval = time.Second
	}
	if c.Batching.StaleAfter == 0 {
		c.Batching.StaleAfter = 10 * time.Minute
	}
	if c.Batching.Workers == 0 {
		c.Batching.Workers = 4
	}
	if c.Batching.FallbackReply == "" {
		c.Batching.FallbackReply = DefaultFallbackReply
	}
	if c.Agent.Provider == "" {
		c.Agent.Provider = "openai"
	}
	if c.Agent.Model == "" {
		c.Agent.Model = DefaultModel
	}
	if c.Agent.FallbackModel == "" {
		c.Agent.FallbackModel = DefaultModel
	}
	if c.Agent.ReasoningEffort == "" {
		c.Agent.ReasoningEffort = "medium"
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 10
	}
	if c.Delivery.GraphBaseURL == "" {
		c.Delivery.GraphBaseURL = DefaultGraphBaseURL
	}
	if c.Delivery.RatePerSecond == 0 {
		c.Delivery.RatePerSecond = 20
	}
	if c.Delivery.Burst == 0 {
		c.Delivery.Burst = 5
	}
	if c.Maintenance.ArchiveCron == "" {
		c.Maintenance.ArchiveCron = "0 3 * * *"
	}
	if c.Maintenance.ArchiveAfter == 0 {
		c.Maintenance.ArchiveAfter = 30 * 24 * time.Hour
	}
	if c.Maintenance.ReapCron == "" {
		c.Maintenance.ReapCron = "*/5 * * * *"
	}
	if c.Maintenance.ReceiptTTL == 0 {
		c.Maintenance.ReceiptTTL = 7 * 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.DSN == "" && c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Batching.Delay < 0 {
		errs = append(errs, "batching.delay must not be negative")
	}
	if c.Batching.HistoryLimit < 0 {
		errs = append(errs, "batching.history_limit must not be negative")
	}
	if c.Batching.Workers < 0 {
		errs = append(errs, "batching.workers must not be negative")
	}
	switch c.Agent.ReasoningEffort {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Sprintf("agent.reasoning_effort %q must be low, medium or high", c.Agent.ReasoningEffort))
	}
	if c.Agent.Provider != "openai" {
		errs = append(errs, fmt.Sprintf("agent.provider %q is not supported", c.Agent.Provider))
	}
	if _, err := cronParser.Parse(c.Maintenance.ArchiveCron); err != nil {
		errs = append(errs, fmt.Sprintf("maintenance.archive_cron: %v", err))
	}
	if _, err := cronParser.Parse(c.Maintenance.ReapCron); err != nil {
		errs = append(errs, fmt.Sprintf("maintenance.reap_cron: %v", err))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}
	seen := make(map[string]bool)
	for i, s := range c.Shops {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("shops[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("shops[%d].name %q is duplicated", i, s.Name))
		}
		seen[s.Name] = true
		if s.ShopifyDomain == "" {
			errs = append(errs, fmt.Sprintf("shops[%d].shopify_domain is required", i))
		}
		if s.MetaPageID == "" && s.InstagramAccountID == "" && s.TelegramBotToken == "" {
			errs = append(errs, fmt.Sprintf("shops[%d] needs at least one of meta_page_id, instagram_account_id, telegram_bot_token", i))
		}
		if s.TelegramBotToken != "" && s.TelegramBotID() == "" {
			errs = append(errs, fmt.Sprintf("shops[%d].telegram_bot_token is malformed", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
