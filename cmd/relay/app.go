package main

import (
	"fmt"

	"github.com/zulandar/shoprelay/internal/agent"
	"github.com/zulandar/shoprelay/internal/agent/openai"
	"github.com/zulandar/shoprelay/internal/alert"
	"github.com/zulandar/shoprelay/internal/alert/discord"
	"github.com/zulandar/shoprelay/internal/alert/slack"
	"github.com/zulandar/shoprelay/internal/config"
	"github.com/zulandar/shoprelay/internal/db"
	"github.com/zulandar/shoprelay/internal/delivery"
	metadelivery "github.com/zulandar/shoprelay/internal/delivery/meta"
	tgdelivery "github.com/zulandar/shoprelay/internal/delivery/telegram"
	"github.com/zulandar/shoprelay/internal/logging"
	"github.com/zulandar/shoprelay/internal/operator"
	"github.com/zulandar/shoprelay/internal/platform"
	"github.com/zulandar/shoprelay/internal/reply"
	"github.com/zulandar/shoprelay/internal/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the components shared by the commands. Components that need
// external credentials are built on demand.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	telemetry *telemetry.Provider
	metrics   *telemetry.Metrics
	gateways  *delivery.Router
	alerts    *alert.Multi
}

// openApp loads the config and connects to the database.
func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}

	provider := telemetry.Init(cfg.Telemetry.Enabled)
	metrics, err := telemetry.NewMetrics(provider.Meter)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        gormDB,
		telemetry: provider,
		metrics:   metrics,
	}
	if a.gateways, err = a.buildGateways(); err != nil {
		return nil, err
	}
	if a.alerts, err = a.buildAlerts(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.logger.Sync()
}

// buildGateways registers a rate-limited gateway per platform.
func (a *app) buildGateways() (*delivery.Router, error) {
	d := a.cfg.Delivery
	router := delivery.NewRouter()
	for _, name := range []string{platform.Messenger, platform.Instagram} {
		gw, err := metadelivery.New(metadelivery.Opts{BaseURL: d.GraphBaseURL, Platform: name})
		if err != nil {
			return nil, err
		}
		router.Register(name, delivery.NewRateLimited(gw, d.RatePerSecond, d.Burst))
	}
	tg := tgdelivery.New(tgdelivery.Opts{Endpoint: d.TelegramEndpoint})
	router.Register(platform.Telegram, delivery.NewRateLimited(tg, d.RatePerSecond, d.Burst))
	return router, nil
}

// buildAlerts fans out to every configured channel. With none configured
// alerts are only logged.
func (a *app) buildAlerts() (*alert.Multi, error) {
	var notifiers []alert.Notifier
	if s := a.cfg.Alerts.Slack; s.BotToken != "" && s.ChannelID != "" {
		n, err := slack.New(slack.Opts{BotToken: s.BotToken, ChannelID: s.ChannelID})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if d := a.cfg.Alerts.Discord; d.BotToken != "" && d.ChannelID != "" {
		n, err := discord.New(discord.Opts{BotToken: d.BotToken, ChannelID: d.ChannelID})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	return alert.NewMulti(a.logger.Named("alert"), notifiers...), nil
}

func (a *app) runner() (agent.Runner, error) {
	return openai.New(openai.Opts{
		APIKey:  a.cfg.Agent.APIKey,
		BaseURL: a.cfg.Agent.BaseURL,
		Logger:  a.logger.Named("agent"),
	})
}

func (a *app) settings() agent.Settings {
	return agent.Settings{
		Model:           a.cfg.Agent.Model,
		ReasoningEffort: a.cfg.Agent.ReasoningEffort,
		SystemPrompt:    agent.DefaultSystemPrompt,
		MaxSteps:        a.cfg.Agent.MaxSteps,
	}
}

func (a *app) dispatcher() (*reply.Dispatcher, error) {
	return reply.NewDispatcher(reply.DispatcherOpts{
		DB:           a.db,
		Gateways:     a.gateways,
		Alerts:       a.alerts,
		Metrics:      a.metrics,
		Logger:       a.logger.Named("reply"),
		SegmentDelay: a.cfg.Batching.SegmentDelay,
	})
}

// operator builds the operator service. Retry needs an agent runner, so
// withAgent is set only by commands that regenerate replies.
func (a *app) operator(withAgent bool) (*operator.Service, error) {
	if !withAgent {
		return a.newOperator(nil, nil)
	}
	r, err := a.runner()
	if err != nil {
		return nil, err
	}
	d, err := a.dispatcher()
	if err != nil {
		return nil, err
	}
	return a.newOperator(r, d)
}

func (a *app) newOperator(r agent.Runner, d *reply.Dispatcher) (*operator.Service, error) {
	return operator.New(operator.Opts{
		DB:            a.db,
		Gateways:      a.gateways,
		Runner:        r,
		Dispatcher:    d,
		Settings:      a.settings(),
		FallbackModel: a.cfg.Agent.FallbackModel,
		HistoryLimit:  a.cfg.Batching.HistoryLimit,
		Logger:        a.logger.Named("operator"),
	})
}
