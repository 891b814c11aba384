package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/shoprelay/internal/batch"
	"github.com/zulandar/shoprelay/internal/ingest"
	"github.com/zulandar/shoprelay/internal/maintenance"
	"github.com/zulandar/shoprelay/internal/platform"
	"github.com/zulandar/shoprelay/internal/platform/meta"
	"github.com/zulandar/shoprelay/internal/platform/telegram"
	"github.com/zulandar/shoprelay/internal/scheduler"
	"github.com/zulandar/shoprelay/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, batch worker and maintenance sweeps",
		Long: `Starts the HTTP server (platform webhooks and operator API), the scheduler
worker that processes due batches, and the maintenance cron. Runs until
interrupted; in-flight batches finish before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// components are the long-running parts of serve.
type components struct {
	server  *server.Server
	worker  *scheduler.Worker
	sweeper *maintenance.Sweeper
}

func runServe(ctx context.Context, configPath string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := a.buildComponents()
	if err != nil {
		return err
	}

	a.logger.Info("shoprelay starting",
		zap.String("version", Version),
		zap.Int("port", a.cfg.Server.Port),
		zap.Duration("batch_delay", a.cfg.Batching.Delay),
		zap.String("model", a.cfg.Agent.Model),
		zap.Int("alert_channels", a.alerts.Len()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.server.Run(gctx) })
	g.Go(func() error { return c.worker.Run(gctx) })
	g.Go(func() error { return c.sweeper.Run(gctx) })
	err = g.Wait()

	if serr := a.telemetry.Shutdown(context.Background()); serr != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(serr))
	}
	return err
}

// buildComponents wires ingestion, batch processing and the operator
// service into the server, worker and sweeper.
func (a *app) buildComponents() (*components, error) {
	runner, err := a.runner()
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	disp, err := a.dispatcher()
	if err != nil {
		return nil, err
	}

	ih, err := ingest.New(ingest.Opts{
		DB:                 a.db,
		Adapters:           platform.NewRegistry(meta.NewMessenger(), meta.NewInstagram(), telegram.New()),
		Gateways:           a.gateways,
		Metrics:            a.metrics,
		Logger:             a.logger.Named("ingest"),
		Delay:              a.cfg.Batching.Delay,
		FallbackReply:      a.cfg.Batching.FallbackReply,
		FallbackCredential: a.cfg.Delivery.FallbackAccessToken,
	})
	if err != nil {
		return nil, err
	}

	proc, err := batch.New(batch.Opts{
		DB:            a.db,
		Runner:        runner,
		Gateways:      a.gateways,
		Dispatcher:    disp,
		Alerts:        a.alerts,
		Metrics:       a.metrics,
		Logger:        a.logger.Named("batch"),
		Settings:      a.settings(),
		FallbackModel: a.cfg.Agent.FallbackModel,
		HistoryLimit:  a.cfg.Batching.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}

	worker, err := scheduler.NewWorker(scheduler.WorkerOpts{
		DB:           a.db,
		PollInterval: a.cfg.Batching.PollInterval,
		Concurrency:  a.cfg.Batching.Workers,
		Logger:       a.logger.Named("scheduler"),
	})
	if err != nil {
		return nil, err
	}
	worker.Register(ingest.JobKind, proc.Handle)

	op, err := a.newOperator(runner, disp)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(server.Opts{
		DB:          a.db,
		Ingest:      ih,
		Operator:    op,
		Telemetry:   a.telemetry,
		Port:        a.cfg.Server.Port,
		VerifyToken: a.cfg.Server.VerifyToken,
		AppSecret:   a.cfg.Server.AppSecret,
		Logger:      a.logger.Named("http"),
	})
	if err != nil {
		return nil, err
	}

	m := a.cfg.Maintenance
	sweeper, err := maintenance.New(maintenance.Opts{
		DB:           a.db,
		ArchiveCron:  m.ArchiveCron,
		ArchiveAfter: m.ArchiveAfter,
		ReapCron:     m.ReapCron,
		StaleAfter:   a.cfg.Batching.StaleAfter,
		ReceiptTTL:   m.ReceiptTTL,
		Logger:       a.logger.Named("maintenance"),
	})
	if err != nil {
		return nil, err
	}

	return &components{server: srv, worker: worker, sweeper: sweeper}, nil
}
