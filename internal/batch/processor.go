// Package batch is the body of a scheduled batch job: it folds a thread's
// pending messages into one user turn, runs the agent, and delivers the
// reply.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/agent"
	"github.com/zulandar/shoprelay/internal/alert"
	"github.com/zulandar/shoprelay/internal/delivery"
	"github.com/zulandar/shoprelay/internal/ingest"
	"github.com/zulandar/shoprelay/internal/messaging"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/pending"
	"github.com/zulandar/shoprelay/internal/reply"
	"github.com/zulandar/shoprelay/internal/scheduler"
	"github.com/zulandar/shoprelay/internal/shop"
	"github.com/zulandar/shoprelay/internal/telemetry"
	"github.com/zulandar/shoprelay/internal/thread"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrShopNotFound is returned when a thread's shop cannot be resolved.
var ErrShopNotFound = errors.New("batch: shop not found")

// DefaultHistoryLimit bounds the history window sent to the agent.
const DefaultHistoryLimit = 12

// DefaultDeferDelay is how long a job waits before retrying when another
// job still owns the thread's queue.
const DefaultDeferDelay = 5 * time.Second

// Outcome is how a batch job ended.
type Outcome string

const (
	Processed Outcome = "processed"
	Gated     Outcome = "gated"
	Empty     Outcome = "empty"
	Deferred  Outcome = "deferred"
	Failed    Outcome = "failed"
)

// Opts holds parameters for creating a Processor.
type Opts struct {
	DB         *gorm.DB
	Runner     agent.Runner
	Gateways   delivery.Resolver
	Dispatcher *reply.Dispatcher
	Tools      ToolFactory // nil uses CatalogTools
	Alerts     alert.Notifier
	Metrics    *telemetry.Metrics
	Logger     *zap.Logger

	// Settings are the configured model settings; stored app settings
	// override Model and ReasoningEffort per run.
	Settings      agent.Settings
	FallbackModel string
	HistoryLimit  int
	DeferDelay    time.Duration
}

// Processor runs batch jobs.
type Processor struct {
	db            *gorm.DB
	runner        agent.Runner
	gateways      delivery.Resolver
	dispatcher    *reply.Dispatcher
	tools         ToolFactory
	alerts        alert.Notifier
	metrics       *telemetry.Metrics
	logger        *zap.Logger
	settings      agent.Settings
	fallbackModel string
	historyLimit  int
	deferDelay    time.Duration
}

// New creates a Processor.
func New(opts Opts) (*Processor, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("batch: db is required")
	case opts.Runner == nil:
		return nil, fmt.Errorf("batch: runner is required")
	case opts.Gateways == nil:
		return nil, fmt.Errorf("batch: gateways are required")
	case opts.Dispatcher == nil:
		return nil, fmt.Errorf("batch: dispatcher is required")
	}
	p := &Processor{
		db:            opts.DB,
		runner:        opts.Runner,
		gateways:      opts.Gateways,
		dispatcher:    opts.Dispatcher,
		tools:         opts.Tools,
		alerts:        opts.Alerts,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		settings:      opts.Settings,
		fallbackModel: opts.FallbackModel,
		historyLimit:  opts.HistoryLimit,
		deferDelay:    opts.DeferDelay,
	}
	if p.tools == nil {
		p.tools = CatalogTools
	}
	if p.alerts == nil {
		p.alerts = alert.Nop{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.settings.SystemPrompt == "" {
		p.settings.SystemPrompt = agent.DefaultSystemPrompt
	}
	if p.historyLimit <= 0 {
		p.historyLimit = DefaultHistoryLimit
	}
	if p.deferDelay <= 0 {
		p.deferDelay = DefaultDeferDelay
	}
	return p, nil
}

// Handle is the scheduler.HandlerFunc for ingest.JobKind jobs.
func (p *Processor) Handle(ctx context.Context, job *models.ScheduledJob) error {
	var payload ingest.JobPayload
	if err := scheduler.DecodePayload(job, &payload); err != nil {
		return err
	}
	threadID := payload.ThreadID
	if threadID == 0 {
		threadID = job.ThreadID
	}
	_, err := p.Process(ctx, threadID, job.ID)
	return err
}

// Process runs one batch for a thread. jobID is the job being executed; the
// thread's marker is cleared only while it still names that job, so a job
// scheduled by a message that arrived mid-batch survives.
//
// The job claims the queued rows first. While an earlier job still owns
// rows of the same thread the batch is deferred, so one thread never has two
// agent runs in flight. Every path that claimed messages deletes them and
// clears the marker before returning, including failures; a failed batch is
// lost rather than leaving the thread stuck.
func (p *Processor) Process(ctx context.Context, threadID uint, jobID string) (Outcome, error) {
	start := time.Now()
	log := p.logger.With(zap.Uint("thread", threadID), zap.String("job", jobID))

	var msgs []models.PendingMessage
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := thread.GetForUpdate(tx, threadID); err != nil {
			return err
		}
		var err error
		msgs, err = pending.Claim(tx, threadID, jobID)
		return err
	})
	if errors.Is(err, pending.ErrClaimed) {
		return p.deferBatch(ctx, log, start, threadID, jobID)
	}
	if err != nil {
		p.clearMarker(log, threadID, jobID)
		return p.fail(ctx, log, start, threadID, nil, err)
	}
	b := pending.Coalesce(msgs)
	if b == nil {
		p.clearMarker(log, threadID, jobID)
		log.Debug("batch queue empty")
		p.metrics.Batch(ctx, string(Empty), time.Since(start))
		return Empty, nil
	}
	defer p.cleanup(log, threadID, jobID)

	t, err := thread.WithShop(p.db, threadID)
	if err != nil {
		return p.fail(ctx, log, start, threadID, nil, err)
	}
	if t.Shop.ID == 0 {
		return p.fail(ctx, log, start, threadID, t, fmt.Errorf("%w: thread %d shop %d", ErrShopNotFound, threadID, t.ShopID))
	}

	if shop.Gated(&t.Shop) || thread.Gated(t) {
		if err := p.persistUserTurn(t.ID, msgs); err != nil {
			return p.fail(ctx, log, start, threadID, t, err)
		}
		log.Info("batch gated",
			zap.String("agent_status", t.AgentStatus),
			zap.Bool("shop_paused", t.Shop.AgentPaused),
			zap.Bool("auto_reply", t.Shop.AutoReplyEnabled),
			zap.Int("messages", b.Size))
		p.metrics.Batch(ctx, string(Gated), time.Since(start))
		return Gated, nil
	}

	if err := p.run(ctx, log, t, msgs); err != nil {
		return p.fail(ctx, log, start, threadID, t, err)
	}
	log.Info("batch processed", zap.Int("messages", b.Size), zap.Duration("elapsed", time.Since(start)))
	p.metrics.Batch(ctx, string(Processed), time.Since(start))
	return Processed, nil
}

func (p *Processor) run(ctx context.Context, log *zap.Logger, t *models.Thread, msgs []models.PendingMessage) error {
	gw, err := p.gateways.For(t.Platform)
	if err != nil {
		return err
	}
	credential := delivery.Credential(&t.Shop, t.Platform)

	if err := gw.SendTyping(ctx, t.PlatformUserID, credential, true); err != nil {
		log.Warn("typing indicator failed", zap.Error(err))
	} else {
		defer func() {
			if err := gw.SendTyping(context.WithoutCancel(ctx), t.PlatformUserID, credential, false); err != nil {
				log.Warn("typing indicator off failed", zap.Error(err))
			}
		}()
	}

	if err := p.persistUserTurn(t.ID, msgs); err != nil {
		return err
	}

	recent, err := messaging.Recent(p.db, t.ID, p.historyLimit)
	if err != nil {
		return err
	}

	settings := ResolveSettings(p.db, p.settings)
	runStart := time.Now()
	res, err := agent.RunWithFallback(ctx, p.runner, agent.FromMessages(recent), p.tools(&t.Shop), settings, p.fallbackModel)
	if err != nil {
		return err
	}
	p.metrics.AgentRun(ctx, res.Model, res.Usage.TotalTokens, time.Since(runStart))

	out, err := p.dispatcher.Deliver(ctx, t, res)
	if err != nil {
		return err
	}
	log.Debug("reply delivered",
		zap.Int("segments", len(out.Messages)),
		zap.Bool("handoff", out.Handoff),
		zap.String("model", res.Model))
	return nil
}

// persistUserTurn appends the claimed rows that are not yet part of a stored
// user turn as one message, and links them to it in the same transaction. A
// batch re-claimed after its job died stores only what the dead job had not.
func (p *Processor) persistUserTurn(threadID uint, msgs []models.PendingMessage) error {
	fresh := pending.Unstored(msgs)
	b := pending.Coalesce(fresh)
	if b == nil {
		return nil
	}
	return p.db.Transaction(func(tx *gorm.DB) error {
		msg, err := messaging.Append(tx, threadID, models.RoleUser, b.Text, messaging.AppendOpts{
			Timestamp:         b.FirstTimestamp,
			PlatformMessageID: b.FirstPlatformID,
		})
		if err != nil {
			return err
		}
		return pending.MarkStored(tx, fresh, msg.ID)
	})
}

// errMarkerMoved rolls back a deferral whose job no longer owns the marker.
var errMarkerMoved = errors.New("batch: scheduled job marker moved")

// deferBatch reschedules the thread's batch after deferDelay and hands the
// marker to the new job. When the marker already names a newer job, that job
// will pick the queue up and nothing is scheduled.
func (p *Processor) deferBatch(ctx context.Context, log *zap.Logger, start time.Time, threadID uint, jobID string) (Outcome, error) {
	var next string
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		next, err = scheduler.Schedule(tx, ingest.JobKind, threadID, p.deferDelay, ingest.JobPayload{ThreadID: threadID})
		if err != nil {
			return err
		}
		won, err := thread.SwapScheduledJob(tx, threadID, &jobID, next)
		if err != nil {
			return err
		}
		if !won {
			return errMarkerMoved
		}
		return nil
	})
	switch {
	case errors.Is(err, errMarkerMoved):
		log.Debug("batch busy; newer job owns the thread")
	case err != nil:
		return p.fail(ctx, log, start, threadID, nil, err)
	default:
		p.metrics.Scheduled(ctx)
		log.Info("batch busy; deferred", zap.String("next_job", next), zap.Duration("delay", p.deferDelay))
	}
	p.metrics.Batch(ctx, string(Deferred), time.Since(start))
	return Deferred, nil
}

// cleanup removes the claimed messages and releases the marker. Messages
// enqueued after the claim are unowned and stay queued.
func (p *Processor) cleanup(log *zap.Logger, threadID uint, jobID string) {
	if _, err := pending.DeleteClaimed(p.db, jobID); err != nil {
		log.Error("clear claimed messages", zap.Error(err))
	}
	p.clearMarker(log, threadID, jobID)
}

func (p *Processor) clearMarker(log *zap.Logger, threadID uint, jobID string) {
	cleared, err := thread.ClearScheduledJob(p.db, threadID, jobID)
	if err != nil {
		log.Error("clear scheduled job marker", zap.Error(err))
		return
	}
	if !cleared {
		log.Debug("marker already moved to a newer job")
	}
}

func (p *Processor) fail(ctx context.Context, log *zap.Logger, start time.Time, threadID uint, t *models.Thread, err error) (Outcome, error) {
	log.Error("batch failed", zap.Error(err))
	p.metrics.Batch(ctx, string(Failed), time.Since(start))
	if aerr := p.alerts.Notify(context.WithoutCancel(ctx), alert.BatchFailure(t, threadID, err)); aerr != nil {
		log.Warn("failure alert not delivered", zap.Error(aerr))
	}
	return Failed, err
}
