// Package ingest is the webhook entry point: it filters duplicate and echo
// events, routes each message to its shop and thread, enqueues it, and
// reschedules the thread's batch job.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/delivery"
	"github.com/zulandar/shoprelay/internal/messaging"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/pending"
	"github.com/zulandar/shoprelay/internal/platform"
	"github.com/zulandar/shoprelay/internal/scheduler"
	"github.com/zulandar/shoprelay/internal/shop"
	"github.com/zulandar/shoprelay/internal/telemetry"
	"github.com/zulandar/shoprelay/internal/thread"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobKind is the scheduler kind of a batch job.
const JobKind = "process_batch"

// JobPayload is the body of a batch job.
type JobPayload struct {
	ThreadID uint `json:"thread_id"`
}

// Outcome classifies what happened to one inbound event.
type Outcome string

const (
	// Enqueued means the message was queued and the batch rescheduled.
	Enqueued Outcome = "enqueued"
	// Dropped means the event was a duplicate, an echo, or carried no text.
	Dropped Outcome = "dropped"
	// RoutingMiss means no shop owns the receiving account; the sender got
	// the fallback reply.
	RoutingMiss Outcome = "routing_miss"
	// OperationalFailure means storage or scheduling failed.
	OperationalFailure Outcome = "operational_failure"
)

// Result is the explicit outcome of handling one event.
type Result struct {
	Outcome  Outcome
	ThreadID uint
	JobID    string
	Sequence int64
	Reason   string
	Err      error
}

// Opts holds parameters for creating a Handler.
type Opts struct {
	DB       *gorm.DB
	Adapters platform.Registry
	Gateways delivery.Resolver
	Metrics  *telemetry.Metrics
	Logger   *zap.Logger
	// Delay is the debounce window; each new message pushes the batch out
	// to now+Delay.
	Delay         time.Duration
	FallbackReply string
	// FallbackCredential sends the routing-miss reply when no shop, and
	// therefore no shop token, could be resolved.
	FallbackCredential string
}

// Handler ingests webhook events.
type Handler struct {
	db                 *gorm.DB
	adapters           platform.Registry
	gateways           delivery.Resolver
	metrics            *telemetry.Metrics
	logger             *zap.Logger
	delay              time.Duration
	fallbackReply      string
	fallbackCredential string
}

// New creates a Handler.
func New(opts Opts) (*Handler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ingest: db is required")
	}
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("ingest: at least one platform adapter is required")
	}
	h := &Handler{
		db:                 opts.DB,
		adapters:           opts.Adapters,
		gateways:           opts.Gateways,
		metrics:            opts.Metrics,
		logger:             opts.Logger,
		delay:              opts.Delay,
		fallbackReply:      opts.FallbackReply,
		fallbackCredential: opts.FallbackCredential,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h, nil
}

// HandleWebhook parses a raw webhook body for platformName and handles every
// event in it. The error is non-nil only when the body could not be parsed.
func (h *Handler) HandleWebhook(ctx context.Context, platformName string, body []byte, accountHint string) ([]Result, error) {
	adapter, ok := h.adapters.Get(platformName)
	if !ok {
		return nil, fmt.Errorf("ingest: unknown platform %q", platformName)
	}
	events, err := adapter.ParseEvents(body, accountHint)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %s webhook: %w", platformName, err)
	}
	results := make([]Result, 0, len(events))
	for _, ev := range events {
		results = append(results, h.Handle(ctx, adapter, ev))
	}
	return results, nil
}

// Handle processes one normalized event.
func (h *Handler) Handle(ctx context.Context, adapter platform.Adapter, ev platform.Event) Result {
	res := h.handle(ctx, adapter, ev)
	h.metrics.Inbound(ctx, adapter.Platform(), string(res.Outcome))

	fields := []zap.Field{
		zap.String("platform", adapter.Platform()),
		zap.String("sender", ev.SenderID),
		zap.String("outcome", string(res.Outcome)),
	}
	switch res.Outcome {
	case OperationalFailure:
		h.logger.Error("inbound event failed", append(fields, zap.Error(res.Err))...)
	case Enqueued:
		h.logger.Debug("inbound event enqueued", append(fields,
			zap.Uint("thread", res.ThreadID),
			zap.Int64("seq", res.Sequence),
			zap.String("job", res.JobID))...)
	default:
		h.logger.Info("inbound event not enqueued", append(fields, zap.String("reason", res.Reason))...)
	}
	return res
}

func (h *Handler) handle(ctx context.Context, adapter platform.Adapter, ev platform.Event) Result {
	if adapter.IsEcho(ev) {
		return Result{Outcome: Dropped, Reason: "echo"}
	}
	if ev.Text == "" {
		return Result{Outcome: Dropped, Reason: "no text"}
	}
	if ev.SenderID == "" {
		return Result{Outcome: Dropped, Reason: "no sender"}
	}

	s, err := shop.FindByAccount(h.db, adapter.AccountIDField(), ev.AccountID)
	if errors.Is(err, shop.ErrNotFound) {
		// Receipts are thread-less here; a redelivered unroutable event
		// must not repeat the fallback reply.
		if ev.PlatformMessageID != "" {
			fresh, err := pending.Accept(h.db, ev.PlatformMessageID, 0)
			if err != nil {
				return Result{Outcome: OperationalFailure, Err: err}
			}
			if !fresh {
				return Result{Outcome: Dropped, Reason: "duplicate"}
			}
		}
		h.replyFallback(ctx, adapter.Platform(), ev.SenderID)
		return Result{Outcome: RoutingMiss, Reason: fmt.Sprintf("no shop for %s %q", adapter.AccountIDField(), ev.AccountID)}
	}
	if err != nil {
		return Result{Outcome: OperationalFailure, Err: err}
	}

	t, err := h.resolveThread(ctx, s, adapter.Platform(), ev)
	if err != nil {
		return Result{Outcome: OperationalFailure, Err: err}
	}

	res := h.enqueue(ctx, t.ID, ev)
	res.ThreadID = t.ID
	return res
}

// resolveThread finds or creates the thread. On first contact without an
// inline sender name the gateway's profile lookup is tried once.
func (h *Handler) resolveThread(ctx context.Context, s *models.Shop, platformName string, ev platform.Event) (*models.Thread, error) {
	key := thread.Key{ShopID: s.ID, Platform: platformName, PlatformUserID: ev.SenderID}
	t, created, err := thread.GetOrCreate(h.db, key, ev.SenderName)
	if err != nil || !created || t.CustomerName != "" || h.gateways == nil {
		return t, err
	}

	gw, err := h.gateways.For(platformName)
	if err != nil {
		return t, nil
	}
	namer, ok := gw.(delivery.ProfileNamer)
	if !ok {
		return t, nil
	}
	name, err := namer.ProfileName(ctx, ev.SenderID, delivery.Credential(s, platformName))
	if err != nil || name == "" {
		if err != nil {
			h.logger.Debug("profile lookup failed", zap.String("sender", ev.SenderID), zap.Error(err))
		}
		return t, nil
	}
	named, _, err := thread.GetOrCreate(h.db, key, name)
	return named, err
}

// errLostRace aborts an enqueue transaction whose marker swap lost.
var errLostRace = errors.New("ingest: scheduled job marker changed")

const maxEnqueueAttempts = 3

// enqueue stages the message and moves the thread's batch job to now+delay.
// The whole sequence runs in one transaction holding the thread row lock, so
// concurrent events for a thread serialize and the marker never names two
// live jobs. A lost compare-and-set rolls everything back and retries.
func (h *Handler) enqueue(ctx context.Context, threadID uint, ev platform.Event) Result {
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	for attempt := 1; ; attempt++ {
		var res Result
		err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			t, err := thread.GetForUpdate(tx, threadID)
			if err != nil {
				return err
			}

			if ev.PlatformMessageID != "" {
				// Receipts are pruned after their TTL; the stored log
				// still catches a late redelivery of a batch's first id.
				stored, err := messaging.ExistsByPlatformID(tx, ev.PlatformMessageID)
				if err != nil {
					return err
				}
				if stored {
					res = Result{Outcome: Dropped, Reason: "duplicate"}
					return nil
				}
				fresh, err := pending.Accept(tx, ev.PlatformMessageID, threadID)
				if err != nil {
					return err
				}
				if !fresh {
					res = Result{Outcome: Dropped, Reason: "duplicate"}
					return nil
				}
			}

			seq, err := thread.NextSequence(tx, threadID)
			if err != nil {
				return err
			}
			if _, err := pending.Enqueue(tx, threadID, seq, ev.Text, at, ev.PlatformMessageID); err != nil {
				return err
			}

			prev := t.ScheduledJobID
			if prev != nil {
				switch err := scheduler.Cancel(tx, *prev); {
				case err == nil:
					h.metrics.Cancelled(ctx)
				case errors.Is(err, scheduler.ErrJobNotFound):
					// Already running or finished; it owns only the rows it claimed.
					h.logger.Debug("previous batch job not cancellable",
						zap.Uint("thread", threadID), zap.String("job", *prev))
				default:
					return err
				}
			}

			jobID, err := scheduler.Schedule(tx, JobKind, threadID, h.delay, JobPayload{ThreadID: threadID})
			if err != nil {
				return err
			}
			won, err := thread.SwapScheduledJob(tx, threadID, prev, jobID)
			if err != nil {
				return err
			}
			if !won {
				return errLostRace
			}
			res = Result{Outcome: Enqueued, JobID: jobID, Sequence: seq}
			return nil
		})

		switch {
		case err == nil:
			if res.Outcome == Enqueued {
				h.metrics.Scheduled(ctx)
			}
			return res
		case errors.Is(err, errLostRace) && attempt < maxEnqueueAttempts:
			continue
		default:
			return Result{Outcome: OperationalFailure, Err: err}
		}
	}
}

// replyFallback tells an unroutable sender that the shop is unknown. Failures
// are logged only.
func (h *Handler) replyFallback(ctx context.Context, platformName, recipientID string) {
	if h.gateways == nil || h.fallbackReply == "" {
		return
	}
	if h.fallbackCredential == "" {
		h.logger.Warn("routing miss: no fallback credential configured",
			zap.String("platform", platformName), zap.String("sender", recipientID))
		return
	}
	gw, err := h.gateways.For(platformName)
	if err != nil {
		h.logger.Warn("routing miss: no gateway", zap.String("platform", platformName), zap.Error(err))
		return
	}
	if err := gw.SendText(ctx, recipientID, h.fallbackReply, h.fallbackCredential); err != nil {
		h.logger.Warn("routing miss: fallback reply failed",
			zap.String("platform", platformName), zap.String("sender", recipientID), zap.Error(err))
	}
}
