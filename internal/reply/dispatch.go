package reply

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/shoprelay/internal/agent"
	"github.com/zulandar/shoprelay/internal/alert"
	"github.com/zulandar/shoprelay/internal/delivery"
	"github.com/zulandar/shoprelay/internal/messaging"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/telemetry"
	"github.com/zulandar/shoprelay/internal/thread"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultSegmentDelay paces consecutive segments of one reply.
const DefaultSegmentDelay = time.Second

// DispatcherOpts holds parameters for creating a Dispatcher.
type DispatcherOpts struct {
	DB           *gorm.DB
	Gateways     delivery.Resolver
	Alerts       alert.Notifier
	Metrics      *telemetry.Metrics
	Logger       *zap.Logger
	SegmentDelay time.Duration // 0 uses DefaultSegmentDelay; negative disables pacing
}

// Dispatcher delivers agent replies to customers.
type Dispatcher struct {
	db           *gorm.DB
	gateways     delivery.Resolver
	alerts       alert.Notifier
	metrics      *telemetry.Metrics
	logger       *zap.Logger
	segmentDelay time.Duration
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reply: db is required")
	}
	if opts.Gateways == nil {
		return nil, fmt.Errorf("reply: gateways are required")
	}
	d := &Dispatcher{
		db:           opts.DB,
		gateways:     opts.Gateways,
		alerts:       opts.Alerts,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		segmentDelay: opts.SegmentDelay,
	}
	if d.alerts == nil {
		d.alerts = alert.Nop{}
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.segmentDelay == 0 {
		d.segmentDelay = DefaultSegmentDelay
	}
	return d, nil
}

// Outcome records what a dispatch delivered.
type Outcome struct {
	Messages      []*models.Message
	Handoff       bool
	HandoffReason string
}

// Deliver sends each segment of res to the thread's customer and persists it
// as an assistant message once sent. Only the first segment carries the tool
// trace, reasoning, and usage. A handoff directive moves the thread to
// handoff after delivery and alerts operators. t must have its Shop loaded.
func (d *Dispatcher) Deliver(ctx context.Context, t *models.Thread, res *agent.Result) (*Outcome, error) {
	parsed := Parse(res.Text)
	out := &Outcome{Handoff: parsed.Handoff, HandoffReason: parsed.HandoffReason}

	gw, err := d.gateways.For(t.Platform)
	if err != nil {
		return out, err
	}
	credential := delivery.Credential(&t.Shop, t.Platform)

	toolCalls, err := agent.EncodeToolCalls(res.ToolCalls)
	if err != nil {
		return out, err
	}

	for i, seg := range parsed.Segments {
		if i > 0 && d.segmentDelay > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(d.segmentDelay):
			}
		}

		if err := gw.SendText(ctx, t.PlatformUserID, seg, credential); err != nil {
			return out, fmt.Errorf("reply: deliver segment %d/%d to thread %d: %w", i+1, len(parsed.Segments), t.ID, err)
		}

		opts := messaging.AppendOpts{}
		if i == 0 {
			opts.ToolCalls = toolCalls
			opts.Reasoning = res.Reasoning
			opts.AI = agent.Metadata(res)
		}
		msg, err := messaging.Append(d.db, t.ID, models.RoleAssistant, seg, opts)
		if err != nil {
			return out, err
		}
		out.Messages = append(out.Messages, msg)
	}
	d.metrics.Delivered(ctx, t.Platform, len(out.Messages))

	if parsed.Handoff {
		if err := thread.Handoff(d.db, t.ID, parsed.HandoffReason); err != nil {
			return out, err
		}
		d.logger.Info("thread handed off",
			zap.Uint("thread", t.ID),
			zap.String("reason", parsed.HandoffReason))
		if err := d.alerts.Notify(ctx, alert.Handoff(t, parsed.HandoffReason)); err != nil {
			d.logger.Warn("handoff alert failed", zap.Uint("thread", t.ID), zap.Error(err))
		}
	}
	return out, nil
}
