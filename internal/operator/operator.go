// Package operator implements the human side of a conversation: sending as
// a human agent, regenerating a flawed automated reply, and pausing or
// resuming automation.
package operator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/shoprelay/internal/agent"
	"github.com/zulandar/shoprelay/internal/batch"
	"github.com/zulandar/shoprelay/internal/delivery"
	"github.com/zulandar/shoprelay/internal/messaging"
	"github.com/zulandar/shoprelay/internal/models"
	"github.com/zulandar/shoprelay/internal/reply"
	"github.com/zulandar/shoprelay/internal/shop"
	"github.com/zulandar/shoprelay/internal/thread"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoAnchor is returned by Retry when no user message precedes the target.
var ErrNoAnchor = errors.New("operator: no user message to retry from")

// TakeoverReason is recorded on a thread paused by a human send.
const TakeoverReason = "human takeover"

// Opts holds parameters for creating a Service.
type Opts struct {
	DB            *gorm.DB
	Gateways      delivery.Resolver
	Runner        agent.Runner
	Dispatcher    *reply.Dispatcher
	Tools         batch.ToolFactory // nil uses batch.CatalogTools
	Settings      agent.Settings
	FallbackModel string
	HistoryLimit  int
	Logger        *zap.Logger
}

// Service performs operator actions.
type Service struct {
	db            *gorm.DB
	gateways      delivery.Resolver
	runner        agent.Runner
	dispatcher    *reply.Dispatcher
	tools         batch.ToolFactory
	settings      agent.Settings
	fallbackModel string
	historyLimit  int
	logger        *zap.Logger
}

// New creates a Service. Runner and Dispatcher may be nil when Retry is not
// needed (e.g. CLI commands that only pause or send).
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("operator: db is required")
	}
	s := &Service{
		db:            opts.DB,
		gateways:      opts.Gateways,
		runner:        opts.Runner,
		dispatcher:    opts.Dispatcher,
		tools:         opts.Tools,
		settings:      opts.Settings,
		fallbackModel: opts.FallbackModel,
		historyLimit:  opts.HistoryLimit,
		logger:        opts.Logger,
	}
	if s.tools == nil {
		s.tools = batch.CatalogTools
	}
	if s.settings.SystemPrompt == "" {
		s.settings.SystemPrompt = agent.DefaultSystemPrompt
	}
	if s.historyLimit <= 0 {
		s.historyLimit = batch.DefaultHistoryLimit
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// SendHumanMessage delivers text to the customer as a human agent, stores
// it, and pauses automation on the thread.
func (s *Service) SendHumanMessage(ctx context.Context, threadID uint, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("operator: message text is required")
	}
	if s.gateways == nil {
		return nil, fmt.Errorf("operator: no delivery gateways configured")
	}
	t, err := thread.WithShop(s.db, threadID)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.For(t.Platform)
	if err != nil {
		return nil, err
	}
	if err := gw.SendText(ctx, t.PlatformUserID, text, delivery.Credential(&t.Shop, t.Platform)); err != nil {
		return nil, fmt.Errorf("operator: send to thread %d: %w", threadID, err)
	}

	msg, err := messaging.Append(s.db, threadID, models.RoleHumanAgent, text, messaging.AppendOpts{})
	if err != nil {
		return nil, err
	}
	if err := thread.SetAgentStatus(s.db, threadID, models.AgentPaused, TakeoverReason); err != nil {
		return msg, err
	}
	s.logger.Info("human message sent", zap.Uint("thread", threadID), zap.Uint("message", msg.ID))
	return msg, nil
}

// Retry regenerates the reply to the latest user message at or before
// messageID and appends the new segments. Messages after the anchor are
// not shown to the agent, so a run of consecutive assistant segments is
// regenerated as one reply.
func (s *Service) Retry(ctx context.Context, threadID, messageID uint) (*reply.Outcome, error) {
	if s.runner == nil || s.dispatcher == nil {
		return nil, fmt.Errorf("operator: retry requires an agent runner")
	}
	target, err := messaging.Get(s.db, messageID)
	if err != nil {
		return nil, err
	}
	if target.ThreadID != threadID {
		return nil, fmt.Errorf("operator: message %d does not belong to thread %d: %w", messageID, threadID, messaging.ErrNotFound)
	}

	anchor, err := messaging.LatestUserAtOrBefore(s.db, target)
	if errors.Is(err, messaging.ErrNotFound) {
		return nil, fmt.Errorf("%w (message %d)", ErrNoAnchor, messageID)
	}
	if err != nil {
		return nil, err
	}
	history, err := messaging.UpTo(s.db, anchor, s.historyLimit)
	if err != nil {
		return nil, err
	}

	t, err := thread.WithShop(s.db, threadID)
	if err != nil {
		return nil, err
	}
	if t.Shop.ID == 0 {
		return nil, fmt.Errorf("%w: thread %d", batch.ErrShopNotFound, threadID)
	}

	settings := batch.ResolveSettings(s.db, s.settings)
	res, err := agent.RunWithFallback(ctx, s.runner, agent.FromMessages(history), s.tools(&t.Shop), settings, s.fallbackModel)
	if err != nil {
		return nil, fmt.Errorf("operator: retry thread %d from message %d with model %q: %w", threadID, anchor.ID, settings.Model, err)
	}

	out, err := s.dispatcher.Deliver(ctx, t, res)
	if err != nil {
		return out, err
	}
	s.logger.Info("reply regenerated",
		zap.Uint("thread", threadID),
		zap.Uint("anchor", anchor.ID),
		zap.String("model", res.Model),
		zap.Int("segments", len(out.Messages)))
	return out, nil
}

// ResumeThread hands a paused or handed-off thread back to the agent.
func (s *Service) ResumeThread(threadID uint) error {
	return thread.Resume(s.db, threadID)
}

// PauseShop stops automated replies for every thread of the shop.
func (s *Service) PauseShop(shopID uint, reason string) error {
	return shop.Pause(s.db, shopID, reason)
}

// ResumeShop re-enables automated replies for the shop.
func (s *Service) ResumeShop(shopID uint) error {
	return shop.Resume(s.db, shopID)
}

// ShopStatus reports the shop's automation state.
func (s *Service) ShopStatus(shopID uint) (*shop.Status, error) {
	return shop.AgentStatus(s.db, shopID)
}
