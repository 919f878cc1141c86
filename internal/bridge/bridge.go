// Package bridge wires inbound routed messages to the agent boundary and
// streams the reply back through the card renderer.
package bridge

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/cardbridge/internal/agent"
	"github.com/haasonsaas/cardbridge/internal/cards"
	"github.com/haasonsaas/cardbridge/internal/config"
	"github.com/haasonsaas/cardbridge/internal/history"
	"github.com/haasonsaas/cardbridge/internal/observability"
	"github.com/haasonsaas/cardbridge/internal/realtime"
	"github.com/haasonsaas/cardbridge/internal/typing"
	"github.com/haasonsaas/cardbridge/pkg/models"
)

// Bridge turns one routed inbound message into one rendered reply.
type Bridge struct {
	config   *config.Config
	boundary agent.Boundary
	history  *history.Store
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Options wires a Bridge's dependencies.
type Options struct {
	Config   *config.Config
	Boundary agent.Boundary
	History  *history.Store
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

func New(opts Options) *Bridge {
	return &Bridge{
		config:   opts.Config,
		boundary: opts.Boundary,
		history:  opts.History,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Handler builds the message handler the event router dispatches to. The
// API client is per-connection, so the handler is rebuilt on reconnect.
func (b *Bridge) Handler(api realtime.APIClient) realtime.MessageHandler {
	return func(ctx context.Context, msg *models.Message, identity models.BotIdentity) {
		b.handleMessage(ctx, api, msg, identity)
	}
}

func (b *Bridge) handleMessage(ctx context.Context, api realtime.APIClient, msg *models.Message, identity models.BotIdentity) {
	indicator := b.newIndicator(ctx, api, msg)
	indicator.OnReplyStart()
	defer indicator.Cleanup()

	reply := cards.NewReply(ctx, cards.ReplyConfig{
		Client:   api,
		ChatID:   msg.ChatID,
		ThreadTS: msg.ThreadID,
		Config: cards.Config{
			PatchInterval:      b.config.Streaming.PatchInterval,
			ImmediateThreshold: b.config.Streaming.ImmediateThreshold,
			CursorEnabled:      b.config.Streaming.Cursor,
			RenderMode:         cards.RenderMode(b.config.Streaming.RenderMode),
			MaxChunkSize:       b.config.Streaming.MaxChunkSize,
			Buffered:           !b.config.Streaming.StreamingEnabled(),
		},
		Logger:  b.logger,
		Metrics: b.metrics,
	})

	req := &agent.Request{
		ChatID:         msg.ChatID,
		System:         b.config.Agent.SystemPrompt,
		Messages:       b.history.Recent(msg.ChatID, 0),
		Model:          b.config.Agent.Model,
		MaxTokens:      b.config.Agent.MaxTokens,
		EnableThinking: b.config.Agent.EnableThinking,
	}

	sink := &replySink{reply: reply, indicator: indicator}
	if err := b.boundary.Run(ctx, req, sink); err != nil {
		b.logger.Error(ctx, "agent run failed",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
	// Flush whatever arrived even when the run errored mid-stream; a
	// no-op when the sink already saw OnIdle.
	reply.OnIdle()
	indicator.MarkRunComplete()
	indicator.MarkDeliveryIdle()

	if text := reply.AccumulatedText(); text != "" {
		b.history.Append(msg.ChatID, &models.Message{
			ChatID:    msg.ChatID,
			ThreadID:  msg.ThreadID,
			SenderID:  identity.UserID,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   text,
		})
	}
}

func (b *Bridge) newIndicator(ctx context.Context, api realtime.APIClient, msg *models.Message) *typing.Indicator {
	cfg := typing.Config{
		TTL:         b.config.Typing.TTL,
		SilentToken: b.config.Typing.SilentToken,
		Log: func(message string) {
			b.logger.Debug(ctx, message, "chat_id", msg.ChatID)
		},
	}
	if b.config.Typing.Enabled && msg.ID != "" {
		item := slack.ItemRef{Channel: msg.ChatID, Timestamp: msg.ID}
		reaction := b.config.Typing.Reaction
		cfg.Show = func() {
			if err := api.AddReactionContext(ctx, reaction, item); err != nil {
				b.logger.Debug(ctx, "add reaction failed", "chat_id", msg.ChatID, "error", err)
			}
		}
		cfg.Hide = func() {
			if err := api.RemoveReactionContext(ctx, reaction, item); err != nil {
				b.logger.Debug(ctx, "remove reaction failed", "chat_id", msg.ChatID, "error", err)
			}
		}
	}
	return typing.NewIndicator(cfg)
}

// replySink fans agent fragments out to the card renderer and the
// working indicator.
type replySink struct {
	reply     *cards.Reply
	indicator *typing.Indicator
}

var _ agent.FragmentSink = (*replySink)(nil)

func (s *replySink) OnReasoningFragment(text string) {
	s.indicator.OnActivity()
	s.reply.OnReasoningFragment(text)
}

func (s *replySink) OnToolStart(id, name, args string) {
	s.indicator.OnActivity()
	s.reply.OnToolStart(id, name, args)
}

func (s *replySink) OnToolEnd(id, name string, ok bool) {
	s.indicator.OnActivity()
	s.reply.OnToolEnd(id, name, ok)
}

func (s *replySink) OnTextFragment(text string) {
	s.indicator.OnText(text)
	s.reply.OnTextFragment(text)
}

func (s *replySink) OnIdle() {
	s.reply.OnIdle()
	s.indicator.MarkRunComplete()
	s.indicator.MarkDeliveryIdle()
}
