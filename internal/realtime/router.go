package realtime

import (
	"context"
	"strings"
	"sync"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/cardbridge/internal/cache"
	"github.com/haasonsaas/cardbridge/internal/history"
	"github.com/haasonsaas/cardbridge/internal/observability"
	"github.com/haasonsaas/cardbridge/pkg/models"
)

// MessageHandler receives validated, deduplicated inbound messages.
// The router calls it from its own goroutine per message; the handler
// owns the reply lifecycle from there.
type MessageHandler func(ctx context.Context, msg *models.Message, identity models.BotIdentity)

// Router dispatches Socket Mode events for one connection. Each router
// is bound to the session generation it was created under; events
// arriving after the supervisor has moved on are dropped.
type Router struct {
	generation int64
	live       func() int64

	socket   SocketClient
	dedupe   *cache.DedupeCache
	history  *history.Store
	identity models.BotIdentity
	handler  MessageHandler
	openChan bool

	logger  *observability.Logger
	metrics *observability.Metrics

	wg sync.WaitGroup
}

// RouterConfig assembles a Router's collaborators.
type RouterConfig struct {
	// Generation is the session generation this router serves.
	Generation int64

	// LiveGeneration reports the supervisor's current generation.
	LiveGeneration func() int64

	Socket   SocketClient
	Dedupe   *cache.DedupeCache
	History  *history.Store
	Identity models.BotIdentity
	Handler  MessageHandler

	// RespondInChannels lets plain channel messages through the gate in
	// addition to DMs, mentions, and thread replies.
	RespondInChannels bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewRouter creates a router for one connection.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		generation: cfg.Generation,
		live:       cfg.LiveGeneration,
		socket:     cfg.Socket,
		dedupe:     cfg.Dedupe,
		history:    cfg.History,
		identity:   cfg.Identity,
		handler:    cfg.Handler,
		openChan:   cfg.RespondInChannels,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// HandleEvent processes one Socket Mode event. Envelope acknowledgment
// happens before any routing so Slack never re-delivers on slow handlers;
// the dedupe cache covers redelivery across reconnects.
func (r *Router) HandleEvent(ctx context.Context, event socketmode.Event) {
	switch event.Type {
	case socketmode.EventTypeConnecting:
		r.logger.Debug(ctx, "socket mode connecting")

	case socketmode.EventTypeConnected:
		r.logger.Info(ctx, "socket mode connected")

	case socketmode.EventTypeConnectionError:
		r.logger.Warn(ctx, "socket mode connection error", "data", event.Data)

	case socketmode.EventTypeEventsAPI:
		r.handleEventsAPI(ctx, event)

	case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
		// Not in scope; acknowledge so Slack stops retrying.
		if event.Request != nil {
			r.socket.Ack(*event.Request)
		}
	}
}

func (r *Router) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		r.logger.Warn(ctx, "unexpected events api payload", "data", event.Data)
		if event.Request != nil {
			r.socket.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		r.socket.Ack(*event.Request)
	}

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		r.routeMessage(ctx, &slackevents.MessageEvent{
			Type:            "message",
			User:            ev.User,
			Text:            ev.Text,
			Channel:         ev.Channel,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
		})

	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.User == r.identity.UserID {
			return
		}
		if ev.SubType != "" {
			return
		}
		r.routeMessage(ctx, ev)

	case *slackevents.MemberJoinedChannelEvent:
		r.countEvent("membership")
		r.logger.Info(ctx, "member joined channel", "channel", ev.Channel, "user", ev.User)

	case *slackevents.MemberLeftChannelEvent:
		r.countEvent("membership")
		r.logger.Info(ctx, "member left channel", "channel", ev.Channel, "user", ev.User)

	default:
		r.countEvent("other")
		r.logger.Debug(ctx, "ignoring event", "inner_type", apiEvent.InnerEvent.Type)
	}
}

// routeMessage applies the stale-generation guard, dedup, and audience
// gating, then hands the message to the handler. Guard and dedup run
// synchronously here so two deliveries of the same event observe each
// other before any network work starts.
func (r *Router) routeMessage(ctx context.Context, event *slackevents.MessageEvent) {
	r.countEvent("message")

	if live := r.live(); live != r.generation {
		if r.metrics != nil {
			r.metrics.EventsStaleDropped.Inc()
		}
		r.logger.Debug(ctx, "dropping event from retired session",
			"event_generation", r.generation, "live_generation", live)
		return
	}

	// Events without a platform message ID bypass dedup and are
	// processed every time.
	key := cache.EventDedupeKey(event.Channel, event.TimeStamp)
	if r.dedupe.Check(key) {
		if r.metrics != nil {
			r.metrics.EventsDeduplicated.Inc()
		}
		r.logger.Debug(ctx, "dropping duplicate event",
			"chat_id", event.Channel, "message_ts", event.TimeStamp)
		return
	}

	if !r.shouldProcess(event) {
		return
	}

	msg := convertMessage(event)
	if msg.Content == "" {
		return
	}

	if r.history != nil {
		r.history.Append(msg.ChatID, msg)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.handler(ctx, msg, r.identity)
	}()
}

// shouldProcess gates messages to DMs, mentions, and thread replies,
// plus open channel traffic when configured.
func (r *Router) shouldProcess(event *slackevents.MessageEvent) bool {
	if r.openChan {
		return true
	}
	isDM := strings.HasPrefix(event.Channel, "D")
	isMention := strings.Contains(event.Text, "<@"+r.identity.UserID+">")
	return isDM || isMention || event.ThreadTimeStamp != ""
}

// Wait blocks until all dispatched handlers return.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) countEvent(eventType string) {
	if r.metrics != nil {
		r.metrics.EventsReceived.WithLabelValues(eventType).Inc()
	}
}
