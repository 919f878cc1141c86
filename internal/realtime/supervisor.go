// Package realtime owns the single live Socket Mode connection and the
// routing of its inbound events. The supervisor guarantees at most one
// authoritative connection at a time: every connection is tagged with a
// monotonically increasing session generation, and callbacks from a
// retired generation are permanent no-ops. Correctness rests only on the
// generation guard, never on the old transport actually closing.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/cardbridge/internal/cache"
	"github.com/haasonsaas/cardbridge/internal/history"
	"github.com/haasonsaas/cardbridge/internal/observability"
	"github.com/haasonsaas/cardbridge/pkg/models"
)

// Status reports connection health.
type Status struct {
	Connected bool
	Error     string
	LastEvent time.Time
}

// SupervisorConfig assembles a Supervisor.
type SupervisorConfig struct {
	BotToken string
	AppToken string

	// NewClients builds the transport for each connection attempt.
	// Nil selects the real Slack clients.
	NewClients ClientFactory

	Dedupe  *cache.DedupeCache
	History *history.Store
	Handler MessageHandler

	// HandlerFactory builds a handler bound to the connection's API
	// client. Takes precedence over Handler when set.
	HandlerFactory func(api APIClient) MessageHandler

	// RespondInChannels is forwarded to each connection's router.
	RespondInChannels bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Supervisor owns the realtime connection lifecycle. The dedup cache it
// holds is shared across every connection it starts, so a reconnect storm
// does not reprocess recently-seen events.
type Supervisor struct {
	mu         sync.Mutex
	generation int64
	cancel     context.CancelFunc

	botToken   string
	appToken   string
	newClients ClientFactory

	dedupe         *cache.DedupeCache
	history        *history.Store
	handler        MessageHandler
	handlerFactory func(api APIClient) MessageHandler
	openChannels   bool

	logger  *observability.Logger
	metrics *observability.Metrics

	statusMu sync.RWMutex
	status   Status
	identity models.BotIdentity
}

// NewSupervisor creates a supervisor. Dedupe, Handler, and Logger are
// required; NewClients defaults to the real Slack transport.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	factory := cfg.NewClients
	if factory == nil {
		factory = NewClients
	}
	return &Supervisor{
		botToken:       cfg.BotToken,
		appToken:       cfg.AppToken,
		newClients:     factory,
		dedupe:         cfg.Dedupe,
		history:        cfg.History,
		handler:        cfg.Handler,
		handlerFactory: cfg.HandlerFactory,
		openChannels:   cfg.RespondInChannels,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
}

// StartConnection establishes a new connection and services it until ctx
// is cancelled (returns nil) or the connection fails (returns the error).
// Any existing connection is force-terminated first: its reconnect loop
// is cancelled and the transport closed best-effort, errors logged and
// never propagated. The session generation is bumped before the old
// connection is touched, so its callbacks retire immediately.
func (s *Supervisor) StartConnection(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.teardownLocked(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	api, socket := s.newClients(s.botToken, s.appToken)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ConnectionStarts.Inc()
	}

	// Handshake: resolve the bot identity before handling any events.
	auth, err := api.AuthTestContext(runCtx)
	if err != nil {
		s.retire(ctx, generation)
		s.setStatus(false, fmt.Sprintf("auth failed: %v", err))
		return fmt.Errorf("slack auth test: %w", err)
	}
	identity := models.BotIdentity{
		UserID: auth.UserID,
		Name:   auth.User,
		Team:   auth.Team,
	}
	s.statusMu.Lock()
	s.identity = identity
	s.statusMu.Unlock()

	s.logger.Info(ctx, "connection starting",
		"generation", generation, "bot_user_id", identity.UserID)

	handler := s.handler
	if s.handlerFactory != nil {
		handler = s.handlerFactory(api)
	}

	router := NewRouter(RouterConfig{
		Generation:        generation,
		LiveGeneration:    s.Generation,
		Socket:            socket,
		Dedupe:            s.dedupe,
		History:           s.history,
		Identity:          identity,
		Handler:           handler,
		RespondInChannels: s.openChannels,
		Logger:            s.logger,
		Metrics:           s.metrics,
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- socket.RunContext(runCtx)
	}()

	s.setStatus(true, "")

	for {
		select {
		case <-runCtx.Done():
			s.retire(ctx, generation)
			s.setStatus(false, "")
			router.Wait()
			return nil

		case err := <-runErr:
			s.retire(ctx, generation)
			router.Wait()
			if runCtx.Err() != nil {
				s.setStatus(false, "")
				return nil
			}
			s.setStatus(false, fmt.Sprintf("socket mode: %v", err))
			return fmt.Errorf("socket mode run: %w", err)

		case event, ok := <-socket.Events():
			if !ok {
				s.retire(ctx, generation)
				s.setStatus(false, "event stream closed")
				router.Wait()
				return nil
			}
			s.statusMu.Lock()
			s.status.LastEvent = time.Now()
			s.statusMu.Unlock()
			router.HandleEvent(runCtx, event)
		}
	}
}

// StopConnection retires all pending callbacks by bumping the generation
// and force-terminates the current connection. Idempotent.
func (s *Supervisor) StopConnection() {
	s.mu.Lock()
	s.generation++
	s.teardownLocked(context.Background())
	s.mu.Unlock()
	s.setStatus(false, "")
}

// Generation returns the live session generation.
func (s *Supervisor) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Status returns a snapshot of connection health.
func (s *Supervisor) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Identity returns the bot identity resolved by the last handshake.
func (s *Supervisor) Identity() models.BotIdentity {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.identity
}

// retire tears down this connection's transport if it is still the
// current one. A newer generation's teardown already covered it otherwise.
func (s *Supervisor) retire(ctx context.Context, generation int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return
	}
	s.teardownLocked(ctx)
}

// teardownLocked cancels the current connection's run context, which
// stops its reconnect loop and closes the transport. Best-effort: a
// transport that refuses to die keeps a stale socket but its events are
// generation-gated.
func (s *Supervisor) teardownLocked(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	s.logger.Debug(ctx, "tearing down connection", "generation", s.generation)
	s.cancel()
	s.cancel = nil
	if s.metrics != nil {
		s.metrics.ConnectionTeardowns.Inc()
	}
}

func (s *Supervisor) setStatus(connected bool, errMsg string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Connected = connected
	s.status.Error = errMsg
}
