package cards

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/cardbridge/internal/markdown"
	"github.com/haasonsaas/cardbridge/internal/observability"
)

// RenderMode selects how replies are delivered.
type RenderMode string

const (
	// RenderModeAuto sends cards and degrades to plain text on failure.
	RenderModeAuto RenderMode = "auto"
	// RenderModePlain skips Block Kit entirely.
	RenderModePlain RenderMode = "plain"
	// RenderModeCard always sends cards, including the fallback attempt.
	RenderModeCard RenderMode = "card"
)

const (
	// DefaultPatchInterval is the minimum spacing between card patches.
	DefaultPatchInterval = 500 * time.Millisecond

	// DefaultImmediateThreshold triggers an immediate patch when the card
	// has been stale for longer than this.
	DefaultImmediateThreshold = 800 * time.Millisecond
)

// Sender is the slice of the chat API the renderer needs. Satisfied by
// *slack.Client.
type Sender interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// Config tunes a reply renderer.
type Config struct {
	PatchInterval      time.Duration
	ImmediateThreshold time.Duration
	CursorEnabled      bool
	RenderMode         RenderMode
	MaxChunkSize       int

	// Buffered suppresses intermediate patches; the reply is delivered
	// once, at finalize. Used when streaming is disabled.
	Buffered bool
}

func (c Config) withDefaults() Config {
	if c.PatchInterval <= 0 {
		c.PatchInterval = DefaultPatchInterval
	}
	if c.ImmediateThreshold <= 0 {
		c.ImmediateThreshold = DefaultImmediateThreshold
	}
	if c.RenderMode == "" {
		c.RenderMode = RenderModeAuto
	}
	return c
}

// patchPhase tracks the single-writer patch gate.
type patchPhase int

const (
	patchIdle patchPhase = iota
	patchScheduled
	patchInFlight
	patchFailed
)

// Reply accumulates one agent reply and mirrors it into a single card
// message, patched in place as fragments arrive. It implements
// agent.FragmentSink-shaped callbacks via the Handle* methods on the
// bridge side.
//
// All mutation happens under mu. Network calls happen outside mu but
// are serialized by gate, so at most one card operation is in flight.
type Reply struct {
	mu   sync.Mutex
	gate sync.Mutex

	config  Config
	client  Sender
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	ctx      context.Context
	chatID   string
	threadTS string

	accumulated     string
	thinkingText    string
	hasThinking     bool
	thinkingStart   time.Time
	thinkingStop    time.Time
	thinkingStopped bool

	activeTools    map[string]*ToolRun
	activeOrder    []string
	completedTools []CompletedTool

	cardMessageID   string
	streamingFailed bool
	finalized       bool
	fallbackDone    bool

	phase        patchPhase
	pendingTimer *time.Timer
	repatch      bool
	lastPatch    time.Time
}

// ReplyConfig wires a Reply's dependencies.
type ReplyConfig struct {
	Client   Sender
	ChatID   string
	ThreadTS string
	Config   Config
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewReply creates a renderer for one reply. The context bounds all card
// operations for the reply's lifetime.
func NewReply(ctx context.Context, rc ReplyConfig) *Reply {
	r := &Reply{
		config:      rc.Config.withDefaults(),
		client:      rc.Client,
		logger:      rc.Logger,
		metrics:     rc.Metrics,
		now:         time.Now,
		ctx:         ctx,
		chatID:      rc.ChatID,
		threadTS:    rc.ThreadTS,
		activeTools: make(map[string]*ToolRun),
	}
	if r.metrics != nil {
		r.metrics.ActiveReplies.Inc()
	}
	return r
}

// OnReasoningFragment replaces the thinking snapshot. Fragments arriving
// after thinking has stopped are ignored.
func (r *Reply) OnReasoningFragment(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.thinkingStopped || r.finalized {
		return
	}
	if !r.hasThinking {
		r.hasThinking = true
		r.thinkingStart = r.now()
	}
	r.thinkingText = text
	r.requestPatchLocked()
}

// OnToolStart records a tool invocation as running. args carries the
// tool's input for the argument preview; a repeated id updates the
// existing entry in place.
func (r *Reply) OnToolStart(id, name, args string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	if !r.hasThinking {
		r.hasThinking = true
		r.thinkingStart = r.now()
	}
	if existing, ok := r.activeTools[id]; ok {
		existing.Name = name
		existing.Args = args
		r.requestPatchLocked()
		return
	}
	r.activeOrder = append(r.activeOrder, id)
	r.activeTools[id] = &ToolRun{ID: id, Name: name, Args: args, StartedAt: r.now()}
	r.requestPatchLocked()
}

// OnToolEnd moves a tool from running to completed. Unknown ids are
// recorded as completed anyway so late end events still surface.
func (r *Reply) OnToolEnd(id, name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	run := r.activeTools[id]
	if run == nil {
		run = &ToolRun{ID: id, Name: name}
	}
	delete(r.activeTools, id)
	for i, activeID := range r.activeOrder {
		if activeID == id {
			r.activeOrder = append(r.activeOrder[:i], r.activeOrder[i+1:]...)
			break
		}
	}
	r.completedTools = append(r.completedTools, CompletedTool{ToolRun: *run, Failed: !ok})
	r.requestPatchLocked()
}

// OnTextFragment appends reply text. The first text fragment permanently
// stops thinking updates and cancels any pending patch timer so the body
// renders fresh. Fragments are joined on a newline unless the boundary
// already has one.
func (r *Reply) OnTextFragment(text string) {
	r.appendText(text, false)
}

// OnFinalText appends the last fragment and finalizes the reply.
func (r *Reply) OnFinalText(text string) {
	r.appendText(text, true)
}

func (r *Reply) appendText(text string, isFinal bool) {
	r.mu.Lock()

	if r.finalized {
		r.mu.Unlock()
		return
	}
	if !r.thinkingStopped {
		r.stopThinkingLocked()
		r.cancelTimerLocked()
	}
	r.accumulated = joinFragments(r.accumulated, text)

	if isFinal {
		r.finalizeLocked()
		return
	}
	r.requestPatchLocked()
	r.mu.Unlock()
}

// OnIdle marks the upstream stream as done and delivers any remaining
// text. Safe to call more than once.
func (r *Reply) OnIdle() {
	r.mu.Lock()

	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.stopThinkingLocked()
	r.cancelTimerLocked()
	r.finalizeLocked()
}

// Failed reports whether streaming delivery was abandoned.
func (r *Reply) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamingFailed
}

// Finalized reports whether the reply has been delivered.
func (r *Reply) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// AccumulatedText returns the reply body gathered so far.
func (r *Reply) AccumulatedText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accumulated
}

// CardMessageID returns the timestamp of the managed card, if created.
func (r *Reply) CardMessageID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cardMessageID
}

func (r *Reply) stopThinkingLocked() {
	if r.thinkingStopped {
		return
	}
	r.thinkingStopped = true
	if r.hasThinking {
		r.thinkingStop = r.now()
	}
}

func (r *Reply) cancelTimerLocked() {
	if r.pendingTimer != nil {
		r.pendingTimer.Stop()
		r.pendingTimer = nil
	}
	if r.phase == patchScheduled {
		r.phase = patchIdle
	}
}

// requestPatchLocked coalesces patch requests: at most one timer pending,
// at most one network call in flight, later requests collapse into the
// next render which always snapshots the latest state.
func (r *Reply) requestPatchLocked() {
	if r.streamingFailed || r.finalized || r.config.Buffered {
		return
	}
	// A body with a half-open table renders badly mid-stream; hold
	// patches until the table terminates or the reply finalizes.
	if markdown.HasUnterminatedTable(r.accumulated) {
		return
	}

	switch r.phase {
	case patchScheduled, patchFailed:
		return
	case patchInFlight:
		r.repatch = true
		return
	}

	elapsed := r.now().Sub(r.lastPatch)
	if r.lastPatch.IsZero() || elapsed > r.config.ImmediateThreshold {
		r.phase = patchInFlight
		go r.executePatch()
		return
	}

	delay := r.config.PatchInterval - elapsed
	if delay < 0 {
		delay = 0
	}
	r.phase = patchScheduled
	r.pendingTimer = time.AfterFunc(delay, r.firePatch)
}

func (r *Reply) firePatch() {
	r.mu.Lock()
	if r.phase != patchScheduled || r.streamingFailed || r.finalized {
		r.mu.Unlock()
		return
	}
	r.pendingTimer = nil
	r.phase = patchInFlight
	r.mu.Unlock()

	r.executePatch()
}

// executePatch performs one create-or-update round trip. Caller must have
// set phase to patchInFlight. The gate is held until the outcome is
// recorded, so whoever acquires it next observes the created card id.
func (r *Reply) executePatch() {
	r.gate.Lock()
	defer r.gate.Unlock()

	r.mu.Lock()
	if r.finalized || r.streamingFailed {
		if !r.streamingFailed {
			r.phase = patchIdle
		}
		r.mu.Unlock()
		return
	}
	tree := r.snapshotLocked(false)
	create := r.cardMessageID == ""
	messageID := r.cardMessageID
	r.lastPatch = r.now()
	r.mu.Unlock()

	start := time.Now()
	newID, err := r.sendCard(tree, create, messageID)
	if r.metrics != nil {
		r.metrics.PatchLatency.Observe(time.Since(start).Seconds())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		if create {
			// Without a card to patch there is nothing to stream into;
			// the reply is delivered by fallback at finalize.
			r.streamingFailed = true
			r.phase = patchFailed
			r.countCardOp("create", "error")
			r.logger.Warn(r.ctx, "card creation failed, streaming disabled",
				"chat_id", r.chatID, "error", err)
			return
		}
		r.phase = patchIdle
		r.countCardOp("patch", "error")
		r.logger.Debug(r.ctx, "card patch failed, will retry on next patch",
			"chat_id", r.chatID, "message_id", messageID, "error", err)
	} else {
		if create {
			r.cardMessageID = newID
			r.countCardOp("create", "success")
		} else {
			r.countCardOp("patch", "success")
		}
		r.phase = patchIdle
	}

	if r.repatch && !r.finalized {
		r.repatch = false
		r.requestPatchLocked()
	}
}

// sendCard does the network call for one create or full-replace update.
func (r *Reply) sendCard(tree renderTree, create bool, messageID string) (string, error) {
	options := r.messageOptions(tree)
	if create {
		if r.threadTS != "" {
			options = append(options, slack.MsgOptionTS(r.threadTS))
		}
		_, ts, err := r.client.PostMessageContext(r.ctx, r.chatID, options...)
		return ts, err
	}
	_, _, _, err := r.client.UpdateMessageContext(r.ctx, r.chatID, messageID, options...)
	return messageID, err
}

func (r *Reply) messageOptions(tree renderTree) []slack.MsgOption {
	text := tree.Text()
	if r.config.RenderMode == RenderModePlain {
		return []slack.MsgOption{slack.MsgOptionText(text, false)}
	}
	blocks := tree.Blocks()
	if len(blocks) == 0 {
		return []slack.MsgOption{slack.MsgOptionText(text, false)}
	}
	return []slack.MsgOption{
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(text, false),
	}
}

func (r *Reply) snapshotLocked(final bool) renderTree {
	tree := renderTree{
		body:            r.accumulated,
		thinkingText:    r.thinkingText,
		hasThinking:     r.hasThinking,
		thinkingStopped: r.thinkingStopped,
		completedTools:  append([]CompletedTool(nil), r.completedTools...),
		final:           final,
		cursor:          r.config.CursorEnabled,
	}
	if r.hasThinking {
		stop := r.thinkingStop
		if stop.IsZero() {
			stop = r.now()
		}
		tree.thinkingElapsed = stop.Sub(r.thinkingStart)
	}
	for _, id := range r.activeOrder {
		if run := r.activeTools[id]; run != nil {
			tree.activeTools = append(tree.activeTools, *run)
		}
	}
	return tree
}

// finalizeLocked delivers the finished reply exactly once. Caller holds
// mu; it is released here so the network call runs without it.
func (r *Reply) finalizeLocked() {
	if r.finalized {
		r.mu.Unlock()
		return
	}
	if strings.TrimSpace(r.accumulated) == "" {
		r.finalized = true
		r.finishLocked()
		r.mu.Unlock()
		return
	}

	r.finalized = true
	r.stopThinkingLocked()
	r.cancelTimerLocked()
	tree := r.snapshotLocked(true)
	r.finishLocked()
	r.mu.Unlock()

	// Waits for any in-flight patch to settle before the final write.
	// That patch may be the card's creation, so the id and the failure
	// flag are read only after the gate is held.
	r.gate.Lock()
	defer r.gate.Unlock()

	r.mu.Lock()
	failed := r.streamingFailed
	messageID := r.cardMessageID
	r.mu.Unlock()

	if failed || messageID == "" {
		r.deliverFallback(tree)
		return
	}

	if _, err := r.sendCard(tree, false, messageID); err != nil {
		r.countCardOp("final", "error")
		r.logger.Warn(r.ctx, "final card update failed, falling back",
			"chat_id", r.chatID, "message_id", messageID, "error", err)
		r.deliverFallback(tree)
		return
	}
	r.countCardOp("final", "success")
}

func (r *Reply) finishLocked() {
	if r.metrics != nil {
		r.metrics.ActiveReplies.Dec()
	}
}

func (r *Reply) countCardOp(operation, status string) {
	if r.metrics != nil {
		r.metrics.CardOperations.WithLabelValues(operation, status).Inc()
	}
}

// joinFragments concatenates stream fragments, inserting a newline when
// neither side of the boundary carries one.
func joinFragments(acc, text string) string {
	if acc == "" {
		return text
	}
	if text == "" {
		return acc
	}
	if strings.HasSuffix(acc, "\n") || strings.HasPrefix(text, "\n") {
		return acc + text
	}
	return acc + "\n" + text
}
