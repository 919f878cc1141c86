package cards

import (
	"github.com/slack-go/slack"

	"github.com/haasonsaas/cardbridge/internal/chunk"
	"github.com/haasonsaas/cardbridge/internal/markdown"
)

// deliverFallback sends the finished reply when the managed card path is
// unavailable: first as a standalone card, then as chunked plain text if
// even that fails. Fires at most once per reply; caller holds gate.
func (r *Reply) deliverFallback(tree renderTree) {
	r.mu.Lock()
	if r.fallbackDone {
		r.mu.Unlock()
		return
	}
	r.fallbackDone = true
	r.mu.Unlock()

	if r.config.RenderMode != RenderModePlain {
		_, err := r.sendCard(tree, true, "")
		if err == nil {
			r.countFallback("card")
			return
		}
		r.logger.Warn(r.ctx, "standalone card delivery failed, sending plain text",
			"chat_id", r.chatID, "error", err)
	}

	r.sendPlainText(tree.Text())
}

// sendPlainText converts table markup to bullets, splits the text into
// size-bounded chunks, and sends them in order. A failed chunk aborts the
// remainder so the reply is never delivered out of order.
func (r *Reply) sendPlainText(text string) {
	text = markdown.ConvertTables(text, markdown.TableModeBullets)

	maxSize := r.config.MaxChunkSize
	if maxSize <= 0 {
		maxSize = chunk.DefaultMaxSize
	}

	for i, part := range chunk.SplitMarkdown(text, maxSize) {
		options := []slack.MsgOption{slack.MsgOptionText(part, false)}
		if r.threadTS != "" {
			options = append(options, slack.MsgOptionTS(r.threadTS))
		}
		if _, _, err := r.client.PostMessageContext(r.ctx, r.chatID, options...); err != nil {
			r.logger.Error(r.ctx, "plain text fallback delivery failed",
				"chat_id", r.chatID, "chunk", i, "error", err)
			return
		}
	}
	r.countFallback("text")
}

func (r *Reply) countFallback(kind string) {
	if r.metrics != nil {
		r.metrics.FallbackDeliveries.WithLabelValues(kind).Inc()
	}
}
