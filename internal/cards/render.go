package cards

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/haasonsaas/cardbridge/internal/markdown"
)

// cursorGlyph trails the body of a card that is still streaming.
const cursorGlyph = "▌"

// maxRenderedTools caps the completed-tool lines shown in the thinking
// section; older completions scroll off.
const maxRenderedTools = 10

// maxSectionText keeps a single mrkdwn block under Slack's 3000-char
// ceiling with headroom for the quote prefixes.
const maxSectionText = 2800

// maxArgPreview bounds the single-argument preview shown per tool line.
const maxArgPreview = 40

// ToolRun is one open tool invocation.
type ToolRun struct {
	ID        string
	Name      string
	Args      string
	StartedAt time.Time
}

// CompletedTool is a finished tool invocation tagged with its outcome.
type CompletedTool struct {
	ToolRun
	Failed bool
}

// renderTree is an immutable snapshot of everything a patch needs,
// taken under the reply lock so the network call can run without it.
type renderTree struct {
	body            string
	thinkingText    string
	hasThinking     bool
	thinkingStopped bool
	thinkingElapsed time.Duration
	activeTools     []ToolRun
	completedTools  []CompletedTool
	final           bool
	cursor          bool
}

// Blocks builds the Block Kit representation: an optional thinking
// section followed by the reply body.
func (t renderTree) Blocks() []slack.Block {
	var blocks []slack.Block

	if thinking := t.thinkingBlocks(); len(thinking) > 0 {
		blocks = append(blocks, thinking...)
	}

	if body := t.bodyText(); body != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncate(body, maxSectionText), false, false),
			nil, nil,
		))
	}

	return blocks
}

// Text is the plain-text rendering used for notification fallback text
// and plain render mode.
func (t renderTree) Text() string {
	return t.bodyText()
}

func (t renderTree) bodyText() string {
	body := markdown.CollapseRowGaps(t.body)
	if !t.final && t.cursor && body != "" {
		body += cursorGlyph
	}
	return body
}

// thinkingBlocks renders the reasoning section. While thinking is open it
// shows the "Thinking…" header, the reasoning snapshot, completed tool
// lines, and any tools still running. Once stopped it collapses to a
// one-line summary of elapsed time and tool outcomes.
func (t renderTree) thinkingBlocks() []slack.Block {
	if !t.hasThinking && len(t.activeTools) == 0 && len(t.completedTools) == 0 {
		return nil
	}

	if t.thinkingStopped {
		return []slack.Block{
			slack.NewContextBlock("",
				slack.NewTextBlockObject(slack.MarkdownType, t.thinkingSummary(), false, false),
			),
		}
	}

	var sb strings.Builder
	sb.WriteString("*Thinking…*")

	if t.thinkingText != "" {
		sb.WriteString("\n")
		sb.WriteString(quote(truncate(t.thinkingText, maxSectionText)))
	}

	for _, line := range t.toolLines() {
		sb.WriteString("\n")
		sb.WriteString(line)
	}

	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncate(sb.String(), maxSectionText), false, false),
			nil, nil,
		),
	}
}

func (t renderTree) thinkingSummary() string {
	succeeded, failed := 0, 0
	for _, tool := range t.completedTools {
		if tool.Failed {
			failed++
		} else {
			succeeded++
		}
	}

	parts := []string{fmt.Sprintf("Thought for %s", formatElapsed(t.thinkingElapsed))}
	if succeeded > 0 {
		parts = append(parts, fmt.Sprintf("%d ✅", succeeded))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d ❌", failed))
	}
	return strings.Join(parts, " · ")
}

// toolLines lists the most recent completed tools, then open ones.
func (t renderTree) toolLines() []string {
	var lines []string

	completed := t.completedTools
	if len(completed) > maxRenderedTools {
		completed = completed[len(completed)-maxRenderedTools:]
	}
	for _, tool := range completed {
		mark := "✅"
		if tool.Failed {
			mark = "❌"
		}
		lines = append(lines, fmt.Sprintf("%s %s%s", mark, tool.Name, argPreview(tool.Args)))
	}

	for _, tool := range t.activeTools {
		lines = append(lines, fmt.Sprintf("⏳ %s%s", tool.Name, argPreview(tool.Args)))
	}

	return lines
}

func argPreview(args string) string {
	args = strings.TrimSpace(args)
	if args == "" {
		return ""
	}
	return fmt.Sprintf(" (`%s`)", truncate(args, maxArgPreview))
}

func quote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
