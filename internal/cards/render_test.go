package cards

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

func blocksJSON(t *testing.T, blocks []slack.Block) string {
	t.Helper()
	data, err := json.Marshal(blocks)
	if err != nil {
		t.Fatalf("marshal blocks: %v", err)
	}
	return string(data)
}

func TestRenderTree_OpenThinking(t *testing.T) {
	tree := renderTree{
		hasThinking:  true,
		thinkingText: "weighing the options",
		activeTools:  []ToolRun{{ID: "t1", Name: "websearch", Args: "query=go releases"}},
		completedTools: []CompletedTool{
			{ToolRun: ToolRun{ID: "t0", Name: "read_file", Args: "path=main.go"}},
		},
		body: "partial answer",
	}

	rendered := blocksJSON(t, tree.Blocks())
	for _, want := range []string{
		"Thinking…",
		"weighing the options",
		"✅ read_file",
		"path=main.go",
		"⏳ websearch",
		"partial answer",
	} {
		if !strings.Contains(rendered, want) {
			t.Errorf("blocks missing %q:\n%s", want, rendered)
		}
	}
}

func TestRenderTree_CollapsedThinking(t *testing.T) {
	tree := renderTree{
		hasThinking:     true,
		thinkingText:    "long reasoning trace",
		thinkingStopped: true,
		thinkingElapsed: 12 * time.Second,
		completedTools: []CompletedTool{
			{ToolRun: ToolRun{Name: "a"}},
			{ToolRun: ToolRun{Name: "b"}, Failed: true},
			{ToolRun: ToolRun{Name: "c"}},
		},
		body:  "the answer",
		final: true,
	}

	rendered := blocksJSON(t, tree.Blocks())
	if !strings.Contains(rendered, "Thought for 12s · 2 ✅ · 1 ❌") {
		t.Errorf("blocks missing collapsed summary:\n%s", rendered)
	}
	if strings.Contains(rendered, "long reasoning trace") {
		t.Errorf("collapsed render still shows the reasoning text:\n%s", rendered)
	}
	if strings.Contains(rendered, "Thinking…") {
		t.Errorf("collapsed render still shows open header:\n%s", rendered)
	}
}

func TestRenderTree_NoThinkingSection(t *testing.T) {
	tree := renderTree{body: "just text"}
	blocks := tree.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want only the body section", len(blocks))
	}
}

func TestRenderTree_ToolLinesCapped(t *testing.T) {
	tree := renderTree{hasThinking: true}
	for i := 0; i < 15; i++ {
		tree.completedTools = append(tree.completedTools, CompletedTool{
			ToolRun: ToolRun{Name: string(rune('a' + i))},
		})
	}

	lines := tree.toolLines()
	if len(lines) != maxRenderedTools {
		t.Fatalf("tool lines = %d, want %d", len(lines), maxRenderedTools)
	}
	if !strings.Contains(lines[0], "f") {
		t.Errorf("oldest rendered line = %q, want the 6th tool", lines[0])
	}
	if !strings.Contains(lines[len(lines)-1], "o") {
		t.Errorf("newest rendered line = %q, want the 15th tool", lines[len(lines)-1])
	}
}

func TestRenderTree_CursorOnlyWhenStreaming(t *testing.T) {
	tests := []struct {
		name   string
		tree   renderTree
		suffix bool
	}{
		{"streaming with cursor", renderTree{body: "abc", cursor: true}, true},
		{"final with cursor", renderTree{body: "abc", cursor: true, final: true}, false},
		{"streaming without cursor", renderTree{body: "abc"}, false},
		{"empty body never gets cursor", renderTree{cursor: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.HasSuffix(tt.tree.bodyText(), cursorGlyph)
			if got != tt.suffix {
				t.Errorf("bodyText() = %q, cursor suffix = %v, want %v", tt.tree.bodyText(), got, tt.suffix)
			}
		})
	}
}

func TestArgPreview(t *testing.T) {
	tests := []struct {
		name string
		args string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"short", "path=x", " (`path=x`)"},
		{"truncated", strings.Repeat("q", 60), " (`" + strings.Repeat("q", maxArgPreview) + "…`)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := argPreview(tt.args); got != tt.want {
				t.Errorf("argPreview(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("hello world", 5); got != "hello…" {
		t.Errorf("truncate = %q, want hello…", got)
	}
	// Never cut inside a multi-byte rune.
	got := truncate("日本語テキスト", 7)
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncate = %q, want ellipsis", got)
	}
	for _, r := range got {
		if r == '\uFFFD' {
			t.Fatalf("truncate produced invalid UTF-8: %q", got)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "<1s"},
		{3 * time.Second, "3s"},
		{59 * time.Second, "59s"},
		{90 * time.Second, "1m30s"},
	}

	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestThinkingSummary_NoTools(t *testing.T) {
	tree := renderTree{thinkingStopped: true, thinkingElapsed: 2 * time.Second}
	if got := tree.thinkingSummary(); got != "Thought for 2s" {
		t.Errorf("summary = %q, want plain elapsed line", got)
	}
}
