package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type fakeTool struct {
	name   string
	result string
	err    error
	gotRaw json.RawMessage
}

func (f *fakeTool) Name() string            { return f.name }
func (f *fakeTool) Description() string     { return "fake tool" }
func (f *fakeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (f *fakeTool) Execute(_ context.Context, params json.RawMessage) (string, error) {
	f.gotRaw = params
	return f.result, f.err
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	tool := &fakeTool{name: "echo", result: "hi"}
	r.Register(tool)

	got, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected tool to be registered")
	}
	if got.Name() != "echo" {
		t.Errorf("got name %q, want echo", got.Name())
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing tool to not be found")
	}
}

func TestRegistry_ListOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "zeta"})
	r.Register(&fakeTool{name: "alpha"})
	r.Register(&fakeTool{name: "mid"})

	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name())
	}
	want := []string{"zeta", "alpha", "mid"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got order %v, want %v", names, want)
		}
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "echo", result: "first"})
	r.Register(&fakeTool{name: "echo", result: "second"})

	if len(r.List()) != 1 {
		t.Fatalf("got %d tools, want 1", len(r.List()))
	}
	out, err := r.Execute(context.Background(), "echo", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "second" {
		t.Errorf("got %q, want replacement result", out)
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !strings.Contains(err.Error(), "tool not found") {
		t.Errorf("got error %q, want tool-not-found", err)
	}
}

func TestRegistry_ExecuteOversizedParams(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "echo"})

	big := json.RawMessage(`"` + strings.Repeat("x", MaxParamsSize) + `"`)
	_, err := r.Execute(context.Background(), "echo", big)
	if err == nil {
		t.Fatal("expected error for oversized params")
	}
}

func TestClock_Execute(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	c := &Clock{Now: func() time.Time { return fixed }}

	t.Run("default UTC", func(t *testing.T) {
		out, err := c.Execute(context.Background(), nil)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if out != "2025-03-14T15:09:26Z" {
			t.Errorf("got %q", out)
		}
	})

	t.Run("with timezone", func(t *testing.T) {
		out, err := c.Execute(context.Background(), json.RawMessage(`{"timezone":"America/New_York"}`))
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if !strings.HasPrefix(out, "2025-03-14T11:09:26") {
			t.Errorf("got %q, want 11:09 eastern", out)
		}
	})

	t.Run("bad timezone", func(t *testing.T) {
		if _, err := c.Execute(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`)); err == nil {
			t.Fatal("expected error for unknown timezone")
		}
	})

	t.Run("bad params", func(t *testing.T) {
		if _, err := c.Execute(context.Background(), json.RawMessage(`{"timezone":42}`)); err == nil {
			t.Fatal("expected error for malformed params")
		}
	})
}
