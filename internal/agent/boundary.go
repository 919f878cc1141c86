// Package agent defines the boundary between the bridge and the
// conversational runtime. The bridge hands an inbound message across the
// boundary and receives an ordered stream of reply fragments back.
package agent

import (
	"context"

	"github.com/haasonsaas/cardbridge/pkg/models"
)

// Request carries one conversational turn across the boundary.
type Request struct {
	// ChatID identifies the conversation the reply belongs to.
	ChatID string

	// System is the optional system prompt.
	System string

	// Messages is the transcript ending with the user's latest message,
	// oldest first.
	Messages []*models.Message

	// Model overrides the runner's default model when non-empty.
	Model string

	// MaxTokens caps the generated reply. Zero selects the runner default.
	MaxTokens int

	// EnableThinking asks the runtime to emit reasoning fragments.
	EnableThinking bool
}

// FragmentSink receives reply fragments in the order the runtime produced
// them. Calls are made from a single goroutine; implementations do not
// need their own ordering.
type FragmentSink interface {
	// OnReasoningFragment delivers a piece of the model's reasoning text.
	OnReasoningFragment(text string)

	// OnToolStart signals the runtime is about to execute a tool. args
	// is the tool's input JSON, complete by the time this fires.
	OnToolStart(id, name, args string)

	// OnToolEnd signals a tool finished. ok is false when the tool failed.
	OnToolEnd(id, name string, ok bool)

	// OnTextFragment delivers a piece of the user-visible reply text.
	OnTextFragment(text string)

	// OnIdle signals the turn is complete and no more fragments follow.
	OnIdle()
}

// Boundary runs one turn against the conversational runtime, pushing
// fragments into sink as they arrive. Run blocks until the turn finishes
// or ctx is cancelled. OnIdle is invoked exactly once on success; on
// error the sink may have received a partial stream without OnIdle.
type Boundary interface {
	Run(ctx context.Context, req *Request, sink FragmentSink) error
}

// MockBoundary is a Boundary for tests.
type MockBoundary struct {
	RunFunc func(ctx context.Context, req *Request, sink FragmentSink) error
}

func (m *MockBoundary) Run(ctx context.Context, req *Request, sink FragmentSink) error {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, req, sink)
	}
	sink.OnIdle()
	return nil
}
