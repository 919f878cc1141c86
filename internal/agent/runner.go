package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/cardbridge/internal/backoff"
	"github.com/haasonsaas/cardbridge/internal/tools"
	"github.com/haasonsaas/cardbridge/pkg/models"
)

// maxEmptyStreamEvents caps consecutive events that produce no output
// before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// maxToolTurns caps tool round-trips in a single Run. The model gets this
// many chances to call tools before the loop gives up.
const maxToolTurns = 5

// AnthropicRunner is a Boundary backed by Anthropic's streaming API.
// Thinking deltas become reasoning fragments, tool_use blocks are
// executed against the local registry and their results fed back into a
// follow-up turn, and text deltas become text fragments.
type AnthropicRunner struct {
	client       anthropic.Client
	registry     *tools.Registry
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicRunner. APIKey is required.
type AnthropicConfig struct {
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// Tools is the local registry declared on every request. When nil,
	// no tools are advertised and any tool_use the model emits anyway is
	// reported failed.
	Tools *tools.Registry

	// MaxRetries caps retry attempts for transient stream-creation
	// failures. Default: 3.
	MaxRetries int

	// RetryDelay is the base backoff delay. Default: 1 second.
	RetryDelay time.Duration

	// DefaultModel is used when Request.Model is empty.
	DefaultModel string
}

// NewAnthropicRunner creates a runner from config, applying defaults for
// omitted optional fields.
func NewAnthropicRunner(config AnthropicConfig) (*AnthropicRunner, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicRunner{
		client:       anthropic.NewClient(options...),
		registry:     config.Tools,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Run executes one exchange, pushing fragments into sink as stream
// events arrive and looping through tool round-trips until the model
// stops calling tools. Transient failures are retried with exponential
// backoff, but only while the sink has seen nothing: once a fragment is
// delivered, a retry would duplicate output, so any later error ends the
// exchange.
func (r *AnthropicRunner) Run(ctx context.Context, req *Request, sink FragmentSink) error {
	params, err := r.buildParams(req)
	if err != nil {
		return fmt.Errorf("anthropic: %w", err)
	}

	tracked := &trackingSink{sink: sink}
	policy := backoff.BackoffPolicy{
		InitialMs: float64(r.retryDelay.Milliseconds()),
		MaxMs:     float64((30 * time.Second).Milliseconds()),
		Factor:    2,
		Jitter:    0.1,
	}

	// Permanent failures are stashed and reported as a "success" to the
	// retry helper so it stops iterating.
	var permanent error
	result, retryErr := backoff.RetryWithBackoff(ctx, policy, r.maxRetries+1, func(attempt int) (struct{}, error) {
		runErr := r.runTurns(ctx, params, tracked)
		if runErr == nil {
			return struct{}{}, nil
		}
		if tracked.delivered || !isRetryableError(runErr) {
			permanent = runErr
			return struct{}{}, nil
		}
		return struct{}{}, runErr
	})
	if permanent != nil {
		return fmt.Errorf("anthropic: %w", permanent)
	}
	if errors.Is(retryErr, backoff.ErrMaxAttemptsExhausted) && result.LastError != nil {
		return fmt.Errorf("anthropic: max retries exceeded: %w", result.LastError)
	}
	if retryErr != nil {
		return fmt.Errorf("anthropic: %w", retryErr)
	}
	return nil
}

// runTurns streams turns until one finishes without tool calls. Tool
// calls are executed locally and their results appended to the
// transcript for the next turn. Reasoning accumulates across turns so
// each fragment carries the full thinking text so far.
func (r *AnthropicRunner) runTurns(ctx context.Context, params anthropic.MessageNewParams, sink FragmentSink) error {
	var thinking strings.Builder

	for turn := 0; turn < maxToolTurns; turn++ {
		stream := r.client.Messages.NewStreaming(ctx, params)
		result, err := r.consumeStream(ctx, stream, sink, &thinking)
		if err != nil {
			return err
		}

		if len(result.toolCalls) == 0 {
			sink.OnIdle()
			return nil
		}

		if r.registry == nil {
			// The model called a tool nothing declared. Close the calls
			// as failed and end the exchange with what we have.
			for _, call := range result.toolCalls {
				sink.OnToolEnd(call.id, call.name, false)
			}
			sink.OnIdle()
			return nil
		}

		assistant, user := r.executeTools(ctx, result, sink)
		params.Messages = append(params.Messages, assistant, user)
	}

	return fmt.Errorf("anthropic: tool loop did not settle after %d turns", maxToolTurns)
}

// executeTools runs each requested tool against the registry and builds
// the assistant/user message pair that replays the calls and their
// results into the next turn.
func (r *AnthropicRunner) executeTools(ctx context.Context, result *turnResult, sink FragmentSink) (anthropic.MessageParam, anthropic.MessageParam) {
	var assistantBlocks []anthropic.ContentBlockParamUnion
	if result.text != "" {
		assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(result.text))
	}

	var resultBlocks []anthropic.ContentBlockParamUnion
	for _, call := range result.toolCalls {
		var input map[string]interface{}
		if err := json.Unmarshal(call.input, &input); err != nil {
			input = map[string]interface{}{}
		}
		assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(call.id, input, call.name))

		output, execErr := r.registry.Execute(ctx, call.name, call.input)
		content := output
		if execErr != nil {
			content = execErr.Error()
		}
		resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(call.id, content, execErr != nil))
		sink.OnToolEnd(call.id, call.name, execErr == nil)
	}

	return anthropic.NewAssistantMessage(assistantBlocks...), anthropic.NewUserMessage(resultBlocks...)
}

// trackingSink records whether any fragment reached the real sink.
type trackingSink struct {
	sink      FragmentSink
	delivered bool
}

func (t *trackingSink) OnReasoningFragment(text string) {
	t.delivered = true
	t.sink.OnReasoningFragment(text)
}

func (t *trackingSink) OnToolStart(id, name, args string) {
	t.delivered = true
	t.sink.OnToolStart(id, name, args)
}

func (t *trackingSink) OnToolEnd(id, name string, ok bool) {
	t.delivered = true
	t.sink.OnToolEnd(id, name, ok)
}

func (t *trackingSink) OnTextFragment(text string) {
	t.delivered = true
	t.sink.OnTextFragment(text)
}

func (t *trackingSink) OnIdle() {
	t.delivered = true
	t.sink.OnIdle()
}

func (r *AnthropicRunner) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = r.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}

	if req.EnableThinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}

	if r.registry != nil {
		converted, err := convertTools(r.registry.List())
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = converted
	}

	return params, nil
}

// turnResult is what one streamed turn produced: the assistant text and
// any tool calls awaiting execution.
type turnResult struct {
	text      string
	toolCalls []toolCall
}

type toolCall struct {
	id    string
	name  string
	input json.RawMessage
}

// consumeStream maps stream events onto the sink and collects the turn's
// output. Tool arguments stream as input_json_delta fragments and are
// accumulated per block; the tool is announced once, at block stop, with
// its complete arguments. Thinking deltas likewise accumulate into the
// shared builder, and each fragment pushed to the sink is the full text
// so far since downstream renders a snapshot, not an append.
func (r *AnthropicRunner) consumeStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], sink FragmentSink, thinking *strings.Builder) (*turnResult, error) {
	var (
		result      turnResult
		text        strings.Builder
		toolID      string
		toolName    string
		toolInput   strings.Builder
		inThinking  bool
		emptyEvents int
	)

	for stream.Next() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			switch contentBlock.Type {
			case "thinking":
				inThinking = true
				eventProcessed = true
			case "tool_use":
				toolUse := contentBlock.AsToolUse()
				toolID = toolUse.ID
				toolName = toolUse.Name
				toolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					sink.OnTextFragment(delta.Text)
					eventProcessed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					thinking.WriteString(delta.Thinking)
					sink.OnReasoningFragment(thinking.String())
					eventProcessed = true
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
				eventProcessed = true
			case "signature_delta":
				eventProcessed = true
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				eventProcessed = true
			} else if toolID != "" {
				args := toolInput.String()
				if args == "" {
					args = "{}"
				}
				sink.OnToolStart(toolID, toolName, args)
				result.toolCalls = append(result.toolCalls, toolCall{
					id:    toolID,
					name:  toolName,
					input: json.RawMessage(args),
				})
				toolID, toolName = "", ""
				eventProcessed = true
			}

		case "message_delta":
			eventProcessed = true

		case "message_stop":
			result.text = text.String()
			return &result, nil

		case "error":
			return nil, errors.New("anthropic: stream error")
		}

		if eventProcessed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return nil, fmt.Errorf("anthropic: stream appears malformed: %d consecutive empty events", emptyEvents)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return nil, errors.New("anthropic: stream ended without message_stop")
}

// convertTools maps registry tools into Anthropic tool definitions.
func convertTools(registered []tools.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for _, tool := range registered {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())

		result = append(result, toolParam)
	}

	return result, nil
}

// convertMessages maps the transcript into Anthropic message params.
// System-role entries are skipped; the system prompt travels separately.
func convertMessages(messages []*models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg == nil || msg.Role == models.RoleSystem || msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

// isRetryableError classifies transient failures worth retrying: rate
// limits, 5xx responses, timeouts, and connection resets.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	if strings.Contains(errMsg, "rate_limit") ||
		strings.Contains(errMsg, "429") ||
		strings.Contains(errMsg, "too many requests") {
		return true
	}

	if strings.Contains(errMsg, "500") ||
		strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") ||
		strings.Contains(errMsg, "504") ||
		strings.Contains(errMsg, "internal server error") ||
		strings.Contains(errMsg, "bad gateway") ||
		strings.Contains(errMsg, "service unavailable") ||
		strings.Contains(errMsg, "gateway timeout") {
		return true
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return true
	}

	if strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") {
		return true
	}

	return false
}
