package realtime

import (
	"context"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
)

// APIClient is the subset of the Slack Web API the bridge uses.
// Interface extraction allows mock injection during testing.
type APIClient interface {
	// Authentication
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)

	// Messaging
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)

	// Reactions
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
}

// SocketClient is the Socket Mode surface the supervisor drives.
type SocketClient interface {
	// RunContext services the Socket Mode connection until ctx is
	// cancelled or the connection fails terminally.
	RunContext(ctx context.Context) error

	// Ack acknowledges an envelope.
	Ack(req socketmode.Request, payload ...interface{})

	// Events returns the channel delivering Socket Mode events.
	Events() <-chan socketmode.Event
}

// Ensure slack.Client implements APIClient
var _ APIClient = (*slack.Client)(nil)

// socketClientAdapter lets *socketmode.Client satisfy SocketClient; the
// SDK exposes the event stream as a struct field rather than a method.
type socketClientAdapter struct {
	*socketmode.Client
}

func (a socketClientAdapter) Events() <-chan socketmode.Event {
	return a.Client.Events
}

// NewClients builds the real Slack clients from bot and app tokens.
func NewClients(botToken, appToken string) (APIClient, SocketClient) {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)
	socket := socketmode.New(
		api,
		socketmode.OptionDebug(false),
	)
	return api, socketClientAdapter{socket}
}

// ClientFactory builds the API and Socket Mode clients for one connection
// attempt. Swapped for a mock factory in tests.
type ClientFactory func(botToken, appToken string) (APIClient, SocketClient)

// MockAPIClient is a test double for APIClient.
type MockAPIClient struct {
	AuthTestContextFunc       func(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContextFunc    func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContextFunc  func(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AddReactionContextFunc    func(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContextFunc func(ctx context.Context, name string, item slack.ItemRef) error
}

func (m *MockAPIClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	if m.AuthTestContextFunc != nil {
		return m.AuthTestContextFunc(ctx)
	}
	return &slack.AuthTestResponse{UserID: "U12345", User: "cardbridge", Team: "TestTeam"}, nil
}

func (m *MockAPIClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.PostMessageContextFunc != nil {
		return m.PostMessageContextFunc(ctx, channelID, options...)
	}
	return channelID, "1234567890.123456", nil
}

func (m *MockAPIClient) UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if m.UpdateMessageContextFunc != nil {
		return m.UpdateMessageContextFunc(ctx, channelID, timestamp, options...)
	}
	return channelID, timestamp, "", nil
}

func (m *MockAPIClient) AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.AddReactionContextFunc != nil {
		return m.AddReactionContextFunc(ctx, name, item)
	}
	return nil
}

func (m *MockAPIClient) RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error {
	if m.RemoveReactionContextFunc != nil {
		return m.RemoveReactionContextFunc(ctx, name, item)
	}
	return nil
}

// MockSocketClient is a test double for SocketClient.
type MockSocketClient struct {
	RunContextFunc func(ctx context.Context) error
	AckFunc        func(req socketmode.Request, payload ...interface{})
	EventsChan     chan socketmode.Event
}

func NewMockSocketClient() *MockSocketClient {
	return &MockSocketClient{
		EventsChan: make(chan socketmode.Event, 100),
	}
}

func (m *MockSocketClient) RunContext(ctx context.Context) error {
	if m.RunContextFunc != nil {
		return m.RunContextFunc(ctx)
	}
	// Block until cancelled by default, like the real client.
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	if m.AckFunc != nil {
		m.AckFunc(req, payload...)
	}
}

func (m *MockSocketClient) Events() <-chan socketmode.Event {
	return m.EventsChan
}

// Close closes the events channel for cleanup
func (m *MockSocketClient) Close() {
	close(m.EventsChan)
}
