// Package models provides the domain types shared across the cardbridge
// supervisor, card pipeline, and agent boundary.
package models

import (
	"time"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is the unified message format used on both sides of the bridge.
type Message struct {
	// ID is the platform-assigned message identifier, unique per inbound
	// message. Empty for events the platform delivered without one.
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	ThreadID  string         `json:"thread_id,omitempty"`
	SenderID  string         `json:"sender_id"`
	Direction Direction      `json:"direction"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// BotIdentity is the resolved identity of the connected bot user.
type BotIdentity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Team   string `json:"team,omitempty"`
}

