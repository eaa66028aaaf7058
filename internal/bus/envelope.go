// Package bus carries the two transport shapes of the core: the
// MessageEnvelope crossing the channel boundary and the BotMessage
// exchanged between bots, plus the in-process MessageBus.
package bus

import (
	"fmt"
	"time"
)

// Direction of an envelope relative to the core.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderRole identifies who authored an envelope.
type SenderRole string

const (
	RoleUser   SenderRole = "user"
	RoleBot    SenderRole = "bot"
	RoleSystem SenderRole = "system"
)

// MessageEnvelope is the single message shape shared by channels, the
// routines scheduler, and the orchestrator. Immutable once published.
type MessageEnvelope struct {
	Channel    string            `json:"channel"` // telegram, discord, cli, ...
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Direction  Direction         `json:"direction"`
	SenderID   string            `json:"sender_id,omitempty"`
	SenderRole SenderRole        `json:"sender_role,omitempty"`
	BotName    string            `json:"bot_name,omitempty"` // set when SenderRole is bot
	ReplyTo    string            `json:"reply_to,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Media      []string          `json:"media,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RoomID     string            `json:"room_id,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
}

// SessionKey returns the room-centric session identifier for this envelope.
func (e MessageEnvelope) SessionKey() string {
	return fmt.Sprintf("%s|%s|%s", e.RoomID, e.Channel, e.ChatID)
}
