package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// historyCap bounds the retained message history.
const historyCap = 500

// Handler consumes a BotMessage delivered to a subscribed bot.
// Handlers run on the sender's goroutine; they must be quick or
// schedule their own work.
type Handler func(BotMessage)

// BotInfo is the registry entry kept per bot.
type BotInfo struct {
	Name         string `json:"name"`
	MessageCount int    `json:"message_count"`
}

type subscriber struct {
	botID   string
	handler Handler
}

// MessageBus is the process-local many-to-many BotMessage carrier.
// Delivery is at-most-once with no persistence; ordering is FIFO per
// sender with no guarantees across senders.
type MessageBus struct {
	mu          sync.Mutex
	bots        map[string]*BotInfo
	subscribers []subscriber // registration order
	history     []BotMessage
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{bots: make(map[string]*BotInfo)}
}

// RegisterBot registers a bot under id. Idempotent: re-registering
// updates the display name and keeps the message count.
func (b *MessageBus) RegisterBot(botID, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.bots[botID]; ok {
		info.Name = name
		return
	}
	b.bots[botID] = &BotInfo{Name: name}
}

// Subscribe registers a handler for messages addressed to botID (or to
// the team). Handlers are invoked in registration order.
func (b *MessageBus) Subscribe(botID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscriber{botID: botID, handler: handler})
}

// Send delivers msg to the recipient bot, or to every registered bot
// except the sender when the recipient is TeamRecipient. Returns the
// assigned message id.
func (b *MessageBus) Send(msg BotMessage) string {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}

	var targets []Handler
	if msg.RecipientID == TeamRecipient {
		for id, info := range b.bots {
			if id != msg.SenderID {
				info.MessageCount++
			}
		}
		for _, sub := range b.subscribers {
			if sub.botID != msg.SenderID {
				targets = append(targets, sub.handler)
			}
		}
	} else {
		if info, ok := b.bots[msg.RecipientID]; ok {
			info.MessageCount++
		} else {
			slog.Warn("message to unregistered bot", "recipient", msg.RecipientID, "sender", msg.SenderID)
		}
		for _, sub := range b.subscribers {
			if sub.botID == msg.RecipientID {
				targets = append(targets, sub.handler)
			}
		}
	}
	b.mu.Unlock()

	// Handlers run outside the lock so they may call back into the bus.
	for _, h := range targets {
		h(msg)
	}

	slog.Debug("bus message sent",
		"id", msg.ID, "sender", msg.SenderID, "recipient", msg.RecipientID, "kind", msg.Kind)
	return msg.ID
}

// ListBots returns a snapshot of the registry.
func (b *MessageBus) ListBots() map[string]BotInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]BotInfo, len(b.bots))
	for id, info := range b.bots {
		out[id] = *info
	}
	return out
}

// History returns the most recent messages, oldest first. limit <= 0
// returns the full retained history.
func (b *MessageBus) History(limit int) []BotMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]BotMessage, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}
