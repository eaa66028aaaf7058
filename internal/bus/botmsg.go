package bus

import (
	"time"

	"github.com/google/uuid"
)

// TeamRecipient is the literal recipient id that broadcasts to every
// registered bot.
const TeamRecipient = "team"

// MessageKind classifies inter-bot messages.
type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindResponse     MessageKind = "response"
	KindDiscussion   MessageKind = "discussion"
	KindBroadcast    MessageKind = "broadcast"
	KindAnnouncement MessageKind = "announcement"
)

// Context keys commonly carried by BotMessage.Context.
const (
	CtxTaskID  = "task_id"
	CtxSubject = "subject"
)

// BotMessage is the inter-bot transport unit delivered via the MessageBus.
type BotMessage struct {
	ID          string            `json:"id"`
	SenderID    string            `json:"sender_id"`
	RecipientID string            `json:"recipient_id"` // bot id or TeamRecipient
	Kind        MessageKind       `json:"kind"`
	Content     string            `json:"content"`
	Context     map[string]string `json:"context,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewBotMessage builds a BotMessage with a fresh id and timestamp.
func NewBotMessage(sender, recipient string, kind MessageKind, content string, ctx map[string]string) BotMessage {
	return BotMessage{
		ID:          uuid.NewString(),
		SenderID:    sender,
		RecipientID: recipient,
		Kind:        kind,
		Content:     content,
		Context:     ctx,
		Timestamp:   time.Now(),
	}
}

// TaskID returns the task id carried in the message context, if any.
func (m BotMessage) TaskID() string {
	if m.Context == nil {
		return ""
	}
	return m.Context[CtxTaskID]
}
