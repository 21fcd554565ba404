package bus

import "time"

// Broadcast is the recipient id that addresses every connected participant.
const Broadcast = "*"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// InboundMessage is a raw chat line typed by an actor.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FeedbackMessage is a command result addressed to one actor or to everyone.
type FeedbackMessage struct {
	ID        string         `json:"id"`
	Recipient string         `json:"recipient"`
	Text      string         `json:"text"`
	Severity  Severity       `json:"severity"`
	Event     string         `json:"event,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsBroadcast reports whether the message addresses every participant.
func (m FeedbackMessage) IsBroadcast() bool {
	return m.Recipient == Broadcast
}

type MessageHandler func(InboundMessage) error
