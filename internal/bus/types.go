package bus

import "time"

// InboundMessage represents a message received from a channel (Telegram, Discord, etc.)
type InboundMessage struct {
	Channel   string         `json:"channel"`
	SenderID  string         `json:"sender_id"`
	ChatID    string         `json:"chat_id"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Media     []string       `json:"media,omitempty"`    // local file paths, in receive order
	Metadata  map[string]any `json:"metadata,omitempty"` // free-form; merged follow-ups carry collected_messages here
}

// SessionKey derives the conversation identity for this message.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage represents a message to be delivered to a channel.
type OutboundMessage struct {
	Channel   string         `json:"channel"`
	ChatID    string         `json:"chat_id"`
	Content   string         `json:"content"`
	Media     []string       `json:"media,omitempty"`
	ReplyTo   string         `json:"reply_to,omitempty"`   // channel-native message id to reply to
	RequestID string         `json:"request_id,omitempty"` // set when the publisher waits for a delivery ack
	Silent    bool           `json:"silent,omitempty"`     // true = no reply text; channels clear typing state
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Delivery is the result a channel reports for one acknowledged outbound message.
type Delivery struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
