package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quietloop/fennec/internal/bus"
)

const deliveryAckTimeout = 15 * time.Second

// OutboundPublisher is the slice of the message bus the message tool needs.
// Injected at construction so the tools package never owns the bus.
type OutboundPublisher interface {
	PublishOutbound(msg bus.OutboundMessage)
	CreateWaiter(requestID string) <-chan bus.Delivery
	DiscardWaiter(requestID string)
}

// MessageTool sends a message to a chat channel and waits for the channel
// to acknowledge delivery. The turn's origin (channel, chat) comes from the
// request context; explicit arguments override it.
type MessageTool struct {
	publisher OutboundPublisher
}

func NewMessageTool(publisher OutboundPublisher) *MessageTool {
	return &MessageTool{publisher: publisher}
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to the user immediately, before your final reply. Use for progress updates or when the final reply will take a while."
}
func (t *MessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "Message text to send",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Target channel; defaults to the current conversation's channel",
			},
			"chat_id": map[string]any{
				"type":        "string",
				"description": "Target chat; defaults to the current conversation's chat",
			},
			"media": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Local file paths to attach",
			},
		},
		"required": []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	if content == "" {
		return "", fmt.Errorf("content is required")
	}

	rc, _ := RequestFrom(ctx)
	channel := rc.Channel
	chatID := rc.ChatID
	if v, ok := args["channel"].(string); ok && v != "" {
		channel = v
	}
	if v, ok := args["chat_id"].(string); ok && v != "" {
		chatID = v
	}
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("no target: channel and chat_id are unknown for this request")
	}

	var media []string
	if raw, ok := args["media"].([]any); ok {
		for _, item := range raw {
			if path, ok := item.(string); ok && path != "" {
				media = append(media, path)
			}
		}
	}

	requestID := "out_" + uuid.NewString()
	waiter := t.publisher.CreateWaiter(requestID)
	t.publisher.PublishOutbound(bus.OutboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		Content:   content,
		Media:     media,
		RequestID: requestID,
	})

	select {
	case <-ctx.Done():
		t.publisher.DiscardWaiter(requestID)
		return "", ctx.Err()
	case <-time.After(deliveryAckTimeout):
		t.publisher.DiscardWaiter(requestID)
		return "", fmt.Errorf("message delivery acknowledgement timeout after %s", deliveryAckTimeout)
	case d := <-waiter:
		if !d.OK {
			return "", fmt.Errorf("message delivery failed: %s", d.Error)
		}
	}

	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}
