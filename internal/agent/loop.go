// Package agent runs the tool-calling loop: it consumes inbound messages
// from the bus, drives the LLM until a final answer, dispatches tool calls
// through the registry, and persists each turn to the session store.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/memory"
	"github.com/quietloop/fennec/internal/providers"
	"github.com/quietloop/fennec/internal/sessions"
	"github.com/quietloop/fennec/internal/tools"
)

const logPreviewLimit = 120

// toolUse is one entry of a turn's tool-use log, already truncated for
// persistence.
type toolUse struct {
	name   string
	args   string
	result string
}

// Config wires a Loop.
type Config struct {
	Bus          *bus.MessageBus
	Sessions     *sessions.Store
	Provider     providers.Provider
	Registry     *tools.Registry
	Builder      *Builder
	Consolidator *memory.Consolidator

	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	MemoryWindow  int
}

// Loop is the single consumer of the bus's inbound queue. One turn runs at
// a time; per-session serialization is the bus's inbound buffering.
type Loop struct {
	bus          *bus.MessageBus
	sessions     *sessions.Store
	provider     providers.Provider
	registry     *tools.Registry
	builder      *Builder
	consolidator *memory.Consolidator

	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	memoryWindow  int

	tracer trace.Tracer
}

func NewLoop(cfg Config) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = 50
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Provider.DefaultModel()
	}
	return &Loop{
		bus:           cfg.Bus,
		sessions:      cfg.Sessions,
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		builder:       cfg.Builder,
		consolidator:  cfg.Consolidator,
		model:         model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxIterations: cfg.MaxIterations,
		memoryWindow:  cfg.MemoryWindow,
		tracer:        otel.Tracer("fennec/agent"),
	}
}

// Run consumes inbound messages until ctx is cancelled. The 1-second poll
// keeps shutdown prompt without busy-waiting.
func (l *Loop) Run(ctx context.Context) {
	slog.Info("agent loop started", "model", l.model, "max_iterations", l.maxIterations)
	for {
		pollCtx, cancel := context.WithTimeout(ctx, time.Second)
		msg, ok := l.bus.ConsumeInbound(pollCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				slog.Info("agent loop stopped")
				return
			}
			continue
		}
		l.handle(ctx, msg)
	}
}

// handle runs one consumed turn and always completes it on the bus so the
// session's buffered follow-ups get released.
func (l *Loop) handle(ctx context.Context, msg bus.InboundMessage) {
	defer l.bus.CompleteInboundTurn(msg.SessionKey())

	ctx, span := l.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("session", msg.SessionKey()),
	))
	defer span.End()

	response, err := l.processMessage(ctx, msg)
	if err != nil {
		slog.Error("message processing failed", "session", msg.SessionKey(), "error", err)
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Content:  "Sorry, I encountered an error: " + err.Error(),
			Metadata: msg.Metadata,
		})
		return
	}
	if response != nil {
		l.bus.PublishOutbound(*response)
	}
}

func (l *Loop) processMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	if msg.Channel == "system" {
		return l.processSystemMessage(ctx, msg)
	}

	slog.Info("processing message",
		"channel", msg.Channel, "sender", msg.SenderID, "content", preview(msg.Content))

	key := msg.SessionKey()
	session := l.sessions.GetOrCreate(key)

	switch strings.ToLower(strings.TrimSpace(msg.Content)) {
	case "/new":
		snapshot := session.Snapshot()
		session.Clear()
		if err := l.sessions.Save(session); err != nil {
			return nil, err
		}
		l.sessions.Invalidate(key)
		if l.consolidator != nil {
			l.consolidator.ArchiveAll(key, snapshot)
		}
		return &bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "New session started. Memory consolidation in progress.",
		}, nil
	case "/help":
		return &bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "fennec commands:\n/new - Start a new conversation\n/help - Show available commands",
		}, nil
	}

	ctx = tools.WithRequest(ctx, tools.RequestContext{
		Channel: msg.Channel, ChatID: msg.ChatID, SessionKey: key,
	})

	messages := l.builder.BuildMessages(
		session.GetHistory(l.memoryWindow), msg.Content, msg.Media,
		msg.Channel, msg.ChatID, msg.Timestamp, msg.Metadata)

	final, _, toolLog, err := l.runAgentLoop(ctx, messages)
	if err != nil {
		return nil, err
	}

	silent := containsSilentMarker(final)
	final = stripSilentMarker(final)

	l.saveTurn(session, msg.Content, final, toolLog, msg.Timestamp)
	if err := l.sessions.Save(session); err != nil {
		return nil, err
	}
	l.maybeConsolidate(session)

	out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID}
	if msg.Channel == "cron" {
		if ch, chat := cronDelivery(msg.Metadata); ch != "" {
			out.Channel, out.ChatID = ch, chat
		}
	}

	if silent {
		slog.Info("outbound suppressed by silent marker", "session", key)
		out.Silent = true
		return &out, nil
	}
	if final == "" {
		slog.Info("no outbound needed, reply already sent via message tool", "session", key)
		return nil, nil
	}
	slog.Info("response ready", "session", key, "content", preview(final))
	out.Content = final
	out.Metadata = msg.Metadata
	return &out, nil
}

// processSystemMessage handles announcements from background work (subagent
// completions, watchdog notices). The origin conversation is carried in
// ChatID as "channel:chat_id".
func (l *Loop) processSystemMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	slog.Info("processing system message", "sender", msg.SenderID)

	originChannel, originChatID, ok := strings.Cut(msg.ChatID, ":")
	if !ok {
		originChannel, originChatID = "cli", msg.ChatID
	}
	key := sessions.Key(originChannel, originChatID)
	session := l.sessions.GetOrCreate(key)

	ctx = tools.WithRequest(ctx, tools.RequestContext{
		Channel: originChannel, ChatID: originChatID, SessionKey: key,
	})

	messages := l.builder.BuildMessages(
		session.GetHistory(l.memoryWindow), msg.Content, nil,
		originChannel, originChatID, msg.Timestamp, nil)

	final, lastFinish, toolLog, err := l.runAgentLoop(ctx, messages)
	if err != nil {
		return nil, err
	}
	if final == "" && len(toolLog) == 0 {
		final = fmt.Sprintf("Background task completed, but summary generation returned no text (last_finish_reason=%s).", lastFinish)
	}

	silent := containsSilentMarker(final)
	final = stripSilentMarker(final)

	l.saveTurn(session, "[System: "+msg.SenderID+"] "+msg.Content, final, toolLog, msg.Timestamp)
	if err := l.sessions.Save(session); err != nil {
		return nil, err
	}
	l.maybeConsolidate(session)

	if silent {
		return &bus.OutboundMessage{Channel: originChannel, ChatID: originChatID, Silent: true}, nil
	}
	if final == "" {
		return nil, nil
	}
	return &bus.OutboundMessage{Channel: originChannel, ChatID: originChatID, Content: final}, nil
}

// runAgentLoop drives the LLM until it produces a final answer or the
// iteration cap is hit. The returned error is reserved for context
// cancellation; model failures come back as error-shaped text.
func (l *Loop) runAgentLoop(ctx context.Context, messages []providers.Message) (string, string, []toolUse, error) {
	lastFinish := "unknown"
	var toolLog []toolUse
	stashed := ""

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		llmCtx, span := l.tracer.Start(ctx, "llm.chat",
			trace.WithAttributes(attribute.String("model", l.model)))
		resp, err := l.provider.Chat(llmCtx, providers.ChatRequest{
			Messages:    messages,
			Tools:       l.registry.Definitions(),
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		span.End()
		if err != nil {
			return "", lastFinish, toolLog, err
		}
		if resp.FinishReason != "" {
			lastFinish = resp.FinishReason
		}
		logUsage(resp.Usage)

		if resp.HasToolCalls() {
			messages = append(messages, providers.Message{
				Role:             "assistant",
				Content:          resp.Content,
				ToolCalls:        resp.ToolCalls,
				ReasoningContent: resp.ReasoningContent,
			})
			if strings.TrimSpace(resp.Content) != "" {
				stashed = resp.Content
				slog.Debug("stashed content from tool-call response", "content", preview(resp.Content))
			}

			for _, tc := range resp.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				slog.Info("tool call", "tool", tc.Name, "args", preview(string(argsJSON)))

				execCtx, toolSpan := l.tracer.Start(ctx, "tool.exec",
					trace.WithAttributes(attribute.String("tool", tc.Name)))
				result := l.registry.Execute(execCtx, tc.Name, tc.Arguments)
				toolSpan.End()

				messages = append(messages, providers.Message{
					Role: "tool", Content: result, ToolCallID: tc.ID, Name: tc.Name,
				})
				toolLog = append(toolLog, toolUse{
					name:   tc.Name,
					args:   clip(string(argsJSON), 100, "..."),
					result: clip(result, 200, "...(truncated)"),
				})
			}
			continue
		}

		if strings.TrimSpace(resp.Content) == "" {
			if sentViaMessageTool(toolLog) {
				slog.Info("empty final content after message tool call, normal completion",
					"finish_reason", lastFinish, "iteration", iteration)
				return "", lastFinish, toolLog, nil
			}
			if stashed != "" {
				slog.Info("empty final content, using stashed tool-call content",
					"content", preview(stashed))
				return stashed, lastFinish, toolLog, nil
			}
			slog.Warn("model returned empty content without tool calls",
				"finish_reason", lastFinish, "iteration", iteration)
			return fmt.Sprintf(
				"I could not produce a final response because the model returned empty/blank content (finish_reason=%s, iteration=%d/%d). Please retry.",
				lastFinish, iteration, l.maxIterations), lastFinish, toolLog, nil
		}
		return resp.Content, lastFinish, toolLog, nil
	}

	slog.Warn("agent loop hit max iterations without final response",
		"max_iterations", l.maxIterations, "last_finish_reason", lastFinish)
	return fmt.Sprintf(
		"I stopped before a final response because the tool-call loop hit the iteration limit (%d). Last finish_reason=%s. Please retry with a narrower request or increase agents.defaults.max_tool_iterations.",
		l.maxIterations, lastFinish), lastFinish, toolLog, nil
}

// saveTurn persists the user record plus the assistant record. When tools
// ran, the assistant carries a synthetic _tool_use_summary call paired with
// a tool record holding the numbered log, so the next turn's history shows
// what happened without replaying raw intermediate calls.
func (l *Loop) saveTurn(s *sessions.Session, userContent, finalContent string, toolLog []toolUse, userTS time.Time) {
	if userTS.IsZero() {
		userTS = time.Now()
	}
	s.AddMessage(providers.Message{Role: "user", Content: userContent, Timestamp: userTS})

	now := time.Now()
	if len(toolLog) == 0 {
		s.AddMessage(providers.Message{Role: "assistant", Content: finalContent, Timestamp: now})
		return
	}

	lines := make([]string, 0, len(toolLog))
	toolsUsed := make([]string, 0, len(toolLog))
	for i, use := range toolLog {
		lines = append(lines, fmt.Sprintf("%d. %s(%s) -> %s", i+1, use.name, use.args, use.result))
		toolsUsed = append(toolsUsed, use.name)
	}
	summary := strings.Join(lines, "\n")
	slog.Info("tool use summary", "summary", summary)

	callID := "toolsum_" + shortHex()
	s.AddMessage(providers.Message{
		Role:      "assistant",
		Content:   finalContent,
		Timestamp: now,
		ToolCalls: []providers.ToolCall{
			{ID: callID, Name: "_tool_use_summary", Arguments: map[string]any{}},
		},
		ToolsUsed: toolsUsed,
	})
	s.AddMessage(providers.Message{
		Role: "tool", Content: summary, ToolCallID: callID, Name: "_tool_use_summary", Timestamp: now,
	})
}

func (l *Loop) maybeConsolidate(s *sessions.Session) {
	if l.consolidator != nil && l.consolidator.ShouldConsolidate(s) {
		l.consolidator.Schedule(s)
	}
}

func sentViaMessageTool(toolLog []toolUse) bool {
	for _, use := range toolLog {
		if use.name == "message" {
			return true
		}
	}
	return false
}

// cronDelivery extracts the reply target a cron job carries in its
// metadata, if any.
func cronDelivery(metadata map[string]any) (channel, chatID string) {
	if metadata == nil {
		return "", ""
	}
	channel, _ = metadata["deliver_channel"].(string)
	chatID, _ = metadata["deliver_chat_id"].(string)
	if channel == "" || chatID == "" {
		return "", ""
	}
	return channel, chatID
}

func logUsage(u *providers.Usage) {
	if u == nil {
		return
	}
	slog.Info("token usage",
		"prompt", u.PromptTokens, "completion", u.CompletionTokens, "total", u.TotalTokens)
}

func preview(s string) string {
	return clip(s, logPreviewLimit, "...(truncated)")
}

func clip(s string, limit int, suffix string) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + suffix
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
