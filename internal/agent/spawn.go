package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/sessions"
	"github.com/quietloop/fennec/internal/tools"
)

const defaultMaxSubagents = 5

// SubagentManager runs spawned background tasks. Each task gets its own
// session under subagent:<id> and a fresh tool-calling run; the result
// comes back to the origin conversation as a system inbound message.
type SubagentManager struct {
	loop          *Loop
	bus           *bus.MessageBus
	maxConcurrent int

	mu      sync.Mutex
	running map[string]string // id -> task preview
	wg      sync.WaitGroup
}

// NewSubagentManager builds a manager around its own loop instance. Pass a
// registry without the spawn tool so subagents cannot recurse.
func NewSubagentManager(cfg Config, maxConcurrent int) *SubagentManager {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxSubagents
	}
	return &SubagentManager{
		loop:          NewLoop(cfg),
		bus:           cfg.Bus,
		maxConcurrent: maxConcurrent,
		running:       make(map[string]string),
	}
}

// Spawn starts a detached run for task. origin is "channel:chat_id" of the
// conversation that asked for it; the completion announcement routes back
// there through the system channel.
func (m *SubagentManager) Spawn(ctx context.Context, task, origin string) (string, error) {
	m.mu.Lock()
	if len(m.running) >= m.maxConcurrent {
		n := len(m.running)
		m.mu.Unlock()
		return "", fmt.Errorf("too many concurrent subagents (%d running, max %d)", n, m.maxConcurrent)
	}
	id := shortHex()[:8]
	m.running[id] = preview(task)
	m.mu.Unlock()

	slog.Info("subagent spawned", "id", id, "origin", origin, "task", preview(task))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
		}()
		m.run(id, task, origin)
	}()
	return id, nil
}

// run executes the task with a detached context: cancelling the spawning
// turn must not kill the background work.
func (m *SubagentManager) run(id, task, origin string) {
	key := sessions.SubagentKey(id)
	session := m.loop.sessions.GetOrCreate(key)

	ctx := tools.WithRequest(context.Background(), tools.RequestContext{
		Channel: "subagent", ChatID: id, SessionKey: key,
	})

	prompt := fmt.Sprintf(
		"You are a background subagent. Complete this task and report the outcome concisely:\n\n%s", task)
	messages := m.loop.builder.BuildMessages(nil, prompt, nil, "subagent", id, time.Now(), nil)

	final, lastFinish, toolLog, err := m.loop.runAgentLoop(ctx, messages)
	if err != nil {
		final = fmt.Sprintf("Subagent run failed: %v", err)
	}
	if final == "" {
		final = fmt.Sprintf("Subagent finished without a text summary (last_finish_reason=%s).", lastFinish)
	}

	m.loop.saveTurn(session, prompt, final, toolLog, time.Now())
	if err := m.loop.sessions.Save(session); err != nil {
		slog.Error("failed to save subagent session", "id", id, "error", err)
	}

	m.bus.PublishInbound(bus.InboundMessage{
		Channel:   "system",
		SenderID:  "subagent:" + id,
		ChatID:    origin,
		Content:   fmt.Sprintf("Subagent task finished.\n\nTask: %s\n\nResult:\n%s", task, final),
		Timestamp: time.Now(),
	})
	slog.Info("subagent finished", "id", id)
}

// Running lists in-flight subagent ids with task previews.
func (m *SubagentManager) Running() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.running))
	for k, v := range m.running {
		out[k] = v
	}
	return out
}

// Wait blocks until all spawned runs finish. Used on shutdown.
func (m *SubagentManager) Wait() {
	m.wg.Wait()
}
