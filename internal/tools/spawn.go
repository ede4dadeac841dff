package tools

import (
	"context"
	"fmt"
	"strings"
)

// SpawnFunc starts a detached background agent run. origin identifies the
// conversation to announce the result to, as "channel:chat_id".
type SpawnFunc func(ctx context.Context, task, origin string) (id string, err error)

// SpawnTool lets the agent delegate a task to a background subagent run.
type SpawnTool struct {
	spawn SpawnFunc
}

func NewSpawnTool(spawn SpawnFunc) *SpawnTool {
	return &SpawnTool{spawn: spawn}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Spawn a background subagent to work on a task. Returns immediately; the result is announced to this conversation when the subagent finishes."
}
func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Complete, self-contained task description for the subagent",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("task is required")
	}

	rc, _ := RequestFrom(ctx)
	origin := rc.Channel + ":" + rc.ChatID
	if rc.Channel == "" || rc.ChatID == "" {
		origin = ""
	}

	id, err := t.spawn(ctx, task, origin)
	if err != nil {
		return "", fmt.Errorf("spawn subagent: %w", err)
	}
	return fmt.Sprintf("Subagent %s started. Its result will be announced here when it finishes.", id), nil
}
