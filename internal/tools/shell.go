package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxExecOutput = 10000

// ExecTool runs a shell command in the workspace with a hard timeout.
type ExecTool struct {
	workspace  string
	timeoutSec int
}

func NewExecTool(workspace string, timeoutSec int) *ExecTool {
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	return &ExecTool{workspace: workspace, timeoutSec: timeoutSec}
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return fmt.Sprintf("Execute a shell command in the workspace (timeout %ds)", t.timeoutSec)
}
func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to run",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Working directory; defaults to the workspace",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command is required")
	}
	dir, _ := args["working_dir"].(string)
	if dir == "" {
		dir = t.workspace
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.timeoutSec)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	text := strings.TrimSpace(string(out))
	if len(text) > maxExecOutput {
		text = text[:maxExecOutput] + "\n...(output truncated)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %ds", t.timeoutSec)
	}
	if err != nil {
		if text == "" {
			return "", fmt.Errorf("command failed: %w", err)
		}
		return fmt.Sprintf("Command failed (%v):\n%s", err, text), nil
	}
	if text == "" {
		return "(no output)", nil
	}
	return text, nil
}
