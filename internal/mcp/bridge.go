package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// bridgeTool adapts one remote tool into the registry's Tool interface.
// Calls forward to the live client; a disconnected server turns every call
// into an error string for the model rather than a crash.
type bridgeTool struct {
	srv        *server
	original   string
	descr      string
	schema     map[string]any
	timeoutSec int
}

func newBridgeTool(s *server, t mcpgo.Tool, timeoutSec int) *bridgeTool {
	return &bridgeTool{
		srv:        s,
		original:   t.Name,
		descr:      t.Description,
		schema:     schemaToMap(t.InputSchema),
		timeoutSec: timeoutSec,
	}
}

func (b *bridgeTool) Name() string {
	return "external__" + b.srv.name + "__" + b.original
}

func (b *bridgeTool) Description() string {
	if b.descr != "" {
		return b.descr
	}
	return fmt.Sprintf("Tool %s from external server %s", b.original, b.srv.name)
}

func (b *bridgeTool) Parameters() map[string]any {
	return b.schema
}

func (b *bridgeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if !b.srv.connected.Load() {
		return "", fmt.Errorf("external server %q is not connected", b.srv.name)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(b.timeoutSec)*time.Second)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.original
	req.Params.Arguments = args

	result, err := b.srv.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", b.original, b.srv.name, err)
	}

	text := renderContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("%s", firstNonEmpty(text, "tool reported an error"))
	}
	if text == "" {
		return "(no output)", nil
	}
	return text, nil
}

// renderContent flattens the result blocks into one string. Non-text
// blocks are summarized by type.
func renderContent(blocks []mcpgo.Content) string {
	var parts []string
	for _, c := range blocks {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case mcpgo.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes base64]", v.MIMEType, len(v.Data)))
		case mcpgo.EmbeddedResource:
			parts = append(parts, "[embedded resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%T]", c))
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// schemaToMap converts the typed input schema to the plain JSON object the
// provider wire format wants.
func schemaToMap(s mcpgo.ToolInputSchema) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	if out["type"] == nil || out["type"] == "" {
		out["type"] = "object"
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
