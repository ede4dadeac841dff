// Package providers contains the LLM provider adapters. The runtime speaks
// one Provider interface; the OpenAI-compatible adapter below covers OpenAI,
// OpenRouter, Groq, DeepSeek, vLLM and LiteLLM-style proxies.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat completion APIs.
// Each call runs in the configured default mode (stream or non-stream); a
// transport failure triggers exactly one retry in the flipped mode, and a
// second failure is absorbed into an error-shaped response.
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	chatPath     string
	defaultModel string
	streamMode   bool
	client       *http.Client
}

// NewOpenAIProvider creates an adapter for an OpenAI-compatible endpoint.
// stream selects the default transport mode.
func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string, stream bool) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		chatPath:     "/chat/completions",
		defaultModel: defaultModel,
		streamMode:   stream,
		client:       &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// APIBase returns the resolved endpoint base URL.
func (p *OpenAIProvider) APIBase() string { return p.apiBase }

// Chat runs one LLM call with single-shot mode fallback. A non-nil error is
// returned only for context cancellation; every other failure comes back as
// a ChatResponse with FinishReason "error".
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.attempt(ctx, req, p.streamMode)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Warn("llm call failed, retrying in flipped mode",
		"provider", p.name, "stream", !p.streamMode, "error", err)

	resp, err = p.attempt(ctx, req, !p.streamMode)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	slog.Error("llm call failed in both modes", "provider", p.name, "error", err)
	return errorResponse(err), nil
}

func (p *OpenAIProvider) attempt(ctx context.Context, req ChatRequest, stream bool) (*ChatResponse, error) {
	if stream {
		return p.chatStream(ctx, req)
	}
	return p.chatOnce(ctx, req)
}

func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) chatOnce(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := p.resolveModel(req.Model)
	body := p.buildRequestBody(model, req.Messages, req, false)

	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var wire oaiResponse
	if err := json.NewDecoder(respBody).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}

	return parseResponse(&wire), nil
}

// chatStream runs the SSE path: tool-call fragments are merged by index, and
// when the stream produces no structured calls the concatenated text is
// scanned for [tool_call] pseudo-call markers.
func (p *OpenAIProvider) chatStream(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := p.resolveModel(req.Model)

	messages := req.Messages
	if isGeminiProxy(model, p.apiBase) {
		messages = normalizeForGeminiProxy(messages)
	}

	body := p.buildRequestBody(model, messages, req, true)
	respBody, err := p.doRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	accumulators := make(map[int]*toolCallAccumulator)

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			result.Usage = &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		result.Content += delta.Content
		result.ReasoningContent += delta.ReasoningContent

		for _, tc := range delta.ToolCalls {
			acc, ok := accumulators[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				accumulators[tc.Index] = acc
			}
			acc.merge(tc)
		}

		if chunk.Choices[0].FinishReason != "" {
			result.FinishReason = chunk.Choices[0].FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: read stream: %w", p.name, err)
	}

	indexes := make([]int, 0, len(accumulators))
	for i := range accumulators {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		result.ToolCalls = append(result.ToolCalls, accumulators[i].finalize())
	}

	if len(result.ToolCalls) == 0 {
		if calls, cleaned := recoverTextToolCalls(result.Content); len(calls) > 0 {
			result.ToolCalls = calls
			result.Content = cleaned
		}
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}

	return result, nil
}

// toolCallAccumulator merges streamed tool-call fragments sharing an index.
// Argument fragments append in arrival order; id and name take the last
// non-empty value.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (a *toolCallAccumulator) merge(tc oaiStreamToolCall) {
	if tc.ID != "" {
		a.id = tc.ID
	}
	if tc.Function.Name != "" {
		a.name = strings.TrimSpace(tc.Function.Name)
	}
	a.args.WriteString(tc.Function.Arguments)
}

func (a *toolCallAccumulator) finalize() ToolCall {
	return ToolCall{
		ID:        a.id,
		Name:      a.name,
		Arguments: decodeArguments(a.args.String()),
	}
}

// decodeArguments parses a tool call's argument text. Undecodable text is
// preserved under the synthetic "raw" key instead of being dropped.
func decodeArguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{"raw": raw}
	}
	return args
}

// buildRequestBody converts internal messages to the OpenAI wire format.
// Internal ToolCall structs carry decoded arguments, so tool_calls are
// re-wrapped as {id, type, function:{name, arguments:"<json>"}}; assistant
// records with tool calls omit empty content (some backends reject it).
func (p *OpenAIProvider) buildRequestBody(model string, messages []Message, req ChatRequest, stream bool) map[string]any {
	msgs := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		msg := map[string]any{"role": m.Role}

		switch {
		case m.Role == "user" && len(m.Parts) > 0:
			msg["content"] = encodeParts(m.Parts)
		case m.Role == "user" && len(m.Images) > 0:
			parts := make([]ContentPart, 0, len(m.Images)+1)
			if m.Content != "" {
				parts = append(parts, ContentPart{Type: "text", Text: m.Content})
			}
			for i := range m.Images {
				parts = append(parts, ContentPart{Type: "image_url", Image: &m.Images[i]})
			}
			msg["content"] = encodeParts(parts)
		case m.Content != "" || len(m.ToolCalls) == 0:
			msg["content"] = m.Content
		}

		if len(m.ToolCalls) > 0 {
			wire := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				wire[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = wire
		}

		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		if m.Role == "tool" && m.Name != "" {
			msg["name"] = m.Name
		}

		msgs = append(msgs, msg)
	}

	body := map[string]any{
		"model":    model,
		"messages": msgs,
		"stream":   stream,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.Effort != "" && req.Effort != "off" {
		body["reasoning_effort"] = req.Effort
	}
	if req.Thinking {
		body["enable_thinking"] = true
		if req.ThinkingBudget > 0 {
			body["thinking_budget"] = req.ThinkingBudget
		}
	}

	return body
}

func encodeParts(parts []ContentPart) []map[string]any {
	out := make([]map[string]any, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "text":
			out = append(out, map[string]any{"type": "text", "text": part.Text})
		case "image_url":
			if part.Image == nil {
				continue
			}
			out = append(out, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", part.Image.MimeType, part.Image.Data),
				},
			})
		}
	}
	return out
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+p.chatPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, Body: fmt.Sprintf("%s: %s", p.name, string(respBody))}
	}

	return resp.Body, nil
}

func parseResponse(wire *oaiResponse) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop"}

	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		result.Content = choice.Message.Content
		result.ReasoningContent = choice.Message.ReasoningContent
		if choice.FinishReason != "" {
			result.FinishReason = choice.FinishReason
		}

		for _, tc := range choice.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: decodeArguments(tc.Function.Arguments),
			})
		}
		if len(result.ToolCalls) > 0 {
			result.FinishReason = "tool_calls"
		}
	}

	if wire.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}

	return result
}

// Wire-format structs for OpenAI-compatible responses.

type oaiResponse struct {
	Choices []struct {
		Message struct {
			Content          string        `json:"content"`
			ReasoningContent string        `json:"reasoning_content"`
			ToolCalls        []oaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

type oaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string              `json:"content"`
			ReasoningContent string              `json:"reasoning_content"`
			ToolCalls        []oaiStreamToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

type oaiStreamToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
