package providers

import "strings"

const officialGeminiHost = "generativelanguage.googleapis.com"

// isGeminiProxy reports whether requests target a Gemini-family model through
// a non-official endpoint. Such proxies reject OpenAI tool-call plumbing in
// the message history, so the stream path pre-normalizes messages.
func isGeminiProxy(model, apiBase string) bool {
	if !strings.Contains(strings.ToLower(model), "gemini") {
		return false
	}
	return apiBase != "" && !strings.Contains(apiBase, officialGeminiHost)
}

// normalizeForGeminiProxy rewrites a message list for Gemini-through-proxy
// configurations: only system/user/assistant roles survive, tool-call fields
// are stripped, and empty assistant placeholders are dropped. If the rewrite
// empties the list, the original is returned so the request stays valid.
func normalizeForGeminiProxy(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			continue
		}
		if m.Role == "assistant" && m.Content == "" {
			continue
		}
		out = append(out, Message{
			Role:    m.Role,
			Content: m.Content,
			Images:  m.Images,
			Parts:   m.Parts,
		})
	}
	if len(out) == 0 {
		return messages
	}
	return out
}
