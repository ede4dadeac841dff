package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// HTTPError is a non-2xx response from a provider endpoint.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// errorLabel names an error kind for the synthetic error response, roughly
// the way exception class names read in provider SDKs.
func errorLabel(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return "HTTPError"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "TimeoutError"
	}
	label := fmt.Sprintf("%T", err)
	label = strings.TrimPrefix(label, "*")
	if i := strings.LastIndex(label, "."); i >= 0 {
		label = label[i+1:]
	}
	return label
}

// errorResponse shapes a transport failure as a terminal ChatResponse so the
// agent loop can surface it like any other final reply.
func errorResponse(err error) *ChatResponse {
	content := "Error calling LLM: " + errorLabel(err)
	if msg := err.Error(); msg != "" {
		content += ": " + msg
	}
	return &ChatResponse{Content: content, FinishReason: "error"}
}
