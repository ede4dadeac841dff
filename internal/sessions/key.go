// Package sessions stores per-conversation state: the ordered message
// history plus the consolidation watermarks that track how much of it
// has already been folded into long-term memory.
//
// Session keys are "{channel}:{chatId}" for channel conversations, with
// two internal namespaces:
//
//	subagent:{id}   spawned background task
//	cron:{jobId}    scheduled job run
package sessions

import (
	"fmt"
	"strings"
)

// Key builds the session key for a channel conversation.
func Key(channel, chatID string) string {
	return channel + ":" + chatID
}

// SubagentKey builds the session key for a spawned subagent task.
func SubagentKey(id string) string {
	return "subagent:" + id
}

// CronKey builds the session key for a cron job.
func CronKey(jobID string) string {
	return "cron:" + jobID
}

// Split separates a session key into channel and chat ID. Keys without
// a separator map to the "cli" channel.
func Split(key string) (channel, chatID string) {
	channel, chatID, ok := strings.Cut(key, ":")
	if !ok {
		return "cli", key
	}
	return channel, chatID
}

// IsSubagent reports whether a session key belongs to a subagent run.
func IsSubagent(key string) bool {
	return strings.HasPrefix(key, "subagent:")
}

// IsCron reports whether a session key belongs to a cron job run.
func IsCron(key string) bool {
	return strings.HasPrefix(key, "cron:")
}

// encodeKey maps a session key to a filesystem-safe filename. Every
// byte outside [A-Za-z0-9._-] is hex-escaped so distinct keys never
// collide on disk.
func encodeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
