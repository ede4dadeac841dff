// Package config defines the fennec configuration schema. The file on
// disk is JSON5 (comments and trailing commas allowed); FENNEC_* env
// vars overlay the file and take precedence. Secrets may come from env
// only.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON. Chat IDs
// are numeric on some platforms and people paste them unquoted.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration.
type Config struct {
	Agents    AgentsConfig              `json:"agents"`
	Channels  ChannelsConfig            `json:"channels"`
	Providers map[string]ProviderConfig `json:"providers"`
	Gateway   GatewayConfig             `json:"gateway"`
	Tools     ToolsConfig               `json:"tools"`
	Sessions  SessionsConfig            `json:"sessions,omitempty"`
	Memory    MemoryConfig              `json:"memory,omitempty"`
	Skills    SkillsConfig              `json:"skills,omitempty"`
	Cron      CronConfig                `json:"cron,omitempty"`
	Telemetry TelemetryConfig           `json:"telemetry,omitempty"`
}

// AgentsConfig holds the agent defaults. fennec runs a single agent;
// the nesting keeps room for per-agent overrides later.
type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

// AgentDefaults are the settings of the agent runtime itself.
type AgentDefaults struct {
	Name                string          `json:"name,omitempty"`
	Workspace           string          `json:"workspace"`
	RestrictToWorkspace bool            `json:"restrict_to_workspace"`
	Provider            string          `json:"provider"`
	Model               string          `json:"model,omitempty"`
	MaxTokens           int             `json:"max_tokens"`
	Temperature         float64         `json:"temperature"`
	MaxToolIterations   int             `json:"max_tool_iterations"`
	MemoryWindow        int             `json:"memory_window"`
	Subagents           SubagentsConfig `json:"subagents,omitempty"`
}

// SubagentsConfig bounds background spawned runs.
type SubagentsConfig struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	Model         string `json:"model,omitempty"`
}

// ProviderConfig configures one OpenAI-compatible endpoint, keyed by
// provider name in Config.Providers.
type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
	Stream  bool   `json:"stream,omitempty"`
}

// knownBases fills api_base for well-known OpenAI-compatible services.
var knownBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
}

// ResolvedBase returns the effective API base for a named provider.
func (p ProviderConfig) ResolvedBase(name string) string {
	if p.APIBase != "" {
		return p.APIBase
	}
	return knownBases[name]
}

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled       bool                `json:"enabled"`
	Token         string              `json:"token"`
	AllowFrom     FlexibleStringSlice `json:"allow_from"`
	MediaMaxBytes int64               `json:"media_max_bytes,omitempty"` // default 20MB
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	RequireMention *bool               `json:"require_mention,omitempty"` // guild messages, default true
}

// GatewayConfig controls the local WebSocket/HTTP status server.
type GatewayConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`
}

// ToolsConfig controls built-in tools and external tool servers.
type ToolsConfig struct {
	Web        WebToolsConfig              `json:"web"`
	Browser    BrowserToolConfig           `json:"browser"`
	Exec       ExecToolConfig              `json:"exec"`
	MCPServers map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`
}

type WebToolsConfig struct {
	Brave      BraveConfig      `json:"brave"`
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key"`
	MaxResults int    `json:"max_results"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled"`
	MaxResults int  `json:"max_results"`
}

// BrowserToolConfig controls the headless-Chromium page fetcher.
type BrowserToolConfig struct {
	Enabled  bool `json:"enabled"`
	Headless bool `json:"headless,omitempty"`
}

// ExecToolConfig controls the shell execution tool.
type ExecToolConfig struct {
	TimeoutSec int `json:"timeout_sec,omitempty"` // default 60
}

// MCPServerConfig configures one external tool server connection.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"` // default true
	TimeoutSec int               `json:"timeout_sec,omitempty"`
}

// IsEnabled returns whether this server should be started (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SessionsConfig controls session persistence. Storage defaults to
// <workspace>/sessions when empty.
type SessionsConfig struct {
	Storage string `json:"storage,omitempty"`
}

// MemoryConfig controls background history consolidation.
type MemoryConfig struct {
	CompressionWindow int    `json:"compression_window,omitempty"` // default 12
	DailySubdir       string `json:"daily_subdir,omitempty"`
}

// SkillsConfig controls the skills library. Dir defaults to
// <workspace>/skills when empty.
type SkillsConfig struct {
	Dir   string `json:"dir,omitempty"`
	Watch bool   `json:"watch,omitempty"`
}

// CronConfig controls the scheduler. Store defaults to
// <workspace>/cron/jobs.db when empty.
type CronConfig struct {
	Enabled bool   `json:"enabled"`
	Store   string `json:"store,omitempty"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "fennec"
	Headers     map[string]string `json:"headers,omitempty"`
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// SessionsDir returns the expanded session storage directory.
func (c *Config) SessionsDir() string {
	if c.Sessions.Storage != "" {
		return ExpandHome(c.Sessions.Storage)
	}
	return c.WorkspacePath() + "/sessions"
}

// SkillsDir returns the expanded skills directory.
func (c *Config) SkillsDir() string {
	if c.Skills.Dir != "" {
		return ExpandHome(c.Skills.Dir)
	}
	return c.WorkspacePath() + "/skills"
}

// CronStorePath returns the expanded cron job store path.
func (c *Config) CronStorePath() string {
	if c.Cron.Store != "" {
		return ExpandHome(c.Cron.Store)
	}
	return c.WorkspacePath() + "/cron/jobs.db"
}

// HasAnyProvider reports whether at least one provider has an API key.
func (c *Config) HasAnyProvider() bool {
	for _, p := range c.Providers {
		if p.APIKey != "" {
			return true
		}
	}
	return false
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
