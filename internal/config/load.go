package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with working defaults: local gateway, DuckDuckGo
// search, headless browser off, consolidation window 12.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Name:                "fennec",
				Workspace:           "~/.fennec/workspace",
				RestrictToWorkspace: true,
				Provider:            "openrouter",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   50,
				MemoryWindow:        50,
				Subagents: SubagentsConfig{
					MaxConcurrent: 8,
				},
			},
		},
		Providers: map[string]ProviderConfig{},
		Gateway: GatewayConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         18650,
			RateLimitRPM: 20,
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Browser: BrowserToolConfig{Headless: true},
			Exec:    ExecToolConfig{TimeoutSec: 60},
		},
		Memory: MemoryConfig{CompressionWindow: 12},
	}
}

// Load reads a JSON5 config file and overlays env vars. A missing file
// yields the defaults (still env-overridden) rather than an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// wellKnownProviders get a config entry created on the fly when only an
// env API key is present.
var wellKnownProviders = []string{"openai", "openrouter", "deepseek", "groq", "gemini"}

// applyEnvOverrides overlays FENNEC_* env vars. Env takes precedence
// over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	for name, pc := range c.Providers {
		if v := os.Getenv(providerKeyEnv(name)); v != "" {
			pc.APIKey = v
			c.Providers[name] = pc
		}
	}
	for _, name := range wellKnownProviders {
		if _, ok := c.Providers[name]; ok {
			continue
		}
		if v := os.Getenv(providerKeyEnv(name)); v != "" {
			c.Providers[name] = ProviderConfig{APIKey: v}
		}
	}

	telegram := &c.Channels.Telegram
	envStr("FENNEC_TELEGRAM_TOKEN", &telegram.Token)
	if telegram.Token != "" && os.Getenv("FENNEC_TELEGRAM_TOKEN") != "" {
		telegram.Enabled = true
	}
	discord := &c.Channels.Discord
	envStr("FENNEC_DISCORD_TOKEN", &discord.Token)
	if discord.Token != "" && os.Getenv("FENNEC_DISCORD_TOKEN") != "" {
		discord.Enabled = true
	}

	envStr("FENNEC_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("FENNEC_MODEL", &c.Agents.Defaults.Model)
	envStr("FENNEC_WORKSPACE", &c.Agents.Defaults.Workspace)

	envStr("FENNEC_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("FENNEC_HOST", &c.Gateway.Host)
	if v := os.Getenv("FENNEC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("FENNEC_BRAVE_API_KEY", &c.Tools.Web.Brave.APIKey)
	if c.Tools.Web.Brave.APIKey != "" {
		c.Tools.Web.Brave.Enabled = true
	}

	envStr("FENNEC_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FENNEC_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("FENNEC_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("FENNEC_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FENNEC_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

func providerKeyEnv(name string) string {
	name = strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return "FENNEC_" + name + "_API_KEY"
}

// Save writes the config as plain JSON (the JSON5 parser reads it fine).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
