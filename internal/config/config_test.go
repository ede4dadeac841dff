package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	d := cfg.Agents.Defaults
	if d.MaxToolIterations != 50 || d.MemoryWindow != 50 {
		t.Errorf("defaults = (iterations %d, window %d), want (50, 50)", d.MaxToolIterations, d.MemoryWindow)
	}
	if !cfg.Tools.Web.DuckDuckGo.Enabled {
		t.Error("duckduckgo must be enabled by default")
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("gateway host = %q", cfg.Gateway.Host)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  // comments are fine
  agents: {
    defaults: {
      provider: "deepseek",
      max_tool_iterations: 10,
    },
  },
  providers: {
    deepseek: { api_key: "sk-test", stream: true },
  },
  channels: {
    telegram: { enabled: true, token: "tok", allow_from: [123, "alice"] },
  },
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agents.Defaults.Provider != "deepseek" {
		t.Errorf("provider = %q", cfg.Agents.Defaults.Provider)
	}
	if cfg.Agents.Defaults.MaxToolIterations != 10 {
		t.Errorf("max_tool_iterations = %d", cfg.Agents.Defaults.MaxToolIterations)
	}
	p, ok := cfg.Providers["deepseek"]
	if !ok || p.APIKey != "sk-test" || !p.Stream {
		t.Errorf("deepseek provider = %+v", p)
	}
	allow := cfg.Channels.Telegram.AllowFrom
	if len(allow) != 2 || allow[0] != "123" || allow[1] != "alice" {
		t.Errorf("allow_from = %v, want numeric ids coerced to strings", allow)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FENNEC_DEEPSEEK_API_KEY", "sk-env")
	t.Setenv("FENNEC_TELEGRAM_TOKEN", "tg-env")
	t.Setenv("FENNEC_PORT", "19000")
	t.Setenv("FENNEC_MODEL", "deepseek-chat")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Providers["deepseek"].APIKey; got != "sk-env" {
		t.Errorf("deepseek api key = %q, want env value", got)
	}
	if !cfg.Channels.Telegram.Enabled || cfg.Channels.Telegram.Token != "tg-env" {
		t.Errorf("telegram = %+v, want auto-enabled with env token", cfg.Channels.Telegram)
	}
	if cfg.Gateway.Port != 19000 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
	if cfg.Agents.Defaults.Model != "deepseek-chat" {
		t.Errorf("model = %q", cfg.Agents.Defaults.Model)
	}
}

func TestEnvOverridesExistingProviderEntry(t *testing.T) {
	t.Setenv("FENNEC_OPENROUTER_API_KEY", "sk-or")

	path := filepath.Join(t.TempDir(), "config.json")
	body := `{providers: {openrouter: {api_key: "sk-file", model: "qwen"}}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p := cfg.Providers["openrouter"]
	if p.APIKey != "sk-or" {
		t.Errorf("api key = %q, env must win over file", p.APIKey)
	}
	if p.Model != "qwen" {
		t.Errorf("model = %q, file value must survive", p.Model)
	}
}

func TestResolvedBase(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		cfg      ProviderConfig
		want     string
	}{
		{"explicit base wins", "openrouter", ProviderConfig{APIBase: "https://my.proxy/v1"}, "https://my.proxy/v1"},
		{"well-known openrouter", "openrouter", ProviderConfig{}, "https://openrouter.ai/api/v1"},
		{"well-known groq", "groq", ProviderConfig{}, "https://api.groq.com/openai/v1"},
		{"unknown name empty", "homelab", ProviderConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolvedBase(tt.provider); got != tt.want {
				t.Errorf("ResolvedBase(%s) = %q, want %q", tt.provider, got, tt.want)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.Agents.Defaults.Workspace = "/ws"
	if got := cfg.SessionsDir(); got != "/ws/sessions" {
		t.Errorf("SessionsDir = %q", got)
	}
	if got := cfg.SkillsDir(); got != "/ws/skills" {
		t.Errorf("SkillsDir = %q", got)
	}
	if got := cfg.CronStorePath(); got != "/ws/cron/jobs.db" {
		t.Errorf("CronStorePath = %q", got)
	}

	cfg.Sessions.Storage = "/elsewhere/sessions"
	if got := cfg.SessionsDir(); got != "/elsewhere/sessions" {
		t.Errorf("explicit SessionsDir = %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default()
	cfg.Agents.Defaults.Model = "test-model"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back Config
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Agents.Defaults.Model != "test-model" {
		t.Errorf("model = %q after round trip", back.Agents.Defaults.Model)
	}
}
