package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quietloop/fennec/internal/agent"
	"github.com/quietloop/fennec/internal/bootstrap"
	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/channels"
	"github.com/quietloop/fennec/internal/channels/discord"
	"github.com/quietloop/fennec/internal/channels/telegram"
	"github.com/quietloop/fennec/internal/config"
	"github.com/quietloop/fennec/internal/cron"
	"github.com/quietloop/fennec/internal/gateway"
	"github.com/quietloop/fennec/internal/mcp"
	"github.com/quietloop/fennec/internal/memory"
	"github.com/quietloop/fennec/internal/providers"
	"github.com/quietloop/fennec/internal/sessions"
	"github.com/quietloop/fennec/internal/skills"
	"github.com/quietloop/fennec/internal/tools"
	"github.com/quietloop/fennec/internal/tracing"
	"github.com/quietloop/fennec/pkg/browser"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the full runtime: channels, agent loop, scheduler, status server",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func runGateway() {
	cfg := loadConfig()
	if !cfg.HasAnyProvider() {
		fmt.Fprintln(os.Stderr, "No provider API key configured. Run: fennec onboard")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without traces", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(shutdownCtx)
	}()

	workspace := cfg.WorkspacePath()
	if created, err := bootstrap.EnsureWorkspace(workspace); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing workspace: %v\n", err)
		os.Exit(1)
	} else if len(created) > 0 {
		slog.Info("workspace seeded", "files", created)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	msgBus := bus.New()

	sessStore, err := sessions.NewStore(cfg.SessionsDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %v\n", err)
		os.Exit(1)
	}
	memStore, err := memory.NewStore(workspace, cfg.Memory.DailySubdir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening memory store: %v\n", err)
		os.Exit(1)
	}

	defaults := cfg.Agents.Defaults
	consolidator := memory.NewConsolidator(memory.Config{
		Store:             memStore,
		Sessions:          sessStore,
		Provider:          provider,
		Model:             defaults.Model,
		MaxTokens:         defaults.MaxTokens,
		Temperature:       defaults.Temperature,
		MemoryWindow:      defaults.MemoryWindow,
		CompressionWindow: cfg.Memory.CompressionWindow,
	})

	skillsLoader := skills.NewLoader(cfg.SkillsDir())
	if cfg.Skills.Watch {
		if err := skillsLoader.Watch(); err != nil {
			slog.Warn("skills watcher unavailable", "error", err)
		}
	}
	defer skillsLoader.Close()

	builder := agent.NewBuilder(workspace, defaults.Name, memStore, skillsLoader)

	// Scheduler, started before tools so the cron tool can manage jobs.
	var cronSvc *cron.Service
	if cfg.Cron.Enabled {
		cronStore, err := cron.OpenStore(cfg.CronStorePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cron store: %v\n", err)
			os.Exit(1)
		}
		defer cronStore.Close()
		cronSvc = cron.NewService(cronStore, msgBus)
		go cronSvc.Run(ctx)
	}

	var fetcher *browser.Fetcher
	if cfg.Tools.Browser.Enabled {
		fetcher = browser.NewFetcher(cfg.Tools.Browser.Headless)
		defer fetcher.Close()
	}

	// Subagents get the core tools only. No spawn (recursion) and no
	// message (results route back through the announce path).
	subRegistry := tools.NewRegistry()
	registerCoreTools(subRegistry, cfg, workspace, cronSvc, fetcher)

	registry := tools.NewRegistry()
	registerCoreTools(registry, cfg, workspace, cronSvc, fetcher)
	registerTool(registry, tools.NewMessageTool(msgBus))

	agentCfg := agent.Config{
		Bus:           msgBus,
		Sessions:      sessStore,
		Provider:      provider,
		Registry:      registry,
		Builder:       builder,
		Consolidator:  consolidator,
		Model:         defaults.Model,
		MaxTokens:     defaults.MaxTokens,
		Temperature:   defaults.Temperature,
		MaxIterations: defaults.MaxToolIterations,
		MemoryWindow:  defaults.MemoryWindow,
	}

	subCfg := agentCfg
	subCfg.Registry = subRegistry
	if defaults.Subagents.Model != "" {
		subCfg.Model = defaults.Subagents.Model
	}
	subagents := agent.NewSubagentManager(subCfg, defaults.Subagents.MaxConcurrent)
	registerTool(registry, tools.NewSpawnTool(subagents.Spawn))

	// External tool servers register into the main registry as they come up.
	mcpManager := mcp.NewManager(registry, cfg.Tools.MCPServers)
	mcpManager.Start(ctx)
	defer mcpManager.Stop()

	loop := agent.NewLoop(agentCfg)

	chanManager := channels.NewManager(msgBus)
	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, msgBus, filepath.Join(workspace, "media"))
		if err != nil {
			slog.Error("telegram channel unavailable", "error", err)
		} else {
			chanManager.Register(tg)
		}
	}
	if cfg.Channels.Discord.Enabled {
		dc, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("discord channel unavailable", "error", err)
		} else {
			chanManager.Register(dc)
		}
	}

	if err := chanManager.StartAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting channels: %v\n", err)
		os.Exit(1)
	}

	g, runCtx := errgroup.WithContext(ctx)
	if cfg.Gateway.Enabled {
		srv := gateway.NewServer(cfg.Gateway, msgBus, func() map[string]any {
			return map[string]any{
				"channels":        chanManager.Status(),
				"tools":           registry.Names(),
				"inbound_backlog": msgBus.InboundBacklog(),
				"subagents":       len(subagents.Running()),
				"version":         Version,
			}
		})
		g.Go(func() error { return srv.Start(runCtx) })
	}
	g.Go(func() error {
		loop.Run(runCtx)
		return nil
	})

	slog.Info("fennec started", "workspace", workspace, "channels", chanManager.Names())
	if err := g.Wait(); err != nil {
		slog.Error("runtime error", "error", err)
	}

	// ctx is cancelled; drain background work before exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	chanManager.StopAll(shutdownCtx)
	subagents.Wait()
	consolidator.Wait()
	slog.Info("fennec stopped")
}

// buildProvider constructs the configured LLM provider.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	name := cfg.Agents.Defaults.Provider
	pc, ok := cfg.Providers[name]
	if !ok || pc.APIKey == "" {
		return nil, fmt.Errorf("provider %q has no API key (set %s or run fennec onboard)", name, "FENNEC_"+name+"_API_KEY")
	}
	model := cfg.Agents.Defaults.Model
	if model == "" {
		model = pc.Model
	}
	reg := providers.NewRegistry()
	p := providers.NewOpenAIProvider(name, pc.APIKey, pc.ResolvedBase(name), model, pc.Stream)
	reg.Register(p)
	if err := reg.SetDefault(name); err != nil {
		return nil, err
	}
	return reg.Default()
}

// registerCoreTools adds the builtin tools every agent run gets.
func registerCoreTools(reg *tools.Registry, cfg *config.Config, workspace string, cronSvc *cron.Service, fetcher *browser.Fetcher) {
	restrict := cfg.Agents.Defaults.RestrictToWorkspace
	registerTool(reg, tools.NewReadFileTool(workspace, restrict))
	registerTool(reg, tools.NewWriteFileTool(workspace, restrict))
	registerTool(reg, tools.NewEditFileTool(workspace, restrict))
	registerTool(reg, tools.NewListDirTool(workspace, restrict))
	registerTool(reg, tools.NewExecTool(workspace, cfg.Tools.Exec.TimeoutSec))
	registerTool(reg, tools.NewWebFetchTool())

	braveKey := ""
	maxResults := cfg.Tools.Web.DuckDuckGo.MaxResults
	if cfg.Tools.Web.Brave.Enabled {
		braveKey = cfg.Tools.Web.Brave.APIKey
		maxResults = cfg.Tools.Web.Brave.MaxResults
	}
	registerTool(reg, tools.NewWebSearchTool(braveKey, maxResults))

	if cronSvc != nil {
		registerTool(reg, tools.NewCronTool(cronSvc))
	}
	if fetcher != nil {
		registerTool(reg, tools.NewBrowserTool(fetcher))
	}
}

// registerTool adds one tool, logging a name collision instead of failing
// startup.
func registerTool(reg *tools.Registry, t tools.Tool) {
	if err := reg.Register(t); err != nil {
		slog.Warn("tool registration skipped", "tool", t.Name(), "error", err)
	}
}
