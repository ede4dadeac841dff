package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietloop/fennec/internal/agent"
	"github.com/quietloop/fennec/internal/bootstrap"
	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/channels"
	"github.com/quietloop/fennec/internal/memory"
	"github.com/quietloop/fennec/internal/sessions"
	"github.com/quietloop/fennec/internal/skills"
	"github.com/quietloop/fennec/internal/tools"
)

func agentCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with the agent in the terminal",
		Run: func(cmd *cobra.Command, args []string) {
			runAgent(message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and exit")
	return cmd
}

func runAgent(message string) {
	cfg := loadConfig()
	if !cfg.HasAnyProvider() {
		fmt.Fprintln(os.Stderr, "No provider API key configured. Run: fennec onboard")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workspace := cfg.WorkspacePath()
	if _, err := bootstrap.EnsureWorkspace(workspace); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing workspace: %v\n", err)
		os.Exit(1)
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
	defer skillsLoader.Close()
	builder := agent.NewBuilder(workspace, defaults.Name, memStore, skillsLoader)

	registry := tools.NewRegistry()
	registerCoreTools(registry, cfg, workspace, nil, nil)
	registerTool(registry, tools.NewMessageTool(msgBus))

	loop := agent.NewLoop(agent.Config{
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
	})

	cli := channels.NewCLIChannel(msgBus)
	cli.OnExit(cancel)

	chanManager := channels.NewManager(msgBus)
	chanManager.Register(cli)
	if err := chanManager.StartAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting CLI channel: %v\n", err)
		os.Exit(1)
	}

	if message != "" {
		// One-shot: publish, run until the reply is delivered.
		replyDone := make(chan struct{})
		go func() {
			loop.Run(ctx)
			close(replyDone)
		}()
		cli.Bus().PublishInbound(bus.InboundMessage{
			Channel: "cli", SenderID: "user", ChatID: "direct", Content: message,
		})
		waitForIdle(ctx, msgBus)
		cancel()
		<-replyDone
	} else {
		fmt.Fprintf(os.Stderr, "fennec interactive chat (model %s)\n", defaults.Model)
		fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a fresh session, \"/help\" for commands\n\n")
		loop.Run(ctx)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	chanManager.StopAll(shutdownCtx)
	consolidator.Wait()
}

// waitForIdle blocks until the inbound backlog drains and the turn settles.
func waitForIdle(ctx context.Context, msgBus *bus.MessageBus) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	settled := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if msgBus.InboundBacklog() == 0 && len(msgBus.ActiveSessions()) == 0 {
				settled++
				if settled >= 3 {
					return
				}
			} else {
				settled = 0
			}
		}
	}
}
