package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/quietloop/fennec/internal/bootstrap"
	"github.com/quietloop/fennec/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup: provider, model, channels",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	provider := cfg.Agents.Defaults.Provider
	apiKey := ""
	if pc, ok := cfg.Providers[provider]; ok {
		apiKey = pc.APIKey
	}
	model := cfg.Agents.Defaults.Model
	telegramToken := cfg.Channels.Telegram.Token
	discordToken := cfg.Channels.Discord.Token
	enableTelegram := cfg.Channels.Telegram.Enabled
	enableDiscord := cfg.Channels.Discord.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Description("Which OpenAI-compatible API should fennec use?").
				Options(
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("DeepSeek", "deepseek"),
					huh.NewOption("Groq", "groq"),
					huh.NewOption("Gemini", "gemini"),
				).
				Value(&provider),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("an API key is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Model").
				Description("Model identifier, e.g. openai/gpt-4o or deepseek-chat").
				Value(&model),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Telegram?").
				Value(&enableTelegram),
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather. Leave empty to skip.").
				EchoMode(huh.EchoModePassword).
				Value(&telegramToken),
			huh.NewConfirm().
				Title("Enable Discord?").
				Value(&enableDiscord),
			huh.NewInput().
				Title("Discord bot token").
				Description("Leave empty to skip.").
				EchoMode(huh.EchoModePassword).
				Value(&discordToken),
		),
	)

	if err := form.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "Setup cancelled.")
		os.Exit(1)
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]config.ProviderConfig{}
	}
	pc := cfg.Providers[provider]
	pc.APIKey = apiKey
	cfg.Providers[provider] = pc
	cfg.Agents.Defaults.Provider = provider
	cfg.Agents.Defaults.Model = model

	cfg.Channels.Telegram.Enabled = enableTelegram && telegramToken != ""
	cfg.Channels.Telegram.Token = telegramToken
	cfg.Channels.Discord.Enabled = enableDiscord && discordToken != ""
	cfg.Channels.Discord.Token = discordToken

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config saved to %s\n", cfgPath)

	workspace := cfg.WorkspacePath()
	created, err := bootstrap.EnsureWorkspace(workspace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error seeding workspace: %v\n", err)
		os.Exit(1)
	}
	if len(created) > 0 {
		fmt.Printf("Workspace seeded at %s (%d files)\n", workspace, len(created))
	}
	fmt.Println("Done. Start the runtime with: fennec")
}
