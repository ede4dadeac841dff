// Package discord connects the runtime to Discord over the gateway via
// discordgo. DMs always reach the agent; guild messages only when the bot
// is mentioned (configurable).
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/channels"
	"github.com/quietloop/fennec/internal/config"
)

const messageLimit = 2000

// Channel is the Discord adapter.
type Channel struct {
	*channels.Base
	session        *discordgo.Session
	cfg            config.DiscordConfig
	botUserID      string
	requireMention bool
}

func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		Base:           channels.NewBase("discord", msgBus, cfg.AllowFrom),
		session:        session,
		cfg:            cfg,
		requireMention: requireMention,
	}, nil
}

func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("identify bot user: %w", err)
	}
	c.botUserID = user.ID
	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
		return
	}

	senderID := m.Author.ID
	isDM := m.GuildID == ""

	if !c.IsAllowed(senderID) {
		slog.Debug("discord message rejected by allowlist", "user_id", senderID)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	// Guild messages need an @mention unless configured otherwise.
	if !isDM && c.requireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		content = stripMention(content, c.botUserID)
	}

	slog.Debug("discord message received",
		"sender", senderID, "channel", m.ChannelID, "is_dm", isDM,
		"preview", channels.Truncate(content, 50))

	_ = c.session.ChannelTyping(m.ChannelID)

	c.HandleMessage(senderID, m.ChannelID, content, nil, map[string]any{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
	})
}

// Send delivers one outbound message, chunked to Discord's length limit.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if msg.Silent || msg.Content == "" {
		return nil
	}
	for _, chunk := range channels.SplitMessage(msg.Content, messageLimit) {
		if _, err := c.session.ChannelMessageSend(msg.ChatID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// stripMention removes the bot's mention token from the message text.
func stripMention(content, botID string) string {
	for _, token := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		content = strings.ReplaceAll(content, token, "")
	}
	return strings.TrimSpace(content)
}
