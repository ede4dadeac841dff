// Package telegram connects the runtime to the Telegram Bot API using
// long polling via telego.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/quietloop/fennec/internal/bus"
	"github.com/quietloop/fennec/internal/channels"
	"github.com/quietloop/fennec/internal/config"
)

const (
	messageLimit         = 4096
	defaultMediaMaxBytes = 20 << 20
)

// Channel is the Telegram adapter.
type Channel struct {
	*channels.Base
	bot      *telego.Bot
	cfg      config.TelegramConfig
	mediaDir string

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the adapter. mediaDir receives downloaded attachments.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, mediaDir string) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		Base:     channels.NewBase("telegram", msgBus, cfg.AllowFrom),
		bot:      bot,
		cfg:      cfg,
		mediaDir: mediaDir,
	}, nil
}

// Start begins long polling. The receive goroutine exits when Stop cancels
// the polling context.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the receive goroutine so Telegram
// releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	user := message.From
	if user == nil || user.IsBot {
		return
	}

	senderID := strconv.FormatInt(user.ID, 10)
	if user.Username != "" {
		senderID += "|" + user.Username
	}
	chatID := strconv.FormatInt(message.Chat.ID, 10)

	content := message.Text
	if content == "" {
		content = message.Caption
	}

	media := c.collectMedia(ctx, message)
	if content == "" && len(media) == 0 {
		return
	}

	if !c.IsAllowed(senderID) {
		slog.Debug("telegram sender not in allowlist", "sender", senderID)
		return
	}

	slog.Debug("telegram message received",
		"sender", senderID, "chat", chatID, "preview", channels.Truncate(content, 50))

	_ = c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(message.Chat.ID), telego.ChatActionTyping))

	c.HandleMessage(senderID, chatID, content, media, map[string]any{
		"message_id": strconv.Itoa(message.MessageID),
		"username":   user.Username,
		"first_name": user.FirstName,
	})
}

// collectMedia downloads photo and image-document attachments to local
// files the vision pipeline can read.
func (c *Channel) collectMedia(ctx context.Context, message *telego.Message) []string {
	var media []string

	if len(message.Photo) > 0 {
		// Sizes are ordered small to large; take the largest.
		largest := message.Photo[len(message.Photo)-1]
		if path, err := c.downloadFile(ctx, largest.FileID); err != nil {
			slog.Warn("telegram photo download failed", "error", err)
		} else {
			media = append(media, path)
		}
	}
	if doc := message.Document; doc != nil && isImageMime(doc.MimeType) {
		if path, err := c.downloadFile(ctx, doc.FileID); err != nil {
			slog.Warn("telegram document download failed", "error", err)
		} else {
			media = append(media, path)
		}
	}
	return media
}

func (c *Channel) downloadFile(ctx context.Context, fileID string) (string, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	maxBytes := c.cfg.MediaMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMediaMaxBytes
	}
	if int64(file.FileSize) > maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.mediaDir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}
	path := filepath.Join(c.mediaDir, fmt.Sprintf("tg_%s_%d%s", fileID[:min(8, len(fileID))], time.Now().UnixNano(), ext))
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxBytes)); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save file: %w", err)
	}
	return path, nil
}

// Send delivers one outbound message, splitting long text into multiple
// Telegram messages. Silent outbounds are a successful no-op.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if msg.Silent || (msg.Content == "" && len(msg.Media) == 0) {
		return nil
	}

	id, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}
	chat := tu.ID(id)

	for _, path := range msg.Media {
		f, err := os.Open(path)
		if err != nil {
			slog.Warn("telegram media attachment unreadable", "path", path, "error", err)
			continue
		}
		_, sendErr := c.bot.SendPhoto(ctx, tu.Photo(chat, tu.File(f)))
		f.Close()
		if sendErr != nil {
			return fmt.Errorf("send photo: %w", sendErr)
		}
	}

	for i, chunk := range channels.SplitMessage(msg.Content, messageLimit) {
		params := tu.Message(chat, chunk)
		if i == 0 && msg.ReplyTo != "" {
			if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
				params.ReplyParameters = &telego.ReplyParameters{MessageID: replyID}
			}
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

func isImageMime(mime string) bool {
	switch mime {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}
