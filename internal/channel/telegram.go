package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"conduit/internal/domain"
)

const (
	TelegramChannelName = "telegram"

	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
	telegramMaxPhotoBytes  = 10 << 20
)

// telegramSender is the part of *tgbotapi.BotAPI used for delivery.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token     string
	allowFrom []string
	parseMode string
	mediaDir  string
	logger    *slog.Logger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	sender telegramSender
	sleep  func(time.Duration)
}

type TelegramConfig struct {
	Token string
	// AllowFrom lists user IDs or usernames allowed to talk to the bot.
	// Empty allows everyone.
	AllowFrom []string
	ParseMode string
	// MediaDir receives downloaded photos. Photos are ignored when empty.
	MediaDir string
	Logger   *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	allowed := lo.Compact(lo.Map(cfg.AllowFrom, func(a string, _ int) string {
		return strings.TrimPrefix(strings.TrimSpace(a), "@")
	}))
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		mediaDir:  cfg.MediaDir,
		logger:    cfg.Logger,
		sleep:     time.Sleep,
	}
}

func (t *Telegram) Name() string { return TelegramChannelName }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.sender = bot
	t.mu.Unlock()
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound(TelegramChannelName, t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, bus, update)
		}
	}
}

// Stop is a no-op: polling ends when the Start context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid telegram chat id", "chat_id", msg.ChatID, "err", err)
		return
	}
	t.sendMessage(chatID, msg.Content)
}

func (t *Telegram) handleUpdate(ctx context.Context, bus domain.MessageBus, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	userID := strconv.FormatInt(m.From.ID, 10)
	chatID := m.Chat.ID

	if !t.isAllowed(userID, m.From.UserName) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", m.From.UserName)
		return
	}

	if m.IsCommand() && m.Command() == "start" {
		t.sendMessage(chatID, "Hello! Send me a message and I will help. /help lists commands.")
		return
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	var media []string
	if len(m.Photo) > 0 {
		if path, err := t.downloadPhoto(ctx, m.Photo); err != nil {
			t.logger.Warn("telegram photo download failed", "chat_id", chatID, "err", err)
		} else if path != "" {
			media = append(media, path)
			if text == "" {
				text = "[image]"
			}
		}
	}
	if text == "" {
		return
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	if s := t.currentSender(); s != nil {
		_, _ = s.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	}

	bus.PublishInbound(domain.InboundMessage{
		Channel:   TelegramChannelName,
		SenderID:  userID,
		ChatID:    strconv.FormatInt(chatID, 10),
		Content:   text,
		Media:     media,
		Timestamp: time.Unix(int64(m.Date), 0),
	})
}

// downloadPhoto saves the largest size of a photo into the media directory.
func (t *Telegram) downloadPhoto(ctx context.Context, sizes []tgbotapi.PhotoSize) (string, error) {
	if t.mediaDir == "" {
		return "", nil
	}
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return "", nil
	}
	largest := sizes[len(sizes)-1]
	url, err := bot.GetFileDirectURL(largest.FileID)
	if err != nil {
		return "", fmt.Errorf("resolve file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(t.mediaDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(t.mediaDir, largest.FileUniqueID+".jpg")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, io.LimitReader(resp.Body, telegramMaxPhotoBytes)); err != nil {
		return "", fmt.Errorf("write photo: %w", err)
	}
	return path, nil
}

func (t *Telegram) isAllowed(userID, username string) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	return lo.ContainsBy(t.allowFrom, func(a string) bool {
		return a == userID || (username != "" && strings.EqualFold(a, username))
	})
}

func (t *Telegram) currentSender() telegramSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sender
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk tries the configured parse mode first, falls back to plain text
// on entity parse errors and backs off on rate limits and transient failures.
func (t *Telegram) sendChunk(chatID int64, text string) {
	s := t.currentSender()
	if s == nil {
		t.logger.Warn("telegram not connected, dropping reply", "chat_id", chatID)
		return
	}

	plain := false
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if !plain {
			msg.ParseMode = t.parseMode
		}
		_, err := s.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		switch {
		case !plain && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markup rejected, resending as plain text", "parse_mode", t.parseMode)
			plain = true
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			wait := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
			t.sleep(wait)
		case attempt < telegramMaxSendRetries:
			wait := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
			t.sleep(wait)
		default:
			t.logger.Error("telegram send failed", "err", err, "attempts", attempt+1)
		}
	}
}

// splitMessage breaks text into chunks of at most max bytes, preferring line
// breaks in the second half of a chunk and never splitting a UTF-8 sequence.
func splitMessage(text string, max int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut < max/2 {
			cut = max
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
