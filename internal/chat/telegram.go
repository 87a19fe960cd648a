package chat

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cobaltfox/aria/internal/bus"
	"github.com/cobaltfox/aria/internal/config"
)

const telegramChannelName = "telegram"

// historyPerChat bounds the locally kept transcript used for recall. The bot
// API has no history endpoint, so the adapter records what flows through it.
const historyPerChat = 100

// TelegramBot is the slice of the bot API the adapter uses, kept as an
// interface so tests can substitute a fake.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// InboundHandler receives every accepted inbound message.
type InboundHandler func(msg bus.InboundMessage)

// Telegram implements Messenger over the bot API and feeds inbound messages
// to a handler plus the signal aggregator.
type Telegram struct {
	token      string
	proxy      string
	allowFrom  []string
	bot        TelegramBot
	botFactory BotFactory
	signals    *Signals
	onInbound  InboundHandler
	cancel     context.CancelFunc

	mu      sync.Mutex
	history map[string][]HistoryMessage
}

func NewTelegram(cfg config.TelegramConfig, signals *Signals, onInbound InboundHandler) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, signals, onInbound, defaultBotFactory)
}

// NewTelegramWithFactory is the test seam for substituting a fake bot.
func NewTelegramWithFactory(cfg config.TelegramConfig, signals *Signals, onInbound InboundHandler, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &Telegram{
		token:      cfg.Token,
		proxy:      cfg.Proxy,
		allowFrom:  cfg.AllowFrom,
		botFactory: factory,
		signals:    signals,
		onInbound:  onInbound,
		history:    make(map[string][]HistoryMessage),
	}, nil
}

func (t *Telegram) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}
	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

// Start begins long polling. Inbound messages are filtered by the allow list
// before reaching the handler.
func (t *Telegram) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *Telegram) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

func (t *Telegram) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.isAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	at := time.Unix(int64(msg.Date), 0)
	t.recordHistory(HistoryMessage{
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      content,
		Timestamp: at,
	})
	if t.signals != nil {
		t.signals.ObserveMessage(content)
	}
	if t.onInbound != nil {
		t.onInbound(bus.InboundMessage{
			Channel:   telegramChannelName,
			SenderID:  senderID,
			ChatID:    chatID,
			Content:   content,
			Timestamp: at,
			Metadata: map[string]any{
				"username":   msg.From.UserName,
				"first_name": msg.From.FirstName,
				"message_id": msg.MessageID,
			},
		})
	}
}

func (t *Telegram) isAllowed(senderID string) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, allowed := range t.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}

func (t *Telegram) SendMessage(_ context.Context, chatID, text string) (string, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	sent, err := t.bot.Send(tgbotapi.NewMessage(id, text))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	t.recordHistory(HistoryMessage{
		ChatID:    chatID,
		Text:      text,
		Timestamp: time.Now(),
		FromSelf:  true,
	})
	return strconv.Itoa(sent.MessageID), nil
}

func (t *Telegram) EditMessage(_ context.Context, chatID, messageID, text string) error {
	id, msgID, err := parseIDs(chatID, messageID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewEditMessageText(id, msgID, text)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *Telegram) DeleteMessage(_ context.Context, chatID, messageID string) error {
	id, msgID, err := parseIDs(chatID, messageID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(id, msgID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// FetchRecentHistory serves the locally recorded transcript, newest last.
func (t *Telegram) FetchRecentHistory(_ context.Context, chatID string, limit int) ([]HistoryMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.history[chatID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]HistoryMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (t *Telegram) recordHistory(msg HistoryMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := append(t.history[msg.ChatID], msg)
	if len(msgs) > historyPerChat {
		msgs = msgs[len(msgs)-historyPerChat:]
	}
	t.history[msg.ChatID] = msgs
}

func parseIDs(chatID, messageID string) (int64, int, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	return id, msgID, nil
}

var _ Messenger = (*Telegram)(nil)
