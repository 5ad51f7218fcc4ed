// Package telegram implements the Telegram Bot API channel adapter.
package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

// Type is the platform tag for this adapter.
const Type = channel.PlatformTelegram

// CredentialBotToken is the key under which a connection stores its bot token.
const CredentialBotToken = "bot_token"

// SecretTokenHeader is set by Telegram when the webhook was registered with a
// secret_token.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Adapter implements channel.Adapter for Telegram bots. Bot API clients are
// cached per token since constructing one performs a getMe call.
type Adapter struct {
	logger      *slog.Logger
	apiEndpoint string

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:      log.With(slog.String("adapter", "telegram")),
		apiEndpoint: tgbotapi.APIEndpoint,
		bots:        make(map[string]*tgbotapi.BotAPI),
	}
}

// SetAPIEndpoint overrides the Bot API endpoint format string; used by tests.
// The format must contain two %s verbs (token, method).
func (a *Adapter) SetAPIEndpoint(endpoint string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiEndpoint = endpoint
	a.bots = make(map[string]*tgbotapi.BotAPI)
}

// Platform returns the Telegram platform tag.
func (a *Adapter) Platform() channel.Platform {
	return Type
}

// Verify compares the secret token header against the configured secret in
// constant time. Telegram does not sign bodies; the webhook must have been
// registered with a secret_token. An empty configured secret never verifies.
func (a *Adapter) Verify(rawBody []byte, headers http.Header, secret string) bool {
	if secret == "" {
		return false
	}
	got := headers.Get(SecretTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// SendText delivers a text message to a Telegram chat.
func (a *Adapter) SendText(ctx context.Context, creds channel.Credentials, recipientID, text string) channel.DeliveryResult {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return channel.Failed(fmt.Sprintf("invalid chat id %q", recipientID), false)
	}
	bot, err := a.getOrCreateBot(creds)
	if err != nil {
		return classifyErr(err)
	}
	sent, err := bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		a.evictOnAuthFailure(creds, err)
		return classifyErr(err)
	}
	return channel.Sent(strconv.Itoa(sent.MessageID))
}

// SendTyping shows the "typing..." chat action.
func (a *Adapter) SendTyping(ctx context.Context, creds channel.Credentials, recipientID string) error {
	chatID, err := strconv.ParseInt(recipientID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q", recipientID)
	}
	bot, err := a.getOrCreateBot(creds)
	if err != nil {
		return err
	}
	_, err = bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// ProbeCredentials validates the bot token with a getMe call.
func (a *Adapter) ProbeCredentials(ctx context.Context, creds channel.Credentials) error {
	bot, err := a.getOrCreateBot(creds)
	if err != nil {
		return err
	}
	if _, err := bot.GetMe(); err != nil {
		a.evictOnAuthFailure(creds, err)
		return fmt.Errorf("getMe: %w", err)
	}
	return nil
}

func (a *Adapter) getOrCreateBot(creds channel.Credentials) (*tgbotapi.BotAPI, error) {
	token := creds.Get(CredentialBotToken)
	if token == "" {
		return nil, fmt.Errorf("missing %s", CredentialBotToken)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, a.apiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("create bot client: %w", err)
	}
	a.bots[token] = bot
	return bot, nil
}

func (a *Adapter) evictOnAuthFailure(creds channel.Credentials, err error) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return
	}
	if apiErr.Code != http.StatusUnauthorized && apiErr.Code != http.StatusForbidden {
		return
	}
	token := creds.Get(CredentialBotToken)
	a.mu.Lock()
	delete(a.bots, token)
	a.mu.Unlock()
	a.logger.Warn("bot token rejected", slog.Int("code", apiErr.Code))
}

func classifyErr(err error) channel.DeliveryResult {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
		return channel.Failed(fmt.Sprintf("bot api error %d: %s", apiErr.Code, apiErr.Message), retryable)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return channel.Failed(fmt.Sprintf("bot api request: %v", urlErr), true)
	}
	return channel.Failed(err.Error(), true)
}
