// Package gateway runs the inbound webhook pipeline: dedupe, connection
// resolution, context window, completion, and outbound delivery.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/connection"
	"github.com/mohumedraslan/intaj-gateway/internal/retry"
	"github.com/mohumedraslan/intaj-gateway/internal/vault"
)

type connectionResolver interface {
	Resolve(ctx context.Context, platform channel.Platform, externalAccountID string) (*connection.Resolved, error)
}

type historyManager interface {
	Window(ctx context.Context, conversationID string) []channel.Message
	Append(ctx context.Context, msg channel.Message)
}

type replyDispatcher interface {
	Reply(ctx context.Context, agent connection.Agent, window []channel.Message, userText string) string
}

type deliveryGuard interface {
	FirstDelivery(ctx context.Context, platform channel.Platform, externalMessageID string) bool
}

// Processor drives one normalized inbound event through to a delivered reply.
type Processor struct {
	registry    *channel.Registry
	resolver    connectionResolver
	history     historyManager
	dispatcher  replyDispatcher
	guard       deliveryGuard
	policy      *retry.Policy
	logger      *slog.Logger
	sendTimeout time.Duration
	now         func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(
	registry *channel.Registry,
	resolver connectionResolver,
	history historyManager,
	dispatcher replyDispatcher,
	guard deliveryGuard,
	policy *retry.Policy,
	log *slog.Logger,
	sendTimeout time.Duration,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Processor{
		registry:    registry,
		resolver:    resolver,
		history:     history,
		dispatcher:  dispatcher,
		guard:       guard,
		policy:      policy,
		logger:      log.With(slog.String("service", "gateway")),
		sendTimeout: sendTimeout,
		now:         time.Now,
	}
}

// Process handles one inbound event end to end. It never panics out and
// never returns an error to the webhook acknowledgement path; failures are
// logged and the event is dropped at the failing stage.
func (p *Processor) Process(ctx context.Context, platform channel.Platform, inbound channel.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing inbound event",
				slog.String("platform", platform.String()),
				slog.Any("panic", r),
			)
		}
	}()

	log := p.logger.With(
		slog.String("platform", platform.String()),
		slog.String("external_id", inbound.Message.ExternalID),
	)

	if !p.guard.FirstDelivery(ctx, platform, inbound.Message.ExternalID) {
		log.Debug("duplicate delivery suppressed")
		return
	}

	resolved, err := p.resolver.Resolve(ctx, platform, inbound.AccountID)
	if err != nil {
		switch {
		case errors.Is(err, connection.ErrConnectionNotFound):
			log.Info("no active connection for account",
				slog.String("account", inbound.AccountID))
		case errors.Is(err, vault.ErrCorruptCredential):
			log.Error("connection credentials unreadable",
				slog.String("account", inbound.AccountID))
		default:
			log.Error("connection resolution failed", slog.String("error", err.Error()))
		}
		return
	}

	userMsg := inbound.Message
	if userMsg.ConversationID == "" {
		userMsg.ConversationID = channel.ConversationKey(
			platform, resolved.Connection.ExternalAccountID, inbound.SenderID)
	}
	log = log.With(slog.String("conversation_id", userMsg.ConversationID))

	window := p.history.Window(ctx, userMsg.ConversationID)
	p.history.Append(ctx, userMsg)

	agent := resolved.Agent
	if !agent.AutoRespond {
		log.Debug("auto-respond disabled, message recorded only")
		return
	}
	if !agent.BusinessHours.Within(p.now()) {
		log.Debug("outside business hours, message recorded only")
		return
	}

	adapter, ok := p.registry.Get(platform)
	if !ok {
		log.Error("no adapter registered for platform")
		return
	}

	if notifier, ok := p.registry.GetTypingNotifier(platform); ok {
		if err := notifier.SendTyping(ctx, resolved.Credentials, inbound.SenderID); err != nil {
			log.Debug("typing indicator failed", slog.String("error", err.Error()))
		}
	}

	reply := p.dispatcher.Reply(ctx, agent, window, promptText(userMsg))

	var result channel.DeliveryResult
	err = p.policy.Do(ctx, log, "channel.send", func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
		defer cancel()
		result = adapter.SendText(sendCtx, resolved.Credentials, inbound.SenderID, reply)
		if result.Sent() {
			return nil
		}
		return result.Err
	})
	if err != nil {
		log.Error("reply delivery failed", slog.String("error", err.Error()))
		return
	}

	p.history.Append(ctx, channel.Message{
		ConversationID: userMsg.ConversationID,
		Role:           channel.RoleAssistant,
		Kind:           channel.KindText,
		Text:           reply,
		Platform:       platform,
		ExternalID:     result.ExternalMessageID,
		Timestamp:      time.Now().UTC(),
	})
	log.Info("reply delivered", slog.String("message_id", result.ExternalMessageID))
}

// promptText is what the completion sees for the new inbound message.
func promptText(msg channel.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Kind != channel.KindText {
		return "[" + string(msg.Kind) + "]"
	}
	return ""
}
