package chat

import (
	"context"
	"log/slog"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/connection"
	"github.com/mohumedraslan/intaj-gateway/internal/retry"
)

// Completer is the completion call the Dispatcher runs; satisfied by Client.
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

// Dispatcher turns a conversation window into a reply, falling back to the
// agent's canned answer when the completion endpoint fails.
type Dispatcher struct {
	client          Completer
	policy          *retry.Policy
	logger          *slog.Logger
	defaultModel    string
	defaultFallback string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(client Completer, policy *retry.Policy, log *slog.Logger, defaultModel, defaultFallback string) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		client:          client,
		policy:          policy,
		logger:          log.With(slog.String("service", "chat")),
		defaultModel:    defaultModel,
		defaultFallback: defaultFallback,
	}
}

// Reply builds the prompt from the agent's system prompt, the conversation
// window, and the new user text, and returns the completion. It never
// returns an error: any failure yields the agent's fallback reply.
func (d *Dispatcher) Reply(ctx context.Context, agent connection.Agent, window []channel.Message, userText string) string {
	model := agent.ModelName
	if model == "" {
		model = d.defaultModel
	}

	messages := buildMessages(agent.SystemPrompt, window, userText)

	var reply string
	err := d.policy.Do(ctx, d.logger, "chat.complete", func(ctx context.Context) error {
		var inner error
		reply, inner = d.client.Complete(ctx, model, messages)
		return inner
	})
	if err != nil {
		d.logger.Error("completion failed, using fallback reply",
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		return d.fallback(agent)
	}
	return reply
}

func (d *Dispatcher) fallback(agent connection.Agent) string {
	if agent.FallbackReply != "" {
		return agent.FallbackReply
	}
	return d.defaultFallback
}

// buildMessages lays out system prompt, prior turns oldest first, then the
// new user message. Non-text turns contribute a placeholder so the model
// keeps the conversational rhythm.
func buildMessages(systemPrompt string, window []channel.Message, userText string) []Message {
	messages := make([]Message, 0, len(window)+2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range window {
		content := m.Text
		if content == "" && m.Kind != channel.KindText {
			content = "[" + string(m.Kind) + "]"
		}
		if content == "" {
			continue
		}
		messages = append(messages, Message{Role: string(m.Role), Content: content})
	}
	messages = append(messages, Message{Role: "user", Content: userText})
	return messages
}
