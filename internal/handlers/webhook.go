// Package handlers wires the gateway's HTTP surface onto echo.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/config"
)

// maxWebhookBody caps how much of a webhook delivery is read.
const maxWebhookBody = 1 << 20

type inboundProcessor interface {
	Process(ctx context.Context, platform channel.Platform, inbound channel.Inbound)
}

// PlatformSecrets holds the app-level verification material for one platform.
type PlatformSecrets struct {
	Secret      string
	VerifyToken string
}

// SecretsFromConfig maps the channel config onto per-platform secrets.
func SecretsFromConfig(cfg config.ChannelsConfig) map[channel.Platform]PlatformSecrets {
	return map[channel.Platform]PlatformSecrets{
		channel.PlatformMessenger: {Secret: cfg.Messenger.AppSecret, VerifyToken: cfg.Messenger.VerifyToken},
		channel.PlatformWhatsApp:  {Secret: cfg.WhatsApp.AppSecret, VerifyToken: cfg.WhatsApp.VerifyToken},
		channel.PlatformTelegram:  {Secret: cfg.Telegram.SecretToken},
	}
}

// WebhookHandler terminates platform webhook traffic: handshake on GET,
// verified delivery on POST.
type WebhookHandler struct {
	registry  *channel.Registry
	processor inboundProcessor
	secrets   map[channel.Platform]PlatformSecrets
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(log *slog.Logger, registry *channel.Registry, processor inboundProcessor, secrets map[channel.Platform]PlatformSecrets) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		registry:  registry,
		processor: processor,
		secrets:   secrets,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/:platform", h.HandleHandshake)
	e.POST("/webhooks/:platform", h.HandleDelivery)
}

// HandleHandshake answers a platform's subscription handshake with the
// verbatim challenge on success and 403 otherwise.
func (h *WebhookHandler) HandleHandshake(c echo.Context) error {
	platform := channel.ParsePlatform(c.Param("platform"))

	verifier, ok := h.registry.GetHandshakeVerifier(platform)
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "handshake not supported")
	}

	challenge, ok := verifier.Handshake(c.QueryParams(), h.secrets[platform].VerifyToken)
	if !ok {
		h.logger.Warn("handshake verification failed",
			slog.String("platform", platform.String()))
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// HandleDelivery authenticates a webhook delivery, acknowledges it, and
// processes the events asynchronously. An unverifiable signature is the only
// client-visible failure; malformed payloads are acknowledged and logged.
func (h *WebhookHandler) HandleDelivery(c echo.Context) error {
	platform := channel.ParsePlatform(c.Param("platform"))

	adapter, ok := h.registry.Get(platform)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown platform")
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("webhook body read failed",
			slog.String("platform", platform.String()),
			slog.String("error", err.Error()),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "read failed")
	}

	if !adapter.Verify(rawBody, c.Request().Header, h.secrets[platform].Secret) {
		h.logger.Warn("webhook signature rejected",
			slog.String("platform", platform.String()),
			slog.String("remote", c.RealIP()),
		)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	// detach from the request context; the ack must not wait on processing
	ctx := context.WithoutCancel(c.Request().Context())
	go h.dispatch(ctx, platform, adapter, rawBody)

	return c.String(http.StatusOK, "OK")
}

func (h *WebhookHandler) dispatch(ctx context.Context, platform channel.Platform, adapter channel.Adapter, rawBody []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic while dispatching webhook",
				slog.String("platform", platform.String()),
				slog.Any("panic", r),
			)
		}
	}()

	events, err := adapter.Parse(rawBody)
	if err != nil {
		h.logger.Warn("webhook payload unparseable",
			slog.String("platform", platform.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, inbound := range events {
		h.processor.Process(ctx, platform, inbound)
	}
}
