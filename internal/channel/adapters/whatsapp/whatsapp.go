// Package whatsapp implements the WhatsApp Cloud API channel adapter.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/channel/adapters/meta"
)

// Type is the platform tag for this adapter.
const Type = channel.PlatformWhatsApp

// Credential keys a WhatsApp connection must carry.
const (
	CredentialAccessToken   = "access_token"
	CredentialPhoneNumberID = "phone_number_id"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// Adapter implements channel.Adapter for the WhatsApp Cloud API.
type Adapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
}

// NewAdapter creates a WhatsApp adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:     log.With(slog.String("adapter", "whatsapp")),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultGraphBaseURL,
	}
}

// SetBaseURL overrides the Graph API endpoint; used by tests.
func (a *Adapter) SetBaseURL(base string) {
	a.baseURL = strings.TrimRight(base, "/")
}

// Platform returns the WhatsApp platform tag.
func (a *Adapter) Platform() channel.Platform {
	return Type
}

// Verify checks the Meta HMAC signature over the raw body.
func (a *Adapter) Verify(rawBody []byte, headers http.Header, secret string) bool {
	return meta.VerifySignature(rawBody, headers, secret)
}

// Handshake answers the GET subscription handshake.
func (a *Adapter) Handshake(params url.Values, verifyToken string) (string, bool) {
	return meta.Handshake(params, verifyToken)
}

type sendEnvelope struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             *textBody       `json:"text,omitempty"`
	Interactive      json.RawMessage `json:"interactive,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *cloudError `json:"error"`
}

type cloudError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	TraceID string `json:"fbtrace_id"`
}

// SendText delivers a plain text message to a WhatsApp user.
func (a *Adapter) SendText(ctx context.Context, creds channel.Credentials, recipientID, text string) channel.DeliveryResult {
	return a.deliver(ctx, creds, sendEnvelope{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipientID,
		Type:             "text",
		Text:             &textBody{Body: text},
	})
}

// SendTemplate renders the template as an interactive button message.
func (a *Adapter) SendTemplate(ctx context.Context, creds channel.Credentials, recipientID string, tpl channel.Template) channel.DeliveryResult {
	type replyButton struct {
		Type  string `json:"type"`
		Reply struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"reply"`
	}
	buttons := make([]replyButton, 0, len(tpl.Buttons))
	for _, b := range tpl.Buttons {
		var rb replyButton
		rb.Type = "reply"
		rb.Reply.ID = b.Payload
		rb.Reply.Title = b.Title
		buttons = append(buttons, rb)
	}
	interactive := map[string]any{
		"type":   "button",
		"header": map[string]string{"type": "text", "text": tpl.Title},
		"body":   map[string]string{"text": tpl.Subtitle},
		"action": map[string]any{"buttons": buttons},
	}
	raw, err := json.Marshal(interactive)
	if err != nil {
		return channel.Failed(fmt.Sprintf("encode template: %v", err), false)
	}
	return a.deliver(ctx, creds, sendEnvelope{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipientID,
		Type:             "interactive",
		Interactive:      raw,
	})
}

// ProbeCredentials fetches the phone number object to validate the token.
func (a *Adapter) ProbeCredentials(ctx context.Context, creds channel.Credentials) error {
	token := creds.Get(CredentialAccessToken)
	phoneID := creds.Get(CredentialPhoneNumberID)
	if token == "" || phoneID == "" {
		return fmt.Errorf("missing %s or %s", CredentialAccessToken, CredentialPhoneNumberID)
	}
	endpoint := fmt.Sprintf("%s/%s", a.baseURL, url.PathEscape(phoneID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloud api not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cloud api returned %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) deliver(ctx context.Context, creds channel.Credentials, envelope sendEnvelope) channel.DeliveryResult {
	token := creds.Get(CredentialAccessToken)
	phoneID := creds.Get(CredentialPhoneNumberID)
	if token == "" || phoneID == "" {
		return channel.Failed("missing whatsapp credentials", false)
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return channel.Failed(fmt.Sprintf("encode request: %v", err), false)
	}
	endpoint := fmt.Sprintf("%s/%s/messages", a.baseURL, url.PathEscape(phoneID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return channel.Failed(fmt.Sprintf("build request: %v", err), false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return channel.Failed(fmt.Sprintf("cloud api request: %v", err), true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return channel.Failed(fmt.Sprintf("read response: %v", err), true)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		if resp.StatusCode >= 500 {
			return channel.Failed(fmt.Sprintf("cloud api %d", resp.StatusCode), true)
		}
		return channel.Failed(fmt.Sprintf("decode response: %v", err), false)
	}

	if parsed.Error != nil {
		return a.classify(resp.StatusCode, parsed.Error)
	}
	if resp.StatusCode >= 500 {
		return channel.Failed(fmt.Sprintf("cloud api %d", resp.StatusCode), true)
	}
	if resp.StatusCode != http.StatusOK {
		return channel.Failed(fmt.Sprintf("cloud api %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), false)
	}
	if len(parsed.Messages) == 0 {
		return channel.Failed("cloud api accepted without message id", false)
	}
	return channel.Sent(parsed.Messages[0].ID)
}

func (a *Adapter) classify(status int, cerr *cloudError) channel.DeliveryResult {
	reason := fmt.Sprintf("cloud api error %d: %s", cerr.Code, cerr.Message)
	switch {
	case cerr.Code == 130429 || status == http.StatusTooManyRequests:
		return channel.Failed(reason, true)
	case cerr.Code == 190 || status == http.StatusUnauthorized:
		a.logger.Warn("access token rejected", slog.Int("code", cerr.Code), slog.String("trace_id", cerr.TraceID))
		return channel.Failed(reason, false)
	case status >= 500:
		return channel.Failed(reason, true)
	default:
		return channel.Failed(reason, false)
	}
}
