// Package messenger implements the Facebook Messenger channel adapter.
package messenger

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
const Type = channel.PlatformMessenger

// CredentialPageToken is the key under which a connection stores its page
// access token.
const CredentialPageToken = "page_access_token"

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// Graph API error codes that identify the failure class.
// Ref: https://developers.facebook.com/docs/graph-api/guides/error-handling
var (
	authErrorCodes      = map[int]bool{190: true, 10: true, 200: true, 299: true}
	rateLimitErrorCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}
)

// Adapter implements channel.Adapter for Facebook Messenger, plus the
// handshake, typing, template, and credential-probe capabilities.
type Adapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
}

// NewAdapter creates a Messenger adapter.
func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:     log.With(slog.String("adapter", "messenger")),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultGraphBaseURL,
	}
}

// SetBaseURL overrides the Graph API endpoint; used by tests.
func (a *Adapter) SetBaseURL(base string) {
	a.baseURL = strings.TrimRight(base, "/")
}

// Platform returns the Messenger platform tag.
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

type sendRequest struct {
	Recipient     sendRecipient   `json:"recipient"`
	Message       json.RawMessage `json:"message,omitempty"`
	SenderAction  string          `json:"sender_action,omitempty"`
	MessagingType string          `json:"messaging_type,omitempty"`
}

type sendRecipient struct {
	ID string `json:"id"`
}

type sendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
	Error       *graphError `json:"error"`
}

type graphError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	TraceID string `json:"fbtrace_id"`
}

// SendText delivers a text reply via the Graph API Send endpoint.
func (a *Adapter) SendText(ctx context.Context, creds channel.Credentials, recipientID, text string) channel.DeliveryResult {
	message, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return channel.Failed(fmt.Sprintf("encode message: %v", err), false)
	}
	return a.deliver(ctx, creds, sendRequest{
		Recipient:     sendRecipient{ID: recipientID},
		Message:       message,
		MessagingType: "RESPONSE",
	})
}

// SendTyping turns the typing indicator on for the recipient.
func (a *Adapter) SendTyping(ctx context.Context, creds channel.Credentials, recipientID string) error {
	result := a.deliver(ctx, creds, sendRequest{
		Recipient:    sendRecipient{ID: recipientID},
		SenderAction: "typing_on",
	})
	if !result.Sent() {
		return result.Err
	}
	return nil
}

// SendTemplate delivers a generic template (card with buttons).
func (a *Adapter) SendTemplate(ctx context.Context, creds channel.Credentials, recipientID string, tpl channel.Template) channel.DeliveryResult {
	type button struct {
		Type    string `json:"type"`
		Title   string `json:"title"`
		URL     string `json:"url,omitempty"`
		Payload string `json:"payload,omitempty"`
	}
	buttons := make([]button, 0, len(tpl.Buttons))
	for _, b := range tpl.Buttons {
		kind := "postback"
		if b.Type == "url" {
			kind = "web_url"
		}
		buttons = append(buttons, button{Type: kind, Title: b.Title, URL: b.URL, Payload: b.Payload})
	}
	payload := map[string]any{
		"attachment": map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type": "generic",
				"elements": []map[string]any{{
					"title":     tpl.Title,
					"subtitle":  tpl.Subtitle,
					"image_url": tpl.ImageURL,
					"buttons":   buttons,
				}},
			},
		},
	}
	message, err := json.Marshal(payload)
	if err != nil {
		return channel.Failed(fmt.Sprintf("encode template: %v", err), false)
	}
	return a.deliver(ctx, creds, sendRequest{
		Recipient:     sendRecipient{ID: recipientID},
		Message:       message,
		MessagingType: "RESPONSE",
	})
}

// ProbeCredentials exercises the page token with a cheap metadata read.
func (a *Adapter) ProbeCredentials(ctx context.Context, creds channel.Credentials) error {
	token := creds.Get(CredentialPageToken)
	if token == "" {
		return fmt.Errorf("missing %s", CredentialPageToken)
	}
	endpoint := fmt.Sprintf("%s/me?access_token=%s", a.baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph api not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("graph api returned %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) deliver(ctx context.Context, creds channel.Credentials, req sendRequest) channel.DeliveryResult {
	token := creds.Get(CredentialPageToken)
	if token == "" {
		return channel.Failed("missing page access token", false)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return channel.Failed(fmt.Sprintf("encode request: %v", err), false)
	}
	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", a.baseURL, url.QueryEscape(token))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return channel.Failed(fmt.Sprintf("build request: %v", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return channel.Failed(fmt.Sprintf("graph api request: %v", err), true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return channel.Failed(fmt.Sprintf("read response: %v", err), true)
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		if resp.StatusCode >= 500 {
			return channel.Failed(fmt.Sprintf("graph api %d", resp.StatusCode), true)
		}
		return channel.Failed(fmt.Sprintf("decode response: %v", err), false)
	}

	if parsed.Error != nil {
		return a.classify(parsed.Error)
	}
	if resp.StatusCode >= 500 {
		return channel.Failed(fmt.Sprintf("graph api %d", resp.StatusCode), true)
	}
	if resp.StatusCode != http.StatusOK {
		return channel.Failed(fmt.Sprintf("graph api %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), false)
	}
	return channel.Sent(parsed.MessageID)
}

func (a *Adapter) classify(gerr *graphError) channel.DeliveryResult {
	reason := fmt.Sprintf("graph api error %d: %s", gerr.Code, gerr.Message)
	switch {
	case rateLimitErrorCodes[gerr.Code]:
		return channel.Failed(reason, true)
	case authErrorCodes[gerr.Code]:
		a.logger.Warn("page token rejected", slog.Int("code", gerr.Code), slog.String("trace_id", gerr.TraceID))
		return channel.Failed(reason, false)
	default:
		return channel.Failed(reason, false)
	}
}
