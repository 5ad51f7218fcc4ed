// Package channel provides a unified abstraction for multi-platform messaging
// channels. It defines the canonical message model, capability interfaces, and
// a registry for channel adapters such as Messenger, WhatsApp, and Telegram.
package channel

import (
	"strings"
	"time"
)

// Platform identifies a messaging platform (e.g. "messenger", "telegram").
type Platform string

const (
	PlatformMessenger Platform = "messenger"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformTelegram  Platform = "telegram"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// ParsePlatform normalizes a raw route segment into a Platform.
func ParsePlatform(raw string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(raw)))
}

// Role identifies who authored a message within a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageKind classifies the payload carried by a message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindFile     MessageKind = "file"
	KindLocation MessageKind = "location"
	KindPostback MessageKind = "postback"
)

// Message is the canonical, platform-agnostic chat message. Messages are
// append-only; nothing mutates them after creation.
type Message struct {
	ID             string      `json:"id,omitempty"`
	ConversationID string      `json:"conversation_id"`
	Role           Role        `json:"role"`
	Kind           MessageKind `json:"kind"`
	Text           string      `json:"text,omitempty"`
	// MediaURL is a reference (platform id or URL); bytes are never fetched
	// eagerly.
	MediaURL   string    `json:"media_url,omitempty"`
	Platform   Platform  `json:"platform"`
	ExternalID string    `json:"external_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Inbound pairs a normalized message with the routing identifiers extracted
// from the webhook payload.
type Inbound struct {
	Message Message
	// SenderID is the platform-scoped id of the end user; replies target it.
	SenderID string
	// AccountID is the platform-scoped id of the receiving account (page id,
	// phone number id, bot id); the connection registry resolves it.
	AccountID string
}

// ConversationKey derives the stable conversation identifier for a
// (platform, account, sender) triple.
func ConversationKey(platform Platform, accountID, senderID string) string {
	return strings.Join([]string{platform.String(), accountID, senderID}, ":")
}

// Credentials holds a connection's decrypted platform credentials. Values are
// secrets and must never be logged or persisted in the clear.
type Credentials map[string]string

// Get returns the trimmed value for key, or empty string if absent.
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c[key])
}

// DeliveryError describes an expected platform send failure. Retryable marks
// failures the retry policy may attempt again (rate limits, 5xx, timeouts).
type DeliveryError struct {
	Reason    string
	Retryable bool
}

func (e *DeliveryError) Error() string {
	return e.Reason
}

// IsRetryable satisfies the retry policy's classification interface.
func (e *DeliveryError) IsRetryable() bool {
	return e.Retryable
}

// DeliveryResult is the tagged outcome of an outbound send. Expected platform
// failures travel as data in Err, never as a thrown error, so call sites
// cannot forget to handle them.
type DeliveryResult struct {
	ExternalMessageID string
	Err               *DeliveryError
}

// Sent reports whether the platform accepted the message.
func (r DeliveryResult) Sent() bool {
	return r.Err == nil
}

// Sent builds a successful DeliveryResult.
func Sent(externalMessageID string) DeliveryResult {
	return DeliveryResult{ExternalMessageID: externalMessageID}
}

// Failed builds a failed DeliveryResult.
func Failed(reason string, retryable bool) DeliveryResult {
	return DeliveryResult{Err: &DeliveryError{Reason: reason, Retryable: retryable}}
}

// Template is a platform-neutral rich reply rendered by TemplateSender
// implementations into the platform's structured message format.
type Template struct {
	Title    string
	Subtitle string
	ImageURL string
	Buttons  []TemplateButton
}

// TemplateButton is an interactive element within a Template.
type TemplateButton struct {
	// Type is "url" or "postback".
	Type    string
	Title   string
	URL     string
	Payload string
}
