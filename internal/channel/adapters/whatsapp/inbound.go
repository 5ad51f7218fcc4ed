package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

// Webhook payload shapes per the WhatsApp Cloud API webhook reference.
type webhookEvent struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         metadata         `json:"metadata"`
	Messages         []inboundMessage `json:"messages"`
	Statuses         json.RawMessage  `json:"statuses"`
}

type metadata struct {
	PhoneNumberID string `json:"phone_number_id"`
}

type inboundMessage struct {
	From      string           `json:"from"`
	ID        string           `json:"id"`
	Timestamp string           `json:"timestamp"`
	Type      string           `json:"type"`
	Text      *textContent     `json:"text"`
	Image     *mediaContent    `json:"image"`
	Audio     *mediaContent    `json:"audio"`
	Video     *mediaContent    `json:"video"`
	Document  *mediaContent    `json:"document"`
	Location  *locationContent `json:"location"`
	Button    *buttonContent   `json:"button"`
}

type textContent struct {
	Body string `json:"body"`
}

type mediaContent struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

type locationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type buttonContent struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// Parse normalizes a WhatsApp webhook body. Status updates (sent, delivered,
// read) produce no events.
func (a *Adapter) Parse(rawBody []byte) ([]channel.Inbound, error) {
	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook: %w", err)
	}
	if event.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected webhook object %q", event.Object)
	}

	var out []channel.Inbound
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			accountID := change.Value.Metadata.PhoneNumberID
			for _, m := range change.Value.Messages {
				inbound, ok := normalize(accountID, m)
				if !ok {
					continue
				}
				out = append(out, inbound)
			}
		}
	}
	return out, nil
}

func normalize(accountID string, m inboundMessage) (channel.Inbound, bool) {
	if m.From == "" || accountID == "" {
		return channel.Inbound{}, false
	}

	msg := channel.Message{
		ConversationID: channel.ConversationKey(Type, accountID, m.From),
		Role:           channel.RoleUser,
		Platform:       Type,
		ExternalID:     m.ID,
		Timestamp:      parseTimestamp(m.Timestamp),
	}

	switch m.Type {
	case "text":
		msg.Kind = channel.KindText
		if m.Text != nil {
			msg.Text = m.Text.Body
		}
	case "image":
		msg.Kind = channel.KindImage
		msg.MediaURL, msg.Text = mediaRef(m.Image)
	case "audio":
		msg.Kind = channel.KindAudio
		msg.MediaURL, msg.Text = mediaRef(m.Audio)
	case "video":
		msg.Kind = channel.KindVideo
		msg.MediaURL, msg.Text = mediaRef(m.Video)
	case "document":
		msg.Kind = channel.KindFile
		msg.MediaURL, msg.Text = mediaRef(m.Document)
	case "location":
		msg.Kind = channel.KindLocation
		if m.Location != nil {
			msg.Text = fmt.Sprintf("%f,%f", m.Location.Latitude, m.Location.Longitude)
		}
	case "button":
		msg.Kind = channel.KindPostback
		if m.Button != nil {
			msg.Text = m.Button.Payload
			if msg.Text == "" {
				msg.Text = m.Button.Text
			}
		}
	default:
		return channel.Inbound{}, false
	}

	return channel.Inbound{Message: msg, SenderID: m.From, AccountID: accountID}, true
}

func mediaRef(m *mediaContent) (mediaURL, caption string) {
	if m == nil {
		return "", ""
	}
	return m.ID, m.Caption
}

// Cloud API timestamps are unix seconds encoded as strings.
func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
