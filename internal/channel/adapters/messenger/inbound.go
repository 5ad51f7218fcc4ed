package messenger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

// Webhook payload shapes per the Messenger Platform webhook reference.
type webhookEvent struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string             `json:"id"`
	Time      int64              `json:"time"`
	Messaging []messagingPayload `json:"messaging"`
}

type messagingPayload struct {
	Sender    participant      `json:"sender"`
	Recipient participant      `json:"recipient"`
	Timestamp int64            `json:"timestamp"`
	Message   *messagePayload  `json:"message"`
	Postback  *postbackPayload `json:"postback"`
	Delivery  *json.RawMessage `json:"delivery"`
	Read      *json.RawMessage `json:"read"`
}

type participant struct {
	ID string `json:"id"`
}

type messagePayload struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	Attachments []attachment `json:"attachments"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type postbackPayload struct {
	MID     string `json:"mid"`
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// Parse normalizes a Messenger webhook body. Delivery receipts, read
// receipts, and echoes of the page's own messages produce no events.
func (a *Adapter) Parse(rawBody []byte) ([]channel.Inbound, error) {
	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return nil, fmt.Errorf("decode messenger webhook: %w", err)
	}
	if event.Object != "page" {
		return nil, fmt.Errorf("unexpected webhook object %q", event.Object)
	}

	var out []channel.Inbound
	for _, entry := range event.Entry {
		for _, m := range entry.Messaging {
			inbound, ok := a.normalize(entry.ID, m)
			if !ok {
				continue
			}
			out = append(out, inbound)
		}
	}
	return out, nil
}

func (a *Adapter) normalize(pageID string, m messagingPayload) (channel.Inbound, bool) {
	if m.Delivery != nil || m.Read != nil {
		return channel.Inbound{}, false
	}
	accountID := m.Recipient.ID
	if accountID == "" {
		accountID = pageID
	}
	senderID := m.Sender.ID
	if senderID == "" {
		return channel.Inbound{}, false
	}

	msg := channel.Message{
		ConversationID: channel.ConversationKey(Type, accountID, senderID),
		Role:           channel.RoleUser,
		Platform:       Type,
		Timestamp:      time.UnixMilli(m.Timestamp),
	}

	switch {
	case m.Postback != nil:
		msg.Kind = channel.KindPostback
		msg.ExternalID = m.Postback.MID
		msg.Text = m.Postback.Payload
		if msg.Text == "" {
			msg.Text = m.Postback.Title
		}
	case m.Message != nil:
		if m.Message.IsEcho {
			return channel.Inbound{}, false
		}
		msg.ExternalID = m.Message.MID
		msg.Text = m.Message.Text
		msg.Kind = channel.KindText
		if len(m.Message.Attachments) > 0 {
			att := m.Message.Attachments[0]
			msg.Kind = attachmentKind(att.Type)
			msg.MediaURL = att.Payload.URL
		}
	default:
		return channel.Inbound{}, false
	}

	return channel.Inbound{Message: msg, SenderID: senderID, AccountID: accountID}, true
}

func attachmentKind(attachmentType string) channel.MessageKind {
	switch attachmentType {
	case "image":
		return channel.KindImage
	case "audio":
		return channel.KindAudio
	case "video":
		return channel.KindVideo
	case "location":
		return channel.KindLocation
	default:
		return channel.KindFile
	}
}
