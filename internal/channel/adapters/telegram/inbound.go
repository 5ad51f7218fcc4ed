package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

// Parse normalizes a Telegram webhook update. Telegram updates do not carry
// the receiving bot's id, so AccountID and ConversationID are left empty and
// filled in after connection resolution. Service updates (edits, channel
// posts, member changes) produce no events.
func (a *Adapter) Parse(rawBody []byte) ([]channel.Inbound, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(rawBody, &update); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}

	if update.CallbackQuery != nil {
		return normalizeCallback(update.CallbackQuery), nil
	}
	if update.Message == nil || update.Message.Chat == nil {
		return nil, nil
	}
	return normalizeMessage(update.Message), nil
}

func normalizeMessage(m *tgbotapi.Message) []channel.Inbound {
	if m.From != nil && m.From.IsBot {
		return nil
	}

	chatID := strconv.FormatInt(m.Chat.ID, 10)
	msg := channel.Message{
		Role:       channel.RoleUser,
		Platform:   Type,
		ExternalID: strconv.Itoa(m.MessageID),
		Timestamp:  time.Unix(int64(m.Date), 0).UTC(),
	}

	switch {
	case m.Text != "":
		msg.Kind = channel.KindText
		msg.Text = m.Text
	case len(m.Photo) > 0:
		msg.Kind = channel.KindImage
		msg.MediaURL = m.Photo[len(m.Photo)-1].FileID
		msg.Text = m.Caption
	case m.Voice != nil:
		msg.Kind = channel.KindAudio
		msg.MediaURL = m.Voice.FileID
	case m.Video != nil:
		msg.Kind = channel.KindVideo
		msg.MediaURL = m.Video.FileID
		msg.Text = m.Caption
	case m.Document != nil:
		msg.Kind = channel.KindFile
		msg.MediaURL = m.Document.FileID
		msg.Text = m.Caption
	case m.Location != nil:
		msg.Kind = channel.KindLocation
		msg.Text = fmt.Sprintf("%f,%f", m.Location.Latitude, m.Location.Longitude)
	default:
		return nil
	}

	return []channel.Inbound{{Message: msg, SenderID: chatID}}
}

func normalizeCallback(cb *tgbotapi.CallbackQuery) []channel.Inbound {
	if cb.Message == nil || cb.Message.Chat == nil || cb.Data == "" {
		return nil
	}
	chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
	msg := channel.Message{
		Role:       channel.RoleUser,
		Platform:   Type,
		Kind:       channel.KindPostback,
		Text:       cb.Data,
		ExternalID: cb.ID,
		Timestamp:  time.Now().UTC(),
	}
	return []channel.Inbound{{Message: msg, SenderID: chatID}}
}
