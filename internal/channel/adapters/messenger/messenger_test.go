package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/channel/adapters/meta"
)

const textWebhook = `{
  "object": "page",
  "entry": [{
    "id": "page-1",
    "time": 1700000000000,
    "messaging": [{
      "sender": {"id": "user-9"},
      "recipient": {"id": "page-1"},
      "timestamp": 1700000000123,
      "message": {"mid": "m_abc", "text": "hello there"}
    }]
  }]
}`

func TestParseTextMessage(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	events, err := a.Parse([]byte(textWebhook))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "user-9", ev.SenderID)
	assert.Equal(t, "page-1", ev.AccountID)
	assert.Equal(t, channel.RoleUser, ev.Message.Role)
	assert.Equal(t, channel.KindText, ev.Message.Kind)
	assert.Equal(t, "hello there", ev.Message.Text)
	assert.Equal(t, "m_abc", ev.Message.ExternalID)
	assert.Equal(t, "messenger:page-1:user-9", ev.Message.ConversationID)
}

func TestParseAttachment(t *testing.T) {
	t.Parallel()

	body := `{"object":"page","entry":[{"id":"page-1","messaging":[{
		"sender":{"id":"user-9"},"recipient":{"id":"page-1"},
		"message":{"mid":"m_img","attachments":[{"type":"image","payload":{"url":"https://cdn.example/pic.jpg"}}]}
	}]}]}`

	a := NewAdapter(nil)
	events, err := a.Parse([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, channel.KindImage, events[0].Message.Kind)
	assert.Equal(t, "https://cdn.example/pic.jpg", events[0].Message.MediaURL)
}

func TestParsePostback(t *testing.T) {
	t.Parallel()

	body := `{"object":"page","entry":[{"id":"page-1","messaging":[{
		"sender":{"id":"user-9"},"recipient":{"id":"page-1"},
		"postback":{"mid":"m_pb","title":"Get Started","payload":"GET_STARTED"}
	}]}]}`

	a := NewAdapter(nil)
	events, err := a.Parse([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, channel.KindPostback, events[0].Message.Kind)
	assert.Equal(t, "GET_STARTED", events[0].Message.Text)
}

func TestParseSkipsReceiptsAndEchoes(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"delivery receipt": `{"object":"page","entry":[{"id":"p","messaging":[{
			"sender":{"id":"u"},"recipient":{"id":"p"},"delivery":{"watermark":1}}]}]}`,
		"read receipt": `{"object":"page","entry":[{"id":"p","messaging":[{
			"sender":{"id":"u"},"recipient":{"id":"p"},"read":{"watermark":1}}]}]}`,
		"echo": `{"object":"page","entry":[{"id":"p","messaging":[{
			"sender":{"id":"p"},"recipient":{"id":"u"},
			"message":{"mid":"m","text":"our own reply","is_echo":true}}]}]}`,
	}

	a := NewAdapter(nil)
	for name, body := range cases {
		events, err := a.Parse([]byte(body))
		require.NoError(t, err, name)
		assert.Empty(t, events, name)
	}
}

func TestParseRejectsNonPageObject(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	_, err := a.Parse([]byte(`{"object":"instagram","entry":[]}`))
	assert.Error(t, err)
}

func TestVerifyDelegatesToMetaSignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"object":"page"}`)
	headers := http.Header{}
	headers.Set(meta.SignatureHeader, meta.Sign(body, "s3cret"))

	a := NewAdapter(nil)
	assert.True(t, a.Verify(body, headers, "s3cret"))
	assert.False(t, a.Verify(body, headers, "wrong"))
}

func TestHandshake(t *testing.T) {
	t.Parallel()

	params := url.Values{}
	params.Set("hub.mode", "subscribe")
	params.Set("hub.verify_token", "tok")
	params.Set("hub.challenge", "12345")

	a := NewAdapter(nil)
	challenge, ok := a.Handshake(params, "tok")
	assert.True(t, ok)
	assert.Equal(t, "12345", challenge)

	_, ok = a.Handshake(params, "other")
	assert.False(t, ok)
}

func TestSendTextSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/messages", r.URL.Path)
		assert.Equal(t, "page-token", r.URL.Query().Get("access_token"))

		var req sendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "user-9", req.Recipient.ID)
		assert.Equal(t, "RESPONSE", req.MessagingType)

		json.NewEncoder(w).Encode(sendResponse{RecipientID: "user-9", MessageID: "m_out_1"})
	}))
	defer srv.Close()

	a := NewAdapter(nil)
	a.SetBaseURL(srv.URL)

	creds := channel.Credentials{CredentialPageToken: "page-token"}
	result := a.SendText(context.Background(), creds, "user-9", "hi")
	require.True(t, result.Sent())
	assert.Equal(t, "m_out_1", result.ExternalMessageID)
}

func TestSendTextClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		code      int
		status    int
		retryable bool
	}{
		{name: "expired token", code: 190, status: http.StatusBadRequest, retryable: false},
		{name: "rate limited", code: 613, status: http.StatusBadRequest, retryable: true},
		{name: "app throttled", code: 4, status: http.StatusBadRequest, retryable: true},
		{name: "permission", code: 200, status: http.StatusForbidden, retryable: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				json.NewEncoder(w).Encode(sendResponse{Error: &graphError{Code: tc.code, Message: tc.name}})
			}))
			defer srv.Close()

			a := NewAdapter(nil)
			a.SetBaseURL(srv.URL)

			result := a.SendText(context.Background(), channel.Credentials{CredentialPageToken: "t"}, "u", "hi")
			require.False(t, result.Sent())
			assert.Equal(t, tc.retryable, result.Err.Retryable)
		})
	}
}

func TestSendTextServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAdapter(nil)
	a.SetBaseURL(srv.URL)

	result := a.SendText(context.Background(), channel.Credentials{CredentialPageToken: "t"}, "u", "hi")
	require.False(t, result.Sent())
	assert.True(t, result.Err.Retryable)
}

func TestSendTextMissingToken(t *testing.T) {
	t.Parallel()

	a := NewAdapter(nil)
	result := a.SendText(context.Background(), channel.Credentials{}, "u", "hi")
	require.False(t, result.Sent())
	assert.False(t, result.Err.Retryable)
}

func TestProbeCredentials(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "good" {
			w.Write([]byte(`{"id":"page-1","name":"Shop"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewAdapter(nil)
	a.SetBaseURL(srv.URL)

	assert.NoError(t, a.ProbeCredentials(context.Background(), channel.Credentials{CredentialPageToken: "good"}))
	assert.Error(t, a.ProbeCredentials(context.Background(), channel.Credentials{CredentialPageToken: "bad"}))
}
