package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/connection"
	"github.com/mohumedraslan/intaj-gateway/internal/retry"
)

func fastPolicy() *retry.Policy {
	return retry.NewPolicy(2, time.Millisecond, time.Millisecond, 1.0)
}

func completionBody(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + mustJSON(content) + `}}]}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestClientComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Write([]byte(completionBody("We deliver daily before noon.")))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1", "sk-test", time.Second)
	reply, err := c.Complete(context.Background(), "gpt-4o-mini", []Message{
		{Role: "system", Content: "You are a shop assistant."},
		{Role: "user", Content: "do you deliver?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "We deliver daily before noon.", reply)
}

func TestClientErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, retryable: true},
		{name: "server error", status: http.StatusBadGateway, body: `upstream died`, retryable: true},
		{name: "bad key", status: http.StatusUnauthorized, body: `{"error":{"message":"invalid key"}}`, retryable: false},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, retryable: false},
		{name: "empty content", status: http.StatusOK, body: completionBody("  "), retryable: false},
		{name: "malformed body", status: http.StatusOK, body: `{"choices":`, retryable: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "sk-test", time.Second)
			_, err := c.Complete(context.Background(), "m", []Message{{Role: "user", Content: "hi"}})
			require.Error(t, err)
			assert.Equal(t, tc.retryable, retry.Classify(err))
		})
	}
}

type fakeCompleter struct {
	reply    string
	err      error
	failOnce int32
	calls    int32
	lastMsgs []Message
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastMsgs = messages
	if f.failOnce > 0 && atomic.LoadInt32(&f.calls) <= f.failOnce {
		return "", &transientError{msg: "transient"}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestDispatcherReply(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "sure, 9am to 6pm"}
	d := NewDispatcher(completer, fastPolicy(), nil, "default-model", "We'll get back to you soon.")

	agent := connection.Agent{SystemPrompt: "You answer store questions."}
	window := []channel.Message{
		{Role: channel.RoleUser, Kind: channel.KindText, Text: "hello"},
		{Role: channel.RoleAssistant, Kind: channel.KindText, Text: "hi, how can I help?"},
	}

	reply := d.Reply(context.Background(), agent, window, "what are your hours?")
	assert.Equal(t, "sure, 9am to 6pm", reply)

	require.Len(t, completer.lastMsgs, 4)
	assert.Equal(t, "system", completer.lastMsgs[0].Role)
	assert.Equal(t, "user", completer.lastMsgs[3].Role)
	assert.Equal(t, "what are your hours?", completer.lastMsgs[3].Content)
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "recovered", failOnce: 1}
	d := NewDispatcher(completer, fastPolicy(), nil, "m", "fallback")

	reply := d.Reply(context.Background(), connection.Agent{}, nil, "hi")
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, int32(2), completer.calls)
}

func TestDispatcherFallsBackOnFailure(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{err: &terminalError{msg: "invalid key"}}

	agentFallback := connection.Agent{FallbackReply: "A human will reply shortly."}
	d := NewDispatcher(completer, fastPolicy(), nil, "m", "config fallback")
	assert.Equal(t, "A human will reply shortly.", d.Reply(context.Background(), agentFallback, nil, "hi"))

	completer2 := &fakeCompleter{err: &terminalError{msg: "invalid key"}}
	d2 := NewDispatcher(completer2, fastPolicy(), nil, "m", "config fallback")
	assert.Equal(t, "config fallback", d2.Reply(context.Background(), connection.Agent{}, nil, "hi"))
}

func TestBuildMessagesSkipsEmptyAndTagsMedia(t *testing.T) {
	t.Parallel()

	window := []channel.Message{
		{Role: channel.RoleUser, Kind: channel.KindImage, MediaURL: "file-1"},
		{Role: channel.RoleUser, Kind: channel.KindText, Text: ""},
		{Role: channel.RoleAssistant, Kind: channel.KindText, Text: "nice photo"},
	}

	messages := buildMessages("", window, "thanks")
	require.Len(t, messages, 3)
	assert.Equal(t, "[image]", messages[0].Content)
	assert.Equal(t, "nice photo", messages[1].Content)
	assert.Equal(t, "thanks", messages[2].Content)
}
