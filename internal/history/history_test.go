package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/retry"
)

type fakeStore struct {
	mu       sync.Mutex
	messages map[string][]channel.Message
	failing  bool
	appends  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string][]channel.Message)}
}

func (s *fakeStore) Append(ctx context.Context, msg channel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.failing {
		return errors.New("store down")
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *fakeStore) Latest(ctx context.Context, conversationID string, n int) ([]channel.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store down")
	}
	all := s.messages[conversationID]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]channel.Message, len(all))
	copy(out, all)
	return out, nil
}

type fakeCache struct {
	mu      sync.Mutex
	windows map[string][]channel.Message
	failing bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{windows: make(map[string][]channel.Message)}
}

func (c *fakeCache) Read(ctx context.Context, conversationID string) ([]channel.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return nil, errors.New("redis down")
	}
	win, ok := c.windows[conversationID]
	if !ok || len(win) == 0 {
		return nil, ErrCacheMiss
	}
	out := make([]channel.Message, len(win))
	copy(out, win)
	return out, nil
}

func (c *fakeCache) Push(ctx context.Context, conversationID string, msg channel.Message, max int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("redis down")
	}
	win := append(c.windows[conversationID], msg)
	if len(win) > max {
		win = win[len(win)-max:]
	}
	c.windows[conversationID] = win
	return nil
}

func (c *fakeCache) Replace(ctx context.Context, conversationID string, msgs []channel.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("redis down")
	}
	out := make([]channel.Message, len(msgs))
	copy(out, msgs)
	c.windows[conversationID] = out
	return nil
}

func fastPolicy() *retry.Policy {
	return retry.NewPolicy(2, time.Millisecond, time.Millisecond, 1.0)
}

func msg(conversationID string, i int) channel.Message {
	return channel.Message{
		ConversationID: conversationID,
		Role:           channel.RoleUser,
		Kind:           channel.KindText,
		Text:           fmt.Sprintf("message %d", i),
		Timestamp:      time.Unix(int64(1700000000+i), 0).UTC(),
	}
}

func TestAppendKeepsWindowBounded(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cache := newFakeCache()
	m := NewManager(store, cache, 10, fastPolicy(), nil)

	const total = 12
	for i := 1; i <= total; i++ {
		m.Append(context.Background(), msg("conv", i))
	}

	window := m.Window(context.Background(), "conv")
	require.Len(t, window, 10)
	assert.Equal(t, "message 3", window[0].Text)
	assert.Equal(t, "message 12", window[9].Text)

	// store keeps the full log
	assert.Len(t, store.messages["conv"], total)
}

func TestWindowRebuildsFromStoreOnCacheMiss(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cache := newFakeCache()
	m := NewManager(store, cache, 10, fastPolicy(), nil)

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append(context.Background(), msg("conv", i)))
	}

	window := m.Window(context.Background(), "conv")
	require.Len(t, window, 5)
	assert.Equal(t, "message 1", window[0].Text)

	// window is now cached
	cached, err := cache.Read(context.Background(), "conv")
	require.NoError(t, err)
	assert.Len(t, cached, 5)
}

func TestWindowPrefersCache(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cache := newFakeCache()
	m := NewManager(store, cache, 10, fastPolicy(), nil)

	require.NoError(t, cache.Replace(context.Background(), "conv",
		[]channel.Message{msg("conv", 1), msg("conv", 2)}))
	store.failing = true

	window := m.Window(context.Background(), "conv")
	assert.Len(t, window, 2)
}

func TestWindowDegradesWhenStoreDown(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failing = true
	cache := newFakeCache()
	m := NewManager(store, cache, 10, fastPolicy(), nil)

	window := m.Window(context.Background(), "conv")
	assert.Empty(t, window)
}

func TestAppendDegradesToCacheOnlyWhenStoreDown(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failing = true
	cache := newFakeCache()
	m := NewManager(store, cache, 10, fastPolicy(), nil)

	m.Append(context.Background(), msg("conv", 1))
	m.Append(context.Background(), msg("conv", 2))

	// retried per policy, then gave up
	assert.Equal(t, 4, store.appends)

	// window still serves from cache
	window := m.Window(context.Background(), "conv")
	require.Len(t, window, 2)
	assert.Equal(t, "message 2", window[1].Text)
}

func TestAppendsSerializedPerConversation(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cache := newFakeCache()
	m := NewManager(store, cache, 50, fastPolicy(), nil)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Append(context.Background(), msg("conv", i))
		}(i)
	}
	wg.Wait()

	window := m.Window(context.Background(), "conv")
	assert.Len(t, window, 20)
}
