// Package history maintains the bounded conversation window behind each
// agent reply: a Redis-cached window over an append-only Postgres log.
package history

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/retry"
)

// ErrCacheMiss means the window is absent from the cache.
var ErrCacheMiss = errors.New("window not cached")

// Store is the durable conversation log.
type Store interface {
	Append(ctx context.Context, msg channel.Message) error
	// Latest returns up to n most recent messages, oldest first.
	Latest(ctx context.Context, conversationID string, n int) ([]channel.Message, error)
}

// Cache holds the hot window per conversation.
type Cache interface {
	Read(ctx context.Context, conversationID string) ([]channel.Message, error)
	// Push appends msg and trims the window to at most max entries.
	Push(ctx context.Context, conversationID string, msg channel.Message, max int) error
	Replace(ctx context.Context, conversationID string, msgs []channel.Message) error
}

const lockShards = 64

// Manager serializes appends per conversation and keeps cache and store in
// step. Store outages degrade to cache-only operation instead of failing the
// webhook pipeline.
type Manager struct {
	store      Store
	cache      Cache
	windowSize int
	policy     *retry.Policy
	logger     *slog.Logger

	locks [lockShards]sync.Mutex
}

// NewManager creates a Manager with the given window size.
func NewManager(store Store, cache Cache, windowSize int, policy *retry.Policy, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if windowSize < 1 {
		windowSize = 1
	}
	return &Manager{
		store:      store,
		cache:      cache,
		windowSize: windowSize,
		policy:     policy,
		logger:     log.With(slog.String("service", "history")),
	}
}

// WindowSize returns the configured window bound.
func (m *Manager) WindowSize() int {
	return m.windowSize
}

func (m *Manager) lock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &m.locks[h.Sum32()%lockShards]
}

// Window returns the current conversation window, oldest first, at most
// WindowSize entries. A cache miss rebuilds the window from the store; a
// store outage yields an empty window and a degraded-mode warning.
func (m *Manager) Window(ctx context.Context, conversationID string) []channel.Message {
	mu := m.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	cached, err := m.cache.Read(ctx, conversationID)
	if err == nil {
		return bound(cached, m.windowSize)
	}
	if !errors.Is(err, ErrCacheMiss) {
		m.logger.Warn("window cache read failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}

	var fromStore []channel.Message
	err = m.policy.Do(ctx, m.logger, "history.latest", func(ctx context.Context) error {
		var inner error
		fromStore, inner = m.store.Latest(ctx, conversationID, m.windowSize)
		return retry.Retryable(inner)
	})
	if err != nil {
		m.logger.Warn("store unavailable, serving empty window",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := m.cache.Replace(ctx, conversationID, fromStore); err != nil {
		m.logger.Warn("window cache replace failed",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}
	return bound(fromStore, m.windowSize)
}

// Append writes msg to the store and pushes it into the cached window,
// evicting the oldest entry beyond the window bound. Store failure after
// retries keeps the cached window current and logs degraded mode; the caller
// never sees the failure.
func (m *Manager) Append(ctx context.Context, msg channel.Message) {
	mu := m.lock(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	err := m.policy.Do(ctx, m.logger, "history.append", func(ctx context.Context) error {
		return retry.Retryable(m.store.Append(ctx, msg))
	})
	if err != nil {
		m.logger.Warn("store append failed, window is cache-only",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("error", err.Error()),
		)
	}

	if err := m.cache.Push(ctx, msg.ConversationID, msg, m.windowSize); err != nil {
		m.logger.Warn("window cache push failed",
			slog.String("conversation_id", msg.ConversationID),
			slog.String("error", err.Error()),
		)
	}
}

func bound(msgs []channel.Message, n int) []channel.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
