// Package dedupe suppresses redelivered webhook events.
package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
)

const keyPrefix = "dedup:msg:"

// setNXClient is the slice of the redis client the guard needs.
type setNXClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Guard remembers seen platform message ids for a TTL. Platforms redeliver
// webhooks on slow or failed acks; the guard keeps redeliveries from
// producing duplicate replies.
type Guard struct {
	client setNXClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewGuard creates a Guard.
func NewGuard(client setNXClient, ttl time.Duration, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{
		client: client,
		ttl:    ttl,
		logger: log.With(slog.String("service", "dedupe")),
	}
}

// FirstDelivery marks (platform, externalMessageID) as seen and reports
// whether this was the first sighting. Events without an id and Redis
// failures both pass through.
func (g *Guard) FirstDelivery(ctx context.Context, platform channel.Platform, externalMessageID string) bool {
	if externalMessageID == "" {
		return true
	}
	key := keyPrefix + platform.String() + ":" + externalMessageID
	first, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		g.logger.Warn("dedup check failed, letting event through",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return true
	}
	return first
}

// Disabled stands in for Guard when deduplication is turned off.
type Disabled struct{}

// FirstDelivery always reports true.
func (Disabled) FirstDelivery(ctx context.Context, platform channel.Platform, externalMessageID string) bool {
	return true
}
