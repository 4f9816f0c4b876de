package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher emits status events to the shared event channel. Publish
// failures are returned to the caller; the orchestrator deliberately does
// not swallow them.
type Publisher interface {
	Publish(ctx context.Context, ev StatusEvent) error
}

// redisPublisher is the slice of *redis.Client we use.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher serializes events to JSON and publishes them on a Redis
// pub/sub channel, stamping a UTC timestamp when the caller omitted one.
type RedisPublisher struct {
	rdb     redisPublisher
	channel string
	logger  *slog.Logger
	now     func() time.Time
}

func NewRedisPublisher(rdb *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		logger:  logger,
		now:     time.Now,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev StatusEvent) error {
	if ev.Timestamp == "" {
		ev.Timestamp = p.now().UTC().Format(TimestampLayout)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}

	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Error("event.publish.failed",
			"channel", p.channel, "status", ev.Status, "receipt_id", ev.ReceiptID, "error", err)
		return fmt.Errorf("publish status event: %w", err)
	}

	p.logger.Info("event.publish.ok",
		"channel", p.channel,
		"status", ev.Status,
		"receipt_id", ev.ReceiptID,
		"message", ev.Message,
	)
	return nil
}
