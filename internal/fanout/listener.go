package fanout

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broadcaster is what the listener needs from the server side.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte)
}

// Listener subscribes to the status event channel and relays every payload
// to the broadcaster.
type Listener struct {
	rdb     *redis.Client
	channel string
	target  Broadcaster
	logger  *zap.Logger
}

func NewListener(rdb *redis.Client, channel string, target Broadcaster, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{rdb: rdb, channel: channel, target: target, logger: logger}
}

// Run blocks until the context is cancelled, relaying published events as
// they arrive.
func (l *Listener) Run(ctx context.Context) error {
	sub := l.rdb.Subscribe(ctx, l.channel)
	defer func() { _ = sub.Close() }()

	// Force the subscription before consuming so startup errors surface here.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	l.logger.Info("listening for status events", zap.String("channel", l.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.logger.Debug("relaying status event", zap.Int("bytes", len(msg.Payload)))
			l.target.Broadcast(ctx, []byte(msg.Payload))
		}
	}
}
