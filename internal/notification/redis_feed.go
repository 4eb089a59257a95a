package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel carrying loan application changes.
const DefaultChannel = "loan_applications_changes"

// RedisFeed publishes changes over Redis pub/sub so that every API replica
// sees them.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisFeed builds a feed on channel, or DefaultChannel when empty.
func NewRedisFeed(client *redis.Client, channel string, logger *slog.Logger) *RedisFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisFeed{client: client, channel: channel, logger: logger}
}

// Publish encodes change as JSON and publishes it.
func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe listens on the channel until ctx is done.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan Change, error) {
	sub := f.client.Subscribe(ctx, f.channel)
	// Wait for the subscription confirmation so that events published right
	// after Subscribe returns are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					f.logger.Warn("dropping undecodable change", slog.String("channel", f.channel), slog.Any("error", err))
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
