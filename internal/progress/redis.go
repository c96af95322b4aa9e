package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/model"
)

const channelPrefix = "orgapp-progress:"

// RedisBroker relays progress events over Redis pub/sub, one channel per
// OrgApp, so an event raised on any replica reaches subscribers on all of them.
type RedisBroker struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisBroker connects to the Redis server at url (redis://host:port/db).
func NewRedisBroker(ctx context.Context, url string, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBroker{
		client: client,
		logger: logger.With().Str("component", "progress-broker").Logger(),
	}, nil
}

func channelFor(orgID, appID string) string {
	return channelPrefix + orgID + ":" + appID
}

func (b *RedisBroker) Publish(ctx context.Context, ev model.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(ev.OrgID, ev.AppID), payload).Err(); err != nil {
		return fmt.Errorf("publish progress %s/%s: %w", ev.OrgID, ev.AppID, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, handler func(model.ProgressEvent)) (func() error, error) {
	ps := b.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe progress channels: %w", err)
	}

	go func() {
		for msg := range ps.Channel() {
			if !strings.HasPrefix(msg.Channel, channelPrefix) {
				continue
			}
			var ev model.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed progress event")
				continue
			}
			handler(ev)
		}
	}()

	return ps.Close, nil
}

// Ping reports whether Redis is reachable.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
