package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/studyforge/studyplanner/internal/domain/shared"
	"github.com/studyforge/studyplanner/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS PUB/SUB BRIDGE
// Forwards local events to a Redis channel as JSON envelopes so other
// processes (the notify command, bots) can deliver them.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the channel progression events are published on.
const DefaultChannel = "pubsub:progression"

// RedisPublisher publishes event envelopes to a Redis channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	log     *logger.Logger
	newID   func() string
}

// RedisPublisherConfig configures a RedisPublisher.
type RedisPublisherConfig struct {
	Channel string
	// Timeout bounds one PUBLISH call.
	Timeout time.Duration
	Logger  *logger.Logger
}

// NewRedisPublisher creates a publisher over an existing client.
func NewRedisPublisher(client redis.UniversalClient, cfg RedisPublisherConfig) *RedisPublisher {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &RedisPublisher{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		log:     cfg.Logger.With(logger.Component("redis_publisher")),
		newID:   uuid.NewString,
	}
}

// Channel returns the channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish serializes the event and publishes it. It satisfies
// shared.EventPublisher and can be subscribed to a bus as a handler.
func (p *RedisPublisher) Publish(event shared.Event) error {
	env, err := shared.NewEnvelope(p.newID(), event)
	if err != nil {
		return fmt.Errorf("redis publisher: encode %s: %w", event.EventType(), err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis publisher: marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publisher: publish: %w", err)
	}
	p.log.Debug("event published",
		logger.String("event_type", string(env.Type)),
		logger.String("channel", p.channel),
	)
	return nil
}

// RedisSubscriber reads event envelopes from a Redis channel.
type RedisSubscriber struct {
	client  redis.UniversalClient
	channel string
	log     *logger.Logger
}

// NewRedisSubscriber creates a subscriber. An empty channel means DefaultChannel.
func NewRedisSubscriber(client redis.UniversalClient, channel string, log *logger.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisSubscriber{
		client:  client,
		channel: channel,
		log:     log.With(logger.Component("redis_subscriber")),
	}
}

// Listen calls fn for every envelope until ctx is done. Malformed messages
// are logged and skipped. It returns nil when ctx is cancelled.
func (s *RedisSubscriber) Listen(ctx context.Context, fn func(shared.EventEnvelope) error) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so nothing published after
	// Listen starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscriber: subscribe %s: %w", s.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscriber: channel closed")
			}
			var env shared.EventEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.log.Warn("skipping malformed message", logger.Err(err))
				continue
			}
			if err := fn(env); err != nil {
				s.log.Error("envelope handler failed",
					logger.String("event_type", string(env.Type)),
					logger.Err(err),
				)
			}
		}
	}
}
