// Package redis implements broker.Broker on Redis Streams so that every
// node of a horizontally scaled deployment observes the same ordered event
// log.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-everything-go/broker"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis broker. Values can
// be loaded from the environment with NewFromEnv.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Password for AUTH. ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix is prepended to all keys. ENV: BROKER_KEY_PREFIX
	KeyPrefix string `env:"BROKER_KEY_PREFIX,default=mcp:broker:"`
	// MaxLen approximately bounds each stream. ENV: BROKER_MAX_LEN
	MaxLen int64 `env:"BROKER_MAX_LEN,default=10000"`

	// Client overrides the connection settings above when set.
	Client redis.UniversalClient
}

// Broker is a Redis Streams backed broker.Broker.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
	block     time.Duration
}

var _ broker.Broker = (*Broker)(nil)

// New creates a Redis broker. It does not contact the server; use Ping to
// verify connectivity.
func New(cfg Config) *Broker {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:broker:"
	}

	return &Broker{
		client:    client,
		keyPrefix: prefix,
		maxLen:    cfg.MaxLen,
		block:     time.Second,
	}
}

// NewFromEnv builds a Broker using envdecode to populate Config and checks
// connectivity.
func NewFromEnv(ctx context.Context) (*Broker, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	b := New(cfg)
	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// Ping checks connectivity.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}

func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	streamKey := b.streamKey(topic)

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"data": data},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}

	eventID, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish message to stream %s: %w", streamKey, err)
	}
	return eventID, nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string, lastEventID string, handler broker.MessageHandler) error {
	streamKey := b.streamKey(topic)

	startID := "$"
	if lastEventID != "" {
		startID = lastEventID
	} else {
		// Resolve "$" once so that messages published between two reads are
		// not skipped.
		if msgs, err := b.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result(); err == nil && len(msgs) > 0 {
			startID = msgs[0].ID
		} else if err == nil {
			startID = "0"
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, startID},
			Count:   64,
			Block:   b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				startID = message.ID

				var data []byte
				switch v := message.Values["data"].(type) {
				case string:
					data = []byte(v)
				case []byte:
					data = v
				default:
					continue
				}

				if err := handler(ctx, broker.MessageEnvelope{ID: message.ID, Data: data}); err != nil {
					return err
				}
			}
		}
	}
}

func (b *Broker) Cleanup(ctx context.Context, topic string) error {
	streamKey := b.streamKey(topic)
	if err := b.client.Del(ctx, streamKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup topic %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) streamKey(topic string) string {
	return b.keyPrefix + "stream:" + topic
}
