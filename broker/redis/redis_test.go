package redis

import (
	"context"
	"os"
	"testing"

	"github.com/ggoodman/mcp-everything-go/broker"
	"github.com/ggoodman/mcp-everything-go/broker/brokertest"
	"github.com/redis/go-redis/v9"
)

func TestRedisBroker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	pinger := redis.NewClient(&redis.Options{Addr: addr})
	if err := pinger.Ping(context.Background()).Err(); err != nil {
		pinger.Close()
		t.Skipf("Redis not available: %v", err)
	}
	pinger.Close()

	brokertest.RunBrokerTests(t, func(t *testing.T) broker.Broker {
		b := New(Config{
			Client:    redis.NewClient(&redis.Options{Addr: addr}),
			KeyPrefix: "test:broker:",
		})
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}
