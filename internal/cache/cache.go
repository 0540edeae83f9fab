package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arashpx/seekly/config"
	"github.com/arashpx/seekly/internal/store"
)

// ErrMiss is returned when no cached entry exists for a chat.
var ErrMiss = errors.New("cache: miss")

const (
	historyKeyPrefix = "seekly:history:"
	stopChannel      = "seekly:stop"

	historyTTL = 30 * time.Minute
)

// Cache keeps recent chat history in Redis so the planner prompt can be
// rebuilt without a database round trip, and carries the cross-instance
// stop channel used to cancel in-flight runs.
type Cache struct {
	client *redis.Client
	logger *log.Logger
}

func New(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{
		client: client,
		logger: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}, nil
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, logger: log.New(log.Writer(), "[CACHE] ", log.LstdFlags)}
}

func (c *Cache) Close() error { return c.client.Close() }

func historyKey(chatID string) string { return historyKeyPrefix + chatID }

// SetHistory replaces the cached message window for a chat.
func (c *Cache) SetHistory(ctx context.Context, chatID string, msgs []store.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, historyKey(chatID), data, historyTTL).Err()
}

// GetHistory returns the cached message window, or ErrMiss.
func (c *Cache) GetHistory(ctx context.Context, chatID string) ([]store.Message, error) {
	val, err := c.client.Get(ctx, historyKey(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var msgs []store.Message
	if err := json.Unmarshal([]byte(val), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// InvalidateHistory drops the cached window after new messages are persisted.
func (c *Cache) InvalidateHistory(ctx context.Context, chatID string) error {
	return c.client.Del(ctx, historyKey(chatID)).Err()
}

// PublishStop broadcasts a stop request so whichever instance holds the
// chat's active stream can cancel it.
func (c *Cache) PublishStop(ctx context.Context, chatID string) error {
	return c.client.Publish(ctx, stopChannel, chatID).Err()
}

// SubscribeStop delivers chat IDs from the stop channel to fn until ctx is
// cancelled. It runs in its own goroutine.
func (c *Cache) SubscribeStop(ctx context.Context, fn func(chatID string)) {
	sub := c.client.Subscribe(ctx, stopChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.logger.Printf("stop requested for chat %s", msg.Payload)
				fn(msg.Payload)
			}
		}
	}()
}
