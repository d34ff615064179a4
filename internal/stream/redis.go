// Package stream turns a task's event log into a live, replay-capable
// feed: history is replayed from PostgreSQL by cursor, new events are
// tailed from a per-task Redis stream.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

const (
	// streamKeyPrefix namespaces per-task Redis streams.
	streamKeyPrefix = "newsbrief:task:"

	// streamMaxLen bounds each task stream (approximate trimming).
	streamMaxLen = 10_000

	// blockTimeout is the XREAD BLOCK timeout per iteration.
	blockTimeout = 5 * time.Second

	// readBatchSize is the max entries per XREAD call.
	readBatchSize = 100

	// readRetryDelay is the pause after a transient XREAD error.
	readRetryDelay = 100 * time.Millisecond
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// RedisStreamWriter mirrors task events onto per-task Redis streams so
// attached subscribers can tail without polling PostgreSQL. It
// implements taskengine.EventMirror.
type RedisStreamWriter struct {
	client *redis.Client
}

// NewRedisStreamWriter creates a stream writer on an existing client.
func NewRedisStreamWriter(client *redis.Client) *RedisStreamWriter {
	return &RedisStreamWriter{client: client}
}

// StreamKey returns the Redis stream key for a task.
func (w *RedisStreamWriter) StreamKey(taskID string) string {
	return streamKeyPrefix + taskID + ":events"
}

// Mirror appends one event to the task's Redis stream.
func (w *RedisStreamWriter) Mirror(ctx context.Context, event *domain.TaskEvent) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}

	err = w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: w.StreamKey(event.TaskID),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":   strconv.FormatInt(event.ID, 10),
			"event_type": string(event.EventType),
			"event_data": string(data),
			"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd task event: %w", err)
	}

	return nil
}

// Tail delivers events with id > afterEventID as they are appended to
// the task's Redis stream, until ctx is cancelled or fn returns an error.
func (w *RedisStreamWriter) Tail(ctx context.Context, taskID string, afterEventID int64, fn func(*domain.TaskEvent) error) error {
	streamKey := w.StreamKey(taskID)
	lastStreamID := "0"

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := w.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastStreamID},
			Count:   readBatchSize,
			Block:   blockTimeout,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing new
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			time.Sleep(readRetryDelay)
			continue
		}

		if len(streams) == 0 {
			continue
		}

		for _, msg := range streams[0].Messages {
			lastStreamID = msg.ID

			event := parseStreamMessage(taskID, msg)
			if event.ID <= afterEventID {
				continue // already replayed from the database
			}
			afterEventID = event.ID

			if err := fn(event); err != nil {
				return err
			}
		}
	}
}

// parseStreamMessage converts a Redis stream entry back to a TaskEvent.
func parseStreamMessage(taskID string, msg redis.XMessage) *domain.TaskEvent {
	event := &domain.TaskEvent{TaskID: taskID}

	if v, ok := msg.Values["event_id"].(string); ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			event.ID = id
		}
	}
	if v, ok := msg.Values["event_type"].(string); ok {
		event.EventType = domain.TaskEventType(v)
	}
	if v, ok := msg.Values["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			event.CreatedAt = t
		}
	}
	if v, ok := msg.Values["event_data"].(string); ok && v != "" {
		var data domain.JSONBMap
		if err := json.Unmarshal([]byte(v), &data); err == nil {
			event.EventData = data
		}
	}

	return event
}
