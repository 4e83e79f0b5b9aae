package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// Config holds Redis Streams bus settings
type Config struct {
	// ConsumerGroup enables consumer-group delivery with acks. When empty
	// every subscriber reads the whole stream from the moment it subscribed.
	ConsumerGroup string
	ConsumerName  string
	// MaxLen caps each stream approximately; 0 disables trimming
	MaxLen int64
	Block  time.Duration
}

// StreamsEventBus implements EventBus using Redis Streams
type StreamsEventBus struct {
	client *redis.Client
	logger *zap.Logger
	cfg    Config

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// NewStreamsEventBus creates a new Redis Streams event bus
func NewStreamsEventBus(client *redis.Client, cfg Config, logger *zap.Logger) *StreamsEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	return &StreamsEventBus{
		client: client,
		logger: logger,
		cfg:    cfg,
		closed: make(chan struct{}),
	}
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	// Serialize event
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.cfg.MaxLen > 0 {
		args.MaxLen = e.cfg.MaxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe reads events on a topic until ctx is done
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	select {
	case <-e.closed:
		return fmt.Errorf("event bus is closed")
	default:
	}

	if e.cfg.ConsumerGroup == "" {
		// Start after the current tail so only new events are seen
		lastID := "$"
		if msgs, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result(); err == nil && len(msgs) > 0 {
			lastID = msgs[0].ID
		}

		e.logger.Debug("subscribed to event stream",
			zap.String("stream", streamKey),
			zap.String("topic", topic))

		e.wg.Add(1)
		go e.readStream(ctx, streamKey, lastID, handler)
		return nil
	}

	// Create consumer group if it doesn't exist
	err := e.client.XGroupCreateMkStream(ctx, streamKey, e.cfg.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("consumer_group", e.cfg.ConsumerGroup),
		zap.String("consumer", e.cfg.ConsumerName))

	e.wg.Add(1)
	go e.readGroup(ctx, streamKey, handler)

	return nil
}

// readStream reads a stream without a consumer group
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey, lastID string, handler ports.EventHandler) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closed:
			return
		default:
		}

		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   10,
			Block:   e.cfg.Block,
		}).Result()
		if err != nil {
			if !e.retryable(ctx, streamKey, err) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				_ = e.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

// readGroup reads a stream as a member of the consumer group
func (e *StreamsEventBus) readGroup(ctx context.Context, streamKey string, handler ports.EventHandler) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closed:
			return
		default:
		}

		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.cfg.ConsumerGroup,
			Consumer: e.cfg.ConsumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    e.cfg.Block,
		}).Result()
		if err != nil {
			if !e.retryable(ctx, streamKey, err) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := e.processMessage(ctx, streamKey, message, handler); err != nil {
					continue
				}
				// Acknowledge message
				if err := e.client.XAck(ctx, streamKey, e.cfg.ConsumerGroup, message.ID).Err(); err != nil {
					e.logger.Error("failed to acknowledge message",
						zap.String("stream", streamKey),
						zap.String("message_id", message.ID),
						zap.Error(err))
				}
			}
		}
	}
}

// retryable logs err and reports whether reading should continue
func (e *StreamsEventBus) retryable(ctx context.Context, streamKey string, err error) bool {
	if errors.Is(err, redis.Nil) {
		// No new messages
		return true
	}
	if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
		return false
	}

	e.logger.Error("failed to read from stream",
		zap.String("stream", streamKey),
		zap.Error(err))

	select {
	case <-ctx.Done():
		return false
	case <-e.closed:
		return false
	case <-time.After(time.Second):
		return true
	}
}

// processMessage processes a single message from the stream
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) error {
	// Extract event data
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return fmt.Errorf("invalid message format")
	}

	// Deserialize event
	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return err
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return err
	}
	return nil
}

// Close stops all readers, each within one block interval, and waits for
// them. The Redis client is closed by its owner.
func (e *StreamsEventBus) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("testrun:events:%s", topic)
}

var _ ports.EventBus = (*StreamsEventBus)(nil)
