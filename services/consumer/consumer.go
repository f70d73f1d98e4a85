package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sjsage522/autoadworker/logger"
	apperrors "sjsage522/autoadworker/pkg/errors"
	"sjsage522/autoadworker/services/publisher"
)

// Message is one stream entry handed to a Handler
type Message struct {
	Stream  string
	ID      string
	Key     string
	Payload []byte
}

// Handler processes one message. A nil or non-retryable error acknowledges
// the message; a retryable error leaves it pending.
type Handler func(ctx context.Context, msg Message) error

// DefaultClaimIdle is how long another consumer's entry must stay pending
// before this consumer takes it over
const DefaultClaimIdle = 5 * time.Minute

// maxPendingCheck caps the pending entries inspected per shard and pass
const maxPendingCheck = 100

// Options configures a RedisConsumer
type Options struct {
	Topic       string
	StreamCount int
	Group       string
	Name        string
	BatchSize   int
	// Block is how long a read waits for new entries. Negative means no wait.
	Block time.Duration
	// RetryInterval is how often Run re-handles this consumer's pending
	// entries. Zero retries on every iteration.
	RetryInterval time.Duration
	// ClaimIdle is the minimum idle time before another consumer's pending
	// entry is claimed (0 = DefaultClaimIdle)
	ClaimIdle time.Duration
}

// RedisConsumer reads a sharded topic through a Redis consumer group.
//
// Messages sharing a key are handled in stream order. Once a message fails
// with a retryable error its key is held: later messages with that key stay
// pending unhandled until the failed one succeeds on a retry pass. A
// RedisConsumer is not safe for concurrent use.
type RedisConsumer struct {
	client  *redis.Client
	streams []string
	opts    Options
	log     *logger.Logger

	held      map[string]struct{}
	lastRetry time.Time
}

// NewRedisConsumer creates a consumer for every shard of opts.Topic
func NewRedisConsumer(client *redis.Client, opts Options) *RedisConsumer {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = DefaultClaimIdle
	}
	return &RedisConsumer{
		client:  client,
		streams: publisher.StreamNames(opts.Topic, opts.StreamCount),
		opts:    opts,
		log:     logger.ForConsumer(opts.Group).WithField("consumer", opts.Name),
		held:    make(map[string]struct{}),
	}
}

// Setup creates the consumer group on every shard
func (c *RedisConsumer) Setup(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.opts.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", c.opts.Group, stream, err)
		}
	}
	return nil
}

// ReplayPending re-handles entries delivered to this consumer but never
// acknowledged, oldest first. Each pending entry is tried once. Keys whose
// entries fail again stay held.
func (c *RedisConsumer) ReplayPending(ctx context.Context, handle Handler) (int, error) {
	held := make(map[string]struct{})
	total := 0
	for _, stream := range c.streams {
		lastID := "0"
		for {
			res, err := c.read(ctx, []string{stream, lastID}, -1)
			if err != nil {
				return total, err
			}
			if len(res) == 0 || len(res[0].Messages) == 0 {
				break
			}
			msgs := res[0].Messages
			total += c.handleAll(ctx, stream, msgs, handle, held)
			lastID = msgs[len(msgs)-1].ID
		}
	}
	c.held = held

	if total > 0 {
		c.log.Info().Int("count", total).Msg("Replayed pending messages")
	}
	if len(held) > 0 {
		c.log.Warn().Int("keys", len(held)).Msg("Keys still held behind failed messages")
	}
	return total, nil
}

// ClaimIdle takes over entries that other consumers of the group left
// pending for at least ClaimIdle. Claimed entries are handled by the next
// ReplayPending.
func (c *RedisConsumer) ClaimIdle(ctx context.Context) (int, error) {
	claimed := 0
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.opts.Group,
			Start:  "-",
			End:    "+",
			Count:  maxPendingCheck,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return claimed, fmt.Errorf("list pending on %s: %w", stream, err)
		}

		var ids []string
		for _, p := range pending {
			if p.Consumer != c.opts.Name && p.Idle >= c.opts.ClaimIdle {
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.opts.Group,
			Consumer: c.opts.Name,
			MinIdle:  c.opts.ClaimIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			return claimed, fmt.Errorf("claim pending on %s: %w", stream, err)
		}
		claimed += len(msgs)
	}

	if claimed > 0 {
		c.log.Info().Int("count", claimed).Msg("Claimed idle messages")
	}
	return claimed, nil
}

// Poll reads and handles one batch of new entries
func (c *RedisConsumer) Poll(ctx context.Context, handle Handler) (int, error) {
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	res, err := c.read(ctx, args, c.opts.Block)
	if err != nil {
		return 0, err
	}

	handled := 0
	for _, s := range res {
		handled += c.handleAll(ctx, s.Stream, s.Messages, handle, c.held)
	}
	return handled, nil
}

// Run sets up the group, then alternates retry passes over pending entries
// with polls for new ones until ctx is done
func (c *RedisConsumer) Run(ctx context.Context, handle Handler) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}

	c.log.Info().Strs("streams", c.streams).Msg("Consumer started")
	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("Consumer stopped")
			return nil
		}

		err := c.retryPending(ctx, handle)
		if err == nil {
			_, err = c.Poll(ctx, handle)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("Failed to read from streams")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *RedisConsumer) retryPending(ctx context.Context, handle Handler) error {
	if !c.lastRetry.IsZero() && time.Since(c.lastRetry) < c.opts.RetryInterval {
		return nil
	}
	c.lastRetry = time.Now()

	if _, err := c.ClaimIdle(ctx); err != nil {
		return err
	}
	_, err := c.ReplayPending(ctx, handle)
	return err
}

func (c *RedisConsumer) read(ctx context.Context, streams []string, block time.Duration) ([]redis.XStream, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Name,
		Streams:  streams,
		Count:    int64(c.opts.BatchSize),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

// handleAll handles msgs in order. Messages whose key is in held are left
// pending untouched; a retryable failure adds its key to held.
func (c *RedisConsumer) handleAll(ctx context.Context, stream string, msgs []redis.XMessage, handle Handler, held map[string]struct{}) int {
	handled := 0
	for _, m := range msgs {
		msg := Message{
			Stream:  stream,
			ID:      m.ID,
			Key:     stringValue(m.Values[publisher.FieldKey]),
			Payload: []byte(stringValue(m.Values[publisher.FieldPayload])),
		}
		if _, ok := held[msg.Key]; ok {
			c.log.Debug().Str("stream", stream).Str("id", m.ID).Str("key", msg.Key).Msg("Message held behind earlier failure")
			continue
		}

		err := handle(ctx, msg)
		switch {
		case err == nil:
			handled++
		case apperrors.IsRetryable(err):
			c.log.Error().Err(err).Str("stream", stream).Str("id", m.ID).Str("key", msg.Key).Msg("Message left pending")
			held[msg.Key] = struct{}{}
			continue
		default:
			c.log.Warn().Err(err).Str("stream", stream).Str("id", m.ID).Msg("Skipping unprocessable message")
		}

		if err := c.client.XAck(ctx, stream, c.opts.Group, m.ID).Err(); err != nil {
			c.log.Error().Err(err).Str("stream", stream).Str("id", m.ID).Msg("Failed to ack message")
			held[msg.Key] = struct{}{}
		}
	}
	return handled
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
