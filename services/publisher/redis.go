package publisher

import (
	"context"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"sjsage522/autoadworker/logger"
)

const (
	// FieldKey holds the record key in every stream entry
	FieldKey = "key"
	// FieldPayload holds the JSON payload in every stream entry
	FieldPayload = "payload"
)

// RedisPublisher implements Publisher using Redis streams.
// A topic is split into streamCount streams named topic:0 .. topic:N-1.
type RedisPublisher struct {
	client          *redis.Client
	ctx             context.Context
	topics          []string
	streamCount     int
	streamMaxLength int
	log             *logger.Logger
}

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(ctx context.Context, addr string, db int, topics []string, streamCount int, streamMaxLength int) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return NewRedisPublisherWithClient(ctx, client, topics, streamCount, streamMaxLength)
}

// NewRedisPublisherWithClient wraps an existing client
func NewRedisPublisherWithClient(ctx context.Context, client *redis.Client, topics []string, streamCount int, streamMaxLength int) *RedisPublisher {
	if streamCount < 1 {
		streamCount = 1
	}
	return &RedisPublisher{
		client:          client,
		ctx:             ctx,
		topics:          topics,
		streamCount:     streamCount,
		streamMaxLength: streamMaxLength,
		log:             logger.ForPublisher(),
	}
}

// StreamName returns the stream a key is routed to. The same key always
// lands on the same stream, so its messages stay ordered.
func StreamName(topic, key string, streamCount int) string {
	if streamCount <= 1 {
		return topic + ":0"
	}
	return topic + ":" + strconv.FormatUint(xxhash.Sum64String(key)%uint64(streamCount), 10)
}

// StreamNames lists every shard of a topic
func StreamNames(topic string, streamCount int) []string {
	if streamCount < 1 {
		streamCount = 1
	}
	names := make([]string, streamCount)
	for i := range names {
		names[i] = topic + ":" + strconv.Itoa(i)
	}
	return names
}

// Publish publishes a message to a Redis stream
func (p *RedisPublisher) Publish(topic, key string, message []byte) error {
	return p.client.XAdd(p.ctx, &redis.XAddArgs{
		Stream: StreamName(topic, key, p.streamCount),
		Values: map[string]interface{}{
			FieldKey:     key,
			FieldPayload: string(message),
		},
	}).Err()
}

// TrimStreams trims every shard of the configured topics to the maximum
// length. Entries past the cap are dropped whether or not every consumer
// group has read them.
func (p *RedisPublisher) TrimStreams() error {
	for _, topic := range p.topics {
		for _, stream := range StreamNames(topic, p.streamCount) {
			trimmed, err := p.client.XTrimMaxLen(p.ctx, stream, int64(p.streamMaxLength)).Result()
			if err != nil {
				return err
			}
			if trimmed > 0 {
				p.log.Debug().Str("stream", stream).Int64("trimmed", trimmed).Msg("Trimmed stream")
			}
		}
	}

	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
