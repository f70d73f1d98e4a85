package publisher

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T, streamCount, maxLen int) (*RedisPublisher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { reader.Close() })

	p := NewRedisPublisherWithClient(context.Background(), client, []string{"listing-records", "active-id-sets"}, streamCount, maxLen)
	t.Cleanup(func() { p.Close() })
	return p, reader
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()
	p, reader := newTestPublisher(t, 1, 100)

	err := p.Publish("listing-records", "111", []byte(`{"source_ad_id":"111"}`))
	require.NoError(t, err)

	msgs, err := reader.XRange(ctx, "listing-records:0", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "111", msgs[0].Values[FieldKey])
	assert.Equal(t, `{"source_ad_id":"111"}`, msgs[0].Values[FieldPayload])
}

func TestSameKeySameStream(t *testing.T) {
	ctx := context.Background()
	p, reader := newTestPublisher(t, 4, 100)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish("listing-records", "audi-1", []byte(strconv.Itoa(i))))
	}

	stream := StreamName("listing-records", "audi-1", 4)
	msgs, err := reader.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, strconv.Itoa(i), m.Values[FieldPayload])
	}
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "t:0", StreamName("t", "anything", 1))
	assert.Equal(t, "t:0", StreamName("t", "anything", 0))

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		name := StreamName("t", strconv.Itoa(i), 3)
		assert.Contains(t, StreamNames("t", 3), name)
		seen[name] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, StreamName("t", "bmw", 3), StreamName("t", "bmw", 3))
}

func TestTrimStreams(t *testing.T) {
	ctx := context.Background()
	p, reader := newTestPublisher(t, 1, 3)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Publish("listing-records", strconv.Itoa(i), []byte("{}")))
	}
	require.NoError(t, p.Publish("active-id-sets", "audi", []byte("{}")))

	require.NoError(t, p.TrimStreams())

	n, err := reader.XLen(ctx, "listing-records:0").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = reader.XLen(ctx, "active-id-sets:0").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTrimStreamsOnlyTouchesShards(t *testing.T) {
	ctx := context.Background()
	p, reader := newTestPublisher(t, 2, 1)

	require.NoError(t, reader.Set(ctx, "listing-records:lock", "1", 0).Err())
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Publish("listing-records", strconv.Itoa(i), []byte("{}")))
	}

	require.NoError(t, p.TrimStreams())

	for _, stream := range StreamNames("listing-records", 2) {
		n, err := reader.XLen(ctx, stream).Result()
		require.NoError(t, err)
		assert.LessOrEqual(t, n, int64(1))
	}
	v, err := reader.Get(ctx, "listing-records:lock").Result()
	require.NoError(t, err)
	assert.Equal(t, "1", v)
}

func TestPublishFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	p := NewRedisPublisherWithClient(context.Background(), client, []string{"t"}, 1, 10)
	defer p.Close()

	mr.Close()
	assert.Error(t, p.Publish("t", "k", []byte("{}")))
}
