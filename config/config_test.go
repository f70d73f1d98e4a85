package config

import (
	"testing"
	"time"

	apperrors "sjsage522/autoadworker/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	config := LoadConfig()
	assert.Equal(t, ModeCrawler, config.Mode)
	assert.Equal(t, "localhost:6379", config.RedisAddr)
	assert.Equal(t, 0, config.RedisDB)
	assert.Equal(t, 1, config.RedisStreamCount)
	assert.Equal(t, "localhost:11211", config.MemcacheAddr)
	assert.Equal(t, "listing-records", config.TopicListings)
	assert.Equal(t, "active-id-sets", config.TopicActiveIDs)
	assert.Equal(t, 3, config.Consecutive403Limit)
	assert.Equal(t, 300*time.Second, config.PauseDuration)
	assert.Equal(t, 5*time.Second, config.GraphQLRetryDelay)
	assert.Equal(t, 3, config.GraphQLMaxRetries)
	assert.Equal(t, 50, config.PageSize)
	assert.Equal(t, 10, config.ConcurrentRequests)
	assert.Equal(t, 180*time.Second, config.RequestTimeout)
	assert.Equal(t, []int{500, 502, 503, 504, 408, 429}, config.RetryHTTPCodes)
	assert.Equal(t, time.Hour, config.MakeCacheTTL)
	assert.Equal(t, 1000, config.MaxMakes)
	assert.Equal(t, time.Duration(0), config.CrawlInterval)
	assert.Equal(t, 30*time.Second, config.ConsumerRetry)
	assert.Equal(t, 5*time.Minute, config.ConsumerClaimIdle)
	assert.NoError(t, config.Validate())

	// Test with environment variables
	t.Setenv("WORKER_MODE", "status")
	t.Setenv("REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("REDIS_DB", "1")
	t.Setenv("REDIS_STREAM_COUNT", "4")
	t.Setenv("MEMCACHE_ADDR", "memcache.example.com:11211")
	t.Setenv("CONSECUTIVE_403_LIMIT", "5")
	t.Setenv("PAUSE_DURATION_SECONDS", "60")
	t.Setenv("RETRY_HTTP_CODES", "502, 503")
	t.Setenv("REQUEST_RPS", "2.5")
	t.Setenv("CRAWL_INTERVAL_SECONDS", "30")

	config = LoadConfig()
	assert.Equal(t, ModeStatus, config.Mode)
	assert.Equal(t, "redis.example.com:6379", config.RedisAddr)
	assert.Equal(t, 1, config.RedisDB)
	assert.Equal(t, 4, config.RedisStreamCount)
	assert.Equal(t, "memcache.example.com:11211", config.MemcacheAddr)
	assert.Equal(t, 5, config.Consecutive403Limit)
	assert.Equal(t, 60*time.Second, config.PauseDuration)
	assert.Equal(t, []int{502, 503}, config.RetryHTTPCodes)
	assert.Equal(t, 2.5, config.RequestRPS)
	assert.Equal(t, 30*time.Second, config.CrawlInterval)
}

func TestLoadConfigFallsBackOnGarbage(t *testing.T) {
	t.Setenv("PAGE_SIZE", "fifty")
	t.Setenv("RETRY_HTTP_CODES", "500,abc")

	config := LoadConfig()
	assert.Equal(t, 50, config.PageSize)
	assert.Equal(t, []int{500, 502, 503, 504, 408, 429}, config.RetryHTTPCodes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "api" }},
		{"empty redis", func(c *Config) { c.RedisAddr = "" }},
		{"empty database", func(c *Config) { c.DatabaseURL = "" }},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"zero 403 limit", func(c *Config) { c.Consecutive403Limit = 0 }},
		{"zero concurrency", func(c *Config) { c.ConcurrentRequests = 0 }},
		{"zero max makes", func(c *Config) { c.MaxMakes = 0 }},
		{"negative max makes", func(c *Config) { c.MaxMakes = -5 }},
		{"403 as retry code", func(c *Config) { c.RetryHTTPCodes = []int{500, 403} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := LoadConfig()
			tt.mutate(config)
			err := config.Validate()
			assert.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
		})
	}
}
