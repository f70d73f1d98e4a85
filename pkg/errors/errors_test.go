package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCrawlerErrorMessage(t *testing.T) {
	err := NewTransport("otomoto.pl", "fetch failed", stderrors.New("connection reset"))
	assert.Equal(t, "[transport] otomoto.pl: fetch failed - connection reset", err.Error())

	err = NewValidation("ingest", "missing source_ad_id")
	assert.Equal(t, "[validation] ingest: missing source_ad_id", err.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       *CrawlerError
		retryable bool
	}{
		{NewTransport("s", "m", nil), true},
		{NewGraphQLTransient("s", "Internal Error"), true},
		{NewForbidden("s", "https://example.com"), false},
		{NewGraphQLFatal("s", "Syntax Error"), false},
		{NewDecode("s", "bad json", nil), false},
		{NewPublish("s", "down", nil), false},
		{NewStorage("s", "insert failed", nil), true},
		{NewValidation("s", "missing id"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.retryable, tt.err.IsRetryable(), string(tt.err.Type))
	}
}

func TestIsRetryableFunc(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(stderrors.New("connection refused")))
	assert.True(t, IsRetryable(fmt.Errorf("store: %w", NewStorage("s", "update failed", nil))))
	assert.False(t, IsRetryable(fmt.Errorf("ingest: %w", NewDecode("s", "bad json", nil))))
}

func TestIsTypeThroughWrapping(t *testing.T) {
	base := NewCatalogUnavailable("no makes", stderrors.New("db down"))
	wrapped := fmt.Errorf("crawl run: %w", base)

	assert.True(t, IsType(wrapped, ErrorTypeCatalogUnavailable))
	assert.False(t, IsType(wrapped, ErrorTypePublish))
	assert.False(t, IsType(stderrors.New("plain"), ErrorTypeCatalogUnavailable))
	assert.ErrorContains(t, stderrors.Unwrap(base), "db down")
}
