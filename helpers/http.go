package helpers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	mathrand "math/rand"
	"net/http"
	"slices"
	"time"

	"golang.org/x/net/html/charset"

	apperrors "sjsage522/autoadworker/pkg/errors"
)

// HTTP client and header configurations
var (
	userAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.109 Safari/537.36",
	}

	referers = []string{
		"https://www.google.com/",
		"https://www.otomoto.pl/",
	}
)

// Response is a fetched upstream response with the body already normalized to UTF-8
type Response struct {
	StatusCode int
	Body       []byte
	URL        string
}

// Fetcher fetches a URL. A 403 or any other non-retried status comes back as a
// Response; only network failures and exhausted retries are returned as errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// HTTPFetcher implements Fetcher with bounded transport-level retries
type HTTPFetcher struct {
	client       *http.Client
	source       string
	retryCodes   []int
	retryTimes   int
	retryBackoff time.Duration
}

// NewHTTPFetcher creates a fetcher. retryTimes is the number of extra attempts
// made for network errors and for the statuses listed in retryCodes.
func NewHTTPFetcher(source string, timeout time.Duration, retryCodes []int, retryTimes int) *HTTPFetcher {
	return &HTTPFetcher{
		client:       &http.Client{Timeout: timeout},
		source:       source,
		retryCodes:   retryCodes,
		retryTimes:   retryTimes,
		retryBackoff: time.Second,
	}
}

// SetRetryBackoff changes the wait between transport retries
func (f *HTTPFetcher) SetRetryBackoff(d time.Duration) {
	f.retryBackoff = d
}

// Fetch sends a GET with browser-like JSON headers and retries transient failures
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.retryTimes; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, apperrors.NewTransport(f.source, "fetch cancelled", ctx.Err())
			case <-time.After(f.retryBackoff):
			}
		}

		resp, err := f.do(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.NewTransport(f.source, "fetch cancelled", ctx.Err())
			}
			lastErr = err
			continue
		}

		if slices.Contains(f.retryCodes, resp.StatusCode) {
			lastErr = fmt.Errorf("fetch %s unexpected status code: %d", url, resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, apperrors.NewTransport(f.source, fmt.Sprintf("gave up after %d attempts", f.retryTimes+1), lastErr)
}

func (f *HTTPFetcher) do(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgents[mathrand.Intn(len(userAgents))])
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("referer", referers[mathrand.Intn(len(referers))])

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	body, err := toUTF8(bodyBytes, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: resp.StatusCode, Body: body, URL: url}, nil
}

// toUTF8 converts a body to UTF-8 based on the Content-Type header and body content
func toUTF8(body []byte, contentType string) ([]byte, error) {
	encoding, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || name == "UTF-8" {
		return body, nil
	}

	utf8Reader := encoding.NewDecoder().Reader(bytes.NewReader(body))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, utf8Reader); err != nil {
		return nil, fmt.Errorf("failed to read converted UTF-8 body: %w", err)
	}
	return buf.Bytes(), nil
}
