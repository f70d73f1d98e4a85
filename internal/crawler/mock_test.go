package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"sjsage522/autoadworker/helpers"
)

const testPageSize = 50

func testConfig() MachineConfig {
	return MachineConfig{
		SourceName:          "otomoto.pl",
		CountryCode:         "PL",
		Consecutive403Limit: 3,
		PauseDuration:       300 * time.Second,
		GraphQLRetryDelay:   5 * time.Second,
		GraphQLMaxRetries:   3,
	}
}

func newTestMachine(makes ...string) *Machine {
	return NewMachine(testConfig(), makes, NewQueryBuilder("", testPageSize), nil)
}

// searchBody builds an advertSearch response with one edge per id
func searchBody(total int, ids ...string) []byte {
	edges := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		edges = append(edges, map[string]interface{}{
			"node": map[string]interface{}{
				"id":    id,
				"url":   "https://www.otomoto.pl/osobowe/oferta/" + id + ".html",
				"title": "Ad " + id,
				"price": map[string]interface{}{
					"amount": map[string]interface{}{"units": 10000, "currencyCode": "PLN"},
				},
			},
		})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"data": map[string]interface{}{
			"advertSearch": map[string]interface{}{
				"totalCount": total,
				"edges":      edges,
			},
		},
	})
	return body
}

func errorsBody(messages ...string) []byte {
	errs := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		errs = append(errs, map[string]string{"message": m})
	}
	body, _ := json.Marshal(map[string]interface{}{"errors": errs})
	return body
}

func okResponse(body []byte) *helpers.Response {
	return &helpers.Response{StatusCode: http.StatusOK, Body: body}
}

func statusResponse(code int) *helpers.Response {
	return &helpers.Response{StatusCode: code}
}

// decodeQuery extracts the manufacturer and page from a built request URL
func decodeQuery(t *testing.T, rawURL string) (string, int) {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("bad url %q: %v", rawURL, err)
	}
	var vars listingVariables
	if err := json.Unmarshal([]byte(u.Query().Get("variables")), &vars); err != nil {
		t.Fatalf("bad variables in %q: %v", rawURL, err)
	}

	manufacturer := ""
	for _, f := range vars.Filters {
		if f.Name == makeFilterName {
			manufacturer = f.Value
		}
	}
	return manufacturer, vars.Page
}

func pageIDs(manufacturer string, page, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("%s-%d-%d", manufacturer, page, i))
	}
	return ids
}

// MockFetcher answers requests through a handler keyed by manufacturer and page
type MockFetcher struct {
	t       *testing.T
	mu      sync.Mutex
	handler func(manufacturer string, page int) (*helpers.Response, error)
	calls   map[string]int

	inFlight    int
	maxInFlight int
}

func NewMockFetcher(t *testing.T, handler func(manufacturer string, page int) (*helpers.Response, error)) *MockFetcher {
	return &MockFetcher{t: t, handler: handler, calls: make(map[string]int)}
}

func (f *MockFetcher) Fetch(ctx context.Context, rawURL string) (*helpers.Response, error) {
	manufacturer, page := decodeQuery(f.t, rawURL)

	f.mu.Lock()
	f.calls[fmt.Sprintf("%s/%d", manufacturer, page)]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	// give other fetches a chance to overlap
	time.Sleep(time.Millisecond)

	resp, err := f.handler(manufacturer, page)
	if resp != nil {
		resp.URL = rawURL
	}
	return resp, err
}

func (f *MockFetcher) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *MockFetcher) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// MockEmitter records everything emitted, in order
type MockEmitter struct {
	mu           sync.Mutex
	events       []string
	listings     []ListingRecord
	sets         []ActiveIDSet
	failListings bool
}

func (e *MockEmitter) EmitListing(ctx context.Context, record ListingRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failListings {
		return errors.New("bus unavailable")
	}
	e.events = append(e.events, "listing:"+record.SourceAdID)
	e.listings = append(e.listings, record)
	return nil
}

func (e *MockEmitter) EmitActiveIDs(ctx context.Context, set ActiveIDSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "ids:"+set.ManufacturerName)
	e.sets = append(e.sets, set)
	return nil
}

func (e *MockEmitter) Sets() []ActiveIDSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ActiveIDSet(nil), e.sets...)
}

func (e *MockEmitter) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// countingRecorder counts Recorder calls
type countingRecorder struct {
	errors   map[string]int
	pages    int
	listings int
	makes    int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{errors: make(map[string]int)}
}

func (r *countingRecorder) RecordError(kind string) { r.errors[kind]++ }
func (r *countingRecorder) RecordPage()             { r.pages++ }
func (r *countingRecorder) RecordListings(n int)    { r.listings += n }
func (r *countingRecorder) RecordMakeCompleted()    { r.makes++ }
