package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"sjsage522/autoadworker/internal/store"
)

// fakeRepo is an in-memory stand-in for the Postgres store
type fakeRepo struct {
	mu      sync.Mutex
	ads     map[string]*fakeAd
	history []store.HistoryEntry
	err     error
	// hideOnce makes the next GetAdPrice miss, simulating a racing insert
	hideOnce bool
}

type fakeAd struct {
	ad     store.Ad
	soldAt *time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{ads: map[string]*fakeAd{}}
}

func (r *fakeRepo) GetAdPrice(ctx context.Context, id string) (*store.AdPrice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.hideOnce {
		r.hideOnce = false
		return nil, nil
	}
	a, ok := r.ads[id]
	if !ok {
		return nil, nil
	}
	return &store.AdPrice{Price: a.ad.Price, CurrencyCode: a.ad.CurrencyCode}, nil
}

func (r *fakeRepo) CreateAd(ctx context.Context, ad store.Ad, history store.HistoryEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.ads[ad.ID]; ok {
		return false, nil
	}
	r.ads[ad.ID] = &fakeAd{ad: ad}
	history.AdID = ad.ID
	r.history = append(r.history, history)
	return true, nil
}

func (r *fakeRepo) UpdateAd(ctx context.Context, ad store.Ad, history *store.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	a := r.ads[ad.ID]
	if ad.Price != nil {
		a.ad.Price = ad.Price
	}
	if ad.CurrencyCode != nil {
		a.ad.CurrencyCode = ad.CurrencyCode
	}
	if ad.Title != nil {
		a.ad.Title = ad.Title
	}
	if history != nil {
		h := *history
		h.AdID = ad.ID
		r.history = append(r.history, h)
	}
	return nil
}

func (r *fakeRepo) ActiveAdIDs(ctx context.Context, sourceName, makeName string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var ids []string
	for id, a := range r.ads {
		if a.soldAt != nil || a.ad.SourceName == nil || *a.ad.SourceName != sourceName {
			continue
		}
		if a.ad.MakeName != nil && strings.Contains(strings.ToLower(*a.ad.MakeName), strings.ToLower(makeName)) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeRepo) MarkSold(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	a, ok := r.ads[id]
	if !ok || a.soldAt != nil {
		return false, nil
	}
	a.soldAt = &at
	r.history = append(r.history, store.HistoryEntry{
		AdID:         id,
		Timestamp:    at,
		Price:        a.ad.Price,
		CurrencyCode: a.ad.CurrencyCode,
		Status:       store.StatusSold,
	})
	return true, nil
}

func (r *fakeRepo) historyFor(id string) []store.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.HistoryEntry
	for _, h := range r.history {
		if h.AdID == id {
			out = append(out, h)
		}
	}
	return out
}

type countingRecorder struct {
	results map[string]int
	sold    int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{results: map[string]int{}}
}

func (c *countingRecorder) IngestAd(result string) { c.results[result]++ }
func (c *countingRecorder) StatusSold(n int)       { c.sold += n }
