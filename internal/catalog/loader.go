package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"sjsage522/autoadworker/logger"
	apperrors "sjsage522/autoadworker/pkg/errors"
	"sjsage522/autoadworker/services/cache"
)

const cacheKey = "autoadworker:makes"

// MakeSource lists manufacturer names already present in storage
type MakeSource interface {
	DistinctMakes(ctx context.Context, limit int) ([]string, error)
}

// CacheInfo describes the loader's current cache entry
type CacheInfo struct {
	Count int           `json:"count"`
	Valid bool          `json:"valid"`
	TTL   time.Duration `json:"ttl"`
	Age   time.Duration `json:"age"`
}

type cacheEntry struct {
	Makes    []string  `json:"makes"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Loader resolves the ordered manufacturer list for a crawl run. The list is
// kept in memory and mirrored to a shared cache so workers started within
// the TTL do not hit the database.
type Loader struct {
	source   MakeSource
	cache    cache.CacheService
	ttl      time.Duration
	maxMakes int
	log      *logger.Logger
	now      func() time.Time

	mu    sync.Mutex
	entry cacheEntry
}

// NewLoader creates a loader. cacheSvc may be nil.
func NewLoader(source MakeSource, cacheSvc cache.CacheService, ttl time.Duration, maxMakes int) *Loader {
	return &Loader{
		source:   source,
		cache:    cacheSvc,
		ttl:      ttl,
		maxMakes: maxMakes,
		log:      logger.ForCatalog(),
		now:      time.Now,
	}
}

// GetMakes returns the manufacturer list, reloading it from storage when the
// cache is stale or forceReload is set
func (l *Loader) GetMakes(ctx context.Context, forceReload bool) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !forceReload {
		if l.valid(l.entry) {
			return copyOf(l.entry.Makes), nil
		}
		if entry, ok := l.fromSharedCache(); ok {
			l.entry = entry
			l.log.Debug().Int("count", len(entry.Makes)).Msg("Loaded makes from shared cache")
			return copyOf(entry.Makes), nil
		}
	}

	names, err := l.source.DistinctMakes(ctx, l.maxMakes)
	if err != nil {
		if l.valid(l.entry) {
			l.log.Warn().Err(err).Msg("Make reload failed, serving cached list")
			return copyOf(l.entry.Makes), nil
		}
		if entry, ok := l.fromSharedCache(); ok {
			l.entry = entry
			l.log.Warn().Err(err).Msg("Make reload failed, serving shared cache")
			return copyOf(entry.Makes), nil
		}
		return nil, apperrors.NewCatalogUnavailable("failed to load makes from storage", err)
	}

	makes := normalize(names, l.maxMakes)
	if len(makes) == 0 {
		return nil, apperrors.NewCatalogUnavailable("no makes found in storage", nil)
	}

	l.entry = cacheEntry{Makes: makes, LoadedAt: l.now()}
	l.storeSharedCache(l.entry)

	l.log.Info().Int("count", len(makes)).Bool("forced", forceReload).Msg("Loaded makes from storage")
	return copyOf(makes), nil
}

// Refresh reloads the list from storage unconditionally
func (l *Loader) Refresh(ctx context.Context) ([]string, error) {
	return l.GetMakes(ctx, true)
}

// CacheInfo reports on the in-memory entry
func (l *Loader) CacheInfo() CacheInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := CacheInfo{
		Count: len(l.entry.Makes),
		Valid: l.valid(l.entry),
		TTL:   l.ttl,
	}
	if !l.entry.LoadedAt.IsZero() {
		info.Age = l.now().Sub(l.entry.LoadedAt)
	}
	return info
}

func (l *Loader) valid(e cacheEntry) bool {
	return len(e.Makes) > 0 && l.now().Sub(e.LoadedAt) < l.ttl
}

func (l *Loader) fromSharedCache() (cacheEntry, bool) {
	if l.cache == nil {
		return cacheEntry{}, false
	}

	data, err := l.cache.Get(cacheKey)
	if err != nil {
		return cacheEntry{}, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		l.log.Warn().Err(err).Msg("Dropping unreadable cache entry")
		if err := l.cache.Delete(cacheKey); err != nil {
			l.log.Warn().Err(err).Msg("Failed to delete cache entry")
		}
		return cacheEntry{}, false
	}
	if !l.valid(entry) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (l *Loader) storeSharedCache(entry cacheEntry) {
	if l.cache == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := l.cache.Set(cacheKey, data, l.ttl); err != nil {
		l.log.Warn().Err(err).Msg("Failed to write makes to shared cache")
	}
}

// normalize lower-cases and trims names, drops empties and duplicates
// keeping first-seen order, and caps the result
func normalize(names []string, limit int) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func copyOf(s []string) []string {
	return append([]string(nil), s...)
}
