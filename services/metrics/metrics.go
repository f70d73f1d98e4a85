package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus counters
type Metrics struct {
	registry *prometheus.Registry

	crawlerErrors  *prometheus.CounterVec
	crawlerPages   prometheus.Counter
	crawlerListing prometheus.Counter
	makesCompleted prometheus.Counter
	ingestAds      *prometheus.CounterVec
	statusSold     prometheus.Counter
}

// New registers all counters on a fresh registry
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers all counters on reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		crawlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Crawl errors by kind.",
		}, []string{"kind"}),
		crawlerPages: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Search result pages parsed.",
		}),
		crawlerListing: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_listings_total",
			Help: "Listings parsed from search results.",
		}),
		makesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "crawler_makes_completed_total",
			Help: "Manufacturers whose crawl completed.",
		}),
		ingestAds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_ads_total",
			Help: "Listings ingested by outcome.",
		}, []string{"result"}),
		statusSold: f.NewCounter(prometheus.CounterOpts{
			Name: "status_ads_sold_total",
			Help: "Ads marked sold by the status consumer.",
		}),
	}
}

// RecordError counts one crawl failure under its kind label
func (m *Metrics) RecordError(kind string) { m.crawlerErrors.WithLabelValues(kind).Inc() }

// RecordPage counts one search page processed
func (m *Metrics) RecordPage() { m.crawlerPages.Inc() }

// RecordListings counts listing records emitted from a page
func (m *Metrics) RecordListings(n int) { m.crawlerListing.Add(float64(n)) }

// RecordMakeCompleted counts a manufacturer whose active id set was emitted
func (m *Metrics) RecordMakeCompleted() { m.makesCompleted.Inc() }

// IngestAd counts one ingestion outcome (created, updated, price_changed, skipped)
func (m *Metrics) IngestAd(result string) { m.ingestAds.WithLabelValues(result).Inc() }

// StatusSold counts ads transitioned to sold
func (m *Metrics) StatusSold(n int) { m.statusSold.Add(float64(n)) }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
