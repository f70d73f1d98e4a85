package crawler

import (
	"context"
	"time"
)

// ListingRecord represents one scraped classified ad
type ListingRecord struct {
	SourceAdID       string    `json:"source_ad_id"`
	URL              string    `json:"url"`
	SourceName       string    `json:"source_name"`
	CountryCode      string    `json:"country_code"`
	ScrapedAt        time.Time `json:"scraped_at"`
	Title            string    `json:"title,omitempty"`
	Description      string    `json:"description,omitempty"`
	PostedOnSourceAt string    `json:"posted_on_source_at,omitempty"`
	Price            *int64    `json:"price"`
	Currency         string    `json:"currency,omitempty"`
	Make             string    `json:"make,omitempty"`
	Model            string    `json:"model,omitempty"`
	Version          string    `json:"version,omitempty"`
	Generation       string    `json:"generation,omitempty"`
	Year             *int      `json:"year"`
	Mileage          *int      `json:"mileage"`
	FuelType         string    `json:"fuel_type,omitempty"`
	EngineCapacity   *int      `json:"engine_capacity_cm3"`
	EnginePower      *int      `json:"engine_power_hp"`
	Gearbox          string    `json:"gearbox,omitempty"`
	Transmission     string    `json:"transmission,omitempty"`
	Color            string    `json:"color,omitempty"`
	City             string    `json:"city,omitempty"`
	Region           string    `json:"region,omitempty"`
	SellerLink       string    `json:"seller_link,omitempty"`
	ImageURLs        []string  `json:"image_urls"`
}

// ActiveIDSet is the complete set of ad ids seen for one manufacturer in one pass
type ActiveIDSet struct {
	SourceName       string   `json:"source_name"`
	ManufacturerName string   `json:"manufacturer_name"`
	AdIDs            []string `json:"ad_ids"`
}

// Request is a pending upstream fetch
type Request struct {
	Make       string
	Page       int
	URL        string
	Initial    bool
	RetryCount int
	// Generation identifies the manufacturer attempt the request belongs to
	Generation int
	// Delay is how long the engine waits before dispatching the request
	Delay time.Duration
}

// Step is what a state machine transition asks the engine to do next
type Step struct {
	Requests    []Request
	Records     []ListingRecord
	Completed   []ActiveIDSet
	ResumeAfter time.Duration
	Finished    bool
}

func (s *Step) merge(other Step) {
	s.Requests = append(s.Requests, other.Requests...)
	s.Records = append(s.Records, other.Records...)
	s.Completed = append(s.Completed, other.Completed...)
	if other.ResumeAfter > 0 {
		s.ResumeAfter = other.ResumeAfter
	}
	s.Finished = s.Finished || other.Finished
}

// Emitter publishes crawl output onto the bus
type Emitter interface {
	// EmitListing publishes a listing keyed by its source ad id
	EmitListing(ctx context.Context, record ListingRecord) error

	// EmitActiveIDs publishes the active id set of a finished manufacturer
	EmitActiveIDs(ctx context.Context, set ActiveIDSet) error
}

// Recorder receives crawl counters as they change
type Recorder interface {
	RecordError(kind string)
	RecordPage()
	RecordListings(n int)
	RecordMakeCompleted()
}

type nopRecorder struct{}

func (nopRecorder) RecordError(string)   {}
func (nopRecorder) RecordPage()          {}
func (nopRecorder) RecordListings(int)   {}
func (nopRecorder) RecordMakeCompleted() {}
