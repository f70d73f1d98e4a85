package ingest

import (
	"context"
	"encoding/json"
	"time"

	"sjsage522/autoadworker/internal/crawler"
	"sjsage522/autoadworker/internal/store"
	"sjsage522/autoadworker/logger"
	apperrors "sjsage522/autoadworker/pkg/errors"
)

// Ingestion outcomes
const (
	ResultCreated      = "created"
	ResultUpdated      = "updated"
	ResultPriceChanged = "price_changed"
	ResultSkipped      = "skipped"
)

// Repository is the storage the listing processor writes to
type Repository interface {
	GetAdPrice(ctx context.Context, id string) (*store.AdPrice, error)
	CreateAd(ctx context.Context, ad store.Ad, history store.HistoryEntry) (bool, error)
	UpdateAd(ctx context.Context, ad store.Ad, history *store.HistoryEntry) error
}

// Recorder counts ingestion outcomes
type Recorder interface {
	IngestAd(result string)
}

type nopRecorder struct{}

func (nopRecorder) IngestAd(string) {}

// Processor turns listing records into stored ads and price history
type Processor struct {
	repo     Repository
	recorder Recorder
	log      *logger.Logger
	now      func() time.Time
}

// NewProcessor creates a listing processor. recorder may be nil.
func NewProcessor(repo Repository, recorder Recorder) *Processor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Processor{
		repo:     repo,
		recorder: recorder,
		log:      logger.ForConsumer("ingest"),
		now:      time.Now,
	}
}

// ProcessListing stores one JSON-encoded listing record and returns the outcome
func (p *Processor) ProcessListing(ctx context.Context, payload []byte) (string, error) {
	var record crawler.ListingRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		p.recorder.IngestAd(ResultSkipped)
		return ResultSkipped, apperrors.NewDecode("ingest", "invalid listing payload", err)
	}
	if record.SourceAdID == "" || record.SourceName == "" {
		p.recorder.IngestAd(ResultSkipped)
		return ResultSkipped, apperrors.NewValidation("ingest", "listing lacks source_ad_id or source_name")
	}

	result, err := p.store(ctx, record)
	if err != nil {
		return "", err
	}

	p.recorder.IngestAd(result)
	p.log.Debug().
		Str("source_ad_id", record.SourceAdID).
		Str("result", result).
		Msg("Listing ingested")
	return result, nil
}

func (p *Processor) store(ctx context.Context, record crawler.ListingRecord) (string, error) {
	existing, err := p.repo.GetAdPrice(ctx, record.SourceAdID)
	if err != nil {
		return "", err
	}

	now := p.now()
	ad := toAd(record)

	if existing == nil {
		if ad.CreatedAt == nil {
			ad.CreatedAt = &now
		}
		created, err := p.repo.CreateAd(ctx, ad, store.HistoryEntry{
			Timestamp:    now,
			Price:        ad.Price,
			CurrencyCode: ad.CurrencyCode,
			Status:       store.StatusActive,
		})
		if err != nil {
			return "", err
		}
		if created {
			p.log.Info().Str("source_ad_id", record.SourceAdID).Msg("Created ad")
			return ResultCreated, nil
		}

		// another consumer inserted it first
		existing, err = p.repo.GetAdPrice(ctx, record.SourceAdID)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", apperrors.NewStorage("ingest", "ad vanished after insert conflict", nil)
		}
	}

	return p.update(ctx, record, ad, existing, now)
}

func (p *Processor) update(ctx context.Context, record crawler.ListingRecord, ad store.Ad, existing *store.AdPrice, now time.Time) (string, error) {
	// the update path leaves identity, url and provenance columns alone
	ad.URL = nil
	ad.SourceName = nil
	ad.CarModelID = nil

	var history *store.HistoryEntry
	if priceChanged(existing.Price, ad.Price) {
		history = &store.HistoryEntry{
			Timestamp:    now,
			Price:        ad.Price,
			CurrencyCode: ad.CurrencyCode,
			Status:       store.StatusPriceChanged,
		}
		p.log.Info().
			Str("source_ad_id", record.SourceAdID).
			Interface("old_price", existing.Price).
			Int64("new_price", *ad.Price).
			Msg("Price changed")
	}

	if err := p.repo.UpdateAd(ctx, ad, history); err != nil {
		return "", err
	}
	if history != nil {
		return ResultPriceChanged, nil
	}
	return ResultUpdated, nil
}

// priceChanged reports whether an incoming price differs from the stored one.
// A missing incoming price never counts as a change.
func priceChanged(stored, incoming *int64) bool {
	if incoming == nil {
		return false
	}
	return stored == nil || *stored != *incoming
}

func toAd(r crawler.ListingRecord) store.Ad {
	ad := store.Ad{
		ID:             r.SourceAdID,
		MakeName:       optional(r.Make),
		ModelName:      optional(r.Model),
		Version:        optional(r.Version),
		Generation:     optional(r.Generation),
		Year:           r.Year,
		Title:          optional(r.Title),
		URL:            optional(r.URL),
		City:           optional(r.City),
		Region:         optional(r.Region),
		Price:          r.Price,
		CurrencyCode:   optional(r.Currency),
		FuelType:       optional(r.FuelType),
		Gearbox:        optional(r.Gearbox),
		Mileage:        r.Mileage,
		EngineCapacity: r.EngineCapacity,
		Color:          optional(r.Color),
		Transmission:   optional(r.Transmission),
		EnginePower:    r.EnginePower,
		SellerLink:     optional(r.SellerLink),
		SourceName:     optional(r.SourceName),
	}
	if t, err := time.Parse(time.RFC3339, r.PostedOnSourceAt); err == nil {
		t = t.UTC()
		ad.CreatedAt = &t
	}
	return ad
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
