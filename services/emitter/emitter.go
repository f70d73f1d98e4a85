package emitter

import (
	"context"
	"encoding/json"

	"sjsage522/autoadworker/internal/crawler"
	apperrors "sjsage522/autoadworker/pkg/errors"
	"sjsage522/autoadworker/services/publisher"
)

const source = "emitter"

// BusEmitter serializes crawl output to JSON and publishes it
type BusEmitter struct {
	pub            publisher.Publisher
	listingTopic   string
	activeIDsTopic string
}

// NewBusEmitter creates an emitter publishing to the two crawl topics
func NewBusEmitter(pub publisher.Publisher, listingTopic, activeIDsTopic string) *BusEmitter {
	return &BusEmitter{
		pub:            pub,
		listingTopic:   listingTopic,
		activeIDsTopic: activeIDsTopic,
	}
}

// EmitListing publishes a listing keyed by its source ad id
func (e *BusEmitter) EmitListing(ctx context.Context, record crawler.ListingRecord) error {
	if record.ImageURLs == nil {
		record.ImageURLs = []string{}
	}
	return e.publish(ctx, e.listingTopic, record.SourceAdID, record)
}

// EmitActiveIDs publishes an active id set keyed by manufacturer name
func (e *BusEmitter) EmitActiveIDs(ctx context.Context, set crawler.ActiveIDSet) error {
	if set.AdIDs == nil {
		set.AdIDs = []string{}
	}
	return e.publish(ctx, e.activeIDsTopic, set.ManufacturerName, set)
}

func (e *BusEmitter) publish(ctx context.Context, topic, key string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewPublish(source, "context done before publish", err)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return apperrors.NewPublish(source, "failed to marshal "+topic+" payload", err)
	}

	if err := e.pub.Publish(topic, key, payload); err != nil {
		return apperrors.NewPublish(source, "failed to publish to "+topic, err)
	}
	return nil
}
