package worker

import (
	"context"
	"time"

	"sjsage522/autoadworker/logger"
	"sjsage522/autoadworker/services/publisher"
)

// Catalog supplies the manufacturers to crawl
type Catalog interface {
	GetMakes(ctx context.Context, forceReload bool) ([]string, error)
}

// CrawlFunc crawls every manufacturer in makes and returns once all output is emitted
type CrawlFunc func(ctx context.Context, makes []string) error

// Worker handles the crawling and publishing process
type Worker struct {
	ctx           context.Context
	catalog       Catalog
	crawl         CrawlFunc
	publisher     publisher.Publisher
	crawlInterval time.Duration
	log           *logger.Logger
}

// NewWorker creates a new worker
func NewWorker(
	ctx context.Context,
	catalog Catalog,
	crawl CrawlFunc,
	pub publisher.Publisher,
	crawlInterval time.Duration,
) *Worker {
	return &Worker{
		ctx:           ctx,
		catalog:       catalog,
		crawl:         crawl,
		publisher:     pub,
		crawlInterval: crawlInterval,
		log:           logger.ForWorker(),
	}
}

// Start runs crawls until the context is cancelled. With a zero interval it
// runs once and returns that run's error.
func (w *Worker) Start() error {
	for {
		err := w.RunOnce()
		if w.crawlInterval <= 0 {
			return err
		}
		if err != nil {
			w.log.Error().Err(err).Msg("Crawl run failed")
		}

		select {
		case <-w.ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return nil
		case <-time.After(w.crawlInterval):
		}
	}
}

// RunOnce loads the catalog, crawls it and then trims the streams
func (w *Worker) RunOnce() error {
	start := time.Now()

	makes, err := w.catalog.GetMakes(w.ctx, false)
	if err != nil {
		return err
	}
	w.log.Info().Int("makes", len(makes)).Msg("Starting crawl run")

	crawlErr := w.crawl(w.ctx, makes)

	// Trim all streams after crawling
	if err := w.publisher.TrimStreams(); err != nil {
		w.log.Error().Err(err).Msg("Failed to trim streams")
	}

	w.log.Info().
		Dur("elapsed", time.Since(start)).
		Bool("ok", crawlErr == nil).
		Msg("Crawl run finished")
	return crawlErr
}
