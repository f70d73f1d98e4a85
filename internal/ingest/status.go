package ingest

import (
	"context"
	"encoding/json"
	"time"

	"sjsage522/autoadworker/internal/crawler"
	"sjsage522/autoadworker/logger"
	apperrors "sjsage522/autoadworker/pkg/errors"
)

// StatusRepository is the storage the status processor reads and updates
type StatusRepository interface {
	ActiveAdIDs(ctx context.Context, sourceName, makeName string) ([]string, error)
	MarkSold(ctx context.Context, id string, at time.Time) (bool, error)
}

// SoldRecorder counts ads marked sold
type SoldRecorder interface {
	StatusSold(n int)
}

type nopSoldRecorder struct{}

func (nopSoldRecorder) StatusSold(int) {}

// StatusReport summarizes one processed active id set
type StatusReport struct {
	Make         string
	Received     int
	StoredActive int
	Sold         int
	NewNotInDB   int
}

// StatusProcessor marks ads sold when they disappear from a manufacturer's
// active id set
type StatusProcessor struct {
	repo     StatusRepository
	recorder SoldRecorder
	log      *logger.Logger
	now      func() time.Time
}

// NewStatusProcessor creates a status processor. recorder may be nil.
func NewStatusProcessor(repo StatusRepository, recorder SoldRecorder) *StatusProcessor {
	if recorder == nil {
		recorder = nopSoldRecorder{}
	}
	return &StatusProcessor{
		repo:     repo,
		recorder: recorder,
		log:      logger.ForConsumer("status"),
		now:      time.Now,
	}
}

// ProcessActiveIDs applies one JSON-encoded active id set
func (p *StatusProcessor) ProcessActiveIDs(ctx context.Context, payload []byte) (StatusReport, error) {
	var set crawler.ActiveIDSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return StatusReport{}, apperrors.NewDecode("status", "invalid active id payload", err)
	}
	if set.SourceName == "" || set.ManufacturerName == "" {
		return StatusReport{}, apperrors.NewValidation("status", "active id set lacks source_name or manufacturer_name")
	}

	stored, err := p.repo.ActiveAdIDs(ctx, set.SourceName, set.ManufacturerName)
	if err != nil {
		return StatusReport{}, err
	}

	received := make(map[string]struct{}, len(set.AdIDs))
	for _, id := range set.AdIDs {
		received[id] = struct{}{}
	}
	storedSet := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		storedSet[id] = struct{}{}
	}

	report := StatusReport{
		Make:         set.ManufacturerName,
		Received:     len(received),
		StoredActive: len(storedSet),
	}
	for id := range received {
		if _, ok := storedSet[id]; !ok {
			report.NewNotInDB++
		}
	}

	at := p.now().UTC()
	for _, id := range stored {
		if _, ok := received[id]; ok {
			continue
		}
		sold, err := p.repo.MarkSold(ctx, id, at)
		if err != nil {
			return report, err
		}
		if sold {
			report.Sold++
		}
	}

	p.recorder.StatusSold(report.Sold)
	p.log.Info().
		Str("make", report.Make).
		Int("received", report.Received).
		Int("stored_active", report.StoredActive).
		Int("sold", report.Sold).
		Int("new_not_in_db", report.NewNotInDB).
		Msg("Active id set processed")
	return report, nil
}
