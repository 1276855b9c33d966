package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eshaffer321/charter-reconcile/internal/domain/model"
	"github.com/eshaffer321/charter-reconcile/internal/domain/normalizer"
)

// IngestResult counts what happened to each raw row
type IngestResult struct {
	Saved       int      `json:"saved"`
	Skipped     int      `json:"skipped"` // Already ingested (same source and external id)
	Quarantined int      `json:"quarantined"`
	RecordIDs   []string `json:"record_ids,omitempty"`
}

// Ingest normalizes and stores raw rows. Malformed rows are quarantined
// with the offending field; they never stop the rest of the input.
func (s *Service) Ingest(ctx context.Context, raws []normalizer.RawRecord) (*IngestResult, error) {
	result := &IngestResult{}

	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		rec, err := s.normalizer.Normalize(raw)
		if err != nil {
			var malformed *model.MalformedRecordError
			if !errors.As(err, &malformed) {
				return result, fmt.Errorf("row %d: %w", i+1, err)
			}
			if err := s.quarantine(ctx, raw, malformed); err != nil {
				return result, err
			}
			result.Quarantined++
			continue
		}

		saved, err := s.repo.SaveRecord(ctx, &rec)
		if err != nil {
			return result, fmt.Errorf("failed to save row %d: %w", i+1, err)
		}
		if !saved {
			s.logger.Debug("Skipping already ingested record",
				"source", rec.Source,
				"external_id", rec.ExternalID,
			)
			result.Skipped++
			continue
		}
		result.Saved++
		result.RecordIDs = append(result.RecordIDs, rec.ID)
	}

	s.logger.Info("Ingested records",
		"saved", result.Saved,
		"skipped", result.Skipped,
		"quarantined", result.Quarantined,
	)
	return result, nil
}

func (s *Service) quarantine(ctx context.Context, raw normalizer.RawRecord, cause *model.MalformedRecordError) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode quarantined row: %w", err)
	}

	s.logger.Warn("Quarantining malformed record",
		"source", raw.Source,
		"field", cause.Field,
		"reason", cause.Reason,
	)
	return s.repo.QuarantineRecord(ctx, &model.QuarantinedRecord{
		Source:        raw.Source,
		RawJSON:       string(data),
		Field:         cause.Field,
		Reason:        cause.Reason,
		QuarantinedAt: s.now().UTC(),
	})
}

// ListQuarantined returns the most recent quarantined rows
func (s *Service) ListQuarantined(ctx context.Context, limit int) ([]model.QuarantinedRecord, error) {
	return s.repo.ListQuarantined(ctx, limit)
}
