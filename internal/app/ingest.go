package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/neurogame/internal/adapters/repository"
	"github.com/okian/neurogame/internal/domain/model"
	"github.com/okian/neurogame/internal/domain/types"
	"github.com/okian/neurogame/pkg/logger"
	"github.com/okian/neurogame/pkg/metrics"
)

// SubmitRequest is one ingest call as sent by a client.
type SubmitRequest struct {
	APIKey        string
	ClientVersion string
	Events        []json.RawMessage
}

// Submit authenticates and validates a batch, then stores every accepted
// event that is not stored yet. Rejected events never fail the batch. Only
// a store failure does, in which case nothing of the batch is committed and
// the client is expected to resend it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (types.Receipt, error) {
	st, err := s.components()
	if err != nil {
		return types.Receipt{}, err
	}
	if err := s.authorize(req.APIKey); err != nil {
		metrics.RecordBatch("unauthorized")
		return types.Receipt{}, err
	}
	if len(req.Events) > s.maxBatchSize {
		metrics.RecordBatch("too_large")
		return types.Receipt{}, fmt.Errorf("%w: %d events, limit %d", ErrBatchTooLarge, len(req.Events), s.maxBatchSize)
	}
	if len(req.Events) == 0 {
		metrics.RecordBatch("empty")
		return types.Receipt{}, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return types.Receipt{}, fmt.Errorf("batch id: %w", err)
	}
	receipt := types.Receipt{BatchID: id.String(), Received: len(req.Events)}
	receivedAt := s.now().UTC()
	log := s.logger.With(logger.String("batch", receipt.BatchID))

	var (
		accepted   = make([]model.Event, 0, len(req.Events))
		rejections []types.Rejection
		cacheHits  int
	)
	for _, o := range s.validator.Validate(req.Events) {
		if !o.Accepted() {
			rejections = append(rejections, types.Rejection{
				BatchID:    receipt.BatchID,
				Index:      o.Index,
				EventID:    storableText(o.EventID),
				Reason:     o.Err.Reason,
				Detail:     storableText(o.Err.Detail),
				Raw:        clipRaw(req.Events[o.Index]),
				ReceivedAt: receivedAt,
			})
			metrics.RecordEventRejected(o.Err.Reason)
			log.Warn(ctx, "event rejected",
				logger.Int("index", o.Index),
				logger.String("eventID", o.EventID),
				logger.String("reason", o.Err.Reason),
				logger.String("detail", o.Err.Detail),
			)
			continue
		}
		if s.deduper.Seen(ctx, o.Event.EventID) {
			cacheHits++
			metrics.RecordDedupeHit()
			continue
		}
		accepted = append(accepted, o.Event)
	}

	meta := repository.BatchMeta{
		BatchID:       receipt.BatchID,
		ClientVersion: req.ClientVersion,
		APIKeyHash:    hashKey(req.APIKey),
		EventsCount:   len(req.Events),
		ReceivedAt:    receivedAt,
	}
	res, err := st.WriteBatch(ctx, meta, accepted, rejections)
	if err != nil {
		metrics.RecordBatch("unavailable")
		metrics.RecordErrorByComponent("service", "store_write")
		log.Error(ctx, "store write failed", logger.Error(err), logger.Int("events", len(accepted)))
		return types.Receipt{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	// Everything that reached the store is now committed, whether it was new or not.
	ids := make([]string, len(accepted))
	for i, e := range accepted {
		ids[i] = e.EventID
	}
	s.deduper.Record(ctx, ids...)

	receipt.Stored = res.Inserted
	receipt.Duplicates = res.Duplicates + cacheHits
	receipt.Rejected = len(rejections)

	s.counters.batches.Add(1)
	s.counters.received.Add(int64(receipt.Received))
	s.counters.stored.Add(int64(receipt.Stored))
	s.counters.duplicates.Add(int64(receipt.Duplicates))
	s.counters.rejected.Add(int64(receipt.Rejected))
	metrics.RecordBatch("ok")
	metrics.RecordEventsStored(receipt.Stored)
	metrics.RecordEventsDuplicate(receipt.Duplicates)

	log.Info(ctx, "batch ingested",
		logger.String("clientVersion", req.ClientVersion),
		logger.Int("received", receipt.Received),
		logger.Int("stored", receipt.Stored),
		logger.Int("duplicates", receipt.Duplicates),
		logger.Int("rejected", receipt.Rejected),
	)
	return receipt, nil
}
