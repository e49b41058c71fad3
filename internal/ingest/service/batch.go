package service

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	ingestdomain "github.com/smallbiznis/coinpulse/internal/ingest/domain"
	obslogger "github.com/smallbiznis/coinpulse/internal/observability/logger"
	"github.com/smallbiznis/coinpulse/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RecordEvents records every item on its own. Items run with bounded
// concurrency and per-machine aggregate writes stay serialized by the
// machine lock. Items are reported in input order.
func (s *Service) RecordEvents(ctx context.Context, reqs []ingestdomain.RecordEventRequest) (res *ingestdomain.BatchResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.RecordEvents", attribute.Int("batch.size", len(reqs)))
	defer func() { tracing.EndSpan(span, err) }()

	if len(reqs) == 0 || len(reqs) > s.batchMaxItems {
		return nil, ingestdomain.ErrInvalidBatch
	}

	items := make([]ingestdomain.BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i := range reqs {
		g.Go(func() error {
			result, err := s.RecordEvent(ctx, reqs[i])
			items[i] = batchItem(i, result, err)
			return nil
		})
	}
	_ = g.Wait()

	res = &ingestdomain.BatchResult{
		BatchID: ulid.Make().String(),
		Items:   items,
	}
	for _, item := range items {
		if item.Status == ingestdomain.ItemSucceeded {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	obslogger.WithContext(ctx, s.log).Info("event batch recorded",
		zap.String("batch_id", res.BatchID),
		zap.Int("items", len(items)),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func batchItem(index int, result *ingestdomain.RecordEventResult, err error) ingestdomain.BatchItem {
	if err != nil {
		return ingestdomain.BatchItem{
			Index:  index,
			Status: ingestdomain.ItemFailed,
			Error:  &ingestdomain.ItemError{Code: ingestdomain.ErrorCode(err), Message: itemMessage(err)},
		}
	}

	item := ingestdomain.BatchItem{
		Index:     index,
		Status:    ingestdomain.ItemSucceeded,
		EventID:   result.Event.ID.String(),
		Processed: result.Event.Processed,
	}
	if result.Warning != nil {
		item.Error = &ingestdomain.ItemError{Code: result.Warning.Code, Message: result.Warning.Message()}
	}
	return item
}

// itemMessage hides internal error text from clients.
func itemMessage(err error) string {
	code := ingestdomain.ErrorCode(err)
	if code == "internal_error" {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "request cancelled"
		}
		return "internal error"
	}
	return code
}
