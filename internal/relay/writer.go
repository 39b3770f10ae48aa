package relay

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/search"
)

// maxLoggedItemErrors bounds per-item failure logs for one request.
const maxLoggedItemErrors = 10

// Writer submits a BulkRequest as one bulk call.
type Writer struct {
	client           IndexClient
	retry            resilience.RetryConfig
	failOnItemErrors bool
	metrics          *metrics.Metrics
}

func NewWriter(client IndexClient, cfg config.RelayConfig, m *metrics.Metrics) *Writer {
	if m == nil {
		m = metrics.New(nil)
	}
	attempts := cfg.WriteAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Writer{
		client: client,
		retry: resilience.RetryConfig{
			MaxAttempts:  attempts,
			InitialDelay: cfg.WriteInitialBackoff,
			MaxDelay:     cfg.WriteMaxBackoff,
			Retryable:    search.Retryable,
			OnRetry: func(int, error) {
				m.BulkRetriesTotal.Inc()
			},
		},
		failOnItemErrors: cfg.FailOnItemErrors,
		metrics:          m,
	}
}

// Write sends req and returns per-item results. An empty request makes no
// call. A transport or cluster-level failure, after the configured attempts,
// matches apperrors.ErrWrite. Rejected items are logged and counted but are
// only an error when failOnItemErrors is set.
func (w *Writer) Write(ctx context.Context, req BulkRequest) (BulkResult, error) {
	if req.Empty() {
		return BulkResult{}, nil
	}
	log := logger.FromContext(ctx).With("component", "bulk-writer")

	var items []search.ItemResult
	start := time.Now()
	err := resilience.Retry(ctx, "bulk-write", w.retry, func() error {
		var err error
		items, err = w.client.Bulk(ctx, req.Operations)
		return err
	})
	if err != nil {
		w.metrics.ObserveBulk(time.Since(start), 0, 0, err)
		return BulkResult{}, apperrors.New(apperrors.ErrWrite, "bulk-write", err)
	}

	result := BulkResult{Items: items}
	for i, item := range items {
		if !item.Failed() {
			result.Indexed++
			continue
		}
		result.Failed++
		if result.Failed <= maxLoggedItemErrors {
			attrs := []any{"position", i, "status", item.Status}
			if item.Error != nil {
				attrs = append(attrs, "error_type", item.Error.Type, "reason", item.Error.Reason)
			}
			log.Warn("bulk item rejected", attrs...)
		}
	}
	w.metrics.ObserveBulk(time.Since(start), result.Indexed, result.Failed, nil)

	if result.Failed > 0 && w.failOnItemErrors {
		return result, apperrors.Newf(apperrors.ErrWrite, "bulk-write", "%d of %d items rejected", result.Failed, len(items))
	}
	return result, nil
}
