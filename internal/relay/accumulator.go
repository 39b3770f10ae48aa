package relay

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/search"
)

// Accumulator builds one BulkRequest per poll batch, preserving record
// order. Malformed records are dropped (config.MalformedSkip) or abort the
// batch (config.MalformedFail).
type Accumulator struct {
	mapper  *Mapper
	policy  string
	metrics *metrics.Metrics
}

func NewAccumulator(mapper *Mapper, policy string, m *metrics.Metrics) *Accumulator {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Accumulator{mapper: mapper, policy: policy, metrics: m}
}

func (a *Accumulator) Build(ctx context.Context, batch []kafka.Record) (BulkRequest, error) {
	req := BulkRequest{Operations: make([]search.Operation, 0, len(batch))}
	for _, rec := range batch {
		op, err := a.mapper.Map(rec)
		if err != nil {
			if a.policy == config.MalformedFail {
				return BulkRequest{}, err
			}
			logger.FromContext(ctx).Warn("skipping malformed record",
				"component", "accumulator",
				"topic", rec.Topic,
				"partition", rec.Partition,
				"offset", rec.Offset,
				"error", err,
			)
			a.metrics.RecordsMalformed.Inc()
			req.Skipped++
			continue
		}
		req.Operations = append(req.Operations, op)
	}
	return req, nil
}
