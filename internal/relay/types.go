// Package relay moves records from a Kafka topic into a search index. A Loop
// polls a batch, maps it into one ordered bulk request, writes it, and only
// then commits the consumer position. A Coordinator stops the loop from
// another goroutine by waking the consumer and waiting for the loop to
// release its clients.
package relay

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/search"
)

// Consumer is the log-consumer side of the relay. *kafka.Consumer
// implements it.
type Consumer interface {
	Poll(ctx context.Context, timeout time.Duration) ([]kafka.Record, error)
	Commit(ctx context.Context) error
	Wakeup()
	Close() error
}

// IndexClient is the search side of the relay. *search.Client implements it.
type IndexClient interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string) error
	Bulk(ctx context.Context, ops []search.Operation) ([]search.ItemResult, error)
	Close() error
}

// ProgressReporter receives every batch after its offsets were committed.
type ProgressReporter interface {
	Report(ctx context.Context, committed []kafka.Record) error
}

// BulkRequest is the ordered set of index operations built from exactly one
// poll batch.
type BulkRequest struct {
	Operations []search.Operation
	// Skipped counts records dropped as malformed.
	Skipped int
}

// Empty reports whether the request carries no operations.
func (r BulkRequest) Empty() bool {
	return len(r.Operations) == 0
}

// BulkResult holds one item per operation in request order.
type BulkResult struct {
	Items   []search.ItemResult
	Indexed int
	Failed  int
}
