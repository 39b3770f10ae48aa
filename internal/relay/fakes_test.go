package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/search"
)

var errTransport = errors.New("connection reset by peer")

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) add(ev string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *eventLog) count(ev string) int {
	n := 0
	for _, got := range e.list() {
		if got == ev {
			n++
		}
	}
	return n
}

// fakeConsumer hands out queued batches, then either wakes itself up
// (stopWhenDrained) or idles until Wakeup or the poll timeout.
type fakeConsumer struct {
	events *eventLog

	mu              sync.Mutex
	batches         [][]kafka.Record
	pollErr         error
	commitErr       error
	stopWhenDrained bool

	wakeup   chan struct{}
	wakeOnce sync.Once
	wakeups  atomic.Int32
	idle     chan struct{}
	closes   atomic.Int32
}

func newFakeConsumer(events *eventLog, batches ...[]kafka.Record) *fakeConsumer {
	return &fakeConsumer{
		events:  events,
		batches: batches,
		wakeup:  make(chan struct{}),
		idle:    make(chan struct{}, 1),
	}
}

func cancelled() error {
	return apperrors.New(apperrors.ErrCancelled, "poll", nil)
}

func (f *fakeConsumer) Poll(ctx context.Context, timeout time.Duration) ([]kafka.Record, error) {
	select {
	case <-f.wakeup:
		return nil, cancelled()
	default:
	}

	f.mu.Lock()
	if f.pollErr != nil {
		err := f.pollErr
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		f.events.add("poll")
		return b, nil
	}
	stop := f.stopWhenDrained
	f.mu.Unlock()

	if stop {
		f.Wakeup()
		return nil, cancelled()
	}
	select {
	case f.idle <- struct{}{}:
	default:
	}
	select {
	case <-f.wakeup:
		return nil, cancelled()
	case <-ctx.Done():
		return nil, cancelled()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeConsumer) Commit(ctx context.Context) error {
	f.mu.Lock()
	err := f.commitErr
	f.mu.Unlock()
	if err != nil {
		f.events.add("commit-failed")
		return err
	}
	f.events.add("commit")
	return nil
}

func (f *fakeConsumer) Wakeup() {
	f.wakeups.Add(1)
	f.wakeOnce.Do(func() { close(f.wakeup) })
}

func (f *fakeConsumer) Close() error {
	f.closes.Add(1)
	f.events.add("close-consumer")
	return nil
}

type fakeIndex struct {
	events *eventLog

	mu        sync.Mutex
	exists    bool
	existsErr error
	createErr error
	creates   int
	bulkErrs  []error
	failItems map[int]bool
	requests  [][]search.Operation
	onBulk    func()
	closes    atomic.Int32
}

func newFakeIndex(events *eventLog) *fakeIndex {
	return &fakeIndex{events: events, failItems: map[int]bool{}}
}

func (f *fakeIndex) IndexExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, f.existsErr
}

func (f *fakeIndex) CreateIndex(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	f.exists = true
	return nil
}

func (f *fakeIndex) Bulk(ctx context.Context, ops []search.Operation) ([]search.ItemResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, ops)
	var err error
	if len(f.bulkErrs) > 0 {
		err = f.bulkErrs[0]
		f.bulkErrs = f.bulkErrs[1:]
	}
	hook := f.onBulk
	f.mu.Unlock()

	if err != nil {
		f.events.add("bulk-failed")
		return nil, err
	}
	if hook != nil {
		hook()
	}
	f.events.add("bulk")
	items := make([]search.ItemResult, len(ops))
	for i, op := range ops {
		items[i] = search.ItemResult{ID: op.DocumentID, Index: op.Index, Status: http.StatusCreated}
		if f.failItems[i] {
			items[i].Status = http.StatusBadRequest
			items[i].Error = &search.ItemError{Type: "mapper_parsing_exception", Reason: "failed to parse"}
		}
	}
	return items, nil
}

func (f *fakeIndex) Close() error {
	f.closes.Add(1)
	f.events.add("close-index")
	return nil
}

func (f *fakeIndex) bulkCalls() [][]search.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]search.Operation(nil), f.requests...)
}

func testConfig() *config.Config {
	return &config.Config{
		Search: config.SearchConfig{
			Index:       "wikimedia",
			DocumentIDs: config.DocumentIDsAuto,
		},
		Relay: config.RelayConfig{
			PollTimeout:         20 * time.Millisecond,
			WriteAttempts:       1,
			WriteInitialBackoff: time.Millisecond,
			WriteMaxBackoff:     5 * time.Millisecond,
			MalformedPolicy:     config.MalformedSkip,
			CommitTimeout:       time.Second,
			ShutdownTimeout:     5 * time.Second,
		},
	}
}

func records(topic string, partition int, payloads ...string) []kafka.Record {
	out := make([]kafka.Record, len(payloads))
	for i, p := range payloads {
		out[i] = kafka.Record{Topic: topic, Partition: partition, Offset: int64(i), Value: []byte(p)}
	}
	return out
}

// runLoop starts l.Run and returns a function that waits for its result.
func runLoop(t *testing.T, l *Loop) func() error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background()) }()
	return func() error {
		t.Helper()
		select {
		case err := <-errc:
			return err
		case <-time.After(5 * time.Second):
			require.FailNow(t, "relay loop did not return")
			return nil
		}
	}
}

func newTestLoop(cfg *config.Config, c Consumer, ix IndexClient, p ProgressReporter) *Loop {
	return FromConfig(cfg, c, ix, p, metrics.New(nil))
}
