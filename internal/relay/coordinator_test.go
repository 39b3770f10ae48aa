package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
)

type stubTarget struct {
	wakeups atomic.Int32
	done    chan struct{}
	// stopOnWakeup closes done when woken.
	stopOnWakeup bool
	once         sync.Once
}

func (s *stubTarget) Wakeup() {
	s.wakeups.Add(1)
	if s.stopOnWakeup {
		s.once.Do(func() { close(s.done) })
	}
}

func (s *stubTarget) Done() <-chan struct{} { return s.done }

func TestCoordinator_RaiseIsIdempotent(t *testing.T) {
	target := &stubTarget{done: make(chan struct{}), stopOnWakeup: true}
	c := NewCoordinator(target, time.Second)
	assert.False(t, c.Raised())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Shutdown(context.Background()))
		}()
	}
	wg.Wait()
	assert.True(t, c.Raised())
	assert.Equal(t, int32(1), target.wakeups.Load())
}

func TestCoordinator_TimesOutWhenLoopNeverStops(t *testing.T) {
	target := &stubTarget{done: make(chan struct{})}
	c := NewCoordinator(target, 20*time.Millisecond)

	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), target.wakeups.Load())
}

func TestCoordinator_ZeroTimeoutWaitsForLoop(t *testing.T) {
	target := &stubTarget{done: make(chan struct{})}
	c := NewCoordinator(target, 0)
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(target.done)
	}()
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestCoordinator_Watch(t *testing.T) {
	t.Run("signal triggers shutdown", func(t *testing.T) {
		target := &stubTarget{done: make(chan struct{}), stopOnWakeup: true}
		c := NewCoordinator(target, time.Second)
		sigCtx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, c.Watch(sigCtx))
		assert.True(t, c.Raised())
	})

	t.Run("loop stopping on its own", func(t *testing.T) {
		target := &stubTarget{done: make(chan struct{})}
		close(target.done)
		c := NewCoordinator(target, time.Second)
		require.NoError(t, c.Watch(context.Background()))
		assert.False(t, c.Raised())
		assert.Zero(t, target.wakeups.Load())
	})
}

func TestCoordinator_StopsRealLoopBlockedInPoll(t *testing.T) {
	events := &eventLog{}
	c := newFakeConsumer(events)
	cfg := testConfig()
	cfg.Relay.PollTimeout = time.Hour
	l := newTestLoop(cfg, c, newFakeIndex(events), nil)
	wait := runLoop(t, l)
	<-c.idle

	coord := NewCoordinator(l, 5*time.Second)
	require.NoError(t, coord.Shutdown(context.Background()))
	require.NoError(t, coord.Shutdown(context.Background()))
	require.NoError(t, wait())
	assert.Equal(t, int32(1), c.wakeups.Load())
	assert.Equal(t, int32(1), c.closes.Load())
}

type fakeStore struct {
	key    string
	fields map[string]any
	ttl    time.Duration
}

func (f *fakeStore) SetProgress(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error {
	f.key, f.fields, f.ttl = key, fields, ttl
	return nil
}

func TestRedisProgress_Report(t *testing.T) {
	store := &fakeStore{}
	p := NewRedisProgress(store, "relay:progress", "opensearch-consumers", time.Hour)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, p.Report(context.Background(), []kafka.Record{
		{Topic: "wiki", Partition: 0, Offset: 10},
		{Topic: "wiki", Partition: 1, Offset: 3},
		{Topic: "wiki", Partition: 0, Offset: 12},
		{Topic: "wiki", Partition: 0, Offset: 11},
	}))

	assert.Equal(t, "relay:progress:opensearch-consumers", store.key)
	assert.Equal(t, p.Key(), store.key)
	assert.Equal(t, time.Hour, store.ttl)
	assert.Equal(t, map[string]any{
		"wiki/0":       int64(13),
		"wiki/1":       int64(4),
		"committed_at": "2026-01-02T03:04:05Z",
	}, store.fields)
}

func TestRedisProgress_EmptyBatchWritesNothing(t *testing.T) {
	store := &fakeStore{}
	p := NewRedisProgress(store, "relay:progress", "g", 0)
	require.NoError(t, p.Report(context.Background(), nil))
	assert.Nil(t, store.fields)
}
