package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/tracing"
)

// State is the lifecycle of a Loop. It only moves forward.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options wires a Loop. Progress and Metrics are optional.
type Options struct {
	Consumer      Consumer
	Index         IndexClient
	Accumulator   *Accumulator
	Writer        *Writer
	Progress      ProgressReporter
	Metrics       *metrics.Metrics
	PollTimeout   time.Duration
	CommitTimeout time.Duration
}

// Loop is the poll-write-commit state machine. Run must be called once, on
// the goroutine that owns the clients; Wakeup, State and Done are safe from
// any goroutine.
type Loop struct {
	consumer      Consumer
	index         IndexClient
	accumulator   *Accumulator
	writer        *Writer
	progress      ProgressReporter
	metrics       *metrics.Metrics
	pollTimeout   time.Duration
	commitTimeout time.Duration

	state       atomic.Int32
	started     atomic.Bool
	releaseOnce sync.Once
	done        chan struct{}
	logger      *slog.Logger
}

func NewLoop(opts Options) *Loop {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	l := &Loop{
		consumer:      opts.Consumer,
		index:         opts.Index,
		accumulator:   opts.Accumulator,
		writer:        opts.Writer,
		progress:      opts.Progress,
		metrics:       opts.Metrics,
		pollTimeout:   opts.PollTimeout,
		commitTimeout: opts.CommitTimeout,
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "relay-loop"),
	}
	l.setState(StateRunning)
	return l
}

// FromConfig builds a Loop and its mapper, accumulator and writer from cfg.
func FromConfig(cfg *config.Config, consumer Consumer, index IndexClient, progress ProgressReporter, m *metrics.Metrics) *Loop {
	if m == nil {
		m = metrics.New(nil)
	}
	mapper := NewMapper(cfg.Search.Index, cfg.Search.DocumentIDs)
	return NewLoop(Options{
		Consumer:      consumer,
		Index:         index,
		Accumulator:   NewAccumulator(mapper, cfg.Relay.MalformedPolicy, m),
		Writer:        NewWriter(index, cfg.Relay, m),
		Progress:      progress,
		Metrics:       m,
		PollTimeout:   cfg.Relay.PollTimeout,
		CommitTimeout: cfg.Relay.CommitTimeout,
	})
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.LoopState.Set(float64(s))
}

// Done is closed once the loop has released its clients and stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wakeup interrupts a blocked poll. The loop finishes any in-flight cycle
// first and then drains.
func (l *Loop) Wakeup() {
	l.consumer.Wakeup()
}

// Run polls until the consumer is woken up or a cycle fails. ctx must not be
// the context cancelled on shutdown, otherwise an in-flight write or commit
// would be torn down; use Wakeup to stop the loop. A wakeup returns nil.
// Any other outcome is returned after both clients have been closed.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("relay loop already started")
	}
	defer l.release()

	l.logger.Info("relay loop started", "poll_timeout", l.pollTimeout)
	for {
		err := l.cycle(ctx)
		if err == nil {
			continue
		}
		if apperrors.IsCancellation(err) {
			l.setState(StateDraining)
			l.logger.Info("consumer woken up, draining")
			return nil
		}
		l.setState(StateDraining)
		l.logger.Error("relay loop failed", "error", err)
		return err
	}
}

func (l *Loop) cycle(ctx context.Context) error {
	start := time.Now()
	records, err := l.consumer.Poll(ctx, l.pollTimeout)
	if err != nil {
		if apperrors.IsCancellation(err) {
			return err
		}
		return fmt.Errorf("polling records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	cycleID := uuid.NewString()
	ctx = logger.WithCycleID(ctx, cycleID)
	log := logger.FromContext(ctx).With("component", "relay-loop")
	ctx, span := tracing.StartSpan(ctx, "cycle", cycleID)
	span.SetAttr("records", len(records))
	defer func() {
		span.End()
		span.Log(log)
	}()

	log.Info("received records", "count", len(records))
	l.metrics.RecordsPolled.Add(float64(len(records)))
	l.metrics.BatchSize.Observe(float64(len(records)))

	_, phase := tracing.StartChildSpan(ctx, "build")
	req, err := l.accumulator.Build(ctx, records)
	phase.End()
	if err != nil {
		return err
	}

	_, phase = tracing.StartChildSpan(ctx, "write")
	result, err := l.writer.Write(ctx, req)
	phase.End()
	if err != nil {
		return err
	}
	if !req.Empty() {
		log.Info("inserted bulk records", "count", result.Indexed, "failed", result.Failed, "skipped", req.Skipped)
	}

	_, phase = tracing.StartChildSpan(ctx, "commit")
	err = resilience.WithTimeout(ctx, l.commitTimeout, "commit", l.consumer.Commit)
	phase.End()
	l.metrics.ObserveCommit(err)
	if err != nil {
		return apperrors.New(apperrors.ErrCommit, "commit", err)
	}
	log.Info("committed records", "count", len(records))

	if l.progress != nil {
		if err := l.progress.Report(ctx, records); err != nil {
			log.Warn("failed to record progress", "error", err)
		}
	}
	l.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	return nil
}

// release closes both clients exactly once and marks the loop stopped.
func (l *Loop) release() {
	l.releaseOnce.Do(func() {
		if l.State() == StateRunning {
			l.setState(StateDraining)
		}
		if err := l.consumer.Close(); err != nil {
			l.logger.Error("failed to close consumer", "error", err)
		}
		if err := l.index.Close(); err != nil {
			l.logger.Error("failed to close index client", "error", err)
		}
		l.setState(StateStopped)
		l.logger.Info("relay loop stopped")
		close(l.done)
	})
}

// HealthCheck reports the loop as up while running, degraded while draining
// and down once stopped.
func (l *Loop) HealthCheck() health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		switch s := l.State(); s {
		case StateRunning:
			return health.ComponentHealth{Status: health.StatusUp, Message: s.String()}
		case StateDraining:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: s.String()}
		default:
			return health.ComponentHealth{Status: health.StatusDown, Message: s.String()}
		}
	}
}
