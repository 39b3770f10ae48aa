// Package kafka provides the relay's Kafka consumer and producer backed by
// segmentio/kafka-go. The consumer exposes a poll/commit interface: Poll
// returns a bounded batch of records, Commit marks everything returned by the
// previous poll as processed, and Wakeup interrupts a blocked poll from any
// goroutine.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
)

// Record is one message returned by Poll.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// messageReader is the subset of *kafka.Reader the consumer relies on.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer is a group member reading a single topic. Poll and Commit must be
// called from one goroutine; Wakeup and Close may be called from any.
type Consumer struct {
	reader  messageReader
	brokers []string
	maxPoll int
	linger  time.Duration
	logger  *slog.Logger

	// pending holds the last message per partition returned by Poll and not
	// yet committed.
	pending map[int]kafka.Message

	wakeup     chan struct{}
	wakeupOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

// NewConsumer creates a Consumer joined to cfg.ConsumerGroup and subscribed
// to cfg.Topic. No network I/O happens until the first Poll.
func NewConsumer(cfg config.KafkaConfig) *Consumer {
	return newConsumer(kafka.NewReader(readerConfig(cfg)), cfg)
}

func newConsumer(r messageReader, cfg config.KafkaConfig) *Consumer {
	return &Consumer{
		reader:  r,
		brokers: cfg.Brokers,
		maxPoll: cfg.MaxPollRecords,
		linger:  cfg.FetchLinger,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", cfg.Topic, "group", cfg.ConsumerGroup),
		pending: make(map[int]kafka.Message),
		wakeup:  make(chan struct{}),
	}
}

func readerConfig(cfg config.KafkaConfig) kafka.ReaderConfig {
	start := kafka.LastOffset
	if cfg.OffsetReset == config.OffsetResetEarliest {
		start = kafka.FirstOffset
	}
	return kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.ConsumerGroup,
		GroupTopics: []string{cfg.Topic},
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.FetchLinger,
		StartOffset: start,
		// commits are explicit and synchronous
		CommitInterval: 0,
	}
}

// Poll waits up to timeout for records and returns them in fetch order.
// Once the first record arrives, Poll keeps collecting for at most the fetch
// linger or until MaxPollRecords is reached. An expired timeout yields an
// empty batch and no error.
//
// If Wakeup is called before or during Poll, any partially collected batch is
// discarded and the returned error matches apperrors.ErrCancelled. The same
// happens when ctx is cancelled.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) ([]Record, error) {
	if c.wokenUp() {
		return nil, apperrors.New(apperrors.ErrCancelled, "poll", nil)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		select {
		case <-c.wakeup:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	var records []Record
	// positions join pending only when the batch is handed out
	fetched := make(map[int]kafka.Message)
	fetchCtx := pollCtx
	for len(records) < c.maxPoll {
		msg, err := c.reader.FetchMessage(fetchCtx)
		if err != nil {
			if c.wokenUp() || ctx.Err() != nil {
				c.logger.Debug("poll interrupted", "discarded", len(records))
				return nil, apperrors.New(apperrors.ErrCancelled, "poll", err)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("fetching message: %w", err)
		}
		records = append(records, Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Time:      msg.Time,
		})
		fetched[msg.Partition] = msg

		if len(records) == 1 && c.linger > 0 {
			lingerCtx, lingerCancel := context.WithTimeout(pollCtx, c.linger)
			defer lingerCancel()
			fetchCtx = lingerCtx
		}
	}
	for p, msg := range fetched {
		c.pending[p] = msg
	}
	return records, nil
}

// Commit synchronously commits the position after every record returned by
// previous polls. It is a no-op when nothing is pending.
func (c *Consumer) Commit(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(c.pending))
	for _, m := range c.pending {
		msgs = append(msgs, m)
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("committing %d partitions: %w", len(msgs), err)
	}
	clear(c.pending)
	return nil
}

// Wakeup interrupts a blocked or future Poll. It is safe to call from any
// goroutine, more than once, and after Close.
func (c *Consumer) Wakeup() {
	c.wakeupOnce.Do(func() {
		close(c.wakeup)
	})
}

func (c *Consumer) wokenUp() bool {
	select {
	case <-c.wakeup:
		return true
	default:
		return false
	}
}

// Ping dials the first reachable broker.
func (c *Consumer) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range c.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("dialing kafka: %w", lastErr)
}

// Close leaves the group and releases the reader. Subsequent calls return
// the first call's result.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.reader.Close()
		c.logger.Info("consumer closed")
	})
	return c.closeErr
}
