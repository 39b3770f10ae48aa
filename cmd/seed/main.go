// Command seed publishes sample recent-change events to the relay's source
// topic so the relay can be exercised locally.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/logger"
)

type recentChange struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	User      string `json:"user"`
	Wiki      string `json:"wiki"`
	Bot       bool   `json:"bot"`
	Timestamp int64  `json:"timestamp"`
}

var (
	wikis = []string{"enwiki", "dewiki", "frwiki", "commonswiki", "wikidatawiki"}
	types = []string{"edit", "new", "log", "categorize"}
)

// buildEvents returns n events numbered from start. When malformedEvery is
// positive, every malformedEvery-th event carries a payload that is not a
// JSON object.
func buildEvents(start, n, malformedEvery int, now time.Time) []kafka.Event {
	events := make([]kafka.Event, 0, n)
	for i := start; i < start+n; i++ {
		id := uuid.NewString()
		if malformedEvery > 0 && (i+1)%malformedEvery == 0 {
			events = append(events, kafka.Event{Key: id, Value: []byte("not-json " + id)})
			continue
		}
		events = append(events, kafka.Event{
			Key: id,
			Value: recentChange{
				ID:        id,
				Type:      types[i%len(types)],
				Title:     fmt.Sprintf("Sample page %d", i),
				User:      fmt.Sprintf("seed-user-%d", i%17),
				Wiki:      wikis[i%len(wikis)],
				Bot:       i%5 == 0,
				Timestamp: now.Unix(),
			},
		})
	}
	return events
}

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file (empty for defaults)")
	count := flag.Int("count", 1000, "number of events to publish")
	batch := flag.Int("batch", 100, "events per produce call")
	malformedEvery := flag.Int("malformed-every", 0, "publish a non-JSON payload every N events (0 disables)")
	interval := flag.Duration("interval", 0, "pause between batches")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *batch <= 0 {
		*batch = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topic)
	defer producer.Close()

	slog.Info("seeding topic", "topic", cfg.Kafka.Topic, "count", *count, "batch", *batch)
	start := time.Now()
	sent := 0
	for sent < *count {
		n := min(*batch, *count-sent)
		if err := producer.Publish(ctx, buildEvents(sent, n, *malformedEvery, time.Now())...); err != nil {
			slog.Error("publish failed", "sent", sent, "error", err)
			os.Exit(1)
		}
		sent += n
		if *interval > 0 {
			select {
			case <-ctx.Done():
				slog.Info("interrupted", "sent", sent)
				return
			case <-time.After(*interval):
			}
		}
	}
	slog.Info("seeding complete", "sent", sent, "elapsed", time.Since(start).Round(time.Millisecond))
}
