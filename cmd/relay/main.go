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

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/internal/relay"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/search"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file (empty for defaults)")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(apperrors.ExitInvalidConfig)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(apperrors.ExitInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(apperrors.ExitInvalidConfig)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	err = run(sigCtx, cfg)
	stop()
	code := apperrors.ExitCode(err)
	if code != apperrors.ExitOK {
		slog.Error("relay exited with error", "error", err, "exit_code", code)
	} else {
		slog.Info("relay stopped")
	}
	os.Exit(code)
}

// run starts the relay and blocks until it stops. Cancelling sigCtx requests
// shutdown, including while the relay is still starting up.
func run(sigCtx context.Context, cfg *config.Config) error {
	searchClient, err := search.NewClient(cfg.Search)
	if err != nil {
		return apperrors.New(apperrors.ErrInvalidConfig, "search-client", err)
	}
	consumer := kafka.NewConsumer(cfg.Kafka)

	slog.Info("starting kafka search relay",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.ConsumerGroup,
		"offset_reset", cfg.Kafka.OffsetReset,
		"search", searchClient.Endpoint().String(),
		"index", cfg.Search.Index,
		"document_ids", cfg.Search.DocumentIDs,
		"poll_timeout", cfg.Relay.PollTimeout,
	)

	ctx := context.Background()
	if err := relay.NewProvisioner(searchClient, cfg.Relay.ProvisionTimeout).Ensure(sigCtx, cfg.Search.Index); err != nil {
		consumer.Close()
		searchClient.Close()
		if sigCtx.Err() != nil {
			slog.Info("shutdown requested during startup")
			return nil
		}
		return err
	}

	m := metrics.New(nil)
	checker := health.NewChecker()
	checker.Register("kafka", health.Ping(consumer.Ping))
	checker.Register("search", health.Ping(searchClient.Ping))

	var progress relay.ProgressReporter
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(sigCtx, cfg.Redis)
		if err != nil {
			slog.Warn("progress mirror disabled", "error", err)
		} else {
			defer rdb.Close()
			checker.Register("redis", health.Ping(rdb.Ping))
			p := relay.NewRedisProgress(rdb, cfg.Redis.ProgressKey, cfg.Kafka.ConsumerGroup, cfg.Redis.ProgressTTL)
			slog.Info("mirroring progress to redis", "addr", cfg.Redis.Addr, "key", p.Key())
			if last, err := rdb.Progress(sigCtx, p.Key()); err != nil {
				slog.Warn("could not read mirrored progress", "error", err)
			} else if len(last) > 0 {
				slog.Info("last mirrored progress", "progress", last)
			}
			progress = p
		}
	}

	loop := relay.FromConfig(cfg, consumer, searchClient, progress, m)
	checker.Register("loop", loop.HealthCheck())

	if cfg.Metrics.Enabled {
		handler := middleware.Metrics(m)(metrics.NewMux(m, checker))
		shutdown := metrics.StartServer(cfg.Metrics.Port, handler)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	if sigCtx.Err() != nil {
		slog.Info("shutdown requested during startup")
		consumer.Close()
		searchClient.Close()
		return nil
	}
	coordinator := relay.NewCoordinator(loop, cfg.Relay.ShutdownTimeout)

	var g errgroup.Group
	g.Go(func() error {
		// signals never cancel ctx; the loop is stopped by waking the consumer
		return loop.Run(ctx)
	})
	if err := coordinator.Watch(sigCtx); err != nil {
		// the loop did not stop within the shutdown timeout
		return err
	}
	err = g.Wait()
	if err == nil && !coordinator.Raised() {
		slog.Warn("relay loop stopped without a shutdown request")
	}
	return err
}
