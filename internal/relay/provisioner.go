package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/search"
)

// Provisioner makes sure the target index exists before the loop starts.
type Provisioner struct {
	client  IndexClient
	timeout time.Duration
	logger  *slog.Logger
}

func NewProvisioner(client IndexClient, timeout time.Duration) *Provisioner {
	return &Provisioner{
		client:  client,
		timeout: timeout,
		logger:  slog.Default().With("component", "provisioner"),
	}
}

// Ensure creates the index if it is missing. It is idempotent: an existing
// index, or one created concurrently by another writer, is success. Errors
// match apperrors.ErrProvision.
func (p *Provisioner) Ensure(ctx context.Context, name string) error {
	err := resilience.WithTimeout(ctx, p.timeout, "ensure-index", func(ctx context.Context) error {
		exists, err := p.client.IndexExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			p.logger.Info("index already exists", "index", name)
			return nil
		}
		if err := p.client.CreateIndex(ctx, name); err != nil {
			if errors.Is(err, search.ErrIndexExists) {
				p.logger.Info("index created concurrently", "index", name)
				return nil
			}
			return err
		}
		p.logger.Info("index created", "index", name)
		return nil
	})
	if err != nil {
		return apperrors.New(apperrors.ErrProvision, "ensure-index", err)
	}
	return nil
}
