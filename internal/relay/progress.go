package relay

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/kafka-search-relay/pkg/redis"
)

// ProgressStore persists hash fields. *redis.Client implements it.
type ProgressStore interface {
	SetProgress(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error
}

// RedisProgress mirrors the committed position of every partition into a
// hash: one field per topic/partition holding the next offset to consume,
// plus committed_at.
type RedisProgress struct {
	store ProgressStore
	key   string
	ttl   time.Duration
	now   func() time.Time
}

func NewRedisProgress(store ProgressStore, prefix, group string, ttl time.Duration) *RedisProgress {
	return &RedisProgress{
		store: store,
		key:   redis.ProgressKey(prefix, group),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Key returns the hash key progress is written to.
func (p *RedisProgress) Key() string {
	return p.key
}

func (p *RedisProgress) Report(ctx context.Context, committed []kafka.Record) error {
	if len(committed) == 0 {
		return nil
	}
	fields := make(map[string]any, len(committed)+1)
	next := make(map[string]int64)
	for _, rec := range committed {
		f := redis.PartitionField(rec.Topic, rec.Partition)
		if rec.Offset+1 > next[f] {
			next[f] = rec.Offset + 1
		}
	}
	for f, off := range next {
		fields[f] = off
	}
	fields["committed_at"] = p.now().UTC().Format(time.RFC3339)
	return p.store.SetProgress(ctx, p.key, fields, p.ttl)
}
