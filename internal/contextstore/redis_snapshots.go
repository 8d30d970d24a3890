package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const snapshotKeyPrefix = "conversation_context:"

// RedisSnapshots persists contexts across restarts. Keys expire after the
// store's max age so Redis never holds contexts the sweep would drop.
type RedisSnapshots struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

var (
	_ SnapshotWriter = (*RedisSnapshots)(nil)
	_ SnapshotReader = (*RedisSnapshots)(nil)
)

func NewRedisSnapshots(client *redis.Client, ttl time.Duration) *RedisSnapshots {
	if client == nil {
		panic("contextstore: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultMaxAge
	}
	return &RedisSnapshots{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("hitl.internal.contextstore.snapshots"),
	}
}

func (r *RedisSnapshots) SaveContext(ctx context.Context, c Context) error {
	ctx, span := r.tracer.Start(ctx, "contextstore.save_snapshot")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", c.ConversationID))

	data, err := json.Marshal(c)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("contextstore: marshal snapshot: %w", err)
	}
	if err := r.redis.Set(ctx, snapshotKey(c.ConversationID), data, r.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("contextstore: persist snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshots) LoadContexts(ctx context.Context) ([]Context, error) {
	ctx, span := r.tracer.Start(ctx, "contextstore.load_snapshots")
	defer span.End()

	var out []Context
	iter := r.redis.Scan(ctx, 0, snapshotKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			span.RecordError(err)
			return nil, fmt.Errorf("contextstore: load snapshot %s: %w", iter.Val(), err)
		}
		var c Context
		if err := json.Unmarshal(data, &c); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("contextstore: decode snapshot %s: %w", iter.Val(), err)
		}
		out = append(out, c)
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("contextstore: scan snapshots: %w", err)
	}
	span.SetAttributes(attribute.Int("snapshot.count", len(out)))
	return out, nil
}

// Delete drops a persisted snapshot.
func (r *RedisSnapshots) Delete(ctx context.Context, conversationID string) error {
	if err := r.redis.Del(ctx, snapshotKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("contextstore: delete snapshot: %w", err)
	}
	return nil
}

func snapshotKey(conversationID string) string {
	return snapshotKeyPrefix + conversationID
}
