package contextstore

import (
	"context"
	"time"

	"github.com/wolfman30/support-hitl/pkg/logging"
)

// Janitor periodically sweeps expired contexts. It is owned by whoever
// constructs the store and stops when its context is cancelled.
type Janitor struct {
	store    *Store
	evictor  SnapshotEvictor
	logger   *logging.Logger
	interval time.Duration
	maxAge   time.Duration
}

// SnapshotEvictor drops the persisted copy of a swept context.
type SnapshotEvictor interface {
	Delete(ctx context.Context, conversationID string) error
}

func NewJanitor(store *Store, logger *logging.Logger) *Janitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Janitor{
		store:    store,
		logger:   logger,
		interval: 10 * time.Minute,
		maxAge:   DefaultMaxAge,
	}
}

func (j *Janitor) WithInterval(interval time.Duration) *Janitor {
	if interval > 0 {
		j.interval = interval
	}
	return j
}

// WithEvictor removes snapshots of swept contexts so a restart does not
// bring them back before their TTL runs out.
func (j *Janitor) WithEvictor(e SnapshotEvictor) *Janitor {
	j.evictor = e
	return j
}

func (j *Janitor) WithMaxAge(maxAge time.Duration) *Janitor {
	if maxAge > 0 {
		j.maxAge = maxAge
	}
	return j
}

// Start blocks, sweeping on every tick until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	if j.store == nil {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) int {
	removed := j.store.SweepExpired(j.maxAge)
	if len(removed) == 0 {
		return 0
	}
	if j.evictor != nil {
		for _, id := range removed {
			if err := j.evictor.Delete(ctx, id); err != nil {
				j.logger.Warn("failed to evict context snapshot", "conversation_id", id, "error", err)
			}
		}
	}
	j.logger.Info("swept expired conversation contexts",
		"removed", len(removed),
		"remaining", j.store.Len(),
		"max_age", j.maxAge.String(),
	)
	return len(removed)
}
