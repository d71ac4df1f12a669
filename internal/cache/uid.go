package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/store"
)

// DefaultUIDBase is the floor for locally allocated uids. Remotely
// assigned uids live below it, so a fresh device never collides with
// server-side items it has not seen yet.
const DefaultUIDBase int64 = 1_000_000_000

// uidCounter hands out monotonically increasing uids. The last value
// is persisted through the store so allocation resumes above it after
// a restart.
type uidCounter struct {
	mu     sync.Mutex
	last   int64
	store  *store.Store
	logger *zap.Logger
}

func newUIDCounter(ctx context.Context, st *store.Store, base int64, logger *zap.Logger) (*uidCounter, error) {
	if base <= 0 {
		base = DefaultUIDBase
	}
	last, err := st.LastUID(ctx)
	if err != nil {
		return nil, err
	}
	if last < base {
		last = base
	}
	return &uidCounter{last: last, store: st, logger: logger}, nil
}

// Next returns a fresh uid and persists the counter before handing it
// out, so a crash can repeat a skipped uid but never reissue a used one.
func (c *uidCounter) Next(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.last + 1
	if err := c.store.SetLastUID(ctx, next); err != nil {
		return 0, err
	}
	c.last = next
	return next, nil
}

// Observe raises the counter above an externally assigned uid.
func (c *uidCounter) Observe(ctx context.Context, uid int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uid <= c.last {
		return
	}
	c.last = uid
	if err := c.store.SetLastUID(ctx, uid); err != nil {
		c.logger.Warn("persisting uid counter", zap.Int64("uid", uid), zap.Error(err))
	}
}
