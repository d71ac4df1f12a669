// Package sync moves local mutations to the pod and pulls remote
// changes back in. Outbound work drains the cache's dirty set in
// batches; inbound work runs as polling query subscriptions.
package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/pod"
)

// Config tunes the sync loops.
type Config struct {
	// QuickDelay is the pause before rechecking for dirty data after a
	// successful batch that carried work.
	QuickDelay time.Duration
	// IdleDelay is the pause when there was nothing to send or the last
	// batch failed.
	IdleDelay time.Duration
	// BatchSize caps the number of items per outbound batch.
	BatchSize int
	// PollInterval is the default wait between subscription polls.
	PollInterval time.Duration
}

// DefaultConfig mirrors the behavior of an interactive client: eager
// while dirty, quiet while idle.
func DefaultConfig() Config {
	return Config{
		QuickDelay:   300 * time.Millisecond,
		IdleDelay:    30 * time.Second,
		BatchSize:    100,
		PollInterval: 10 * time.Second,
	}
}

// maxPollRetries is the subscription failure ceiling. A subscription
// that fails this many times in a row is abandoned with a warning.
const maxPollRetries = 20

// Syncer owns the outbound batch loop and all inbound subscriptions.
type Syncer struct {
	cache  *cache.Cache
	pod    pod.Client
	cfg    Config
	logger *zap.Logger

	kick chan struct{}

	mu      stdsync.Mutex
	subs    []*Subscription
	started func(*Subscription)
}

// New builds a syncer. Run must be called before Schedule has any effect.
func New(c *cache.Cache, p pod.Client, cfg Config, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.QuickDelay <= 0 {
		cfg.QuickDelay = 300 * time.Millisecond
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Syncer{
		cache:  c,
		pod:    p,
		cfg:    cfg,
		logger: logger,
		kick:   make(chan struct{}, 1),
	}
}

// Schedule nudges the outbound loop to run a batch soon. Safe to call
// from any goroutine; redundant nudges coalesce.
func (s *Syncer) Schedule() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run drives the outbound loop and every subscription until the
// context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.outboundLoop(ctx)
		return nil
	})
	s.mu.Lock()
	for _, sub := range s.subs {
		sub := sub
		g.Go(func() error {
			s.pollLoop(ctx, sub)
			return nil
		})
	}
	s.started = func(sub *Subscription) {
		g.Go(func() error {
			s.pollLoop(ctx, sub)
			return nil
		})
	}
	s.mu.Unlock()
	err := g.Wait()
	s.mu.Lock()
	s.started = nil
	s.mu.Unlock()
	return err
}

func (s *Syncer) outboundLoop(ctx context.Context) {
	delay := s.cfg.IdleDelay
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		case <-timer.C:
		}

		sent, err := s.SyncBatch(ctx)
		switch {
		case err != nil:
			s.logger.Warn("outbound sync failed, backing off", zap.Error(err))
			delay = s.cfg.IdleDelay
		case sent > 0:
			// More might be dirty already, recheck quickly.
			delay = s.cfg.QuickDelay
		default:
			delay = s.cfg.IdleDelay
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)
	}
}

// SyncBatch sends one batch of dirty items and edges. Dirty flags are
// cleared only after the pod acknowledges; a failure leaves everything
// dirty for the next attempt. Returns how many records were sent.
func (s *Syncer) SyncBatch(ctx context.Context) (int, error) {
	items := s.cache.DirtyItems()
	if len(items) > s.cfg.BatchSize {
		items = items[:s.cfg.BatchSize]
	}
	edges := s.cache.DirtyEdges()

	req := pod.SyncRequest{}
	uids := make([]int64, 0, len(items))
	for _, it := range items {
		uids = append(uids, it.UID)
		switch it.SyncAction {
		case item.SyncCreate:
			req.CreateItems = append(req.CreateItems, pod.EncodeItem(it))
		case item.SyncUpdate:
			req.UpdateItems = append(req.UpdateItems, pod.EncodeItem(it))
		case item.SyncDelete:
			req.DeleteItems = append(req.DeleteItems, it.UID)
		}
	}
	keys := make([]item.EdgeKey, 0, len(edges))
	for _, e := range edges {
		keys = append(keys, e.Key())
		switch e.SyncAction {
		case item.SyncCreate:
			req.CreateEdges = append(req.CreateEdges, pod.EncodeEdge(e))
		case item.SyncUpdate:
			req.UpdateEdges = append(req.UpdateEdges, pod.EncodeEdge(e))
		case item.SyncDelete:
			req.DeleteEdges = append(req.DeleteEdges, pod.EncodeEdge(e))
		}
	}
	if req.Empty() {
		return 0, nil
	}

	if err := s.pod.Sync(ctx, req); err != nil {
		return 0, err
	}
	if err := s.cache.MarkSynced(ctx, uids, keys); err != nil {
		return 0, err
	}
	s.logger.Debug("outbound batch synced",
		zap.Int("items", len(uids)), zap.Int("edges", len(keys)))
	return len(uids) + len(keys), nil
}
