package sync

import (
	"context"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/pod"
)

// Notification reports one remote change observed by a subscription.
type Notification struct {
	Kind cache.EventKind
	Item *item.Item
}

// Subscriber receives notifications for a subscribed query.
type Subscriber func(Notification)

// Subscription is a polling watcher over one remote query. The poll
// loop re-issues the query, merges results into the cache, and diffs
// versions against what it has already seen to decide notifications.
type Subscription struct {
	query    string
	interval time.Duration

	mu    stdsync.Mutex
	fn    Subscriber
	known map[int64]int
}

// Cancel detaches the subscriber. The poll loop notices at the top of
// its next iteration and exits.
func (sub *Subscription) Cancel() {
	sub.mu.Lock()
	sub.fn = nil
	sub.mu.Unlock()
}

func (sub *Subscription) subscriber() Subscriber {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.fn
}

// Subscribe starts polling the given query. Interval <= 0 uses the
// syncer's configured default. When Run is not active yet, the loop
// starts once it is.
func (s *Syncer) Subscribe(query string, interval time.Duration, fn Subscriber) *Subscription {
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}
	sub := &Subscription{
		query:    query,
		interval: interval,
		fn:       fn,
		known:    map[int64]int{},
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	start := s.started
	s.mu.Unlock()
	if start != nil {
		start(sub)
	}
	return sub
}

func (s *Syncer) pollLoop(ctx context.Context, sub *Subscription) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if sub.subscriber() == nil {
			return
		}

		if err := s.poll(ctx, sub); err != nil {
			failures++
			if failures >= maxPollRetries {
				s.logger.Warn("subscription abandoned after repeated failures",
					zap.String("query", sub.query), zap.Int("failures", failures), zap.Error(err))
				return
			}
			s.logger.Debug("subscription poll failed",
				zap.String("query", sub.query), zap.Int("failures", failures), zap.Error(err))
		} else {
			failures = 0
		}
		timer.Reset(sub.interval)
	}
}

func (s *Syncer) poll(ctx context.Context, sub *Subscription) error {
	resp, err := s.pod.Query(ctx, pod.QueryRequest{Query: sub.query, WithEdges: true})
	if err != nil {
		return err
	}

	fn := sub.subscriber()
	seen := make(map[int64]bool, len(resp.Items))
	for _, payload := range resp.Items {
		incoming := pod.DecodeItem(payload)
		seen[incoming.UID] = true

		sub.mu.Lock()
		prev, knownBefore := sub.known[incoming.UID]
		if incoming.Deleted {
			delete(sub.known, incoming.UID)
		} else {
			sub.known[incoming.UID] = incoming.Version
		}
		sub.mu.Unlock()

		merged, err := s.cache.MergeFromRemote(ctx, incoming)
		if err != nil {
			// Conflicts keep the local edit; the subscriber hears
			// nothing until the conflict resolves.
			s.logger.Warn("inbound merge rejected",
				zap.Int64("uid", incoming.UID), zap.Error(err))
			continue
		}

		if fn == nil {
			continue
		}
		switch {
		case incoming.Deleted:
			if knownBefore {
				fn(Notification{Kind: cache.EventDeleted, Item: merged})
			}
		case !knownBefore:
			fn(Notification{Kind: cache.EventCreated, Item: merged})
		case incoming.Version > prev:
			fn(Notification{Kind: cache.EventUpdated, Item: merged})
		}
	}
	for _, payload := range resp.Edges {
		if err := s.cache.MergeEdgeFromRemote(ctx, pod.DecodeEdge(payload)); err != nil {
			s.logger.Warn("inbound edge merge failed", zap.Error(err))
		}
	}

	// Items that vanished from the result set were deleted remotely.
	sub.mu.Lock()
	var gone []int64
	for uid := range sub.known {
		if !seen[uid] {
			gone = append(gone, uid)
			delete(sub.known, uid)
		}
	}
	sub.mu.Unlock()
	for _, uid := range gone {
		if fn != nil {
			fn(Notification{Kind: cache.EventDeleted, Item: s.cache.Get(uid)})
		}
	}
	return nil
}
