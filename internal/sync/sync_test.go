package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/memri/memri-go/internal/cache"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/pod"
	"github.com/memri/memri-go/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePod implements pod.Client in process.
type fakePod struct {
	mu      stdsync.Mutex
	queries atomic.Int64
	items   map[int64]pod.ItemPayload
	syncErr error
	lastReq pod.SyncRequest
}

func newFakePod() *fakePod {
	return &fakePod{items: map[int64]pod.ItemPayload{}}
}

func (f *fakePod) set(p pod.ItemPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[p.UID] = p
}

func (f *fakePod) remove(uid int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, uid)
}

func (f *fakePod) Query(ctx context.Context, req pod.QueryRequest) (pod.QueryResponse, error) {
	f.queries.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return pod.QueryResponse{}, f.syncErr
	}
	var resp pod.QueryResponse
	for _, p := range f.items {
		resp.Items = append(resp.Items, p)
	}
	return resp, nil
}

func (f *fakePod) Get(ctx context.Context, uid int64) (*item.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[uid]
	if !ok {
		return nil, errors.New("not found")
	}
	return pod.DecodeItem(p), nil
}

func (f *fakePod) Sync(ctx context.Context, req pod.SyncRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	f.lastReq = req
	return nil
}

func (f *fakePod) RunImporter(ctx context.Context, uid int64) (pod.RunResponse, error) {
	return pod.RunResponse{UID: uid, Started: true}, nil
}

func (f *fakePod) RunIndexer(ctx context.Context, uid int64) (pod.RunResponse, error) {
	return pod.RunResponse{UID: uid, Started: true}, nil
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	c, err := cache.New(ctx, st, nil, nil)
	require.NoError(t, err)
	return c
}

func TestSyncBatch_ClearsDirtyOnlyAfterAck(t *testing.T) {
	c := newTestCache(t)
	fp := newFakePod()
	s := New(c, fp, DefaultConfig(), nil)
	ctx := context.Background()

	created, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("a")})
	require.NoError(t, err)
	updated, err := c.CreateItem(ctx, item.FamilyNote, map[string]item.Value{"title": item.String("b")})
	require.NoError(t, err)
	require.NoError(t, c.MarkSynced(ctx, []int64{updated.UID}, nil))
	require.NoError(t, c.SetProperty(ctx, updated, "title", item.String("b2")))
	deleted, err := c.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)
	require.NoError(t, c.MarkSynced(ctx, []int64{deleted.UID}, nil))
	require.NoError(t, c.Delete(ctx, deleted))

	sent, err := s.SyncBatch(ctx)
	require.NoError(t, err)
	// create + update + delete + the delete's audit item and its edge.
	assert.Equal(t, 5, sent)
	assert.Empty(t, c.DirtyItems())
	assert.Empty(t, c.DirtyEdges())

	req := fp.lastReq
	assert.Len(t, req.UpdateItems, 1)
	assert.Contains(t, req.DeleteItems, deleted.UID)
	var createUIDs []int64
	for _, p := range req.CreateItems {
		createUIDs = append(createUIDs, p.UID)
	}
	assert.Contains(t, createUIDs, created.UID)
}

func TestSyncBatch_FailureKeepsDirty(t *testing.T) {
	c := newTestCache(t)
	fp := newFakePod()
	fp.syncErr = errors.New("pod down")
	s := New(c, fp, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := c.CreateItem(ctx, item.FamilyNote, nil)
	require.NoError(t, err)

	_, err = s.SyncBatch(ctx)
	require.Error(t, err)
	assert.Len(t, c.DirtyItems(), 1)

	// Recovery: same batch goes through once the pod is back.
	fp.mu.Lock()
	fp.syncErr = nil
	fp.mu.Unlock()
	sent, err := s.SyncBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Empty(t, c.DirtyItems())
}

func TestSyncBatch_EmptyIsNoop(t *testing.T) {
	c := newTestCache(t)
	s := New(c, newFakePod(), DefaultConfig(), nil)
	sent, err := s.SyncBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubscription_NotifiesOnRemoteChanges(t *testing.T) {
	c := newTestCache(t)
	fp := newFakePod()
	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	s := New(c, fp, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	var mu stdsync.Mutex
	var got []Notification
	sub := s.Subscribe("Note", 10*time.Millisecond, func(n Notification) {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})
	defer sub.Cancel()

	kinds := func() []cache.EventKind {
		mu.Lock()
		defer mu.Unlock()
		out := make([]cache.EventKind, len(got))
		for i, n := range got {
			out[i] = n.Kind
		}
		return out
	}

	fp.set(pod.ItemPayload{UID: 5, Type: "Note", Version: 1, Properties: map[string]any{"title": "v1"}})
	waitFor(t, func() bool { return len(kinds()) >= 1 })
	assert.Equal(t, cache.EventCreated, kinds()[0])
	assert.Equal(t, "v1", c.Get(5).Get("title").Str())

	fp.set(pod.ItemPayload{UID: 5, Type: "Note", Version: 2, Properties: map[string]any{"title": "v2"}})
	waitFor(t, func() bool { return len(kinds()) >= 2 })
	assert.Equal(t, cache.EventUpdated, kinds()[1])
	assert.Equal(t, "v2", c.Get(5).Get("title").Str())

	fp.remove(5)
	waitFor(t, func() bool { return len(kinds()) >= 3 })
	assert.Equal(t, cache.EventDeleted, kinds()[2])
}

func TestSubscription_CancelStopsPolling(t *testing.T) {
	c := newTestCache(t)
	fp := newFakePod()
	s := New(c, fp, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	sub := s.Subscribe("Note", 5*time.Millisecond, func(Notification) {})
	waitFor(t, func() bool { return fp.queries.Load() >= 2 })

	sub.Cancel()
	settled := fp.queries.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, fp.queries.Load(), settled+1)
}

func TestSubscription_AbandonedAfterRetryCeiling(t *testing.T) {
	c := newTestCache(t)
	fp := newFakePod()
	fp.syncErr = errors.New("pod down")
	s := New(c, fp, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	sub := s.Subscribe("Note", time.Millisecond, func(Notification) {})
	defer sub.Cancel()

	waitFor(t, func() bool { return fp.queries.Load() >= maxPollRetries })
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, maxPollRetries, fp.queries.Load())
}
