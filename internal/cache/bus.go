// Package cache is the single source of truth for locally visible
// items. All item reads and writes go through the cache's create/merge/
// delete primitives so version bookkeeping stays consistent; direct
// object mutation bypassing the cache is a bug.
package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/memri/memri-go/internal/item"
)

// EventKind tags a change notification.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// Event is one item change published to subscribers.
type Event struct {
	Kind EventKind
	Item *item.Item
}

// Handler processes a change event. Implementations must be safe for
// concurrent calls.
type Handler interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Bus is an in-process pub/sub channel for cache change events. Events
// go to a buffered channel and are dispatched to all subscribers from a
// single consumer goroutine, which serializes observer work.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan Event
	done        chan struct{}
	logger      *zap.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewBus creates a bus with the given channel buffer size.
func NewBus(bufSize int, logger *zap.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		events: make(chan Event, bufSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Subscribe registers a named handler. Must be called before Start.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish sends an event. Non-blocking: when the buffer is full the
// event is dropped with a warning.
func (b *Bus) Publish(evt Event) {
	select {
	case b.events <- evt:
	default:
		b.logger.Warn("cache bus buffer full, dropping event",
			zap.String("kind", string(evt.Kind)), zap.Int64("uid", evt.Item.UID))
	}
}

// Start begins the consumer goroutine. It processes events until the
// context is cancelled, draining what remains.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case evt := <-b.events:
				b.dispatch(ctx, evt)
			case <-ctx.Done():
				for {
					select {
					case evt := <-b.events:
						b.dispatch(ctx, evt)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop waits for the consumer goroutine to finish.
func (b *Bus) Stop() {
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, evt Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, evt); err != nil {
			b.logger.Warn("cache bus handler error",
				zap.String("handler", s.name), zap.String("kind", string(evt.Kind)), zap.Error(err))
		}
	}
}
