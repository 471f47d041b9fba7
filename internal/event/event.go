package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 1000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

// Subscription identifies one registered handler. Cancel it to stop
// receiving events; a cancelled subscription is never invoked again, so
// a disposed consumer cannot be mutated by a late-arriving event.
type Subscription struct {
	bus  *Bus
	name string
	id   uint64
}

func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	hs := s.bus.handlers[s.name]
	for i := range hs {
		if hs[i].id == s.id {
			s.bus.handlers[s.name] = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	s.bus = nil
}

type subscriber struct {
	id uint64
	h  Handler
}

// Bus is an in-memory event bus. Handlers run on their own goroutines,
// bounded by a shared dispatch pool.
type Bus struct {
	pool chan struct{}
	wg   sync.WaitGroup

	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscriber
}

// NewBus creates a new event bus. Caller should call Stop for graceful
// shutdown of the bus.
func NewBus() *Bus {
	return &Bus{
		pool:     make(chan struct{}, defaultPoolSize),
		handlers: make(map[string][]subscriber),
	}
}

// Subscribe registers a handler for the named event.
func (b *Bus) Subscribe(name string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[name] = append(b.handlers[name], subscriber{id: b.nextID, h: h})

	return &Subscription{bus: b, name: name, id: b.nextID}
}

// Publish dispatches the event to every current subscriber.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := b.handlers[e.Name()]
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(ctx, s.h, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, e Event) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "event: handler panic",
					"event", e.Name(),
					"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
				)
			}

			cancel()
			<-b.pool
			b.wg.Done()
		}()

		if err := h(ctx, e); err != nil {
			slog.ErrorContext(ctx, "event: handle event failed",
				"event", e.Name(),
				"error", err,
			)
		}
	}()
}

// Stop waits for all in-flight handlers to finish.
func (b *Bus) Stop() {
	b.wg.Wait()
}
