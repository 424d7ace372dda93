package events

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
)

// Bus is a typed in-process event bus connecting the watcher, debouncer, signal
// handling and the daemon loop. Publish blocks until every matching subscriber has
// taken the event or ctx is done. Close closes every subscription channel.
type Bus struct {
	mu       sync.RWMutex
	subs     map[reflect.Type]map[uint64]*subscription
	nextID   atomic.Uint64
	closed   atomic.Bool
	closeMux sync.Once
}

type subscription struct {
	deliver func(ctx context.Context, evt any) error
	close   func()
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[reflect.Type]map[uint64]*subscription)}
}

// Subscribe registers a buffered subscription for events of type T. When T is an
// interface, every published event implementing it is delivered. The returned func
// unsubscribes and closes the channel.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	typ := reflect.TypeFor[T]()
	ch := make(chan T, buffer)

	var once sync.Once
	closeCh := func() { once.Do(func() { close(ch) }) }

	sub := &subscription{
		deliver: func(ctx context.Context, evt any) error {
			v, ok := evt.(T)
			if !ok {
				return ferrors.InternalError("event type mismatch").
					WithContext("expected", typ.String()).
					WithContext("actual", reflect.TypeOf(evt).String()).
					Build()
			}
			select {
			case ch <- v:
				return nil
			case <-ctx.Done():
				return ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "event publish canceled").
					WithContext("event_type", typ.String()).
					Build()
			}
		},
		close: closeCh,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		closeCh()
		return ch, func() {}
	}
	id := b.nextID.Add(1)
	if b.subs[typ] == nil {
		b.subs[typ] = make(map[uint64]*subscription)
	}
	b.subs[typ][id] = sub

	var unsubOnce sync.Once
	return ch, func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[typ]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.subs, typ)
				}
			}
			b.mu.Unlock()
			closeCh()
		})
	}
}

// SubscriberCount returns the number of active subscribers for events of type T.
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[reflect.TypeFor[T]()])
}

// Publish delivers evt to every matching subscriber.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ferrors.ValidationError("event cannot be nil").Build()
	}
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}
	if b.closed.Load() {
		return ferrors.DaemonError("event bus is closed").Build()
	}

	evtType := reflect.TypeOf(evt)
	b.mu.RLock()
	var targets []*subscription
	for typ, set := range b.subs {
		if typ != evtType && (typ.Kind() != reflect.Interface || !evtType.Implements(typ)) {
			continue
		}
		for _, s := range set {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := s.deliver(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the bus closed and closes all subscription channels.
func (b *Bus) Close() {
	b.closeMux.Do(func() {
		b.closed.Store(true)
		b.mu.Lock()
		var all []*subscription
		for _, set := range b.subs {
			for _, s := range set {
				all = append(all, s)
			}
		}
		b.subs = make(map[reflect.Type]map[uint64]*subscription)
		b.mu.Unlock()
		for _, s := range all {
			s.close()
		}
	})
}
