package suggest

import (
	"runtime/debug"
	"sync"

	"github.com/charmbracelet/log"
)

// EventType names a lifecycle transition of an Index.
type EventType int

const (
	RefreshStarted EventType = iota + 1
	RefreshSucceeded
	RefreshFailed
	Invalidated
)

func (t EventType) String() string {
	switch t {
	case RefreshStarted:
		return "refresh_started"
	case RefreshSucceeded:
		return "refresh_succeeded"
	case RefreshFailed:
		return "refresh_failed"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after the index state has changed.
// It exists for loading and error indicators; the data itself is read
// through Query.
type Event struct {
	Type       EventType
	Index      string
	Source     Source
	Generation uint64
	Count      int
	Err        error
}

// Handler receives index events.
type Handler func(Event)

type hooks struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// Subscribe registers h for every event of this index and returns a func
// that removes it. Handlers run synchronously on the goroutine of the
// Refresh or Invalidate call that caused the transition, after the index
// state has been published; they may call Refresh or Invalidate.
func (x *Index) Subscribe(h Handler) func() {
	x.hooks.mu.Lock()
	defer x.hooks.mu.Unlock()
	if x.hooks.handlers == nil {
		x.hooks.handlers = make(map[int]Handler)
	}
	id := x.hooks.nextID
	x.hooks.nextID++
	x.hooks.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			x.hooks.mu.Lock()
			delete(x.hooks.handlers, id)
			x.hooks.mu.Unlock()
		})
	}
}

func (x *Index) emit(ev Event) {
	x.hooks.mu.RLock()
	handlers := make([]Handler, 0, len(x.hooks.handlers))
	for _, h := range x.hooks.handlers {
		handlers = append(handlers, h)
	}
	x.hooks.mu.RUnlock()

	for _, h := range handlers {
		dispatch(h, ev)
	}
}

func (x *Index) emitAll(events []Event) {
	for _, ev := range events {
		x.emit(ev)
	}
}

func dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic in %s handler for %s: %v\n%s", ev.Type, ev.Index, r, debug.Stack())
		}
	}()
	h(ev)
}
