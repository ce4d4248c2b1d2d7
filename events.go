package quill

import (
	"fmt"
	"image"
)

// EventKind identifies what an Event reports.
type EventKind int

// Event kinds.
const (
	// EventImageAvailable reports a new image or tile at Level.
	EventImageAvailable EventKind = iota
	// EventStateChanged reports a new file State.
	EventStateChanged
	// EventHistoryChanged reports an edit, undo, redo, revert or restore.
	EventHistoryChanged
	// EventSaved reports a finished save to Path.
	EventSaved
	// EventRemoved reports that the file was removed; the handle is
	// invalid from now on.
	EventRemoved
	// EventError reports an error raised by background work.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventImageAvailable:
		return "image-available"
	case EventStateChanged:
		return "state-changed"
	case EventHistoryChanged:
		return "history-changed"
	case EventSaved:
		return "saved"
	case EventRemoved:
		return "removed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is delivered to listeners after the core lock is released, in
// the order the events happened.
type Event struct {
	Kind EventKind
	Path string
	// Level and Area locate an available image; Area is the tile area
	// for tiles and the covered area otherwise.
	Level int
	Area  image.Rectangle
	State State
	Err   *Error
}

type delivery struct {
	fn func(Event)
	ev Event
}

// emit queues ev for the handles of r and the global listeners.
// c.mu must be held.
func (c *Core) emit(r *record, ev Event) {
	if r != nil {
		if ev.Path == "" {
			ev.Path = r.path
		}
		for _, h := range r.handles {
			for _, fn := range h.listeners {
				c.pending = append(c.pending, delivery{fn, ev})
			}
		}
	}
	for _, fn := range c.listeners {
		c.pending = append(c.pending, delivery{fn, ev})
	}
	if ev.Kind == EventError {
		for _, fn := range c.errorListeners {
			err := ev.Err
			c.pending = append(c.pending, delivery{func(Event) { fn(err) }, ev})
		}
	}
}

// raise reports an error for r, or a global error when r is nil.
// c.mu must be held.
func (c *Core) raise(r *record, err *Error) {
	c.log.Warn("quill: error", "kind", err.Kind.String(), "source", err.Source.String(),
		"path", err.Path, "err", err.Err)
	c.emit(r, Event{Kind: EventError, Err: err})
}

// unlock releases c.mu, runs deferred calls and delivers pending events.
// Events are delivered by one goroutine at a time; a listener calling
// back into the core queues its events behind the current ones.
func (c *Core) unlock() {
	evs := c.pending
	c.pending = nil
	calls := c.afterUnlock
	c.afterUnlock = nil
	if len(evs) > 0 {
		c.evMu.Lock()
		c.evQueue = append(c.evQueue, evs...)
		c.evMu.Unlock()
	}
	c.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
	c.drain()
}

func (c *Core) drain() {
	c.evMu.Lock()
	if c.draining {
		c.evMu.Unlock()
		return
	}
	c.draining = true
	for len(c.evQueue) > 0 {
		d := c.evQueue[0]
		c.evQueue[0] = delivery{}
		c.evQueue = c.evQueue[1:]
		c.evMu.Unlock()
		c.deliver(d)
		c.evMu.Lock()
	}
	c.draining = false
	c.evMu.Unlock()
}

func (c *Core) deliver(d delivery) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("quill: event listener panicked", "event", d.ev.Kind.String(), "panic", p)
		}
	}()
	d.fn(d.ev)
}
