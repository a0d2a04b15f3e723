package dispatcher

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/klaxonbot/klaxon/src/structs"
)

// Handler receives a decoded gateway event. Handlers for one subscription
// run sequentially in arrival order; different subscriptions run
// independently of each other.
type Handler func(event structs.EventName, data json.RawMessage)

type eventMsg struct {
	event structs.EventName
	data  json.RawMessage
}

type subscription struct {
	id      string
	event   structs.EventName
	all     bool
	ch      chan eventMsg
	handler Handler
}

// Dispatcher routes decoded gateway events to registered handlers. Each
// subscription owns a buffered channel drained by its own goroutine, so
// Publish never blocks the caller; a subscriber that cannot keep up has
// events dropped rather than stalling the read loop.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	byEvent map[structs.EventName]map[string]*subscription
	allSubs map[string]*subscription
	closed  bool
	wg      sync.WaitGroup
	log     *slog.Logger
}

const subscriberBuffer = 64

func New(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		subs:    make(map[string]*subscription),
		byEvent: make(map[structs.EventName]map[string]*subscription),
		allSubs: make(map[string]*subscription),
		log:     log,
	}
}

// Subscribe registers a handler for one event name and returns the
// subscription id used to unsubscribe.
func (d *Dispatcher) Subscribe(event structs.EventName, h Handler) string {
	return d.add(&subscription{
		id:      uuid.New().String(),
		event:   event,
		handler: h,
	})
}

// SubscribeAll registers a handler for every published event.
func (d *Dispatcher) SubscribeAll(h Handler) string {
	return d.add(&subscription{
		id:      uuid.New().String(),
		all:     true,
		handler: h,
	})
}

func (d *Dispatcher) add(sub *subscription) string {
	sub.ch = make(chan eventMsg, subscriberBuffer)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ""
	}
	d.subs[sub.id] = sub
	if sub.all {
		d.allSubs[sub.id] = sub
	} else {
		if d.byEvent[sub.event] == nil {
			d.byEvent[sub.event] = make(map[string]*subscription)
		}
		d.byEvent[sub.event][sub.id] = sub
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		for msg := range sub.ch {
			sub.handler(msg.event, msg.data)
		}
	}()
	return sub.id
}

// Unsubscribe removes a subscription. Events already queued for it are
// still delivered.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	sub, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
		delete(d.allSubs, id)
		if m := d.byEvent[sub.event]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(d.byEvent, sub.event)
			}
		}
	}
	d.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish hands an event to every matching subscription without blocking.
func (d *Dispatcher) Publish(event structs.EventName, data json.RawMessage) {
	msg := eventMsg{event: event, data: data}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, sub := range d.byEvent[event] {
		d.deliver(sub, msg)
	}
	for _, sub := range d.allSubs {
		d.deliver(sub, msg)
	}
}

func (d *Dispatcher) deliver(sub *subscription, msg eventMsg) {
	select {
	case sub.ch <- msg:
	default:
		d.log.Warn("subscriber is not keeping up, event dropped",
			"event_name", msg.event, "subscription_id", sub.id)
	}
}

// Close stops all subscriptions and waits for queued events to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := make([]*subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		subs = append(subs, sub)
	}
	d.subs = make(map[string]*subscription)
	d.byEvent = make(map[structs.EventName]map[string]*subscription)
	d.allSubs = make(map[string]*subscription)
	d.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	d.wg.Wait()
}
