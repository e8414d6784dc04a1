package broadcast

import (
	"sync"

	"github.com/google/uuid"

	"pulse/internal/logger"
	"pulse/internal/signal"
)

// Listener is an in-process callback invoked synchronously on every publish,
// in registration order.
type Listener func(*signal.Signal)

const defaultSubscriberBuffer = 16

// Hub fans a newly created signal out to in-process listeners and to any
// number of long-lived subscriber channels. Delivery to subscribers is
// best-effort: a subscriber whose buffer is full is dropped (channel closed,
// registration removed) rather than allowed to stall the publish. The signal
// store stays authoritative, so a dropped consumer recovers via a store read.
type Hub struct {
	mu        sync.Mutex
	listeners []Listener
	subs      map[string]chan *signal.Signal
	buffer    int
	closed    bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string]chan *signal.Signal),
		buffer: buffer,
	}
}

// AddListener registers a synchronous callback for the process lifetime.
func (h *Hub) AddListener(l Listener) {
	if l == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, l)
	h.mu.Unlock()
}

// Subscribe registers a new consumer channel and returns its id. The caller
// owns the subscription and must Unsubscribe on every exit path.
func (h *Hub) Subscribe() (string, <-chan *signal.Signal) {
	ch := make(chan *signal.Signal, h.buffer)
	id := uuid.NewString()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe releases a consumer channel. Idempotent; safe after a drop.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish delivers sig to every listener, then to every subscriber channel.
// Never blocks on a slow subscriber.
func (h *Hub) Publish(sig *signal.Signal) {
	if sig == nil {
		return
	}
	h.mu.Lock()
	listeners := make([]Listener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	// Listeners run outside the lock so they may subscribe/unsubscribe.
	for _, l := range listeners {
		l(sig)
	}

	var dropped []chan *signal.Signal
	h.mu.Lock()
	for id, ch := range h.subs {
		select {
		case ch <- sig:
		default:
			// Full buffer: disconnect the slow consumer instead of
			// stalling everyone else.
			delete(h.subs, id)
			dropped = append(dropped, ch)
			logger.Warnf("broadcast: dropping slow subscriber %s", id)
		}
	}
	h.mu.Unlock()
	for _, ch := range dropped {
		close(ch)
	}
}

// SubscriberCount reports currently registered subscriber channels.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]chan *signal.Signal)
	h.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}
