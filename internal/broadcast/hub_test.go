package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/signal"
)

func testSig(id string) *signal.Signal {
	return &signal.Signal{ID: id, Symbol: "BTCUSDT", Action: signal.ActionBuy, Status: signal.StatusActive}
}

func TestListenersInvokedInRegistrationOrder(t *testing.T) {
	h := NewHub(4)
	var order []string
	h.AddListener(func(s *signal.Signal) { order = append(order, "first:"+s.ID) })
	h.AddListener(func(s *signal.Signal) { order = append(order, "second:"+s.ID) })

	h.Publish(testSig("a"))
	h.Publish(testSig("b"))

	assert.Equal(t, []string{"first:a", "second:a", "first:b", "second:b"}, order)
}

func TestSubscribeReceivesPublished(t *testing.T) {
	h := NewHub(4)
	id, ch := h.Subscribe()
	defer h.Unsubscribe(id)

	h.Publish(testSig("a"))

	select {
	case got := <-ch:
		assert.Equal(t, "a", got.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the signal")
	}
}

func TestSlowSubscriberDroppedNotBlocking(t *testing.T) {
	h := NewHub(1)
	slowID, slow := h.Subscribe()
	_, fast := h.Subscribe()
	_ = slowID

	// Fill the slow consumer's buffer, then publish once more; the hub must
	// disconnect it rather than stall.
	h.Publish(testSig("a"))
	done := make(chan struct{})
	go func() {
		h.Publish(testSig("b"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Equal(t, 1, h.SubscriberCount())

	// The fast consumer saw both signals.
	got := []string{(<-fast).ID, (<-fast).ID}
	assert.Equal(t, []string{"a", "b"}, got)

	// The dropped channel is closed after draining its buffered element.
	<-slow
	_, open := <-slow
	assert.False(t, open)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := NewHub(4)
	id, ch := h.Subscribe()
	require.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(id)
	h.Unsubscribe(id)
	assert.Zero(t, h.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)
}

func TestCloseDropsAll(t *testing.T) {
	h := NewHub(4)
	_, a := h.Subscribe()
	_, b := h.Subscribe()
	h.Close()

	_, openA := <-a
	_, openB := <-b
	assert.False(t, openA)
	assert.False(t, openB)
	assert.Zero(t, h.SubscriberCount())

	// Subscribing after close yields an already-closed channel.
	_, ch := h.Subscribe()
	_, open := <-ch
	assert.False(t, open)
}
