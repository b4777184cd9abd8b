package dashboard

import (
	"log"
	"os"
	"testing"
	"time"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(log.New(os.Stderr, "", 0))
	go b.Run()
	defer b.Shutdown()

	c1 := &Client{ID: "c1", Send: make(chan Message, 8)}
	c2 := &Client{ID: "c2", Send: make(chan Message, 8)}
	b.Register(c1)
	b.Register(c2)

	b.Publish(EventTickResult, map[string]int{"orders": 1})

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			if msg.Type != EventTickResult {
				t.Errorf("client %s: wrong type %q", c.ID, msg.Type)
			}
			if msg.Timestamp == "" {
				t.Errorf("client %s: missing timestamp", c.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %s: no message received", c.ID)
		}
	}
}

func TestBroadcaster_UnregisterStopsDelivery(t *testing.T) {
	b := NewBroadcaster(log.New(os.Stderr, "", 0))
	go b.Run()
	defer b.Shutdown()

	c := &Client{ID: "c", Send: make(chan Message, 8)}
	b.Register(c)
	b.Unregister(c)

	// The channel is closed on unregister.
	if _, open := <-c.Send; open {
		t.Error("send channel should be closed after unregister")
	}

	// Publishing after unregister must not panic.
	b.Publish(EventOrder, nil)
}

func TestBroadcaster_SlowClientDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(log.New(os.Stderr, "", 0))
	go b.Run()
	defer b.Shutdown()

	slow := &Client{ID: "slow", Send: make(chan Message)} // unbuffered, never read
	b.Register(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(EventAlertCreated, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a slow client")
	}
}
