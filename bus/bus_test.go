// bus/bus_test.go
package bus

import (
	"context"
	"testing"
	"time"
)

func recvOne(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case got := <-sub.Channel():
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("config", "cam"))

	conn.Publish(conn.NewMessage(T("config", "cam"), "hello", false))

	if got := recvOne(t, sub); got.Payload.(string) != "hello" {
		t.Errorf("expected payload 'hello', got %v", got.Payload)
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("cam", "state"), "persist", true))

	sub := conn.Subscribe(T("cam", "state"))

	if got := recvOne(t, sub); got.Payload.(string) != "persist" {
		t.Errorf("expected retained payload 'persist', got %v", got.Payload)
	}
}

func TestRetainedClear(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("cam", "state"), "v1", true))
	conn.Publish(conn.NewMessage(T("cam", "state"), nil, true))

	sub := conn.Subscribe(T("cam", "state"))
	select {
	case got := <-sub.Channel():
		t.Fatalf("expected no retained message, got %v", got.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("cam", "ctrl", Plus, "set"))

	c.Publish(c.NewMessage(T("cam", "ctrl", "exposure", "set"), 1000, false))
	c.Publish(c.NewMessage(T("cam", "ctrl", "vblank", "set"), 16, false))
	c.Publish(c.NewMessage(T("cam", "pad", "fmt", "set"), 0, false)) // no match

	if got := recvOne(t, sub); got.Payload.(int) != 1000 {
		t.Errorf("expected 1000, got %v", got.Payload)
	}
	if got := recvOne(t, sub); got.Payload.(int) != 16 {
		t.Errorf("expected 16, got %v", got.Payload)
	}
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected extra message: %v", got.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWildcard_RetainedOnSubscribe(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(c.NewMessage(T("cam", "ctrl", "exposure", "value"), 42, true))
	c.Publish(c.NewMessage(T("cam", "ctrl", "vblank", "value"), 16, true))

	sub := c.Subscribe(T("cam", "ctrl", Plus, "value"))

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		got := recvOne(t, sub)
		seen[got.Payload.(int)] = true
	}
	if !seen[42] || !seen[16] {
		t.Errorf("missed retained values: %v", seen)
	}
}

func TestIntTokens(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("pad", 1, "fmt"))
	c.Publish(c.NewMessage(T("pad", 1, "fmt"), "meta", false))

	got := recvOne(t, sub)
	if n, ok := got.Topic[1].(int); !ok || n != 1 {
		t.Errorf("expected int token 1, got %v", got.Topic[1])
	}
}

func TestRequestReply(t *testing.T) {
	b := NewBus(4)
	srv := b.NewConnection("srv")
	cli := b.NewConnection("cli")

	sub := srv.Subscribe(T("cam", "ctrl", "exposure", "get"))
	go func() {
		req := <-sub.Channel()
		srv.Reply(req, map[string]any{"ok": true, "value": 2}, false)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := cli.Request(ctx, T("cam", "ctrl", "exposure", "get"), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	m := resp.Payload.(map[string]any)
	if m["value"].(int) != 2 {
		t.Errorf("expected value 2, got %v", m["value"])
	}
}

func TestUnsubscribePrunes(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("a", "b", "c"))
	c.Unsubscribe(sub)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.root.children) != 0 {
		t.Errorf("expected pruned trie, got %d children", len(b.root.children))
	}
}

func TestDisconnectClosesChannels(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("x"))
	s2 := c.Subscribe(T("y"))
	c.Disconnect()

	if _, ok := <-s1.Channel(); ok {
		t.Error("expected closed channel for s1")
	}
	if _, ok := <-s2.Channel(); ok {
		t.Error("expected closed channel for s2")
	}
}

func TestPublisherNotBlockedByConcurrentDrain(t *testing.T) {
	b := NewBus(1)
	pub := b.NewConnection("pub")
	rcv := b.NewConnection("rcv")
	sub := rcv.Subscribe(T("hot"))
	defer sub.Unsubscribe()

	// Drain concurrently so a receive can land between the publisher's
	// full-queue check and its drop-oldest reclaim. The publisher holds
	// the bus lock during fanout and must never wait on the queue.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-sub.Channel():
			case <-stop:
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			pub.Publish(pub.NewMessage(T("hot"), i, false))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked while subscriber drained its queue")
	}
	close(stop)
}
