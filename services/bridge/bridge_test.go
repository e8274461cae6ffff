// bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sensorcode-go/bus"
	"sensorcode-go/types"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type doneToken struct{ ch chan struct{} }

func newDoneToken() *doneToken {
	t := &doneToken{ch: make(chan struct{})}
	close(t.ch)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.ch }
func (t *doneToken) Error() error                   { return nil }

type pubRecord struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes and exposes the command handler the bridge
// registered, so tests can inject downlink messages.
type fakeClient struct {
	mu      sync.Mutex
	pubs    []pubRecord
	handler mqtt.MessageHandler
	filter  string
}

var _ mqtt.Client = (*fakeClient)(nil)

func (f *fakeClient) IsConnected() bool       { return true }
func (f *fakeClient) IsConnectionOpen() bool  { return true }
func (f *fakeClient) Connect() mqtt.Token     { return newDoneToken() }
func (f *fakeClient) Disconnect(quiesce uint) {}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.pubs = append(f.pubs, pubRecord{topic: topic, retained: retained, payload: b})
	return newDoneToken()
}

func (f *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = topic
	f.handler = cb
	return newDoneToken()
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	return newDoneToken()
}
func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token           { return newDoneToken() }
func (f *fakeClient) AddRoute(topic string, cb mqtt.MessageHandler)     {}
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader           { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) published(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pubs {
		if p.topic == topic {
			return p.payload, true
		}
	}
	return nil, false
}

func (f *fakeClient) inject(topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(f, &fakeMessage{topic: topic, payload: payload})
	return true
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// -----------------------------------------------------------------------------
// Harness
// -----------------------------------------------------------------------------

func startBridge(t *testing.T) (*bus.Bus, *bus.Connection, *fakeClient) {
	t.Helper()

	client := &fakeClient{}
	prevConnect := connect
	connect = func(cfg Config) (mqtt.Client, error) { return client, nil }
	t.Cleanup(func() { connect = prevConnect })

	b := bus.NewBus(128)
	brConn := b.NewConnection("bridge")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Start(ctx, brConn)

	cli := b.NewConnection("test")
	t.Cleanup(cli.Disconnect)

	// Wait for the service before configuring, then wait for the uplink.
	waitState(t, cli, "idle")
	cli.Publish(cli.NewMessage(bus.T("config", "bridge"), Config{
		Broker:    "tcp://broker.local:1883",
		Prefix:    "sensors/cam0",
		RequestMS: 200,
	}, false))
	waitState(t, cli, "up")
	return b, cli, client
}

func waitState(t *testing.T, cli *bus.Connection, level string) {
	t.Helper()
	sub := cli.Subscribe(bus.T("bridge", "state"))
	defer sub.Unsubscribe()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-sub.Channel():
			if st, ok := msg.Payload.(types.ServiceState); ok && st.Level == level {
				return
			}
		case <-deadline:
			t.Fatalf("bridge never reached state %q", level)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestBridge_MirrorsRetainedState(t *testing.T) {
	_, cli, client := startBridge(t)

	cli.Publish(cli.NewMessage(bus.T("cam", "state"), types.CamState{
		Link:  types.LinkUp,
		Width: 1920,
	}, true))

	waitFor(t, func() bool {
		_, ok := client.published("sensors/cam0/state")
		return ok
	})
	b, _ := client.published("sensors/cam0/state")
	var st types.CamState
	if err := json.Unmarshal(b, &st); err != nil {
		t.Fatalf("uplink payload: %v", err)
	}
	if st.Width != 1920 || st.Link != types.LinkUp {
		t.Fatalf("mirrored state: %+v", st)
	}
}

func TestBridge_SubscribesCommandFilter(t *testing.T) {
	_, _, client := startBridge(t)

	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.filter != ""
	})
	client.mu.Lock()
	filter := client.filter
	client.mu.Unlock()
	if filter != "sensors/cam0/cmd/#" {
		t.Fatalf("command filter: %q", filter)
	}
}

func TestBridge_DownlinkRequestReply(t *testing.T) {
	b, _, client := startBridge(t)

	// A responder standing in for the cam service.
	svc := b.NewConnection("svc")
	defer svc.Disconnect()
	sub := svc.Subscribe(bus.T("cam", "stream", "start"))
	go func() {
		for msg := range sub.Channel() {
			svc.Reply(msg, map[string]any{"ok": true, "streaming": true}, false)
		}
	}()

	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.handler != nil
	})
	if !client.inject("sensors/cam0/cmd/stream/start", []byte(`{}`)) {
		t.Fatal("no command handler registered")
	}

	waitFor(t, func() bool {
		_, ok := client.published("sensors/cam0/rsp/stream/start")
		return ok
	})
	rb, _ := client.published("sensors/cam0/rsp/stream/start")
	var m map[string]any
	if err := json.Unmarshal(rb, &m); err != nil {
		t.Fatalf("reply payload: %v", err)
	}
	if m["ok"] != true || m["streaming"] != true {
		t.Fatalf("downlink reply: %v", m)
	}
}

func TestBridge_DownlinkTimeout(t *testing.T) {
	_, _, client := startBridge(t)

	waitFor(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.handler != nil
	})
	// Nobody answers on this topic; expect a timeout reply.
	client.inject("sensors/cam0/cmd/nowhere", []byte(`{}`))

	waitFor(t, func() bool {
		_, ok := client.published("sensors/cam0/rsp/nowhere")
		return ok
	})
	rb, _ := client.published("sensors/cam0/rsp/nowhere")
	var er types.ErrorReply
	_ = json.Unmarshal(rb, &er)
	if er.OK || er.Error != "timeout" {
		t.Fatalf("timeout reply: %+v", er)
	}
}

func TestConfig_Validate(t *testing.T) {
	c := Config{}
	if err := c.validate(); err == nil || !strings.Contains(err.Error(), "broker") {
		t.Fatalf("empty config: %v", err)
	}
	c = Config{Broker: "tcp://x:1883"}
	if err := c.validate(); err == nil || !strings.Contains(err.Error(), "prefix") {
		t.Fatalf("no prefix: %v", err)
	}
	c = Config{Broker: "tcp://x:1883", Prefix: "p"}
	if err := c.validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if c.ClientID == "" || c.KeepAliveS == 0 || c.RequestMS == 0 {
		t.Fatalf("defaults not applied: %+v", c)
	}
}
