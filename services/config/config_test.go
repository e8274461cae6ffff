// config/config_test.go
package config

import (
	"context"
	"testing"
	"time"

	"sensorcode-go/bus"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
		if profile != "sim" {
			return nil, false
		}
		return []byte(`{
			"cam": {"lanes": 2},
			"heartbeat": {"interval": 1}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxProfileKey, "sim")
	svc.Start(ctx, conn)

	sub := conn.Subscribe(bus.T(configPrefix, bus.Plus))
	defer sub.Unsubscribe()

	got := map[string]any{}
	deadline := time.Now().Add(time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			key, _ := m.Topic[1].(string)
			if !m.Retained {
				t.Fatalf("config/%s not retained", key)
			}
			got[key] = m.Payload
		case <-time.After(50 * time.Millisecond):
		}
	}

	cam, ok := got["cam"].(map[string]any)
	if !ok {
		t.Fatalf("no cam config: %v", got)
	}
	if cam["lanes"] != float64(2) {
		t.Fatalf("cam config: %v", cam)
	}
	if _, ok := got["heartbeat"]; !ok {
		t.Fatalf("no heartbeat config: %v", got)
	}
}

func TestConfig_UnknownProfile(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxProfileKey, "nope")
	if err := svc.publishConfig(ctx, conn); err == nil {
		t.Fatal("unknown profile accepted")
	}
	if err := svc.publishConfig(context.Background(), conn); err == nil {
		t.Fatal("missing profile accepted")
	}
}

func TestConfig_EmbeddedProfilesParse(t *testing.T) {
	for name := range embeddedConfigs {
		b := bus.NewBus(16)
		conn := b.NewConnection("test-config")
		ctx := context.WithValue(context.Background(), CtxProfileKey, name)
		if err := NewConfigService().publishConfig(ctx, conn); err != nil {
			t.Fatalf("profile %s: %v", name, err)
		}
	}
}
