package config

import (
	"context"
	"encoding/json"
	"errors"

	"sensorcode-go/bus"
)

const (
	serviceName   = "config"
	configPrefix  = "config"
	CtxProfileKey = "profile" // context key holding the deployment profile name
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
	b, ok := embeddedConfigs[profile]
	return b, ok
}

// ConfigService publishes the embedded configuration of a deployment profile
// as one retained message per service, on config/<service>. Services pick up
// their slice whenever they subscribe, regardless of start order.
type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	profile, _ := ctx.Value(CtxProfileKey).(string)
	if profile == "" {
		return errors.New("missing profile name in context")
	}

	raw, ok := EmbeddedConfigLookup(profile)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for profile: " + profile)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}

	for k, v := range m {
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		})
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		_ = s.publishConfig(ctx, conn)
	}()
}
