package heartbeat

import (
	"context"
	"time"

	"sensorcode-go/bus"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("system", "heartbeat")
)

// Service publishes a retained liveness beat on system/heartbeat. Anything
// watching the bus (the MQTT bridge included) can tell a wedged process from
// a quiet one by the beat timestamp going stale.
type Service struct{}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	start := time.Now()
	var beats uint64

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			beats++
			conn.Publish(conn.NewMessage(topicHeartbeat, map[string]any{
				"beats":     beats,
				"uptime_s":  int64(time.Since(start).Seconds()),
				"ts_ms":     time.Now().UnixMilli(),
			}, true))
		case msg := <-cfgSub.Channel():
			// Change tick interval if needed.
			if m, ok := msg.Payload.(map[string]any); ok {
				if iv, ok := m["interval"]; ok {
					if interval, ok := iv.(float64); ok && interval > 0 {
						tick.Reset(time.Duration(interval * float64(time.Second)))
					}
				}
			}
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
