// bridge/bridge.go
//
// The bridge mirrors the local bus onto an MQTT broker: retained sensor
// state flows up, commands flow down. Topic mapping is prefix-based:
//
//	<prefix>/state            <- cam/state (retained)
//	<prefix>/limits           <- cam/limits (retained)
//	<prefix>/service          <- cam/service (retained)
//	<prefix>/cmd/<path...>    -> request on the local bus at <path...>
//	<prefix>/rsp/<path...>    <- the reply to that request
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sensorcode-go/bus"
	"sensorcode-go/types"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)connects
// the uplink.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Broker   string `json:"broker"` // e.g. "tcp://10.0.0.1:1883"
	ClientID string `json:"client_id"`
	Prefix   string `json:"prefix"` // e.g. "sensors/cam0"
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	KeepAliveS  int `json:"keepalive_s,omitempty"`
	RequestMS   int `json:"request_ms,omitempty"` // downlink request timeout
	MirrorQueue int `json:"mirror_queue,omitempty"`
}

func (c *Config) validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	if c.ClientID == "" {
		c.ClientID = "sensorcode-bridge"
	}
	if c.KeepAliveS <= 0 {
		c.KeepAliveS = 30
	}
	if c.RequestMS <= 0 {
		c.RequestMS = 2000
	}
	if c.MirrorQueue <= 0 {
		c.MirrorQueue = 32
	}
	return nil
}

// mirrored are the local retained topics pushed to the broker, keyed by
// their uplink suffix.
var mirrored = map[string]bus.Topic{
	"state":   bus.T("cam", "state"),
	"limits":  bus.T("cam", "limits"),
	"service": bus.T("cam", "service"),
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single uplink instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			if err := cfg.validate(); err != nil {
				s.publishState("error", "config_invalid", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runUplink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Uplink supervision
// -----------------------------------------------------------------------------

// connect is swapped out by tests to avoid a real broker.
var connect = func(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(time.Duration(cfg.KeepAliveS) * time.Second).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	c := mqtt.NewClient(opts)
	if tok := c.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, tok.Error()
	}
	return c, nil
}

func (s *Service) runUplink(ctx context.Context, cfg Config) {
	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client, err := connect(cfg)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "connect_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "uplink_established", nil)
		err = s.mirror(ctx, cfg, client)
		client.Disconnect(250)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "uplink_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean shutdown: restart only on new config.
		return
	}
}

// mirror owns the active uplink lifetime: retained local state goes up,
// broker commands come down as local requests.
func (s *Service) mirror(ctx context.Context, cfg Config, client mqtt.Client) error {
	var subs []*bus.Subscription
	agg := make(chan upMsg, cfg.MirrorQueue)
	done := make(chan struct{})
	defer close(done)

	for suffix, topic := range mirrored {
		sub := s.conn.Subscribe(topic)
		subs = append(subs, sub)
		go func(suffix string, ch <-chan *bus.Message) {
			for {
				select {
				case <-done:
					return
				case m, ok := <-ch:
					if !ok {
						return
					}
					select {
					case agg <- upMsg{suffix: suffix, payload: m.Payload}:
					case <-done:
						return
					}
				}
			}
		}(suffix, sub.Channel())
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()

	// Downlink: <prefix>/cmd/# -> local request -> <prefix>/rsp/...
	cmdFilter := cfg.Prefix + "/cmd/#"
	handler := func(_ mqtt.Client, m mqtt.Message) {
		suffix := strings.TrimPrefix(m.Topic(), cfg.Prefix+"/cmd/")
		go s.downlink(ctx, cfg, client, suffix, m.Payload())
	}
	if tok := client.Subscribe(cmdFilter, 1, handler); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", cmdFilter, tok.Error())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-agg:
			b, err := json.Marshal(m.payload)
			if err != nil {
				continue
			}
			if tok := client.Publish(cfg.Prefix+"/"+m.suffix, 1, true, b); tok.Wait() && tok.Error() != nil {
				return fmt.Errorf("publish %s: %w", m.suffix, tok.Error())
			}
		}
	}
}

type upMsg struct {
	suffix  string
	payload any
}

// downlink forwards one broker command onto the local bus and mirrors the
// reply back. The suffix path maps one-to-one to bus topic tokens, so
// "ctrl/exposure/set" lands on {"cam","ctrl","exposure","set"}.
func (s *Service) downlink(ctx context.Context, cfg Config, client mqtt.Client, suffix string, payload []byte) {
	parts := strings.Split(suffix, "/")
	topic := bus.T("cam")
	for _, p := range parts {
		if p == "" {
			return
		}
		topic = append(topic, p)
	}

	rctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.RequestMS)*time.Millisecond)
	defer cancel()
	reply, err := s.conn.Request(rctx, topic, payload)

	var b []byte
	if err != nil {
		b, _ = json.Marshal(types.ErrorReply{Error: "timeout"})
	} else if b, err = json.Marshal(reply.Payload); err != nil {
		return
	}
	client.Publish(cfg.Prefix+"/rsp/"+suffix, 1, false, b)
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	switch v := p.(type) {
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case Config:
		cfg = v
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := types.ServiceState{
		Level:  level,  // "up", "degraded", "error", "idle"
		Status: status, // short machine string
		TS:     time.Now().UnixMilli(),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
