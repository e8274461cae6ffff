package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: deployment profile name (same value placed in ctx under CtxProfileKey)
// Val: raw JSON, one top-level key per service
// -----------------------------------------------------------------------------

// sim: simulated sensor, no uplink. Used by sensorcli and development runs.
const cfgSim = `{
  "cam": {
      "extclk_hz": 24000000,
      "link_freq_hz": 450000000,
      "lanes": 2,
      "bus_ref": {"type": "sim", "id": "sim0"}
  },
  "heartbeat": {
      "interval": 2
  }
}`

// bench: sensor behind a USB serial I2C adapter, state mirrored to a local
// broker.
const cfgBench = `{
  "cam": {
      "extclk_hz": 24000000,
      "link_freq_hz": 450000000,
      "lanes": 2,
      "bus_ref": {"type": "serial", "id": "/dev/ttyACM0"}
  },
  "bridge": {
      "broker": "tcp://127.0.0.1:1883",
      "client_id": "sensorcode-bench",
      "prefix": "sensors/cam0"
  },
  "heartbeat": {
      "interval": 5
  }
}`

var embeddedConfigs = map[string][]byte{
	"sim":   []byte(cfgSim),
	"bench": []byte(cfgBench),
}
