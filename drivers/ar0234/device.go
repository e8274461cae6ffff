package ar0234

import (
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"sensorcode-go/x/mathx"
)

// State is the sensor power/streaming state.
type State uint8

const (
	PoweredOff State = iota
	Standby           // powered, identified, not streaming
	Streaming
)

func (s State) String() string {
	switch s {
	case PoweredOff:
		return "powered_off"
	case Standby:
		return "standby"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Rail bulk-enables the sensor's supply rails.
type Rail interface {
	Enable() error
	Disable() error
}

// Clock gates the external sensor clock.
type Clock interface {
	Enable() error
	Disable() error
}

// ResetPin drives the reset-release line. True releases reset.
type ResetPin interface {
	Set(level bool)
}

// HWConfig is the static hardware description, supplied once at bring-up.
// ExtClkHz and LinkFreqHz must resolve to a capability-matrix entry or the
// device is unusable. Rails, Clk and Reset are optional; absent collaborators
// are skipped during power sequencing.
type HWConfig struct {
	ExtClkHz   uint32
	LinkFreqHz int64
	Lanes      int    // 2 or 4
	Addr       uint16 // 7-bit I2C address; 0 selects AddressDefault

	Rails Rail
	Clk   Clock
	Reset ResetPin
}

// ControlID names a user-visible control.
type ControlID uint8

const (
	CtrlExposure ControlID = iota
	CtrlAnalogGain
	CtrlDigitalGain
	CtrlHFlip
	CtrlVFlip
	CtrlVBlank
	CtrlHBlank // read-only
	CtrlTestPattern
	CtrlTestDataRed
	CtrlTestDataGreenR
	CtrlTestDataBlue
	CtrlTestDataGreenB
	controlCount
)

type control struct {
	min, max, def, val int32
	readOnly           bool
}

// CtrlInfo is a snapshot of one control's range and value.
type CtrlInfo struct {
	Min, Max, Default, Value int32
	ReadOnly                 bool
}

// Replay order for start-of-stream control propagation. Orientation is a
// single register covering both flips, so only one flip entry appears here.
var replayOrder = []ControlID{
	CtrlExposure,
	CtrlAnalogGain,
	CtrlDigitalGain,
	CtrlHFlip,
	CtrlVBlank,
	CtrlTestPattern,
	CtrlTestDataRed,
	CtrlTestDataGreenR,
	CtrlTestDataBlue,
	CtrlTestDataGreenB,
}

// Device is the control plane of one AR0234 sensor. A single mutex covers
// every state read/mutation and all register I/O issued on their behalf;
// exactly one control or configuration mutation is in flight at a time.
type Device struct {
	mu sync.Mutex

	bus  drivers.I2C
	addr uint16
	wbuf [4]byte
	rbuf [2]byte

	sleep func(time.Duration)

	hw   HWConfig
	link *LinkConfig
	lane LaneMode

	powered    bool
	identified bool
	mono       bool
	state      State

	format *Format
	ctrls  [controlCount]control
}

// New resolves the hardware description against the capability matrix and
// returns an unpowered device. It performs no I/O; a description that no
// matrix entry matches is rejected here, before any streaming attempt.
func New(bus drivers.I2C, hw HWConfig) (*Device, error) {
	lane, ok := laneModeOf(hw.Lanes)
	if !ok {
		return nil, fmt.Errorf("ar0234: invalid number of data lanes %d", hw.Lanes)
	}
	link, err := resolveLinkConfig(hw.ExtClkHz, hw.LinkFreqHz)
	if err != nil {
		return nil, fmt.Errorf("extclk %dHz link %dHz: %w", hw.ExtClkHz, hw.LinkFreqHz, err)
	}
	addr := hw.Addr
	if addr == 0 {
		addr = AddressDefault
	}
	d := &Device{
		bus:    bus,
		addr:   addr,
		sleep:  time.Sleep,
		hw:     hw,
		link:   link,
		lane:   lane,
		state:  PoweredOff,
		format: &formats[0],
	}
	d.initControls()
	return d, nil
}

func (d *Device) initControls() {
	d.ctrls[CtrlAnalogGain] = control{min: anaGainMin, max: anaGainMax, def: anaGainDefault, val: anaGainDefault}
	d.ctrls[CtrlDigitalGain] = control{min: dgtlGainMin, max: dgtlGainMax, def: dgtlGainDefault, val: dgtlGainDefault}
	d.ctrls[CtrlHFlip] = control{min: 0, max: 1}
	d.ctrls[CtrlVFlip] = control{min: 0, max: 1}
	d.ctrls[CtrlTestPattern] = control{min: 0, max: testPatternMax}
	for _, id := range []ControlID{CtrlTestDataRed, CtrlTestDataGreenR, CtrlTestDataBlue, CtrlTestDataGreenB} {
		d.ctrls[id] = control{min: testColorMin, max: testColorMax, def: testColorDefault, val: testColorDefault}
	}
	d.ctrls[CtrlExposure] = control{min: exposureMin}
	d.resetFramingLocked()
}

// resetFramingLocked recomputes the framing-dependent control ranges for the
// current format and sets vblank back to the format default, which in turn
// re-derives the exposure ceiling.
func (d *Device) resetFramingLocked() {
	lim := computeLimits(d.format, vblankMin)

	d.ctrls[CtrlVBlank] = control{
		min: lim.VBlankMin, max: lim.VBlankMax,
		def: lim.VBlankDefault, val: lim.VBlankDefault,
	}
	d.ctrls[CtrlHBlank] = control{
		min: lim.HBlank, max: lim.HBlank,
		def: lim.HBlank, val: lim.HBlank,
		readOnly: true,
	}

	exp := &d.ctrls[CtrlExposure]
	exp.min = lim.ExposureMin
	exp.max = lim.ExposureMax
	exp.def = lim.ExposureDefault
	if exp.val == 0 {
		exp.val = exp.def
	}
	exp.val = mathx.Clamp(exp.val, exp.min, exp.max)
}

// ---------------- Power sequencing ----------------

// PowerOn enables rails, then clock, then releases reset with the mandated
// settle delay. A failure mid-sequence undoes the completed steps before
// reporting. Powering an already-powered device is a no-op success.
func (d *Device) PowerOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerOnLocked()
}

func (d *Device) powerOnLocked() error {
	if d.powered {
		return nil
	}
	if d.hw.Rails != nil {
		if err := d.hw.Rails.Enable(); err != nil {
			return fmt.Errorf("%w: enable rails: %w", ErrPowerSequence, err)
		}
	}
	if d.hw.Clk != nil {
		if err := d.hw.Clk.Enable(); err != nil {
			if d.hw.Rails != nil {
				_ = d.hw.Rails.Disable()
			}
			return fmt.Errorf("%w: enable clock: %w", ErrPowerSequence, err)
		}
	}
	if d.hw.Reset != nil {
		d.hw.Reset.Set(true)
	}
	d.sleep(6200 * time.Microsecond)

	d.powered = true
	if d.identified {
		d.state = Standby
	}
	return nil
}

// PowerOff deasserts reset, disables the clock, then the rails, in that
// fixed order. The device lands in PoweredOff unconditionally; a failing
// disable degrades but does not abort the teardown.
func (d *Device) PowerOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powerOffLocked()
}

func (d *Device) powerOffLocked() error {
	var first error
	if d.hw.Reset != nil {
		d.hw.Reset.Set(false)
	}
	if d.hw.Clk != nil {
		if err := d.hw.Clk.Disable(); err != nil && first == nil {
			first = fmt.Errorf("ar0234: disable clock: %w", err)
		}
	}
	if d.hw.Rails != nil {
		if err := d.hw.Rails.Disable(); err != nil && first == nil {
			first = fmt.Errorf("ar0234: disable rails: %w", err)
		}
	}
	d.powered = false
	d.state = PoweredOff
	return first
}

// Identify reads the chip identification register and learns the color or
// monochrome variant from it. Any other value is fatal.
func (d *Device) Identify() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.powered {
		return ErrPoweredOff
	}
	v, err := d.readReg(regChipID, 2)
	if err != nil {
		return err
	}
	switch v {
	case ChipIDMono:
		d.mono = true
	case ChipIDColor:
		d.mono = false
	default:
		return fmt.Errorf("%w: 0x%04X", ErrChipID, v)
	}
	d.identified = true
	d.state = Standby
	return nil
}

// lp11Kick briefly toggles streaming so the data lanes reach the LP-11 idle
// state; the sensor does not enter it on power-up otherwise.
func (d *Device) lp11Kick() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeReg(regModeSelect, 1, modeStreaming); err != nil {
		return err
	}
	d.sleep(100 * time.Microsecond)
	if err := d.writeReg(regModeSelect, 1, modeStandby); err != nil {
		return err
	}
	d.sleep(100 * time.Microsecond)
	return nil
}

// Open runs the full bring-up: power on, identify, LP-11 kick. On any
// failure the device is powered back down and left unusable.
func (d *Device) Open() error {
	if err := d.PowerOn(); err != nil {
		return err
	}
	if err := d.Identify(); err != nil {
		_ = d.PowerOff()
		return err
	}
	if err := d.lp11Kick(); err != nil {
		_ = d.PowerOff()
		return err
	}
	return nil
}

// Close stops streaming best-effort and powers the sensor down.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Streaming {
		// Best effort; teardown proceeds regardless.
		_ = d.writeReg(regModeSelect, 1, modeStandby)
		d.state = Standby
	}
	return d.powerOffLocked()
}

// ---------------- Streaming ----------------

// StartStreaming programs the sensor and enables the stream. Only valid from
// Standby; starting while already streaming is a no-op success. The register
// program order is part of the contract: reset pulse, PLL/MIPI, lane count,
// common init, frame format, control replay, stream enable. A failure at any
// step leaves the device in Standby.
func (d *Device) StartStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Streaming {
		return nil
	}
	if d.state != Standby {
		return ErrPoweredOff
	}

	if err := d.writeSeq(seqReset); err != nil {
		return fmt.Errorf("ar0234: reset: %w", err)
	}
	if err := d.writeSeq(d.link.pll); err != nil {
		return fmt.Errorf("ar0234: pll/mipi config: %w", err)
	}
	if err := d.writeReg(regSerialFormat, 2, serialFormatMIPI|uint16(d.hw.Lanes)); err != nil {
		return fmt.Errorf("ar0234: lane config: %w", err)
	}
	if err := d.writeSeq(seqCommonInit); err != nil {
		return fmt.Errorf("ar0234: common init: %w", err)
	}
	if err := d.writeSeq(d.format.seq); err != nil {
		return fmt.Errorf("ar0234: frame format: %w", err)
	}
	if err := d.replayControlsLocked(); err != nil {
		return fmt.Errorf("ar0234: control replay: %w", err)
	}
	if err := d.writeReg(regModeSelect, 1, modeStreaming); err != nil {
		// The enable may or may not have latched; stay in Standby and
		// report, rather than claim a stream we cannot confirm.
		return fmt.Errorf("ar0234: stream enable: %w", err)
	}
	d.state = Streaming
	return nil
}

// StopStreaming disables the stream. The device transitions to Standby
// unconditionally; a failing disable write is returned for logging but must
// not block teardown. Stopping while not streaming is a no-op success.
func (d *Device) StopStreaming() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Streaming {
		return nil
	}
	err := d.writeReg(regModeSelect, 1, modeStandby)
	d.state = Standby
	if err != nil {
		return fmt.Errorf("ar0234: stream disable: %w", err)
	}
	return nil
}

// replayControlsLocked pushes every user-visible control's last-set value
// through the normal register path, so device state matches logical state
// after the init sequences.
func (d *Device) replayControlsLocked() error {
	for _, id := range replayOrder {
		if err := d.writeControlLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// ---------------- Controls ----------------

// writeControlLocked maps one control to its register write. The test
// pattern family deliberately writes nothing: the register-level effects are
// disabled on this sensor revision and the controls are accepted but inert.
func (d *Device) writeControlLocked(id ControlID) error {
	switch id {
	case CtrlExposure:
		return d.writeReg(regExposureCoarse, 2, uint16(d.ctrls[CtrlExposure].val))
	case CtrlAnalogGain:
		return d.writeReg(regAnalogGain, 2, uint16(d.ctrls[CtrlAnalogGain].val))
	case CtrlDigitalGain:
		return d.writeReg(regDigitalGain, 2, uint16(d.ctrls[CtrlDigitalGain].val))
	case CtrlHFlip, CtrlVFlip:
		orient := uint16(d.ctrls[CtrlVFlip].val)<<1 | uint16(d.ctrls[CtrlHFlip].val)
		return d.writeReg(regOrientation, 1, orient)
	case CtrlVBlank:
		return d.writeReg(regFrameLengthLines, 2, frameLength(d.format, d.ctrls[CtrlVBlank].val))
	case CtrlTestPattern, CtrlTestDataRed, CtrlTestDataGreenR, CtrlTestDataBlue, CtrlTestDataGreenB:
		return nil
	case CtrlHBlank:
		return nil
	default:
		return ErrUnknownControl
	}
}

// SetControl validates and applies one control value. While streaming the
// value is also written to the device; otherwise it is stored and replayed
// at the next stream start. Flips are rejected while streaming; a failed
// write leaves the previous value in place.
func (d *Device) SetControl(id ControlID, v int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setControlLocked(id, v)
}

func (d *Device) setControlLocked(id ControlID, v int32) error {
	if id >= controlCount {
		return ErrUnknownControl
	}
	c := &d.ctrls[id]
	if c.readOnly {
		return ErrReadOnly
	}
	if (id == CtrlHFlip || id == CtrlVFlip) && d.state == Streaming {
		return ErrBusy
	}
	if !mathx.Between(v, c.min, c.max) {
		return fmt.Errorf("%w: control %d value %d not in [%d, %d]", ErrRange, id, v, c.min, c.max)
	}
	if id == CtrlVBlank {
		return d.applyVBlankLocked(v)
	}

	prev := c.val
	c.val = v
	if d.state == Streaming {
		if err := d.writeControlLocked(id); err != nil {
			c.val = prev
			return err
		}
	}
	return nil
}

// applyVBlankLocked updates vblank and keeps the exposure ceiling derived
// from the live blanking value. While streaming it also reprograms the frame
// length register.
func (d *Device) applyVBlankLocked(v int32) error {
	vb := &d.ctrls[CtrlVBlank]
	exp := &d.ctrls[CtrlExposure]
	prevVB := vb.val
	prevExp := *exp

	vb.val = v
	lim := computeLimits(d.format, v)
	exp.max = lim.ExposureMax
	exp.def = lim.ExposureDefault
	exp.val = mathx.Clamp(exp.val, exp.min, exp.max)

	if d.state == Streaming {
		if err := d.writeReg(regFrameLengthLines, 2, frameLength(d.format, v)); err != nil {
			vb.val = prevVB
			*exp = prevExp
			return err
		}
	}
	return nil
}

// SetVBlank applies a vertical blanking value and returns the resulting
// limits so the caller can propagate the new exposure bound to its control
// surface.
func (d *Device) SetVBlank(v int32) (Limits, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setControlLocked(CtrlVBlank, v); err != nil {
		return Limits{}, err
	}
	return d.limitsLocked(), nil
}

// Control returns a snapshot of one control's range and value.
func (d *Device) Control(id ControlID) (CtrlInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id >= controlCount {
		return CtrlInfo{}, ErrUnknownControl
	}
	c := d.ctrls[id]
	return CtrlInfo{Min: c.min, Max: c.max, Default: c.def, Value: c.val, ReadOnly: c.readOnly}, nil
}

// ---------------- Format ----------------

// SetFormat selects the nearest supported frame size and makes it current.
// Rejected while streaming. A format change resets vblank to the format
// default and re-derives the exposure range.
func (d *Device) SetFormat(w, h uint32) (Format, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.setFormatLocked(w, h)
	if err != nil {
		return Format{}, err
	}
	return *f, nil
}

func (d *Device) setFormatLocked(w, h uint32) (*Format, error) {
	if d.state == Streaming {
		return nil, ErrBusy
	}
	f := nearestFormat(w, h)
	if f != d.format {
		d.format = f
		d.resetFramingLocked()
	}
	return f, nil
}

// ---------------- Snapshots ----------------

func (d *Device) limitsLocked() Limits {
	lim := computeLimits(d.format, d.ctrls[CtrlVBlank].val)
	lim.ExposureDefault = d.ctrls[CtrlExposure].def
	return lim
}

// Limits returns the timing limits consistent with the current format and
// the last-applied vblank value.
func (d *Device) Limits() Limits {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limitsLocked()
}

// State returns the current power/streaming state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Locked reports whether streaming-grabbed controls (the flips) are
// currently immutable.
func (d *Device) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == Streaming
}

// Mono reports the sensor variant learned at identification.
func (d *Device) Mono() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mono
}

// CurrentFormat returns a copy of the active frame format.
func (d *Device) CurrentFormat() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.format
}

func (d *Device) codeLocked() uint32 {
	if d.mono {
		return d.link.codes.mono
	}
	return d.link.codes.bayer
}

// Code returns the media bus format code for the resolved link config and
// sensor variant.
func (d *Device) Code() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codeLocked()
}

// PixelRateHz returns the nominal pixel clock for the configured lane count.
func (d *Device) PixelRateHz() int64 {
	return int64(freqPixClk[d.lane])
}

// LinkFreqHz returns the resolved link frequency.
func (d *Device) LinkFreqHz() int64 {
	return d.link.LinkFreqHz
}

// LaneCount returns the configured CSI-2 data lane count.
func (d *Device) LaneCount() int { return d.hw.Lanes }
