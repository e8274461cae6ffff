package types

// Payload shapes for the cam service bus surface.

// CamConfig is supplied on the "config/cam" bus topic. ExtClkHz, LinkFreqHz
// and Lanes come from the board description and are fixed for the life of the
// device; a mismatch against the sensor's capability matrix is fatal.
type CamConfig struct {
	ExtClkHz   uint32 `json:"extclk_hz"`
	LinkFreqHz int64  `json:"link_freq_hz"`
	Lanes      int    `json:"lanes"` // 2 or 4

	BusRef BusRef `json:"bus_ref,omitempty"`
	Addr   uint16 `json:"addr,omitempty"` // 7-bit I2C address; 0 = default
}

// BusRef identifies a named bus instance configured in the platform layer.
type BusRef struct {
	Type string `json:"type"` // e.g. "i2c"
	ID   string `json:"id"`   // e.g. "i2c0"
}

// ---- Control surface payloads ----

// CtrlSet carries one control write: cam/ctrl/<name>/set.
type CtrlSet struct {
	Value int32 `json:"value"`
}

// CtrlValue is the reply shape for one control.
type CtrlValue struct {
	OKReply
	Value   int32 `json:"value"`
	Min     int32 `json:"min"`
	Max     int32 `json:"max"`
	Default int32 `json:"default"`
}

// StreamReply answers cam/stream/<start|stop>.
type StreamReply struct {
	OKReply
	Streaming bool `json:"streaming"`
}

// ---- Pad surface payloads ----

// FormatReq requests an image format: cam/pad/<get_format|set_format>.
// Trial selects validate-and-echo only; otherwise the format is committed
// to the device.
type FormatReq struct {
	Pad    int    `json:"pad"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Code   uint32 `json:"code,omitempty"` // mbus format code; 0 = current
	Trial  bool   `json:"trial,omitempty"`
}

// PadEnumReq walks a pad's format or frame-size tables by index:
// cam/pad/<enum_code|enum_size>.
type PadEnumReq struct {
	Pad   int    `json:"pad"`
	Code  uint32 `json:"code,omitempty"` // frame-size enumeration only
	Index int    `json:"index"`
}

// SelectionReq requests a selection rectangle: cam/pad/selection.
type SelectionReq struct {
	Pad    int    `json:"pad"`
	Target string `json:"target"` // crop, native, crop_default, crop_bounds
	Trial  bool   `json:"trial,omitempty"`
}

// FormatReply echoes the (possibly adjusted) applied or trial format.
type FormatReply struct {
	OKReply
	Pad    int    `json:"pad"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
	Code   uint32 `json:"code"` // mbus format code
}

// CodeReply answers cam/pad/enum_code.
type CodeReply struct {
	OKReply
	Pad  int    `json:"pad"`
	Code uint32 `json:"code"`
}

// RectReply carries a crop or bounds rectangle.
type RectReply struct {
	OKReply
	Left   int32  `json:"left"`
	Top    int32  `json:"top"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// ---- Retained state ----

// CamState is retained on cam/state.
type CamState struct {
	Link      Link   `json:"link"`
	Streaming bool   `json:"streaming"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
	Code      uint32 `json:"code"`
	Mono      bool   `json:"mono"`
	TS        int64  `json:"ts_ms"`
}

// CamLimits is retained on cam/limits; it tracks the live timing limits.
type CamLimits struct {
	VBlankMin   int32 `json:"vblank_min"`
	VBlankMax   int32 `json:"vblank_max"`
	VBlank      int32 `json:"vblank"`
	HBlank      int32 `json:"hblank"` // read-only, fixed per format
	ExposureMin int32 `json:"exposure_min"`
	ExposureMax int32 `json:"exposure_max"`
	PixelRateHz int64 `json:"pixel_rate_hz"`
	LinkFreqHz  int64 `json:"link_freq_hz"`
}
