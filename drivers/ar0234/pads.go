package ar0234

// Pad surface. The sensor exposes two source pads: the image stream and the
// embedded metadata lines that precede each frame. Format negotiation runs
// through these pads in either trial or active mode; trial state is held
// per device and never touches the hardware.

// Pad identifies one of the sensor's source pads.
type Pad uint8

const (
	PadImage Pad = iota
	PadMetadata
	padCount
)

// Which selects between negotiated trial state and applied active state.
type Which uint8

const (
	WhichActive Which = iota
	WhichTry
)

// FrameFmt is a pad-level frame format: a media bus code plus a size.
type FrameFmt struct {
	Code   uint32
	Width  uint32
	Height uint32
}

// SelTarget names a selection rectangle on the image pad.
type SelTarget uint8

const (
	SelCrop SelTarget = iota
	SelNative
	SelCropDefault
	SelCropBounds
)

// TryState holds the per-client trial negotiation state, separate from the
// device's applied configuration.
type TryState struct {
	format *Format
}

// NewTryState returns trial state initialized to the default format.
func NewTryState() *TryState {
	return &TryState{format: &formats[0]}
}

// metadataFmt is the fixed format of the embedded-data pad. It does not
// follow the image crop; the sensor always emits full-width embedded lines.
func metadataFmt() FrameFmt {
	return FrameFmt{
		Code:   CodeMetadata,
		Width:  embeddedLineWidth,
		Height: numEmbeddedLines,
	}
}

// GetFormat returns the format on a pad. For the image pad the trial or
// active format is reported with the code derived from the resolved link
// config and sensor variant; the metadata pad is fixed.
func (d *Device) GetFormat(ts *TryState, which Which, pad Pad) (FrameFmt, error) {
	if pad >= padCount {
		return FrameFmt{}, ErrUnknownControl
	}
	if pad == PadMetadata {
		return metadataFmt(), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.format
	if which == WhichTry {
		f = ts.format
	}
	return FrameFmt{Code: d.codeLocked(), Width: f.Width, Height: f.Height}, nil
}

// SetPadFormat negotiates a format on a pad and returns what was actually
// applied. Requests snap to the nearest supported frame size and the code is
// always the sensor's own; the metadata pad is immutable and echoes its
// fixed format. Active mutation is rejected while streaming.
func (d *Device) SetPadFormat(ts *TryState, which Which, pad Pad, req FrameFmt) (FrameFmt, error) {
	if pad >= padCount {
		return FrameFmt{}, ErrUnknownControl
	}
	if pad == PadMetadata {
		return metadataFmt(), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if which == WhichTry {
		ts.format = nearestFormat(req.Width, req.Height)
		return FrameFmt{Code: d.codeLocked(), Width: ts.format.Width, Height: ts.format.Height}, nil
	}
	f, err := d.setFormatLocked(req.Width, req.Height)
	if err != nil {
		return FrameFmt{}, err
	}
	return FrameFmt{Code: d.codeLocked(), Width: f.Width, Height: f.Height}, nil
}

// EnumFormatCode enumerates the media bus codes a pad can produce. Each pad
// exposes exactly one code: the image pad the code for the resolved link
// config and variant, the metadata pad the embedded-data code.
func (d *Device) EnumFormatCode(pad Pad, index int) (uint32, bool) {
	if pad >= padCount || index != 0 {
		return 0, false
	}
	if pad == PadMetadata {
		return CodeMetadata, true
	}
	return d.Code(), true
}

// EnumFrameSize enumerates the discrete frame sizes for a pad and code.
func (d *Device) EnumFrameSize(pad Pad, code uint32, index int) (FrameFmt, bool) {
	switch pad {
	case PadImage:
		if code != d.Code() {
			return FrameFmt{}, false
		}
		f, ok := FormatAt(index)
		if !ok {
			return FrameFmt{}, false
		}
		return FrameFmt{Code: code, Width: f.Width, Height: f.Height}, true
	case PadMetadata:
		if code != CodeMetadata || index != 0 {
			return FrameFmt{}, false
		}
		return metadataFmt(), true
	default:
		return FrameFmt{}, false
	}
}

// Selection returns a selection rectangle on the image pad. The crop tracks
// the trial or active format; the native, default and bounds targets are
// static sensor geometry.
func (d *Device) Selection(ts *TryState, which Which, pad Pad, target SelTarget) (Rect, error) {
	if pad != PadImage {
		return Rect{}, ErrUnknownControl
	}
	switch target {
	case SelCrop:
		d.mu.Lock()
		defer d.mu.Unlock()
		f := d.format
		if which == WhichTry {
			f = ts.format
		}
		return f.Crop, nil
	case SelNative:
		return Rect{Left: 0, Top: 0, Width: nativeWidth, Height: nativeHeight}, nil
	case SelCropDefault, SelCropBounds:
		return Rect{
			Left:   pixelArrayLeft,
			Top:    pixelArrayTop,
			Width:  pixelArrayWidth,
			Height: pixelArrayHeight,
		}, nil
	default:
		return Rect{}, ErrUnknownControl
	}
}
