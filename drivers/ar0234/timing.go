package ar0234

// Limits are the timing constraints derived from a frame format and the
// currently applied vertical blanking. They are recomputed on every format or
// vblank change and never stored stale; exposure's ceiling always tracks the
// live vblank value, not the format's nominal default.
type Limits struct {
	VBlankMin     int32
	VBlankMax     int32
	VBlankDefault int32

	// HBlank is fixed per format on this hardware generation: the line
	// length the sensor runs at is never reprogrammed, so the horizontal
	// budget is lineLengthDefault minus the active width.
	HBlank int32

	ExposureMin     int32
	ExposureMax     int32
	ExposureDefault int32
}

// computeLimits is pure: no device I/O, no state.
func computeLimits(f *Format, vblank int32) Limits {
	expMax := int32(f.Height) + vblank - exposureMin
	return Limits{
		VBlankMin:       vblankMin,
		VBlankMax:       frameLengthMax - int32(f.Height),
		VBlankDefault:   vblankMin,
		HBlank:          lineLengthDefault - int32(f.Width),
		ExposureMin:     exposureMin,
		ExposureMax:     expMax,
		ExposureDefault: expMax,
	}
}

// frameLength is the FRAME_LENGTH_LINES value for a format and vblank.
func frameLength(f *Format, vblank int32) uint16 {
	return uint16(int32(f.Height) + vblank)
}
