package ar0234

import (
	"sensorcode-go/x/mathx"
)

// Rect is a crop rectangle relative to the pixel array origin.
type Rect struct {
	Left   int32
	Top    int32
	Width  uint32
	Height uint32
}

// Format is one supported frame size with its readout window sequence.
// Formats are immutable and drawn from the fixed table below.
type Format struct {
	Width  uint32
	Height uint32
	Crop   Rect
	seq    []Op
}

// fmtCodes pairs the bayer and monochrome variants of a media bus code.
type fmtCodes struct {
	bayer uint32
	mono  uint32
}

// LinkConfig binds an (external clock, link frequency) pair to the PLL/MIPI
// sequence and format codes that drive it. Exactly one entry must match the
// hardware description at bring-up.
type LinkConfig struct {
	LinkFreqHz int64
	ExtClkHz   uint32
	pll        []Op
	codes      fmtCodes
}

var linkConfigs = []LinkConfig{
	{
		LinkFreqHz: FreqLink8Bit,
		ExtClkHz:   FreqExtClk,
		pll:        seqPLL24MHz360MHz8Bit,
		codes:      fmtCodes{bayer: CodeSGRBG8, mono: CodeY8},
	},
	{
		LinkFreqHz: FreqLink10Bit,
		ExtClkHz:   FreqExtClk,
		pll:        seqPLL24MHz450MHz10Bit,
		codes:      fmtCodes{bayer: CodeSGRBG10, mono: CodeY10},
	},
}

// LaneMode indexes per-lane-count tables.
type LaneMode uint8

const (
	Lane2 LaneMode = iota
	Lane4
	laneModeCount
)

// Pixel clock frequencies are keyed by lane amount.
var freqPixClk = [laneModeCount]uint32{
	Lane2: freqPixClk2Lane,
	Lane4: freqPixClk4Lane,
}

// laneModeOf maps a CSI-2 data lane count to its table index.
func laneModeOf(lanes int) (LaneMode, bool) {
	switch lanes {
	case 2:
		return Lane2, true
	case 4:
		return Lane4, true
	default:
		return 0, false
	}
}

// resolveLinkConfig does a linear search over the static table; both
// frequencies must match exactly.
func resolveLinkConfig(extclkHz uint32, linkFreqHz int64) (*LinkConfig, error) {
	for i := range linkConfigs {
		c := &linkConfigs[i]
		if c.ExtClkHz == extclkHz && c.LinkFreqHz == linkFreqHz {
			return c, nil
		}
	}
	return nil, ErrNoLinkConfig
}

// The supported frame sizes, in preference order. Entry 0 is the default.
var formats = []Format{
	{
		Width:  1920,
		Height: 1200,
		Crop: Rect{
			Left:   pixelArrayLeft,
			Top:    pixelArrayTop,
			Width:  1920,
			Height: 1200,
		},
		seq: seq1920x1200,
	},
	{
		Width:  1280,
		Height: 800,
		Crop: Rect{
			Left:   320,
			Top:    200,
			Width:  1280,
			Height: 800,
		},
		seq: seq1280x800,
	},
}

// FormatCount returns the number of supported frame sizes.
func FormatCount() int { return len(formats) }

// FormatAt returns the i-th supported frame size, in table order.
func FormatAt(i int) (*Format, bool) {
	if i < 0 || i >= len(formats) {
		return nil, false
	}
	return &formats[i], true
}

// nearestFormat selects the table entry minimizing the squared size distance
// to the request; ties break toward the earlier entry. It is total: any
// request maps to some format.
func nearestFormat(w, h uint32) *Format {
	best := &formats[0]
	bestDist := int64(-1)
	for i := range formats {
		f := &formats[i]
		dw := int64(mathx.Abs(int64(w) - int64(f.Width)))
		dh := int64(mathx.Abs(int64(h) - int64(f.Height)))
		dist := dw*dw + dh*dh
		if bestDist < 0 || dist < bestDist {
			best, bestDist = f, dist
		}
	}
	return best
}
