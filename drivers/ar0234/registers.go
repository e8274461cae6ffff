// Package ar0234 provides constants for register addresses and static tables
// used in the operation of the AR0234 MIPI CSI-2 image sensor.
package ar0234

const (
	// 7-bit I2C address.
	AddressDefault = 0x10

	// --- Register sub-addresses (16-bit address, big-endian on the wire) ---

	regChipID           = 0x3000 // R, 16-bit
	regYAddrStart       = 0x3002
	regXAddrStart       = 0x3004
	regYAddrEnd         = 0x3006
	regXAddrEnd         = 0x3008
	regFrameLengthLines = 0x300A
	regExposureCoarse   = 0x3012
	regReset            = 0x301A
	regModeSelect       = 0x301C // 8-bit
	regOrientation      = 0x301D // 8-bit, bit0 hflip, bit1 vflip
	regVTPixClkDiv      = 0x302A
	regVTSysClkDiv      = 0x302C
	regPrePLLClkDiv     = 0x302E
	regPLLMultiplier    = 0x3030
	regOpPixClkDiv      = 0x3036
	regOpSysClkDiv      = 0x3038
	regReadMode         = 0x3040
	regDigitalGain      = 0x305E
	regAnalogGain       = 0x3060
	regSMIATest         = 0x3064
	regDatapathSelect   = 0x306E
	regTestPattern      = 0x3070
	regTestDataRed      = 0x3072
	regTestDataGreenR   = 0x3074
	regTestDataBlue     = 0x3076
	regTestDataGreenB   = 0x3078
	regOperationMode    = 0x3082
	regSeqDataPort      = 0x3086
	regSeqCtrlPort      = 0x3088
	regXOddInc          = 0x30A2
	regYOddInc          = 0x30A6
	regDigitalTest      = 0x30B0
	regTempsensCtrl     = 0x30B4
	regAELumaTarget     = 0x3102
	regDeltaDKControl   = 0x3180
	regDataFormatBits   = 0x31AC
	regSerialFormat     = 0x31AE
	regFramePreamble    = 0x31B0
	regLinePreamble     = 0x31B2
	regMIPITiming0      = 0x31B4
	regMIPITiming1      = 0x31B6
	regMIPITiming2      = 0x31B8
	regMIPITiming3      = 0x31BA
	regMIPITiming4      = 0x31BC
	regCompanding       = 0x31D0
	regPixDefID         = 0x31E0
	regMIPICtrl         = 0x3354

	// --- Chip identification ---

	ChipIDColor = 0x0A56
	ChipIDMono  = 0x1A56

	// --- Mode select values (8-bit) ---

	modeStreaming = 0x01
	modeStandby   = 0x00

	// --- Serial interface ---

	// SERIAL_FORMAT = serialFormatMIPI | lane count.
	serialFormatMIPI = 0x0200

	// --- Frame timing ---

	frameLengthMax    = 0xFFFF
	vblankMin         = 16
	lineLengthDefault = 612

	// Coarse integration floor, in lines. The exposure ceiling for a given
	// vblank is height + vblank - exposureMin.
	exposureMin = 2

	// --- Gains ---

	anaGainMin     = 0
	anaGainMax     = 232
	anaGainDefault = 0

	dgtlGainMin     = 0x0100
	dgtlGainMax     = 0x0FFF
	dgtlGainDefault = 0x0100

	// --- Test pattern (register effects intentionally disabled, see device.go) ---

	testPatternMax   = 4 // menu index bound
	testColorMin     = 0
	testColorMax     = 0x03FF
	testColorDefault = testColorMax

	// --- Pixel array geometry ---

	pixelArrayLeft   = 6
	pixelArrayTop    = 10
	pixelArrayWidth  = 1920
	pixelArrayHeight = 1200

	nativeWidth  = pixelArrayWidth + 2*pixelArrayLeft
	nativeHeight = pixelArrayHeight + 2*pixelArrayTop

	// Embedded metadata line geometry: one padding byte every 4 pixels.
	embeddedLineWidth = pixelArrayWidth + pixelArrayWidth/4
	numEmbeddedLines  = 2
)

// Media bus format codes (Linux MEDIA_BUS_FMT_* values, kept verbatim so the
// pad surface speaks the common vocabulary).
const (
	CodeSGRBG8   = 0x3002 // MEDIA_BUS_FMT_SGRBG8_1X8
	CodeSGRBG10  = 0x300a // MEDIA_BUS_FMT_SGRBG10_1X10
	CodeY8       = 0x2001 // MEDIA_BUS_FMT_Y8_1X8
	CodeY10      = 0x200a // MEDIA_BUS_FMT_Y10_1X10
	CodeMetadata = 0x7002 // MEDIA_BUS_FMT_SENSOR_DATA
)

// Sensor frequencies.
const (
	FreqExtClk = 24_000_000

	freqPixClk2Lane = 45_000_000
	freqPixClk4Lane = 90_000_000

	FreqLink8Bit  = 360_000_000
	FreqLink10Bit = 450_000_000
)
