package ar0234

// Register sequences are ordered lists of Op. An Op is either a register
// write or an explicit sleep; sequences are applied strictly in document
// order with no reordering, batching or retry (see writeSeq).

type opKind uint8

const (
	opWrite opKind = iota
	opSleep
)

// Op is one entry of a register sequence.
type Op struct {
	kind  opKind
	addr  uint16
	width uint8 // bytes: 1 or 2
	val   uint16
	ms    uint32
}

// W16 returns a 16-bit register write op.
func W16(addr, val uint16) Op { return Op{kind: opWrite, addr: addr, width: 2, val: val} }

// W8 returns an 8-bit register write op.
func W8(addr uint16, val uint8) Op {
	return Op{kind: opWrite, addr: addr, width: 1, val: uint16(val)}
}

// SleepMs returns a delay op honoured in place within a sequence.
func SleepMs(ms uint32) Op { return Op{kind: opSleep, ms: ms} }

// DelayAddr is the legacy pseudo-address some register dumps use to encode a
// delay entry; its "value" is a duration in milliseconds, not a register
// write. RawOp folds it into the explicit Op variant so no downstream code
// has to special-case the magic address.
const DelayAddr uint16 = 0xFFFF

// RawOp decodes a raw (address, width, value) triple, mapping DelayAddr to a
// sleep op.
func RawOp(addr uint16, width uint8, val uint16) Op {
	if addr == DelayAddr {
		return SleepMs(uint32(val))
	}
	if width != 1 {
		width = 2
	}
	return Op{kind: opWrite, addr: addr, width: width, val: val}
}

// IsSleep reports whether the op is a delay entry.
func (o Op) IsSleep() bool { return o.kind == opSleep }

// Reset pulse: settle, assert software reset, long settle, clear to the
// post-reset control word. The sleeps are part of the sequence contract.
var seqReset = []Op{
	SleepMs(20),
	W16(regReset, 0x00D9),
	SleepMs(200),
	W16(regReset, 0x2058),
}

// PLL and MIPI timing for extclk 24MHz, link 360MHz, 8-bit depth.
var seqPLL24MHz360MHz8Bit = []Op{
	W16(regVTPixClkDiv, 0x0008),
	W16(regVTSysClkDiv, 0x0001),
	W16(regPrePLLClkDiv, 0x0001),
	W16(regPLLMultiplier, 0x001E),
	W16(regOpPixClkDiv, 0x0008),
	W16(regOpSysClkDiv, 0x0002),
	W16(regFramePreamble, 0x0080),
	W16(regLinePreamble, 0x005C),
	W16(regMIPITiming0, 0x5248),
	W16(regMIPITiming1, 0x4258),
	W16(regMIPITiming2, 0x904C),
	W16(regMIPITiming3, 0x028B),
	W16(regMIPITiming4, 0x0D89),
	W16(regMIPICtrl, 0x002A),
	W16(regDataFormatBits, 0x0808), // 8bit in/out
}

// PLL and MIPI timing for extclk 24MHz, link 450MHz, 10-bit depth.
var seqPLL24MHz450MHz10Bit = []Op{
	W16(regVTPixClkDiv, 0x0005),
	W16(regVTSysClkDiv, 0x0001),
	W16(regPrePLLClkDiv, 0x0008),
	W16(regPLLMultiplier, 0x0096),
	W16(regOpPixClkDiv, 0x000A),
	W16(regOpSysClkDiv, 0x0001),
	W16(regFramePreamble, 0x0082),
	W16(regLinePreamble, 0x005C),
	W16(regMIPITiming0, 0x4248),
	W16(regMIPITiming1, 0x4258),
	W16(regMIPITiming2, 0x904B),
	W16(regMIPITiming3, 0x030B),
	W16(regMIPITiming4, 0x0D89),
	W16(regMIPICtrl, 0x002B),
	W16(regDataFormatBits, 0x0A0A), // 10bit in/out
}

// Common initialization, applied after the PLL/MIPI and lane configuration.
var seqCommonInit = []Op{
	W16(regDigitalTest, 0x0028),
	W16(regDatapathSelect, 0x9010),
	W16(regOperationMode, 0x0003),
	W16(regReadMode, 0x0000),
	W16(regCompanding, 0x0000),
	W16(regSeqCtrlPort, 0x8050),
	W16(0x3096, 0x0280),
	W16(regPixDefID, 0x0003),
	W16(0x3F4C, 0x121F),
	W16(0x3F4E, 0x121F),
	W16(0x3F50, 0x0B81),
	W16(regSeqCtrlPort, 0x81BA),
	W16(regSeqDataPort, 0x3D02),
	W16(0x3ED2, 0xFA96),
	W16(regDeltaDKControl, 0x824F),
	W16(0x3ECC, 0x0D42),
	W16(0x3ECC, 0x0D42),
	W16(0x30F0, 0x2283),
	W16(regAELumaTarget, 0x5000),
	W16(regTempsensCtrl, 0x0011),
	W16(0x30BA, 0x7626),
	W16(regReset, 0x205C),
	W16(regSMIATest, 0x1982),
}

// Readout window for the full 1920x1200 frame.
var seq1920x1200 = []Op{
	W16(regYAddrStart, 0x0008),
	W16(regXAddrStart, 0x0008),
	W16(regYAddrEnd, 0x04B7),
	W16(regXAddrEnd, 0x0787),
	W16(regXOddInc, 0x0001),
	W16(regYOddInc, 0x0001),
}

// Readout window for the centered 1280x800 crop.
var seq1280x800 = []Op{
	W16(regYAddrStart, 0x00D0),
	W16(regXAddrStart, 0x0148),
	W16(regYAddrEnd, 0x03EF),
	W16(regXAddrEnd, 0x0647),
	W16(regXOddInc, 0x0001),
	W16(regYOddInc, 0x0001),
}
