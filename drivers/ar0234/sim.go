package ar0234

import "sync"

// SimAccess records one register write observed by the simulator.
type SimAccess struct {
	Addr  uint16
	Val   uint16
	Width uint8
}

// Sim is a register-level AR0234 stand-in implementing the I2C transaction
// interface. It decodes the sensor's wire format, keeps a register file and
// an ordered write log, and can be told to fail on a given register so error
// paths are reachable without hardware. Bench tools use it behind the same
// Device as the real sensor.
type Sim struct {
	mu sync.Mutex

	// ChipID is returned from the identification register. Defaults to
	// the color variant when zero.
	ChipID uint16

	// FailOn makes every access to the given register fail with Err.
	FailOn uint16
	Err    error

	regs map[uint16]uint16
	log  []SimAccess
}

// NewSim returns a simulator presenting the color sensor variant.
func NewSim() *Sim {
	return &Sim{
		ChipID: ChipIDColor,
		regs:   make(map[uint16]uint16),
	}
}

// Tx implements the I2C transaction interface for the sensor's wire format:
// a 2-byte big-endian register address, then a big-endian value of 1 or 2
// bytes. A bare address write followed by a read is a register read.
func (s *Sim) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(w) < 2 {
		return errSimShortWrite
	}
	reg := uint16(w[0])<<8 | uint16(w[1])
	if s.Err != nil && reg == s.FailOn {
		return s.Err
	}

	switch {
	case len(w) == 2 && len(r) > 0:
		v := s.readLocked(reg)
		if len(r) == 2 {
			r[0] = byte(v >> 8)
			r[1] = byte(v)
		} else {
			r[0] = byte(v)
		}
		return nil
	case len(w) == 3:
		s.writeLocked(reg, uint16(w[2]), 1)
		return nil
	case len(w) == 4:
		s.writeLocked(reg, uint16(w[2])<<8|uint16(w[3]), 2)
		return nil
	default:
		return errSimShortWrite
	}
}

func (s *Sim) readLocked(reg uint16) uint16 {
	if reg == regChipID {
		if s.ChipID == 0 {
			return ChipIDColor
		}
		return s.ChipID
	}
	return s.regs[reg]
}

func (s *Sim) writeLocked(reg, val uint16, width uint8) {
	s.regs[reg] = val
	s.log = append(s.log, SimAccess{Addr: reg, Val: val, Width: width})
}

// Fail arms (or, with a nil error, disarms) failure injection on a register.
func (s *Sim) Fail(reg uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailOn = reg
	s.Err = err
}

// Reg returns the current value of a register.
func (s *Sim) Reg(reg uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(reg)
}

// Writes returns a copy of the ordered write log.
func (s *Sim) Writes() []SimAccess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimAccess, len(s.log))
	copy(out, s.log)
	return out
}

// ResetLog clears the write log, keeping register contents.
func (s *Sim) ResetLog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = s.log[:0]
}

// Streaming reports whether the simulated sensor was left in streaming mode.
func (s *Sim) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[regModeSelect]&0x01 != 0
}

var errSimShortWrite = &simError{"short or malformed transaction"}

type simError struct{ msg string }

func (e *simError) Error() string { return "ar0234 sim: " + e.msg }
