package ar0234

import (
	"fmt"
	"time"
)

// Register I/O port. All access is synchronous, blocking and retry-free; a
// failed transaction surfaces to the caller as-is. Wire format: 2-byte
// big-endian register address followed by a big-endian value truncated to 1
// or 2 bytes.

func (d *Device) readReg(addr uint16, width uint8) (uint32, error) {
	d.wbuf[0] = byte(addr >> 8)
	d.wbuf[1] = byte(addr)
	r := d.rbuf[:width]
	if err := d.bus.Tx(d.addr, d.wbuf[:2], r); err != nil {
		return 0, fmt.Errorf("ar0234: read 0x%04X: %w", addr, err)
	}
	var v uint32
	for _, b := range r {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

func (d *Device) writeReg(addr uint16, width uint8, val uint16) error {
	d.wbuf[0] = byte(addr >> 8)
	d.wbuf[1] = byte(addr)
	n := 3
	if width == 2 {
		d.wbuf[2] = byte(val >> 8)
		d.wbuf[3] = byte(val)
		n = 4
	} else {
		d.wbuf[2] = byte(val)
	}
	if err := d.bus.Tx(d.addr, d.wbuf[:n], nil); err != nil {
		return fmt.Errorf("ar0234: write 0x%04X: %w", addr, err)
	}
	return nil
}

// writeSeq applies a sequence strictly in order, stopping at the first
// failure and reporting its index. Sleep entries are honoured in place;
// nothing is reordered, batched or retried.
func (d *Device) writeSeq(ops []Op) error {
	for i, op := range ops {
		if op.kind == opSleep {
			d.sleep(time.Duration(op.ms) * time.Millisecond)
			continue
		}
		if err := d.writeReg(op.addr, op.width, op.val); err != nil {
			return &SeqError{Index: i, Err: err}
		}
	}
	return nil
}
