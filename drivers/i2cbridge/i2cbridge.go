// Package i2cbridge tunnels I2C transactions over a USB-CDC serial adapter,
// so the sensor control plane can run on a host machine against bench
// hardware. The adapter firmware speaks a simple framed ASCII protocol:
//
//	"   #" LLLL TTTT <hex payload> CCCC
//
// where LLLL is the hex frame length counted from the type field, TTTT a
// 4-character packet type and CCCC a hex checksum over the payload bytes.
// Transactions are "I2CW" (write) and "I2CR" (write-then-read); the adapter
// answers with the same type, or "FAIL" carrying a reason byte.
package i2cbridge

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const marker = "   #"

// Bridge is a remote I2C controller behind a serial adapter. It satisfies
// the same transaction interface as an on-chip bus, so drivers do not know
// they are talking through it.
type Bridge struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
}

// Open connects to the adapter on the named serial port. Baud rate is
// irrelevant on USB-CDC; the default mode is used.
func Open(portName string) (*Bridge, error) {
	p, err := serial.Open(portName, &serial.Mode{})
	if err != nil {
		return nil, fmt.Errorf("i2cbridge: open %s: %w", portName, err)
	}
	return &Bridge{port: p}, nil
}

// Detect scans the USB serial ports for the adapter's vendor/product ID and
// opens the first match. An empty port list or no match is an error.
func Detect(vid string, pids []string) (*Bridge, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("i2cbridge: enumerate ports: %w", err)
	}
	for _, p := range ports {
		if !strings.EqualFold(p.VID, vid) {
			continue
		}
		for _, pid := range pids {
			if strings.EqualFold(p.PID, pid) {
				return Open(p.Name)
			}
		}
	}
	return nil, fmt.Errorf("i2cbridge: no adapter with VID %s found", vid)
}

// NewOn wraps an already-open stream, which the tests use to drive the
// protocol without a device.
func NewOn(rw io.ReadWriteCloser) *Bridge {
	return &Bridge{port: rw}
}

// Close releases the serial port.
func (b *Bridge) Close() error {
	return b.port.Close()
}

// Tx performs one I2C transaction through the adapter: write w to the 7-bit
// address, then read len(r) bytes into r. Either half may be empty.
func (b *Bridge) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var typ string
	var payload []byte
	if len(r) == 0 {
		typ = "I2CW"
		payload = make([]byte, 0, 1+len(w))
		payload = append(payload, byte(addr))
		payload = append(payload, w...)
	} else {
		typ = "I2CR"
		payload = make([]byte, 0, 2+len(w))
		payload = append(payload, byte(addr), byte(len(r)))
		payload = append(payload, w...)
	}

	if err := b.writeFrame(typ, payload); err != nil {
		return err
	}
	rtyp, data, err := b.readFrame()
	if err != nil {
		return err
	}
	switch rtyp {
	case typ:
	case "FAIL":
		reason := byte(0)
		if len(data) > 0 {
			reason = data[0]
		}
		return fmt.Errorf("i2cbridge: adapter reported failure 0x%02X for %s", reason, typ)
	default:
		return fmt.Errorf("i2cbridge: unexpected reply type %q to %s", rtyp, typ)
	}
	if len(data) != len(r) {
		return fmt.Errorf("i2cbridge: short read: got %d bytes, want %d", len(data), len(r))
	}
	copy(r, data)
	return nil
}

func checksum(payload []byte) uint16 {
	var sum uint16
	for _, b := range payload {
		sum += uint16(b)
	}
	return sum
}

func (b *Bridge) writeFrame(typ string, payload []byte) error {
	body := typ + strings.ToUpper(hex.EncodeToString(payload))
	frame := fmt.Sprintf("%s%04X%s%04X", marker, len(body), body, checksum(payload))
	if _, err := b.port.Write([]byte(frame)); err != nil {
		return fmt.Errorf("i2cbridge: write frame: %w", err)
	}
	return nil
}

// readFrame blocks until a whole frame arrives, resynchronizing on the
// marker if the stream carries debris between frames.
func (b *Bridge) readFrame() (typ string, payload []byte, err error) {
	header := make([]byte, len(marker))
	if _, err = io.ReadFull(b.port, header); err != nil {
		return "", nil, fmt.Errorf("i2cbridge: read header: %w", err)
	}
	// Slide one byte at a time until the marker lines up.
	for string(header) != marker {
		copy(header, header[1:])
		if _, err = io.ReadFull(b.port, header[len(header)-1:]); err != nil {
			return "", nil, fmt.Errorf("i2cbridge: resync: %w", err)
		}
	}

	meta := make([]byte, 8) // LLLL TTTT
	if _, err = io.ReadFull(b.port, meta); err != nil {
		return "", nil, fmt.Errorf("i2cbridge: read frame meta: %w", err)
	}
	var bodyLen int
	if _, err = fmt.Sscanf(string(meta[:4]), "%04X", &bodyLen); err != nil {
		return "", nil, fmt.Errorf("i2cbridge: bad frame length %q", meta[:4])
	}
	typ = string(meta[4:])
	if bodyLen < 4 {
		return "", nil, fmt.Errorf("i2cbridge: frame length %d too short", bodyLen)
	}

	rest := make([]byte, bodyLen-4+4) // hex payload + CCCC
	if _, err = io.ReadFull(b.port, rest); err != nil {
		return "", nil, fmt.Errorf("i2cbridge: read frame body: %w", err)
	}
	hexPayload := rest[:bodyLen-4]
	payload, err = hex.DecodeString(string(hexPayload))
	if err != nil {
		return "", nil, fmt.Errorf("i2cbridge: bad payload hex: %w", err)
	}
	var sum uint16
	if _, err = fmt.Sscanf(string(rest[bodyLen-4:]), "%04X", &sum); err != nil {
		return "", nil, fmt.Errorf("i2cbridge: bad checksum field")
	}
	if sum != checksum(payload) {
		return "", nil, fmt.Errorf("i2cbridge: checksum mismatch on %s frame", typ)
	}
	return typ, payload, nil
}
