package ar0234

import (
	"errors"
	"fmt"
)

// Errors returned by the driver.
var (
	// ErrChipID: the chip identification register held neither known ID.
	// Fatal; the device cannot be used.
	ErrChipID = errors.New("ar0234: unknown chip id")

	// ErrNoLinkConfig: no capability-matrix entry matches the supplied
	// external clock and link frequency. Fatal at bring-up.
	ErrNoLinkConfig = errors.New("ar0234: no link config for extclk/link frequency")

	// ErrBusy: a format or flip mutation was attempted while streaming.
	ErrBusy = errors.New("ar0234: busy streaming")

	// ErrRange: a control value is outside its currently computed limits.
	ErrRange = errors.New("ar0234: value out of range")

	// ErrPowerSequence: power-on failed; completed steps were rolled back.
	ErrPowerSequence = errors.New("ar0234: power sequence failed")

	// ErrPoweredOff: the operation needs a powered, identified sensor.
	ErrPoweredOff = errors.New("ar0234: not powered")

	// ErrReadOnly: a set was attempted on a read-only control.
	ErrReadOnly = errors.New("ar0234: control is read-only")

	// ErrUnknownControl: no such control.
	ErrUnknownControl = errors.New("ar0234: unknown control")
)

// SeqError reports the first failing entry of a register sequence. Entries
// before Index were applied; nothing after it was attempted.
type SeqError struct {
	Index int
	Err   error
}

func (e *SeqError) Error() string {
	return fmt.Sprintf("ar0234: sequence failed at entry %d: %v", e.Index, e.Err)
}

func (e *SeqError) Unwrap() error { return e.Err }
