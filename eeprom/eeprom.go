// Package eeprom drives the instrument's configuration EEPROM and the
// checksum-protected records persisted in it: the analog calibration
// constants and the autoboot state.
package eeprom

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

const (
	// Addr is the EEPROM's bus address.
	Addr = 0x52

	// The bus controller bounds transactions to 16 bytes including the
	// register address.
	maxTransaction = 16

	// EEPROM write cycles can NAK while a previous write is still
	// committing; writes are retried a bounded number of times.
	writeAttempts = 10
)

var errTooLarge = errors.New("eeprom: transaction too large")

// Device is the raw byte-level EEPROM driver.
type Device struct {
	bus  i2c.Bus
	addr uint16
}

func New(bus i2c.Bus) *Device {
	return &Device{bus: bus, addr: Addr}
}

func (d *Device) readBounded(off byte, p []byte) error {
	if len(p) > maxTransaction {
		return errTooLarge
	}
	return d.bus.Tx(d.addr, []byte{off}, p)
}

func (d *Device) writeBounded(off byte, p []byte) error {
	if len(p) > maxTransaction-1 {
		return errTooLarge
	}
	buf := make([]byte, 0, maxTransaction)
	buf = append(buf, off)
	buf = append(buf, p...)
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = d.bus.Tx(d.addr, buf, nil); err == nil {
			return nil
		}
	}
	return err
}

// ReadBytes reads len(p) bytes starting at off, splitting the read into
// transactions the bus controller can carry.
func (d *Device) ReadBytes(off byte, p []byte) error {
	for len(p) > 0 {
		n := min(len(p), maxTransaction)
		if err := d.readBounded(off, p[:n]); err != nil {
			return fmt.Errorf("eeprom: read %#x: %w", off, err)
		}
		p = p[n:]
		off += byte(n)
	}
	return nil
}

// WriteBytes writes p starting at off.
func (d *Device) WriteBytes(off byte, p []byte) error {
	for len(p) > 0 {
		n := min(len(p), maxTransaction-1)
		if err := d.writeBounded(off, p[:n]); err != nil {
			return fmt.Errorf("eeprom: write %#x: %w", off, err)
		}
		p = p[n:]
		off += byte(n)
	}
	return nil
}

// ReadID reads the chip's unique ID from its reserved page.
func (d *Device) ReadID() ([6]byte, error) {
	var id [6]byte
	if err := d.ReadBytes(0xfa, id[:]); err != nil {
		return id, err
	}
	return id, nil
}
