package edid

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

const (
	// DDC address of the descriptor block.
	busAddr = 0x50

	// The display bridge limits bus transactions to 8 bytes.
	readChunk = 8

	readAttempts = 3
)

// ReadBlock reads the 128-byte descriptor block over the display's DDC
// bus in 8-byte chunks and validates it, retrying a bounded number of
// times before giving up.
func ReadBlock(bus i2c.Bus) (*EDID, error) {
	var lastErr error
	for attempt := 0; attempt < readAttempts; attempt++ {
		var block [BlockSize]byte
		if err := readRaw(bus, &block); err != nil {
			lastErr = err
			continue
		}
		e, err := Parse(block[:])
		if err != nil {
			lastErr = err
			continue
		}
		return e, nil
	}
	return nil, fmt.Errorf("edid: read failed: %w", lastErr)
}

func readRaw(bus i2c.Bus, block *[BlockSize]byte) error {
	for off := 0; off < BlockSize; off += readChunk {
		if err := bus.Tx(busAddr, []byte{byte(off)}, block[off:off+readChunk]); err != nil {
			return err
		}
	}
	return nil
}

// Negotiator resolves the active display timing.
type Negotiator struct {
	Bus i2c.Bus

	// Fixed, if non-nil, is a compiled-in timing override. Builds
	// locked to a fixed mode never touch the descriptor bus.
	Fixed *Modeline
}

// Resolve returns the modeline the video output should run at. Builds
// with a fixed timing return it directly; otherwise the display's
// descriptor is read and the first acceptable detailed timing wins, with
// a 720p60 fallback when the display is absent or unreadable.
//
// Resolve is re-invoked on every hotplug rising edge. Callers must diff
// the result against the active modeline and reprogram hardware only on
// change, so spurious hotplug signaling cannot glitch a running display.
func (n *Negotiator) Resolve() Modeline {
	if n.Fixed != nil {
		return *n.Fixed
	}
	e, err := ReadBlock(n.Bus)
	if err != nil {
		return Default()
	}
	if m := DeriveModeline(e); m != nil {
		return *m
	}
	return Default()
}

// Dynamic reports whether the build can negotiate timing at all, i.e. is
// not locked to a compiled-in fixed mode. Configurations that inherit
// the pixel clock require a dynamic build.
func (n *Negotiator) Dynamic() bool {
	return n.Fixed == nil
}
