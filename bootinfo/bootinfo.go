// Package bootinfo implements the handoff record passed from the boot
// orchestrator to the next configuration through a fixed PSRAM window.
//
// The record's presence and validity is also the warm/cold boot
// discriminator: a configuration that finds no valid record at the fixed
// address knows it came up from a plain power-on rather than an internal
// reconfiguration.
package bootinfo

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"oscilla.audio/crc32b"
	"oscilla.audio/edid"
	"oscilla.audio/manifest"
	"oscilla.audio/mem"
)

// MaxSize bounds the stored record: length prefix, encoded payload and
// CRC trailer together.
const MaxSize = 1024

// Wire format: u32 LE payload length, CBOR payload, u32 LE CRC-32/BZIP2
// over the length prefix and payload.
const (
	lenSize     = 4
	trailerSize = 4
)

// BootInfo is handed from the orchestrator to the booted configuration.
type BootInfo struct {
	Manifest manifest.Manifest `cbor:"1,keyasint"`
	Modeline edid.Modeline     `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// Write serializes the record into its window. It returns the number of
// bytes written, or an error if the encoded form would not fit.
func Write(w mem.Region, b *BootInfo) (int, error) {
	payload, err := encMode.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("bootinfo: %w", err)
	}
	total := lenSize + len(payload) + trailerSize
	if total > MaxSize {
		return 0, fmt.Errorf("bootinfo: record is %d bytes, limit %d", total, MaxSize)
	}
	buf := make([]byte, 0, total)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32b.Checksum(buf))
	if _, err := w.WriteAt(buf, 0); err != nil {
		return 0, fmt.Errorf("bootinfo: %w", err)
	}
	return total, nil
}

// Read decodes and checksum-validates the record in one step. Any
// failure at all (absent, corrupt, wrong format) returns nil: callers
// treat that as "no prior session", never as an error to propagate.
func Read(w mem.Region) *BootInfo {
	var hdr [lenSize]byte
	if _, err := w.ReadAt(hdr[:], 0); err != nil {
		return nil
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n == 0 || lenSize+int(n)+trailerSize > MaxSize {
		return nil
	}
	buf := make([]byte, lenSize+int(n)+trailerSize)
	if _, err := w.ReadAt(buf, 0); err != nil {
		return nil
	}
	body, trailer := buf[:lenSize+int(n)], buf[lenSize+int(n):]
	if crc32b.Checksum(body) != binary.LittleEndian.Uint32(trailer) {
		return nil
	}
	var b BootInfo
	if err := cbor.Unmarshal(body[lenSize:], &b); err != nil {
		return nil
	}
	return &b
}

// Clear invalidates any record in the window, so the next startup
// observes a cold boot.
func Clear(w mem.Region) {
	w.WriteAt([]byte{0, 0, 0, 0, 0, 0, 0, 0}, 0)
}
