// Package edid reads and parses the 128-byte display descriptor block of
// an attached monitor and derives the display timing mode the video
// output should run at.
//
// Only the base block is handled: the header and the four detailed timing
// descriptors. That is enough for the small embedded panels this
// instrument drives; extension blocks are ignored.
package edid

import (
	"encoding/binary"
	"errors"
)

// BlockSize is the size of the base descriptor block.
const BlockSize = 128

var headerPattern = [8]byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

var (
	ErrChecksum = errors.New("edid: block checksum mismatch")
	ErrHeader   = errors.New("edid: bad header pattern")
)

// EDID is the parsed base block.
type EDID struct {
	Header      Header
	Descriptors [4]Descriptor
	Extensions  byte
	Checksum    byte
}

// Header holds bytes 0-19 of the block.
type Header struct {
	ManufacturerID  [2]byte
	ProductCode     uint16
	SerialNumber    uint32
	ManufactureWeek byte
	ManufactureYear byte
	Version         byte
	Revision        byte
}

// Descriptor is one 18-byte descriptor slot. Timing is non-nil only for
// detailed timing descriptors (non-zero encoded pixel clock); all other
// descriptor kinds keep their raw bytes.
type Descriptor struct {
	Timing *DetailedTiming
	Raw    [18]byte
}

type SyncType int

const (
	SyncAnalog SyncType = iota
	SyncDigitalComposite
	SyncDigitalSeparate
)

// DetailedTiming is a decoded detailed timing descriptor.
type DetailedTiming struct {
	PixelClockKHz uint32
	HActive       uint16
	HBlanking     uint16
	VActive       uint16
	VBlanking     uint16
	HSyncOffset   uint16
	HSyncPulse    uint16
	VSyncOffset   uint16
	VSyncPulse    uint16
	HImageSizeMM  uint16
	VImageSizeMM  uint16
	Interlaced    bool
	Sync          SyncType
	HSyncPositive bool
	VSyncPositive bool
}

// Parse decodes a 128-byte descriptor block, validating the whole-block
// checksum (the byte sum must be 0 mod 256) and the fixed header pattern.
func Parse(block []byte) (*EDID, error) {
	if len(block) != BlockSize {
		return nil, errors.New("edid: short block")
	}
	var sum byte
	for _, b := range block {
		sum += b
	}
	if sum != 0 {
		return nil, ErrChecksum
	}
	if [8]byte(block[:8]) != headerPattern {
		return nil, ErrHeader
	}
	e := &EDID{
		Header: Header{
			ManufacturerID:  [2]byte(block[8:10]),
			ProductCode:     binary.LittleEndian.Uint16(block[10:]),
			SerialNumber:    binary.LittleEndian.Uint32(block[12:]),
			ManufactureWeek: block[16],
			ManufactureYear: block[17],
			Version:         block[18],
			Revision:        block[19],
		},
		Extensions: block[126],
		Checksum:   block[127],
	}
	for i := range e.Descriptors {
		d := &e.Descriptors[i]
		copy(d.Raw[:], block[54+i*18:])
		if binary.LittleEndian.Uint16(d.Raw[:2]) != 0 {
			d.Timing = parseDetailedTiming(&d.Raw)
		}
	}
	return e, nil
}

func parseDetailedTiming(data *[18]byte) *DetailedTiming {
	t := &DetailedTiming{
		// Stored in 10 kHz units.
		PixelClockKHz: uint32(binary.LittleEndian.Uint16(data[:2])) * 10,

		HActive:   uint16(data[4]&0xf0)<<4 | uint16(data[2]),
		HBlanking: uint16(data[4]&0x0f)<<8 | uint16(data[3]),
		VActive:   uint16(data[7]&0xf0)<<4 | uint16(data[5]),
		VBlanking: uint16(data[7]&0x0f)<<8 | uint16(data[6]),

		HSyncOffset: uint16(data[11]&0xc0)<<2 | uint16(data[8]),
		HSyncPulse:  uint16(data[11]&0x30)<<4 | uint16(data[9]),
		VSyncOffset: uint16(data[11]&0x0c)<<2 | uint16(data[10]&0xf0)>>4,
		VSyncPulse:  uint16(data[11]&0x03)<<4 | uint16(data[10]&0x0f),

		HImageSizeMM: uint16(data[14]&0xf0)<<4 | uint16(data[12]),
		VImageSizeMM: uint16(data[14]&0x0f)<<8 | uint16(data[13]),

		Interlaced: data[17]&0x80 != 0,
	}
	switch data[17] >> 3 & 0x03 {
	case 0x02:
		t.Sync = SyncDigitalComposite
		t.HSyncPositive = data[17]&0x02 != 0
	case 0x03:
		t.Sync = SyncDigitalSeparate
		t.VSyncPositive = data[17]&0x04 != 0
		t.HSyncPositive = data[17]&0x02 != 0
	default:
		t.Sync = SyncAnalog
	}
	return t
}
