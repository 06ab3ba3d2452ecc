// Package manifest implements the bitstream manifest records describing
// each hardware configuration flashed to the instrument, along with the
// fixed slot layout they are stored in.
//
// A manifest names the configuration, the hardware revision it targets,
// its external clock needs and the memory regions the boot orchestrator
// must verify (and possibly copy to PSRAM) before handoff.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	// Magic is the sentinel every trusted manifest must carry.
	Magic = 0xFEEDBEEF

	// NumSlots is the number of fixed configuration slots. Slot 0 of the
	// flash layout is reserved for the boot orchestrator itself; the
	// NumSlots user slots follow it.
	NumSlots = 8

	// SlotBase is the flash offset of the first user slot.
	SlotBase = 0x100000

	// SlotSize is the spacing between user slots.
	SlotSize = 0x100000

	// Size of the manifest window at the end of each slot.
	Size = 1024

	MaxRegions = 3

	maxFilename = 32
	maxName     = 32
	maxSHA      = 8
	maxBrief    = 128
	maxVideo    = 64
)

// MemoryRegion is one contiguous payload belonging to a manifest.
type MemoryRegion struct {
	// Filename is diagnostic only.
	Filename string `cbor:"1,keyasint"`
	// SpiflashSrc is the flash offset of the payload. A region without
	// a source is a placeholder (used in simulation) and is skipped.
	SpiflashSrc *uint32 `cbor:"2,keyasint,omitempty"`
	// PsramDst, if present, asks the orchestrator to copy the region
	// into PSRAM at this address before handoff.
	PsramDst *uint32 `cbor:"3,keyasint,omitempty"`
	Size     uint32  `cbor:"4,keyasint"`
	// CRC is the CRC-32/BZIP2 of the payload. Mandatory whenever the
	// region is copied to PSRAM.
	CRC *uint32 `cbor:"5,keyasint,omitempty"`
}

// ExternalPLLConfig is a manifest's requested state for the external
// programmable clock generator.
type ExternalPLLConfig struct {
	// Clk0Hz is the primary (audio) clock.
	Clk0Hz uint32 `cbor:"1,keyasint"`
	// Clk1Hz is the secondary (video) clock, if driven at all.
	Clk1Hz *uint32 `cbor:"2,keyasint,omitempty"`
	// Clk1Inherit derives the secondary clock from the negotiated
	// display pixel clock instead of Clk1Hz.
	Clk1Inherit    bool     `cbor:"3,keyasint,omitempty"`
	SpreadSpectrum *float32 `cbor:"4,keyasint,omitempty"`
}

// Manifest describes one flashable configuration.
type Manifest struct {
	Magic             uint32             `cbor:"1,keyasint"`
	HWRev             uint32             `cbor:"2,keyasint"`
	Name              string             `cbor:"3,keyasint"`
	SHA               string             `cbor:"4,keyasint"`
	Brief             string             `cbor:"5,keyasint,omitempty"`
	Video             string             `cbor:"6,keyasint,omitempty"`
	ExternalPLLConfig *ExternalPLLConfig `cbor:"7,keyasint,omitempty"`
	Regions           []MemoryRegion     `cbor:"8,keyasint,omitempty"`
}

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Decode parses a manifest from its stored form with trailing erased
// (0xff) bytes already trimmed. Bytes following the record are ignored:
// the stored form carries a zero terminator so that the erase-value trim
// cannot eat into an encoding that happens to end in 0xff.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := decMode.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serializes a manifest for flashing. The encoded form must fit
// the manifest window.
func (m *Manifest) Encode() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	enc, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if len(enc) > Size {
		return nil, fmt.Errorf("manifest: encoded form is %d bytes, limit %d", len(enc), Size)
	}
	return enc, nil
}

func (m *Manifest) validate() error {
	switch {
	case len(m.Name) > maxName:
		return errors.New("manifest: name too long")
	case len(m.SHA) > maxSHA:
		return errors.New("manifest: sha too long")
	case len(m.Brief) > maxBrief:
		return errors.New("manifest: brief too long")
	case len(m.Video) > maxVideo:
		return errors.New("manifest: video too long")
	case len(m.Regions) > MaxRegions:
		return errors.New("manifest: too many regions")
	}
	for _, r := range m.Regions {
		if len(r.Filename) > maxFilename {
			return errors.New("manifest: region filename too long")
		}
	}
	return nil
}

// Report returns a human readable dump of the manifest for the startup
// report.
func (m *Manifest) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "manifest %q\n", m.Name)
	fmt.Fprintf(&b, "  magic %#x hw_rev %d sha %s\n", m.Magic, m.HWRev, m.SHA)
	if m.Brief != "" {
		fmt.Fprintf(&b, "  brief: %s\n", m.Brief)
	}
	if m.Video != "" {
		fmt.Fprintf(&b, "  video: %s\n", m.Video)
	}
	if c := m.ExternalPLLConfig; c != nil {
		fmt.Fprintf(&b, "  clk0 %d Hz", c.Clk0Hz)
		if c.Clk1Inherit {
			b.WriteString(" clk1 inherit")
		} else if c.Clk1Hz != nil {
			fmt.Fprintf(&b, " clk1 %d Hz", *c.Clk1Hz)
		}
		if c.SpreadSpectrum != nil {
			fmt.Fprintf(&b, " spread %.2f", *c.SpreadSpectrum)
		}
		b.WriteByte('\n')
	}
	for i, r := range m.Regions {
		fmt.Fprintf(&b, "  region[%d] %q %d bytes", i, r.Filename, r.Size)
		if r.SpiflashSrc != nil {
			fmt.Fprintf(&b, " src %#x", *r.SpiflashSrc)
		}
		if r.PsramDst != nil {
			fmt.Fprintf(&b, " dst %#x", *r.PsramDst)
		}
		if r.CRC != nil {
			fmt.Fprintf(&b, " crc %#x", *r.CRC)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
