// Package bitstream verifies and stages the memory regions named by a
// manifest before control is handed to the configuration that owns them.
//
// The transfer discipline is verify-then-copy: no byte reaches PSRAM
// before its entire source range has passed the CRC check, so a corrupted
// image can only ever result in a refused boot, never a partially loaded
// one.
package bitstream

import (
	"errors"
	"log"

	"oscilla.audio/crc32b"
	"oscilla.audio/manifest"
	"oscilla.audio/mem"
)

// Boot refusal causes. All are non-fatal to the orchestrator: each
// refuses one slot and is surfaced as a per-slot diagnostic.
var (
	ErrInvalidManifest   = errors.New("invalid manifest")
	ErrHWVersionMismatch = errors.New("hw revision mismatch")
	ErrFlashCRC          = errors.New("flash crc mismatch")
	ErrPLLBadConfig      = errors.New("bad pll config")
	ErrPLLI2C            = errors.New("pll i2c error")
	ErrStaticModeline    = errors.New("bootloader modeline is fixed")
)

// Loader copies manifest regions from flash into working RAM.
type Loader struct {
	Flash mem.Region
	RAM   mem.Region

	// Counter, if set, reads a free-running down-counting hardware
	// timer (the counter decreases over time) used for the copy
	// throughput report.
	Counter        func() uint32
	TicksPerSecond uint32
}

const chunkSize = 256

// VerifyAndCopy checksums the region's flash bytes and, if the region is
// marked for RAM load, copies them to their PSRAM destination. The copy
// happens only after the whole source range has been verified.
func (l *Loader) VerifyAndCopy(r *manifest.MemoryRegion) error {
	if r.SpiflashSrc == nil {
		// Placeholder region (simulation); nothing stored in flash.
		return nil
	}
	if r.PsramDst != nil && r.CRC == nil {
		// Data crossing into RAM must be CRC protected.
		return ErrInvalidManifest
	}
	if r.CRC != nil {
		if err := l.verify(r); err != nil {
			return err
		}
	}
	if r.PsramDst == nil {
		return nil
	}
	var start uint32
	if l.Counter != nil {
		start = l.Counter()
	}
	if err := l.copy(r); err != nil {
		return err
	}
	if l.Counter != nil && l.TicksPerSecond > 0 {
		// The counter counts down, so elapsed ticks are start-end.
		ticks := start - l.Counter()
		if ticks > 0 {
			kps := uint64(l.TicksPerSecond) * uint64(r.Size) / 1024 / uint64(ticks)
			log.Printf("bitstream: copied %q: %d KiB at %d KiB/s",
				r.Filename, r.Size/1024, kps)
		}
	}
	return nil
}

func (l *Loader) verify(r *manifest.MemoryRegion) error {
	d := crc32b.New()
	buf := make([]byte, chunkSize)
	src := int64(*r.SpiflashSrc)
	for off := int64(0); off < int64(r.Size); off += chunkSize {
		n := chunkSize
		if rem := int64(r.Size) - off; rem < chunkSize {
			n = int(rem)
		}
		if _, err := l.Flash.ReadAt(buf[:n], src+off); err != nil {
			return ErrInvalidManifest
		}
		d.Write(buf[:n])
	}
	if d.Sum32() != *r.CRC {
		return ErrFlashCRC
	}
	return nil
}

// copy moves the verified bytes word by word, matching the bus width of
// the flash and PSRAM ports.
func (l *Loader) copy(r *manifest.MemoryRegion) error {
	var word [4]byte
	src := int64(*r.SpiflashSrc)
	dst := int64(*r.PsramDst)
	for off := int64(0); off < int64(r.Size); off += 4 {
		n := 4
		if rem := int64(r.Size) - off; rem < 4 {
			n = int(rem)
		}
		if _, err := l.Flash.ReadAt(word[:n], src+off); err != nil {
			return ErrInvalidManifest
		}
		if _, err := l.RAM.WriteAt(word[:n], dst+off); err != nil {
			return ErrInvalidManifest
		}
	}
	return nil
}
