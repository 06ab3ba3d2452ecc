package bitstream

import (
	"bytes"
	"errors"
	"testing"

	"oscilla.audio/crc32b"
	"oscilla.audio/manifest"
	"oscilla.audio/mem"
)

func u32(v uint32) *uint32 { return &v }

func testRegion(t *testing.T, flash mem.RAM, src, dst, size uint32) *manifest.MemoryRegion {
	t.Helper()
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	if _, err := flash.WriteAt(payload, int64(src)); err != nil {
		t.Fatal(err)
	}
	return &manifest.MemoryRegion{
		Filename:    "firmware.bin",
		SpiflashSrc: u32(src),
		PsramDst:    u32(dst),
		Size:        size,
		CRC:         u32(crc32b.Checksum(payload)),
	}
}

func TestVerifyAndCopy(t *testing.T) {
	flash := make(mem.RAM, 0x4000)
	ram := make(mem.RAM, 0x4000)
	l := &Loader{Flash: flash, RAM: ram}
	// An odd size exercises the partial trailing word.
	r := testRegion(t, flash, 0x100, 0x200, 1021)

	if err := l.VerifyAndCopy(r); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ram[0x200:0x200+1021], flash[0x100:0x100+1021]) {
		t.Error("copied bytes differ from source")
	}
}

func TestCorruptSourceLeavesRAMUntouched(t *testing.T) {
	flash := make(mem.RAM, 0x4000)
	ram := make(mem.RAM, 0x4000)
	l := &Loader{Flash: flash, RAM: ram}
	r := testRegion(t, flash, 0x100, 0x200, 512)

	// Single corrupted byte in the source range.
	flash[0x100+300] ^= 0x01
	// Known pattern at the destination must survive the failed copy.
	pattern := bytes.Repeat([]byte{0xa5}, 512)
	if _, err := ram.WriteAt(pattern, 0x200); err != nil {
		t.Fatal(err)
	}

	if err := l.VerifyAndCopy(r); !errors.Is(err, ErrFlashCRC) {
		t.Fatalf("VerifyAndCopy = %v, want ErrFlashCRC", err)
	}
	if !bytes.Equal(ram[0x200:0x200+512], pattern) {
		t.Error("destination modified by a failed copy")
	}
}

func TestPlaceholderRegionSkipped(t *testing.T) {
	l := &Loader{Flash: make(mem.RAM, 16), RAM: make(mem.RAM, 16)}
	r := &manifest.MemoryRegion{Filename: "sim.bin", Size: 1024}
	if err := l.VerifyAndCopy(r); err != nil {
		t.Errorf("placeholder region = %v, want nil", err)
	}
}

func TestRAMLoadRequiresCRC(t *testing.T) {
	flash := make(mem.RAM, 0x1000)
	l := &Loader{Flash: flash, RAM: make(mem.RAM, 0x1000)}
	r := &manifest.MemoryRegion{
		Filename:    "firmware.bin",
		SpiflashSrc: u32(0),
		PsramDst:    u32(0),
		Size:        64,
	}
	if err := l.VerifyAndCopy(r); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("VerifyAndCopy = %v, want ErrInvalidManifest", err)
	}
}

func TestVerifyOnlyRegion(t *testing.T) {
	flash := make(mem.RAM, 0x1000)
	l := &Loader{Flash: flash, RAM: make(mem.RAM, 0x1000)}
	r := testRegion(t, flash, 0x80, 0, 256)
	// Executes in place; verified but never copied.
	r.PsramDst = nil
	if err := l.VerifyAndCopy(r); err != nil {
		t.Fatal(err)
	}
	flash[0x80] ^= 0xff
	if err := l.VerifyAndCopy(r); !errors.Is(err, ErrFlashCRC) {
		t.Errorf("VerifyAndCopy = %v, want ErrFlashCRC", err)
	}
}
