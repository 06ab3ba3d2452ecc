package manifest

import (
	"bytes"
	"errors"
	"log"

	"oscilla.audio/mem"
)

// SlotOffset returns the flash offset of slot n's manifest window, the
// final Size bytes of the slot.
func SlotOffset(n int) int64 {
	return int64(SlotBase + (n+1)*SlotSize - Size)
}

// Scan reads all manifest slots from flash. A slot whose window is fully
// erased, or whose contents fail to decode, yields a nil entry; at this
// layer both simply mean the slot has nothing bootable and neither is an
// error. The magic and hardware revision are deliberately not checked
// here, so the menu can still list a slot that targets the wrong
// hardware.
func Scan(flash mem.Region) [NumSlots]*Manifest {
	var slots [NumSlots]*Manifest
	buf := make([]byte, Size)
	for n := range slots {
		if _, err := flash.ReadAt(buf, SlotOffset(n)); err != nil {
			log.Printf("manifest: slot %d: read: %v", n, err)
			continue
		}
		// Erasing flash sets bytes to 0xff. Scan back from the end of
		// the window to find where the record actually ends.
		end := len(buf)
		for end > 0 && buf[end-1] == 0xff {
			end--
		}
		if end == 0 {
			continue
		}
		m, err := Decode(buf[:end])
		if err != nil {
			log.Printf("manifest: slot %d: %v", n, err)
			continue
		}
		slots[n] = m
	}
	return slots
}

// pad is what an erased manifest window looks like.
var pad = bytes.Repeat([]byte{0xff}, Size)

// WriteSlot stores a manifest into slot n of flash, padding the rest of
// the window with the erase value. Used by flashing tools and tests; the
// orchestrator itself never writes manifests.
func WriteSlot(flash mem.Region, n int, m *Manifest) error {
	enc, err := m.Encode()
	if err != nil {
		return err
	}
	if len(enc)+1 > Size {
		return errors.New("manifest: no room for terminator")
	}
	// Zero terminator, see Decode.
	window := append(append([]byte{}, enc...), 0x00)
	window = append(window, pad[len(window):]...)
	_, err = flash.WriteAt(window, SlotOffset(n))
	return err
}
