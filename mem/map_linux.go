package mem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mapped is a Region backed by a physical memory window mapped through
// /dev/mem (or any other mappable device file).
type Mapped struct {
	RAM
	fd int
}

// Map maps size bytes at physical offset phys of the device file at path.
// The offset must be page aligned.
func Map(path string, phys int64, size int) (*Mapped, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mem: open %s: %w", path, err)
	}
	buf, err := unix.Mmap(fd, phys, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mem: mmap %s+%#x: %w", path, phys, err)
	}
	return &Mapped{RAM: RAM(buf), fd: fd}, nil
}

func (m *Mapped) Close() error {
	err := unix.Munmap(m.RAM)
	if cerr := unix.Close(m.fd); err == nil {
		err = cerr
	}
	m.RAM = nil
	return err
}
