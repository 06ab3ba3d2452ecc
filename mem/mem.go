// Package mem models memory-mapped hardware windows (SPI flash, PSRAM, the
// handoff record) as explicit regions, so the boot path can run against
// plain buffers in tests and against mmap'ed device memory on hardware.
package mem

import (
	"errors"
	"io"
)

// Region is a bounded window of byte-addressable memory.
type Region interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

var errOutOfRange = errors.New("mem: access out of range")

// RAM is an in-memory Region.
type RAM []byte

func (r RAM) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r)) {
		return 0, errOutOfRange
	}
	n := copy(p, r[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r RAM) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(r)) {
		return 0, errOutOfRange
	}
	return copy(r[off:], p), nil
}

func (r RAM) Size() int64 {
	return int64(len(r))
}

// Window is a sub-range of a parent Region, used to hand a component
// exactly the bytes it owns (for example the handoff record inside PSRAM).
type Window struct {
	parent Region
	off    int64
	size   int64
}

func NewWindow(parent Region, off, size int64) *Window {
	return &Window{parent: parent, off: off, size: size}
}

func (w *Window) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > w.size {
		return 0, errOutOfRange
	}
	if max := w.size - off; int64(len(p)) > max {
		n, err := w.parent.ReadAt(p[:max], w.off+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return w.parent.ReadAt(p, w.off+off)
}

func (w *Window) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > w.size {
		return 0, errOutOfRange
	}
	return w.parent.WriteAt(p, w.off+off)
}

func (w *Window) Size() int64 {
	return w.size
}
