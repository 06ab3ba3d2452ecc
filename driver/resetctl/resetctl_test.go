package resetctl

import (
	"bytes"
	"errors"
	"testing"
)

type writeCloser struct {
	bytes.Buffer
	closed bool
	fail   bool
}

func (w *writeCloser) Write(p []byte) (int, error) {
	if w.fail {
		return 0, errors.New("port gone")
	}
	return w.Buffer.Write(p)
}

func (w *writeCloser) Close() error {
	w.closed = true
	return nil
}

func TestRequestReboot(t *testing.T) {
	w := new(writeCloser)
	p := NewPort(w)
	if err := p.RequestReboot(3); err != nil {
		t.Fatal(err)
	}
	if got, want := w.String(), "BITSTREAM3\n"; got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Error("underlying port not closed")
	}
}

func TestRequestRebootError(t *testing.T) {
	p := NewPort(&writeCloser{fail: true})
	if err := p.RequestReboot(0); err == nil {
		t.Error("transmit failure not reported")
	}
}
