// Package resetctl requests bitstream reconfiguration from the
// companion supervisor microcontroller over its console UART. The
// protocol is one-way: the supervisor reacts to a line naming the
// flash slot and pulls the reconfiguration strap, so a successful
// request is normally followed by loss of power to this core.
package resetctl

import (
	"fmt"
	"io"

	"github.com/tarm/serial"
)

const baudRate = 115200

type Port struct {
	w io.WriteCloser
}

func Open(path string) (*Port, error) {
	p, err := serial.OpenPort(&serial.Config{Name: path, Baud: baudRate})
	if err != nil {
		return nil, fmt.Errorf("resetctl: %w", err)
	}
	return &Port{w: p}, nil
}

// NewPort wraps an already open writer, for tests.
func NewPort(w io.WriteCloser) *Port {
	return &Port{w: w}
}

// RequestReboot asks the supervisor to reconfigure from slot. It only
// returns on failure to transmit; the supervisor does not acknowledge.
func (p *Port) RequestReboot(slot int) error {
	if _, err := fmt.Fprintf(p.w, "BITSTREAM%d\n", slot); err != nil {
		return fmt.Errorf("resetctl: %w", err)
	}
	return nil
}

func (p *Port) Close() error {
	return p.w.Close()
}
