// package input implements the rotary encoder the boot menu is driven
// with.
//
// The encoder is polled from the periodic tick rather than edge
// triggered: the tick handler calls Update, and the orchestrator drains
// accumulated ticks and clicks through the Encoder interface.
package input

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// Encoder is the narrow capability the orchestrator consumes.
type Encoder interface {
	// Ticks returns accumulated detent steps since the last call and
	// clears them. Negative is counter-clockwise.
	Ticks() int
	// Clicked reports a completed press-and-release since the last
	// call and clears it.
	Clicked() bool
	// Update samples the hardware. Called once per tick.
	Update()
}

// Rotary decodes a quadrature encoder with an integrated switch from
// three GPIO pins.
type Rotary struct {
	a, b, sw gpio.PinIn

	state byte
	accum int8

	ticks          int
	lastBtn        bool
	pendingPress   bool
	pendingRelease bool
}

// Gray-code transition table, indexed by (previous state << 2) | current
// state. Invalid transitions (bounce, missed step) count as zero.
var quadTable = [16]int8{
	0, 1, -1, 0,
	-1, 0, 0, 1,
	1, 0, 0, -1,
	0, -1, 1, 0,
}

func NewRotary(a, b, sw gpio.PinIn) (*Rotary, error) {
	for _, p := range []gpio.PinIn{a, b, sw} {
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("input: %s: %w", p, err)
		}
	}
	r := &Rotary{a: a, b: b, sw: sw}
	r.state = r.sample()
	r.lastBtn = r.sw.Read() == gpio.Low
	return r, nil
}

func (r *Rotary) sample() byte {
	var s byte
	if r.a.Read() == gpio.Low {
		s |= 1
	}
	if r.b.Read() == gpio.Low {
		s |= 2
	}
	return s
}

func (r *Rotary) Update() {
	s := r.sample()
	r.accum += quadTable[r.state<<2|s]
	r.state = s
	// Four quadrature transitions per detent.
	for r.accum >= 4 {
		r.ticks++
		r.accum -= 4
	}
	for r.accum <= -4 {
		r.ticks--
		r.accum += 4
	}

	btn := r.sw.Read() == gpio.Low
	if btn != r.lastBtn {
		if btn {
			r.pendingPress = true
		} else {
			r.pendingRelease = true
		}
		r.lastBtn = btn
	}
}

func (r *Rotary) Ticks() int {
	t := r.ticks
	r.ticks = 0
	return t
}

func (r *Rotary) Clicked() bool {
	if r.pendingPress && r.pendingRelease {
		r.pendingPress = false
		r.pendingRelease = false
		return true
	}
	return false
}
