// Package si5351 implements a driver for the Si5351A programmable clock
// generator, which supplies the audio master clock and, on dynamic
// video builds, the display pixel clock.
//
// Datasheet: https://www.skyworksinc.com/-/media/SkyWorks/SL/documents/public/data-sheets/Si5351-B.pdf
package si5351

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

const Addr = 0x60

const (
	xtalHz = 25000000

	vcoMinHz = 600000000
	vcoMaxHz = 900000000

	regOutputEnable = 3
	regClk0Control  = 16
	regClk1Control  = 17
	regPLLABase     = 26
	regPLLBBase     = 34
	regMS0Base      = 42
	regMS1Base      = 50
	regSpreadBase   = 149
	regPLLReset     = 177
	regCrystalLoad  = 183

	clkPowerDown     = 0x80
	clkIntegerMode   = 0x40
	clkSrcMultisynth = 0x0c
	clkDrive8mA      = 0x03

	pllResetA = 0x20
	pllResetB = 0x80
)

// NumOutputs the board wires up: 0 drives the audio clock tree, 1 the
// video PLL reference.
const NumOutputs = 2

type Device struct {
	dev i2c.Dev
}

func New(bus i2c.Bus) *Device {
	return &Device{dev: i2c.Dev{Bus: bus, Addr: Addr}}
}

// Init powers the outputs down and sets the crystal load capacitance.
// Outputs stay disabled until the first SetFrequency.
func (d *Device) Init() error {
	if err := d.write(regOutputEnable, 0xff); err != nil {
		return err
	}
	for _, reg := range []byte{regClk0Control, regClk1Control} {
		if err := d.write(reg, clkPowerDown); err != nil {
			return err
		}
	}
	// 10 pF load.
	return d.write(regCrystalLoad, 0xd2)
}

// SetFrequency programs one output to hz, retuning its PLL and
// multisynth divider and enabling the output. Output 0 uses PLLA,
// output 1 PLLB, so the two clocks move independently.
func (d *Device) SetFrequency(output int, hz uint32) error {
	if output < 0 || output >= NumOutputs {
		return fmt.Errorf("si5351: no such output %d", output)
	}
	if hz == 0 {
		return errors.New("si5351: zero frequency")
	}
	// Even multisynth divider placing the VCO as high as possible.
	div := vcoMaxHz / uint64(hz)
	div &^= 1
	if div < 4 {
		return fmt.Errorf("si5351: %d Hz too fast", hz)
	}
	if div > 900 {
		div = 900
	}
	vco := uint64(hz) * div
	if vco < vcoMinHz {
		return fmt.Errorf("si5351: %d Hz too slow", hz)
	}
	// Feedback multiplier a + b/c against the crystal.
	const c = 0xfffff
	a := vco / xtalHz
	b := (vco % xtalHz) * c / xtalHz

	pllBase := byte(regPLLABase)
	msBase := byte(regMS0Base)
	ctlReg := byte(regClk0Control)
	reset := byte(pllResetA)
	if output == 1 {
		pllBase = regPLLBBase
		msBase = regMS1Base
		ctlReg = regClk1Control
		reset = pllResetB
	}
	if err := d.writeSynth(pllBase, a, b, c); err != nil {
		return err
	}
	// Integer output divider: a=div, b=0, c=1.
	if err := d.writeSynth(msBase, div, 0, 1); err != nil {
		return err
	}
	if err := d.write(regPLLReset, reset); err != nil {
		return err
	}
	ctl := byte(clkIntegerMode | clkSrcMultisynth | clkDrive8mA)
	if output == 1 {
		// clk1 runs off PLLB.
		ctl |= 0x20
	}
	if err := d.write(ctlReg, ctl); err != nil {
		return err
	}
	return d.enable(output)
}

// SetSpreadSpectrum enables down spread on PLLA with the given
// amplitude in percent, or disables it for pct == 0. Spread applies to
// the audio clock only; the video clock must stay spectrally clean.
func (d *Device) SetSpreadSpectrum(pct float32) error {
	if pct == 0 {
		return d.write(regSpreadBase, 0)
	}
	if pct < 0 || pct > 1.5 {
		return fmt.Errorf("si5351: spread amplitude %v out of range", pct)
	}
	// Down-spread parameters per AN619 with a 31.5 kHz modulation rate.
	const sscMode = 0x80
	amp := uint32(pct / 100 * (1 << 15))
	updn := amp * (xtalHz / 4 / 31500) >> 15
	if updn == 0 {
		updn = 1
	}
	regs := []byte{
		sscMode | byte(updn>>8&0x0f), byte(updn),
		byte(updn >> 8 & 0x0f), byte(updn),
		byte(amp >> 8), byte(amp),
	}
	for i, v := range regs {
		if err := d.write(regSpreadBase+byte(i), v); err != nil {
			return err
		}
	}
	return nil
}

// writeSynth programs one feedback or output multisynth with the
// fractional divider a + b/c.
func (d *Device) writeSynth(base byte, a, b, c uint64) error {
	p1 := 128*a + 128*b/c - 512
	p2 := 128*b - c*(128*b/c)
	p3 := c
	regs := [8]byte{
		byte(p3 >> 8), byte(p3),
		byte(p1 >> 16 & 0x03), byte(p1 >> 8), byte(p1),
		byte(p3>>12&0xf0) | byte(p2>>16&0x0f), byte(p2 >> 8), byte(p2),
	}
	return d.write(base, regs[:]...)
}

func (d *Device) enable(output int) error {
	var mask [1]byte
	if err := d.dev.Tx([]byte{regOutputEnable}, mask[:]); err != nil {
		return fmt.Errorf("si5351: %w", err)
	}
	mask[0] &^= 1 << output
	return d.write(regOutputEnable, mask[0])
}

func (d *Device) write(reg byte, vals ...byte) error {
	buf := append([]byte{reg}, vals...)
	if err := d.dev.Tx(buf, nil); err != nil {
		return fmt.Errorf("si5351: %w", err)
	}
	return nil
}
