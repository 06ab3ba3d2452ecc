//go:build linux

package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"oscilla.audio/bitstream"
	"oscilla.audio/boot"
	"oscilla.audio/bootinfo"
	"oscilla.audio/driver/resetctl"
	"oscilla.audio/driver/si5351"
	"oscilla.audio/edid"
	"oscilla.audio/eeprom"
	"oscilla.audio/input"
	"oscilla.audio/mem"
)

// Physical memory map of the SoC as seen through /dev/mem.
const (
	flashPhys = 0x10000000
	flashSize = 16 << 20
	psramPhys = 0x20000000
	psramSize = 16 << 20

	// csrPhys maps the audio front end's calibration registers.
	csrPhys = 0xf0000000
	csrSize = 1 << 12

	hwRev = 5
)

// Encoder and hotplug pin names, overridable for bringup boards.
var pins = struct {
	a, b, sw, hpd string
}{"GPIO17", "GPIO27", "GPIO22", "GPIO23"}

type Platform struct {
	orch  *boot.Orchestrator
	neg   *edid.Negotiator
	hpd   gpio.PinIn
	reset *resetctl.Port

	drawn     bool
	lastDrawn boot.Snapshot
}

// csrSink writes calibration constants into the audio front end's
// register window: two little-endian words per channel, scale then zero.
type csrSink struct {
	regs mem.Region
}

func (s csrSink) WriteCalibrationConstant(channel uint8, scale, zero int32) {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(scale))
	binary.LittleEndian.PutUint32(buf[4:], uint32(zero))
	if _, err := s.regs.WriteAt(buf[:], int64(channel)*8); err != nil {
		log.Printf("calibration: channel %d: %v", channel, err)
	}
}

func Init() (*Platform, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, err
	}

	flash, err := mem.Map("/dev/mem", flashPhys, flashSize)
	if err != nil {
		return nil, err
	}
	psram, err := mem.Map("/dev/mem", psramPhys, psramSize)
	if err != nil {
		return nil, err
	}
	csr, err := mem.Map("/dev/mem", csrPhys, csrSize)
	if err != nil {
		return nil, err
	}
	// The handoff record lives in the final bytes of PSRAM, above
	// anything a manifest region may load.
	handoff := mem.NewWindow(psram, psramSize-bootinfo.MaxSize, bootinfo.MaxSize)

	if uuid, err := flashUUID(csr); err == nil {
		log.Printf("bootloader: flash uuid %x", uuid)
	}

	dev := eeprom.New(bus)
	if id, err := dev.ReadID(); err == nil {
		log.Printf("bootloader: eeprom id %x", id)
	}
	store := eeprom.NewManager(dev)
	cal, err := store.ReadCalibration()
	if err != nil {
		return nil, err
	}
	cal.Apply(csrSink{regs: csr})

	clock := si5351.New(bus)
	if err := clock.Init(); err != nil {
		return nil, err
	}

	port := os.Getenv("oscilla_reset_port")
	if port == "" {
		port = "/dev/ttyS1"
	}
	reset, err := resetctl.Open(port)
	if err != nil {
		return nil, err
	}

	enc, err := openEncoder()
	if err != nil {
		return nil, err
	}
	hpd := gpioreg.ByName(pins.hpd)
	if hpd == nil {
		return nil, fmt.Errorf("no pin %s", pins.hpd)
	}
	if err := hpd.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, err
	}

	p := &Platform{
		neg:   &edid.Negotiator{Bus: bus},
		hpd:   hpd,
		reset: reset,
	}
	p.orch = &boot.Orchestrator{
		Config: boot.Config{HWRev: hwRev},
		Flash:  flash,
		Loader: &bitstream.Loader{
			Flash:          flash,
			RAM:            psram,
			Counter:        cycleCounter(csr),
			TicksPerSecond: 60000000,
		},
		Handoff: handoff,
		Store:   store,
		Encoder: enc,
		Clock:   clock,
		Reset:   reset,
		Mute:    muteFunc(csr),
		Barrier: func() {
			// The mapping is MAP_SHARED on an uncached window; the
			// store queue drains before the write syscall returns.
		},
	}
	if err := p.orch.Init(); err != nil {
		return nil, err
	}
	p.orch.UpdateModeline(p.neg.Resolve())
	if rep := p.orch.Snapshot().Report; rep != "" {
		os.Stdout.WriteString(rep)
	}
	return p, nil
}

func openEncoder() (input.Encoder, error) {
	var ps [3]gpio.PinIn
	for i, name := range []string{pins.a, pins.b, pins.sw} {
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("no pin %s", name)
		}
		ps[i] = pin
	}
	r, err := input.NewRotary(ps[0], ps[1], ps[2])
	if err != nil {
		return nil, err
	}
	return r, nil
}

// flashUUID reads the SPI flash's unique ID through the flash
// controller's register window. The fabric latches the ID (read unique
// ID command, 0x4B) at configuration time.
func flashUUID(csr mem.Region) ([8]byte, error) {
	const off = 0x110
	var uuid [8]byte
	if _, err := csr.ReadAt(uuid[:], off); err != nil {
		return uuid, err
	}
	return uuid, nil
}

// cycleCounter reads the fabric's free-running down counter, used for
// the copy throughput report.
func cycleCounter(csr mem.Region) func() uint32 {
	const off = 0x100
	return func() uint32 {
		var buf [4]byte
		if _, err := csr.ReadAt(buf[:], off); err != nil {
			return 0
		}
		return binary.LittleEndian.Uint32(buf[:])
	}
}

// muteFunc gates the codec output through its control register.
func muteFunc(csr mem.Region) func(bool) {
	const off = 0x104
	return func(on bool) {
		var buf [4]byte
		if on {
			buf[0] = 1
		}
		if _, err := csr.WriteAt(buf[:], off); err != nil {
			log.Printf("mute: %v", err)
		}
	}
}

// Run is the non-interrupt main loop: it redraws the menu when the
// drawable state changes and re-negotiates display timing on hotplug
// rising edges. All bus and flash I/O happens here, outside the tick
// handler's lock.
func (p *Platform) Run() error {
	frame := time.NewTicker(50 * time.Millisecond)
	defer frame.Stop()
	hpdLevel := p.hpd.Read()
	for range frame.C {
		if l := p.hpd.Read(); l != hpdLevel {
			hpdLevel = l
			if l == gpio.High {
				if p.orch.UpdateModeline(p.neg.Resolve()) {
					log.Printf("bootloader: display timing changed")
				}
			}
		}
		snap := p.orch.Snapshot()
		p.draw(snap)
		if snap.State == boot.Handoff {
			// The supervisor will cut power to this core shortly.
			return nil
		}
	}
	return nil
}

func (p *Platform) draw(s boot.Snapshot) {
	if p.drawn && equalSnapshots(s, p.lastDrawn) {
		return
	}
	p.drawn = true
	p.lastDrawn = s
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", s.State)
	if s.State == boot.CountdownActive {
		fmt.Fprintf(&b, " autoboot in %v", s.Countdown.Round(time.Second))
	}
	b.WriteByte('\n')
	for i, name := range s.Names {
		marker := "  "
		if i == s.Selected {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%s", marker, name)
		if d := s.Diags[i]; d != "" {
			fmt.Fprintf(&b, "  !%s", d)
		}
		b.WriteByte('\n')
	}
	os.Stdout.WriteString(b.String())
}

func equalSnapshots(a, b boot.Snapshot) bool {
	return a.State == b.State && a.Selected == b.Selected &&
		a.Confirmed == b.Confirmed && a.Diags == b.Diags &&
		countdownSecond(a) == countdownSecond(b)
}

// countdownSecond quantizes the countdown for drawing, so the menu
// redraws once per second rather than every tick.
func countdownSecond(s boot.Snapshot) int {
	return int(s.Countdown / time.Second)
}
