// Package boot implements the slot selection state machine that drives
// the whole instrument: it discovers programmed configurations, runs the
// autoboot countdown, validates and stages the selected image and hands
// control to it through an external reset request.
package boot

import (
	"fmt"
	"log"
	"sync"
	"time"

	"oscilla.audio/bitstream"
	"oscilla.audio/bootinfo"
	"oscilla.audio/edid"
	"oscilla.audio/eeprom"
	"oscilla.audio/input"
	"oscilla.audio/manifest"
	"oscilla.audio/mem"
	"oscilla.audio/menu"
)

// State of the orchestrator. The machine only ever moves forward from
// RebootPending to Handoff; every failure path lands back in Selecting
// with a per-slot diagnostic.
type State int

const (
	Selecting State = iota
	CountdownActive
	RebootPending
	Handoff
)

func (s State) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case CountdownActive:
		return "countdown"
	case RebootPending:
		return "rebooting"
	case Handoff:
		return "handoff"
	}
	return "unknown"
}

// maxDiag bounds the per-slot diagnostic strings shown on screen.
const maxDiag = 32

// Clock programs the external clock generator.
type Clock interface {
	SetFrequency(output int, hz uint32) error
	SetSpreadSpectrum(pct float32) error
}

// Store persists the autoboot slot across power cycles.
type Store interface {
	ReadConfig() (eeprom.Config, error)
	WriteConfig(*eeprom.Config) error
}

// Resetter asks the supervisor to reconfigure from a flash slot.
type Resetter interface {
	RequestReboot(slot int) error
}

type Config struct {
	// HWRev is this board's hardware revision. Manifests built for a
	// different revision are listed but refused at boot time.
	HWRev uint32

	TickPeriod time.Duration // default 10ms
	Countdown  time.Duration // autoboot budget, default 5s
	Grace      time.Duration // reboot hold, default 250ms
	// Startup suppresses input while the boot animation plays,
	// default 500ms.
	Startup time.Duration

	// FixedTiming marks builds locked to a compiled-in modeline.
	// Such builds cannot satisfy a clk1_inherit request.
	FixedTiming bool
}

func (c *Config) defaults() {
	if c.TickPeriod == 0 {
		c.TickPeriod = 10 * time.Millisecond
	}
	if c.Countdown == 0 {
		c.Countdown = 5 * time.Second
	}
	if c.Grace == 0 {
		c.Grace = 250 * time.Millisecond
	}
	if c.Startup == 0 {
		c.Startup = 500 * time.Millisecond
	}
}

// Orchestrator owns all mutable boot state. The tick handler and the
// draw loop share it; all access goes through methods that take the
// internal lock, and the draw loop only ever copies a Snapshot out.
type Orchestrator struct {
	Config  Config
	Flash   mem.Region
	Loader  *bitstream.Loader
	Handoff mem.Region
	Store   Store
	Encoder input.Encoder
	Clock   Clock
	Reset   Resetter

	// Mute, if set, silences the audio path during the reboot grace
	// window. Barrier, if set, runs after the handoff record is
	// written and before the reset request.
	Mute    func(on bool)
	Barrier func()

	mu        sync.Mutex
	state     State
	manifests [manifest.NumSlots]*manifest.Manifest
	menu      *menu.List
	modeline  edid.Modeline
	countdown time.Duration
	grace     time.Duration
	elapsed   time.Duration
	inputAge  time.Duration
	pending   int
	diags     [manifest.NumSlots]string
	report    string
}

// Init discovers the manifest slots, classifies the boot as warm or
// cold and arms the autoboot countdown if a slot was persisted.
func (o *Orchestrator) Init() error {
	o.Config.defaults()
	o.modeline = edid.Default()
	o.inputAge = time.Hour

	o.manifests = manifest.Scan(o.Flash)
	names := make([]string, manifest.NumSlots)
	var report []byte
	for i, m := range o.manifests {
		if m == nil {
			names[i] = fmt.Sprintf("%d: <empty>", i)
			continue
		}
		names[i] = fmt.Sprintf("%d: %s", i, m.Name)
		report = append(report, m.Report()...)
	}
	o.report = string(report)
	o.menu = menu.NewList(names)

	if prior := bootinfo.Read(o.Handoff); prior != nil {
		// Warm boot: a configuration just ran and came back here.
		// Clear the persisted slot so an aborted or crash-looping
		// image cannot autoboot forever.
		log.Printf("boot: warm boot from %q", prior.Manifest.Name)
		bootinfo.Clear(o.Handoff)
		if err := o.Store.WriteConfig(&eeprom.Config{}); err != nil {
			return fmt.Errorf("boot: %w", err)
		}
		o.state = Selecting
		return nil
	}

	cfg, err := o.Store.ReadConfig()
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	if s := cfg.LastBootSlot; s != nil && int(*s) < manifest.NumSlots {
		o.menu.Select(int(*s))
		o.countdown = o.Config.Countdown
		o.state = CountdownActive
		log.Printf("boot: autoboot slot %d armed", *s)
	}
	return nil
}

// Tick advances the machine by one tick period. It runs at interrupt
// priority on hardware; everything it touches stays under the lock,
// including the validate-and-copy sequence, which must be atomic with
// respect to concurrent selection changes.
func (o *Orchestrator) Tick() {
	o.mu.Lock()
	defer o.mu.Unlock()

	period := o.Config.TickPeriod
	o.elapsed += period

	o.Encoder.Update()
	ticks := o.Encoder.Ticks()
	click := o.Encoder.Clicked()
	if o.elapsed < o.Config.Startup {
		// Startup animation window: the encoder is polled so
		// half-finished detents don't pile up, but nothing acts on it.
		ticks, click = 0, false
	}
	if ticks != 0 || click {
		o.inputAge = 0
	} else {
		o.inputAge += period
	}

	switch o.state {
	case Selecting:
		o.menu.Apply(ticks, click)
		if o.menu.TakeConfirm() {
			o.arm(o.menu.Selected())
		}
	case CountdownActive:
		if o.inputAge <= 2*period {
			log.Printf("boot: autoboot cancelled")
			if err := o.Store.WriteConfig(&eeprom.Config{}); err != nil {
				log.Printf("boot: clear autoboot: %v", err)
			}
			// The cancelling input is consumed by the cancel itself;
			// it does not move or confirm the selection.
			o.state = Selecting
			break
		}
		o.countdown -= period
		if o.countdown <= 0 {
			o.arm(o.menu.Selected())
		}
	case RebootPending:
		o.grace -= period
		if o.grace > 0 {
			break
		}
		if err := o.doBoot(); err != nil {
			o.refuse(err)
		}
	case Handoff:
	}
}

// arm commits the slot and starts the grace window. The slot's stale
// diagnostic, if any, is cleared now so the screen shows the fresh
// outcome.
func (o *Orchestrator) arm(slot int) {
	o.pending = slot
	o.diags[slot] = ""
	o.grace = o.Config.Grace
	o.state = RebootPending
	if o.Mute != nil {
		o.Mute(true)
	}
}

// refuse records why the pending slot would not boot and returns to the
// menu. The persisted slot must not survive a refusal, or autoboot
// would retry a known-bad configuration on every power cycle.
func (o *Orchestrator) refuse(err error) {
	diag := err.Error()
	if len(diag) > maxDiag {
		diag = diag[:maxDiag]
	}
	o.diags[o.pending] = diag
	log.Printf("boot: slot %d refused: %v", o.pending, err)
	if werr := o.Store.WriteConfig(&eeprom.Config{}); werr != nil {
		log.Printf("boot: clear autoboot: %v", werr)
	}
	if o.Mute != nil {
		o.Mute(false)
	}
	o.state = Selecting
}

// doBoot runs the full handoff sequence for the pending slot. On
// success it does not return control in any meaningful sense: the reset
// request has been sent and this firmware is about to disappear.
func (o *Orchestrator) doBoot() error {
	m := o.manifests[o.pending]
	if m == nil || m.Magic != manifest.Magic {
		return bitstream.ErrInvalidManifest
	}
	if m.HWRev != o.Config.HWRev {
		return bitstream.ErrHWVersionMismatch
	}
	for i := range m.Regions {
		if err := o.Loader.VerifyAndCopy(&m.Regions[i]); err != nil {
			return err
		}
	}
	slot := uint8(o.pending)
	if err := o.Store.WriteConfig(&eeprom.Config{LastBootSlot: &slot}); err != nil {
		// Best effort: losing autoboot is better than refusing a
		// verified image.
		log.Printf("boot: persist slot %d: %v", o.pending, err)
	}
	if c := m.ExternalPLLConfig; c != nil {
		if err := o.applyClock(c); err != nil {
			o.clearPersist()
			return err
		}
	}
	if _, err := bootinfo.Write(o.Handoff, &bootinfo.BootInfo{
		Manifest: *m,
		Modeline: o.modeline,
	}); err != nil {
		o.clearPersist()
		return err
	}
	if o.Barrier != nil {
		o.Barrier()
	}
	if err := o.Reset.RequestReboot(o.pending); err != nil {
		o.clearPersist()
		return err
	}
	log.Printf("boot: handoff to slot %d %q", o.pending, m.Name)
	o.state = Handoff
	return nil
}

// clearPersist undoes the last_boot_slot write when a later handoff
// step fails, since persistence happens before the clock and handoff
// steps.
func (o *Orchestrator) clearPersist() {
	if err := o.Store.WriteConfig(&eeprom.Config{}); err != nil {
		log.Printf("boot: clear autoboot: %v", err)
	}
}

// applyClock programs the external generator per the manifest. The
// primary clock is always programmed; the secondary only when requested,
// with clk1_inherit substituting the negotiated pixel clock.
func (o *Orchestrator) applyClock(c *manifest.ExternalPLLConfig) error {
	if o.Clock == nil || c.Clk0Hz == 0 {
		return bitstream.ErrPLLBadConfig
	}
	if c.SpreadSpectrum != nil {
		if err := o.Clock.SetSpreadSpectrum(*c.SpreadSpectrum); err != nil {
			return fmt.Errorf("%w: %v", bitstream.ErrPLLI2C, err)
		}
	}
	if err := o.Clock.SetFrequency(0, c.Clk0Hz); err != nil {
		return fmt.Errorf("%w: %v", bitstream.ErrPLLI2C, err)
	}
	var clk1 uint32
	switch {
	case c.Clk1Inherit:
		if o.Config.FixedTiming {
			// A fixed-timing build has no negotiated pixel clock to
			// forward, and guessing one would drive the next
			// configuration's video PLL blind.
			return bitstream.ErrStaticModeline
		}
		clk1 = o.modeline.PixelClockHz()
	case c.Clk1Hz != nil:
		clk1 = *c.Clk1Hz
	default:
		return nil
	}
	if clk1 == 0 {
		return bitstream.ErrPLLBadConfig
	}
	if err := o.Clock.SetFrequency(1, clk1); err != nil {
		return fmt.Errorf("%w: %v", bitstream.ErrPLLI2C, err)
	}
	return nil
}

// UpdateModeline adopts a newly negotiated display timing, as resolved
// on a hotplug edge. It reports whether the timing actually changed;
// callers reprogram display hardware only on change, outside the lock.
func (o *Orchestrator) UpdateModeline(m edid.Modeline) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m == o.modeline {
		return false
	}
	o.modeline = m
	return true
}

// Snapshot is an immutable copy of the drawable state.
type Snapshot struct {
	State     State
	Names     []string
	Selected  int
	Confirmed bool
	Pending   int
	Countdown time.Duration
	Diags     [manifest.NumSlots]string
	Modeline  edid.Modeline
	Report    string
}

// Snapshot copies the state out under the lock. The draw loop calls
// this once per frame and never touches the orchestrator otherwise.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		State:     o.state,
		Names:     o.menu.Names(),
		Selected:  o.menu.Selected(),
		Confirmed: o.menu.Confirmed(),
		Pending:   o.pending,
		Countdown: o.countdown,
		Diags:     o.diags,
		Modeline:  o.modeline,
		Report:    o.report,
	}
}
