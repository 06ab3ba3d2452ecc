package edid

// Rotation of the panel relative to the framebuffer.
type Rotation int

const (
	RotateNormal Rotation = iota
	RotateLeft
)

// Pixel clocks the video PHY can actually drive.
const (
	PixelClkMinKHz = 10000
	PixelClkMaxKHz = 80000
)

// Product code of the square 720x720 panel that is mounted physically
// rotated; it gets a rotated framebuffer orientation.
const rotatedProductCode = 0x3132

// Modeline is one display timing description.
type Modeline struct {
	HActive     uint16 `cbor:"1,keyasint"`
	HSyncStart  uint16 `cbor:"2,keyasint"`
	HSyncEnd    uint16 `cbor:"3,keyasint"`
	HTotal      uint16 `cbor:"4,keyasint"`
	HSyncInvert bool   `cbor:"5,keyasint,omitempty"`

	VActive     uint16 `cbor:"6,keyasint"`
	VSyncStart  uint16 `cbor:"7,keyasint"`
	VSyncEnd    uint16 `cbor:"8,keyasint"`
	VTotal      uint16 `cbor:"9,keyasint"`
	VSyncInvert bool   `cbor:"10,keyasint,omitempty"`

	PixelClockMHz float32  `cbor:"11,keyasint"`
	Rotate        Rotation `cbor:"12,keyasint,omitempty"`
}

// Fixed reports whether the timing was not computed from a descriptor;
// such modelines have no derivable refresh rate.
func (m *Modeline) Fixed() bool {
	return m.VTotal == 0
}

// RefreshRate in Hz. Zero for fixed modelines.
func (m *Modeline) RefreshRate() float32 {
	if m.Fixed() {
		return 0
	}
	return 1e6 * m.PixelClockMHz / float32(uint32(m.HTotal)*uint32(m.VTotal))
}

// PixelClockHz returns the pixel clock rounded to whole Hz.
func (m *Modeline) PixelClockHz() uint32 {
	return uint32(m.PixelClockMHz * 1e6)
}

// Default is the 1280x720p60 fallback used when no descriptor can be
// read from the attached display.
func Default() Modeline {
	return Modeline{
		HActive:       1280,
		HSyncStart:    1390,
		HSyncEnd:      1430,
		HTotal:        1650,
		VActive:       720,
		VSyncStart:    725,
		VSyncEnd:      730,
		VTotal:        750,
		PixelClockMHz: 74.25,
	}
}

// DeriveModeline scans the block's descriptors in order and converts the
// first acceptable detailed timing into a modeline. There is no best-fit
// search; descriptor order is the display's preference order. A
// candidate is rejected if its pixel clock is outside the PHY's range,
// if it declares interlaced scanning, or if its sync type is anything
// but digital separate. Returns nil if no descriptor qualifies.
func DeriveModeline(e *EDID) *Modeline {
	for i := range e.Descriptors {
		t := e.Descriptors[i].Timing
		if t == nil {
			continue
		}
		if t.PixelClockKHz < PixelClkMinKHz || t.PixelClockKHz > PixelClkMaxKHz {
			continue
		}
		if t.Interlaced || t.Sync != SyncDigitalSeparate {
			continue
		}
		m := &Modeline{
			HActive:     t.HActive,
			HSyncStart:  t.HActive + t.HSyncOffset,
			HSyncEnd:    t.HActive + t.HSyncOffset + t.HSyncPulse,
			HTotal:      t.HActive + t.HBlanking,
			HSyncInvert: !t.HSyncPositive,

			VActive:     t.VActive,
			VSyncStart:  t.VActive + t.VSyncOffset,
			VSyncEnd:    t.VActive + t.VSyncOffset + t.VSyncPulse,
			VTotal:      t.VActive + t.VBlanking,
			VSyncInvert: !t.VSyncPositive,

			PixelClockMHz: float32(t.PixelClockKHz) / 1000,
		}
		if e.Header.ProductCode == rotatedProductCode {
			m.Rotate = RotateLeft
		}
		return m
	}
	return nil
}
