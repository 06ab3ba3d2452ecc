package eeprom

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// sim is an in-process EEPROM: a byte-addressed memory honoring the
// write-register-then-read transaction shape, with an optional count of
// initial NAKs to exercise the write retry path.
type sim struct {
	mem  [256]byte
	naks int

	writes int
}

func newSim() *sim {
	s := &sim{}
	// Fresh EEPROMs read as erased.
	for i := range s.mem {
		s.mem[i] = 0xff
	}
	return s
}

func (s *sim) String() string { return "eepromsim" }

func (s *sim) SetSpeed(f physic.Frequency) error { return nil }

func (s *sim) Tx(addr uint16, w, r []byte) error {
	if addr != Addr {
		return errors.New("eepromsim: wrong address")
	}
	if len(w) == 0 {
		return errors.New("eepromsim: missing register address")
	}
	off := int(w[0])
	if len(w) > 1 {
		// Write transaction.
		if s.naks > 0 {
			s.naks--
			return errors.New("eepromsim: nak")
		}
		s.writes++
		copy(s.mem[off:], w[1:])
		return nil
	}
	copy(r, s.mem[off:])
	return nil
}

var _ i2c.Bus = (*sim)(nil)

func TestReadWriteBytes(t *testing.T) {
	s := newSim()
	d := New(s)
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	if err := d.WriteBytes(0x10, data); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 40)
	if err := d.ReadBytes(0x10, got); err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != data[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], data[i])
		}
	}
}

func TestWriteRetries(t *testing.T) {
	s := newSim()
	s.naks = writeAttempts - 1
	d := New(s)
	if err := d.WriteBytes(0, []byte{1, 2, 3}); err != nil {
		t.Errorf("write with %d naks failed: %v", writeAttempts-1, err)
	}

	s = newSim()
	s.naks = writeAttempts
	d = New(s)
	if err := d.WriteBytes(0, []byte{1, 2, 3}); err == nil {
		t.Error("write succeeded with the retry budget exhausted")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	m := NewManager(New(newSim()))
	slot := uint8(3)
	if err := m.WriteConfig(&Config{LastBootSlot: &slot}); err != nil {
		t.Fatal(err)
	}
	cfg, err := m.ReadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LastBootSlot == nil || *cfg.LastBootSlot != 3 {
		t.Errorf("LastBootSlot = %v, want 3", cfg.LastBootSlot)
	}
	if err := m.WriteConfig(&Config{}); err != nil {
		t.Fatal(err)
	}
	if cfg, _ := m.ReadConfig(); cfg.LastBootSlot != nil {
		t.Errorf("LastBootSlot = %v after clear, want nil", cfg.LastBootSlot)
	}
}

func TestFreshEEPROMReadsDefaults(t *testing.T) {
	m := NewManager(New(newSim()))
	cal, err := m.ReadCalibration()
	if err != nil {
		t.Fatal(err)
	}
	if cal != DefaultCalibration() {
		t.Errorf("calibration from erased eeprom = %+v, want defaults", cal)
	}
	cfg, err := m.ReadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LastBootSlot != nil {
		t.Errorf("config from erased eeprom = %+v, want zero", cfg)
	}
}

func TestCorruptionFallsBackToDefaults(t *testing.T) {
	s := newSim()
	m := NewManager(New(s))
	cal := DefaultCalibration()
	cal.ADCZero[2] = 123
	if err := m.WriteCalibration(&cal); err != nil {
		t.Fatal(err)
	}
	// Every single-bit flip anywhere in the record must yield defaults,
	// never a decoded-but-wrong value.
	for off := 0; off < recordSize; off++ {
		for bit := 0; bit < 8; bit++ {
			s.mem[calibrationOffset+off] ^= 1 << bit
			got, err := m.ReadCalibration()
			if err != nil {
				t.Fatal(err)
			}
			if got != cal && got != DefaultCalibration() {
				t.Fatalf("flip byte %d bit %d: got %+v", off, bit, got)
			}
			s.mem[calibrationOffset+off] ^= 1 << bit
		}
	}
}

func TestCalibrationApply(t *testing.T) {
	var got [8][2]int32
	sink := sinkFunc(func(ch uint8, scale, zero int32) {
		got[ch] = [2]int32{scale, zero}
	})
	cal := DefaultCalibration()
	cal.DACZero[1] = -7
	cal.Apply(sink)
	if got[0] != [2]int32{-40894, 0} {
		t.Errorf("adc channel 0 = %v", got[0])
	}
	if got[5] != [2]int32{29491, -7} {
		t.Errorf("dac channel 1 = %v", got[5])
	}
}

type sinkFunc func(ch uint8, scale, zero int32)

func (f sinkFunc) WriteCalibrationConstant(ch uint8, scale, zero int32) {
	f(ch, scale, zero)
}
