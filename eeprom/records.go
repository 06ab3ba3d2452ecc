package eeprom

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"oscilla.audio/crc32b"
)

// EEPROM layout: two independently checksum-protected fixed-size
// records.
const (
	calibrationOffset = 0x00
	configOffset      = 0x40
	recordSize        = 0x40
)

// Calibration holds the per-channel analog front end constants, in
// signed fixed point with FractionalBits fractional bits.
type Calibration struct {
	_        struct{} `cbor:",toarray"`
	ADCScale [4]int32
	ADCZero  [4]int32
	DACScale [4]int32
	DACZero  [4]int32
	// FractionalBits of the fixed point representation.
	FractionalBits uint8
}

// DefaultCalibration is the compiled-in fallback applied when no valid
// record is stored.
func DefaultCalibration() Calibration {
	return Calibration{
		ADCScale:       [4]int32{-40894, -40894, -40894, -40894},
		DACScale:       [4]int32{29491, 29491, 29491, 29491},
		FractionalBits: 15,
	}
}

// CalibrationSink is the analog front end the constants are applied to.
// Channels 0-3 are the ADC channels, 4-7 the DAC channels.
type CalibrationSink interface {
	WriteCalibrationConstant(channel uint8, scale, zero int32)
}

// Apply pushes the constants into the analog front end.
func (c *Calibration) Apply(sink CalibrationSink) {
	for ch := 0; ch < 4; ch++ {
		sink.WriteCalibrationConstant(uint8(ch), c.ADCScale[ch], c.ADCZero[ch])
		sink.WriteCalibrationConstant(uint8(ch+4), c.DACScale[ch], c.DACZero[ch])
	}
}

// Config is the autoboot state.
type Config struct {
	_ struct{} `cbor:",toarray"`
	// LastBootSlot is the slot persisted just before a successful
	// handoff; nil when autoboot is disarmed.
	LastBootSlot *uint8
}

// Manager reads and writes the persistent records.
type Manager struct {
	dev *Device
}

func NewManager(dev *Device) *Manager {
	return &Manager{dev: dev}
}

// Record wire format inside its 64-byte window: u8 payload length, CBOR
// payload, u32 LE CRC-32/BZIP2 over the length byte and payload.
func encodeRecord(v any) ([]byte, error) {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("eeprom: %w", err)
	}
	if 1+len(payload)+4 > recordSize {
		return nil, fmt.Errorf("eeprom: record is %d bytes, limit %d", 1+len(payload)+4, recordSize)
	}
	buf := make([]byte, 0, recordSize)
	buf = append(buf, byte(len(payload)))
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32b.Checksum(buf))
	return buf, nil
}

// decodeRecord validates and decodes a raw record window. ok is false
// for any invalid record; that is "no saved state", not an error.
func decodeRecord(raw []byte, v any) bool {
	n := int(raw[0])
	if n == 0 || 1+n+4 > len(raw) {
		return false
	}
	body, trailer := raw[:1+n], raw[1+n:1+n+4]
	if crc32b.Checksum(body) != binary.LittleEndian.Uint32(trailer) {
		return false
	}
	return cbor.Unmarshal(body[1:], v) == nil
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// ReadCalibration returns the stored calibration, or the compiled-in
// defaults when the record is missing or fails its checksum. The error
// is non-nil only for bus failures.
func (m *Manager) ReadCalibration() (Calibration, error) {
	var raw [recordSize]byte
	if err := m.dev.ReadBytes(calibrationOffset, raw[:]); err != nil {
		return DefaultCalibration(), err
	}
	var c Calibration
	if !decodeRecord(raw[:], &c) {
		return DefaultCalibration(), nil
	}
	return c, nil
}

func (m *Manager) WriteCalibration(c *Calibration) error {
	buf, err := encodeRecord(c)
	if err != nil {
		return err
	}
	return m.dev.WriteBytes(calibrationOffset, buf)
}

// ReadConfig returns the stored autoboot state. A missing or corrupt
// record reads as the zero Config, never as an error: a bad checksum
// must only ever disable autoboot.
func (m *Manager) ReadConfig() (Config, error) {
	var raw [recordSize]byte
	if err := m.dev.ReadBytes(configOffset, raw[:]); err != nil {
		return Config{}, err
	}
	var c Config
	if !decodeRecord(raw[:], &c) {
		return Config{}, nil
	}
	return c, nil
}

func (m *Manager) WriteConfig(c *Config) error {
	buf, err := encodeRecord(c)
	if err != nil {
		return err
	}
	return m.dev.WriteBytes(configOffset, buf)
}
