// Package crc32b implements the CRC-32/BZIP2 checksum protecting flash
// regions, the boot handoff record and EEPROM records.
//
// The polynomial is the usual 0x04c11db7, but unlike hash/crc32 the bit
// order is not reflected, so the two are not interchangeable.
package crc32b

const poly = 0x04c11db7

var table [256]uint32

func init() {
	for i := range table {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		table[i] = c
	}
}

// Digest accumulates a CRC-32/BZIP2 over a byte stream. The zero value is
// not valid; use New.
type Digest struct {
	crc uint32
}

func New() *Digest {
	return &Digest{crc: 0xffffffff}
}

func (d *Digest) Write(p []byte) (int, error) {
	c := d.crc
	for _, b := range p {
		c = c<<8 ^ table[byte(c>>24)^b]
	}
	d.crc = c
	return len(p), nil
}

func (d *Digest) Sum32() uint32 {
	return d.crc ^ 0xffffffff
}

// Checksum returns the CRC-32/BZIP2 of p.
func Checksum(p []byte) uint32 {
	d := New()
	d.Write(p)
	return d.Sum32()
}
