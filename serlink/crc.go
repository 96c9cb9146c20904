package serlink

// crcPolynomial is the reflected CRC-32/IEEE-802.3 generator polynomial.
const crcPolynomial = 0xEDB88320

// CRC32 computes CRC-32/IEEE-802.3 checksums from a precomputed 256-entry
// table. The table belongs to the instance, not the package; build one with
// NewCRC32 and share it freely, it is immutable after construction.
type CRC32 struct {
	table [256]uint32
}

// NewCRC32 builds the lookup table and returns a ready engine. Building is
// deterministic, so any two engines are interchangeable.
func NewCRC32() *CRC32 {
	c := &CRC32{}
	for i := range c.table {
		crc := uint32(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
		c.table[i] = crc
	}
	return c
}

// Sum returns the CRC-32 of data. The accumulator is seeded with 0xFFFFFFFF
// and the final value is inverted, per the IEEE convention. Sum of an empty
// slice is 0.
func (c *CRC32) Sum(data []byte) uint32 {
	return c.Finish(c.Update(c.Init(), data))
}

// Init returns the initial accumulator value.
func (c *CRC32) Init() uint32 {
	return 0xFFFFFFFF
}

// Update folds data into a running accumulator. Use with Init and Finish to
// checksum a record that arrives in pieces.
func (c *CRC32) Update(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc >> 8) ^ c.table[(crc^uint32(b))&0xFF]
	}
	return crc
}

// Finish inverts the accumulator into the final checksum value.
func (c *CRC32) Finish(crc uint32) uint32 {
	return crc ^ 0xFFFFFFFF
}
