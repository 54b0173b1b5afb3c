package pd0

// EnsembleChecksum accumulates the modulo-65536 byte sum the instrument
// appends after every ensemble.
type EnsembleChecksum struct {
	value uint16
}

// Write adds p to the running sum.
func (c *EnsembleChecksum) Write(p []byte) (int, error) {
	for _, b := range p {
		c.value += uint16(b)
	}
	return len(p), nil
}

// Sum16 returns the current sum.
func (c *EnsembleChecksum) Sum16() uint16 {
	return c.value
}

// Checksum returns the checksum word for an ensemble body (everything from
// the 0x7F7F header up to, but excluding, the checksum itself).
func Checksum(body []byte) uint16 {
	var c EnsembleChecksum
	c.Write(body)
	return c.Sum16()
}

func verifyEnsembleChecksum(src ByteSource, d EnsembleDescriptor) (bool, error) {
	body, err := readExact(src, int64(d.StreamOffset), int(d.TotalBytes))
	if err != nil {
		return false, err
	}
	return Checksum(body) == d.Checksum, nil
}
