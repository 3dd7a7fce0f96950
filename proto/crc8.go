package proto

// CRC8 computes the frame checksum: polynomial 0x31, initial value 0xFF,
// MSB first, no final XOR.
//
// Like every 8-bit CRC it misses some multi-bit error patterns; single bit
// flips and bursts up to 8 bits are always detected.
func CRC8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
