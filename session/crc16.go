package session

// CRC-16/CCITT-FALSE: polynomial 0x1021, MSB first, no reflection.
// Computed incrementally over the unescaped length and payload bytes of a
// frame. No third-party or standard library package covers the 16-bit
// CCITT variant, so the few lines live here.

const crcInit uint16 = 0xFFFF

func crc16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
