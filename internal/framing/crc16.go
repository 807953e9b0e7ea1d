package framing

// CRC-16/X.25 as used by AX.25 and PPP frame check sequences.
// Reflected polynomial 0x8408, initial value 0xFFFF, final XOR 0xFFFF.

var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for b := 0; b < 8; b++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
		crc16Table[i] = crc
	}
}

// Checksum computes the CRC-16/X.25 frame check sequence over data
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[(crc^uint16(b))&0xFF]
	}
	return crc ^ 0xFFFF
}

// AppendChecksum appends the frame check sequence to data, low byte first
func AppendChecksum(data []byte) []byte {
	crc := Checksum(data)
	return append(data, byte(crc&0xFF), byte(crc>>8))
}

// VerifyChecksum checks that the last two bytes of data are the valid
// frame check sequence for the preceding bytes
func VerifyChecksum(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	crc := Checksum(data[:len(data)-2])
	return data[len(data)-2] == byte(crc&0xFF) && data[len(data)-1] == byte(crc>>8)
}
