package protocol

import "hash/crc32"

// Checksum returns the CRC-32/ISO-HDLC of b: reflected polynomial
// 0xEDB88320, register seeded with 0xFFFFFFFF and complemented on output.
// Both the packet trailer and the reassembled image use it.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// xorChecksum is the one-byte frame checksum emitted by the modem.
func xorChecksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}
