package engine

import "encoding/binary"

// decodePointerBlock reinterprets a raw block as a slice of big-endian
// uint32 pointers, one per 4-byte slot.
func decodePointerBlock(raw []byte) []uint32 {
	count := len(raw) / 4
	out := make([]uint32, count)
	for i := 0; i < count; i++ {
		out[i] = binary.BigEndian.Uint32(raw[i*4 : i*4+4])
	}
	return out
}

// encodePointerBlock serializes ptrs into a zero-padded block of
// blockSize bytes.
func encodePointerBlock(ptrs []uint32, blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	for i, p := range ptrs {
		binary.BigEndian.PutUint32(buf[i*4:i*4+4], p)
	}
	return buf
}
