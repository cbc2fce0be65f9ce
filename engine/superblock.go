package engine

import (
	"bytes"
	"encoding/binary"
)

// Superblock is the 16-byte header occupying block 0: magic, the two
// region sizes computed at format time, and a running count of live
// inodes. The count is advisory: Usage counts the directory cache instead.
type Superblock struct {
	NumBitmapBlocks uint32
	NumInodeBlocks  uint32
	ValidInodeCount uint32
}

func encodeSuperblock(sb Superblock, blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	copy(buf[0:4], Magic[:])
	binary.BigEndian.PutUint32(buf[4:8], sb.NumBitmapBlocks)
	binary.BigEndian.PutUint32(buf[8:12], sb.NumInodeBlocks)
	binary.BigEndian.PutUint32(buf[12:16], sb.ValidInodeCount)
	return buf
}

// decodeSuperblock reports ok=false when the magic doesn't match, which
// the caller treats as an unformatted (or wrong-key-decrypted) device.
func decodeSuperblock(raw []byte) (sb Superblock, ok bool) {
	if len(raw) < 16 || !bytes.Equal(raw[0:4], Magic[:]) {
		return Superblock{}, false
	}
	return Superblock{
		NumBitmapBlocks: binary.BigEndian.Uint32(raw[4:8]),
		NumInodeBlocks:  binary.BigEndian.Uint32(raw[8:12]),
		ValidInodeCount: binary.BigEndian.Uint32(raw[12:16]),
	}, true
}
