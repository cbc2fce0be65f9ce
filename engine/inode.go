package engine

import (
	"bytes"
	"encoding/binary"

	"github.com/noxer/bytewriter"
)

// Inode is the in-memory form of a 64-byte on-disk inode record. Slot is
// not part of the wire format; it's the record's position in the inode
// table, carried alongside so writeInodeSlot knows where to splice it
// back in without a second lookup.
type Inode struct {
	Valid          bool
	Size           uint64
	Name           string
	Direct         [DirectPointerCount]uint32
	Indirect       uint32
	DoubleIndirect uint32
	Slot           uint32
}

// encodeInode serializes ino into a fresh InodeSize-byte record. It uses
// bytewriter.New the way the rest of the codebase builds other fixed-size
// on-disk records, even though the 7-byte size field keeps this one from
// being a single encoding/binary.Write of a struct.
func encodeInode(ino Inode) []byte {
	buf := make([]byte, InodeSize)
	w := bytewriter.New(buf)

	if ino.Valid {
		w.Write([]byte{0x01})
	} else {
		w.Write([]byte{0x00})
	}

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], ino.Size)
	w.Write(sizeBuf[1:8]) // 7-byte big-endian size field

	nameBuf := make([]byte, MaxNameLen)
	copy(nameBuf, []byte(ino.Name))
	w.Write(nameBuf)

	for _, ptr := range ino.Direct {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], ptr)
		w.Write(b[:])
	}

	var indirectBuf [4]byte
	binary.BigEndian.PutUint32(indirectBuf[:], ino.Indirect)
	w.Write(indirectBuf[:])

	var doubleBuf [4]byte
	binary.BigEndian.PutUint32(doubleBuf[:], ino.DoubleIndirect)
	w.Write(doubleBuf[:])

	return buf
}

// decodeInode parses one InodeSize-byte record at the given slot. ok is
// false for a structurally invalid *valid* record (declared size out of
// range), which the directory scan treats as a BadInode and skips rather
// than failing the whole mount -- free slots are never validated, since
// their fields are meaningless.
func decodeInode(slot uint32, raw []byte) (Inode, bool) {
	if len(raw) != InodeSize {
		return Inode{}, false
	}

	valid := raw[0] == 0x01

	var sizeBuf [8]byte
	copy(sizeBuf[1:8], raw[1:8])
	size := binary.BigEndian.Uint64(sizeBuf[:])

	if valid && (size == 0 || size > MaxInodeSizeCap) {
		return Inode{}, false
	}

	nameBytes := raw[8 : 8+MaxNameLen]
	if end := bytes.IndexByte(nameBytes, 0); end >= 0 {
		nameBytes = nameBytes[:end]
	}

	var direct [DirectPointerCount]uint32
	for i := 0; i < DirectPointerCount; i++ {
		off := 40 + i*4
		direct[i] = binary.BigEndian.Uint32(raw[off : off+4])
	}

	indirect := binary.BigEndian.Uint32(raw[56:60])
	doubleIndirect := binary.BigEndian.Uint32(raw[60:64])

	return Inode{
		Valid:          valid,
		Size:           size,
		Name:           string(nameBytes),
		Direct:         direct,
		Indirect:       indirect,
		DoubleIndirect: doubleIndirect,
		Slot:           slot,
	}, true
}
