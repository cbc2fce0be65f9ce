package engine

import "testing"

func TestInode_EncodeDecodeRoundTrip(t *testing.T) {
	ino := Inode{
		Valid:          true,
		Size:           123456,
		Name:           "report.pdf",
		Direct:         [DirectPointerCount]uint32{10, 11, 12, 13},
		Indirect:       99,
		DoubleIndirect: 100,
		Slot:           7,
	}

	raw := encodeInode(ino)
	if len(raw) != InodeSize {
		t.Fatalf("encodeInode: got %d bytes, want %d", len(raw), InodeSize)
	}

	decoded, ok := decodeInode(ino.Slot, raw)
	if !ok {
		t.Fatalf("decodeInode: unexpected BadInode for a freshly-encoded record")
	}
	if decoded != ino {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, ino)
	}
}

func TestInode_NameNulPadding(t *testing.T) {
	ino := Inode{Valid: true, Size: 1, Name: "a"}
	raw := encodeInode(ino)
	for i := 8 + 1; i < 8+MaxNameLen; i++ {
		if raw[i] != 0 {
			t.Fatalf("expected NUL padding at byte %d, got %x", i, raw[i])
		}
	}
}

func TestInode_FreeSlotNotValidated(t *testing.T) {
	raw := make([]byte, InodeSize)
	// valid=0, size field garbage -- must still decode ok, just invalid.
	raw[3] = 0xFF
	decoded, ok := decodeInode(5, raw)
	if !ok {
		t.Fatalf("a free slot should never be rejected as BadInode")
	}
	if decoded.Valid {
		t.Fatalf("expected Valid=false")
	}
}

func TestInode_BadInodeSizeOutOfRange(t *testing.T) {
	raw := make([]byte, InodeSize)
	raw[0] = 0x01 // valid
	// size = 0 is out of range (0, MaxInodeSizeCap]
	_, ok := decodeInode(0, raw)
	if ok {
		t.Fatalf("expected BadInode for a valid inode with size 0")
	}
}
