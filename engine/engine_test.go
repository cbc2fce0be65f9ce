package engine

import (
	"bytes"
	"io"
	"log"
	"testing"

	"github.com/nottruefalse/sfse/ferrors"
	"github.com/nottruefalse/sfse/testsupport"
)

// newTestEngine builds an Engine over a freshly-formatted in-memory
// device with an explicitly chosen geometry, bypassing ComputeGeometry so
// tests can pick small, fast region sizes without needing a multi-hundred-
// megabyte device to get a non-zero inode block count.
func newTestEngine(t *testing.T, totalBlocks, numBitmapBlocks, numInodeBlocks uint32, opts ...Option) *Engine {
	t.Helper()
	dataOffset := 1 + numBitmapBlocks + numInodeBlocks
	geom := Geometry{
		BlockSize:       BlockSize,
		TotalBlocks:     totalBlocks,
		NumBitmapBlocks: numBitmapBlocks,
		NumInodeBlocks:  numInodeBlocks,
		DataOffset:      dataOffset,
	}
	dev := testsupport.NewMemDevice(int64(totalBlocks) * BlockSize)
	e := &Engine{
		dev:      dev,
		geometry: geom,
		log:      log.New(io.Discard, "", 0),
		state:    stateOpened,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bitmap = newBitmapCache(e)
	if err := e.formatFresh(); err != nil {
		t.Fatalf("formatFresh: %v", err)
	}
	return e
}

func readAll(t *testing.T, e *Engine, name string) []byte {
	t.Helper()
	r, err := e.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile(%q): %v", name, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("io.ReadAll: %v", err)
	}
	return data
}

func TestCreateReadRoundTrip_DirectOnly(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)

	content := testsupport.RandomBytes(1, 9000) // spans 3 direct blocks
	if err := e.CreateFile("small.txt", bytes.NewReader(content), uint64(len(content))); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	got := readAll(t, e, "small.txt")
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %d bytes, want %d bytes", len(got), len(content))
	}

	ino, err := e.Stat("small.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if ino.Indirect != 0 || ino.DoubleIndirect != 0 {
		t.Fatalf("expected a direct-only file, got indirect=%d double=%d", ino.Indirect, ino.DoubleIndirect)
	}
}

func TestCreateReadRoundTrip_CrossesIntoIndirect(t *testing.T) {
	e := newTestEngine(t, 2000, 2, 1)

	size := BlockSize*4 + BlockSize*10 // 4 direct + 10 via indirect
	content := testsupport.RandomBytes(2, size)
	if err := e.CreateFile("medium.bin", bytes.NewReader(content), uint64(size)); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	got := readAll(t, e, "medium.bin")
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch")
	}

	ino, err := e.Stat("medium.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if ino.Indirect == 0 {
		t.Fatalf("expected a non-zero indirect pointer")
	}
	if ino.DoubleIndirect != 0 {
		t.Fatalf("did not expect double-indirect to be used")
	}
}

func TestCreateReadRoundTrip_CrossesIntoDoubleIndirect(t *testing.T) {
	e := newTestEngine(t, 1100, 1, 1)

	// 4 direct + 1024 indirect + 5 more via double-indirect.
	size := (DirectPointerCount + PointersPerBlock + 5) * BlockSize
	content := testsupport.RandomBytes(3, size)
	if err := e.CreateFile("big.bin", bytes.NewReader(content), uint64(size)); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	got := readAll(t, e, "big.bin")
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %d bytes, want %d", len(got), len(content))
	}

	ino, err := e.Stat("big.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if ino.DoubleIndirect == 0 {
		t.Fatalf("expected a non-zero double-indirect pointer")
	}
}

func TestCreateFile_DuplicateName(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	content := []byte("hello")
	if err := e.CreateFile("dup.txt", bytes.NewReader(content), uint64(len(content))); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	err := e.CreateFile("dup.txt", bytes.NewReader(content), uint64(len(content)))
	if err != ferrors.ErrDuplicateName {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestCreateFile_NameTooLong(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	longName := string(make([]byte, MaxNameLen+1))
	err := e.CreateFile(longName, bytes.NewReader([]byte("x")), 1)
	if err != ferrors.ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestCreateFile_NoFreeInodeWhenZeroInodeBlocks(t *testing.T) {
	e := newTestEngine(t, 50, 1, 0)
	err := e.CreateFile("x.txt", bytes.NewReader([]byte("x")), 1)
	if err != ferrors.ErrNoFreeInode {
		t.Fatalf("expected ErrNoFreeInode, got %v", err)
	}
}

func TestCreateFile_TooLarge(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	err := e.CreateFile("huge.bin", bytes.NewReader(nil), e.geometry.maxFileSize()+1)
	if err != ferrors.ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestDeleteFile_FreesBlocksForReuse(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	content := testsupport.RandomBytes(4, BlockSize*3)
	if err := e.CreateFile("a.bin", bytes.NewReader(content), uint64(len(content))); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := e.DeleteFile("a.bin"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := e.Stat("a.bin"); err != ferrors.ErrFileNotFound {
		t.Fatalf("expected file to be gone, got %v", err)
	}

	// The freed blocks must be reusable by a new file of the same size.
	if err := e.CreateFile("b.bin", bytes.NewReader(content), uint64(len(content))); err != nil {
		t.Fatalf("CreateFile after delete: %v", err)
	}
	got := readAll(t, e, "b.bin")
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch after reuse")
	}
}

func TestDeleteFile_NotFound(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	if err := e.DeleteFile("nope"); err != ferrors.ErrFileNotFound {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestRenameFile_Idempotent(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	content := []byte("rename me")
	if err := e.CreateFile("old.txt", bytes.NewReader(content), uint64(len(content))); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := e.RenameFile("old.txt", "new.txt"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	if err := e.RenameFile("new.txt", "old.txt"); err != nil {
		t.Fatalf("RenameFile back: %v", err)
	}
	got := readAll(t, e, "old.txt")
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch after idempotent rename")
	}
}

func TestRenameFile_DuplicateTarget(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	if err := e.CreateFile("a.txt", bytes.NewReader([]byte("a")), 1); err != nil {
		t.Fatalf("CreateFile a: %v", err)
	}
	if err := e.CreateFile("b.txt", bytes.NewReader([]byte("b")), 1); err != nil {
		t.Fatalf("CreateFile b: %v", err)
	}
	if err := e.RenameFile("a.txt", "b.txt"); err != ferrors.ErrDuplicateName {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}

func TestResetDisk_ClearsDirectory(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	if err := e.CreateFile("a.txt", bytes.NewReader([]byte("a")), 1); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := e.ResetDisk(); err != nil {
		t.Fatalf("ResetDisk: %v", err)
	}
	if len(e.List()) != 0 {
		t.Fatalf("expected empty directory after reset, got %v", e.List())
	}
	if err := e.CreateFile("a.txt", bytes.NewReader([]byte("b")), 1); err != nil {
		t.Fatalf("CreateFile after reset: %v", err)
	}
}

func TestUsage_ReflectsLiveFiles(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	if err := e.CreateFile("a.txt", bytes.NewReader([]byte("hello")), 5); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	usage := e.Usage()
	if usage.UsedInodes != 1 {
		t.Fatalf("UsedInodes = %d, want 1", usage.UsedInodes)
	}
	if usage.UsedBytes != 5 {
		t.Fatalf("UsedBytes = %d, want 5", usage.UsedBytes)
	}
	if usage.TotalInodes == 0 {
		t.Fatalf("TotalInodes should be non-zero")
	}
}

func TestVerify_ConsistentAfterOperations(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	if err := e.CreateFile("a.txt", bytes.NewReader([]byte("hello")), 5); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := e.CreateFile("b.txt", bytes.NewReader(testsupport.RandomBytes(9, BlockSize*2)), uint64(BlockSize*2)); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := e.DeleteFile("a.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := e.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_DetectsOrphanedBlock(t *testing.T) {
	e := newTestEngine(t, 50, 1, 1)
	if err := e.CreateFile("a.txt", bytes.NewReader([]byte("hello")), 5); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	// Claim a data block directly through the allocator, bypassing any
	// inode -- nothing will ever reference it.
	if _, err := e.bitmap.Allocate(); err != nil {
		t.Fatalf("allocate orphan: %v", err)
	}
	if err := e.bitmap.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := e.Verify(); err == nil {
		t.Fatalf("expected Verify to report the orphaned block")
	}
}

func TestOpen_RoundTripsThroughCloseAndReopen(t *testing.T) {
	// Open derives its own geometry: 65540 blocks gives Ni = 1 (Ni is 0
	// below 50001 blocks, leaving no inode slots) and Nb = 2, whose bits
	// cover all 65536 data blocks.
	dev := testsupport.NewMemDevice(int64(65540) * BlockSize)

	e, err := Open(dev, BlockSize, 0, nil)
	if err != nil {
		t.Fatalf("Open (format): %v", err)
	}
	if err := e.CreateFile("a.txt", bytes.NewReader([]byte("hello")), 5); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := e.CreateFile("b.txt", bytes.NewReader([]byte("world!")), 6); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := e.DeleteFile("b.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dev, BlockSize, 0, nil)
	if err != nil {
		t.Fatalf("Open (remount): %v", err)
	}
	defer reopened.Close()

	names := reopened.List()
	if len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("List() after reopen = %v, want [a.txt]", names)
	}
	ino, err := reopened.Stat("a.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if ino.Size != 5 {
		t.Fatalf("Size = %d, want 5", ino.Size)
	}
	if got := readAll(t, reopened, "a.txt"); string(got) != "hello" {
		t.Fatalf("content = %q, want %q", got, "hello")
	}
	if err := reopened.Verify(); err != nil {
		t.Fatalf("Verify after reopen: %v", err)
	}
}

func TestStrictCompat_DoubleIndirectTraversal(t *testing.T) {
	// Build an inode whose double-indirect structure has two indirect
	// children; the first child has a zero pointer partway through.
	// Corrected traversal should skip to the second child; strict mode
	// should stop at the first child's zero entry and never see the
	// second child's data.
	build := func(t *testing.T, strict bool) []uint32 {
		t.Helper()
		e := newTestEngine(t, 200, 1, 1, WithStrictCompat(strict))

		dataA, err := e.bitmap.Allocate()
		if err != nil {
			t.Fatalf("allocate dataA: %v", err)
		}
		dataB, err := e.bitmap.Allocate()
		if err != nil {
			t.Fatalf("allocate dataB: %v", err)
		}
		child1, err := e.bitmap.Allocate()
		if err != nil {
			t.Fatalf("allocate child1: %v", err)
		}
		child2, err := e.bitmap.Allocate()
		if err != nil {
			t.Fatalf("allocate child2: %v", err)
		}
		doubleBlk, err := e.bitmap.Allocate()
		if err != nil {
			t.Fatalf("allocate doubleBlk: %v", err)
		}

		// child1: [dataA, 0, ...] -- zero partway through.
		if err := e.writeRaw(child1, encodePointerBlock([]uint32{dataA, 0}, BlockSize)); err != nil {
			t.Fatalf("write child1: %v", err)
		}
		// child2: [dataB, ...]
		if err := e.writeRaw(child2, encodePointerBlock([]uint32{dataB}, BlockSize)); err != nil {
			t.Fatalf("write child2: %v", err)
		}
		if err := e.writeRaw(doubleBlk, encodePointerBlock([]uint32{child1, child2}, BlockSize)); err != nil {
			t.Fatalf("write doubleBlk: %v", err)
		}

		ino := Inode{Valid: true, Name: "x", Size: 1, DoubleIndirect: doubleBlk}
		pointers, err := e.collectDataPointers(ino)
		if err != nil {
			t.Fatalf("collectDataPointers: %v", err)
		}
		return pointers
	}

	corrected := build(t, false)
	if len(corrected) != 2 {
		t.Fatalf("corrected traversal: got %d pointers, want 2 (both children's data)", len(corrected))
	}

	strict := build(t, true)
	if len(strict) != 1 {
		t.Fatalf("strict traversal: got %d pointers, want 1 (stops at first child's zero entry)", len(strict))
	}
}
