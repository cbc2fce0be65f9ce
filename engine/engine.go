package engine

import (
	"io"
	"log"
	"os"

	"github.com/nottruefalse/sfse/block"
	"github.com/nottruefalse/sfse/crypt"
	"github.com/nottruefalse/sfse/ferrors"
)

// state is the engine's lifecycle, per spec §4.3: Unmounted -> Opened ->
// Closed. CreateFile, DeleteFile, RenameFile, ResetDisk, OpenCursor,
// ReadFile and Verify require Opened; List, Stat, Usage and Geometry do
// not check the state.
type state int

const (
	stateUnmounted state = iota
	stateOpened
	stateClosed
)

// Engine owns a mounted filesystem: the underlying device, the optional
// sector crypt transform, the derived geometry, the in-memory directory
// cache, and the bitmap allocator. It is not safe for concurrent use from
// multiple goroutines without external synchronization; callers that need
// that should serialize through their own mutex, the way
// dargueta-disko's drivers expect a single-threaded VFS layer above them.
type Engine struct {
	dev   block.Device
	crypt *crypt.SectorCrypt
	log   *log.Logger

	geometry     Geometry
	strictCompat bool
	readOnly     bool

	state      state
	superblock Superblock
	dir        map[string]Inode
	bitmap     *bitmapCache
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithStrictCompat replicates the reference implementation's
// double-indirect traversal bug (see collectDataPointers's doc comment) instead of the
// corrected behavior. Default: false.
func WithStrictCompat(strict bool) Option {
	return func(e *Engine) { e.strictCompat = strict }
}

// WithLogger overrides the engine's diagnostic logger. Default: a logger
// writing to os.Stderr with the "sfse: " prefix.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithReadOnly refuses every mutating operation (CreateFile, DeleteFile,
// RenameFile, ResetDisk) with ErrReadOnly, and refuses to format an
// unformatted device at Open time rather than silently initializing one.
// Default: false.
func WithReadOnly(readOnly bool) Option {
	return func(e *Engine) { e.readOnly = readOnly }
}

// Open mounts the filesystem on dev. blockSize is the logical block size B
// (must be congruent with dev's physical sector size); skipBlocks is the
// leading skip already baked into dev's addressing, expressed again here
// because geometry derivation needs the device's *usable* byte size, not
// its raw size. sectorCrypt may be nil to operate in plaintext mode.
//
// If block 0 decodes (after the crypt transform, if any) to a valid
// magic, the existing superblock and directory are loaded. Otherwise the
// device is treated as unformatted and freshly initialized (unless
// WithReadOnly is set, in which case Open fails with ErrBadMagic instead)
// -- which, notably, is also what happens when a correctly-formatted
// device is opened with the wrong password/PIN: the decrypted magic
// won't match, so the region gets reformatted and the previously-live
// directory becomes unrecoverable garbage. This mirrors the reference
// implementation's init_fs, which performs the same unconditional
// magic check with no distinction between "never formatted" and
// "formatted under different key material."
func Open(dev block.Device, blockSize uint32, skipBlocks uint32, sectorCrypt *crypt.SectorCrypt, opts ...Option) (*Engine, error) {
	deviceBytes, _, _ := dev.Geometry()
	usableBytes := deviceBytes - int64(skipBlocks)*int64(blockSize)

	e := &Engine{
		dev:      dev,
		crypt:    sectorCrypt,
		log:      log.New(os.Stderr, "sfse: ", log.LstdFlags),
		geometry: ComputeGeometry(usableBytes, blockSize),
		state:    stateOpened,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bitmap = newBitmapCache(e)

	raw, err := e.readRaw(0)
	if err != nil {
		return nil, err
	}

	sb, ok := decodeSuperblock(raw)
	if ok {
		e.superblock = sb
		if err := e.scanDirectory(); err != nil {
			return nil, err
		}
		e.log.Printf("mounted: %d blocks, %d bitmap blocks, %d inode blocks, %d files",
			e.geometry.TotalBlocks, e.geometry.NumBitmapBlocks, e.geometry.NumInodeBlocks, len(e.dir))
		return e, nil
	}

	if e.readOnly {
		return nil, ferrors.ErrBadMagic
	}

	e.log.Printf("no valid superblock found, formatting")
	if err := e.formatFresh(); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases the underlying device. It does not flush the bitmap --
// every mutating operation already flushes before returning, per spec.
func (e *Engine) Close() error {
	if e.state == stateClosed {
		return nil
	}
	e.state = stateClosed
	return e.dev.Close()
}

// readRaw reads and, if crypt is configured, decrypts one block. A raw
// all-zero block is returned as-is without attempting decryption --
// mirroring the reference implementation's read_sector, which treats an
// untouched (never-written) block as empty rather than running it
// through the cipher. On a blank device block 0 therefore reads back as
// zeros and Open finds no magic; Open handles that the same way as a
// superblock that fails to decrypt.
func (e *Engine) readRaw(index uint32) ([]byte, error) {
	raw, err := e.dev.ReadBlock(index, e.geometry.BlockSize)
	if err != nil {
		return nil, err
	}
	if e.crypt == nil || isAllZero(raw) {
		return raw, nil
	}
	return e.crypt.DecryptBlock(index, raw)
}

// writeRaw encrypts (if configured) and writes one block.
func (e *Engine) writeRaw(index uint32, data []byte) error {
	out := data
	if e.crypt != nil {
		var err error
		out, err = e.crypt.EncryptBlock(index, data)
		if err != nil {
			return err
		}
	}
	return e.dev.WriteBlock(index, out)
}

func isAllZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// writeSuperblock persists the current in-memory superblock to block 0.
func (e *Engine) writeSuperblock() error {
	return e.writeRaw(0, encodeSuperblock(e.superblock, e.geometry.BlockSize))
}

// writeInodeSlot splices the encoded record for ino into its inode block
// and writes the whole block back, since the device only supports
// whole-block I/O.
func (e *Engine) writeInodeSlot(ino Inode) error {
	ipb := e.geometry.inodesPerBlock()
	blockIdx := e.geometry.NumBitmapBlocks + 1 + ino.Slot/ipb

	raw, err := e.readRaw(blockIdx)
	if err != nil {
		return err
	}
	buf := append([]byte(nil), raw...)

	offset := (ino.Slot % ipb) * InodeSize
	copy(buf[offset:offset+InodeSize], encodeInode(ino))

	return e.writeRaw(blockIdx, buf)
}

// formatFresh writes a zeroed superblock/bitmap/inode region and resets
// all in-memory state, used both by Open on an unformatted device and by
// ResetDisk.
func (e *Engine) formatFresh() error {
	e.superblock = Superblock{
		NumBitmapBlocks: e.geometry.NumBitmapBlocks,
		NumInodeBlocks:  e.geometry.NumInodeBlocks,
		ValidInodeCount: 0,
	}
	if err := e.writeSuperblock(); err != nil {
		return err
	}

	zero := make([]byte, e.geometry.BlockSize)
	for i := uint32(1); i < e.geometry.DataOffset; i++ {
		if err := e.writeRaw(i, zero); err != nil {
			return err
		}
	}

	e.dir = make(map[string]Inode)
	e.bitmap = newBitmapCache(e)
	return nil
}

// Geometry returns the engine's derived layout.
func (e *Engine) Geometry() Geometry {
	return e.geometry
}

// List returns every live file name currently in the directory cache.
func (e *Engine) List() []string {
	names := make([]string, 0, len(e.dir))
	for name := range e.dir {
		names = append(names, name)
	}
	return names
}

// Stat returns the inode for name, or ErrFileNotFound.
func (e *Engine) Stat(name string) (Inode, error) {
	ino, ok := e.dir[name]
	if !ok {
		return Inode{}, ferrors.ErrFileNotFound
	}
	return ino, nil
}

// OpenCursor returns a streaming Cursor over name's data blocks, following
// the direct/indirect/double-indirect pointer chain.
func (e *Engine) OpenCursor(name string) (*Cursor, Inode, error) {
	if e.state != stateOpened {
		return nil, Inode{}, ferrors.ErrNotOpen
	}
	ino, ok := e.dir[name]
	if !ok {
		return nil, Inode{}, ferrors.ErrFileNotFound
	}
	pointers, err := e.collectDataPointers(ino)
	if err != nil {
		return nil, Inode{}, err
	}
	return &Cursor{e: e, pointers: pointers}, ino, nil
}

// ReadFile returns an io.Reader over name's contents, trimmed to its
// declared size, for callers that don't need the raw per-block streaming
// of OpenCursor.
func (e *Engine) ReadFile(name string) (io.Reader, error) {
	cur, ino, err := e.OpenCursor(name)
	if err != nil {
		return nil, err
	}
	return &trimmedFileReader{cur: cur, remaining: ino.Size}, nil
}

// trimmedFileReader adapts a Cursor's fixed-size blocks into an io.Reader
// that stops exactly at the inode's declared size, without ever holding
// more than one block in memory.
type trimmedFileReader struct {
	cur       *Cursor
	remaining uint64
	buf       []byte
}

func (r *trimmedFileReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if len(r.buf) == 0 {
		block, ok, err := r.cur.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			r.remaining = 0
			return 0, io.EOF
		}
		if uint64(len(block)) > r.remaining {
			block = block[:r.remaining]
		}
		r.buf = block
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	r.remaining -= uint64(n)
	return n, nil
}

// CreateFile streams exactly size bytes from source into a new file named
// name, allocating data blocks (and indirect/double-indirect pointer
// blocks as needed) as it goes. Per spec §3 Invariant 6, every data block
// is written to disk before the inode referencing it, and the inode is
// written before the bitmap is flushed -- so a crash before the inode
// write leaves orphaned data blocks and a still-free inode slot, never a
// live inode pointing at unwritten data. A crash after the inode write but
// before the flush leaves a live inode whose blocks are not yet marked
// allocated on disk.
func (e *Engine) CreateFile(name string, source io.Reader, size uint64) error {
	if e.state != stateOpened {
		return ferrors.ErrNotOpen
	}
	if e.readOnly {
		return ferrors.ErrReadOnly
	}
	if len(name) == 0 || len(name) > MaxNameLen {
		return ferrors.ErrNameTooLong
	}
	if _, exists := e.dir[name]; exists {
		return ferrors.ErrDuplicateName
	}
	if size == 0 || size > MaxInodeSizeCap || size > e.geometry.maxFileSize() {
		return ferrors.ErrTooLarge
	}

	slot, err := e.findFreeSlot()
	if err != nil {
		return err
	}

	ino := Inode{Valid: true, Name: name, Size: size, Slot: slot}

	chunk := make([]byte, e.geometry.BlockSize)
	var bytesWritten uint64

	allocateAndWrite := func() (uint32, error) {
		blk, err := e.bitmap.Allocate()
		if err != nil {
			return 0, err
		}
		n, err := io.ReadFull(source, chunk)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			_ = e.bitmap.Free(blk)
			return 0, ferrors.ErrIOFailure.WrapError(err)
		}
		for i := n; i < len(chunk); i++ {
			chunk[i] = 0
		}
		if err := e.writeRaw(blk, chunk); err != nil {
			_ = e.bitmap.Free(blk)
			return 0, err
		}
		return blk, nil
	}

	ppb := e.geometry.pointersPerBlock()

	for i := 0; i < DirectPointerCount && bytesWritten < size; i++ {
		blk, err := allocateAndWrite()
		if err != nil {
			return err
		}
		ino.Direct[i] = blk
		bytesWritten += uint64(e.geometry.BlockSize)
	}

	if bytesWritten < size {
		indirectBlk, err := e.bitmap.Allocate()
		if err != nil {
			return err
		}
		ino.Indirect = indirectBlk

		ptrs := make([]uint32, 0, ppb)
		for i := uint32(0); i < ppb && bytesWritten < size; i++ {
			blk, err := allocateAndWrite()
			if err != nil {
				return err
			}
			ptrs = append(ptrs, blk)
			bytesWritten += uint64(e.geometry.BlockSize)
		}
		if err := e.writeRaw(indirectBlk, encodePointerBlock(ptrs, e.geometry.BlockSize)); err != nil {
			return err
		}
	}

	if bytesWritten < size {
		doubleBlk, err := e.bitmap.Allocate()
		if err != nil {
			return err
		}
		ino.DoubleIndirect = doubleBlk

		outerPtrs := make([]uint32, 0, ppb)
		for o := uint32(0); o < ppb && bytesWritten < size; o++ {
			innerBlk, err := e.bitmap.Allocate()
			if err != nil {
				return err
			}
			innerPtrs := make([]uint32, 0, ppb)
			for i := uint32(0); i < ppb && bytesWritten < size; i++ {
				blk, err := allocateAndWrite()
				if err != nil {
					return err
				}
				innerPtrs = append(innerPtrs, blk)
				bytesWritten += uint64(e.geometry.BlockSize)
			}
			if err := e.writeRaw(innerBlk, encodePointerBlock(innerPtrs, e.geometry.BlockSize)); err != nil {
				return err
			}
			outerPtrs = append(outerPtrs, innerBlk)
		}
		if err := e.writeRaw(doubleBlk, encodePointerBlock(outerPtrs, e.geometry.BlockSize)); err != nil {
			return err
		}
	}

	if err := e.writeInodeSlot(ino); err != nil {
		return err
	}

	e.superblock.ValidInodeCount++
	if err := e.writeSuperblock(); err != nil {
		return err
	}

	if err := e.bitmap.Flush(); err != nil {
		return err
	}

	e.dir[name] = ino
	return nil
}

// DeleteFile frees every block reachable from name's inode, clears its
// valid flag, and removes it from the directory. Per spec §4.3
// delete_file, all data/pointer blocks are freed before the inode is
// marked invalid, and the bitmap is flushed last.
func (e *Engine) DeleteFile(name string) error {
	if e.state != stateOpened {
		return ferrors.ErrNotOpen
	}
	if e.readOnly {
		return ferrors.ErrReadOnly
	}
	ino, ok := e.dir[name]
	if !ok {
		return ferrors.ErrFileNotFound
	}

	dataBlocks, pointerBlocks, err := e.collectForDelete(ino)
	if err != nil {
		return err
	}

	for _, blk := range dataBlocks {
		if err := e.bitmap.Free(blk); err != nil {
			return err
		}
	}
	for _, blk := range pointerBlocks {
		if err := e.bitmap.Free(blk); err != nil {
			return err
		}
	}

	ino.Valid = false
	if err := e.writeInodeSlot(ino); err != nil {
		return err
	}

	if e.superblock.ValidInodeCount > 0 {
		e.superblock.ValidInodeCount--
	}
	if err := e.writeSuperblock(); err != nil {
		return err
	}

	if err := e.bitmap.Flush(); err != nil {
		return err
	}

	delete(e.dir, name)
	return nil
}

// RenameFile changes oldName's directory entry to newName in place,
// leaving its inode's slot and data untouched.
func (e *Engine) RenameFile(oldName, newName string) error {
	if e.state != stateOpened {
		return ferrors.ErrNotOpen
	}
	if e.readOnly {
		return ferrors.ErrReadOnly
	}
	ino, ok := e.dir[oldName]
	if !ok {
		return ferrors.ErrFileNotFound
	}
	if oldName == newName {
		return nil
	}
	if len(newName) == 0 || len(newName) > MaxNameLen {
		return ferrors.ErrNameTooLong
	}
	if _, exists := e.dir[newName]; exists {
		return ferrors.ErrDuplicateName
	}

	ino.Name = newName
	if err := e.writeInodeSlot(ino); err != nil {
		return err
	}

	delete(e.dir, oldName)
	e.dir[newName] = ino
	return nil
}

// ResetDisk zeroes the superblock, bitmap, and inode regions and
// reinitializes the filesystem, discarding every file without touching
// the data region's bytes (which become unreachable, not erased).
func (e *Engine) ResetDisk() error {
	if e.state != stateOpened {
		return ferrors.ErrNotOpen
	}
	if e.readOnly {
		return ferrors.ErrReadOnly
	}
	zero := make([]byte, e.geometry.BlockSize)
	for i := uint32(0); i < e.geometry.DataOffset; i++ {
		if err := e.writeRaw(i, zero); err != nil {
			return err
		}
	}
	return e.formatFresh()
}

// Usage reports aggregate space and inode accounting.
type Usage struct {
	TotalBlocks uint32
	DataBlocks  uint32
	UsedBytes   uint64
	MaxFileSize uint64
	TotalInodes uint32
	UsedInodes  uint32
}

// Usage computes current space/inode usage from the in-memory directory
// cache (spec §4.3 calculate_used_space, extended with inode accounting).
func (e *Engine) Usage() Usage {
	var usedBytes uint64
	for _, ino := range e.dir {
		usedBytes += ino.Size
	}
	return Usage{
		TotalBlocks: e.geometry.TotalBlocks,
		DataBlocks:  e.geometry.TotalBlocks - e.geometry.DataOffset,
		UsedBytes:   usedBytes,
		MaxFileSize: e.geometry.maxFileSize(),
		TotalInodes: e.geometry.NumInodeBlocks * e.geometry.inodesPerBlock(),
		UsedInodes:  uint32(len(e.dir)),
	}
}

// Verify cross-checks the in-memory directory and bitmap against what a
// fresh scan of the inode table and a fresh bitmap trace would produce.
// It never modifies on-disk state; it's a read-only consistency check for
// callers that want to detect a corrupted image before relying on it.
func (e *Engine) Verify() error {
	if e.state != stateOpened {
		return ferrors.ErrNotOpen
	}

	fresh := &Engine{dev: e.dev, crypt: e.crypt, log: e.log, geometry: e.geometry, strictCompat: e.strictCompat, state: stateOpened}
	if err := fresh.scanDirectory(); err != nil {
		return err
	}

	if len(fresh.dir) != len(e.dir) {
		return ferrors.ErrIOFailure.WithMessage("directory cache out of sync with inode table")
	}
	for name, ino := range fresh.dir {
		cached, ok := e.dir[name]
		if !ok || cached.Slot != ino.Slot || cached.Size != ino.Size {
			return ferrors.ErrIOFailure.WithMessage("directory cache out of sync with inode table: " + name)
		}
	}

	seen := make(map[uint32]bool)
	for _, ino := range e.dir {
		dataBlocks, pointerBlocks, err := e.collectForDelete(ino)
		if err != nil {
			return err
		}
		for _, blk := range append(dataBlocks, pointerBlocks...) {
			if seen[blk] {
				return ferrors.ErrIOFailure.WithMessage("block referenced by more than one file")
			}
			seen[blk] = true
			allocated, err := e.bitmap.Get(blk)
			if err != nil {
				return err
			}
			if !allocated {
				return ferrors.ErrIOFailure.WithMessage("referenced block not marked allocated in bitmap")
			}
		}
	}

	// Orphan detection (spec §3 invariant: no 1-bits outside the
	// reachable closure): every bit the bitmap marks allocated must be
	// in seen, or it's space claimed by nothing a live inode can reach.
	for idx := e.geometry.DataOffset; idx < e.geometry.TotalBlocks; idx++ {
		allocated, err := e.bitmap.Get(idx)
		if err != nil {
			return err
		}
		if allocated && !seen[idx] {
			return ferrors.ErrIOFailure.WithMessage("orphaned block marked allocated but unreachable from any inode")
		}
	}

	return nil
}
