package engine

import (
	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	"github.com/nottruefalse/sfse/ferrors"
)

// bitmapCache is the in-memory allocation map described in spec §4.3: a
// "bits" view over every data block, populated lazily one bitmap block at
// a time, plus a "hot" set of bitmap blocks loaded or modified since the
// last flush, which Flush writes back to disk. Bitmap
// block m (1-indexed, m in [1, Nb]) packs BlockSize*8 bits, bit 0 of byte
// 0 being the lowest-numbered data block it covers.
type bitmapCache struct {
	e *Engine

	bits   bitmap.Bitmap     // index i -> allocation state of data block i (relative to DataOffset)
	hot    map[uint32][]byte // bitmap block index m -> raw block awaiting Flush
	loaded map[uint32]bool   // which bitmap blocks have been read into bits/hot
}

func newBitmapCache(e *Engine) *bitmapCache {
	span := int(e.geometry.TotalBlocks - e.geometry.DataOffset)
	if span < 0 {
		span = 0
	}
	return &bitmapCache{
		e:      e,
		bits:   bitmap.New(span),
		hot:    make(map[uint32][]byte),
		loaded: make(map[uint32]bool),
	}
}

// blockAndOffsetFor maps a global data block index to its (bitmap block
// number, byte offset within that block, bit offset within that byte).
func (bc *bitmapCache) blockAndOffsetFor(dataBlock uint32) (m, k, j uint32) {
	rel := dataBlock - bc.e.geometry.DataOffset
	bitsPerBitmapBlock := bc.e.geometry.BlockSize * 8
	m = rel/bitsPerBitmapBlock + 1
	within := rel % bitsPerBitmapBlock
	k = within / 8
	j = within % 8
	return
}

func (bc *bitmapCache) loadBitmapBlock(m uint32) error {
	if bc.loaded[m] {
		return nil
	}
	raw, err := bc.e.readRaw(m)
	if err != nil {
		return err
	}
	buf := append([]byte(nil), raw...)
	bc.hot[m] = buf

	bitsPerBitmapBlock := bc.e.geometry.BlockSize * 8
	base := (m-1)*bitsPerBitmapBlock + bc.e.geometry.DataOffset
	for k, byteVal := range buf {
		if byteVal == 0 {
			continue
		}
		for j := 0; j < 8; j++ {
			if byteVal&(1<<uint(j)) != 0 {
				idx := base + uint32(k)*8 + uint32(j)
				if idx < bc.e.geometry.TotalBlocks {
					bc.bits.Set(int(idx-bc.e.geometry.DataOffset), true)
				}
			}
		}
	}
	bc.loaded[m] = true
	return nil
}

// Get reports whether dataBlock is currently allocated.
func (bc *bitmapCache) Get(dataBlock uint32) (bool, error) {
	m, _, _ := bc.blockAndOffsetFor(dataBlock)
	if err := bc.loadBitmapBlock(m); err != nil {
		return false, err
	}
	return bc.bits.Get(int(dataBlock - bc.e.geometry.DataOffset)), nil
}

// Set marks dataBlock allocated or free, flipping its bit in the in-memory
// copy of its bitmap block and marking that block hot; the disk is
// updated by Flush.
func (bc *bitmapCache) Set(dataBlock uint32, value bool) error {
	m, k, j := bc.blockAndOffsetFor(dataBlock)
	if err := bc.loadBitmapBlock(m); err != nil {
		return err
	}
	buf, ok := bc.hot[m]
	if !ok {
		// Flush cleared hot; the on-disk block is current, so reload it.
		raw, err := bc.e.readRaw(m)
		if err != nil {
			return err
		}
		buf = append([]byte(nil), raw...)
		bc.hot[m] = buf
	}
	if value {
		buf[k] |= 1 << uint(j)
	} else {
		buf[k] &^= 1 << uint(j)
	}
	bc.bits.Set(int(dataBlock-bc.e.geometry.DataOffset), value)
	return nil
}

// Allocate scans the bitmap from DataOffset upward and claims the first
// free data block, per spec §4.3 allocate_data_block.
func (bc *bitmapCache) Allocate() (uint32, error) {
	for idx := bc.e.geometry.DataOffset; idx < bc.e.geometry.TotalBlocks; idx++ {
		allocated, err := bc.Get(idx)
		if err != nil {
			return 0, err
		}
		if !allocated {
			if err := bc.Set(idx, true); err != nil {
				return 0, err
			}
			return idx, nil
		}
	}
	return 0, ferrors.ErrNoFreeDataBlock
}

// Free releases a previously allocated data block back to the pool.
func (bc *bitmapCache) Free(idx uint32) error {
	return bc.Set(idx, false)
}

// Flush writes every hot bitmap block back to disk and clears the hot
// set, aggregating any individual write failures with go-multierror so a
// caller sees every block that failed to flush, not just the first.
func (bc *bitmapCache) Flush() error {
	var merr *multierror.Error
	for m, buf := range bc.hot {
		if err := bc.e.writeRaw(m, buf); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	bc.hot = make(map[uint32][]byte)
	return merr.ErrorOrNil()
}
