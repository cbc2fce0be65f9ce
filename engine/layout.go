// Package engine implements the on-disk layout and file operations of the
// flat-namespace inode filesystem: superblock, bitmap, inode table, and the
// direct/indirect/double-indirect data block scheme, mirroring the shape of
// dargueta-disko's file_systems/unixv6 driver but generalized to sfse's own
// geometry and wire format.
package engine

import "math"

const (
	// InodeSize is the fixed on-disk size of one inode record.
	InodeSize = 64
	// MaxNameLen is the number of usable bytes in an inode's name field.
	MaxNameLen = 32
	// DirectPointerCount is the number of direct block pointers per inode.
	DirectPointerCount = 4
	// PointersPerBlock is derived from BlockSize at 4 bytes per pointer;
	// see Geometry.pointersPerBlock for the geometry-aware form used
	// internally. This constant assumes the canonical 4096-byte block.
	PointersPerBlock = BlockSize / 4
	// BlockSize is the filesystem's logical block size. It must be
	// congruent with the underlying device's physical sector size (spec
	// §3, Invariant 2).
	BlockSize = 4096
	// InodesPerBlock is the number of 64-byte inode records per block.
	InodesPerBlock = BlockSize / InodeSize
	// MaxInodeSizeCap is the hard ceiling on a single file's declared
	// size, independent of how many blocks the pointer scheme can
	// actually address.
	MaxInodeSizeCap = uint64(1) << 40 // 1 TiB
)

// MaxFileSize is the largest file size addressable by four direct
// pointers, one indirect pointer block, and one double-indirect pointer
// block, all sized for BlockSize.
var MaxFileSize = uint64(BlockSize) * (DirectPointerCount + PointersPerBlock + PointersPerBlock*PointersPerBlock)

// Magic is the 4-byte value identifying a formatted superblock.
var Magic = [4]byte{0x53, 0x46, 0x53, 0x45}

// Geometry holds the layout quantities derived once at mount time from the
// device's usable byte size. None of these are stored on disk except
// NumBitmapBlocks and NumInodeBlocks, which are persisted in the
// superblock; Open does not compare the stored values with the derived
// geometry.
type Geometry struct {
	BlockSize       uint32
	TotalBlocks     uint32 // N
	NumBitmapBlocks uint32 // Nb
	NumInodeBlocks  uint32 // Ni
	DataOffset      uint32 // 1 + Nb + Ni
}

// ComputeGeometry derives N, Ni, Nb, and DataOffset from the usable byte
// size of the device (i.e. after subtracting any leading skip) and the
// chosen block size, following spec §3 Invariant 1:
//
//	N          = floor(usableBytes / B)
//	Ni         = round((N-1) / 100000)
//	Nb         = floor((N - Ni - 1) / (B*8))
//	DataOffset = 1 + Nb + Ni
func ComputeGeometry(usableBytes int64, blockSize uint32) Geometry {
	if usableBytes < 0 {
		usableBytes = 0
	}
	n := uint32(usableBytes / int64(blockSize))

	var ni uint32
	if n > 0 {
		ni = uint32(math.Round(float64(n-1) / 100000.0))
	}

	var nb uint32
	if n > ni+1 {
		nb = (n - ni - 1) / (blockSize * 8)
	}

	return Geometry{
		BlockSize:       blockSize,
		TotalBlocks:     n,
		NumBitmapBlocks: nb,
		NumInodeBlocks:  ni,
		DataOffset:      1 + nb + ni,
	}
}

// pointersPerBlock returns the number of 4-byte pointer slots in a single
// pointer block under this geometry's block size.
func (g Geometry) pointersPerBlock() uint32 {
	return g.BlockSize / 4
}

// inodesPerBlock returns the number of inode records per block under this
// geometry's block size.
func (g Geometry) inodesPerBlock() uint32 {
	return g.BlockSize / InodeSize
}

// maxFileSize returns the largest file size addressable under this
// geometry's block size.
func (g Geometry) maxFileSize() uint64 {
	ppb := uint64(g.pointersPerBlock())
	return uint64(g.BlockSize) * (DirectPointerCount + ppb + ppb*ppb)
}
