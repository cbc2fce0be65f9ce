// Package block presents a raw storage stream as a fixed-geometry array of
// equal-size blocks, the way dargueta-disko's common.BlockDevice does for
// its drivers, generalized to the single adapter sfse needs.
package block

import (
	"io"

	"github.com/nottruefalse/sfse/ferrors"
)

// Device is the interface the filesystem engine consumes. Every
// implementation must apply the same leading skip, measured in units of
// the block size passed to the call, on both Read and Write -- mixing
// units between the two corrupts the layout (spec: sector-vs-block
// addressing).
type Device interface {
	// ReadBlock reads exactly one block of blockSize bytes at the given
	// logical index. blockSize must be a positive multiple of
	// PhysicalSectorSize().
	ReadBlock(index uint32, blockSize uint32) ([]byte, error)
	// WriteBlock writes data at the given logical index. len(data) is
	// used as the effective block size for the offset computation and
	// must be a positive multiple of PhysicalSectorSize().
	WriteBlock(index uint32, data []byte) error
	// Geometry returns the device's byte size, physical sector size, and
	// total physical sector count.
	Geometry() (deviceBytes int64, physicalSectorSize uint32, totalSectors uint64)
	// Close releases any held resources.
	Close() error
}

// offsetFor computes the byte offset for a logical block index, given the
// caller-supplied block size and a skip (in block-size units, per the
// spec: "this is a property of the addressing scheme and must match on
// both read and write").
func offsetFor(index uint32, blockSize uint32, skipBlocks uint32) int64 {
	return (int64(index) + int64(skipBlocks)) * int64(blockSize)
}

func checkAlignment(size uint32, physicalSectorSize uint32) error {
	if physicalSectorSize == 0 || size == 0 || size%physicalSectorSize != 0 {
		return ferrors.ErrMisalignedBlock.WithMessage(
			"block size must be a positive multiple of the physical sector size",
		)
	}
	return nil
}

// readFull reads exactly len(buf) bytes from r at offset,
// translating io.EOF/io.ErrUnexpectedEOF into an IOFailure so callers get a
// single error vocabulary.
func readFull(r io.ReaderAt, offset int64, buf []byte) error {
	n, err := r.ReadAt(buf, offset)
	if n == len(buf) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return ferrors.ErrIOFailure.WrapError(err)
}
