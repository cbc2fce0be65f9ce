package block

import (
	"io"
	"sync"

	"github.com/xaionaro-go/bytesextra"

	"github.com/nottruefalse/sfse/ferrors"
)

// MemDevice is an in-memory Device backed by a fixed-size byte slice via
// bytesextra.NewReadWriteSeeker, the same helper the teacher's test suite
// uses to stand in for a disk image. It is used by sfse's own tests, which
// need a scratch device without touching the filesystem.
type MemDevice struct {
	physicalSectorSize uint32
	skipBlocks         uint32

	mu     sync.Mutex
	stream io.ReadWriteSeeker
	size   int64
}

// NewMemDevice allocates a zero-filled in-memory device of the given size.
func NewMemDevice(sizeBytes int64, physicalSectorSize uint32, skipBlocks uint32) *MemDevice {
	backing := make([]byte, sizeBytes)
	return &MemDevice{
		physicalSectorSize: physicalSectorSize,
		skipBlocks:         skipBlocks,
		stream:             bytesextra.NewReadWriteSeeker(backing),
		size:               sizeBytes,
	}
}

func (d *MemDevice) ReadBlock(index uint32, blockSize uint32) ([]byte, error) {
	if err := checkAlignment(blockSize, d.physicalSectorSize); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := offsetFor(index, blockSize, d.skipBlocks)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return nil, ferrors.ErrIOFailure.WrapError(err)
	}

	buf := make([]byte, blockSize)
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return nil, ferrors.ErrIOFailure.WrapError(err)
	}
	return buf, nil
}

func (d *MemDevice) WriteBlock(index uint32, data []byte) error {
	if err := checkAlignment(uint32(len(data)), d.physicalSectorSize); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := offsetFor(index, uint32(len(data)), d.skipBlocks)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return ferrors.ErrIOFailure.WrapError(err)
	}
	n, err := d.stream.Write(data)
	if err != nil || n != len(data) {
		if err == nil {
			err = ferrors.ErrIOFailure
		}
		return ferrors.ErrIOFailure.WrapError(err)
	}
	return nil
}

func (d *MemDevice) Geometry() (int64, uint32, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	totalSectors := uint64(0)
	if d.physicalSectorSize > 0 {
		totalSectors = uint64(d.size) / uint64(d.physicalSectorSize)
	}
	return d.size, d.physicalSectorSize, totalSectors
}

func (d *MemDevice) Close() error {
	return nil
}
