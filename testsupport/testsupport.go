// Package testsupport provides helpers shared across sfse's test files,
// mirroring the shape of dargueta-disko's testing package: an in-memory
// device factory and small deterministic data generators, built on the
// bytesextra-backed block.MemDevice.
package testsupport

import (
	"math/rand"

	"github.com/nottruefalse/sfse/block"
)

// DefaultBlockSize is the block size used by tests unless a test needs a
// different one to exercise edge-case geometry.
const DefaultBlockSize = 4096

// NewMemDevice builds a zero-filled in-memory device sized sizeBytes,
// with a physical sector size matching DefaultBlockSize so no skip/align
// arithmetic is needed by default.
func NewMemDevice(sizeBytes int64) *block.MemDevice {
	return block.NewMemDevice(sizeBytes, DefaultBlockSize, 0)
}

// NewMemDeviceWithSectorSize builds an in-memory device with an explicit
// physical sector size, for tests exercising alignment checks.
func NewMemDeviceWithSectorSize(sizeBytes int64, physicalSectorSize uint32, skipBlocks uint32) *block.MemDevice {
	return block.NewMemDevice(sizeBytes, physicalSectorSize, skipBlocks)
}

// RandomBytes returns n deterministic pseudo-random bytes seeded by seed,
// useful for building reproducible file fixtures without pulling in real
// entropy.
func RandomBytes(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	out := make([]byte, n)
	r.Read(out)
	return out
}
