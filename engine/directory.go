package engine

import "github.com/nottruefalse/sfse/ferrors"

// scanDirectory rebuilds the name -> inode cache by reading every inode
// block once at mount time, matching spec §4.3's read_inodes pass. A
// record that fails to decode (BadInode: implausible declared size) is
// skipped rather than aborting the whole mount.
func (e *Engine) scanDirectory() error {
	e.dir = make(map[string]Inode)

	for blockIdx := uint32(0); blockIdx < e.geometry.NumInodeBlocks; blockIdx++ {
		raw, err := e.readRaw(e.geometry.NumBitmapBlocks + 1 + blockIdx)
		if err != nil {
			return err
		}
		for slotInBlock := uint32(0); slotInBlock < e.geometry.inodesPerBlock(); slotInBlock++ {
			slot := blockIdx*e.geometry.inodesPerBlock() + slotInBlock
			start := slotInBlock * InodeSize
			ino, ok := decodeInode(slot, raw[start:start+InodeSize])
			if !ok {
				continue
			}
			if ino.Valid {
				e.dir[ino.Name] = ino
			}
		}
	}
	return nil
}

// findFreeSlot returns the lowest-numbered inode slot not currently
// occupied by a live inode, scanning in slot order per spec
// find_free_inode.
func (e *Engine) findFreeSlot() (uint32, error) {
	if e.geometry.NumInodeBlocks == 0 {
		return 0, ferrors.ErrNoFreeInode
	}

	used := make(map[uint32]bool, len(e.dir))
	for _, ino := range e.dir {
		used[ino.Slot] = true
	}

	total := e.geometry.NumInodeBlocks * e.geometry.inodesPerBlock()
	for slot := uint32(0); slot < total; slot++ {
		if !used[slot] {
			return slot, nil
		}
	}
	return 0, ferrors.ErrNoFreeInode
}
