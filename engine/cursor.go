package engine

// collectDataPointers walks an inode's direct, indirect, and
// double-indirect pointers and returns the ordered list of data block
// indices reachable from it, stopping at the first zero pointer at each
// level (spec §4.3 read_file).
//
// strictCompat reproduces the reference implementation's traversal bug at
// the double-indirect level: its inner loop's termination check
// accidentally reads the *inner* loop variable, so a zero entry partway
// through one indirect child block silently ends the whole double
// indirect scan rather than just that child. When strictCompat is false
// (the default), only that child's scan ends and the outer loop
// continues to the next indirect pointer.
func (e *Engine) collectDataPointers(ino Inode) ([]uint32, error) {
	var out []uint32

	for i := 0; i < DirectPointerCount; i++ {
		if ino.Direct[i] == 0 {
			break
		}
		out = append(out, ino.Direct[i])
	}

	if ino.Indirect != 0 {
		raw, err := e.readRaw(ino.Indirect)
		if err != nil {
			return nil, err
		}
		for _, ptr := range decodePointerBlock(raw) {
			if ptr == 0 {
				break
			}
			out = append(out, ptr)
		}
	}

	if ino.DoubleIndirect == 0 {
		return out, nil
	}
	raw, err := e.readRaw(ino.DoubleIndirect)
	if err != nil {
		return nil, err
	}
	for _, indirectPtr := range decodePointerBlock(raw) {
		if indirectPtr == 0 {
			return out, nil
		}
		innerRaw, err := e.readRaw(indirectPtr)
		if err != nil {
			return nil, err
		}
		stoppedOuter := false
		for _, ptr := range decodePointerBlock(innerRaw) {
			if ptr == 0 {
				stoppedOuter = e.strictCompat
				break
			}
			out = append(out, ptr)
		}
		if stoppedOuter {
			return out, nil
		}
	}

	return out, nil
}

// collectForDelete walks the same structure as collectDataPointers but
// additionally returns the pointer blocks themselves (indirect and
// double-indirect), since delete_file must free those too. dataBlocks and
// pointerBlocks are returned in the order spec §4.3 delete_file frees
// them: all reachable data blocks, then the indirect/double-indirect
// pointer blocks.
func (e *Engine) collectForDelete(ino Inode) (dataBlocks, pointerBlocks []uint32, err error) {
	for i := 0; i < DirectPointerCount; i++ {
		if ino.Direct[i] == 0 {
			break
		}
		dataBlocks = append(dataBlocks, ino.Direct[i])
	}

	if ino.Indirect != 0 {
		raw, err2 := e.readRaw(ino.Indirect)
		if err2 != nil {
			return nil, nil, err2
		}
		for _, ptr := range decodePointerBlock(raw) {
			if ptr == 0 {
				break
			}
			dataBlocks = append(dataBlocks, ptr)
		}
		pointerBlocks = append(pointerBlocks, ino.Indirect)
	}

	if ino.DoubleIndirect != 0 {
		raw, err2 := e.readRaw(ino.DoubleIndirect)
		if err2 != nil {
			return nil, nil, err2
		}
		outerEntries := decodePointerBlock(raw)
		for _, indirectPtr := range outerEntries {
			if indirectPtr == 0 {
				break
			}
			innerRaw, err3 := e.readRaw(indirectPtr)
			if err3 != nil {
				return nil, nil, err3
			}
			stoppedOuter := false
			for _, ptr := range decodePointerBlock(innerRaw) {
				if ptr == 0 {
					stoppedOuter = e.strictCompat
					break
				}
				dataBlocks = append(dataBlocks, ptr)
			}
			pointerBlocks = append(pointerBlocks, indirectPtr)
			if stoppedOuter {
				break
			}
		}
		pointerBlocks = append(pointerBlocks, ino.DoubleIndirect)
	}

	return dataBlocks, pointerBlocks, nil
}

// Cursor streams a file's data blocks one at a time without materializing
// the whole file in memory. Each Next() call decrypts and returns exactly
// one BlockSize-byte block; the caller is responsible for trimming the
// final block to the inode's declared size.
type Cursor struct {
	e        *Engine
	pointers []uint32
	idx      int
}

// Next returns the next data block, or ok=false once the file is
// exhausted.
func (c *Cursor) Next() (data []byte, ok bool, err error) {
	if c.idx >= len(c.pointers) {
		return nil, false, nil
	}
	ptr := c.pointers[c.idx]
	c.idx++
	data, err = c.e.readRaw(ptr)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Remaining reports how many more blocks Next will yield.
func (c *Cursor) Remaining() int {
	return len(c.pointers) - c.idx
}
