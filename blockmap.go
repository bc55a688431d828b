package tinyfs

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// maxLogicalBlocks is the number of logical blocks a single inode can map.
const maxLogicalBlocks = NumDirectPointers + NumIndirectPointers*PointersPerBlock

// indirectCache remembers the most recently loaded indirect block so that
// sequential walks through the block map don't re-read it for every logical
// block.
type indirectCache struct {
	blockNum uint32
	buffer   []byte
}

func (cache *indirectCache) load(fs *Filesystem, blockNum uint32) ([]byte, error) {
	if cache.buffer != nil && cache.blockNum == blockNum {
		return cache.buffer, nil
	}
	if cache.buffer == nil {
		cache.buffer = make([]byte, BlockSize)
	}
	if err := fs.dev.ReadBlock(uint(blockNum), cache.buffer); err != nil {
		cache.buffer = nil
		return nil, ErrIOFailed.Wrap(err)
	}
	cache.blockNum = blockNum
	return cache.buffer, nil
}

// lookupBlock maps logical block `lb` of `node` to its physical block
// number. Zero means the slot is a hole. Logical blocks past the block map
// fail with ErrFileTooLarge.
func (fs *Filesystem) lookupBlock(node *Inode, lb uint32, cache *indirectCache) (uint32, error) {
	if lb >= maxLogicalBlocks {
		return 0, ErrFileTooLarge.WithMessage(
			fmt.Sprintf("logical block %d is past the block map", lb))
	}
	if lb < NumDirectPointers {
		return node.Direct[lb], nil
	}

	slot := (lb - NumDirectPointers) / PointersPerBlock
	entry := (lb - NumDirectPointers) % PointersPerBlock
	if node.Indirect[slot] == 0 {
		return 0, nil
	}
	buffer, err := cache.load(fs, node.Indirect[slot])
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buffer[entry*4:]), nil
}

// allocZeroedBlock claims a data block and writes it back zero-filled.
func (fs *Filesystem) allocZeroedBlock() (uint32, error) {
	blockNum, err := fs.dataAlloc.Allocate()
	if err != nil {
		return 0, err
	}
	if err := fs.dev.WriteBlock(uint(blockNum), make([]byte, BlockSize)); err != nil {
		return 0, ErrIOFailed.Wrap(err)
	}
	return blockNum, nil
}

// ensureBlock maps logical block `lb` of `node`, allocating on demand: a
// missing data block, indirect block, or both are claimed from the data
// allocator, zeroed, and persisted along with whichever parent (inode or
// indirect block) gained the new pointer.
func (fs *Filesystem) ensureBlock(node *Inode, lb uint32, cache *indirectCache) (uint32, error) {
	if lb >= maxLogicalBlocks {
		return 0, ErrFileTooLarge.WithMessage(
			fmt.Sprintf("logical block %d is past the block map", lb))
	}

	if lb < NumDirectPointers {
		if node.Direct[lb] != 0 {
			return node.Direct[lb], nil
		}
		blockNum, err := fs.allocZeroedBlock()
		if err != nil {
			return 0, err
		}
		node.Direct[lb] = blockNum
		if err := fs.WriteInode(node.Ino, node); err != nil {
			return 0, err
		}
		return blockNum, nil
	}

	slot := (lb - NumDirectPointers) / PointersPerBlock
	entry := (lb - NumDirectPointers) % PointersPerBlock

	if node.Indirect[slot] == 0 {
		indirectNum, err := fs.dataAlloc.Allocate()
		if err != nil {
			return 0, err
		}
		blockNum, err := fs.allocZeroedBlock()
		if err != nil {
			return 0, err
		}

		if cache.buffer == nil {
			cache.buffer = make([]byte, BlockSize)
		}
		for i := range cache.buffer {
			cache.buffer[i] = 0
		}
		binary.LittleEndian.PutUint32(cache.buffer[entry*4:], blockNum)
		if err := fs.dev.WriteBlock(uint(indirectNum), cache.buffer); err != nil {
			cache.buffer = nil
			return 0, ErrIOFailed.Wrap(err)
		}
		cache.blockNum = indirectNum

		node.Indirect[slot] = indirectNum
		if err := fs.WriteInode(node.Ino, node); err != nil {
			return 0, err
		}
		return blockNum, nil
	}

	buffer, err := cache.load(fs, node.Indirect[slot])
	if err != nil {
		return 0, err
	}
	if existing := binary.LittleEndian.Uint32(buffer[entry*4:]); existing != 0 {
		return existing, nil
	}

	blockNum, err := fs.allocZeroedBlock()
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(buffer[entry*4:], blockNum)
	if err := fs.dev.WriteBlock(uint(node.Indirect[slot]), buffer); err != nil {
		cache.buffer = nil
		return 0, ErrIOFailed.Wrap(err)
	}
	return blockNum, nil
}

// freeInodeBlocks releases every data block referenced by `node`, including
// indirect blocks themselves, and clears the pointers. Failures don't stop
// the sweep; they're aggregated into one error.
func (fs *Filesystem) freeInodeBlocks(node *Inode) error {
	var result *multierror.Error

	for idx, blockNum := range node.Direct {
		if blockNum == 0 {
			continue
		}
		result = multierror.Append(result, fs.dataAlloc.Free(blockNum))
		node.Direct[idx] = 0
	}

	buffer := make([]byte, BlockSize)
	for idx, indirectNum := range node.Indirect {
		if indirectNum == 0 {
			continue
		}
		if err := fs.dev.ReadBlock(uint(indirectNum), buffer); err != nil {
			result = multierror.Append(result, ErrIOFailed.Wrap(err))
			node.Indirect[idx] = 0
			continue
		}
		for entry := 0; entry < PointersPerBlock; entry++ {
			if blockNum := binary.LittleEndian.Uint32(buffer[entry*4:]); blockNum != 0 {
				result = multierror.Append(result, fs.dataAlloc.Free(blockNum))
			}
		}
		result = multierror.Append(result, fs.dataAlloc.Free(indirectNum))
		node.Indirect[idx] = 0
	}

	return result.ErrorOrNil()
}

// truncateBlocks frees every block of `node` whose logical index is at or
// past `keepBlocks`, clearing the now-dead pointers. Indirect blocks whose
// whole range is dropped are freed too.
func (fs *Filesystem) truncateBlocks(node *Inode, keepBlocks uint32) error {
	var result *multierror.Error

	for idx, blockNum := range node.Direct {
		if blockNum == 0 || uint32(idx) < keepBlocks {
			continue
		}
		result = multierror.Append(result, fs.dataAlloc.Free(blockNum))
		node.Direct[idx] = 0
	}

	buffer := make([]byte, BlockSize)
	for idx, indirectNum := range node.Indirect {
		if indirectNum == 0 {
			continue
		}
		rangeStart := uint32(NumDirectPointers + idx*PointersPerBlock)
		if rangeStart+PointersPerBlock <= keepBlocks {
			continue
		}

		if err := fs.dev.ReadBlock(uint(indirectNum), buffer); err != nil {
			result = multierror.Append(result, ErrIOFailed.Wrap(err))
			continue
		}

		dirty := false
		for entry := 0; entry < PointersPerBlock; entry++ {
			blockNum := binary.LittleEndian.Uint32(buffer[entry*4:])
			if blockNum == 0 || rangeStart+uint32(entry) < keepBlocks {
				continue
			}
			result = multierror.Append(result, fs.dataAlloc.Free(blockNum))
			binary.LittleEndian.PutUint32(buffer[entry*4:], 0)
			dirty = true
		}

		if rangeStart >= keepBlocks {
			result = multierror.Append(result, fs.dataAlloc.Free(indirectNum))
			node.Indirect[idx] = 0
		} else if dirty {
			if err := fs.dev.WriteBlock(uint(indirectNum), buffer); err != nil {
				result = multierror.Append(result, ErrIOFailed.Wrap(err))
			}
		}
	}

	return result.ErrorOrNil()
}
