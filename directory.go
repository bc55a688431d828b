package tinyfs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DirentSize is the fixed on-disk footprint of one directory entry.
const DirentSize = 256

// DirentsPerBlock is how many entries fit in one directory data block.
const DirentsPerBlock = BlockSize / DirentSize

// MaxNameLen is the longest directory entry name. The on-disk name buffer is
// 250 bytes, NUL-padded, and always keeps a trailing NUL.
const MaxNameLen = 249

// direntNameCapacity is the size of the on-disk name buffer.
const direntNameCapacity = 250

// Dirent is one directory entry as seen by callers. Invalid (deleted) slots
// never escape the directory engine.
type Dirent struct {
	Ino  uint16
	Name string
}

// decodeDirent reinterprets `data` (one DirentSize record) as a dirent.
// The second return value is the slot's valid flag.
func decodeDirent(data []byte) (Dirent, bool) {
	valid := binary.LittleEndian.Uint16(data[2:])
	if valid == 0 {
		return Dirent{}, false
	}
	nameLen := uint(binary.LittleEndian.Uint16(data[4:]))
	if nameLen > direntNameCapacity {
		nameLen = direntNameCapacity
	}
	return Dirent{
		Ino:  binary.LittleEndian.Uint16(data),
		Name: string(data[6 : 6+nameLen]),
	}, true
}

// encodeDirent writes a valid dirent for (`ino`, `name`) into `data`, one
// DirentSize record. The name buffer is NUL-padded.
func encodeDirent(data []byte, ino uint16, name string) {
	for i := range data[:DirentSize] {
		data[i] = 0
	}
	binary.LittleEndian.PutUint16(data, ino)
	binary.LittleEndian.PutUint16(data[2:], 1)
	binary.LittleEndian.PutUint16(data[4:], uint16(len(name)))
	copy(data[6:6+direntNameCapacity], name)
}

// forEachDirBlock walks the directory's allocated data blocks in block map
// order: direct pointers first, then each indirect block's children. `fn`
// returns true to stop the walk early.
func (fs *Filesystem) forEachDirBlock(
	dir *Inode,
	fn func(blockNum uint32) (bool, error),
) error {
	for _, blockNum := range dir.Direct {
		if blockNum == 0 {
			continue
		}
		done, err := fn(blockNum)
		if err != nil || done {
			return err
		}
	}

	indirectBuffer := make([]byte, BlockSize)
	for _, indirectNum := range dir.Indirect {
		if indirectNum == 0 {
			continue
		}
		if err := fs.dev.ReadBlock(uint(indirectNum), indirectBuffer); err != nil {
			return ErrIOFailed.Wrap(err)
		}
		for entry := 0; entry < PointersPerBlock; entry++ {
			blockNum := binary.LittleEndian.Uint32(indirectBuffer[entry*4:])
			if blockNum == 0 {
				continue
			}
			done, err := fn(blockNum)
			if err != nil || done {
				return err
			}
		}
	}
	return nil
}

// DirFind scans directory inode `dirIno` for an entry named `name`. It never
// allocates; a miss is ErrNotFound.
func (fs *Filesystem) DirFind(dirIno uint16, name string) (Dirent, error) {
	dir, err := fs.ReadInode(dirIno)
	if err != nil {
		return Dirent{}, err
	}
	if dir.Type != TypeDirectory {
		return Dirent{}, ErrNotADirectory.WithMessage(
			fmt.Sprintf("inode %d is not a directory", dirIno))
	}

	var found *Dirent
	buffer := make([]byte, BlockSize)
	err = fs.forEachDirBlock(&dir, func(blockNum uint32) (bool, error) {
		if err := fs.dev.ReadBlock(uint(blockNum), buffer); err != nil {
			return false, ErrIOFailed.Wrap(err)
		}
		for slot := 0; slot < DirentsPerBlock; slot++ {
			entry, valid := decodeDirent(buffer[slot*DirentSize:])
			if valid && entry.Name == name {
				found = &entry
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return Dirent{}, err
	}
	if found == nil {
		return Dirent{}, ErrNotFound.WithMessage(
			fmt.Sprintf("no entry %q in directory inode %d", name, dirIno))
	}
	return *found, nil
}

// placeInBlock writes `ino`/`name` into the first invalid slot of the given
// directory data block, if one exists.
func (fs *Filesystem) placeInBlock(blockNum uint32, ino uint16, name string) (bool, error) {
	buffer := make([]byte, BlockSize)
	if err := fs.dev.ReadBlock(uint(blockNum), buffer); err != nil {
		return false, ErrIOFailed.Wrap(err)
	}
	for slot := 0; slot < DirentsPerBlock; slot++ {
		if binary.LittleEndian.Uint16(buffer[slot*DirentSize+2:]) != 0 {
			continue
		}
		encodeDirent(buffer[slot*DirentSize:], ino, name)
		if err := fs.dev.WriteBlock(uint(blockNum), buffer); err != nil {
			return false, ErrIOFailed.Wrap(err)
		}
		return true, nil
	}
	return false, nil
}

// newDirBlock allocates a fresh data block holding `ino`/`name` in slot 0 and
// returns its block number.
func (fs *Filesystem) newDirBlock(ino uint16, name string) (uint32, error) {
	blockNum, err := fs.dataAlloc.Allocate()
	if err != nil {
		return 0, err
	}
	buffer := make([]byte, BlockSize)
	encodeDirent(buffer, ino, name)
	if err := fs.dev.WriteBlock(uint(blockNum), buffer); err != nil {
		return 0, ErrIOFailed.Wrap(err)
	}
	return blockNum, nil
}

// commitDirGrowth records one inserted entry on the directory inode: the
// logical size grows by one dirent and the change is written through.
func (fs *Filesystem) commitDirGrowth(dir *Inode) error {
	dir.Size += DirentSize
	dir.Stat.Size = uint64(dir.Size)
	return fs.WriteInode(dir.Ino, dir)
}

// DirAdd inserts an entry for (`ino`, `name`) into the directory. Existing
// blocks are filled first; a block (and, in the indirect region, the indirect
// block itself) is allocated only when every prior slot is taken. The
// directory inode is updated and persisted on success.
func (fs *Filesystem) DirAdd(dir *Inode, ino uint16, name string) error {
	if len(name) > MaxNameLen {
		return ErrNameTooLong.WithMessage(fmt.Sprintf("%.32q...", name))
	}
	if _, err := fs.DirFind(dir.Ino, name); err == nil {
		return ErrExists.WithMessage(
			fmt.Sprintf("entry %q already exists in directory inode %d", name, dir.Ino))
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	for idx, blockNum := range dir.Direct {
		if blockNum != 0 {
			placed, err := fs.placeInBlock(blockNum, ino, name)
			if err != nil {
				return err
			}
			if placed {
				return fs.commitDirGrowth(dir)
			}
			continue
		}

		newBlock, err := fs.newDirBlock(ino, name)
		if err != nil {
			return err
		}
		dir.Direct[idx] = newBlock
		return fs.commitDirGrowth(dir)
	}

	indirectBuffer := make([]byte, BlockSize)
	for idx, indirectNum := range dir.Indirect {
		if indirectNum == 0 {
			// Allocate the indirect block along with its first child.
			newIndirect, err := fs.dataAlloc.Allocate()
			if err != nil {
				return err
			}
			newBlock, err := fs.newDirBlock(ino, name)
			if err != nil {
				return err
			}
			for i := range indirectBuffer {
				indirectBuffer[i] = 0
			}
			binary.LittleEndian.PutUint32(indirectBuffer, newBlock)
			if err := fs.dev.WriteBlock(uint(newIndirect), indirectBuffer); err != nil {
				return ErrIOFailed.Wrap(err)
			}
			dir.Indirect[idx] = newIndirect
			return fs.commitDirGrowth(dir)
		}

		if err := fs.dev.ReadBlock(uint(indirectNum), indirectBuffer); err != nil {
			return ErrIOFailed.Wrap(err)
		}
		for entry := 0; entry < PointersPerBlock; entry++ {
			blockNum := binary.LittleEndian.Uint32(indirectBuffer[entry*4:])
			if blockNum != 0 {
				placed, err := fs.placeInBlock(blockNum, ino, name)
				if err != nil {
					return err
				}
				if placed {
					return fs.commitDirGrowth(dir)
				}
				continue
			}

			newBlock, err := fs.newDirBlock(ino, name)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(indirectBuffer[entry*4:], newBlock)
			if err := fs.dev.WriteBlock(uint(indirectNum), indirectBuffer); err != nil {
				return ErrIOFailed.Wrap(err)
			}
			return fs.commitDirGrowth(dir)
		}
	}

	return ErrDirectoryFull.WithMessage(
		fmt.Sprintf("directory inode %d has no free entry slots", dir.Ino))
}

// DirRemove deletes the entry named `name` by invalidating its slot. Emptied
// directory blocks are not reclaimed. The directory inode is updated and
// persisted on success.
func (fs *Filesystem) DirRemove(dir *Inode, name string) error {
	removed := false
	buffer := make([]byte, BlockSize)
	err := fs.forEachDirBlock(dir, func(blockNum uint32) (bool, error) {
		if err := fs.dev.ReadBlock(uint(blockNum), buffer); err != nil {
			return false, ErrIOFailed.Wrap(err)
		}
		for slot := 0; slot < DirentsPerBlock; slot++ {
			entry, valid := decodeDirent(buffer[slot*DirentSize:])
			if !valid || entry.Name != name {
				continue
			}
			binary.LittleEndian.PutUint16(buffer[slot*DirentSize+2:], 0)
			if err := fs.dev.WriteBlock(uint(blockNum), buffer); err != nil {
				return false, ErrIOFailed.Wrap(err)
			}
			removed = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound.WithMessage(
			fmt.Sprintf("no entry %q in directory inode %d", name, dir.Ino))
	}

	dir.Size -= DirentSize
	dir.Stat.Size = uint64(dir.Size)
	return fs.WriteInode(dir.Ino, dir)
}

// readDirEntries returns every valid entry of the directory in traversal
// order.
func (fs *Filesystem) readDirEntries(dir *Inode) ([]Dirent, error) {
	var entries []Dirent
	buffer := make([]byte, BlockSize)
	err := fs.forEachDirBlock(dir, func(blockNum uint32) (bool, error) {
		if err := fs.dev.ReadBlock(uint(blockNum), buffer); err != nil {
			return false, ErrIOFailed.Wrap(err)
		}
		for slot := 0; slot < DirentsPerBlock; slot++ {
			if entry, valid := decodeDirent(buffer[slot*DirentSize:]); valid {
				entries = append(entries, entry)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
