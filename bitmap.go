package tinyfs

import (
	"fmt"

	bitmap "github.com/boljen/go-bitmap"

	"github.com/dargueta/tinyfs/blockdev"
)

// Allocator manages one on-disk allocation bitmap: a full block held in
// memory and written through to its backing block on every mutation. Bit i
// covers unit `base + i`; the inode allocator uses base 0 and the data
// allocator uses the first data region block, so the data allocator speaks
// absolute block numbers on both Allocate and Free.
//
// The bit order is part of the on-disk format: bytes in ascending order,
// LSB first within each byte. This is exactly the order go-bitmap uses.
type Allocator struct {
	dev      *blockdev.Device
	bits     bitmap.Bitmap
	backing  uint
	capacity uint
	base     uint32
}

// NewAllocator creates an allocator of `capacity` units persisted in block
// `backing`, with allocated indices offset by `base`. The in-memory bitmap
// starts out zeroed; call Load to read the on-disk state.
func NewAllocator(dev *blockdev.Device, backing, capacity uint, base uint32) *Allocator {
	return &Allocator{
		dev:      dev,
		bits:     bitmap.Bitmap(make([]byte, BlockSize)),
		backing:  backing,
		capacity: capacity,
		base:     base,
	}
}

// Load replaces the in-memory bitmap with the on-disk contents.
func (alloc *Allocator) Load() error {
	if err := alloc.dev.ReadBlock(alloc.backing, alloc.bits.Data(false)); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	return nil
}

// Flush writes the in-memory bitmap back to its backing block.
func (alloc *Allocator) Flush() error {
	if err := alloc.dev.WriteBlock(alloc.backing, alloc.bits.Data(false)); err != nil {
		return ErrIOFailed.Wrap(err)
	}
	return nil
}

// Allocate claims the lowest clear bit, flushes the bitmap, and returns the
// bit's index plus the allocator's base. The lowest-free policy keeps
// allocation order deterministic across runs.
func (alloc *Allocator) Allocate() (uint32, error) {
	for i := uint(0); i < alloc.capacity; i++ {
		if !alloc.bits.Get(int(i)) {
			alloc.bits.Set(int(i), true)
			if err := alloc.Flush(); err != nil {
				return 0, err
			}
			return alloc.base + uint32(i), nil
		}
	}
	return 0, ErrNoSpace.WithMessage(
		fmt.Sprintf("all %d units are allocated", alloc.capacity))
}

// Free releases a previously allocated unit and flushes the bitmap. The
// index uses the same convention as Allocate's return value, base included.
func (alloc *Allocator) Free(index uint32) error {
	if index < alloc.base || uint(index-alloc.base) >= alloc.capacity {
		return ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"invalid unit %d: not in range [%d, %d)",
				index, alloc.base, alloc.base+uint32(alloc.capacity)))
	}
	alloc.Toggle(index)
	return alloc.Flush()
}

// Toggle flips the bit for `index` in memory without flushing. Setting and
// clearing are symmetric, so freeing is a toggle of a set bit.
func (alloc *Allocator) Toggle(index uint32) {
	i := int(index - alloc.base)
	alloc.bits.Set(i, !alloc.bits.Get(i))
}

// IsAllocated reports whether `index` (base included) is currently claimed.
func (alloc *Allocator) IsAllocated(index uint32) bool {
	return alloc.bits.Get(int(index - alloc.base))
}

// InUse counts the allocated units.
func (alloc *Allocator) InUse() uint {
	count := uint(0)
	for i := uint(0); i < alloc.capacity; i++ {
		if alloc.bits.Get(int(i)) {
			count++
		}
	}
	return count
}

// Capacity returns the total number of units the allocator manages.
func (alloc *Allocator) Capacity() uint {
	return alloc.capacity
}

// Snapshot returns a copy of the raw bitmap bytes, for comparison in tests
// and consistency checks.
func (alloc *Allocator) Snapshot() []byte {
	return alloc.bits.Data(true)
}
