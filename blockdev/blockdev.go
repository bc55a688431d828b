// Package blockdev provides fixed-size, block-aligned random access over a
// backing store: a disk image file on disk, or an in-memory buffer for tests.
// All reads and writes are whole blocks; partial-block updates are the
// caller's responsibility (read, modify, write back).
package blockdev

import (
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/bytesextra"
)

// Truncator is an interface for streams that support a Truncate() method
// behaving like [os.File.Truncate].
type Truncator interface {
	Truncate(size int64) error
}

// Device exposes a stream as an array of `totalBlocks` blocks of
// `bytesPerBlock` bytes each. Block `i` lives at byte offset
// `i * bytesPerBlock` in the stream.
type Device struct {
	stream        io.ReadWriteSeeker
	bytesPerBlock uint
	totalBlocks   uint
}

// New wraps any [io.ReadWriteSeeker] in a Device. The stream must already be
// at least `bytesPerBlock * totalBlocks` bytes long.
func New(stream io.ReadWriteSeeker, bytesPerBlock, totalBlocks uint) *Device {
	return &Device{
		stream:        stream,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

// NewInMemory creates a Device over a fresh zero-filled in-memory buffer.
func NewInMemory(bytesPerBlock, totalBlocks uint) *Device {
	storage := make([]byte, bytesPerBlock*totalBlocks)
	return New(bytesextra.NewReadWriteSeeker(storage), bytesPerBlock, totalBlocks)
}

// OpenFile opens an existing image file as a Device. It fails if the file
// doesn't exist or is smaller than the declared geometry.
func OpenFile(path string, bytesPerBlock, totalBlocks uint) (*Device, error) {
	handle, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, err
	}
	if info.Size() < int64(bytesPerBlock)*int64(totalBlocks) {
		handle.Close()
		return nil, fmt.Errorf(
			"image file %q is %d bytes, need at least %d",
			path, info.Size(), int64(bytesPerBlock)*int64(totalBlocks))
	}
	return New(handle, bytesPerBlock, totalBlocks), nil
}

// CreateFile creates a new image file of exactly the declared geometry,
// zero-filled, and returns it as a Device. An existing file is truncated.
func CreateFile(path string, bytesPerBlock, totalBlocks uint) (*Device, error) {
	handle, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := handle.Truncate(int64(bytesPerBlock) * int64(totalBlocks)); err != nil {
		handle.Close()
		return nil, err
	}
	return New(handle, bytesPerBlock, totalBlocks), nil
}

// BytesPerBlock returns the size of a single block, in bytes.
func (dev *Device) BytesPerBlock() uint {
	return dev.bytesPerBlock
}

// TotalBlocks returns the size of the device, in blocks.
func (dev *Device) TotalBlocks() uint {
	return dev.totalBlocks
}

// seekToBlock sets the stream pointer to the offset of a block.
func (dev *Device) seekToBlock(block uint) error {
	if block >= dev.totalBlocks {
		return fmt.Errorf(
			"invalid block number: %d not in range [0, %d)", block, dev.totalBlocks)
	}
	_, err := dev.stream.Seek(int64(block)*int64(dev.bytesPerBlock), io.SeekStart)
	return err
}

// ReadBlock reads block `block` into `buffer`, which must be exactly one
// block long.
func (dev *Device) ReadBlock(block uint, buffer []byte) error {
	if uint(len(buffer)) != dev.bytesPerBlock {
		return fmt.Errorf(
			"buffer is %d bytes, expected exactly %d", len(buffer), dev.bytesPerBlock)
	}
	if err := dev.seekToBlock(block); err != nil {
		return err
	}
	if _, err := io.ReadFull(dev.stream, buffer); err != nil {
		return err
	}
	return nil
}

// WriteBlock writes `buffer` to block `block`. The buffer must be exactly one
// block long.
func (dev *Device) WriteBlock(block uint, buffer []byte) error {
	if uint(len(buffer)) != dev.bytesPerBlock {
		return fmt.Errorf(
			"buffer is %d bytes, expected exactly %d", len(buffer), dev.bytesPerBlock)
	}
	if err := dev.seekToBlock(block); err != nil {
		return err
	}
	if _, err := dev.stream.Write(buffer); err != nil {
		return err
	}
	return nil
}

// Sync flushes buffered writes to stable storage where the underlying stream
// supports it.
func (dev *Device) Sync() error {
	if file, ok := dev.stream.(*os.File); ok {
		return file.Sync()
	}
	return nil
}

// Close releases the underlying stream if it supports closing. The Device
// must not be used afterwards.
func (dev *Device) Close() error {
	if closer, ok := dev.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
