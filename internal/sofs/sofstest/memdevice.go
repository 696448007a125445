// Package sofstest provides a memory-backed blockdev.Device for the other
// internal/sofs packages' tests, so every store/repo/tree test can exercise
// real read/write round-trips without a backing file.
package sofstest

import (
	"github.com/luminoso/SOFS14/internal/sofs/errs"
)

// MemDevice is a blockdev.Device backed by a plain byte slice.
type MemDevice struct {
	blockSize int
	blocks    [][]byte
}

// NewMemDevice creates a zero-filled memory device of the given geometry.
func NewMemDevice(blockSize int, totalBlocks int64) *MemDevice {
	d := &MemDevice{blockSize: blockSize, blocks: make([][]byte, totalBlocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, blockSize)
	}
	return d
}

func (d *MemDevice) BlockSize() int { return d.blockSize }

func (d *MemDevice) TotalBlocks() int64 { return int64(len(d.blocks)) }

func (d *MemDevice) ReadBlock(index int64, buf []byte) error {
	if index < 0 || index >= int64(len(d.blocks)) {
		return errs.InvalidArgument.Wrap("block index %d out of range", index)
	}
	if len(buf) != d.blockSize {
		return errs.InvalidArgument.Wrap("read buffer size %d != block size %d", len(buf), d.blockSize)
	}
	copy(buf, d.blocks[index])
	return nil
}

func (d *MemDevice) WriteBlock(index int64, buf []byte) error {
	if index < 0 || index >= int64(len(d.blocks)) {
		return errs.InvalidArgument.Wrap("block index %d out of range", index)
	}
	if len(buf) != d.blockSize {
		return errs.InvalidArgument.Wrap("write buffer size %d != block size %d", len(buf), d.blockSize)
	}
	copy(d.blocks[index], buf)
	return nil
}

func (d *MemDevice) Close() error { return nil }
