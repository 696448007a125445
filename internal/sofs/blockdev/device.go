// Package blockdev implements the raw block-device contract the core
// metadata engine consumes: read one block, write one block, open, close.
//
// Everything in this package is deliberately thin -- the specification
// treats raw block I/O as an external collaborator of the core engine, not
// part of it. Grounded on the seek-then-fixed-size-read/write pattern in
// the teacher's pkg/vdecompiler/io.go (partialIO, IO.Superblock/readBGDT).
package blockdev

import (
	"fmt"
	"io"
	"os"

	"github.com/luminoso/SOFS14/internal/sofs/errs"
)

// Device is the two capabilities the core requires from raw storage.
type Device interface {
	ReadBlock(index int64, buf []byte) error
	WriteBlock(index int64, buf []byte) error
	BlockSize() int
	Close() error
}

// FileDevice is a Device backed by a single regular file acting as a raw
// block device, exactly the model spec.md describes.
type FileDevice struct {
	f         *os.File
	blockSize int
	nBlocks   int64
}

// Open opens (without creating) an existing file as a block device of the
// given block size.
func Open(path string, blockSize int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", path, err)
	}
	return newFileDevice(f, blockSize)
}

// Create creates (or truncates) a file of the given size in blocks and
// opens it as a block device.
func Create(path string, blockSize int, totalBlocks int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating device %s: %w", path, err)
	}
	if err := f.Truncate(int64(blockSize) * totalBlocks); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing device %s: %w", path, err)
	}
	return newFileDevice(f, blockSize)
}

func newFileDevice(f *os.File, blockSize int) (*FileDevice, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat device: %w", err)
	}
	if info.Size()%int64(blockSize) != 0 {
		f.Close()
		return nil, errs.InvalidArgument.Wrap("device size %d is not a multiple of block size %d", info.Size(), blockSize)
	}
	return &FileDevice{
		f:         f,
		blockSize: blockSize,
		nBlocks:   info.Size() / int64(blockSize),
	}, nil
}

// BlockSize returns the device's fixed block size in bytes.
func (d *FileDevice) BlockSize() int {
	return d.blockSize
}

// TotalBlocks returns the device's capacity in blocks.
func (d *FileDevice) TotalBlocks() int64 {
	return d.nBlocks
}

func (d *FileDevice) checkOpen() error {
	if d.f == nil {
		return errs.DeviceNotOpen
	}
	return nil
}

// ReadBlock reads exactly one block at the given logical block index.
func (d *FileDevice) ReadBlock(index int64, buf []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if len(buf) != d.blockSize {
		return errs.InvalidArgument.Wrap("read buffer size %d != block size %d", len(buf), d.blockSize)
	}
	if index < 0 || index >= d.nBlocks {
		return errs.InvalidArgument.Wrap("block index %d out of range [0,%d)", index, d.nBlocks)
	}
	_, err := d.f.ReadAt(buf, index*int64(d.blockSize))
	if err != nil && err != io.EOF {
		return errs.IOFailure.Wrap("reading block %d: %v", index, err)
	}
	return nil
}

// WriteBlock writes exactly one block at the given logical block index.
func (d *FileDevice) WriteBlock(index int64, buf []byte) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if len(buf) != d.blockSize {
		return errs.InvalidArgument.Wrap("write buffer size %d != block size %d", len(buf), d.blockSize)
	}
	if index < 0 || index >= d.nBlocks {
		return errs.InvalidArgument.Wrap("block index %d out of range [0,%d)", index, d.nBlocks)
	}
	if _, err := d.f.WriteAt(buf, index*int64(d.blockSize)); err != nil {
		return errs.IOFailure.Wrap("writing block %d: %v", index, err)
	}
	return nil
}

// Close releases the underlying file handle.
func (d *FileDevice) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
