package itable

import (
	"bytes"
	"encoding/binary"

	"github.com/luminoso/SOFS14/internal/sofs/blockdev"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/params"
)

// Store is the §4.3 inode-table store: it tracks at most one loaded block
// of the inode array at a time, exactly the process-wide single-slot
// buffer discipline of §5. Crossing a block boundary requires an explicit
// StoreBlock before the next LoadBlock.
type Store struct {
	dev          blockdev.Device
	itableStart  int64
	itableBlocks int64
	nInodes      uint32

	loadedBlock int64 // -1 when nothing is loaded
	dirty       bool
	records     [params.IPB]Record
}

// NewStore creates an inode-table store over the given device for an
// inode table starting at block itableStart spanning itableBlocks blocks,
// holding nInodes inodes total.
func NewStore(dev blockdev.Device, itableStart, itableBlocks int64, nInodes uint32) *Store {
	return &Store{
		dev:          dev,
		itableStart:  itableStart,
		itableBlocks: itableBlocks,
		nInodes:      nInodes,
		loadedBlock:  -1,
	}
}

// Convert maps an inode index to its (block index, offset-within-block),
// per spec.md §4.3: n = block*IPB + offset.
func (s *Store) Convert(n uint32) (block int64, offset int) {
	block = s.itableStart + int64(n)/params.IPB
	offset = int(n) % params.IPB
	return
}

// NInodes returns the total inode count this table was sized for.
func (s *Store) NInodes() uint32 {
	return s.nInodes
}

// ValidIndex reports whether n addresses an inode within this table.
func (s *Store) ValidIndex(n uint32) bool {
	return n < s.nInodes
}

// LoadBlock reads inode-table block b (absolute device block index) into
// the single in-memory slot. Loading a different block than is currently
// held requires the caller to have already called StoreBlock if the held
// block was mutated; LoadBlock does not flush for you.
func (s *Store) LoadBlock(b int64) error {
	if b < s.itableStart || b >= s.itableStart+s.itableBlocks {
		return errs.InvalidArgument.Wrap("inode-table block %d out of range", b)
	}
	buf := make([]byte, s.dev.BlockSize())
	if err := s.dev.ReadBlock(b, buf); err != nil {
		return err
	}
	var disk [params.IPB]diskInode
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &disk); err != nil {
		return errs.InternalInconsistency.Wrap("decoding inode-table block %d: %v", b, err)
	}
	for i := range disk {
		s.records[i] = fromDisk(disk[i])
	}
	s.loadedBlock = b
	s.dirty = false
	return nil
}

// GetBlock returns the currently loaded block's records and its absolute
// block index. Callers mutating a record must call MarkDirty().
func (s *Store) GetBlock() (records *[params.IPB]Record, block int64, ok bool) {
	if s.loadedBlock < 0 {
		return nil, 0, false
	}
	return &s.records, s.loadedBlock, true
}

// MarkDirty flags the loaded block as mutated so StoreBlock will write it.
func (s *Store) MarkDirty() {
	s.dirty = true
}

// StoreBlock writes the currently loaded block back to the device if it
// was marked dirty, per §4.2/§5's store-before-returning-success rule.
func (s *Store) StoreBlock() error {
	if s.loadedBlock < 0 || !s.dirty {
		return nil
	}
	var disk [params.IPB]diskInode
	for i := range s.records {
		disk[i] = s.records[i].toDisk()
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &disk); err != nil {
		return errs.InternalInconsistency.Wrap("encoding inode-table block %d: %v", s.loadedBlock, err)
	}
	block := make([]byte, s.dev.BlockSize())
	copy(block, buf.Bytes())
	if err := s.dev.WriteBlock(s.loadedBlock, block); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// WithRecord loads the block containing inode n (if not already loaded),
// hands the record at n to fn for inspection/mutation, stores the block
// back if fn returns true, and leaves the block loaded for the caller.
// This is the re-acquire-on-every-access discipline §5 mandates: any
// helper that may have swapped the single loaded block must go through
// this rather than cache a stale *Record.
func (s *Store) WithRecord(n uint32, fn func(r *Record) (mutated bool, err error)) error {
	if !s.ValidIndex(n) {
		return errs.InvalidArgument.Wrap("inode index %d out of range [0,%d)", n, s.nInodes)
	}
	block, offset := s.Convert(n)
	if s.loadedBlock != block {
		if err := s.StoreBlock(); err != nil {
			return err
		}
		if err := s.LoadBlock(block); err != nil {
			return err
		}
	}
	mutated, err := fn(&s.records[offset])
	if err != nil {
		return err
	}
	if mutated {
		s.MarkDirty()
		return s.StoreBlock()
	}
	return nil
}

// Peek loads (if needed) the block containing inode n and returns a copy
// of its record without storing anything back.
func (s *Store) Peek(n uint32) (Record, error) {
	if !s.ValidIndex(n) {
		return Record{}, errs.InvalidArgument.Wrap("inode index %d out of range [0,%d)", n, s.nInodes)
	}
	block, offset := s.Convert(n)
	if s.loadedBlock != block {
		if err := s.StoreBlock(); err != nil {
			return Record{}, err
		}
		if err := s.LoadBlock(block); err != nil {
			return Record{}, err
		}
	}
	return s.records[offset], nil
}
