// Package super implements the §3 superblock record and the §4.2
// superblock store (load/get/store), including the §4.5 retrieve/insert
// free-cluster caches that live inside the superblock record.
//
// Grounded on pkg/ext4/super.go (Superblock struct, writeSuperblock) --
// the same fixed little-endian struct + binary.Write/Read convention,
// sized here to this spec's own field set instead of real ext4's.
package super

import (
	"bytes"
	"encoding/binary"

	"github.com/luminoso/SOFS14/internal/sofs/blockdev"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/params"
)

// Mount-status values, spec.md §3.
const (
	StatusPristine       uint32 = 0
	StatusMounted        uint32 = 1
	StatusUnmountedClean uint32 = 2
)

// SentinelMagic is written during formatting; a device whose magic is still
// this sentinel is considered un-mountable (formatting never completed).
const SentinelMagic uint16 = 0xFFFF

// FinalMagic is the magic number a successfully formatted device carries.
const FinalMagic uint16 = 0x50F5 // "SOFS" wordplay, chosen arbitrarily

// CurrentVersion is the on-disk format version this package writes.
const CurrentVersion uint16 = 1

// Superblock is the fixed-size record occupying block 0, per spec.md §3.
type Superblock struct {
	Magic       uint16
	Version     uint16
	Name        [32]byte
	MountStatus uint32

	NTotalBlocks uint32

	ITableStart      uint32
	ITableBlockCount uint32
	NInodesTotal     uint32
	NInodesFree      uint32
	FreeInodeHead    uint32
	FreeInodeTail    uint32

	DZoneStart      uint32
	NClustersTotal  uint32
	NClustersFree   uint32
	FreeClusterHead uint32
	FreeClusterTail uint32

	RetrieveCache [params.CacheCapacity]uint32
	RetrieveIdx   uint32

	InsertCache [params.CacheCapacity]uint32
	InsertIdx   uint32

	Reserved [288]byte
}

// SetName copies name into the fixed, zero-terminated Name field, truncating
// if necessary.
func (sb *Superblock) SetName(name string) {
	for i := range sb.Name {
		sb.Name[i] = 0
	}
	b := []byte(name)
	if len(b) > len(sb.Name)-1 {
		b = b[:len(sb.Name)-1]
	}
	copy(sb.Name[:], b)
}

// GetName returns the volume label as a Go string.
func (sb *Superblock) GetName() string {
	i := bytes.IndexByte(sb.Name[:], 0)
	if i < 0 {
		i = len(sb.Name)
	}
	return string(sb.Name[:i])
}

// Store is the in-memory cache of the singleton superblock record, per
// §4.2: load reads block 0, get returns the cached handle, store writes it
// back. Every routine that mutates the in-memory record must call Store
// before returning success to a caller depending on the change (§5).
type Store struct {
	dev blockdev.Device
	sb  Superblock
}

// NewStore wraps a block device with no superblock loaded yet.
func NewStore(dev blockdev.Device) *Store {
	return &Store{dev: dev}
}

// Load reads block 0 into the in-memory cache.
func (s *Store) Load() error {
	buf := make([]byte, s.dev.BlockSize())
	if err := s.dev.ReadBlock(0, buf); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, &s.sb)
}

// Get returns a pointer to the cached superblock record for in-place
// mutation. The caller must call Store after mutating it.
func (s *Store) Get() *Superblock {
	return &s.sb
}

// Store writes the in-memory superblock back to block 0.
func (s *Store) Store() error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &s.sb); err != nil {
		return errs.InternalInconsistency.Wrap("encoding superblock: %v", err)
	}
	block := make([]byte, s.dev.BlockSize())
	if buf.Len() > len(block) {
		return errs.InternalInconsistency.Wrap("superblock record (%d bytes) exceeds block size (%d bytes)", buf.Len(), len(block))
	}
	copy(block, buf.Bytes())
	return s.dev.WriteBlock(0, block)
}

// Mountable reports whether the superblock carries a completed format's
// final magic number, per spec.md §3/§7: a device whose magic is still the
// sentinel never finished formatting and must not be mounted.
func (sb *Superblock) Mountable() bool {
	return sb.Magic == FinalMagic
}
