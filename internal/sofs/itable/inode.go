// Package itable implements the §3 inode record -- including the tagged
// vD1/vD2 union design note of §9 -- and the §4.3 inode-table store.
//
// Record layout is grounded on pkg/ext4/inode.go's Inode struct (fixed
// little-endian fields, direct + indirect references) sized to this spec's
// own parameters instead of real ext4's; the block/offset addressing is
// grounded on pkg/vdecompiler/fs.go's ResolveInode ((ino-1)/InodesPerGroup
// arithmetic), adapted to a single flat inode table.
package itable

import (
	"github.com/luminoso/SOFS14/internal/sofs/params"
)

// Mode bit layout, spec.md §3: permission triplets in the low 9 bits, a
// type tag above them, and a free flag above that.
const (
	ModePermMask = 0777

	ModeTypeRegular   = 0x0200
	ModeTypeDirectory = 0x0400
	ModeTypeSymlink   = 0x0800
	ModeTypeMask      = 0x0E00

	// ModeFree marks the inode as free (clean or dirty depending on
	// whether type bits are still set).
	ModeFree = 0x1000
)

// State is the inode's lifecycle state, spec.md §3.
type State int

const (
	InUse State = iota
	FreeClean
	FreeDirty
)

func (st State) String() string {
	switch st {
	case InUse:
		return "in-use"
	case FreeClean:
		return "free-clean"
	case FreeDirty:
		return "free-dirty"
	default:
		return "unknown"
	}
}

// StateOf classifies a raw mode word into one of the three inode states.
func StateOf(mode uint32) State {
	free := mode&ModeFree != 0
	hasType := mode&ModeTypeMask != 0
	switch {
	case !free && hasType:
		return InUse
	case free && hasType:
		return FreeDirty
	default:
		return FreeClean
	}
}

// Type is the inode's file type, valid only when State == InUse.
type Type int

const (
	TypeRegular Type = iota
	TypeDirectory
	TypeSymlink
)

// TypeFromMode extracts the file type bits, regardless of the free flag
// (used to recover a free-dirty inode's prior type).
func TypeFromMode(mode uint32) (Type, bool) {
	switch mode & ModeTypeMask {
	case ModeTypeRegular:
		return TypeRegular, true
	case ModeTypeDirectory:
		return TypeDirectory, true
	case ModeTypeSymlink:
		return TypeSymlink, true
	default:
		return 0, false
	}
}

func (t Type) modeBits() uint32 {
	switch t {
	case TypeDirectory:
		return ModeTypeDirectory
	case TypeSymlink:
		return ModeTypeSymlink
	default:
		return ModeTypeRegular
	}
}

// Times is the vD1/vD2 overlay for an in-use inode: access-time and
// modification-time, in whole seconds.
type Times struct {
	Atime uint32
	Mtime uint32
}

// FreeLink is the vD1/vD2 overlay for a free inode: its neighbours in the
// free-inode list.
type FreeLink struct {
	Next uint32
	Prev uint32
}

// diskInode is the exact 64-byte on-disk layout. vD1/vD2 are stored raw;
// Record's Times/FreeLink accessors are the tagged-union view spec.md §9
// calls for -- the disk bytes never change meaning, only how Go code reads
// them.
type diskInode struct {
	Mode         uint32
	Refcount     uint32
	Owner        uint32
	Group        uint32
	SizeBytes    uint64
	ClusterCount uint32
	D            [params.NDirect]uint32
	I1           uint32
	I2           uint32
	VD1          uint32
	VD2          uint32
	_            [4]byte // pads the record to params.InodeSize
}

// Record is the decoded, in-memory view of one inode.
type Record struct {
	Mode         uint32
	Refcount     uint32
	Owner        uint32
	Group        uint32
	SizeBytes    uint64
	ClusterCount uint32
	D            [params.NDirect]uint32
	I1           uint32
	I2           uint32
	VD1          uint32
	VD2          uint32
}

// State classifies this record's lifecycle state.
func (r *Record) State() State {
	return StateOf(r.Mode)
}

// Times returns the access/modification-time overlay. Valid only when
// State() == InUse: MarkFreeDirty and ResetFreeClean overwrite the same two
// words with the free-list links.
func (r *Record) Times() Times {
	return Times{Atime: r.VD1, Mtime: r.VD2}
}

// SetTimes installs the access/modification-time overlay.
func (r *Record) SetTimes(t Times) {
	r.VD1 = t.Atime
	r.VD2 = t.Mtime
}

// FreeLink returns the free-list overlay. Valid only when State() != InUse.
func (r *Record) FreeLink() FreeLink {
	return FreeLink{Next: r.VD1, Prev: r.VD2}
}

// SetFreeLink installs the free-list overlay.
func (r *Record) SetFreeLink(l FreeLink) {
	r.VD1 = l.Next
	r.VD2 = l.Prev
}

// ResetFreeClean rewrites the record into the free-clean state: no type
// bits, all references sentinel, zero size/refcount, the given free-list
// neighbours.
func (r *Record) ResetFreeClean(link FreeLink) {
	r.Mode = ModeFree
	r.Refcount = 0
	r.Owner = 0
	r.Group = 0
	r.SizeBytes = 0
	r.ClusterCount = 0
	for i := range r.D {
		r.D[i] = params.Sentinel
	}
	r.I1 = params.Sentinel
	r.I2 = params.Sentinel
	r.SetFreeLink(link)
}

// MarkFreeDirty sets the free flag while preserving the type bits and
// references, per spec.md §4.4 Free: the inode is recognisably dirty until
// CleanInode dissociates its clusters.
func (r *Record) MarkFreeDirty(link FreeLink) {
	r.Mode |= ModeFree
	r.SetFreeLink(link)
}

// InitInUse rewrites the record into a freshly allocated in-use inode of
// the given type, owner/group and current time.
func (r *Record) InitInUse(t Type, owner, group uint32, now uint32) {
	r.Mode = t.modeBits()
	r.Refcount = 0
	r.Owner = owner
	r.Group = group
	r.SizeBytes = 0
	r.ClusterCount = 0
	for i := range r.D {
		r.D[i] = params.Sentinel
	}
	r.I1 = params.Sentinel
	r.I2 = params.Sentinel
	r.SetTimes(Times{Atime: now, Mtime: now})
}

func (r *Record) toDisk() diskInode {
	return diskInode{
		Mode:         r.Mode,
		Refcount:     r.Refcount,
		Owner:        r.Owner,
		Group:        r.Group,
		SizeBytes:    r.SizeBytes,
		ClusterCount: r.ClusterCount,
		D:            r.D,
		I1:           r.I1,
		I2:           r.I2,
		VD1:          r.VD1,
		VD2:          r.VD2,
	}
}

func fromDisk(d diskInode) Record {
	return Record{
		Mode:         d.Mode,
		Refcount:     d.Refcount,
		Owner:        d.Owner,
		Group:        d.Group,
		SizeBytes:    d.SizeBytes,
		ClusterCount: d.ClusterCount,
		D:            d.D,
		I1:           d.I1,
		I2:           d.I2,
		VD1:          d.VD1,
		VD2:          d.VD2,
	}
}
