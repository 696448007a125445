// Package check implements the §4 "Consistency checks" row: quick
// structural validators for each record kind, producing the "inconsistent"
// family of errs.Status values.
//
// Grounded on the ad hoc shape assertions the teacher makes while reading
// records back in pkg/vdecompiler/fs.go (e.g. "sb.Signature != ext.Signature
// => error"), lifted here into reusable, named validators.
package check

import (
	"github.com/luminoso/SOFS14/internal/sofs/cluster"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/layout"
	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/super"
)

// Layout validates the layout invariant of spec.md §8 property 1:
// 1 + itable_blocks + cluster_total*K == n_total_blocks.
func Layout(l *layout.Layout) error {
	if 1+l.ITableBlocks+l.TotalClusters*l.ClusterBlocks != l.TotalBlocks {
		return errs.InternalInconsistency.Wrap("layout invariant violated")
	}
	if l.TotalInodes != l.ITableBlocks*params.IPB {
		return errs.InternalInconsistency.Wrap("inode count invariant violated")
	}
	return nil
}

// Superblock validates the superblock invariants of spec.md §3: it must be
// mountable, and its free counts must not exceed capacity minus the one
// permanently reserved inode/cluster.
func Superblock(sb *super.Superblock) error {
	if !sb.Mountable() {
		return errs.InternalInconsistency.Wrap("superblock magic is still the format sentinel; device never finished formatting")
	}
	if sb.NInodesFree > sb.NInodesTotal-1 {
		return errs.InternalInconsistency.Wrap("free inode count %d exceeds capacity %d", sb.NInodesFree, sb.NInodesTotal-1)
	}
	if sb.NClustersFree > sb.NClustersTotal-1 {
		return errs.InternalInconsistency.Wrap("free cluster count %d exceeds capacity %d", sb.NClustersFree, sb.NClustersTotal-1)
	}
	if (sb.FreeInodeHead == params.Sentinel) != (sb.NInodesFree == 0) {
		return errs.InternalInconsistency.Wrap("free-inode list head/count disagree")
	}
	if (sb.FreeInodeTail == params.Sentinel) != (sb.NInodesFree == 0) {
		return errs.InternalInconsistency.Wrap("free-inode list tail/count disagree")
	}
	return nil
}

// InodeState validates that a loaded inode record is in the expected
// lifecycle state, producing the specific "-inconsistent" status named in
// spec.md §6 for each mismatch.
func InodeState(r *itable.Record, expected itable.State) error {
	got := r.State()
	if got == expected {
		return nil
	}
	switch expected {
	case itable.InUse:
		return errs.InodeInUseInconsistent.Wrap("expected in-use inode, found %s", got)
	case itable.FreeDirty:
		return errs.FreeInodeDirtyInconsistent.Wrap("expected free-dirty inode, found %s", got)
	default:
		return errs.InternalInconsistency.Wrap("expected %s inode, found %s", expected, got)
	}
}

// RootInode validates spec.md §8 property 6: inode 0 is always in use with
// type directory.
func RootInode(r *itable.Record) error {
	if r.State() != itable.InUse {
		return errs.InternalInconsistency.Wrap("root inode is not in use")
	}
	t, ok := itable.TypeFromMode(r.Mode)
	if !ok || t != itable.TypeDirectory {
		return errs.InternalInconsistency.Wrap("root inode is not a directory")
	}
	return nil
}

// ClusterHeader validates that an allocated cluster's header.stat matches
// the inode that supposedly owns it, per spec.md §8 property 4.
func ClusterHeader(h cluster.Header, owner uint32) error {
	if h.Stat != owner {
		return errs.ClusterHeaderInconsistent.Wrap("cluster header stat=%d, expected owner %d", h.Stat, owner)
	}
	return nil
}

// ClusterClean validates that a free cluster's header carries the
// null-inode sentinel, per spec.md §8 property 5.
func ClusterClean(h cluster.Header) error {
	if !h.IsClean() {
		return errs.ClusterHeaderInconsistent.Wrap("expected clean cluster header, found stat=%d", h.Stat)
	}
	return nil
}
