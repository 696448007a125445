// Package layout implements the §4.1 layout calculator: given a device size
// and a requested inode count, derive the inode-table and data-zone block
// counts.
//
// Grounded on the teacher's pkg/ext4/layout.go (calculateMinimumSize,
// setPrecompileConstants) and pkg/ext4/common.go (divide, align) -- the same
// "iterate until the invariant holds exactly" style, reduced to the
// spec's five fixed steps instead of ext4's open-ended flex-group search.
package layout

import (
	"github.com/luminoso/SOFS14/internal/sofs/errs"
)

// Divide performs ceiling integer division, as pkg/ext4/common.go's divide.
func Divide(a, b int64) int64 {
	return (a + b - 1) / b
}

// Layout is the derived block-level geometry of a device.
type Layout struct {
	BlockSize     int64
	ClusterBlocks int64 // K
	TotalBlocks   int64 // N

	ITableStart  int64 // always 1
	ITableBlocks int64
	TotalInodes  int64 // n_inodes

	DZoneStart    int64
	TotalClusters int64 // cluster_total
}

// ClusterSize returns C = B*K.
func (l *Layout) ClusterSize() int64 {
	return l.BlockSize * l.ClusterBlocks
}

// Compute derives the layout for a device of deviceBytes bytes, a desired
// inode count requestedInodes (0 means "pick a default"), block size B and
// cluster size K blocks, following spec.md §4.1 exactly:
//
//  1. N = S/B; fail if S is not a multiple of B.
//  2. if I0 == 0, I0 = N/8.
//  3. itable_blocks = ceil(I0/IPB).
//  4. cluster_total = floor((N - 1 - itable_blocks)/K).
//  5. itable_blocks = N - 1 - cluster_total*K (absorb the remainder);
//     n_inodes = itable_blocks * IPB.
func Compute(deviceBytes, blockSize, clusterBlocks, requestedInodes, inodesPerBlock int64) (*Layout, error) {
	if blockSize <= 0 || clusterBlocks <= 0 || inodesPerBlock <= 0 {
		return nil, errs.InvalidArgument.Wrap("block/cluster/inode-per-block parameters must be positive")
	}
	if deviceBytes%blockSize != 0 {
		return nil, errs.InvalidArgument.Wrap("device size %d is not a multiple of block size %d", deviceBytes, blockSize)
	}

	n := deviceBytes / blockSize

	i0 := requestedInodes
	if i0 == 0 {
		i0 = n / 8
	}
	if i0 <= 0 {
		return nil, errs.InvalidArgument.Wrap("requested inode count resolves to %d, must be positive", i0)
	}

	itableBlocks := Divide(i0, inodesPerBlock)

	minUsable := int64(1) + itableBlocks + clusterBlocks
	if n < minUsable {
		return nil, errs.InvalidArgument.Wrap("device of %d blocks is too small to hold a superblock, %d inode-table blocks and at least one cluster", n, itableBlocks)
	}

	clusterTotal := (n - 1 - itableBlocks) / clusterBlocks

	// Step 5: re-derive itable_blocks to absorb the remainder exactly, so
	// that 1 + itable_blocks + cluster_total*K == N holds with no slack.
	itableBlocks = n - 1 - clusterTotal*clusterBlocks
	if itableBlocks <= 0 {
		return nil, errs.InvalidArgument.Wrap("layout calculation produced a non-positive inode-table block count")
	}
	nInodes := itableBlocks * inodesPerBlock

	l := &Layout{
		BlockSize:     blockSize,
		ClusterBlocks: clusterBlocks,
		TotalBlocks:   n,
		ITableStart:   1,
		ITableBlocks:  itableBlocks,
		TotalInodes:   nInodes,
		DZoneStart:    1 + itableBlocks,
		TotalClusters: clusterTotal,
	}

	if 1+l.ITableBlocks+l.TotalClusters*l.ClusterBlocks != l.TotalBlocks {
		return nil, errs.InternalInconsistency.Wrap("layout invariant violated")
	}

	return l, nil
}
