// Package params fixes the concrete record sizes SPEC_FULL.md §3 chooses
// for this implementation, the way pkg/ext4/super.go fixes BlockSize,
// InodesPerBlock and DescriptorsPerBlock as package constants.
package params

const (
	// BlockSize is B, the smallest unit of device I/O, in bytes.
	BlockSize = 512

	// ClusterBlocks is K, the number of blocks per data cluster.
	ClusterBlocks = 4

	// ClusterSize is C = B*K, in bytes.
	ClusterSize = BlockSize * ClusterBlocks

	// ClusterHeaderSize is the three uint32 header slots {prev, next, stat}.
	ClusterHeaderSize = 12

	// ClusterPayloadSize is the usable bytes of a cluster after its header.
	ClusterPayloadSize = ClusterSize - ClusterHeaderSize

	// InodeSize is the fixed on-disk size of one inode record, in bytes.
	InodeSize = 64

	// IPB is inodes per block.
	IPB = BlockSize / InodeSize

	// NDirect is the number of direct cluster-reference slots per inode.
	NDirect = 4

	// RefSize is the size of one cluster reference (a logical cluster
	// index) as stored in an index cluster or inode slot.
	RefSize = 4

	// RPC is references per cluster -- the fanout of an index cluster.
	RPC = ClusterPayloadSize / RefSize

	// MaxName is the maximum directory-entry name length in bytes,
	// excluding the null terminator.
	MaxName = 59

	// NameFieldSize is the directory entry's fixed name field width
	// (MaxName plus a null terminator byte).
	NameFieldSize = MaxName + 1

	// DirEntrySize is the fixed on-disk size of one directory entry.
	DirEntrySize = NameFieldSize + RefSize

	// DPC is directory entries per cluster.
	DPC = ClusterPayloadSize / DirEntrySize

	// MaxFileClusters is the number of logical cluster indices an inode can
	// address (valid indices are 0..MaxFileClusters-1): direct slots, one
	// level of single-indirect, one level of double-indirect.
	MaxFileClusters = NDirect + RPC + RPC*RPC

	// RootInode is inode 0, the permanently in-use root directory.
	RootInode = 0

	// RootCluster is logical data-zone cluster 0, permanently allocated
	// to the root directory and never freed.
	RootCluster = 0

	// CacheCapacity (DZ) is the fixed capacity of the superblock's
	// retrieve and insert free-cluster caches (§4.5).
	CacheCapacity = 16
)

// Sentinel marks an absent inode index, an absent cluster index, or (in a
// cluster header's stat field) "this cluster is clean and unowned". Chosen
// as max-uint32 so it can never collide with a real 0-based index.
const Sentinel uint32 = 0xFFFFFFFF
