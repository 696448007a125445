// Package freecluster implements the §4.5 free-cluster repository: the
// hardest subsystem in the engine. Free clusters live in three places at
// once -- a retrieve cache and an insert cache inside the superblock, and
// an on-disk doubly linked list threaded through the clusters themselves
// -- and the invariant is that their combined occupancy always equals the
// superblock's free-cluster count.
//
// There is no single teacher file this is grounded on -- the teacher's own
// ext4 package allocates space with a block-usage bitmap
// (pkg/ext4/super.go's fillBlockUsageBitmap), not a linked free list with
// caches, because real ext4 never needs this spec's three-location design.
// What is reused from the teacher is the binary-record and buffer-store
// discipline (cluster.Store, built the way pkg/ext4/super.go's
// writeSuperblock/writeBGDT read and rewrite fixed records), applied here
// to a data structure spec.md itself specifies in full (§4.5.1-§4.5.4).
package freecluster

import (
	"github.com/luminoso/SOFS14/internal/sofs/cluster"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/super"
)

// DirtyCleaner dissociates a cluster from a prior owner that still
// references it after the cluster was released dirty (header.stat left
// pointing at the old owner). Implemented by the inode reference tree
// layer and injected via SetCleaner -- freecluster never imports that
// layer, breaking what would otherwise be an import cycle (reftree needs
// to call Allocate/Free on this package).
type DirtyCleaner interface {
	// CleanDanglingCluster finds clusterID among ownerInode's references
	// (direct, single- or double-indirect slots) and dissociates it --
	// overwriting the referencing slot with the sentinel -- without
	// touching the free-cluster repository itself.
	CleanDanglingCluster(ownerInode, clusterID uint32) error
}

// Repo is the §4.5 free-cluster repository.
type Repo struct {
	clusters *cluster.Store
	sb       *super.Store
	itab     *itable.Store
	cleaner  DirtyCleaner
}

// NewRepo creates a free-cluster repository over the given cluster store,
// superblock store (which holds the two caches and list endpoints) and
// inode table (used to verify an allocating inode is in-use).
func NewRepo(clusters *cluster.Store, sb *super.Store, itab *itable.Store) *Repo {
	return &Repo{clusters: clusters, sb: sb, itab: itab}
}

// SetCleaner installs the dirty-cluster dissociation callback. Must be
// called before Allocate can service a dirty cluster.
func (r *Repo) SetCleaner(c DirtyCleaner) {
	r.cleaner = c
}

// Allocate pops a free cluster and assigns it to inodeID, per §4.5.1.
func (r *Repo) Allocate(inodeID uint32) (uint32, error) {
	if inodeID == 0 || inodeID >= r.itab.NInodes() {
		return 0, errs.InvalidArgument.Wrap("inode id %d out of range for cluster allocation", inodeID)
	}

	sb := r.sb.Get()
	if sb.NClustersFree == 0 {
		return 0, errs.NoSpace
	}

	owner, err := r.itab.Peek(inodeID)
	if err != nil {
		return 0, err
	}
	if owner.State() != itable.InUse {
		return 0, errs.InvalidArgument.Wrap("inode %d is not in use", inodeID)
	}

	if sb.RetrieveIdx >= params.CacheCapacity {
		if err := r.replenish(); err != nil {
			return 0, err
		}
		sb = r.sb.Get()
	}

	slot := sb.RetrieveIdx
	clusterID := sb.RetrieveCache[slot]
	sb.RetrieveCache[slot] = params.Sentinel
	sb.RetrieveIdx++
	sb.NClustersFree--
	if err := r.sb.Store(); err != nil {
		return 0, err
	}

	hdr, err := r.clusters.ReadHeader(clusterID)
	if err != nil {
		return 0, err
	}

	if !hdr.IsClean() {
		if r.cleaner == nil {
			return 0, errs.InternalInconsistency.Wrap("popped dirty cluster %d but no dirty-cluster cleaner is registered", clusterID)
		}
		if err := r.cleaner.CleanDanglingCluster(hdr.Stat, clusterID); err != nil {
			return 0, err
		}
	}

	hdr = cluster.Header{Prev: params.Sentinel, Next: params.Sentinel, Stat: inodeID}
	if err := r.clusters.WriteHeader(clusterID, hdr); err != nil {
		return 0, err
	}

	return clusterID, nil
}

// Free releases clusterID back to the repository, per §4.5.2. The cluster
// becomes dirty (header.stat left pointing at its former owner) until a
// later CLEAN dissociates it.
func (r *Repo) Free(clusterID uint32) error {
	sb := r.sb.Get()
	if clusterID == 0 || clusterID >= sb.NClustersTotal {
		return errs.InvalidArgument.Wrap("cluster id %d out of range", clusterID)
	}

	hdr, err := r.clusters.ReadHeader(clusterID)
	if err != nil {
		return err
	}
	if hdr.IsClean() {
		return errs.InvalidArgument.Wrap("cluster %d is not currently allocated", clusterID)
	}

	hdr.Prev = params.Sentinel
	hdr.Next = params.Sentinel
	if err := r.clusters.WriteHeader(clusterID, hdr); err != nil {
		return err
	}

	if sb.InsertIdx >= params.CacheCapacity {
		if err := r.deplete(); err != nil {
			return err
		}
		sb = r.sb.Get()
	}

	sb.InsertCache[sb.InsertIdx] = clusterID
	sb.InsertIdx++
	sb.NClustersFree++
	return r.sb.Store()
}

// replenish drains the on-disk free list into the retrieve cache, per
// §4.5.3, depleting the insert cache first if the on-disk list runs dry.
func (r *Repo) replenish() error {
	sb := r.sb.Get()

	need := sb.NClustersFree
	if need > params.CacheCapacity {
		need = params.CacheCapacity
	}

	slot := params.CacheCapacity - need
	cur := sb.FreeClusterHead
	var count uint32

	for count < need {
		if cur == params.Sentinel {
			if err := r.deplete(); err != nil {
				return err
			}
			sb = r.sb.Get()
			cur = sb.FreeClusterHead
			if cur == params.Sentinel {
				break // invariant guard: should be unreachable
			}
			continue
		}

		hdr, err := r.clusters.ReadHeader(cur)
		if err != nil {
			return err
		}
		next := hdr.Next

		sb.RetrieveCache[slot+count] = cur

		hdr.Prev = params.Sentinel
		hdr.Next = params.Sentinel
		if err := r.clusters.WriteHeader(cur, hdr); err != nil {
			return err
		}

		count++
		cur = next
	}

	sb.FreeClusterHead = cur
	if cur != params.Sentinel {
		h, err := r.clusters.ReadHeader(cur)
		if err != nil {
			return err
		}
		h.Prev = params.Sentinel
		if err := r.clusters.WriteHeader(cur, h); err != nil {
			return err
		}
	} else {
		sb.FreeClusterTail = params.Sentinel
	}

	sb.RetrieveIdx = params.CacheCapacity - need
	return r.sb.Store()
}

// deplete drains the insert cache into the on-disk free list, per §4.5.4.
func (r *Repo) deplete() error {
	sb := r.sb.Get()
	n := sb.InsertIdx
	if n == 0 {
		return nil
	}

	oldTail := sb.FreeClusterTail
	if oldTail != params.Sentinel {
		hdr, err := r.clusters.ReadHeader(oldTail)
		if err != nil {
			return err
		}
		hdr.Next = sb.InsertCache[0]
		if err := r.clusters.WriteHeader(oldTail, hdr); err != nil {
			return err
		}
	}

	for k := uint32(0); k < n; k++ {
		id := sb.InsertCache[k]
		hdr, err := r.clusters.ReadHeader(id)
		if err != nil {
			return err
		}
		if k == 0 {
			hdr.Prev = oldTail
		} else {
			hdr.Prev = sb.InsertCache[k-1]
		}
		if k == n-1 {
			hdr.Next = params.Sentinel
		} else {
			hdr.Next = sb.InsertCache[k+1]
		}
		if err := r.clusters.WriteHeader(id, hdr); err != nil {
			return err
		}
	}

	sb.FreeClusterTail = sb.InsertCache[n-1]
	if sb.FreeClusterHead == params.Sentinel {
		sb.FreeClusterHead = sb.InsertCache[0]
	}

	for i := range sb.InsertCache {
		sb.InsertCache[i] = params.Sentinel
	}
	sb.InsertIdx = 0

	return r.sb.Store()
}

// Occupancy returns the current retrieve-cache and insert-cache
// occupancy, for tests asserting spec.md §8 property 3.
func (r *Repo) Occupancy() (retrieve, insert uint32) {
	sb := r.sb.Get()
	return params.CacheCapacity - sb.RetrieveIdx, sb.InsertIdx
}
