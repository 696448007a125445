// Package reftree implements the §4.6 inode reference tree: the
// direct/single-indirect/double-indirect addressing of an inode's data
// clusters, and the GET/ALLOC/FREE/FREE_CLEAN/CLEAN operations over it.
//
// Grounded on pkg/vdecompiler/fs.go's block-pointer traversal
// (dataFromBlockPointers/scanPointers/loadBlockPointers walk an ext4
// inode's direct, single- and double-indirect extents the same shape this
// spec's inode uses, one level shallower); the index-cluster payload is
// read and written with the same fixed little-endian record convention as
// cluster.Store itself.
package reftree

import (
	"bytes"
	"encoding/binary"

	"github.com/luminoso/SOFS14/internal/sofs/cluster"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/freecluster"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/params"
)

// Tree is the §4.6 inode reference tree, operating over one inode table,
// one cluster store and the free-cluster repository shared with it.
type Tree struct {
	itab     *itable.Store
	clusters *cluster.Store
	free     *freecluster.Repo
}

// New creates a reference tree. The caller is responsible for also calling
// free.SetCleaner(tree) so the free-cluster repository can route dirty
// clusters it pops back here for dissociation.
func New(itab *itable.Store, clusters *cluster.Store, free *freecluster.Repo) *Tree {
	return &Tree{itab: itab, clusters: clusters, free: free}
}

// Clusters returns the underlying cluster store, for callers (inodeops)
// that need to read/write cluster payloads directly once they already
// have a cluster index from GET/ALLOC.
func (t *Tree) Clusters() *cluster.Store {
	return t.clusters
}

// locate classifies a logical cluster index into its addressing level (0 =
// direct, 1 = single-indirect, 2 = double-indirect) and the offset(s)
// within that level.
func locate(j uint32) (level int, a, b uint32) {
	if j < params.NDirect {
		return 0, j, 0
	}
	j -= params.NDirect
	if j < params.RPC {
		return 1, j, 0
	}
	j -= params.RPC
	return 2, j / params.RPC, j % params.RPC
}

func decodeRefs(payload []byte) [params.RPC]uint32 {
	var refs [params.RPC]uint32
	binary.Read(bytes.NewReader(payload), binary.LittleEndian, &refs) //nolint:errcheck -- fixed-size buffer, cannot fail
	return refs
}

func encodeRefs(refs [params.RPC]uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &refs) //nolint:errcheck -- fixed-size buffer, cannot fail
	out := make([]byte, params.ClusterPayloadSize)
	copy(out, buf.Bytes())
	return out
}

func (t *Tree) readIndexEntry(idx uint32, pos uint32) (uint32, error) {
	_, payload, err := t.clusters.ReadPayload(idx)
	if err != nil {
		return 0, err
	}
	refs := decodeRefs(payload)
	return refs[pos], nil
}

func (t *Tree) writeIndexEntry(idx uint32, pos uint32, val uint32) error {
	hdr, payload, err := t.clusters.ReadPayload(idx)
	if err != nil {
		return err
	}
	refs := decodeRefs(payload)
	refs[pos] = val
	return t.clusters.WritePayload(idx, hdr, encodeRefs(refs))
}

// indexClusterEmpty reports whether every entry of index cluster idx is
// the sentinel.
func (t *Tree) indexClusterEmpty(idx uint32) (bool, error) {
	_, payload, err := t.clusters.ReadPayload(idx)
	if err != nil {
		return false, err
	}
	refs := decodeRefs(payload)
	for _, r := range refs {
		if r != params.Sentinel {
			return false, nil
		}
	}
	return true, nil
}

// newIndexCluster allocates and zero-fills a fresh index cluster owned by
// inodeID.
func (t *Tree) newIndexCluster(inodeID uint32) (uint32, error) {
	idx, err := t.free.Allocate(inodeID)
	if err != nil {
		return 0, err
	}
	var refs [params.RPC]uint32
	for i := range refs {
		refs[i] = params.Sentinel
	}
	hdr := cluster.Header{Prev: params.Sentinel, Next: params.Sentinel, Stat: inodeID}
	if err := t.clusters.WritePayload(idx, hdr, encodeRefs(refs)); err != nil {
		return 0, err
	}
	return idx, nil
}

// newDataCluster allocates and zero-fills a fresh data cluster owned by
// inodeID.
func (t *Tree) newDataCluster(inodeID uint32) (uint32, error) {
	id, err := t.free.Allocate(inodeID)
	if err != nil {
		return 0, err
	}
	hdr := cluster.Header{Prev: params.Sentinel, Next: params.Sentinel, Stat: inodeID}
	if err := t.clusters.ZeroPayload(id, hdr); err != nil {
		return 0, err
	}
	return id, nil
}

// GET returns the data cluster referenced at logical index j of inodeID,
// or the sentinel if no cluster is referenced there yet. Per spec.md §4.6.
func (t *Tree) GET(inodeID, j uint32) (uint32, error) {
	if j >= params.MaxFileClusters {
		return 0, errs.InvalidArgument.Wrap("logical cluster index %d exceeds maximum %d", j, params.MaxFileClusters)
	}
	rec, err := t.itab.Peek(inodeID)
	if err != nil {
		return 0, err
	}
	lvl, a, b := locate(j)
	switch lvl {
	case 0:
		return rec.D[a], nil
	case 1:
		if rec.I1 == params.Sentinel {
			return params.Sentinel, nil
		}
		return t.readIndexEntry(rec.I1, a)
	default:
		if rec.I2 == params.Sentinel {
			return params.Sentinel, nil
		}
		outer, err := t.readIndexEntry(rec.I2, a)
		if err != nil {
			return 0, err
		}
		if outer == params.Sentinel {
			return params.Sentinel, nil
		}
		return t.readIndexEntry(outer, b)
	}
}

// setSlot overwrites the slot addressed by j with val, allocating no new
// index clusters -- if an intermediate index cluster does not exist, the
// slot is already implicitly the sentinel and nothing is written.
func (t *Tree) setSlot(inodeID, j, val uint32) error {
	lvl, a, b := locate(j)
	switch lvl {
	case 0:
		return t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
			r.D[a] = val
			return true, nil
		})
	case 1:
		rec, err := t.itab.Peek(inodeID)
		if err != nil {
			return err
		}
		if rec.I1 == params.Sentinel {
			return nil
		}
		return t.writeIndexEntry(rec.I1, a, val)
	default:
		rec, err := t.itab.Peek(inodeID)
		if err != nil {
			return err
		}
		if rec.I2 == params.Sentinel {
			return nil
		}
		outer, err := t.readIndexEntry(rec.I2, a)
		if err != nil {
			return err
		}
		if outer == params.Sentinel {
			return nil
		}
		return t.writeIndexEntry(outer, b, val)
	}
}

// ALLOC assigns a fresh data cluster to logical index j of inodeID,
// allocating any missing index clusters along the way, and bumps the
// inode's cluster count. Per spec.md §4.6.
func (t *Tree) ALLOC(inodeID, j uint32) (uint32, error) {
	if j >= params.MaxFileClusters {
		return 0, errs.InvalidArgument.Wrap("logical cluster index %d exceeds maximum %d", j, params.MaxFileClusters)
	}

	lvl, a, b := locate(j)
	var id uint32
	var err error

	switch lvl {
	case 0:
		id, err = t.newDataCluster(inodeID)
		if err != nil {
			return 0, err
		}
		if err := t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
			r.D[a] = id
			return true, nil
		}); err != nil {
			return 0, err
		}

	case 1:
		rec, err := t.itab.Peek(inodeID)
		if err != nil {
			return 0, err
		}
		i1 := rec.I1
		if i1 == params.Sentinel {
			i1, err = t.newIndexCluster(inodeID)
			if err != nil {
				return 0, err
			}
			if err := t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
				r.I1 = i1
				return true, nil
			}); err != nil {
				return 0, err
			}
		}
		id, err = t.newDataCluster(inodeID)
		if err != nil {
			return 0, err
		}
		if err := t.writeIndexEntry(i1, a, id); err != nil {
			return 0, err
		}

	default:
		rec, err := t.itab.Peek(inodeID)
		if err != nil {
			return 0, err
		}
		i2 := rec.I2
		if i2 == params.Sentinel {
			i2, err = t.newIndexCluster(inodeID)
			if err != nil {
				return 0, err
			}
			if err := t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
				r.I2 = i2
				return true, nil
			}); err != nil {
				return 0, err
			}
		}
		outer, err := t.readIndexEntry(i2, a)
		if err != nil {
			return 0, err
		}
		if outer == params.Sentinel {
			outer, err = t.newIndexCluster(inodeID)
			if err != nil {
				return 0, err
			}
			if err := t.writeIndexEntry(i2, a, outer); err != nil {
				return 0, err
			}
		}
		id, err = t.newDataCluster(inodeID)
		if err != nil {
			return 0, err
		}
		if err := t.writeIndexEntry(outer, b, id); err != nil {
			return 0, err
		}
	}

	if err := t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
		r.ClusterCount++
		return true, nil
	}); err != nil {
		return 0, err
	}

	return id, nil
}

// FREE releases the data cluster referenced at logical index j back to the
// free-cluster repository, decrementing the inode's cluster count, but
// leaves the slot itself untouched (it becomes a dangling, dirty
// reference -- harmless once the cluster count no longer reaches this
// index -- until a later CLEAN dissociates it). Per spec.md §4.6.
func (t *Tree) FREE(inodeID, j uint32) error {
	id, err := t.GET(inodeID, j)
	if err != nil {
		return err
	}
	if id == params.Sentinel {
		return errs.InvalidArgument.Wrap("no cluster referenced at index %d of inode %d", j, inodeID)
	}
	if err := t.free.Free(id); err != nil {
		return err
	}
	return t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
		if r.ClusterCount > 0 {
			r.ClusterCount--
		}
		return true, nil
	})
}

// FreeClean releases the data cluster at logical index j, exactly like
// FREE, and additionally sets the cluster header's stat to the sentinel
// (dissociating it from inodeID) and clears the slot immediately (used when
// truncating a file to a known smaller size, where the caller wants no
// dangling references left behind). Per spec.md §4.6.
func (t *Tree) FreeClean(inodeID, j uint32) error {
	id, err := t.GET(inodeID, j)
	if err != nil {
		return err
	}
	if err := t.FREE(inodeID, j); err != nil {
		return err
	}
	hdr, err := t.clusters.ReadHeader(id)
	if err != nil {
		return err
	}
	hdr.Stat = params.Sentinel
	if err := t.clusters.WriteHeader(id, hdr); err != nil {
		return err
	}
	return t.setSlot(inodeID, j, params.Sentinel)
}

// Clean dissociates logical index j of inodeID from a cluster that has
// already been freed by someone else (its header is dirty, stat still
// naming inodeID) -- it only clears the slot, it never calls Free again.
// When clearing empties an index cluster entirely, that index cluster is
// itself released and its own parent slot cleared, cascading up to one
// level. Per spec.md §4.6.
func (t *Tree) Clean(inodeID, j uint32) error {
	lvl, a, _ := locate(j)
	if err := t.setSlot(inodeID, j, params.Sentinel); err != nil {
		return err
	}

	switch lvl {
	case 1:
		rec, err := t.itab.Peek(inodeID)
		if err != nil {
			return err
		}
		if rec.I1 == params.Sentinel {
			return nil
		}
		empty, err := t.indexClusterEmpty(rec.I1)
		if err != nil {
			return err
		}
		if !empty {
			return nil
		}
		if err := t.free.Free(rec.I1); err != nil {
			return err
		}
		return t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
			r.I1 = params.Sentinel
			return true, nil
		})

	case 2:
		rec, err := t.itab.Peek(inodeID)
		if err != nil {
			return err
		}
		if rec.I2 == params.Sentinel {
			return nil
		}
		outer, err := t.readIndexEntry(rec.I2, a)
		if err != nil {
			return err
		}
		if outer != params.Sentinel {
			empty, err := t.indexClusterEmpty(outer)
			if err != nil {
				return err
			}
			if empty {
				if err := t.free.Free(outer); err != nil {
					return err
				}
				if err := t.writeIndexEntry(rec.I2, a, params.Sentinel); err != nil {
					return err
				}
			}
		}
		emptyOuter, err := t.indexClusterEmpty(rec.I2)
		if err != nil {
			return err
		}
		if !emptyOuter {
			return nil
		}
		if err := t.free.Free(rec.I2); err != nil {
			return err
		}
		return t.itab.WithRecord(inodeID, func(r *itable.Record) (bool, error) {
			r.I2 = params.Sentinel
			return true, nil
		})
	}
	return nil
}

// HandleFileClusters applies op to every logical index in [from, cnt) of
// inodeID, where cnt is the inode's current cluster count at call time --
// used both for truncation (from = new size) and for a full wipe
// (from = 0). Skips indices with no referenced cluster.
func (t *Tree) HandleFileClusters(inodeID, from uint32, op func(tree *Tree, inodeID, j uint32) error) error {
	rec, err := t.itab.Peek(inodeID)
	if err != nil {
		return err
	}
	for j := from; j < rec.ClusterCount; j++ {
		id, err := t.GET(inodeID, j)
		if err != nil {
			return err
		}
		if id == params.Sentinel {
			continue
		}
		if err := op(t, inodeID, j); err != nil {
			return err
		}
	}
	return nil
}

// CleanInode implements freeinode.InodeCleaner: it dissociates every
// remaining slot of an inode about to be reused, on the assumption that
// its data clusters were already released by the higher-level unlink path
// before the inode itself reached the free list (freeinode.Free never
// releases clusters on its own).
func (t *Tree) CleanInode(n uint32) error {
	rec, err := t.itab.Peek(n)
	if err != nil {
		return err
	}
	for j := uint32(0); j < rec.ClusterCount; j++ {
		id, err := t.GET(n, j)
		if err != nil {
			return err
		}
		if id == params.Sentinel {
			continue
		}
		if err := t.Clean(n, j); err != nil {
			return err
		}
	}
	return t.itab.WithRecord(n, func(r *itable.Record) (bool, error) {
		r.ClusterCount = 0
		return true, nil
	})
}

// CleanDanglingCluster implements freecluster.DirtyCleaner: it scans
// ownerInode's currently referenced slots for clusterID and dissociates
// whichever one still names it.
func (t *Tree) CleanDanglingCluster(ownerInode, clusterID uint32) error {
	rec, err := t.itab.Peek(ownerInode)
	if err != nil {
		return err
	}
	for j := uint32(0); j < rec.ClusterCount; j++ {
		id, err := t.GET(ownerInode, j)
		if err != nil {
			return err
		}
		if id != clusterID {
			continue
		}
		if err := t.Clean(ownerInode, j); err != nil {
			return err
		}
		return t.itab.WithRecord(ownerInode, func(r *itable.Record) (bool, error) {
			if r.ClusterCount > 0 {
				r.ClusterCount--
			}
			return true, nil
		})
	}
	return nil
}
