// Package format implements the §4.9 formatter: lay out the superblock,
// inode table and data zone on a freshly created device, zero-fill every
// block, chain the free-inode and free-cluster lists, and hand the root
// directory its first cluster.
//
// Grounded on pkg/ext4/compiler.go's commit sequencing (compute layout,
// then write metadata structures in a fixed order, superblock last) --
// this formatter has no file tree to ingest, so it keeps only that
// ordering discipline and the progress-reporting convention
// (CompilerArgs.Logger / elog.Progress), not the compiler's planner/data
// machinery.
package format

import (
	"bytes"
	"encoding/binary"

	"github.com/luminoso/SOFS14/internal/sofs/blockdev"
	"github.com/luminoso/SOFS14/internal/sofs/cluster"
	"github.com/luminoso/SOFS14/internal/sofs/elog"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/layout"
	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/super"
)

// Options configures a format run.
type Options struct {
	Name            string
	RequestedInodes int64
	Now             func() uint32
}

// Run formats dev, which must already be sized to its final block count.
// Per spec.md §4.9.
func Run(dev blockdev.Device, opts Options, view elog.View) error {
	totalBlocks, err := deviceBlocks(dev)
	if err != nil {
		return err
	}

	l, err := layout.Compute(totalBlocks*int64(dev.BlockSize()), int64(dev.BlockSize()), params.ClusterBlocks, opts.RequestedInodes, params.IPB)
	if err != nil {
		return err
	}
	view.Infof("layout: %d blocks, %d inode-table blocks (%d inodes), %d data clusters",
		l.TotalBlocks, l.ITableBlocks, l.TotalInodes, l.TotalClusters)

	sb := super.NewStore(dev)
	// An initial superblock write with the sentinel magic marks the device
	// as not yet mountable for the duration of the format, per spec.md §7.
	*sb.Get() = super.Superblock{Magic: super.SentinelMagic}
	if err := sb.Store(); err != nil {
		return err
	}

	progress := view.NewProgress("formatting", l.ITableBlocks+l.TotalClusters*l.ClusterBlocks)

	if err := zeroITable(dev, l, progress); err != nil {
		return err
	}
	if err := zeroDataZone(dev, l, progress); err != nil {
		return err
	}

	itab := itable.NewStore(dev, l.ITableStart, l.ITableBlocks, uint32(l.TotalInodes))
	if err := initInodeTable(itab, uint32(l.TotalInodes), opts.Now); err != nil {
		progress.Finish(false)
		return err
	}

	clusters := cluster.NewStore(dev, l.DZoneStart)
	if err := initDataZone(clusters, uint32(l.TotalClusters)); err != nil {
		progress.Finish(false)
		return err
	}

	if err := initRootDirectory(itab, clusters, opts.Now); err != nil {
		progress.Finish(false)
		return err
	}

	progress.Finish(true)

	final := sb.Get()
	final.SetName(opts.Name)
	final.MountStatus = super.StatusUnmountedClean
	final.NTotalBlocks = uint32(l.TotalBlocks)
	final.ITableStart = uint32(l.ITableStart)
	final.ITableBlockCount = uint32(l.ITableBlocks)
	final.NInodesTotal = uint32(l.TotalInodes)
	final.DZoneStart = uint32(l.DZoneStart)
	final.NClustersTotal = uint32(l.TotalClusters)

	if l.TotalInodes > 1 {
		final.NInodesFree = uint32(l.TotalInodes) - 1
		final.FreeInodeHead = 1
		final.FreeInodeTail = uint32(l.TotalInodes) - 1
	} else {
		final.NInodesFree = 0
		final.FreeInodeHead = params.Sentinel
		final.FreeInodeTail = params.Sentinel
	}

	if l.TotalClusters > 1 {
		final.NClustersFree = uint32(l.TotalClusters) - 1
		final.FreeClusterHead = 1
		final.FreeClusterTail = uint32(l.TotalClusters) - 1
	} else {
		final.NClustersFree = 0
		final.FreeClusterHead = params.Sentinel
		final.FreeClusterTail = params.Sentinel
	}

	for i := range final.RetrieveCache {
		final.RetrieveCache[i] = params.Sentinel
	}
	final.RetrieveIdx = params.CacheCapacity
	for i := range final.InsertCache {
		final.InsertCache[i] = params.Sentinel
	}
	final.InsertIdx = 0

	final.Magic = super.FinalMagic
	final.Version = super.CurrentVersion

	view.Infof("format complete: %d inodes, %d clusters", l.TotalInodes, l.TotalClusters)
	return sb.Store()
}

func deviceBlocks(dev blockdev.Device) (int64, error) {
	if td, ok := dev.(interface{ TotalBlocks() int64 }); ok {
		return td.TotalBlocks(), nil
	}
	return 0, errs.DeviceNotOpen.Wrap("device does not report its total block count")
}

func zeroITable(dev blockdev.Device, l *layout.Layout, progress elog.Progress) error {
	zero := make([]byte, dev.BlockSize())
	for b := l.ITableStart; b < l.ITableStart+l.ITableBlocks; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return err
		}
		progress.Increment(1)
	}
	return nil
}

func zeroDataZone(dev blockdev.Device, l *layout.Layout, progress elog.Progress) error {
	zero := make([]byte, dev.BlockSize())
	total := l.DZoneStart + l.TotalClusters*l.ClusterBlocks
	for b := l.DZoneStart; b < total; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return err
		}
		progress.Increment(1)
	}
	return nil
}

// initInodeTable writes inode 0 as a placeholder in-use root (the caller
// finishes it via initRootDirectory) and chains every other inode into the
// free-clean list, 1 through n-1.
func initInodeTable(itab *itable.Store, n uint32, now func() uint32) error {
	if n == 0 {
		return errs.InternalInconsistency.Wrap("inode table has zero capacity")
	}

	if err := itab.WithRecord(0, func(r *itable.Record) (bool, error) {
		r.InitInUse(itable.TypeDirectory, 0, 0, now())
		return true, nil
	}); err != nil {
		return err
	}

	for i := uint32(1); i < n; i++ {
		link := itable.FreeLink{
			Next: i + 1,
			Prev: i - 1,
		}
		if i == n-1 {
			link.Next = params.Sentinel
		}
		if i == 1 {
			link.Prev = params.Sentinel
		}
		if err := itab.WithRecord(i, func(r *itable.Record) (bool, error) {
			r.ResetFreeClean(link)
			return true, nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// initDataZone chains every cluster but 0 into the free list, 1 through
// total-1; cluster 0 is left owned by the root directory.
func initDataZone(clusters *cluster.Store, total uint32) error {
	if total == 0 {
		return errs.InternalInconsistency.Wrap("data zone has zero capacity")
	}

	if err := clusters.ZeroPayload(0, cluster.Header{Prev: params.Sentinel, Next: params.Sentinel, Stat: params.RootInode}); err != nil {
		return err
	}

	for i := uint32(1); i < total; i++ {
		hdr := cluster.Header{Stat: params.Sentinel, Next: i + 1, Prev: i - 1}
		if i == total-1 {
			hdr.Next = params.Sentinel
		}
		if i == 1 {
			hdr.Prev = params.Sentinel
		}
		if err := clusters.ZeroPayload(i, hdr); err != nil {
			return err
		}
	}
	return nil
}

// dirEntry mirrors the fixed on-disk layout dir.Dir uses for directory
// entries -- duplicated here (rather than imported) so the formatter does
// not need to depend on the directory layer just to bootstrap the root's
// first two entries.
type dirEntry struct {
	Name  [params.NameFieldSize]byte
	Inode uint32
}

// initRootDirectory writes "." and ".." into cluster 0 and finishes inode
// 0's bookkeeping to match.
func initRootDirectory(itab *itable.Store, clusters *cluster.Store, now func() uint32) error {
	var dot, dotdot dirEntry
	copy(dot.Name[:], ".")
	dot.Inode = params.RootInode
	copy(dotdot.Name[:], "..")
	dotdot.Inode = params.RootInode

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &dot)    //nolint:errcheck -- fixed-size buffer
	binary.Write(buf, binary.LittleEndian, &dotdot) //nolint:errcheck -- fixed-size buffer
	free := dirEntry{Inode: params.Sentinel}
	for buf.Len()+params.DirEntrySize <= params.ClusterPayloadSize {
		binary.Write(buf, binary.LittleEndian, &free) //nolint:errcheck -- fixed-size buffer
	}
	payload := make([]byte, params.ClusterPayloadSize)
	copy(payload, buf.Bytes())

	hdr := cluster.Header{Prev: params.Sentinel, Next: params.Sentinel, Stat: params.RootInode}
	if err := clusters.WritePayload(params.RootCluster, hdr, payload); err != nil {
		return err
	}

	return itab.WithRecord(params.RootInode, func(r *itable.Record) (bool, error) {
		r.D[0] = params.RootCluster
		r.ClusterCount = 1
		r.SizeBytes = 2 * params.DirEntrySize
		r.Refcount = 2 // "." plus the entry in its own (absent) parent
		t := r.Times()
		t.Atime, t.Mtime = now(), now()
		r.SetTimes(t)
		return true, nil
	})
}
