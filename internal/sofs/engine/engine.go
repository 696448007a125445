// Package engine wires together the full SOFS14 metadata engine -- every
// layer from the superblock store up to the directory layer -- over one
// open block device. It is the single place the two dirty-cleanup
// callback cycles (freecluster.DirtyCleaner and freeinode.InodeCleaner,
// both implemented by the reference tree) are actually tied together,
// since neither package may import the other directly.
//
// Grounded on pkg/vdecompiler/io.go's Open (load the superblock, validate
// it, hand back one handle exposing every read/write surface) -- the
// composition root a CLI or FUSE bridge opens a device through.
package engine

import (
	"time"

	"github.com/luminoso/SOFS14/internal/sofs/blockdev"
	"github.com/luminoso/SOFS14/internal/sofs/check"
	"github.com/luminoso/SOFS14/internal/sofs/cluster"
	"github.com/luminoso/SOFS14/internal/sofs/dir"
	"github.com/luminoso/SOFS14/internal/sofs/freecluster"
	"github.com/luminoso/SOFS14/internal/sofs/freeinode"
	"github.com/luminoso/SOFS14/internal/sofs/inodeops"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/reftree"
	"github.com/luminoso/SOFS14/internal/sofs/super"
)

// Engine is a fully wired, open SOFS14 volume.
type Engine struct {
	Dev       blockdev.Device
	Super     *super.Store
	Inodes    *itable.Store
	Clusters  *cluster.Store
	FreeInode *freeinode.Repo
	FreeData  *freecluster.Repo
	Tree      *reftree.Tree
	Ops       *inodeops.Ops
	Dir       *dir.Dir
}

// Now returns the current time in whole seconds -- the single clock every
// layer stamps into timestamps, overridable by tests.
var Now = func() uint32 {
	return uint32(time.Now().Unix())
}

// Open loads and validates the superblock of dev and wires every layer on
// top of it. Per spec.md §4.2/§7: a device whose magic is still the
// format sentinel is refused.
func Open(dev blockdev.Device) (*Engine, error) {
	sb := super.NewStore(dev)
	if err := sb.Load(); err != nil {
		return nil, err
	}
	if err := check.Superblock(sb.Get()); err != nil {
		return nil, err
	}

	l := sb.Get()
	itab := itable.NewStore(dev, int64(l.ITableStart), int64(l.ITableBlockCount), l.NInodesTotal)
	clusters := cluster.NewStore(dev, int64(l.DZoneStart))

	free := freecluster.NewRepo(clusters, sb, itab)
	inode := freeinode.NewRepo(itab, sb, Now)
	tree := reftree.New(itab, clusters, free)

	free.SetCleaner(tree)
	inode.SetCleaner(tree)

	ops := inodeops.New(itab, tree, Now)
	directory := dir.New(itab, tree, ops, inode)

	return &Engine{
		Dev:       dev,
		Super:     sb,
		Inodes:    itab,
		Clusters:  clusters,
		FreeInode: inode,
		FreeData:  free,
		Tree:      tree,
		Ops:       ops,
		Dir:       directory,
	}, nil
}

// Close flushes the superblock with an unmounted-clean status and closes
// the underlying device.
func (e *Engine) Close() error {
	e.Super.Get().MountStatus = super.StatusUnmountedClean
	if err := e.Super.Store(); err != nil {
		return err
	}
	return e.Dev.Close()
}

// MarkMounted flags the superblock as actively mounted -- callers (a FUSE
// bridge) should call this right after Open and rely on Close to clear it.
func (e *Engine) MarkMounted() error {
	e.Super.Get().MountStatus = super.StatusMounted
	return e.Super.Store()
}
