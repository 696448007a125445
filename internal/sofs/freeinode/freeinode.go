// Package freeinode implements the §4.4 free-inode doubly linked list:
// Allocate hands out the oldest free inode (FIFO, from the list head),
// Free appends a released inode at the tail.
//
// Grounded on itable.Store's WithRecord re-acquire discipline (built for
// exactly this kind of "load the one block that currently matters, mutate
// a record, store it back" sequence) and on the free-list bookkeeping
// pattern spec.md §4.2 assigns to the superblock (head/tail/count kept
// alongside the data the list threads through, the way pkg/ext4/super.go
// keeps bitmap block/cluster accounting next to the records it covers).
package freeinode

import (
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/super"
)

// InodeCleaner dissociates a free-dirty inode's stale cluster references
// before the slot is reused. Implemented by the inode reference tree
// (reftree.Tree.CleanInode) and injected via SetCleaner -- freeinode never
// imports that layer or the free-cluster repository it depends on.
type InodeCleaner interface {
	CleanInode(n uint32) error
}

// Repo is the §4.4 free-inode repository.
type Repo struct {
	itab    *itable.Store
	sb      *super.Store
	cleaner InodeCleaner
	now     func() uint32
}

// NewRepo creates a free-inode repository over the given inode table and
// superblock store. now supplies the current time in whole seconds for
// newly allocated inodes' timestamps.
func NewRepo(itab *itable.Store, sb *super.Store, now func() uint32) *Repo {
	return &Repo{itab: itab, sb: sb, now: now}
}

// SetCleaner installs the free-dirty-inode cleanup callback. Must be
// called before Allocate can service a dirty head.
func (r *Repo) SetCleaner(c InodeCleaner) {
	r.cleaner = c
}

// Allocate pops the inode at the free list's head, cleans it if it was
// left free-dirty, and reinitialises it as an in-use inode of type t owned
// by owner/group. Per spec.md §4.4.
func (r *Repo) Allocate(t itable.Type, owner, group uint32) (uint32, error) {
	sb := r.sb.Get()
	if sb.NInodesFree == 0 {
		return 0, errs.NoSpace
	}

	head := sb.FreeInodeHead
	if head == params.Sentinel {
		return 0, errs.InternalInconsistency.Wrap("free-inode count is positive but list head is sentinel")
	}

	rec, err := r.itab.Peek(head)
	if err != nil {
		return 0, err
	}
	if rec.State() == itable.FreeDirty {
		if r.cleaner == nil {
			return 0, errs.InternalInconsistency.Wrap("inode %d is free-dirty but no cleaner is registered", head)
		}
		if err := r.cleaner.CleanInode(head); err != nil {
			return 0, err
		}
		// CleanInode rewrites head's own reference slots and cluster count
		// (and may load other inode-table blocks), so re-peek to read the
		// record it left behind.
		rec, err = r.itab.Peek(head)
		if err != nil {
			return 0, err
		}
	}
	link := rec.FreeLink()

	// Two independent, non-nested block accesses: the single-slot buffer
	// discipline forbids holding a *Record across a WithRecord call that
	// may load a different block out from under it.
	if link.Next != params.Sentinel {
		if err := r.itab.WithRecord(link.Next, func(next *itable.Record) (bool, error) {
			nl := next.FreeLink()
			nl.Prev = params.Sentinel
			next.SetFreeLink(nl)
			return true, nil
		}); err != nil {
			return 0, err
		}
	}

	if err := r.itab.WithRecord(head, func(rec *itable.Record) (bool, error) {
		rec.InitInUse(t, owner, group, r.now())
		return true, nil
	}); err != nil {
		return 0, err
	}

	sb.FreeInodeHead = link.Next
	if link.Next == params.Sentinel {
		sb.FreeInodeTail = params.Sentinel
	}
	sb.NInodesFree--
	if err := r.sb.Store(); err != nil {
		return 0, err
	}

	return head, nil
}

// Free appends inode n at the free list's tail, marking it free-dirty
// (type bits and references preserved) so a later CleanInode can
// dissociate its clusters lazily. Per spec.md §4.4.
func (r *Repo) Free(n uint32) error {
	if n == 0 {
		return errs.InvalidArgument.Wrap("root inode can never be freed")
	}

	rec, err := r.itab.Peek(n)
	if err != nil {
		return err
	}
	if rec.State() != itable.InUse {
		return errs.InvalidArgument.Wrap("inode %d is not in use", n)
	}

	sb := r.sb.Get()
	oldTail := sb.FreeInodeTail

	if err := r.itab.WithRecord(n, func(rec *itable.Record) (bool, error) {
		rec.MarkFreeDirty(itable.FreeLink{Next: params.Sentinel, Prev: oldTail})
		return true, nil
	}); err != nil {
		return err
	}

	if oldTail != params.Sentinel {
		if err := r.itab.WithRecord(oldTail, func(tailRec *itable.Record) (bool, error) {
			l := tailRec.FreeLink()
			l.Next = n
			tailRec.SetFreeLink(l)
			return true, nil
		}); err != nil {
			return err
		}
	} else {
		sb.FreeInodeHead = n
	}

	sb.FreeInodeTail = n
	sb.NInodesFree++
	return r.sb.Store()
}
