// Package dir implements the §4.8 directory layer: fixed-size directory
// entries packed into an inode's data clusters exactly like any other
// file's bytes, looked up linearly.
//
// Grounded on pkg/ext4/dir.go's dentry record and its "." / ".." synthesis
// when a directory inode is first created (writeDentry, the FTYPE-tagged
// fixed entry) -- this spec carries no FTYPE byte (the owning inode
// already records its own type) and no htree/hashed index, so only the
// flat linear-scan shape of the teacher's directory format is kept.
package dir

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/freeinode"
	"github.com/luminoso/SOFS14/internal/sofs/inodeops"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/reftree"
)

// entry is the fixed 64-byte on-disk directory entry: a null-terminated
// name field followed by the inode it names. An unused slot carries the
// sentinel in place of an inode number.
type entry struct {
	Name  [params.NameFieldSize]byte
	Inode uint32
}

func (e entry) name() string {
	i := bytes.IndexByte(e.Name[:], 0)
	if i < 0 {
		i = len(e.Name)
	}
	return string(e.Name[:i])
}

func makeEntry(name string, inode uint32) entry {
	var e entry
	copy(e.Name[:], name)
	e.Inode = inode
	return e
}

func freeEntry() entry {
	return entry{Inode: params.Sentinel}
}

// Dir is the §4.8 directory layer, composed over the inode table, the
// reference tree (for growing a directory's own clusters) and the
// higher-level inode/free-inode operations an unlink needs once a name's
// last link is gone.
type Dir struct {
	itab  *itable.Store
	tree  *reftree.Tree
	ops   *inodeops.Ops
	inode *freeinode.Repo
}

// New creates a directory layer.
func New(itab *itable.Store, tree *reftree.Tree, ops *inodeops.Ops, inode *freeinode.Repo) *Dir {
	return &Dir{itab: itab, tree: tree, ops: ops, inode: inode}
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." {
		return errs.InvalidArgument.Wrap("illegal entry name %q", name)
	}
	if strings.ContainsRune(name, '/') {
		return errs.InvalidArgument.Wrap("entry name %q contains a path separator", name)
	}
	if len(name) > params.MaxName {
		return errs.NameTooLong.Wrap("entry name %q exceeds %d bytes", name, params.MaxName)
	}
	return nil
}

// forEachEntry visits every slot of dirInode's data, in cluster/offset
// order, until visit returns true (stop) or an error.
func (d *Dir) forEachEntry(dirInode uint32, visit func(j, slot uint32, e entry) (stop bool, err error)) error {
	rec, err := d.ops.ReadInode(dirInode)
	if err != nil {
		return err
	}
	for j := uint32(0); j < rec.ClusterCount; j++ {
		id, err := d.tree.GET(dirInode, j)
		if err != nil {
			return err
		}
		if id == params.Sentinel {
			continue
		}
		_, payload, err := d.tree.Clusters().ReadPayload(id)
		if err != nil {
			return err
		}
		entries := decodeEntries(payload)
		for slot, e := range entries {
			stop, err := visit(j, uint32(slot), e)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
	return nil
}

func decodeEntries(payload []byte) [params.DPC]entry {
	var entries [params.DPC]entry
	r := bytes.NewReader(payload)
	for i := range entries {
		binary.Read(r, binary.LittleEndian, &entries[i]) //nolint:errcheck -- fixed-size buffer
	}
	return entries
}

func encodeEntries(entries [params.DPC]entry) []byte {
	buf := new(bytes.Buffer)
	for _, e := range entries {
		binary.Write(buf, binary.LittleEndian, &e) //nolint:errcheck -- fixed-size buffer
	}
	out := make([]byte, params.ClusterPayloadSize)
	copy(out, buf.Bytes())
	return out
}

// writeSlot rewrites a single directory-entry slot in place.
func (d *Dir) writeSlot(dirInode, j, slot uint32, e entry) error {
	id, err := d.tree.GET(dirInode, j)
	if err != nil {
		return err
	}
	hdr, payload, err := d.tree.Clusters().ReadPayload(id)
	if err != nil {
		return err
	}
	entries := decodeEntries(payload)
	entries[slot] = e
	return d.tree.Clusters().WritePayload(id, hdr, encodeEntries(entries))
}

// InitEmpty writes the "." and ".." entries into a freshly allocated
// directory inode, growing its first cluster. Called right after the
// inode itself is allocated as a directory.
func (d *Dir) InitEmpty(dirInode, parentInode uint32) error {
	id, err := d.tree.ALLOC(dirInode, 0)
	if err != nil {
		return err
	}
	var entries [params.DPC]entry
	entries[0] = makeEntry(".", dirInode)
	entries[1] = makeEntry("..", parentInode)
	for i := 2; i < params.DPC; i++ {
		entries[i] = freeEntry()
	}
	hdr, _, err := d.tree.Clusters().ReadPayload(id)
	if err != nil {
		return err
	}
	if err := d.tree.Clusters().WritePayload(id, hdr, encodeEntries(entries)); err != nil {
		return err
	}
	return d.itab.WithRecord(dirInode, func(r *itable.Record) (bool, error) {
		r.SizeBytes = 2 * params.DirEntrySize
		return true, nil
	})
}

// LookupByName scans dirInode for name, returning the inode it names. Per
// spec.md §4.8.
func (d *Dir) LookupByName(dirInode uint32, name string) (uint32, error) {
	rec, err := d.ops.ReadInode(dirInode)
	if err != nil {
		return 0, err
	}
	t, _ := itable.TypeFromMode(rec.Mode)
	if t != itable.TypeDirectory {
		return 0, errs.NotADirectory.Wrap("inode %d is not a directory", dirInode)
	}

	var found uint32 = params.Sentinel
	err = d.forEachEntry(dirInode, func(j, slot uint32, e entry) (bool, error) {
		if e.Inode != params.Sentinel && e.name() == name {
			found = e.Inode
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if found == params.Sentinel {
		return 0, errs.NoEntry.Wrap("%q not found", name)
	}
	return found, nil
}

// AddOrAttach links name to targetInode inside dirInode, bumping
// targetInode's reference count. Fails with Exists if name is already
// taken. Per spec.md §4.8.
func (d *Dir) AddOrAttach(dirInode uint32, name string, targetInode uint32) error {
	if err := validName(name); err != nil {
		return err
	}
	rec, err := d.ops.ReadInode(dirInode)
	if err != nil {
		return err
	}
	t, _ := itable.TypeFromMode(rec.Mode)
	if t != itable.TypeDirectory {
		return errs.NotADirectory.Wrap("inode %d is not a directory", dirInode)
	}

	if _, err := d.LookupByName(dirInode, name); err == nil {
		return errs.Exists.Wrap("%q already exists", name)
	} else if s, ok := asStatus(err); !ok || s != errs.NoEntry {
		return err
	}

	placed := false
	var placeJ, placeSlot uint32
	if err := d.forEachEntry(dirInode, func(j, slot uint32, e entry) (bool, error) {
		if e.Inode == params.Sentinel {
			placeJ, placeSlot = j, slot
			placed = true
			return true, nil
		}
		return false, nil
	}); err != nil {
		return err
	}

	if !placed {
		j := rec.ClusterCount
		id, err := d.tree.ALLOC(dirInode, j)
		if err != nil {
			return err
		}
		var entries [params.DPC]entry
		for i := range entries {
			entries[i] = freeEntry()
		}
		hdr, _, err := d.tree.Clusters().ReadPayload(id)
		if err != nil {
			return err
		}
		if err := d.tree.Clusters().WritePayload(id, hdr, encodeEntries(entries)); err != nil {
			return err
		}
		placeJ, placeSlot = j, 0
	}

	if err := d.writeSlot(dirInode, placeJ, placeSlot, makeEntry(name, targetInode)); err != nil {
		return err
	}

	if err := d.itab.WithRecord(dirInode, func(r *itable.Record) (bool, error) {
		r.SizeBytes += params.DirEntrySize
		return true, nil
	}); err != nil {
		return err
	}

	return d.itab.WithRecord(targetInode, func(r *itable.Record) (bool, error) {
		r.Refcount++
		return true, nil
	})
}

// RemoveOrDetach unlinks name from dirInode. If the target's reference
// count drops to zero, its data clusters are released and the inode
// itself returned to the free-inode list. Per spec.md §4.8.
func (d *Dir) RemoveOrDetach(dirInode uint32, name string) error {
	if err := validName(name); err != nil {
		return err
	}

	var foundJ, foundSlot uint32
	var target uint32 = params.Sentinel
	if err := d.forEachEntry(dirInode, func(j, slot uint32, e entry) (bool, error) {
		if e.Inode != params.Sentinel && e.name() == name {
			foundJ, foundSlot, target = j, slot, e.Inode
			return true, nil
		}
		return false, nil
	}); err != nil {
		return err
	}
	if target == params.Sentinel {
		return errs.NoEntry.Wrap("%q not found", name)
	}

	rec, err := d.ops.ReadInode(target)
	if err != nil {
		return err
	}
	if t, _ := itable.TypeFromMode(rec.Mode); t == itable.TypeDirectory {
		empty, err := d.isEmpty(target)
		if err != nil {
			return err
		}
		if !empty {
			return errs.NotEmpty.Wrap("directory %d is not empty", target)
		}
	}

	if err := d.writeSlot(dirInode, foundJ, foundSlot, freeEntry()); err != nil {
		return err
	}
	if err := d.itab.WithRecord(dirInode, func(r *itable.Record) (bool, error) {
		if r.SizeBytes >= params.DirEntrySize {
			r.SizeBytes -= params.DirEntrySize
		}
		return true, nil
	}); err != nil {
		return err
	}

	var refcountAfter uint32
	if err := d.itab.WithRecord(target, func(r *itable.Record) (bool, error) {
		if r.Refcount > 0 {
			r.Refcount--
		}
		refcountAfter = r.Refcount
		return true, nil
	}); err != nil {
		return err
	}

	if refcountAfter > 0 {
		return nil
	}

	if err := d.ops.CleanInode(target); err != nil {
		return err
	}
	return d.inode.Free(target)
}

// isEmpty reports whether dirInode's only entries are "." and "..".
func (d *Dir) isEmpty(dirInode uint32) (bool, error) {
	count := 0
	err := d.forEachEntry(dirInode, func(j, slot uint32, e entry) (bool, error) {
		if e.Inode != params.Sentinel {
			count++
		}
		return false, nil
	})
	if err != nil {
		return false, err
	}
	return count <= 2, nil
}

// Rename moves name from oldDirInode to newName under newDirInode without
// touching the target's reference count. Fails with Exists if newName is
// already taken in the destination. Per spec.md §4.8.
func (d *Dir) Rename(oldDirInode uint32, oldName string, newDirInode uint32, newName string) error {
	if err := validName(oldName); err != nil {
		return err
	}
	if err := validName(newName); err != nil {
		return err
	}

	target, err := d.LookupByName(oldDirInode, oldName)
	if err != nil {
		return err
	}
	if _, err := d.LookupByName(newDirInode, newName); err == nil {
		return errs.Exists.Wrap("%q already exists in destination", newName)
	} else if s, ok := asStatus(err); !ok || s != errs.NoEntry {
		return err
	}

	if err := d.AddOrAttach(newDirInode, newName, target); err != nil {
		return err
	}
	// AddOrAttach bumped the refcount; undo that since this is a move, not
	// a new link.
	if err := d.itab.WithRecord(target, func(r *itable.Record) (bool, error) {
		if r.Refcount > 0 {
			r.Refcount--
		}
		return true, nil
	}); err != nil {
		return err
	}

	var foundJ, foundSlot uint32
	if err := d.forEachEntry(oldDirInode, func(j, slot uint32, e entry) (bool, error) {
		if e.Inode != params.Sentinel && e.name() == oldName {
			foundJ, foundSlot = j, slot
			return true, nil
		}
		return false, nil
	}); err != nil {
		return err
	}
	if err := d.writeSlot(oldDirInode, foundJ, foundSlot, freeEntry()); err != nil {
		return err
	}
	return d.itab.WithRecord(oldDirInode, func(r *itable.Record) (bool, error) {
		if r.SizeBytes >= params.DirEntrySize {
			r.SizeBytes -= params.DirEntrySize
		}
		return true, nil
	})
}

// DirEntry is one name/inode pair handed back by List.
type DirEntry struct {
	Name  string
	Inode uint32
}

// List returns every occupied entry of dirInode, in on-disk order,
// including "." and "..". Used by read-only consumers (cmd/mount) that
// need to enumerate a directory rather than look up one name.
func (d *Dir) List(dirInode uint32) ([]DirEntry, error) {
	var out []DirEntry
	err := d.forEachEntry(dirInode, func(j, slot uint32, e entry) (bool, error) {
		if e.Inode != params.Sentinel {
			out = append(out, DirEntry{Name: e.name(), Inode: e.Inode})
		}
		return false, nil
	})
	return out, err
}

// ResolveByPath walks a slash-separated path starting at root (typically
// the root inode, 0), following "." and ".." entries the same as any
// other name. Per spec.md §4.8.
func (d *Dir) ResolveByPath(root uint32, path string) (uint32, error) {
	cur := root
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		next, err := d.LookupByName(cur, part)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return cur, nil
}

func asStatus(err error) (errs.Status, bool) {
	var s errs.Status
	ok := errors.As(err, &s)
	return s, ok
}

