package dir

import (
	"errors"
	"testing"

	"github.com/luminoso/SOFS14/internal/sofs/cluster"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/freecluster"
	"github.com/luminoso/SOFS14/internal/sofs/freeinode"
	"github.com/luminoso/SOFS14/internal/sofs/inodeops"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/reftree"
	"github.com/luminoso/SOFS14/internal/sofs/sofstest"
	"github.com/luminoso/SOFS14/internal/sofs/super"
)

// fixture wires the full stack over a root directory (inode 0), three
// plain regular-file inodes (2, 3, 4) and a free-inode list (8, 9, 10) so
// RemoveOrDetach's zero-refcount path has somewhere to return an inode.
func fixture(t *testing.T) *Dir {
	t.Helper()
	const nInodes = 16
	const nClusters = 8
	dev := sofstest.NewMemDevice(512, int64(3+int(nClusters+1)*int(params.ClusterBlocks)))
	itab := itable.NewStore(dev, 1, 2, nInodes)
	clusters := cluster.NewStore(dev, 3)
	sb := super.NewStore(dev)
	freeClusters := freecluster.NewRepo(clusters, sb, itab)
	tree := reftree.New(itab, clusters, freeClusters)
	freeClusters.SetCleaner(tree)
	ops := inodeops.New(itab, tree, func() uint32 { return 1000 })
	freeInodes := freeinode.NewRepo(itab, sb, func() uint32 { return 1000 })
	freeInodes.SetCleaner(tree)

	for id := uint32(1); id <= nClusters; id++ {
		var next uint32 = id + 1
		if id == nClusters {
			next = params.Sentinel
		}
		prev := id - 1
		if id == 1 {
			prev = params.Sentinel
		}
		if err := clusters.WriteHeader(id, cluster.Header{Prev: prev, Next: next, Stat: params.Sentinel}); err != nil {
			t.Fatalf("seeding cluster %d: %v", id, err)
		}
	}
	for i := range sb.Get().RetrieveCache {
		sb.Get().RetrieveCache[i] = params.Sentinel
	}
	sb.Get().RetrieveIdx = params.CacheCapacity
	sb.Get().FreeClusterHead = 1
	sb.Get().FreeClusterTail = nClusters
	sb.Get().NClustersFree = nClusters
	sb.Get().NClustersTotal = nClusters + 1

	links := map[uint32]itable.FreeLink{
		8:  {Prev: params.Sentinel, Next: 9},
		9:  {Prev: 8, Next: 10},
		10: {Prev: 9, Next: params.Sentinel},
	}
	for n, link := range links {
		if err := itab.WithRecord(n, func(r *itable.Record) (bool, error) {
			r.ResetFreeClean(link)
			return true, nil
		}); err != nil {
			t.Fatalf("seeding free inode %d: %v", n, err)
		}
	}
	sb.Get().FreeInodeHead = 8
	sb.Get().FreeInodeTail = 10
	sb.Get().NInodesFree = 3
	sb.Get().NInodesTotal = nInodes

	d := New(itab, tree, ops, freeInodes)

	// The cluster repository refuses inode 0, so the root's first cluster
	// (cluster 0) is installed by hand, the way the formatter does it.
	var rootEntries [params.DPC]entry
	rootEntries[0] = makeEntry(".", 0)
	rootEntries[1] = makeEntry("..", 0)
	for i := 2; i < params.DPC; i++ {
		rootEntries[i] = freeEntry()
	}
	rootHdr := cluster.Header{Prev: params.Sentinel, Next: params.Sentinel, Stat: params.RootInode}
	if err := clusters.WritePayload(params.RootCluster, rootHdr, encodeEntries(rootEntries)); err != nil {
		t.Fatalf("seeding root cluster: %v", err)
	}
	if err := itab.WithRecord(0, func(r *itable.Record) (bool, error) {
		r.InitInUse(itable.TypeDirectory, 0, 0, 0)
		r.D[0] = params.RootCluster
		r.ClusterCount = 1
		r.SizeBytes = 2 * params.DirEntrySize
		return true, nil
	}); err != nil {
		t.Fatalf("seeding root inode: %v", err)
	}

	for _, id := range []uint32{2, 3, 4} {
		if err := itab.WithRecord(id, func(r *itable.Record) (bool, error) {
			r.InitInUse(itable.TypeRegular, 0, 0, 0)
			return true, nil
		}); err != nil {
			t.Fatalf("seeding inode %d: %v", id, err)
		}
	}

	return d
}

func statusOf(t *testing.T, err error) errs.Status {
	t.Helper()
	var s errs.Status
	if !errors.As(err, &s) {
		t.Fatalf("error %v is not an errs.Status", err)
	}
	return s
}

func TestRootDotEntriesResolveToRoot(t *testing.T) {
	d := fixture(t)

	self, err := d.LookupByName(0, ".")
	if err != nil {
		t.Fatal(err)
	}
	if self != 0 {
		t.Errorf(". resolved to %d, want 0", self)
	}
	parent, err := d.LookupByName(0, "..")
	if err != nil {
		t.Fatal(err)
	}
	if parent != 0 {
		t.Errorf(".. resolved to %d, want 0 (root is its own parent)", parent)
	}
}

func TestLookupByNameRejectsNonDirectory(t *testing.T) {
	d := fixture(t)
	_, err := d.LookupByName(2, "anything")
	if statusOf(t, err) != errs.NotADirectory {
		t.Errorf("LookupByName on a regular file = %v, want errs.NotADirectory", err)
	}
}

func TestLookupByNameMissingReturnsNoEntry(t *testing.T) {
	d := fixture(t)
	_, err := d.LookupByName(0, "nope")
	if statusOf(t, err) != errs.NoEntry {
		t.Errorf("LookupByName(missing) = %v, want errs.NoEntry", err)
	}
}

func TestAddOrAttachThenLookup(t *testing.T) {
	d := fixture(t)
	if err := d.AddOrAttach(0, "foo", 2); err != nil {
		t.Fatal(err)
	}
	got, err := d.LookupByName(0, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("LookupByName(foo) = %d, want 2", got)
	}

	rec, err := d.itab.Peek(2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Refcount != 1 {
		t.Errorf("Refcount after one AddOrAttach = %d, want 1", rec.Refcount)
	}
}

func TestAddOrAttachRejectsDuplicateName(t *testing.T) {
	d := fixture(t)
	if err := d.AddOrAttach(0, "foo", 2); err != nil {
		t.Fatal(err)
	}
	err := d.AddOrAttach(0, "foo", 3)
	if statusOf(t, err) != errs.Exists {
		t.Errorf("AddOrAttach(duplicate name) = %v, want errs.Exists", err)
	}
}

func TestAddOrAttachRejectsIllegalNames(t *testing.T) {
	d := fixture(t)
	for _, name := range []string{"", ".", "..", "a/b"} {
		err := d.AddOrAttach(0, name, 2)
		if statusOf(t, err) != errs.InvalidArgument {
			t.Errorf("AddOrAttach(%q) = %v, want errs.InvalidArgument", name, err)
		}
	}
}

func TestAddOrAttachRejectsNameTooLong(t *testing.T) {
	d := fixture(t)
	long := make([]byte, params.MaxName+1)
	for i := range long {
		long[i] = 'x'
	}
	err := d.AddOrAttach(0, string(long), 2)
	if statusOf(t, err) != errs.NameTooLong {
		t.Errorf("AddOrAttach(too-long name) = %v, want errs.NameTooLong", err)
	}
}

func TestRemoveOrDetachKeepsInodeWhileRefcountPositive(t *testing.T) {
	d := fixture(t)
	if err := d.AddOrAttach(0, "a", 2); err != nil {
		t.Fatal(err)
	}
	if err := d.AddOrAttach(0, "b", 2); err != nil {
		t.Fatal(err)
	}

	if err := d.RemoveOrDetach(0, "a"); err != nil {
		t.Fatal(err)
	}

	rec, err := d.itab.Peek(2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != itable.InUse {
		t.Errorf("inode state = %v, want InUse (one link remains)", rec.State())
	}
	if rec.Refcount != 1 {
		t.Errorf("Refcount = %d, want 1", rec.Refcount)
	}

	if _, err := d.LookupByName(0, "b"); err != nil {
		t.Errorf("remaining link %q should still resolve: %v", "b", err)
	}
}

func TestRemoveOrDetachFreesInodeWhenRefcountHitsZero(t *testing.T) {
	d := fixture(t)
	if err := d.AddOrAttach(0, "c", 2); err != nil {
		t.Fatal(err)
	}

	if err := d.RemoveOrDetach(0, "c"); err != nil {
		t.Fatal(err)
	}

	rec, err := d.itab.Peek(2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() == itable.InUse {
		t.Errorf("inode should have been returned to the free list, state = %v", rec.State())
	}

	if _, err := d.LookupByName(0, "c"); statusOf(t, err) != errs.NoEntry {
		t.Errorf("LookupByName(removed name) = %v, want errs.NoEntry", err)
	}
}

func TestRemoveOrDetachRejectsNonEmptyDirectory(t *testing.T) {
	d := fixture(t)
	if err := d.itab.WithRecord(5, func(r *itable.Record) (bool, error) {
		r.InitInUse(itable.TypeDirectory, 0, 0, 0)
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.InitEmpty(5, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.AddOrAttach(0, "subdir", 5); err != nil {
		t.Fatal(err)
	}
	if err := d.AddOrAttach(5, "child", 2); err != nil {
		t.Fatal(err)
	}

	err := d.RemoveOrDetach(0, "subdir")
	if statusOf(t, err) != errs.NotEmpty {
		t.Errorf("RemoveOrDetach(non-empty directory) = %v, want errs.NotEmpty", err)
	}
}

func TestRenameMovesEntryWithoutBumpingRefcount(t *testing.T) {
	d := fixture(t)
	if err := d.AddOrAttach(0, "old", 2); err != nil {
		t.Fatal(err)
	}

	if err := d.Rename(0, "old", 0, "new"); err != nil {
		t.Fatal(err)
	}

	if _, err := d.LookupByName(0, "old"); statusOf(t, err) != errs.NoEntry {
		t.Errorf("old name should no longer resolve, got %v", err)
	}
	got, err := d.LookupByName(0, "new")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("LookupByName(new) = %d, want 2", got)
	}

	rec, err := d.itab.Peek(2)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Refcount != 1 {
		t.Errorf("Refcount after rename = %d, want 1 (rename must not leave a net increase)", rec.Refcount)
	}
}

func TestRenameRejectsExistingDestinationName(t *testing.T) {
	d := fixture(t)
	if err := d.AddOrAttach(0, "src", 2); err != nil {
		t.Fatal(err)
	}
	if err := d.AddOrAttach(0, "dst", 3); err != nil {
		t.Fatal(err)
	}

	err := d.Rename(0, "src", 0, "dst")
	if statusOf(t, err) != errs.Exists {
		t.Errorf("Rename onto an existing name = %v, want errs.Exists", err)
	}
}

func TestResolveByPath(t *testing.T) {
	d := fixture(t)
	if err := d.itab.WithRecord(5, func(r *itable.Record) (bool, error) {
		r.InitInUse(itable.TypeDirectory, 0, 0, 0)
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.InitEmpty(5, 0); err != nil {
		t.Fatal(err)
	}
	if err := d.AddOrAttach(0, "sub", 5); err != nil {
		t.Fatal(err)
	}
	if err := d.AddOrAttach(5, "leaf", 2); err != nil {
		t.Fatal(err)
	}

	got, err := d.ResolveByPath(0, "sub/leaf")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("ResolveByPath(sub/leaf) = %d, want 2", got)
	}
}

func TestListIncludesDotEntries(t *testing.T) {
	d := fixture(t)
	if err := d.AddOrAttach(0, "foo", 2); err != nil {
		t.Fatal(err)
	}

	entries, err := d.List(0)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]uint32{}
	for _, e := range entries {
		names[e.Name] = e.Inode
	}
	if names["."] != 0 || names[".."] != 0 || names["foo"] != 2 {
		t.Errorf("List(root) = %v, want . and .. at 0 and foo at 2", names)
	}
}
