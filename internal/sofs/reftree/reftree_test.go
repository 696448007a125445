package reftree

import (
	"errors"
	"testing"

	"github.com/luminoso/SOFS14/internal/sofs/cluster"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/freecluster"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/sofstest"
	"github.com/luminoso/SOFS14/internal/sofs/super"
)

const testOwner = 2

// fixture wires a reference tree over n freshly chained free clusters
// (1..n), with inode testOwner already in use as the owner of everything
// the tests allocate.
func fixture(t *testing.T, n uint32) *Tree {
	t.Helper()
	dev := sofstest.NewMemDevice(512, int64(2+int(n+1)*int(params.ClusterBlocks)))
	itab := itable.NewStore(dev, 1, 1, uint32(params.IPB))
	clusters := cluster.NewStore(dev, 2)
	sb := super.NewStore(dev)
	free := freecluster.NewRepo(clusters, sb, itab)
	tree := New(itab, clusters, free)
	free.SetCleaner(tree)

	if err := itab.WithRecord(testOwner, func(r *itable.Record) (bool, error) {
		r.InitInUse(itable.TypeRegular, 0, 0, 0)
		return true, nil
	}); err != nil {
		t.Fatalf("seeding owner inode: %v", err)
	}

	for id := uint32(1); id <= n; id++ {
		var next uint32 = id + 1
		if id == n {
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
	sb.Get().InsertIdx = 0
	sb.Get().FreeClusterHead = 1
	sb.Get().FreeClusterTail = n
	sb.Get().NClustersFree = n
	sb.Get().NClustersTotal = n + 1

	return tree
}

func TestLocate(t *testing.T) {
	cases := []struct {
		j                uint32
		wantLvl          int
		wantA, wantB uint32
	}{
		{0, 0, 0, 0},
		{params.NDirect - 1, 0, params.NDirect - 1, 0},
		{params.NDirect, 1, 0, 0},
		{params.NDirect + params.RPC - 1, 1, params.RPC - 1, 0},
		{params.NDirect + params.RPC, 2, 0, 0},
		{params.NDirect + params.RPC + params.RPC, 2, 1, 0},
	}
	for _, c := range cases {
		lvl, a, b := locate(c.j)
		if lvl != c.wantLvl || a != c.wantA || b != c.wantB {
			t.Errorf("locate(%d) = (%d,%d,%d), want (%d,%d,%d)", c.j, lvl, a, b, c.wantLvl, c.wantA, c.wantB)
		}
	}
}

func TestGETOnUntouchedInodeReturnsSentinel(t *testing.T) {
	tr := fixture(t, 2)
	got, err := tr.GET(testOwner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != params.Sentinel {
		t.Errorf("GET on a never-allocated direct slot = %d, want sentinel", got)
	}
	got, err = tr.GET(testOwner, params.NDirect)
	if err != nil {
		t.Fatal(err)
	}
	if got != params.Sentinel {
		t.Errorf("GET on a never-allocated single-indirect slot = %d, want sentinel", got)
	}
}

func TestGETRejectsOutOfRange(t *testing.T) {
	tr := fixture(t, 1)
	_, err := tr.GET(testOwner, params.MaxFileClusters)
	var s errs.Status
	if !errors.As(err, &s) || s != errs.InvalidArgument {
		t.Errorf("GET(MaxFileClusters) = %v, want errs.InvalidArgument", err)
	}
}

func TestALLOCDirectThenGETRoundTrip(t *testing.T) {
	tr := fixture(t, 2)
	id, err := tr.ALLOC(testOwner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if id == params.Sentinel {
		t.Fatalf("ALLOC returned the sentinel")
	}

	got, err := tr.GET(testOwner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("GET after ALLOC = %d, want %d", got, id)
	}

	rec, err := tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClusterCount != 1 {
		t.Errorf("ClusterCount = %d, want 1", rec.ClusterCount)
	}
}

func TestALLOCSingleIndirectCreatesIndexCluster(t *testing.T) {
	tr := fixture(t, 3)
	j := uint32(params.NDirect)

	id, err := tr.ALLOC(testOwner, j)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if rec.I1 == params.Sentinel {
		t.Fatalf("ALLOC at a single-indirect index did not create an index cluster")
	}

	got, err := tr.GET(testOwner, j)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("GET after single-indirect ALLOC = %d, want %d", got, id)
	}
}

func TestALLOCDoubleIndirectCreatesBothLevels(t *testing.T) {
	tr := fixture(t, 4)
	j := uint32(params.NDirect + params.RPC)

	id, err := tr.ALLOC(testOwner, j)
	if err != nil {
		t.Fatal(err)
	}

	rec, err := tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if rec.I2 == params.Sentinel {
		t.Fatalf("ALLOC at a double-indirect index did not create the outer index cluster")
	}

	got, err := tr.GET(testOwner, j)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("GET after double-indirect ALLOC = %d, want %d", got, id)
	}
}

func TestFREEDecrementsCountAndLeavesDanglingSlot(t *testing.T) {
	tr := fixture(t, 2)
	if _, err := tr.ALLOC(testOwner, 0); err != nil {
		t.Fatal(err)
	}
	if err := tr.FREE(testOwner, 0); err != nil {
		t.Fatal(err)
	}

	rec, err := tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClusterCount != 0 {
		t.Errorf("ClusterCount after FREE = %d, want 0", rec.ClusterCount)
	}

	got, err := tr.GET(testOwner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got == params.Sentinel {
		t.Errorf("FREE must leave the slot itself untouched (dangling), got sentinel")
	}
}

func TestFREERejectsEmptySlot(t *testing.T) {
	tr := fixture(t, 1)
	err := tr.FREE(testOwner, 0)
	var s errs.Status
	if !errors.As(err, &s) || s != errs.InvalidArgument {
		t.Errorf("FREE on an empty slot = %v, want errs.InvalidArgument", err)
	}
}

func TestFreeCleanClearsSlot(t *testing.T) {
	tr := fixture(t, 2)
	if _, err := tr.ALLOC(testOwner, 0); err != nil {
		t.Fatal(err)
	}
	if err := tr.FreeClean(testOwner, 0); err != nil {
		t.Fatal(err)
	}
	got, err := tr.GET(testOwner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != params.Sentinel {
		t.Errorf("FreeClean must clear the slot immediately, got %d", got)
	}
}

func TestCleanReleasesEmptyIndexCluster(t *testing.T) {
	tr := fixture(t, 3)
	j := uint32(params.NDirect)
	if _, err := tr.ALLOC(testOwner, j); err != nil {
		t.Fatal(err)
	}
	rec, err := tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	i1 := rec.I1

	// simulate the data cluster having already been freed by a higher
	// layer (its header is now dirty, still naming testOwner) and ask
	// Clean to dissociate the dangling reference.
	if err := tr.Clean(testOwner, j); err != nil {
		t.Fatal(err)
	}

	rec, err = tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if rec.I1 != params.Sentinel {
		t.Errorf("Clean did not release the now-empty index cluster, I1 = %d", rec.I1)
	}

	hdr, err := tr.clusters.ReadHeader(i1)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Prev != params.Sentinel || hdr.Next != params.Sentinel {
		t.Errorf("released index cluster should have been handed to Free (list links reset), header = %+v", hdr)
	}
}

func TestHandleFileClustersVisitsEachAllocatedIndex(t *testing.T) {
	tr := fixture(t, 3)
	if _, err := tr.ALLOC(testOwner, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ALLOC(testOwner, 1); err != nil {
		t.Fatal(err)
	}

	var visited []uint32
	err := tr.HandleFileClusters(testOwner, 0, func(tree *Tree, inodeID, j uint32) error {
		visited = append(visited, j)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(visited) != 2 || visited[0] != 0 || visited[1] != 1 {
		t.Errorf("HandleFileClusters visited %v, want [0 1]", visited)
	}
}

func TestCleanInodeResetsClusterCount(t *testing.T) {
	tr := fixture(t, 2)
	if _, err := tr.ALLOC(testOwner, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.ALLOC(testOwner, 1); err != nil {
		t.Fatal(err)
	}

	if err := tr.CleanInode(testOwner); err != nil {
		t.Fatal(err)
	}

	rec, err := tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClusterCount != 0 {
		t.Errorf("CleanInode did not reset ClusterCount, got %d", rec.ClusterCount)
	}
}

func TestCleanDanglingClusterDissociatesMatchingSlot(t *testing.T) {
	tr := fixture(t, 2)
	id, err := tr.ALLOC(testOwner, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.CleanDanglingCluster(testOwner, id); err != nil {
		t.Fatal(err)
	}

	got, err := tr.GET(testOwner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != params.Sentinel {
		t.Errorf("CleanDanglingCluster did not clear the matching slot, got %d", got)
	}

	rec, err := tr.itab.Peek(testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ClusterCount != 0 {
		t.Errorf("CleanDanglingCluster did not decrement ClusterCount, got %d", rec.ClusterCount)
	}
}
