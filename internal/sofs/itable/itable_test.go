package itable

import (
	"testing"

	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/sofstest"
)

func TestStateOf(t *testing.T) {
	cases := []struct {
		mode uint32
		want State
	}{
		{ModeTypeRegular, InUse},
		{ModeTypeDirectory, InUse},
		{ModeFree | ModeTypeRegular, FreeDirty},
		{ModeFree, FreeClean},
		{0, FreeClean},
	}
	for _, c := range cases {
		if got := StateOf(c.mode); got != c.want {
			t.Errorf("StateOf(%#x) = %v, want %v", c.mode, got, c.want)
		}
	}
}

func TestInitInUseThenFreeLinkRoundTrip(t *testing.T) {
	var r Record
	r.InitInUse(TypeDirectory, 7, 9, 100)
	if r.State() != InUse {
		t.Fatalf("InitInUse did not produce an in-use record")
	}
	if r.Owner != 7 || r.Group != 9 {
		t.Errorf("InitInUse did not set owner/group correctly")
	}
	tm := r.Times()
	if tm.Atime != 100 || tm.Mtime != 100 {
		t.Errorf("InitInUse did not stamp both times, got %+v", tm)
	}

	r.ResetFreeClean(FreeLink{Next: 5, Prev: params.Sentinel})
	if r.State() != FreeClean {
		t.Fatalf("ResetFreeClean did not produce a free-clean record")
	}
	link := r.FreeLink()
	if link.Next != 5 || link.Prev != params.Sentinel {
		t.Errorf("FreeLink() = %+v, want {Next:5 Prev:sentinel}", link)
	}
}

func TestMarkFreeDirtyPreservesTypeAndRefs(t *testing.T) {
	var r Record
	r.InitInUse(TypeRegular, 1, 1, 0)
	r.D[0] = 42
	r.MarkFreeDirty(FreeLink{Next: params.Sentinel, Prev: params.Sentinel})

	if r.State() != FreeDirty {
		t.Fatalf("MarkFreeDirty did not produce a free-dirty record")
	}
	ty, ok := TypeFromMode(r.Mode)
	if !ok || ty != TypeRegular {
		t.Errorf("MarkFreeDirty lost the prior type bits")
	}
	if r.D[0] != 42 {
		t.Errorf("MarkFreeDirty must not touch existing references, a cleaner does that")
	}
}

func TestStoreLoadBlockRoundTrip(t *testing.T) {
	dev := sofstest.NewMemDevice(512, 8)
	itab := NewStore(dev, 1, 4, uint32(4*params.IPB))

	err := itab.WithRecord(3, func(r *Record) (bool, error) {
		r.InitInUse(TypeRegular, 1, 2, 55)
		r.SizeBytes = 1024
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	itab2 := NewStore(dev, 1, 4, uint32(4*params.IPB))
	rec, err := itab2.Peek(3)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != InUse || rec.SizeBytes != 1024 || rec.Owner != 1 {
		t.Errorf("Peek after a fresh store did not recover the written record: %+v", rec)
	}
}

func TestWithRecordRejectsOutOfRangeIndex(t *testing.T) {
	dev := sofstest.NewMemDevice(512, 8)
	itab := NewStore(dev, 1, 4, uint32(4*params.IPB))
	err := itab.WithRecord(itab.NInodes(), func(r *Record) (bool, error) { return false, nil })
	if err == nil {
		t.Errorf("expected an error for an inode index at the table boundary")
	}
}
