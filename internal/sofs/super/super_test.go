package super

import (
	"testing"

	"github.com/luminoso/SOFS14/internal/sofs/sofstest"
)

func TestSetGetName(t *testing.T) {
	sb := &Superblock{}
	sb.SetName("myvolume")
	if got := sb.GetName(); got != "myvolume" {
		t.Errorf("GetName() = %q, want %q", got, "myvolume")
	}

	sb.SetName("")
	if got := sb.GetName(); got != "" {
		t.Errorf("GetName() = %q, want empty string", got)
	}
}

func TestSetNameTruncates(t *testing.T) {
	sb := &Superblock{}
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'x'
	}
	sb.SetName(string(long))
	if len(sb.GetName()) != len(sb.Name)-1 {
		t.Errorf("SetName did not truncate to the field capacity, got length %d", len(sb.GetName()))
	}
}

func TestMountable(t *testing.T) {
	sb := &Superblock{Magic: SentinelMagic}
	if sb.Mountable() {
		t.Errorf("a superblock still carrying the sentinel magic must not be mountable")
	}
	sb.Magic = FinalMagic
	if !sb.Mountable() {
		t.Errorf("a superblock carrying the final magic must be mountable")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dev := sofstest.NewMemDevice(512, 4)
	s := NewStore(dev)

	s.Get().SetName("roundtrip")
	s.Get().NTotalBlocks = 4
	s.Get().Magic = FinalMagic
	if err := s.Store(); err != nil {
		t.Fatal(err)
	}

	s2 := NewStore(dev)
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if s2.Get().GetName() != "roundtrip" {
		t.Errorf("Load() did not recover the stored name, got %q", s2.Get().GetName())
	}
	if s2.Get().NTotalBlocks != 4 {
		t.Errorf("Load() did not recover NTotalBlocks")
	}
	if !s2.Get().Mountable() {
		t.Errorf("Load() did not recover the final magic")
	}
}
