package cluster

import (
	"bytes"
	"testing"

	"github.com/luminoso/SOFS14/internal/sofs/params"
	"github.com/luminoso/SOFS14/internal/sofs/sofstest"
)

func newTestStore() *Store {
	dev := sofstest.NewMemDevice(512, params.ClusterBlocks*4)
	return NewStore(dev, 0)
}

func TestHeaderIsClean(t *testing.T) {
	if !(Header{Stat: params.Sentinel}).IsClean() {
		t.Errorf("a header with the sentinel stat must be clean")
	}
	if (Header{Stat: 3}).IsClean() {
		t.Errorf("a header owned by inode 3 must not be clean")
	}
}

func TestWritePayloadReadPayloadRoundTrip(t *testing.T) {
	s := newTestStore()
	hdr := Header{Prev: params.Sentinel, Next: params.Sentinel, Stat: 7}
	payload := bytes.Repeat([]byte{0xAB}, params.ClusterPayloadSize)

	if err := s.WritePayload(2, hdr, payload); err != nil {
		t.Fatal(err)
	}

	gotHdr, gotPayload, err := s.ReadPayload(2)
	if err != nil {
		t.Fatal(err)
	}
	if gotHdr != hdr {
		t.Errorf("ReadPayload header = %+v, want %+v", gotHdr, hdr)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("ReadPayload did not recover the written payload bytes")
	}
}

func TestWriteHeaderPreservesPayload(t *testing.T) {
	s := newTestStore()
	payload := bytes.Repeat([]byte{0x11}, params.ClusterPayloadSize)
	if err := s.WritePayload(1, Header{Stat: 9}, payload); err != nil {
		t.Fatal(err)
	}

	if err := s.WriteHeader(1, Header{Stat: 10}); err != nil {
		t.Fatal(err)
	}

	gotHdr, gotPayload, err := s.ReadPayload(1)
	if err != nil {
		t.Fatal(err)
	}
	if gotHdr.Stat != 10 {
		t.Errorf("WriteHeader did not update stat, got %+v", gotHdr)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("WriteHeader must not disturb the existing payload")
	}
}

func TestWritePayloadRejectsWrongSize(t *testing.T) {
	s := newTestStore()
	if err := s.WritePayload(0, Header{}, make([]byte, 3)); err == nil {
		t.Errorf("expected an error for a payload of the wrong size")
	}
}
