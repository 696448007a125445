// Package cluster implements data-cluster addressing and the fixed
// {prev, next, stat} header every data cluster carries, per spec.md §3.
//
// Grounded on the teacher's fixed little-endian record convention
// (pkg/ext4/inode.go's ExtentHeader/Extent structs) and on
// pkg/vdecompiler/fs.go's loadBlock (seek to a block, read/write a fixed
// number of bytes) -- here addressed in clusters of K blocks instead of
// single blocks.
package cluster

import (
	"bytes"
	"encoding/binary"

	"github.com/luminoso/SOFS14/internal/sofs/blockdev"
	"github.com/luminoso/SOFS14/internal/sofs/errs"
	"github.com/luminoso/SOFS14/internal/sofs/params"
)

// Header is the three-uint32 prefix of every data cluster.
type Header struct {
	Prev uint32
	Next uint32
	Stat uint32
}

// IsClean reports whether the cluster is a clean free cluster (stat holds
// the null-inode sentinel).
func (h Header) IsClean() bool {
	return h.Stat == params.Sentinel
}

// Store gives read/write access to individual clusters addressed by
// logical cluster index (0 = first cluster of the data zone).
type Store struct {
	dev        blockdev.Device
	dzoneStart int64
}

// NewStore creates a cluster store over dev, with the data zone starting
// at device block dzoneStart.
func NewStore(dev blockdev.Device, dzoneStart int64) *Store {
	return &Store{dev: dev, dzoneStart: dzoneStart}
}

// blockOf converts a logical cluster index to its first device block.
func (s *Store) blockOf(idx uint32) int64 {
	return s.dzoneStart + int64(idx)*params.ClusterBlocks
}

// ReadRaw reads the full C bytes of cluster idx.
func (s *Store) ReadRaw(idx uint32) ([]byte, error) {
	buf := make([]byte, params.ClusterSize)
	bs := s.dev.BlockSize()
	base := s.blockOf(idx)
	for i := int64(0); i < params.ClusterBlocks; i++ {
		if err := s.dev.ReadBlock(base+i, buf[i*int64(bs):(i+1)*int64(bs)]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteRaw writes the full C bytes of cluster idx.
func (s *Store) WriteRaw(idx uint32, data []byte) error {
	if len(data) != params.ClusterSize {
		return errs.InvalidArgument.Wrap("cluster payload is %d bytes, want %d", len(data), params.ClusterSize)
	}
	bs := s.dev.BlockSize()
	base := s.blockOf(idx)
	for i := int64(0); i < params.ClusterBlocks; i++ {
		if err := s.dev.WriteBlock(base+i, data[i*int64(bs):(i+1)*int64(bs)]); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads just the header of cluster idx.
func (s *Store) ReadHeader(idx uint32) (Header, error) {
	raw, err := s.ReadRaw(idx)
	if err != nil {
		return Header{}, err
	}
	var h Header
	if err := binary.Read(bytes.NewReader(raw[:params.ClusterHeaderSize]), binary.LittleEndian, &h); err != nil {
		return Header{}, errs.InternalInconsistency.Wrap("decoding cluster %d header: %v", idx, err)
	}
	return h, nil
}

// ReadPayload reads the header and payload of cluster idx.
func (s *Store) ReadPayload(idx uint32) (Header, []byte, error) {
	raw, err := s.ReadRaw(idx)
	if err != nil {
		return Header{}, nil, err
	}
	var h Header
	if err := binary.Read(bytes.NewReader(raw[:params.ClusterHeaderSize]), binary.LittleEndian, &h); err != nil {
		return Header{}, nil, errs.InternalInconsistency.Wrap("decoding cluster %d header: %v", idx, err)
	}
	payload := make([]byte, params.ClusterPayloadSize)
	copy(payload, raw[params.ClusterHeaderSize:])
	return h, payload, nil
}

// WritePayload writes a header and payload back to cluster idx.
func (s *Store) WritePayload(idx uint32, h Header, payload []byte) error {
	if len(payload) != params.ClusterPayloadSize {
		return errs.InvalidArgument.Wrap("cluster payload is %d bytes, want %d", len(payload), params.ClusterPayloadSize)
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &h); err != nil {
		return errs.InternalInconsistency.Wrap("encoding cluster %d header: %v", idx, err)
	}
	buf.Write(payload)
	return s.WriteRaw(idx, buf.Bytes())
}

// WriteHeader rewrites only a cluster's header, preserving its payload.
func (s *Store) WriteHeader(idx uint32, h Header) error {
	_, payload, err := s.ReadPayload(idx)
	if err != nil {
		return err
	}
	return s.WritePayload(idx, h, payload)
}

// ZeroPayload writes a cluster with the given header and an all-zero
// payload -- used when formatting and when allocating a fresh directory
// or index cluster.
func (s *Store) ZeroPayload(idx uint32, h Header) error {
	return s.WritePayload(idx, h, make([]byte, params.ClusterPayloadSize))
}
