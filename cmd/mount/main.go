// Command mount exposes a SOFS14 volume as a read-only FUSE filesystem: a
// thin consumer of internal/sofs/engine, internal/sofs/dir and
// internal/sofs/inodeops, not a second implementation of the metadata
// engine.
//
// Grounded on hanwen/go-fuse/v2's fs package node style (fs/loopback.go's
// loopbackNode, one InodeEmbedder per live file/directory, answering
// Lookup/Readdir/Open/Read/Getattr) -- trimmed to read-only, since
// spec.md's Non-goals exclude concurrent access and this bridge is an
// external collaborator, not core scope.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/cobra"

	"github.com/luminoso/SOFS14/internal/sofs/blockdev"
	"github.com/luminoso/SOFS14/internal/sofs/engine"
	"github.com/luminoso/SOFS14/internal/sofs/itable"
	"github.com/luminoso/SOFS14/internal/sofs/params"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		blockSize int
		debug     bool
	)

	cmd := &cobra.Command{
		Use:   "mount DEVICE MOUNTPOINT",
		Short: "Mount a SOFS14 volume read-only over FUSE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			devicePath, mountPoint := args[0], args[1]

			dev, err := blockdev.Open(devicePath, blockSize)
			if err != nil {
				return fmt.Errorf("opening device: %w", err)
			}

			eng, err := engine.Open(dev)
			if err != nil {
				dev.Close()
				return fmt.Errorf("opening volume: %w", err)
			}
			if err := eng.MarkMounted(); err != nil {
				dev.Close()
				return fmt.Errorf("marking volume mounted: %w", err)
			}

			root := &sofsNode{eng: eng, ino: params.RootInode}
			server, err := fs.Mount(mountPoint, root, &fs.Options{
				MountOptions: fuse.MountOptions{
					Debug:          debug,
					FsName:         devicePath,
					Name:           "sofs14",
					SingleThreaded: true,
				},
			})
			if err != nil {
				eng.Close()
				return fmt.Errorf("mounting: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "mounted %s on %s\n", devicePath, mountPoint)
			server.Wait()
			return eng.Close()
		},
	}

	cmd.Flags().IntVarP(&blockSize, "block-size", "b", 512, "device block size in bytes")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every FUSE request")
	return cmd
}

// sofsNode is a live FUSE inode backed by one SOFS14 inode number. It holds
// no cached record -- every operation re-reads through the engine, in
// keeping with the single-slot buffer discipline the core enforces.
type sofsNode struct {
	fs.Inode
	eng *engine.Engine
	ino uint32
}

var _ = (fs.NodeLookuper)((*sofsNode)(nil))
var _ = (fs.NodeReaddirer)((*sofsNode)(nil))
var _ = (fs.NodeOpener)((*sofsNode)(nil))
var _ = (fs.NodeReader)((*sofsNode)(nil))
var _ = (fs.NodeGetattrer)((*sofsNode)(nil))

func (n *sofsNode) child(ino uint32) *sofsNode {
	return &sofsNode{eng: n.eng, ino: ino}
}

func fillAttr(out *fuse.Attr, rec itable.Record, ino uint32) {
	t, _ := itable.TypeFromMode(rec.Mode)
	var typeBits uint32
	switch t {
	case itable.TypeDirectory:
		typeBits = syscall.S_IFDIR
	case itable.TypeSymlink:
		typeBits = syscall.S_IFLNK
	default:
		typeBits = syscall.S_IFREG
	}
	times := rec.Times()
	out.Ino = uint64(ino)
	out.Mode = typeBits | (rec.Mode & itable.ModePermMask)
	out.Size = rec.SizeBytes
	out.Nlink = rec.Refcount
	out.Uid = rec.Owner
	out.Gid = rec.Group
	out.Atime = uint64(times.Atime)
	out.Mtime = uint64(times.Mtime)
	out.Blocks = uint64(rec.ClusterCount) * uint64(params.ClusterSize) / 512
	out.Blksize = uint32(params.ClusterSize)
}

func (n *sofsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	rec, err := n.eng.Ops.ReadInode(n.ino)
	if err != nil {
		return syscall.ENOENT
	}
	fillAttr(&out.Attr, rec, n.ino)
	return fs.OK
}

func (n *sofsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	target, err := n.eng.Dir.LookupByName(n.ino, name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	rec, err := n.eng.Ops.ReadInode(target)
	if err != nil {
		return nil, syscall.ENOENT
	}
	fillAttr(&out.Attr, rec, target)

	child := n.child(target)
	stable := fs.StableAttr{Mode: out.Attr.Mode & syscall.S_IFMT, Ino: uint64(target)}
	return n.NewInode(ctx, child, stable), fs.OK
}

func (n *sofsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.eng.Dir.List(n.ino)
	if err != nil {
		return nil, syscall.ENOTDIR
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		rec, err := n.eng.Ops.ReadInode(e.Inode)
		if err != nil {
			continue
		}
		t, _ := itable.TypeFromMode(rec.Mode)
		mode := uint32(syscall.S_IFREG)
		if t == itable.TypeDirectory {
			mode = syscall.S_IFDIR
		} else if t == itable.TypeSymlink {
			mode = syscall.S_IFLNK
		}
		list = append(list, fuse.DirEntry{Name: e.Name, Ino: uint64(e.Inode), Mode: mode})
	}
	return fs.NewListDirStream(list), fs.OK
}

func (n *sofsNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, fs.OK
}

func (n *sofsNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nRead, err := n.eng.Ops.ReadAt(n.ino, dest, off)
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:nRead]), fs.OK
}
