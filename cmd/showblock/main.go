// Command showblock dumps the superblock, an inode, or a data-cluster
// header of a SOFS14 volume -- a read-only inspection tool for debugging a
// device image.
//
// Grounded on pkg/vdecompiler's command-line inspection tools (ResolveInode,
// block/inode dumping) and on the teacher's cobra subcommand-per-target
// structure.
package main

import (
	"fmt"
	"os"

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
	var blockSize int

	root := &cobra.Command{
		Use:   "showblock DEVICE",
		Short: "Inspect a SOFS14 volume's metadata",
	}
	root.PersistentFlags().IntVarP(&blockSize, "block-size", "b", 512, "device block size in bytes")

	root.AddCommand(superCmd(&blockSize), inodeCmd(&blockSize), clusterCmd(&blockSize))
	return root
}

func openEngine(path string, blockSize int) (*engine.Engine, error) {
	dev, err := blockdev.Open(path, blockSize)
	if err != nil {
		return nil, err
	}
	e, err := engine.Open(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return e, nil
}

func superCmd(blockSize *int) *cobra.Command {
	return &cobra.Command{
		Use:   "super DEVICE",
		Short: "Print the superblock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(args[0], *blockSize)
			if err != nil {
				return err
			}
			defer e.Dev.Close()

			sb := e.Super.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:             %s\n", sb.GetName())
			fmt.Fprintf(out, "mountable:        %v\n", sb.Mountable())
			fmt.Fprintf(out, "total blocks:     %d\n", sb.NTotalBlocks)
			fmt.Fprintf(out, "inode table:      start=%d blocks=%d total=%d free=%d\n",
				sb.ITableStart, sb.ITableBlockCount, sb.NInodesTotal, sb.NInodesFree)
			fmt.Fprintf(out, "data zone:        start=%d total=%d free=%d\n",
				sb.DZoneStart, sb.NClustersTotal, sb.NClustersFree)
			fmt.Fprintf(out, "free-inode list:  head=%d tail=%d\n", sb.FreeInodeHead, sb.FreeInodeTail)
			fmt.Fprintf(out, "free-cluster list: head=%d tail=%d\n", sb.FreeClusterHead, sb.FreeClusterTail)
			retrieve, insert := e.FreeData.Occupancy()
			fmt.Fprintf(out, "free-cluster caches: retrieve=%d insert=%d\n", retrieve, insert)
			return nil
		},
	}
}

func inodeCmd(blockSize *int) *cobra.Command {
	return &cobra.Command{
		Use:   "inode DEVICE N",
		Short: "Print inode N",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(args[0], *blockSize)
			if err != nil {
				return err
			}
			defer e.Dev.Close()

			var n uint32
			if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
				return fmt.Errorf("invalid inode index %q", args[1])
			}
			rec, err := e.Inodes.Peek(n)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state:        %s\n", rec.State())
			if rec.State() == itable.InUse {
				t, _ := itable.TypeFromMode(rec.Mode)
				times := rec.Times()
				fmt.Fprintf(out, "type:         %v\n", t)
				fmt.Fprintf(out, "mode:         %#o\n", rec.Mode&itable.ModePermMask)
				fmt.Fprintf(out, "owner/group:  %d/%d\n", rec.Owner, rec.Group)
				fmt.Fprintf(out, "refcount:     %d\n", rec.Refcount)
				fmt.Fprintf(out, "size:         %d\n", rec.SizeBytes)
				fmt.Fprintf(out, "clusters:     %d\n", rec.ClusterCount)
				fmt.Fprintf(out, "atime/mtime:  %d/%d\n", times.Atime, times.Mtime)
				fmt.Fprintf(out, "direct:       %v\n", rec.D)
				fmt.Fprintf(out, "indirect:     i1=%d i2=%d\n", rec.I1, rec.I2)
			} else {
				link := rec.FreeLink()
				fmt.Fprintf(out, "free-list:    next=%d prev=%d\n", link.Next, link.Prev)
			}
			return nil
		},
	}
}

func clusterCmd(blockSize *int) *cobra.Command {
	return &cobra.Command{
		Use:   "cluster DEVICE N",
		Short: "Print data-cluster N's header",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(args[0], *blockSize)
			if err != nil {
				return err
			}
			defer e.Dev.Close()

			var n uint32
			if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
				return fmt.Errorf("invalid cluster index %q", args[1])
			}
			hdr, err := e.Clusters.ReadHeader(n)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "prev: %d\n", hdr.Prev)
			fmt.Fprintf(out, "next: %d\n", hdr.Next)
			if hdr.Stat == params.Sentinel {
				fmt.Fprintf(out, "stat: clean (free)\n")
			} else {
				fmt.Fprintf(out, "stat: owned by inode %d\n", hdr.Stat)
			}
			return nil
		},
	}
}
