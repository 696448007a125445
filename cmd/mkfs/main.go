// Command mkfs formats a regular file as a SOFS14 volume: a superblock, an
// inode table and a data zone, per spec.md §4.9.
//
// Grounded on the teacher's cobra-based command tree (cmd/ subcommands
// each wrapping one compiler/provisioner call behind -n/-q/-v flags) --
// here reduced to the single format operation this spec names.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luminoso/SOFS14/internal/sofs/blockdev"
	"github.com/luminoso/SOFS14/internal/sofs/elog"
	"github.com/luminoso/SOFS14/internal/sofs/format"
)

func defaultNow() uint32 {
	return uint32(time.Now().Unix())
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		nInodes   int64
		blockSize int64
		quiet     bool
		name      string
	)

	cmd := &cobra.Command{
		Use:   "mkfs DEVICE SIZE",
		Short: "Format a file as a SOFS14 volume",
		Long:  "mkfs creates (or truncates) DEVICE to SIZE bytes and writes a fresh superblock, inode table and data zone onto it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			devicePath := args[0]
			size, err := parseSize(args[1])
			if err != nil {
				return err
			}

			if quiet {
				logrus.SetLevel(logrus.ErrorLevel)
			}

			dev, err := blockdev.Create(devicePath, int(blockSize), size/blockSize)
			if err != nil {
				return fmt.Errorf("creating device: %w", err)
			}
			defer dev.Close()

			view := &elog.CLI{DisableTTY: quiet, IsVerbose: !quiet}
			logrus.SetFormatter(view)

			opts := format.Options{
				Name:            name,
				RequestedInodes: nInodes,
				Now:             defaultNow,
			}
			if err := format.Run(dev, opts, view); err != nil {
				return fmt.Errorf("formatting %s: %w", devicePath, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "formatted %s\n", devicePath)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&nInodes, "inodes", "i", 0, "number of inodes to allocate (0 picks a default of total-blocks/8)")
	cmd.Flags().Int64VarP(&blockSize, "block-size", "b", 512, "device block size in bytes")
	cmd.Flags().StringVarP(&name, "name", "n", "", "volume label")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	return cmd
}

func parseSize(s string) (int64, error) {
	var n int64
	var unit string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &unit); err != nil {
		if _, err2 := fmt.Sscanf(s, "%d", &n); err2 != nil {
			return 0, fmt.Errorf("invalid size %q", s)
		}
		return n, nil
	}
	switch unit {
	case "K", "KiB", "k":
		return n * 1024, nil
	case "M", "MiB", "m":
		return n * 1024 * 1024, nil
	case "G", "GiB", "g":
		return n * 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("unrecognised size suffix %q", unit)
	}
}
