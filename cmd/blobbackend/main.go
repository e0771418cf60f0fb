// Command blobbackend is a direct-drive CLI over the backend package: it
// initializes a backend against a data directory and dispatches single
// commands against it, in place of a network transport. Grounded on the
// cockroachdb-pebble tool package's cobra-per-subcommand layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var stderr = os.Stderr

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &cliConfig{}

	root := &cobra.Command{
		Use:   "blobbackend",
		Short: "drive the per-node blob storage backend directly",
	}
	root.PersistentFlags().StringVar(&cfg.dataPath, "data", "", "backend data directory (required)")
	root.PersistentFlags().DurationVar(&cfg.sync, "sync", 0, "fsync interval, stored in the engine options (the engine runs no periodic sync)")
	root.PersistentFlags().StringVar(&cfg.blobSize, "blob-size", "", "blob size (e.g. 512M), stored in the engine options; rotation follows --blob-size-limit")
	root.PersistentFlags().StringVar(&cfg.blobSizeLimit, "blob-size-limit", "", "hard cap on blob file size")
	root.PersistentFlags().IntVar(&cfg.recordsInBlob, "records-in-blob", 0, "records per blob before rotation")
	root.PersistentFlags().IntVar(&cfg.indexBlockSize, "index-block-size", 0, "in-memory index block size")
	root.PersistentFlags().IntVar(&cfg.indexBlockBloomLength, "index-block-bloom-length", 0, "bloom filter bit length per index block")
	root.PersistentFlags().IntVar(&cfg.defragPercentage, "defrag-percentage", 0, "defrag percentage, stored by the defrag scheduler (passes run on its timer, not on this threshold)")
	_ = root.MarkPersistentFlagRequired("data")

	root.AddCommand(
		newWriteCmd(cfg),
		newReadCmd(cfg),
		newRangeCmd(cfg),
		newStatCmd(cfg),
		newDefragCmd(cfg),
	)
	return root
}
