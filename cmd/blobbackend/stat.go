package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"blobbackend/backend"
)

func newStatCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "print filesystem usage, record counters, and defrag state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cfg.openBackend()
			if err != nil {
				return err
			}
			defer backend.Cleanup()

			st, err := b.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"fs_used=%d fs_free=%d total_records=%d removed_records=%d defrag_state=%s\n",
				st.FSUsed, st.FSFree, st.TotalRecords, st.RemovedRecords, st.DefragState)
			return nil
		},
	}
}
