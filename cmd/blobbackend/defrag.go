package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"blobbackend/backend"
	"blobbackend/wire"
)

func newDefragCmd(cfg *cliConfig) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "defrag",
		Short: "query or start a background defrag pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cfg.openBackend()
			if err != nil {
				return err
			}
			defer backend.Cleanup()

			ctl := &wire.DefragCtl{}
			if status {
				ctl.Flags |= wire.FlagStatus
			}
			reply, errno := b.Dispatcher().Dispatch(context.Background(), wire.CmdDefrag, &wire.IOAttr{}, nil, nil, ctl)
			if errno != 0 {
				return fmt.Errorf("defrag failed: errno %d", errno)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "defrag_state=%s\n", reply.Defrag.State)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "only report the current state; don't start a pass")
	return cmd
}
