package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"blobbackend/backend"
	"blobbackend/wire"
)

func newRangeCmd(cfg *cliConfig) *cobra.Command {
	var sort bool
	var startFrom, limit, offset uint64
	var del bool

	cmd := &cobra.Command{
		Use:   "range <hexstart> <hexend>",
		Short: "read or delete every record in [start, end]",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cfg.openBackend()
			if err != nil {
				return err
			}
			defer backend.Cleanup()

			start, err := parseKey(args[0])
			if err != nil {
				return err
			}
			end, err := parseKey(args[1])
			if err != nil {
				return err
			}

			io := &wire.IOAttr{ID: start, Parent: end, Start: startFrom, Num: limit, Offset: offset}
			if sort {
				io.Flags |= wire.FlagSort
			}

			cmdCode := wire.CmdReadRange
			if del {
				cmdCode = wire.CmdDelRange
			}
			reply, errno := b.Dispatcher().Dispatch(context.Background(), cmdCode, io, nil, nil, nil)
			if errno != 0 {
				return fmt.Errorf("range failed: errno %d", errno)
			}

			if del {
				if reply.Terminator != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "deleted num=%d\n", reply.Terminator.Num)
				}
				return nil
			}

			for _, hit := range reply.RangeHits {
				f := os.NewFile(uintptr(hit.Reply.FD), "record")
				buf := make([]byte, hit.Reply.Size)
				if _, err := f.ReadAt(buf, hit.Reply.Offset); err != nil {
					return fmt.Errorf("read hit payload: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%x: %s\n", hit.IO.ID, buf)
			}
			if reply.Terminator != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "terminator num=%d\n", reply.Terminator.Num)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sort, "sort", false, "sort hits by key before replaying")
	cmd.Flags().Uint64Var(&startFrom, "start", 0, "skip this many collected hits before replaying")
	cmd.Flags().Uint64Var(&limit, "limit", 0, "maximum hits to replay (0 means unlimited)")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "per-record byte offset applied during read replay")
	cmd.Flags().BoolVar(&del, "delete", false, "delete matched records instead of reading them")
	return cmd
}
