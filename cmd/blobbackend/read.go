package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"blobbackend/backend"
	"blobbackend/wire"
)

func newReadCmd(cfg *cliConfig) *cobra.Command {
	var offset, size uint64

	cmd := &cobra.Command{
		Use:   "read <hexkey>",
		Short: "read a record's payload to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := cfg.openBackend()
			if err != nil {
				return err
			}
			defer backend.Cleanup()

			key, err := parseKey(args[0])
			if err != nil {
				return err
			}

			io := &wire.IOAttr{ID: key, Offset: offset, Size: size}
			reply, errno := b.Dispatcher().Dispatch(context.Background(), wire.CmdRead, io, nil, nil, nil)
			if errno != 0 {
				return fmt.Errorf("read failed: errno %d", errno)
			}

			f := os.NewFile(uintptr(reply.Read.FD), "record")
			buf := make([]byte, reply.Read.Size)
			if _, err := f.ReadAt(buf, reply.Read.Offset); err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(buf)
			return err
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset within the record")
	cmd.Flags().Uint64Var(&size, "size", 0, "bytes to read (0 means to end of record)")
	return cmd
}
