package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"blobbackend/backend"
	"blobbackend/wire"
)

func newWriteCmd(cfg *cliConfig) *cobra.Command {
	var noCsum, compress bool

	cmd := &cobra.Command{
		Use:   "write <hexkey> <file|->",
		Short: "write a record, reading the payload from a file or stdin",
		Args:  cobra.ExactArgs(2),
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

			payload, err := readPayload(args[1])
			if err != nil {
				return err
			}

			flags := wire.FlagHasExthdr
			if noCsum {
				flags |= wire.FlagNoCsum
			}
			if compress {
				flags |= wire.FlagCompress
			}
			io := &wire.IOAttr{ID: key, Size: uint64(len(payload)), Flags: flags}
			reply, errno := b.Dispatcher().Dispatch(context.Background(), wire.CmdWrite, io, payload, nil, nil)
			if errno != 0 {
				return fmt.Errorf("write failed: errno %d", errno)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at fd=%d offset=%d\n",
				reply.FileInfo.Size, reply.FileInfo.FD, reply.FileInfo.Offset)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCsum, "no-csum", false, "set the NOCSUM record flag (the control-struct CRC is still written)")
	cmd.Flags().BoolVar(&compress, "compress", false, "request compression (unsupported; returns an error)")
	return cmd
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
