package main

import (
	"encoding/hex"
	"fmt"

	"blobbackend/wire"
)

// parseKey decodes a hex-encoded key argument into a wire.ID, zero-padded
// on the right when shorter than the full key width.
func parseKey(s string) (wire.ID, error) {
	var id wire.ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid hex key %q: %w", s, err)
	}
	if len(b) > wire.IDLen {
		return id, fmt.Errorf("key %q exceeds %d bytes", s, wire.IDLen)
	}
	copy(id[:], b)
	return id, nil
}
