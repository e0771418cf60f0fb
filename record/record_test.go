package record

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"blobbackend/berrors"
	"blobbackend/wire"
)

func TestEncodeDecodeExtRoundTrip(t *testing.T) {
	h := ExtHeader{Timestamp: 1710000000, Flags: wire.FlagHasExthdr | wire.FlagAppend, Reserved: 0xdeadbeef}
	buf := EncodeExtHeader(h)
	require.Len(t, buf, HdrLen)

	got, err := DecodeExt(bytes.NewReader(buf), 0)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestEncodeExtFromIOAttrZerosReserved(t *testing.T) {
	io := &wire.IOAttr{Timestamp: 42, Flags: wire.FlagHasExthdr}
	buf := EncodeExt(io)

	got, err := DecodeExt(bytes.NewReader(buf), 0)
	require.NoError(t, err)
	require.Equal(t, int64(42), got.Timestamp)
	require.Equal(t, wire.FlagHasExthdr, got.Flags)
	require.Equal(t, uint64(0), got.Reserved)
}

func TestDecodeExtPreservesReservedAcrossReadModifyWrite(t *testing.T) {
	original := ExtHeader{Timestamp: 1, Flags: 2, Reserved: 0x1122334455667788}
	buf := EncodeExtHeader(original)

	decoded, err := DecodeExt(bytes.NewReader(buf), 0)
	require.NoError(t, err)

	io := &wire.IOAttr{}
	ApplyToIO(decoded, io)
	require.Equal(t, int64(1), io.Timestamp)
	require.Equal(t, uint64(2), io.Flags)

	reencoded := EncodeExtHeader(decoded)
	require.Equal(t, buf, reencoded)
}

func TestDecodeExtShortReadFails(t *testing.T) {
	_, err := DecodeExt(bytes.NewReader([]byte{1, 2, 3}), 0)
	require.Error(t, err)
}

func TestDecodeExtRejectsNegativeTimestamp(t *testing.T) {
	buf := EncodeExtHeader(ExtHeader{Timestamp: -1})
	_, err := DecodeExt(bytes.NewReader(buf), 0)
	require.Error(t, err)
	require.True(t, berrors.Is(err, berrors.Corrupt))
}

func TestDecodeExtAtOffset(t *testing.T) {
	h := ExtHeader{Timestamp: 7, Flags: 9}
	buf := append(make([]byte, 10), EncodeExtHeader(h)...)

	got, err := DecodeExt(bytes.NewReader(buf), 10)
	require.NoError(t, err)
	require.Equal(t, h.Timestamp, got.Timestamp)
	require.Equal(t, h.Flags, got.Flags)
}
