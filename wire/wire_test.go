package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertIOAttrLittleEndianNoop(t *testing.T) {
	a := &IOAttr{Flags: 0x0102030405060708, Offset: 1, Size: 2, Num: 3, Start: 4, TotalSize: 5, Timestamp: 6}
	before := *a
	ConvertIOAttr(a, binary.LittleEndian)
	require.Equal(t, before, *a)
}

func TestConvertIOAttrBigEndianSwapsAndIsInvolutive(t *testing.T) {
	a := &IOAttr{
		Flags:     0x0102030405060708,
		Offset:    0x1112131415161718,
		Size:      0x2122232425262728,
		Num:       0x3132333435363738,
		Start:     0x4142434445464748,
		TotalSize: 0x5152535455565758,
		Timestamp: 0x6162636465666768,
	}
	want := *a

	ConvertIOAttr(a, binary.BigEndian)
	require.NotEqual(t, want.Flags, a.Flags)
	require.Equal(t, uint64(0x0807060504030201), a.Flags)

	// Swapping twice returns the original value.
	ConvertIOAttr(a, binary.BigEndian)
	require.Equal(t, want, *a)
}

func TestConvertDefragCtlBigEndianSwap(t *testing.T) {
	c := &DefragCtl{Flags: 0x0102030405060708}
	ConvertDefragCtl(c, binary.BigEndian)
	require.Equal(t, uint64(0x0807060504030201), c.Flags)
}

func TestHasFlag(t *testing.T) {
	a := &IOAttr{Flags: FlagPrepare | FlagCommit}
	require.True(t, a.HasFlag(FlagPrepare))
	require.True(t, a.HasFlag(FlagCommit))
	require.False(t, a.HasFlag(FlagCompress))
	require.True(t, a.HasFlag(FlagPrepare|FlagCommit))
}
