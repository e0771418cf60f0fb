package rangeengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"blobbackend/adapter"
	"blobbackend/classifier"
	"blobbackend/engine"
	"blobbackend/logging"
	"blobbackend/wire"
)

func setup(t *testing.T) (*engine.Engine, *adapter.Adapter, *Engine) {
	t.Helper()
	eng, err := engine.Open(engine.Options{
		DataPath:              t.TempDir(),
		RecordsInBlob:         1000,
		IndexBlockSize:        64,
		IndexBlockBloomLength: 1024,
	}, logging.Default)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	a := adapter.New(eng, classifier.New(1<<40, logging.Default), logging.Default)
	return eng, a, New(eng, logging.Default)
}

func keyN(n byte) wire.ID {
	var id wire.ID
	id[0] = n
	return id
}

func writeN(t *testing.T, a *adapter.Adapter, n byte, payload []byte) {
	t.Helper()
	_, _, err := a.Write(&wire.IOAttr{ID: keyN(n), Size: uint64(len(payload)), Flags: wire.FlagHasExthdr}, payload)
	require.NoError(t, err)
}

// TestReadRangeSort covers P5: with Sort set, the apply phase's
// record_key sequence is nondecreasing bytewise (scenario 4: K0..K9).
func TestReadRangeSort(t *testing.T) {
	_, a, re := setup(t)
	for n := byte(9); ; n-- {
		writeN(t, a, n, []byte{n})
		if n == 0 {
			break
		}
	}

	var start, end wire.ID
	start[0] = 0
	end[0] = 9
	result, err := re.ReadRange(Query{Start: start, End: end, Sort: true, Parent: end})
	require.NoError(t, err)
	require.Len(t, result.Hits, 10)
	for i, h := range result.Hits {
		require.Equal(t, byte(i), h.IO.ID[0])
	}
	require.True(t, result.HasTerminator)
	require.Equal(t, uint64(10), result.Terminator.Num)
}

// TestReadRangeLimits covers P6: io.num = N, io.start = S emits at most
// N hits beginning at the Sth collected hit.
func TestReadRangeLimits(t *testing.T) {
	_, a, re := setup(t)
	for n := byte(0); n < 10; n++ {
		writeN(t, a, n, []byte{n})
	}

	var start, end wire.ID
	start[0], end[0] = 0, 9
	result, err := re.ReadRange(Query{Start: start, End: end, Sort: true, StartFrom: 3, Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	require.Equal(t, byte(3), result.Hits[0].IO.ID[0])
	require.Equal(t, byte(4), result.Hits[1].IO.ID[0])
}

// TestDelRange covers scenario 5: DEL_RANGE over [K0, K4] removes those
// keys while leaving K5 intact.
func TestDelRange(t *testing.T) {
	eng, a, re := setup(t)
	for n := byte(0); n < 10; n++ {
		writeN(t, a, n, []byte{n})
	}

	var start, end wire.ID
	start[0], end[0] = 0, 4
	result, err := re.DelRange(Query{Start: start, End: end})
	require.NoError(t, err)
	require.Equal(t, uint64(5), result.Deleted)

	_, lookupErr := eng.Lookup(keyN(2), true)
	require.Error(t, lookupErr)

	_, err = eng.Lookup(keyN(5), true)
	require.NoError(t, err)
}

// TestReadRangeSkipsOffsetPastSize covers the collect pass's
// requested_offset > record_size skip rule.
func TestReadRangeSkipsOffsetPastSize(t *testing.T) {
	_, a, re := setup(t)
	writeN(t, a, 0, []byte("ab"))
	writeN(t, a, 1, []byte("abcdef"))

	var start, end wire.ID
	start[0], end[0] = 0, 1
	result, err := re.ReadRange(Query{Start: start, End: end, Sort: true, RequestedOffset: 30})
	require.NoError(t, err)
	require.Empty(t, result.Hits)
	require.False(t, result.HasTerminator)
}

// TestReadRangeEmpty covers the no-hits case: no terminator is sent.
func TestReadRangeEmpty(t *testing.T) {
	_, _, re := setup(t)
	var start, end wire.ID
	end[0] = 0xff
	result, err := re.ReadRange(Query{Start: start, End: end})
	require.NoError(t, err)
	require.Empty(t, result.Hits)
	require.False(t, result.HasTerminator)
}
