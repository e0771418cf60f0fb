package adapter

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"blobbackend/berrors"
	"blobbackend/classifier"
	"blobbackend/engine"
	"blobbackend/logging"
	"blobbackend/wire"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	eng, err := engine.Open(engine.Options{
		DataPath:              t.TempDir(),
		RecordsInBlob:         1000,
		IndexBlockSize:        64,
		IndexBlockBloomLength: 1024,
	}, logging.Default)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	cls := classifier.New(1<<40, logging.Default)
	return New(eng, cls, logging.Default)
}

func keyWithByte(b byte) wire.ID {
	var id wire.ID
	id[0] = b
	return id
}

// TestWriteThenRead covers P1 (round-trip): write(k, payload) then
// read(k) returns the same bytes and the write-time timestamp.
func TestWriteThenRead(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x00)
	payload := []byte("hello")

	writeIO := &wire.IOAttr{ID: key, Size: uint64(len(payload)), Flags: wire.FlagHasExthdr, Timestamp: 12345}
	reply, ackOnly, err := a.Write(writeIO, payload)
	require.NoError(t, err)
	require.False(t, ackOnly)
	require.Equal(t, int64(len(payload)+24), reply.Size) // includes extension header

	readIO := &wire.IOAttr{ID: key}
	readReply, err := a.Read(readIO, true)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), readReply.Size)
	require.Equal(t, uint64(len(payload)), readIO.TotalSize)

	buf := make([]byte, readReply.Size)
	// Pread borrows the engine-owned fd without taking ownership of it.
	_, err = syscall.Pread(readReply.FD, buf, readReply.Offset)
	require.NoError(t, err)
	require.Equal(t, payload, buf)
	require.Equal(t, int64(12345), readIO.Timestamp)
}

// TestReadSlicing covers P2: reading with an offset and no size limit
// returns the remaining bytes.
func TestReadSlicing(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x01)
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeIO := &wire.IOAttr{ID: key, Size: uint64(len(payload)), Flags: wire.FlagHasExthdr}
	_, _, err := a.Write(writeIO, payload)
	require.NoError(t, err)

	readIO := &wire.IOAttr{ID: key, Offset: 1048570}
	reply, err := a.Read(readIO, true)
	require.NoError(t, err)
	require.Equal(t, int64(6), reply.Size)
}

// TestReadOutOfRange covers P3: an offset at or past the record's size
// fails with OUT_OF_RANGE.
func TestReadOutOfRange(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x02)
	payload := []byte("hi")
	writeIO := &wire.IOAttr{ID: key, Size: uint64(len(payload)), Flags: wire.FlagHasExthdr}
	_, _, err := a.Write(writeIO, payload)
	require.NoError(t, err)

	readIO := &wire.IOAttr{ID: key, Offset: uint64(len(payload))}
	_, err = a.Read(readIO, true)
	require.Error(t, err)
	require.True(t, berrors.Is(err, berrors.OutOfRange))
}

// TestWriteCompressUnsupported covers P7: COMPRESS fails UNSUPPORTED
// and never reaches the engine — a subsequent read sees no record.
func TestWriteCompressUnsupported(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x03)
	writeIO := &wire.IOAttr{ID: key, Size: 5, Flags: wire.FlagHasExthdr | wire.FlagCompress}
	_, _, err := a.Write(writeIO, []byte("hello"))
	require.Error(t, err)
	require.True(t, berrors.Is(err, berrors.Unsupported))

	_, err = a.Read(&wire.IOAttr{ID: key}, true)
	require.Error(t, err)
	require.True(t, berrors.Is(err, berrors.NotFound))
}

// TestPrepareCommit covers P8: a PREPARE followed by a plain write and
// a COMMIT produces a record whose recorded size is the reservation.
func TestPrepareCommit(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x04)

	reserve := uint64(100)
	_, _, err := a.Write(&wire.IOAttr{ID: key, Flags: wire.FlagPrepare, Num: reserve}, nil)
	require.NoError(t, err)

	payload := []byte("partial")
	_, _, err = a.Write(&wire.IOAttr{
		ID: key, Flags: wire.FlagPrepare | wire.FlagPlainWrite, Size: uint64(len(payload)),
	}, payload)
	require.NoError(t, err)

	reply, _, err := a.Write(&wire.IOAttr{
		ID: key, Flags: wire.FlagPrepare | wire.FlagPlainWrite | wire.FlagCommit, Num: reserve,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(reserve)+24, reply.Size)

	// The partial write committed above must still be there: a PREPARE
	// reservation must never shrink out from under a write already
	// placed inside it.
	readIO := &wire.IOAttr{ID: key, Size: uint64(len(payload))}
	readReply, err := a.Read(readIO, true)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	_, err = syscall.Pread(readReply.FD, buf, readReply.Offset)
	require.NoError(t, err)
	require.Equal(t, payload, buf)
}

// TestWriteNoFileInfoSuppressesReply covers the WRITE_NO_FILE_INFO /
// NEED_ACK interplay (spec §9 open question): the reply is suppressed
// but NEED_ACK is raised on the command envelope.
func TestWriteNoFileInfoSuppressesReply(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x05)
	io := &wire.IOAttr{ID: key, Size: 3, Flags: wire.FlagHasExthdr | wire.FlagWriteNoFileInfo}
	reply, ackOnly, err := a.Write(io, []byte("abc"))
	require.NoError(t, err)
	require.True(t, ackOnly)
	require.Nil(t, reply)
	require.True(t, io.HasFlag(wire.FlagNeedAck))
}

// TestDeleteThenReadNotFound covers deletion semantics used by P5/P6
// scenario 5: removing a key makes subsequent reads fail NOT_FOUND.
func TestDeleteThenReadNotFound(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x06)
	_, _, err := a.Write(&wire.IOAttr{ID: key, Size: 1, Flags: wire.FlagHasExthdr}, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, a.Delete(&wire.IOAttr{ID: key}))

	_, err = a.Read(&wire.IOAttr{ID: key}, true)
	require.Error(t, err)
	require.True(t, berrors.Is(err, berrors.NotFound))
}

// TestChecksumZeroSizeFillsZero covers the Checksum operation's
// zero-size fallback. A PREPARE+COMMIT with Num 0 leaves a committed
// record that holds only its extension header.
func TestChecksumZeroSizeFillsZero(t *testing.T) {
	a := newTestAdapter(t)
	key := keyWithByte(0x07)
	_, _, err := a.Write(&wire.IOAttr{
		ID: key, Flags: wire.FlagPrepare | wire.FlagPlainWrite | wire.FlagCommit,
	}, nil)
	require.NoError(t, err)

	buf := []byte{1, 2, 3}
	out, err := a.Checksum(&wire.IOAttr{ID: key}, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0}, out)
}
