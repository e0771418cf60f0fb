// Package wire defines the on-wire command envelope and flag/command-code
// constants exchanged between the transport and the backend. The transport
// itself is an external collaborator; this package is the shared vocabulary
// it and the backend speak.
package wire

import "encoding/binary"

// IDLen is the fixed width of a key, in bytes.
const IDLen = 64

// ID is a fixed-width opaque key. Equality is bytewise, ordering is
// lexicographic on bytes.
type ID [IDLen]byte

// Command codes, keyed by the dispatcher's command table.
type Command uint32

const (
	CmdLookup Command = iota + 1
	CmdWrite
	CmdRead
	CmdReadRange
	CmdDelRange
	CmdStat
	CmdDel
	CmdDefrag
)

// IO flag bits, carried on IOAttr.Flags.
const (
	FlagAppend          uint64 = 1 << 0
	FlagNoCsum          uint64 = 1 << 1
	FlagPrepare         uint64 = 1 << 2
	FlagCommit          uint64 = 1 << 3
	FlagPlainWrite      uint64 = 1 << 4
	FlagWriteNoFileInfo uint64 = 1 << 5
	FlagCompress        uint64 = 1 << 6
	FlagSort            uint64 = 1 << 7
	FlagNoData          uint64 = 1 << 8
	FlagNeedAck         uint64 = 1 << 9
	FlagHasExthdr       uint64 = 1 << 10
	FlagCacheForget     uint64 = 1 << 11
	FlagStatus          uint64 = 1 << 12 // DEFRAG: query status instead of starting
)

// IOAttr is the per-command envelope. Offset/Size refer to the logical
// user payload (post extension-header); Num is either a full record-size
// hint on writes or a range-result limit on READ_RANGE.
type IOAttr struct {
	ID        ID
	Parent    ID // upper-bound key for range requests
	Flags     uint64
	Offset    uint64
	Size      uint64
	Num       uint64
	Start     uint64
	TotalSize uint64
	Timestamp int64 // unix nanoseconds
}

// HasFlag reports whether all bits of f are set.
func (a *IOAttr) HasFlag(f uint64) bool { return a.Flags&f == f }

// DefragCtl carries the DEFRAG command's payload: whether to query status
// or start a new pass.
type DefragCtl struct {
	Flags uint64
}

// FileInfoReply is the WRITE/LOOKUP reply: a zero-copy reference to the
// record's on-disk bytes plus its stored timestamp. The transport reads
// Size bytes at Offset within FD; the backend never copies the payload.
type FileInfoReply struct {
	FD        int
	Offset    int64
	Size      int64
	Timestamp int64
}

// ReadReply is the READ/READ_RANGE reply: a zero-copy fd+offset+length
// reference, with CacheForget carrying the access classifier's verdict
// for this read so the transport can advise the kernel to drop pages
// after it finishes sending.
type ReadReply struct {
	FD          int
	Offset      int64
	Size        int64
	CacheForget bool
}

// StatReply carries filesystem usage and record counters, surfaced by
// the STAT command.
type StatReply struct {
	FSUsed         uint64
	FSFree         uint64
	TotalRecords   int64
	RemovedRecords int64
	DefragState    string
}

// DefragReply carries the current or newly-started defrag state.
type DefragReply struct {
	State string
}

// RangeTerminator is the final frame a READ_RANGE/DEL_RANGE reply
// sequence sends once every hit has been replayed.
type RangeTerminator struct {
	Num uint64
}

// wireIOAttr is the fixed-width wire representation of IOAttr.
// ConvertIOAttr swaps IOAttr's fields in place and does not use it.
type wireIOAttr struct {
	ID        ID
	Parent    ID
	Flags     uint64
	Offset    uint64
	Size      uint64
	Num       uint64
	Start     uint64
	TotalSize uint64
	Timestamp int64
}

// ConvertIOAttr byte-swaps an IOAttr between wire and host order. The
// backend is little-endian internally; on a big-endian wire this performs
// the swap described in spec's convert_io_attr.
func ConvertIOAttr(a *IOAttr, wireOrder binary.ByteOrder) {
	if wireOrder == binary.LittleEndian {
		return
	}
	a.Flags = swap64(a.Flags)
	a.Offset = swap64(a.Offset)
	a.Size = swap64(a.Size)
	a.Num = swap64(a.Num)
	a.Start = swap64(a.Start)
	a.TotalSize = swap64(a.TotalSize)
	a.Timestamp = int64(swap64(uint64(a.Timestamp)))
}

// ConvertDefragCtl byte-swaps a DefragCtl between wire and host order.
func ConvertDefragCtl(c *DefragCtl, wireOrder binary.ByteOrder) {
	if wireOrder == binary.LittleEndian {
		return
	}
	c.Flags = swap64(c.Flags)
}

func swap64(v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return binary.BigEndian.Uint64(b[:])
}
