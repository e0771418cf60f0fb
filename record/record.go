// Package record implements the extension-header codec: the fixed-size
// metadata block that optionally prefixes a record's user payload on disk.
// Bit-exact layout is preserved for on-disk compatibility; unknown/reserved
// bits are carried through verbatim on the read path.
package record

import (
	"encoding/binary"
	"fmt"

	"blobbackend/berrors"
	"blobbackend/wire"
)

// HdrLen is the fixed size in bytes of an extension header: an 8-byte
// timestamp (unix nanoseconds), 8-byte user flags, and 8 reserved bytes
// preserved verbatim across a read-modify-write cycle.
const HdrLen = 24

// ExtHeader is the decoded extension header.
type ExtHeader struct {
	Timestamp int64
	Flags     uint64
	Reserved  uint64
}

// EncodeExt projects an I/O envelope's timestamp and flags into a fresh
// fixed-size on-disk extension header. Reserved bits are zero; use
// EncodeExtHeader to re-encode a header whose Reserved bits were read
// back from disk.
func EncodeExt(io *wire.IOAttr) []byte {
	return EncodeExtHeader(ExtHeader{Timestamp: io.Timestamp, Flags: io.Flags})
}

// EncodeExtHeader encodes a fully-populated ExtHeader, preserving its
// Reserved bits.
func EncodeExtHeader(h ExtHeader) []byte {
	buf := make([]byte, HdrLen)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.Timestamp))
	binary.LittleEndian.PutUint64(buf[8:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.Reserved)
	return buf
}

// reader is the minimal slice of io.ReaderAt the codec needs.
type reader interface {
	ReadAt(p []byte, off int64) (int, error)
}

// DecodeExt reads exactly HdrLen bytes at the given file offset and
// decodes them into an ExtHeader. Fails with IOError on a short read,
// and with Corrupt if the decoded timestamp is structurally impossible
// (its sign bit set, which a genuine unix-nanosecond write time will not
// produce until the year 2262 — seeing it here means the header was
// never written by EncodeExtHeader, or was overwritten by a stray write).
func DecodeExt(r reader, offset int64) (ExtHeader, error) {
	buf := make([]byte, HdrLen)
	n, err := r.ReadAt(buf, offset)
	if err != nil || n != HdrLen {
		return ExtHeader{}, berrors.New(berrors.IOError,
			fmt.Sprintf("short extension header read: got %d of %d bytes", n, HdrLen)).WithCause(err)
	}
	h := ExtHeader{
		Timestamp: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Flags:     binary.LittleEndian.Uint64(buf[8:16]),
		Reserved:  binary.LittleEndian.Uint64(buf[16:24]),
	}
	if h.Timestamp < 0 {
		return ExtHeader{}, berrors.New(berrors.Corrupt,
			fmt.Sprintf("extension header timestamp out of range: %d", h.Timestamp))
	}
	return h, nil
}

// ApplyToIO installs the header's stored timestamp and flags into the
// I/O envelope so downstream reply builders see the record's persisted
// metadata rather than whatever the client supplied on the request.
func ApplyToIO(h ExtHeader, io *wire.IOAttr) {
	io.Timestamp = h.Timestamp
	io.Flags = h.Flags
}
