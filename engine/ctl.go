package engine

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"blobbackend/berrors"
	"blobbackend/wire"
)

// Engine-internal record flags, distinct from the caller-supplied
// command flags carried in RecordFlags (APPEND, NOCSUM, HAS_EXTHDR, ...).
const (
	ctlFlagRemoved     uint64 = 1 << 0
	ctlFlagUncommitted uint64 = 1 << 1
)

// ctlHeader is the engine's on-disk control struct prefixing every
// record: "[ engine disk-control struct | (extension header) | payload ]".
type ctlHeader struct {
	Key         wire.ID
	EngineFlags uint64
	RecordFlags uint64
	DataSize    uint64
	Timestamp   int64
	CRC         uint32
}

// ctlLen is the fixed, checksummed size of ctlHeader on disk.
const ctlLen = 64 + 8 + 8 + 8 + 8 + 4

// ctlEngineFlagsOffset is EngineFlags' byte offset within the encoded
// control struct, used to patch it in place once a record's commit or
// removal state changes without rewriting the whole struct.
const ctlEngineFlagsOffset = int64(wire.IDLen)

func encodeCtl(h ctlHeader, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(ctlLen + len(data))
	binary.Write(&buf, binary.LittleEndian, h.Key)
	binary.Write(&buf, binary.LittleEndian, h.EngineFlags)
	binary.Write(&buf, binary.LittleEndian, h.RecordFlags)
	binary.Write(&buf, binary.LittleEndian, h.DataSize)
	binary.Write(&buf, binary.LittleEndian, h.Timestamp)
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // checksum placeholder

	out := buf.Bytes()
	out = append(out, data...)
	crc := crc32.ChecksumIEEE(append(append([]byte{}, out[:ctlLen-4]...), out[ctlLen:]...))
	binary.LittleEndian.PutUint32(out[ctlLen-4:ctlLen], crc)
	return out
}

func decodeCtlHeader(raw []byte) (ctlHeader, error) {
	if len(raw) < ctlLen {
		return ctlHeader{}, berrors.New(berrors.Protocol, "short control struct read")
	}
	r := bytes.NewReader(raw[:ctlLen])
	var h ctlHeader
	binary.Read(r, binary.LittleEndian, &h.Key)
	binary.Read(r, binary.LittleEndian, &h.EngineFlags)
	binary.Read(r, binary.LittleEndian, &h.RecordFlags)
	binary.Read(r, binary.LittleEndian, &h.DataSize)
	binary.Read(r, binary.LittleEndian, &h.Timestamp)
	binary.Read(r, binary.LittleEndian, &h.CRC)
	return h, nil
}

// verifyCtlCRC recomputes encodeCtl's checksum over a full (control
// struct + data) record and reports whether it matches the stored CRC.
func verifyCtlCRC(full []byte) bool {
	if len(full) < ctlLen {
		return false
	}
	want := binary.LittleEndian.Uint32(full[ctlLen-4 : ctlLen])
	check := append(append([]byte{}, full[:ctlLen-4]...), full[ctlLen:]...)
	return crc32.ChecksumIEEE(check) == want
}

// encodeEngineFlagsPatch encodes the 8-byte EngineFlags field in
// isolation, for an in-place WriteAt at ctlOffset+ctlEngineFlagsOffset.
func encodeEngineFlagsPatch(flags uint64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, flags)
	return out
}
