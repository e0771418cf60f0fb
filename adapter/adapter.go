// Package adapter wraps the blob engine's write/read/lookup/remove
// primitives with the extension-header codec, translates command-level
// flags into engine flags, and produces the reply descriptors the
// dispatcher hands back to the transport. It is the thin
// wrapper-over-storage layer of this backend, grounded on the
// original's blob_write/blob_read/blob_file_info/blob_del and on the
// teacher's store-wrapper layering style.
package adapter

import (
	"bytes"
	"fmt"

	"blobbackend/berrors"
	"blobbackend/classifier"
	"blobbackend/engine"
	"blobbackend/integrity"
	"blobbackend/logging"
	"blobbackend/record"
	"blobbackend/wire"
)

// Adapter ties the engine, the access-pattern classifier, and the
// checksum engine together behind spec's write/read/lookup/delete/
// checksum operations.
type Adapter struct {
	eng      *engine.Engine
	cls      *classifier.Classifier
	checksum *integrity.ChecksumEngine
	logger   *logging.Logger
}

// New creates an Adapter over an already-open engine and classifier.
func New(eng *engine.Engine, cls *classifier.Classifier, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default
	}
	return &Adapter{
		eng:      eng,
		cls:      cls,
		checksum: integrity.NewChecksumEngine(integrity.ChecksumCRC32),
		logger:   logger,
	}
}

func keyHex(id wire.ID) string {
	return fmt.Sprintf("%x", id[:8])
}

// Write implements spec §4.3's write algorithm. It returns ackOnly=true
// when WRITE_NO_FILE_INFO suppressed the file-info reply; the caller is
// responsible for honoring whatever flags (NEED_ACK) are left set on io.
func (a *Adapter) Write(io *wire.IOAttr, payload []byte) (reply *wire.FileInfoReply, ackOnly bool, err error) {
	a.logger.Notice("adapter", "write", "write request", map[string]interface{}{
		"id": keyHex(io.ID), "offset": io.Offset, "size": io.Size, "flags": io.Flags,
	})

	if io.HasFlag(wire.FlagCompress) {
		return nil, false, berrors.New(berrors.Unsupported, "compression is not supported")
	}

	recordFlags := wire.FlagHasExthdr
	if io.HasFlag(wire.FlagAppend) {
		recordFlags |= wire.FlagAppend
	}
	if io.HasFlag(wire.FlagNoCsum) {
		recordFlags |= wire.FlagNoCsum
	}

	var wc engine.WriteControl
	var haveWC bool

	if io.HasFlag(wire.FlagPrepare) {
		reserveSize := int64(io.Num) + int64(record.HdrLen)
		wc, err = a.eng.WriteRecord(io.ID, reserveSize, nil, recordFlags, false)
		if err != nil {
			a.logger.Error("adapter", "write", "prepare failed", map[string]interface{}{"error": err.Error()})
			return nil, false, err
		}
		haveWC = true
	}

	if io.Size > 0 {
		ehdr := record.EncodeExt(io)
		payloadRecOffset := int64(record.HdrLen) + int64(io.Offset)
		vectors := []engine.Vector{
			{RecOffset: 0, Data: ehdr},
			{RecOffset: payloadRecOffset, Data: payload},
		}
		totalSize := payloadRecOffset + int64(len(payload))
		if haveWC && wc.TotalDataSize > totalSize {
			totalSize = wc.TotalDataSize
		}

		commit := true
		if io.HasFlag(wire.FlagPrepare) {
			commit = io.HasFlag(wire.FlagCommit)
		}

		wc, err = a.eng.WriteRecord(io.ID, totalSize, vectors, recordFlags, commit)
		if err != nil {
			a.logger.Error("adapter", "write", "write failed", map[string]interface{}{"error": err.Error()})
			return nil, false, err
		}
		haveWC = true

		if !io.HasFlag(wire.FlagPlainWrite) {
			if verr := verifyWriteback(wc, ehdr, payloadRecOffset, payload); verr != nil {
				a.logger.Error("adapter", "write", "write verification failed", map[string]interface{}{"error": verr.Error()})
				return nil, false, verr
			}
		}
	}

	if io.HasFlag(wire.FlagCommit) && io.HasFlag(wire.FlagPlainWrite) {
		wc, err = a.eng.Commit(io.ID, int64(io.Num)+int64(record.HdrLen))
		if err != nil {
			a.logger.Error("adapter", "write", "commit failed", map[string]interface{}{"error": err.Error()})
			return nil, false, err
		}
		haveWC = true
	}

	if !haveWC {
		wc, err = a.eng.Lookup(io.ID, true)
		if err != nil {
			return nil, false, err
		}
	}
	defer wc.Release()

	a.logger.Info("adapter", "write", "write committed", map[string]interface{}{
		"fd": wc.DataFD, "size": wc.TotalDataSize,
	})

	if io.HasFlag(wire.FlagWriteNoFileInfo) {
		io.Flags |= wire.FlagNeedAck
		return nil, true, nil
	}

	fdOffset := wc.DataOffset
	if wc.Flags&wire.FlagHasExthdr == wire.FlagHasExthdr {
		fdOffset += int64(record.HdrLen)
	}

	return &wire.FileInfoReply{
		FD:        wc.DataFD,
		Offset:    fdOffset,
		Size:      wc.TotalDataSize,
		Timestamp: wc.Timestamp,
	}, false, nil
}

// verifyWriteback re-reads the bytes just written and compares them
// against what was requested — the "verifying write" path used whenever
// PLAIN_WRITE is not set.
func verifyWriteback(wc engine.WriteControl, ehdr []byte, payloadRecOffset int64, payload []byte) error {
	got := make([]byte, len(ehdr))
	if _, err := wc.File.ReadAt(got, wc.DataOffset); err != nil {
		return berrors.Wrap(berrors.IOError, "verify readback: extension header", err)
	}
	if !bytes.Equal(got, ehdr) {
		return berrors.New(berrors.Corrupt, "write verification failed: extension header mismatch")
	}
	if len(payload) == 0 {
		return nil
	}
	got2 := make([]byte, len(payload))
	if _, err := wc.File.ReadAt(got2, wc.DataOffset+payloadRecOffset); err != nil {
		return berrors.Wrap(berrors.IOError, "verify readback: payload", err)
	}
	if !bytes.Equal(got2, payload) {
		return berrors.New(berrors.Corrupt, "write verification failed: payload mismatch")
	}
	return nil
}

// Read implements spec §4.3's read algorithm. last indicates this is the
// final frame of the command's reply sequence (always true for a plain
// READ; range replays build their read replies in package rangeengine
// instead).
func (a *Adapter) Read(io *wire.IOAttr, last bool) (*wire.ReadReply, error) {
	wc, err := a.eng.Lookup(io.ID, io.HasFlag(wire.FlagNoCsum))
	if err != nil {
		return nil, err
	}
	defer wc.Release()

	offset := wc.DataOffset
	size := wc.TotalDataSize

	if wc.Flags&wire.FlagHasExthdr == wire.FlagHasExthdr {
		hdr, err := record.DecodeExt(wc.File, offset)
		if err != nil {
			return nil, err
		}
		record.ApplyToIO(hdr, io)
		offset += int64(record.HdrLen)
		size -= int64(record.HdrLen)
	}
	io.TotalSize = uint64(size)

	if int64(io.Offset) >= size {
		return nil, berrors.New(berrors.OutOfRange, "read offset past end of record").
			WithContext("id", keyHex(io.ID)).WithContext("offset", io.Offset).WithContext("size", size)
	}
	offset += int64(io.Offset)
	size -= int64(io.Offset)

	if io.Size != 0 && int64(io.Size) < size {
		size = int64(io.Size)
	} else {
		io.Size = uint64(size)
	}

	if size > 0 && last {
		io.Flags &^= wire.FlagNeedAck
	}

	a.cls.Observe(wc.DataFD, offset)
	randomAccess := a.cls.RandomAccess()
	if randomAccess {
		classifier.CacheForget(wc.DataFD, offset, size)
	}

	a.logger.Debug("adapter", "read", "read served", map[string]interface{}{
		"id": keyHex(io.ID), "fd": wc.DataFD, "offset": offset, "size": size,
	})

	return &wire.ReadReply{FD: wc.DataFD, Offset: offset, Size: size, CacheForget: randomAccess}, nil
}

// Lookup implements spec §4.3's lookup/file-info algorithm.
func (a *Adapter) Lookup(io *wire.IOAttr) (*wire.FileInfoReply, error) {
	wc, err := a.eng.Lookup(io.ID, io.HasFlag(wire.FlagNoCsum))
	if err != nil {
		return nil, err
	}
	defer wc.Release()

	offset := wc.DataOffset
	size := wc.TotalDataSize
	if wc.Flags&wire.FlagHasExthdr == wire.FlagHasExthdr {
		hdr, err := record.DecodeExt(wc.File, offset)
		if err != nil {
			return nil, err
		}
		record.ApplyToIO(hdr, io)
		offset += int64(record.HdrLen)
		size -= int64(record.HdrLen)
	}
	io.TotalSize = uint64(size)

	if size == 0 {
		return nil, berrors.New(berrors.NotFound, "lookup: record has zero effective size")
	}

	return &wire.FileInfoReply{FD: wc.DataFD, Offset: offset, Size: size, Timestamp: wc.Timestamp}, nil
}

// Delete implements spec §4.3's delete operation: a direct engine
// remove, propagating the engine's error verbatim.
func (a *Adapter) Delete(io *wire.IOAttr) error {
	if err := a.eng.Remove(io.ID); err != nil {
		a.logger.Error("adapter", "delete", "remove failed", map[string]interface{}{
			"id": keyHex(io.ID), "error": err.Error(),
		})
		return err
	}
	a.logger.Info("adapter", "delete", "record removed", map[string]interface{}{"id": keyHex(io.ID)})
	return nil
}

// Checksum implements spec §4.3's checksum operation: a NOCSUM lookup,
// the same extension-header offset adjustment as read, then delegation
// to the pluggable checksum engine over the resulting payload range.
func (a *Adapter) Checksum(io *wire.IOAttr, buf []byte) ([]byte, error) {
	wc, err := a.eng.Lookup(io.ID, true)
	if err != nil {
		return nil, err
	}
	defer wc.Release()

	offset := wc.DataOffset
	size := wc.TotalDataSize
	if wc.Flags&wire.FlagHasExthdr == wire.FlagHasExthdr {
		offset += int64(record.HdrLen)
		size -= int64(record.HdrLen)
	}

	if size == 0 {
		for i := range buf {
			buf[i] = 0
		}
		return buf, nil
	}
	return a.checksum.ChecksumRange(wc.File, offset, size)
}
