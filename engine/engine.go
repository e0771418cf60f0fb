// Package engine is the append-only blob engine: segment files, an
// in-memory index fronted by per-block Bloom filters, and background
// defragmentation. It exposes the write/read/remove/iterate/defrag
// primitives spec.md treats as belonging to an external collaborator —
// this package is that collaborator's implementation, generalized from
// the write-ahead log this repository started from.
package engine

import (
	"context"
	"os"
	"time"

	"blobbackend/berrors"
	"blobbackend/logging"
	"blobbackend/pool"
	"blobbackend/wire"
)

// Options configures an Engine, corresponding to the backend config
// keys of spec §6.
type Options struct {
	DataPath              string
	Sync                  time.Duration
	BlobFlags             uint64
	BlobSize              int64
	BlobSizeLimit         int64
	RecordsInBlob         int
	DefragTimeout         time.Duration
	DefragSplay           time.Duration
	DefragPercentage      int
	IndexBlockSize        int
	IndexBlockBloomLength int
}

// Vector is one piece of a two-vector (or larger) write: bytes to be
// written at a record-relative offset within the record's data area
// (i.e. relative to the byte immediately following the control struct).
type Vector struct {
	RecOffset int64
	Data      []byte
}

// WriteControl is the result of a write or lookup: everything a
// zero-copy read reply needs to reference the record's bytes. File is
// borrowed from the segment pool (or is the active segment's own
// handle) — callers must call Release when done and must never close
// File themselves; it may be shared with concurrent readers.
type WriteControl struct {
	File          *os.File
	Release       func()
	DataFD        int
	CtlDataOffset int64
	DataOffset    int64
	TotalDataSize int64
	Flags         uint64
	Timestamp     int64
}

// Engine ties together segments, index, pool, and the defrag scheduler.
type Engine struct {
	opts   Options
	logger *logging.Logger
	segs   *segmentManager
	index  *blockIndex
	pool   *pool.Pool
	defrag *defragScheduler
}

// Open opens (or creates) the blob engine rooted at opts.DataPath.
func Open(opts Options, logger *logging.Logger) (*Engine, error) {
	if opts.DataPath == "" {
		return nil, berrors.New(berrors.InvalidConfig, "data path must not be empty")
	}
	if logger == nil {
		logger = logging.Default
	}

	p := pool.New(pool.DefaultConfig())
	segs, err := newSegmentManager(opts.DataPath, opts.BlobSizeLimit, opts.RecordsInBlob, p)
	if err != nil {
		p.Close()
		return nil, err
	}

	e := &Engine{
		opts:   opts,
		logger: logger,
		segs:   segs,
		index:  newBlockIndex(opts.IndexBlockSize, opts.IndexBlockBloomLength),
		pool:   p,
	}
	if err := e.recoverIndex(); err != nil {
		segs.Close()
		p.Close()
		return nil, err
	}
	e.defrag = newDefragScheduler(opts.DefragTimeout, opts.DefragSplay, opts.DefragPercentage, logger, e.compact)
	e.defrag.Run(context.Background())
	return e, nil
}

// recoverIndex rebuilds the in-memory index from the control structs
// persisted in every existing segment, so that records written before a
// prior Close are visible again after Open — the index itself holds
// nothing on disk.
func (e *Engine) recoverIndex() error {
	return e.segs.Scan(func(segID uint32, ctlOffset int64, h ctlHeader) error {
		entry := indexEntry{
			segmentID: segID,
			ctlOffset: ctlOffset,
			dataSize:  int64(h.DataSize),
			flags:     h.RecordFlags,
			timestamp: h.Timestamp,
			committed: h.EngineFlags&ctlFlagUncommitted == 0,
			removed:   h.EngineFlags&ctlFlagRemoved != 0,
		}
		e.index.Put(h.Key, entry)
		return nil
	})
}

// WriteRecord reserves (if necessary), writes the given vectors, and —
// when commit is true — finalizes a record for key. totalSize is the
// full data-area size (extension header + payload, if present).
func (e *Engine) WriteRecord(key wire.ID, totalSize int64, vectors []Vector, recordFlags uint64, commit bool) (WriteControl, error) {
	entry, exists := e.index.Get(key)

	var segID uint32
	var ctlOffset int64
	var timestamp int64

	if exists && !entry.removed && entry.dataSize >= totalSize {
		segID, ctlOffset, timestamp = entry.segmentID, entry.ctlOffset, entry.timestamp
		// A later call with a smaller totalSize (e.g. a repeated PREPARE
		// whose Num wasn't re-supplied) must not shrink an already-larger
		// reservation out from under writes already placed within it.
		totalSize = entry.dataSize
	} else {
		timestamp = time.Now().UnixNano()
		engineFlags := ctlFlagUncommitted
		if commit {
			engineFlags = 0
		}
		data := make([]byte, totalSize)
		ch := ctlHeader{
			Key:         key,
			EngineFlags: engineFlags,
			RecordFlags: recordFlags,
			DataSize:    uint64(totalSize),
			Timestamp:   timestamp,
		}
		buf := encodeCtl(ch, data)
		var err error
		segID, ctlOffset, _, err = e.segs.Append(buf)
		if err != nil {
			return WriteControl{}, err
		}
	}

	dataOffset := ctlOffset + ctlLen
	for _, v := range vectors {
		if err := e.segs.WriteAt(segID, v.Data, dataOffset+v.RecOffset); err != nil {
			return WriteControl{}, err
		}
	}

	wasCommitted := exists && entry.committed
	nowCommitted := commit || wasCommitted
	if exists && nowCommitted && !wasCommitted {
		if err := e.segs.WriteAt(segID, encodeEngineFlagsPatch(0), ctlOffset+ctlEngineFlagsOffset); err != nil {
			return WriteControl{}, err
		}
	}

	newEntry := indexEntry{
		segmentID: segID,
		ctlOffset: ctlOffset,
		dataSize:  totalSize,
		flags:     recordFlags,
		timestamp: timestamp,
		committed: nowCommitted,
		removed:   false,
	}
	e.index.Put(key, newEntry)

	file, release, err := e.segs.File(context.Background(), segID)
	if err != nil {
		return WriteControl{}, err
	}
	return WriteControl{
		File:          file,
		Release:       release,
		DataFD:        int(file.Fd()),
		CtlDataOffset: ctlOffset,
		DataOffset:    dataOffset,
		TotalDataSize: totalSize,
		Flags:         recordFlags,
		Timestamp:     timestamp,
	}, nil
}

// Commit finalizes a previously reserved (PREPARE'd) record.
func (e *Engine) Commit(key wire.ID, totalSize int64) (WriteControl, error) {
	entry, ok := e.index.Get(key)
	if !ok {
		return WriteControl{}, berrors.New(berrors.NotFound, "commit: no such key")
	}
	if !entry.committed {
		if err := e.segs.WriteAt(entry.segmentID, encodeEngineFlagsPatch(0), entry.ctlOffset+ctlEngineFlagsOffset); err != nil {
			return WriteControl{}, err
		}
	}
	entry.committed = true
	entry.dataSize = totalSize
	e.index.Put(key, entry)

	file, release, err := e.segs.File(context.Background(), entry.segmentID)
	if err != nil {
		return WriteControl{}, err
	}
	return WriteControl{
		File:          file,
		Release:       release,
		DataFD:        int(file.Fd()),
		CtlDataOffset: entry.ctlOffset,
		DataOffset:    entry.ctlOffset + ctlLen,
		TotalDataSize: totalSize,
		Flags:         entry.flags,
		Timestamp:     entry.timestamp,
	}, nil
}

// Lookup returns the WriteControl for an existing, committed record.
// noCsum is accepted for interface symmetry with the original's
// EBLOB_READ_CSUM/NOCSUM distinction; this engine has no built-in
// checksum-on-lookup path (the adapter's Checksum operation owns that).
func (e *Engine) Lookup(key wire.ID, noCsum bool) (WriteControl, error) {
	entry, ok := e.index.Get(key)
	if !ok || entry.removed || !entry.committed {
		return WriteControl{}, berrors.New(berrors.NotFound, "lookup: no such key")
	}
	file, release, err := e.segs.File(context.Background(), entry.segmentID)
	if err != nil {
		return WriteControl{}, err
	}
	return WriteControl{
		File:          file,
		Release:       release,
		DataFD:        int(file.Fd()),
		CtlDataOffset: entry.ctlOffset,
		DataOffset:    entry.ctlOffset + ctlLen,
		TotalDataSize: entry.dataSize,
		Flags:         entry.flags,
		Timestamp:     entry.timestamp,
	}, nil
}

// Remove tombstones a record, both in the index and on disk so the
// tombstone survives a Close/Open recovery cycle.
func (e *Engine) Remove(key wire.ID) error {
	entry, ok := e.index.Get(key)
	if !ok || entry.removed {
		return berrors.New(berrors.NotFound, "remove: no such key")
	}
	if err := e.segs.WriteAt(entry.segmentID, encodeEngineFlagsPatch(ctlFlagRemoved), entry.ctlOffset+ctlEngineFlagsOffset); err != nil {
		return err
	}
	entry.removed = true
	e.index.Put(key, entry)
	return nil
}

// Iterate visits every committed, non-removed record in engine order,
// decoding its stored flags and handing the caller the raw data-area
// bytes (extension header included, if present — the caller is
// responsible for peeling it off, per spec's pre-callback contract).
func (e *Engine) Iterate(fn func(key wire.ID, payload []byte, flags uint64) error) error {
	var outerErr error
	e.index.Range(wire.ID{}, maxID(), func(key wire.ID, entry indexEntry) bool {
		file, release, err := e.segs.File(context.Background(), entry.segmentID)
		if err != nil {
			outerErr = err
			return false
		}
		data := make([]byte, entry.dataSize)
		_, err = file.ReadAt(data, entry.ctlOffset+ctlLen)
		release()
		if err != nil {
			outerErr = berrors.Wrap(berrors.IOError, "iterate read", err)
			return false
		}
		if err := fn(key, data, entry.flags); err != nil {
			outerErr = err
			return false
		}
		return true
	})
	return outerErr
}

func maxID() wire.ID {
	var id wire.ID
	for i := range id {
		id[i] = 0xff
	}
	return id
}

// RangeKeys is used by the range engine's collect pass: it visits every
// committed, non-removed key in [start, end] and hands back its current
// data size (for the requested_offset > record_size skip rule).
func (e *Engine) RangeKeys(start, end wire.ID, fn func(key wire.ID, dataSize int64) bool) {
	e.index.Range(start, end, func(key wire.ID, entry indexEntry) bool {
		return fn(key, entry.dataSize)
	})
}

// Stats returns the live and removed record counts.
func (e *Engine) Stats() (total, removed int64) {
	return e.index.Stats()
}

// DefragStatus reports the background scheduler's current state.
func (e *Engine) DefragStatus() DefragState {
	return e.defrag.Status()
}

// DefragStart triggers an immediate out-of-band defrag pass.
func (e *Engine) DefragStart(ctx context.Context) {
	e.defrag.Start(ctx)
}

// compact is the background defrag pass. A full segment-rewrite
// compactor is replication/cluster territory; this reclaims tombstoned
// index entries' bookkeeping, which is the part of defrag this backend
// owns directly.
func (e *Engine) compact(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	purged := e.index.Purge()
	e.logger.Info("engine", "defrag", "purged tombstoned index entries", map[string]interface{}{"count": purged})
	return nil
}

// Close releases the engine's resources: stops the defrag scheduler,
// closes the active segment, and drains the fd pool.
func (e *Engine) Close() error {
	if err := e.defrag.Close(); err != nil {
		e.logger.Error("engine", "close", "defrag shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := e.segs.Close(); err != nil {
		return err
	}
	return e.pool.Close()
}

