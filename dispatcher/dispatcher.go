// Package dispatcher maps command codes to blob-adapter and range-engine
// operations, per spec §4.5's command table. It is the boundary where
// structured BackendErrors become the negated-errno integers the
// transport places in a reply header.
package dispatcher

import (
	"context"
	"path/filepath"
	"syscall"

	"blobbackend/adapter"
	"blobbackend/berrors"
	"blobbackend/engine"
	"blobbackend/logging"
	"blobbackend/rangeengine"
	"blobbackend/wire"
)

// Reply is the sum of everything a dispatched command may hand back;
// exactly one field (other than Terminator, which may accompany
// RangeHits) is populated depending on the command.
type Reply struct {
	FileInfo   *wire.FileInfoReply
	Read       *wire.ReadReply
	RangeHits  []rangeengine.ReadHit
	Terminator *wire.RangeTerminator
	Stat       *wire.StatReply
	Defrag     *wire.DefragReply
	Checksum   []byte
	AckOnly    bool
}

// Dispatcher routes decoded commands to the adapter/range engine and
// reports filesystem + record stats for the lifecycle bridge.
type Dispatcher struct {
	adapter  *adapter.Adapter
	ranges   *rangeengine.Engine
	eng      *engine.Engine
	dataPath string
	logger   *logging.Logger
}

// New creates a Dispatcher wired to an already-open adapter, range
// engine, and blob engine.
func New(a *adapter.Adapter, r *rangeengine.Engine, eng *engine.Engine, dataPath string, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default
	}
	return &Dispatcher{adapter: a, ranges: r, eng: eng, dataPath: dataPath, logger: logger}
}

// Dispatch handles a single decoded command. It returns the reply
// payload and the negated-errno the transport places in the reply
// header (0 on success).
func (d *Dispatcher) Dispatch(ctx context.Context, cmd wire.Command, io *wire.IOAttr, payload []byte, checksumBuf []byte, defragCtl *wire.DefragCtl) (Reply, int) {
	var reply Reply
	var err error

	switch cmd {
	case wire.CmdLookup:
		reply.FileInfo, err = d.adapter.Lookup(io)

	case wire.CmdWrite:
		reply.FileInfo, reply.AckOnly, err = d.adapter.Write(io, payload)

	case wire.CmdRead:
		reply.Read, err = d.adapter.Read(io, true)

	case wire.CmdReadRange:
		var result rangeengine.Result
		result, err = d.ranges.ReadRange(rangeQuery(io))
		reply.RangeHits = result.Hits
		if result.HasTerminator {
			t := result.Terminator
			reply.Terminator = &t
		}

	case wire.CmdDelRange:
		var result rangeengine.Result
		result, err = d.ranges.DelRange(rangeQuery(io))
		if result.HasTerminator {
			t := result.Terminator
			reply.Terminator = &t
		}

	case wire.CmdStat:
		reply.Stat, err = d.stat()

	case wire.CmdDel:
		err = d.adapter.Delete(io)

	case wire.CmdDefrag:
		reply.Defrag, err = d.defrag(ctx, defragCtl)

	default:
		err = berrors.New(berrors.Unsupported, "unsupported command code")
	}

	if err != nil {
		d.logger.Error("dispatcher", "dispatch", "command failed", map[string]interface{}{
			"command": cmd, "error": err.Error(),
		})
	}
	return reply, berrors.Errno(err)
}

// Checksum is dispatched separately from Dispatch since it is the one
// command whose caller supplies and gets back a buffer rather than a
// zero-copy reference.
func (d *Dispatcher) Checksum(io *wire.IOAttr, buf []byte) ([]byte, int) {
	out, err := d.adapter.Checksum(io, buf)
	if err != nil {
		d.logger.Error("dispatcher", "checksum", "checksum failed", map[string]interface{}{"error": err.Error()})
	}
	return out, berrors.Errno(err)
}

func rangeQuery(io *wire.IOAttr) rangeengine.Query {
	return rangeengine.Query{
		Start:           io.ID,
		End:             io.Parent,
		Sort:            io.HasFlag(wire.FlagSort),
		StartFrom:       io.Start,
		Limit:           io.Num,
		RequestedOffset: io.Offset,
		Parent:          io.Parent,
	}
}

// Stat computes filesystem usage of the data directory, falling back
// to its parent directory (per spec §4.6), plus the engine's record
// counters and the current defrag state. Exported so the stats bridge
// can poll it independent of a dispatched STAT command.
func (d *Dispatcher) Stat() (*wire.StatReply, error) {
	return d.stat()
}

func (d *Dispatcher) stat() (*wire.StatReply, error) {
	path := d.dataPath
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		path = filepath.Dir(path)
		if err2 := syscall.Statfs(path, &st); err2 != nil {
			return nil, berrors.Wrap(berrors.IOError, "statfs", err2)
		}
	}

	total, removed := d.eng.Stats()
	bsize := uint64(st.Bsize)
	return &wire.StatReply{
		FSUsed:         (uint64(st.Blocks) - uint64(st.Bfree)) * bsize,
		FSFree:         uint64(st.Bfree) * bsize,
		TotalRecords:   total,
		RemovedRecords: removed,
		DefragState:    string(d.eng.DefragStatus()),
	}, nil
}

// defrag handles the DEFRAG command: a STATUS-flagged query reports the
// current state; otherwise it starts an out-of-band pass and reports
// whatever state that produced (per spec §4.5's reply-includes-state
// contract and SPEC_FULL's supplemented defrag-state-in-stat feature).
func (d *Dispatcher) defrag(ctx context.Context, ctl *wire.DefragCtl) (*wire.DefragReply, error) {
	if ctl == nil {
		return nil, berrors.New(berrors.Protocol, "defrag: missing control payload")
	}
	if ctl.Flags&wire.FlagStatus == wire.FlagStatus {
		return &wire.DefragReply{State: string(d.eng.DefragStatus())}, nil
	}
	d.eng.DefragStart(ctx)
	d.logger.Info("dispatcher", "defrag", "defrag pass started", nil)
	return &wire.DefragReply{State: string(d.eng.DefragStatus())}, nil
}
