// Package backend is the lifecycle and stats bridge of spec §4.6: it
// initializes the blob engine from a parsed config, computes the
// classifier's vm_total_sq once at startup, registers the singleton
// backend instance (at most one live instance per process; a second Init
// before Cleanup fails, per spec's invariant 5), reports filesystem and record counters, and releases
// resources on Cleanup. Grounded on the teacher's shutdown.Manager for
// priority-ordered teardown and on the original's
// dnet_blob_config_init/eblob_backend_storage_stat.
package backend

import (
	"bytes"
	"context"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blobbackend/adapter"
	"blobbackend/berrors"
	"blobbackend/classifier"
	"blobbackend/config"
	"blobbackend/dispatcher"
	"blobbackend/engine"
	"blobbackend/logging"
	"blobbackend/rangeengine"
	"blobbackend/record"
	"blobbackend/shutdown"
	"blobbackend/wire"
)

// Backend ties together an open engine, the access classifier, the
// adapter/range-engine/dispatcher stack, and the resources (filesystem
// stat baseline, vm_total_sq) computed once at init.
type Backend struct {
	eng        *engine.Engine
	classifier *classifier.Classifier
	dispatch   *dispatcher.Dispatcher
	shutdown   *shutdown.Manager
	metrics    *metrics
	logger     *logging.Logger

	dataPath  string
	vmTotalSq float64
}

var (
	registryMu sync.Mutex
	instance   *Backend
)

// Init creates and registers the process-wide backend instance. A
// second Init call before Cleanup fails — the backend registry is
// process-wide and holds at most one live instance (spec's invariant 5).
func Init(cfg *config.BackendConfig) (*Backend, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if instance != nil {
		return nil, berrors.New(berrors.InvalidConfig, "backend already initialized; call Cleanup first")
	}

	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	instance = b
	return b, nil
}

// Cleanup tears down the process-wide backend instance, if any. It is
// idempotent.
func Cleanup() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if instance == nil {
		return nil
	}
	err := instance.close()
	instance = nil
	return err
}

// Instance returns the currently registered backend, if any.
func Instance() *Backend {
	registryMu.Lock()
	defer registryMu.Unlock()
	return instance
}

func newBackend(cfg *config.BackendConfig) (*Backend, error) {
	if cfg == nil || cfg.DataPath == "" {
		return nil, berrors.New(berrors.InvalidConfig, "data path must not be empty")
	}
	logger := logging.Default

	vmTotalSq, err := vmTotalSqBytes()
	if err != nil {
		return nil, err
	}

	eng, err := engine.Open(engine.Options{
		DataPath:              cfg.DataPath,
		Sync:                  cfg.Sync,
		BlobFlags:             cfg.BlobFlags,
		BlobSize:              cfg.BlobSize,
		BlobSizeLimit:         cfg.BlobSizeLimit,
		RecordsInBlob:         cfg.RecordsInBlob,
		DefragTimeout:         cfg.DefragTimeout,
		DefragSplay:           cfg.DefragSplay,
		DefragPercentage:      cfg.DefragPercentage,
		IndexBlockSize:        cfg.IndexBlockSize,
		IndexBlockBloomLength: cfg.IndexBlockBloomLength,
	}, logger)
	if err != nil {
		return nil, err
	}

	cls := classifier.New(vmTotalSq, logger)
	m := newMetrics()
	cls.SetTransitionHook(func(random bool) { m.observeTransition(random) })

	a := adapter.New(eng, cls, logger)
	r := rangeengine.New(eng, logger)
	disp := dispatcher.New(a, r, eng, cfg.DataPath, logger)

	b := &Backend{
		eng:        eng,
		classifier: cls,
		dispatch:   disp,
		shutdown:   shutdown.NewManager(10 * time.Second),
		metrics:    m,
		logger:     logger,
		dataPath:   cfg.DataPath,
		vmTotalSq:  vmTotalSq,
	}

	b.shutdown.RegisterShutdownFunc("blob-engine", 10, func(ctx context.Context) error {
		return eng.Close()
	})

	logger.Info("backend", "init", "backend initialized", map[string]interface{}{
		"data_path": cfg.DataPath, "vm_total_sq": vmTotalSq,
	})
	return b, nil
}

func (b *Backend) close() error {
	b.shutdown.Shutdown()
	for _, c := range []prometheus.Collector{
		b.metrics.fsUsed, b.metrics.fsFree, b.metrics.totalRecords,
		b.metrics.removedRecords, b.metrics.classifierFlips,
	} {
		prometheus.Unregister(c)
	}
	b.logger.Info("backend", "cleanup", "backend released", map[string]interface{}{"data_path": b.dataPath})
	return nil
}

// Dispatcher exposes the command dispatcher for callers (CLI, tests)
// driving the backend directly in place of a network transport.
func (b *Backend) Dispatcher() *dispatcher.Dispatcher { return b.dispatch }

// Classifier exposes the access-pattern classifier, mainly for tests.
func (b *Backend) Classifier() *classifier.Classifier { return b.classifier }

// Engine exposes the underlying blob engine, mainly for tests and the
// iterate collaborator (recovery, replication).
func (b *Backend) Engine() *engine.Engine { return b.eng }

// Stats polls the filesystem and record counters via the dispatcher's
// STAT path, mirrors them into the prometheus gauges, and returns the
// reply so CLI/admin callers can render it directly.
func (b *Backend) Stats() (*wire.StatReply, error) {
	st, err := b.dispatch.Stat()
	if err != nil {
		return nil, err
	}
	b.metrics.observeStat(st)
	return st, nil
}

// Iterate visits every record via the engine's read-only traversal,
// peeling off the extension header when present before handing the
// caller its {key, payload, size, extension} — the pre-callback
// contract spec §4.6 describes for recovery/replication collaborators.
func (b *Backend) Iterate(fn func(key wire.ID, payload []byte, ext *wire.IOAttr) error) error {
	return b.eng.Iterate(func(key wire.ID, data []byte, flags uint64) error {
		payload := data
		var ext *wire.IOAttr
		if flags&wire.FlagHasExthdr == wire.FlagHasExthdr && len(data) >= record.HdrLen {
			hdr, err := record.DecodeExt(bytes.NewReader(data), 0)
			if err != nil {
				return err
			}
			io := &wire.IOAttr{ID: key}
			record.ApplyToIO(hdr, io)
			ext = io
			payload = data[record.HdrLen:]
		}
		return fn(key, payload, ext)
	})
}

// vmTotalSqBytes computes (system_total_memory_MiB)^2 * 1MiB, constant
// for the classifier's lifetime per spec's invariant 4.
func vmTotalSqBytes() (float64, error) {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return 0, berrors.Wrap(berrors.IOError, "sysinfo", err)
	}
	totalBytes := uint64(info.Totalram) * uint64(info.Unit)
	totalMiB := float64(totalBytes) / (1024 * 1024)
	return totalMiB * totalMiB * (1024 * 1024), nil
}
