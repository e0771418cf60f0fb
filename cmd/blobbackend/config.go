package main

import (
	"time"

	"blobbackend/backend"
	"blobbackend/config"
)

// cliConfig holds the root command's persistent flags, translated into
// a config.BackendConfig by resolve() once a subcommand runs.
type cliConfig struct {
	dataPath              string
	sync                  time.Duration
	blobSize              string
	blobSizeLimit         string
	recordsInBlob         int
	indexBlockSize        int
	indexBlockBloomLength int
	defragPercentage      int
}

func (c *cliConfig) resolve() (*config.BackendConfig, error) {
	cfg := config.DefaultBackendConfig()
	cfg.DataPath = c.dataPath
	cfg.Sync = c.sync
	if c.defragPercentage > 0 {
		cfg.DefragPercentage = c.defragPercentage
	}
	if c.recordsInBlob > 0 {
		cfg.RecordsInBlob = c.recordsInBlob
	}
	if c.indexBlockSize > 0 {
		cfg.IndexBlockSize = c.indexBlockSize
	}
	if c.indexBlockBloomLength > 0 {
		cfg.IndexBlockBloomLength = c.indexBlockBloomLength
	}
	if c.blobSize != "" {
		n, err := config.ParseSize(c.blobSize)
		if err != nil {
			return nil, err
		}
		cfg.BlobSize = n
	}
	if c.blobSizeLimit != "" {
		n, err := config.ParseSize(c.blobSizeLimit)
		if err != nil {
			return nil, err
		}
		cfg.BlobSizeLimit = n
	}
	return cfg, nil
}

// openBackend resolves cfg and initializes a fresh backend instance; the
// caller is responsible for calling backend.Cleanup when done.
func (c *cliConfig) openBackend() (*backend.Backend, error) {
	cfg, err := c.resolve()
	if err != nil {
		return nil, err
	}
	return backend.Init(cfg)
}
