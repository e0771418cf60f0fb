// Package config parses the backend's flat key/value text configuration
// (spec's "Configuration keys" table) into a BackendConfig. The textual
// loader itself — reading a file, merging multiple backend stanzas — is
// the external collaborator spec.md excludes; this package is the
// key/value setter table the loader hands pairs to, adapted from the
// teacher's ParseSize helper and key->setter dispatch idiom.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BackendConfig holds the parsed backend configuration, keyed by the
// text options spec's "Configuration keys" table names.
type BackendConfig struct {
	Sync                  time.Duration
	DataPath              string
	BlobFlags             uint64
	BlobSize              int64
	BlobSizeLimit         int64
	RecordsInBlob         int
	DefragTimeout         time.Duration
	DefragTime            time.Duration
	DefragSplay           time.Duration
	DefragPercentage      int
	IndexBlockSize        int
	IndexBlockBloomLength int
}

// DefaultBackendConfig returns a BackendConfig with the defaults the
// original's dnet_blob_config_init applies before reading overrides.
func DefaultBackendConfig() *BackendConfig {
	return &BackendConfig{
		RecordsInBlob:         1_000_000,
		IndexBlockSize:        4096,
		IndexBlockBloomLength: 8192,
	}
}

// setters maps each configuration key to the BackendConfig field it
// populates, mirroring the original's dnet_cfg_entries_blobsystem table.
var setters = map[string]func(*BackendConfig, string) error{
	"sync": func(c *BackendConfig, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.Sync = d
		return nil
	},
	"data": func(c *BackendConfig, v string) error {
		if v == "" {
			return fmt.Errorf("data: path must not be empty")
		}
		c.DataPath = v
		return nil
	},
	"blob_flags": func(c *BackendConfig, v string) error {
		n, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return fmt.Errorf("blob_flags: %w", err)
		}
		c.BlobFlags = n
		return nil
	},
	"blob_size": func(c *BackendConfig, v string) error {
		n, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("blob_size: %w", err)
		}
		c.BlobSize = n
		return nil
	},
	"blob_size_limit": func(c *BackendConfig, v string) error {
		n, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("blob_size_limit: %w", err)
		}
		c.BlobSizeLimit = n
		return nil
	},
	"records_in_blob": func(c *BackendConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("records_in_blob: %w", err)
		}
		c.RecordsInBlob = n
		return nil
	},
	"defrag_timeout": func(c *BackendConfig, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.DefragTimeout = d
		return nil
	},
	"defrag_time": func(c *BackendConfig, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.DefragTime = d
		return nil
	},
	"defrag_splay": func(c *BackendConfig, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return err
		}
		c.DefragSplay = d
		return nil
	},
	"defrag_percentage": func(c *BackendConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("defrag_percentage: %w", err)
		}
		c.DefragPercentage = n
		return nil
	},
	"index_block_size": func(c *BackendConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("index_block_size: %w", err)
		}
		c.IndexBlockSize = n
		return nil
	},
	"index_block_bloom_length": func(c *BackendConfig, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("index_block_bloom_length: %w", err)
		}
		c.IndexBlockBloomLength = n
		return nil
	},
}

// Apply applies a single key/value pair to c. Unknown keys are rejected
// with INVALID_CONFIG-flavored errors at the caller's boundary.
func (c *BackendConfig) Apply(key, value string) error {
	setter, ok := setters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unknown configuration key %q", key)
	}
	return setter(c, strings.TrimSpace(value))
}

// Load parses a flat key/value map (as handed down by the external
// config loader) into a BackendConfig, starting from the defaults.
func Load(pairs map[string]string) (*BackendConfig, error) {
	c := DefaultBackendConfig()
	for k, v := range pairs {
		if err := c.Apply(k, v); err != nil {
			return nil, err
		}
	}
	if c.DataPath == "" {
		return nil, fmt.Errorf("data: required configuration key is missing")
	}
	return c, nil
}

func parseSeconds(v string) (time.Duration, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return time.Duration(n) * time.Second, nil
}

// ParseSize parses a size string with a K/M/G/T suffix (powers of 1024)
// into bytes, per spec's "Configuration keys" size-value rule. A bare
// number is taken as bytes.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(sizeStr)
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	suffix := sizeStr[len(sizeStr)-1]
	numStr := sizeStr
	var multiplier int64 = 1

	switch suffix {
	case 'K', 'k':
		multiplier = 1024
		numStr = sizeStr[:len(sizeStr)-1]
	case 'M', 'm':
		multiplier = 1024 * 1024
		numStr = sizeStr[:len(sizeStr)-1]
	case 'G', 'g':
		multiplier = 1024 * 1024 * 1024
		numStr = sizeStr[:len(sizeStr)-1]
	case 'T', 't':
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = sizeStr[:len(sizeStr)-1]
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size format %q: %w", sizeStr, err)
	}
	return num * multiplier, nil
}
