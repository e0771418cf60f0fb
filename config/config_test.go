package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSizeSuffixes(t *testing.T) {
	cases := map[string]int64{
		"100":  100,
		"4K":   4 * 1024,
		"16M":  16 * 1024 * 1024,
		"2G":   2 * 1024 * 1024 * 1024,
		"1T":   1024 * 1024 * 1024 * 1024,
		"4k":   4 * 1024,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		require.NoError(t, err)
		require.Equal(t, want, got, in)
	}
}

func TestParseSizeInvalid(t *testing.T) {
	_, err := ParseSize("")
	require.Error(t, err)
	_, err = ParseSize("abc")
	require.Error(t, err)
}

func TestLoadRequiresDataPath(t *testing.T) {
	_, err := Load(map[string]string{"sync": "30"})
	require.Error(t, err)
}

func TestLoadAppliesKnownKeys(t *testing.T) {
	cfg, err := Load(map[string]string{
		"data":                     "/var/lib/blobs",
		"sync":                     "30",
		"blob_size":                "10M",
		"blob_size_limit":          "1G",
		"records_in_blob":          "5000",
		"defrag_timeout":           "3600",
		"defrag_splay":             "300",
		"defrag_percentage":        "25",
		"index_block_size":         "8192",
		"index_block_bloom_length": "16384",
	})
	require.NoError(t, err)
	require.Equal(t, "/var/lib/blobs", cfg.DataPath)
	require.Equal(t, 30*time.Second, cfg.Sync)
	require.Equal(t, int64(10*1024*1024), cfg.BlobSize)
	require.Equal(t, int64(1024*1024*1024), cfg.BlobSizeLimit)
	require.Equal(t, 5000, cfg.RecordsInBlob)
	require.Equal(t, time.Hour, cfg.DefragTimeout)
	require.Equal(t, 25, cfg.DefragPercentage)
	require.Equal(t, 8192, cfg.IndexBlockSize)
	require.Equal(t, 16384, cfg.IndexBlockBloomLength)
}

func TestLoadUnknownKeyRejected(t *testing.T) {
	_, err := Load(map[string]string{"data": "/tmp/x", "bogus": "1"})
	require.Error(t, err)
}

func TestDefaultBackendConfig(t *testing.T) {
	d := DefaultBackendConfig()
	require.Equal(t, 1_000_000, d.RecordsInBlob)
	require.Equal(t, 4096, d.IndexBlockSize)
	require.Equal(t, 8192, d.IndexBlockBloomLength)
}
