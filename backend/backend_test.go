package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"blobbackend/config"
	"blobbackend/wire"
)

func testConfig(t *testing.T) *config.BackendConfig {
	t.Helper()
	cfg := config.DefaultBackendConfig()
	cfg.DataPath = t.TempDir()
	cfg.RecordsInBlob = 1000
	cfg.IndexBlockSize = 64
	cfg.IndexBlockBloomLength = 1024
	return cfg
}

func TestInitCleanupLifecycle(t *testing.T) {
	b, err := Init(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Same(t, b, Instance())

	require.NoError(t, Cleanup())
	require.Nil(t, Instance())

	// Cleanup is idempotent.
	require.NoError(t, Cleanup())
}

func TestInitTwiceFails(t *testing.T) {
	_, err := Init(testConfig(t))
	require.NoError(t, err)
	defer Cleanup()

	_, err = Init(testConfig(t))
	require.Error(t, err)
}

func TestInitRejectsEmptyDataPath(t *testing.T) {
	cfg := config.DefaultBackendConfig()
	_, err := Init(cfg)
	require.Error(t, err)
}

func TestBackendStatsAndDispatcher(t *testing.T) {
	b, err := Init(testConfig(t))
	require.NoError(t, err)
	defer Cleanup()

	st, err := b.Stats()
	require.NoError(t, err)
	require.Equal(t, "idle", st.DefragState)
}

func TestBackendIterateVisitsWrittenRecords(t *testing.T) {
	b, err := Init(testConfig(t))
	require.NoError(t, err)
	defer Cleanup()

	var key wire.ID
	key[0] = 0x11
	io := &wire.IOAttr{ID: key, Size: 3, Flags: wire.FlagHasExthdr}
	_, errno := b.Dispatcher().Dispatch(context.Background(), wire.CmdWrite, io, []byte("abc"), nil, nil)
	require.Equal(t, 0, errno)

	visited := 0
	err = b.Iterate(func(k wire.ID, payload []byte, ext *wire.IOAttr) error {
		if k == key {
			visited++
			require.Equal(t, []byte("abc"), payload)
			require.NotNil(t, ext)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, visited)
}
