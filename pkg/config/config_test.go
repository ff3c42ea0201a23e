package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/pkg/models"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigResolvesLogFilterWithFactory(t *testing.T) {
	path := writeManifest(t, `{
		"networks": {
			"polygon": {"chainId": 137, "rpcUrls": ["https://rpc"], "confirmations": 5, "finalityDepth": 64, "pollInterval": "2s"}
		},
		"database": {"backend": "sqlite", "dsn": "file:data.db"},
		"sources": [
			{
				"name": "orders",
				"network": "polygon",
				"filter": {
					"kind": "log",
					"fromBlock": 100,
					"address": {"factory": {"address": "0xaaaa", "eventSelector": "0xbbbb", "childAddressLocation": "topic1"}},
					"topics": [["0xcccc"], []]
				}
			}
		]
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	sources, err := cfg.BuildSources()
	require.NoError(t, err)
	require.Len(t, sources, 1)

	logFilter, ok := sources[0].Filter.(*models.LogFilter)
	require.True(t, ok)
	require.Equal(t, uint64(137), logFilter.ChainID)
	require.True(t, logFilter.Address.IsFactory())
	require.False(t, logFilter.Topics[0].IsWildcard())
	require.True(t, logFilter.Topics[1].IsWildcard())
}

func TestLoadConfigUnknownNetworkErrors(t *testing.T) {
	path := writeManifest(t, `{"sources": [{"name": "x", "network": "missing", "filter": {"kind": "block"}}]}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	_, err = cfg.BuildSources()
	require.Error(t, err)
}
