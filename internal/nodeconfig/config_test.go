package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	body := "# comment\n" +
		"local_node_id = 0\n" +
		"num_nodes = 2\n" +
		"node0 = 127.0.0.1:9000:0x0:1048576\n" +
		"node1 = 127.0.0.1:9001:0x100000:2097152\n"
	path := writeConfig(t, body)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint16(0), cfg.LocalNodeID)
	require.Len(t, cfg.Nodes, 2)

	local := cfg.Local()
	require.True(t, local.IsLocal)
	require.Equal(t, 9000, local.Port)
	require.Equal(t, uint64(0), local.RegionBase)
	require.Equal(t, uint64(1048576), local.RegionSize)

	peers := cfg.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, uint16(1), peers[0].NodeID)
	require.Equal(t, uint64(0x100000), peers[0].RegionBase)
}

func TestLoadMissingKeyFails(t *testing.T) {
	path := writeConfig(t, "local_node_id = 0\nnum_nodes = 1\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMalformedLineFails(t *testing.T) {
	path := writeConfig(t, "local_node_id 0\nnum_nodes=1\nnode0=127.0.0.1:1:0x0:1\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOutOfRangeLocalIDFails(t *testing.T) {
	path := writeConfig(t, "local_node_id=5\nnum_nodes=1\nnode0=127.0.0.1:1:0x0:1\n")
	_, err := Load(path)
	require.Error(t, err)
}
