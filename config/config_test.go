package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, c Config) string {
	t.Helper()
	data, err := json.Marshal(c)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cluster.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func threeNodeConfig() Config {
	return Config{
		Nodes: []NodeConfig{
			{IP: "10.0.0.1", ID: 0, TCPPort: 7000, IBPort: 1, GIDIndex: 0},
			{IP: "10.0.0.2", ID: 1, TCPPort: 7000, IBPort: 1, GIDIndex: 0},
			{IP: "10.0.0.3", ID: 2, TCPPort: 7000, IBPort: 1, GIDIndex: 0},
		},
	}
}

func TestLoadFillsDefaultTunables(t *testing.T) {
	path := writeConfig(t, threeNodeConfig())

	cfg, err := Load(path, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), cfg.N)
	assert.Equal(t, uint16(1), cfg.HostID)
	assert.Equal(t, DefaultTunables().MaxSlots, cfg.Tunables.MaxSlots)
	assert.Equal(t, DefaultTunables().MaxRetries, cfg.Tunables.MaxRetries)
}

func TestLoadRejectsUnknownHostID(t *testing.T) {
	path := writeConfig(t, threeNodeConfig())

	_, err := Load(path, 9)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateNodeIDs(t *testing.T) {
	c := threeNodeConfig()
	c.Nodes[1].ID = 0
	path := writeConfig(t, c)

	_, err := Load(path, 0)
	assert.Error(t, err)
}

func TestFastAndClassicQuorum(t *testing.T) {
	c := threeNodeConfig()
	c.N = uint16(len(c.Nodes))
	assert.Equal(t, 3, c.FastQuorum())
	assert.Equal(t, 2, c.ClassicQuorum())
}

func TestSelfAndPeerLookup(t *testing.T) {
	path := writeConfig(t, threeNodeConfig())
	cfg, err := Load(path, 2)
	require.NoError(t, err)

	self, ok := cfg.Self()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3", self.IP)

	_, ok = cfg.Peer(99)
	assert.False(t, ok)
}

func TestValidatorCollectsAllErrors(t *testing.T) {
	c := threeNodeConfig()
	c.N = uint16(len(c.Nodes))
	c.HostID = 99
	c.Nodes[1].ID = 0
	c.Tunables.MaxConcurrentReq = -1

	result := NewValidator().Validate(&c)
	assert.False(t, result.Valid)
	assert.GreaterOrEqual(t, len(result.Errors), 3)
}
