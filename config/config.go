// Package config loads and validates the static cluster configuration that
// every node in the cluster carries an identical copy of: the peer table,
// this host's rank within it, and the tunables that bound slot space and
// in-flight work.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// NodeConfig describes one peer's network identity and RDMA-class endpoint,
// loaded verbatim from the cluster configuration file on every node.
type NodeConfig struct {
	IP       string `json:"ip"`
	ID       uint16 `json:"id"`
	TCPPort  uint16 `json:"tcp_port"`
	IBPort   uint16 `json:"ib_port"`
	GIDIndex uint16 `json:"gid_index"`
}

// Tunables are the knobs that used to be compile-time constants, exposed
// here as configuration so they can be tuned per deployment without a
// rebuild.
type Tunables struct {
	MaxSlots         uint64 `json:"max_slots"`
	MaxConcurrentReq int    `json:"max_concurrent_req"`
	FrontierNode     uint16 `json:"frontier_node"`
	CoordinatorNode  uint16 `json:"coordinator_node"`
	MaxRetries       int    `json:"max_retries"`
}

// DefaultTunables returns conservative defaults for a single-cluster
// deployment.
func DefaultTunables() Tunables {
	return Tunables{
		MaxSlots:         1_000_000,
		MaxConcurrentReq: 64,
		FrontierNode:     0,
		CoordinatorNode:  0,
		MaxRetries:       5,
	}
}

// Config is the full, static cluster configuration. It is identical on
// every node except for HostID.
type Config struct {
	N        uint16       `json:"n"`
	HostID   uint16       `json:"host_id"`
	Nodes    []NodeConfig `json:"nodes"`
	Tunables Tunables     `json:"tunables"`
}

// Load reads a Config from a JSON file at path, filling in default
// tunables for any zero-valued field, and validates the result.
func Load(path string, hostID uint16) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.HostID = hostID
	c.N = uint16(len(c.Nodes))
	c.Tunables = fillDefaults(c.Tunables)

	v := NewValidator()
	if result := v.Validate(&c); !result.Valid {
		return nil, fmt.Errorf("config: invalid cluster configuration: %s", result.Errors[0].Error())
	}
	return &c, nil
}

func fillDefaults(t Tunables) Tunables {
	d := DefaultTunables()
	if t.MaxSlots == 0 {
		t.MaxSlots = d.MaxSlots
	}
	if t.MaxConcurrentReq == 0 {
		t.MaxConcurrentReq = d.MaxConcurrentReq
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = d.MaxRetries
	}
	// FrontierNode and CoordinatorNode default to 0, which is also the
	// zero value, so no explicit fallback is needed for them.
	return t
}

// FastQuorum returns ⌈3N/4⌉ for this cluster's size.
func (c *Config) FastQuorum() int {
	n := int(c.N)
	return (n*3 + 3) / 4
}

// ClassicQuorum returns ⌊N/2⌋+1 for this cluster's size.
func (c *Config) ClassicQuorum() int {
	return int(c.N)/2 + 1
}

// Peer returns the NodeConfig for the given node id.
func (c *Config) Peer(id uint16) (NodeConfig, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// Self returns this host's own NodeConfig entry.
func (c *Config) Self() (NodeConfig, bool) {
	return c.Peer(c.HostID)
}
