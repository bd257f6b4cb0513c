package membership

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onesided/raa/config"
)

// freePorts reserves n distinct ephemeral ports by listening on :0 and
// immediately releasing them.
func freePorts(t *testing.T, n int) []uint16 {
	t.Helper()
	ports := make([]uint16, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		ports[i] = uint16(ln.Addr().(*net.TCPAddr).Port)
		ln.Close()
	}
	return ports
}

func TestBootstrapTwoNodes(t *testing.T) {
	ports := freePorts(t, 2)
	mkConfig := func(hostID uint16) *config.Config {
		return &config.Config{
			N:      2,
			HostID: hostID,
			Nodes: []config.NodeConfig{
				{IP: "127.0.0.1", ID: 0, TCPPort: ports[0], IBPort: 1},
				{IP: "127.0.0.1", ID: 1, TCPPort: ports[1], IBPort: 1},
			},
			Tunables: config.DefaultTunables(),
		}
	}

	type result struct {
		table *Table
		err   error
	}
	results := make(chan result, 2)
	for id := uint16(0); id < 2; id++ {
		go func(id uint16) {
			table, err := Bootstrap(mkConfig(id), 5*time.Second)
			results <- result{table, err}
		}(id)
	}

	tables := make(map[uint16]*Table, 2)
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		tables[r.table.Self] = r.table
	}
	defer tables[0].Close()
	defer tables[1].Close()

	require.Contains(t, tables[0].Peers, uint16(1))
	require.Contains(t, tables[1].Peers, uint16(0))
	assert.Equal(t, uint16(1), tables[0].Peers[1].ID)
	assert.NotNil(t, tables[0].Peers[1].ConsensusConn)

	// The two tables hold opposite ends of one connection: a byte written
	// by node 1 must arrive at node 0.
	msg := []byte{0x7F}
	_, err := tables[1].Peers[0].ConsensusConn.Write(msg)
	require.NoError(t, err)
	buf := make([]byte, 1)
	tables[0].Peers[1].ConsensusConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = tables[0].Peers[1].ConsensusConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf)
}

func TestBootstrapRejectsUnknownHost(t *testing.T) {
	cfg := &config.Config{
		N:      1,
		HostID: 7,
		Nodes:  []config.NodeConfig{{IP: "127.0.0.1", ID: 0, TCPPort: freePorts(t, 1)[0]}},
	}
	_, err := Bootstrap(cfg, time.Second)
	assert.Error(t, err)
}
