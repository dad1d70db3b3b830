// Package nodeconfig loads the ensemble membership file: one line per
// node plus the local node's identity, in the same text key=value style
// the rest of the runtime's configuration uses.
package nodeconfig

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Node is an immutable record describing one member of the ensemble, built
// once at startup from the configuration file.
type Node struct {
	NodeID     uint16
	Hostname   string
	IP         string
	Port       int
	IsLocal    bool
	IsActive   bool
	RegionBase uint64
	RegionSize uint64
}

// Config is the parsed configuration file.
type Config struct {
	LocalNodeID uint16
	NumNodes    uint16
	Nodes       []Node
}

// Local returns the node record for this process.
func (c *Config) Local() Node {
	return c.Nodes[c.LocalNodeID]
}

// Peers returns every node other than the local one.
func (c *Config) Peers() []Node {
	peers := make([]Node, 0, len(c.Nodes)-1)
	for _, n := range c.Nodes {
		if n.NodeID != c.LocalNodeID {
			peers = append(peers, n)
		}
	}
	return peers
}

// Load parses a text configuration file of key=value lines ('#' starts a
// comment) recognizing local_node_id, num_nodes, and one nodeK entry per
// node in [0, num_nodes).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nodeconfig: open %s: %w", path, err)
	}
	defer f.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("nodeconfig: malformed line %q", line)
		}
		raw[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("nodeconfig: read %s: %w", path, err)
	}

	localIDStr, ok := raw["local_node_id"]
	if !ok {
		return nil, fmt.Errorf("nodeconfig: missing local_node_id")
	}
	localID, err := parseU16(localIDStr)
	if err != nil {
		return nil, fmt.Errorf("nodeconfig: local_node_id: %w", err)
	}

	numNodesStr, ok := raw["num_nodes"]
	if !ok {
		return nil, fmt.Errorf("nodeconfig: missing num_nodes")
	}
	numNodes, err := parseU16(numNodesStr)
	if err != nil {
		return nil, fmt.Errorf("nodeconfig: num_nodes: %w", err)
	}

	cfg := &Config{LocalNodeID: localID, NumNodes: numNodes, Nodes: make([]Node, numNodes)}
	for k := uint16(0); k < numNodes; k++ {
		key := fmt.Sprintf("node%d", k)
		line, ok := raw[key]
		if !ok {
			return nil, fmt.Errorf("nodeconfig: missing %s", key)
		}
		node, err := parseNodeLine(k, line)
		if err != nil {
			return nil, fmt.Errorf("nodeconfig: %s: %w", key, err)
		}
		node.IsLocal = k == localID
		node.IsActive = true
		cfg.Nodes[k] = node
	}

	if int(localID) >= len(cfg.Nodes) {
		return nil, fmt.Errorf("nodeconfig: local_node_id %d out of range", localID)
	}
	return cfg, nil
}

// parseNodeLine parses "hostname:port:cxl_base_hex:cxl_size_decimal".
func parseNodeLine(id uint16, line string) (Node, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 4 {
		return Node{}, fmt.Errorf("expected hostname:port:cxl_base_hex:cxl_size_decimal, got %q", line)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return Node{}, fmt.Errorf("bad port %q: %w", parts[1], err)
	}
	base, err := strconv.ParseUint(strings.TrimPrefix(parts[2], "0x"), 16, 64)
	if err != nil {
		return Node{}, fmt.Errorf("bad cxl_base_hex %q: %w", parts[2], err)
	}
	size, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Node{}, fmt.Errorf("bad cxl_size_decimal %q: %w", parts[3], err)
	}

	ip := ""
	if addr, err := net.ResolveIPAddr("ip", parts[0]); err == nil {
		ip = addr.String()
	}

	return Node{
		NodeID:     id,
		Hostname:   parts[0],
		IP:         ip,
		Port:       port,
		RegionBase: base,
		RegionSize: size,
	}, nil
}

func parseU16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
