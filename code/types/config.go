package types

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// AccountSeed is an account created at bootstrap on its primary node.
type AccountSeed struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

// NodeConfig describes one account node in the cluster config file.
type NodeConfig struct {
	ID       string        `json:"id"`
	Address  string        `json:"address"`
	Role     Role          `json:"role"`
	Pair     string        `json:"pair"`
	Accounts []AccountSeed `json:"accounts"`
	DBPath   string        `json:"db_path"`
}

// ClusterConfig is the single JSON config file shared by the coordinator and
// node binaries.
type ClusterConfig struct {
	Coordinator       string       `json:"coordinator"`
	HeartbeatPeriodMS int          `json:"heartbeat_period_ms"`
	MissFactor        int          `json:"miss_factor"`
	PrepareTimeoutMS  int          `json:"prepare_timeout_ms"`
	LockTimeoutMS     int          `json:"lock_timeout_ms"`
	DataDir           string       `json:"data_dir"`
	Nodes             []NodeConfig `json:"nodes"`
}

// Design values: heartbeat period T=2s, SUSPECTED after 3 missed periods.
const (
	DefaultHeartbeatPeriod = 2 * time.Second
	DefaultMissFactor      = 3
	DefaultPrepareTimeout  = 5 * time.Second
	DefaultLockTimeout     = 3 * time.Second
)

// LoadClusterConfig reads and validates the cluster config file.
func LoadClusterConfig(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	var cfg ClusterConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}

	if cfg.Coordinator == "" {
		return nil, fmt.Errorf("config %s: coordinator address is required", path)
	}
	seen := make(map[string]bool)
	for _, n := range cfg.Nodes {
		if n.ID == "" || n.Address == "" {
			return nil, fmt.Errorf("config %s: node entries need id and address", path)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("config %s: duplicate node id %s", path, n.ID)
		}
		seen[n.ID] = true
		if n.Role != RolePrimary && n.Role != RoleBackup {
			return nil, fmt.Errorf("config %s: node %s has invalid role %q", path, n.ID, n.Role)
		}
	}
	return &cfg, nil
}

// Node returns the config entry for the given node id.
func (c *ClusterConfig) Node(id string) (NodeConfig, bool) {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeConfig{}, false
}

func (c *ClusterConfig) HeartbeatPeriod() time.Duration {
	if c.HeartbeatPeriodMS <= 0 {
		return DefaultHeartbeatPeriod
	}
	return time.Duration(c.HeartbeatPeriodMS) * time.Millisecond
}

func (c *ClusterConfig) HeartbeatMissFactor() int {
	if c.MissFactor <= 0 {
		return DefaultMissFactor
	}
	return c.MissFactor
}

func (c *ClusterConfig) PrepareTimeout() time.Duration {
	if c.PrepareTimeoutMS <= 0 {
		return DefaultPrepareTimeout
	}
	return time.Duration(c.PrepareTimeoutMS) * time.Millisecond
}

func (c *ClusterConfig) LockTimeout() time.Duration {
	if c.LockTimeoutMS <= 0 {
		return DefaultLockTimeout
	}
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}
