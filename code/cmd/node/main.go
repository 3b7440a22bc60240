package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"path/filepath"

	"distledger/code/node"
	"distledger/code/types"
)

func main() {
	var (
		configPath string
		nodeID     string
	)
	flag.StringVar(&configPath, "config", "", "Path to cluster config JSON")
	flag.StringVar(&nodeID, "node", "", "Node ID to launch (e.g. a1)")
	flag.Parse()

	if configPath == "" || nodeID == "" {
		log.Fatal("Usage: node --config path/to/config.json --node a1")
	}

	cfg, err := types.LoadClusterConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	self, ok := cfg.Node(nodeID)
	if !ok {
		log.Fatalf("Node %s not found in config", nodeID)
	}

	var pairAddr string
	if self.Pair != "" {
		pair, ok := cfg.Node(self.Pair)
		if !ok {
			log.Fatalf("Node %s is paired with unknown node %s", nodeID, self.Pair)
		}
		pairAddr = pair.Address
	}

	dbPath := self.DBPath
	if dbPath == "" {
		dir := cfg.DataDir
		if dir == "" {
			dir = "."
		}
		dbPath = filepath.Join(dir, fmt.Sprintf("ledger_%s.db", nodeID))
	}
	store, err := node.OpenLedgerStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open ledger store at %s: %v", dbPath, err)
	}
	defer store.Close()

	n := node.NewAccountNode(node.Config{
		ID:              self.ID,
		Address:         self.Address,
		Role:            self.Role,
		PairID:          self.Pair,
		PairAddr:        pairAddr,
		CoordinatorAddr: cfg.Coordinator,
		HeartbeatPeriod: cfg.HeartbeatPeriod(),
		LockTimeout:     cfg.LockTimeout(),
		Store:           store,
	})

	if err := n.Bootstrap(self.Accounts); err != nil {
		log.Fatalf("Failed to bootstrap node %s: %v", nodeID, err)
	}

	lis, err := net.Listen("tcp", self.Address)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", self.Address, err)
	}
	log.Printf("[AccountNode] %s starting on %s as %s", nodeID, self.Address, self.Role)

	n.Start()
	defer n.Stop()

	n.Serve(lis)
}
