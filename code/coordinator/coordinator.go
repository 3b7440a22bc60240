package coordinator

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"path/filepath"
	"sync"
	"time"

	"distledger/code/types"
)

const (
	// Phase 2 delivery: the decision is resent this many times to a
	// participant that fails to ack, then flagged pending. The decision
	// itself is never renegotiated.
	decisionRetryBudget = 3
	decisionRetryDelay  = 250 * time.Millisecond

	probeTimeout = 1 * time.Second
	dialTimeout  = 2 * time.Second
)

// Coordinator owns the transaction lifecycle: it drives 2PC against the
// resolved primaries, interprets heartbeat loss, and triggers failover.
type Coordinator struct {
	registry  *Registry
	decisions *DecisionLog

	txnMu  sync.Mutex
	txnMap map[string]*Transaction

	prepareTimeout  time.Duration
	heartbeatPeriod time.Duration
	missFactor      int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCoordinator builds the node roster from the cluster config, opens the
// durable decision log under cfg.DataDir, and starts the heartbeat monitor.
func NewCoordinator(cfg *types.ClusterConfig) (*Coordinator, error) {
	log.Printf("NewCoordinator: starting with %d configured nodes, heartbeat period %v, miss factor %d",
		len(cfg.Nodes), cfg.HeartbeatPeriod(), cfg.HeartbeatMissFactor())

	registry := NewRegistry()
	for _, nc := range cfg.Nodes {
		accounts := make([]string, 0, len(nc.Accounts))
		for _, seed := range nc.Accounts {
			accounts = append(accounts, seed.ID)
		}
		registry.Register(&types.NodeRecord{
			NodeID:       nc.ID,
			Role:         nc.Role,
			Address:      nc.Address,
			PairedNodeID: nc.Pair,
			Accounts:     accounts,
		})
		log.Printf("NewCoordinator: registered node %s (%s) at %s, pair %s, accounts %v",
			nc.ID, nc.Role, nc.Address, nc.Pair, accounts)
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	decisions, err := OpenDecisionLog(filepath.Join(dataDir, "decisions.db"))
	if err != nil {
		return nil, fmt.Errorf("could not open decision log: %w", err)
	}

	c := &Coordinator{
		registry:        registry,
		decisions:       decisions,
		txnMap:          make(map[string]*Transaction),
		prepareTimeout:  cfg.PrepareTimeout(),
		heartbeatPeriod: cfg.HeartbeatPeriod(),
		missFactor:      cfg.HeartbeatMissFactor(),
		stopCh:          make(chan struct{}),
	}

	go c.monitorLoop()
	log.Printf("NewCoordinator: coordinator initialized, monitor running")
	return c, nil
}

// Registry exposes the node roster.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Stop terminates the monitor loop and closes the decision log.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.decisions.Close()
	})
}

// Serve registers the coordinator on a fresh RPC server and accepts
// connections until the listener closes.
func (c *Coordinator) Serve(lis net.Listener) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Coordinator", c); err != nil {
		log.Printf("Serve: coordinator failed to register RPC service: %v", err)
		return
	}
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		go srv.ServeConn(conn)
	}
}

func (c *Coordinator) trackTxn(txn *Transaction) {
	c.txnMu.Lock()
	c.txnMap[txn.ID] = txn
	c.txnMu.Unlock()
}

// archiveTxn moves a terminal transaction out of the active table. The
// archived record is never reused.
func (c *Coordinator) archiveTxn(txn *Transaction) {
	if err := c.decisions.Archive(txn); err != nil {
		log.Printf("archiveTxn: failed to archive transaction %s: %v", txn.ID, err)
	}
	c.txnMu.Lock()
	delete(c.txnMap, txn.ID)
	c.txnMu.Unlock()
}

func (c *Coordinator) activeTxns() []*Transaction {
	c.txnMu.Lock()
	defer c.txnMu.Unlock()

	out := make([]*Transaction, 0, len(c.txnMap))
	for _, txn := range c.txnMap {
		out = append(out, txn)
	}
	return out
}

func (c *Coordinator) lookupTxn(txnID string) (*Transaction, bool) {
	c.txnMu.Lock()
	defer c.txnMu.Unlock()
	txn, ok := c.txnMap[txnID]
	return txn, ok
}
