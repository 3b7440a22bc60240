package node

import (
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"distledger/code/types"
)

// Config carries everything an account node needs at construction. PairAddr
// points at the node's primary/backup counterpart; a backup synchronizes from
// it when it starts, a primary replicates to it after every commit.
type Config struct {
	ID              string
	Address         string
	Role            types.Role
	PairID          string
	PairAddr        string
	CoordinatorAddr string
	HeartbeatPeriod time.Duration
	LockTimeout     time.Duration
	Store           *LedgerStore
}

// AccountNode hosts account state and plays the participant side of 2PC. Its
// role gates its operation set: only a PRIMARY votes on PrepareRequests and
// serves synchronization, only a BACKUP applies ReplicationMessages. The role
// flips exactly once per failover, via Promote.
type AccountNode struct {
	id              string
	addr            string
	pairID          string
	pairAddr        string
	coordinatorAddr string
	heartbeatPeriod time.Duration
	lockTimeout     time.Duration

	locks  *LockManager
	ledger *Ledger

	mu       sync.Mutex
	role     types.Role
	pending  map[string]map[string]int64 // txnID -> accountID -> reserved delta
	terminal map[string]types.TxnState   // txnID -> COMMITTED or ABORTED

	replCh   chan types.ReplicationMessage
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewAccountNode(cfg Config) *AccountNode {
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = types.DefaultHeartbeatPeriod
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = types.DefaultLockTimeout
	}

	n := &AccountNode{
		id:              cfg.ID,
		addr:            cfg.Address,
		role:            cfg.Role,
		pairID:          cfg.PairID,
		pairAddr:        cfg.PairAddr,
		coordinatorAddr: cfg.CoordinatorAddr,
		heartbeatPeriod: cfg.HeartbeatPeriod,
		lockTimeout:     cfg.LockTimeout,
		locks:           NewLockManager(),
		ledger:          NewLedger(cfg.Store),
		pending:         make(map[string]map[string]int64),
		terminal:        make(map[string]types.TxnState),
		replCh:          make(chan types.ReplicationMessage, 256),
		stopCh:          make(chan struct{}),
	}
	return n
}

// ID returns the node's identifier.
func (n *AccountNode) ID() string { return n.id }

// Ledger exposes the node's ledger.
func (n *AccountNode) Ledger() *Ledger { return n.ledger }

// Locks exposes the node's lock manager.
func (n *AccountNode) Locks() *LockManager { return n.locks }

// Role returns the node's current role.
func (n *AccountNode) Role() types.Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// Bootstrap recovers persisted state and seeds the configured accounts.
// Recovery runs first so a restarted node keeps its applied balances.
func (n *AccountNode) Bootstrap(seeds []types.AccountSeed) error {
	if err := n.ledger.Recover(); err != nil {
		return err
	}
	for _, seed := range seeds {
		n.ledger.CreateAccount(seed.ID, seed.Balance)
	}
	return nil
}

// Start launches the node's background loops. A node starting as BACKUP first
// full-resyncs from its paired primary: a recovered former primary is never
// trusted until it has caught up, and never reinstated as primary.
func (n *AccountNode) Start() {
	if n.Role() == types.RoleBackup && n.pairAddr != "" {
		if err := n.resyncFromPrimary(); err != nil {
			log.Printf("Start: node %s initial sync from primary %s failed: %v", n.id, n.pairID, err)
		}
	}
	go n.heartbeatLoop()
	go n.replicationLoop()
	log.Printf("Start: account node %s up as %s on %s", n.id, n.Role(), n.addr)
}

// Stop terminates the background loops.
func (n *AccountNode) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
}

// Serve registers the node on a fresh RPC server and accepts connections
// until the listener closes.
func (n *AccountNode) Serve(lis net.Listener) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("AccountNode", n); err != nil {
		log.Printf("Serve: node %s failed to register RPC service: %v", n.id, err)
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

// Promote flips the node's role to PRIMARY. The backup stops accepting only
// replication traffic and starts voting on PrepareRequests; the role change
// is acknowledged implicitly by the next heartbeat.
func (n *AccountNode) Promote(cmd *types.PromoteCommand, reply *types.PromoteReply) error {
	n.mu.Lock()
	previous := n.role
	n.role = types.RolePrimary
	n.mu.Unlock()

	log.Printf("Promote: node %s role %s -> PRIMARY (accounts %v)", n.id, previous, cmd.Accounts)
	reply.NodeID = n.id
	reply.Role = types.RolePrimary
	return nil
}

// Ping answers the coordinator's confirmation probe.
func (n *AccountNode) Ping(_ *types.PingRequest, reply *types.PingReply) error {
	reply.NodeID = n.id
	reply.Role = n.Role()
	return nil
}

// QueryBalance serves a balance read, routed here by the coordinator.
func (n *AccountNode) QueryBalance(req *types.BalanceRequest, reply *types.BalanceReply) error {
	balance, ok := n.ledger.Balance(req.AccountID)
	if !ok {
		return &UnknownAccountError{AccountID: req.AccountID}
	}
	reply.AccountID = req.AccountID
	reply.Balance = balance
	reply.ServedBy = n.id
	return nil
}

func (n *AccountNode) heartbeatLoop() {
	ticker := time.NewTicker(n.heartbeatPeriod)
	defer ticker.Stop()

	var client *rpc.Client
	for {
		select {
		case <-n.stopCh:
			if client != nil {
				client.Close()
			}
			return
		case <-ticker.C:
		}

		if client == nil {
			conn, err := net.DialTimeout("tcp", n.coordinatorAddr, n.heartbeatPeriod)
			if err != nil {
				log.Printf("heartbeatLoop: node %s cannot reach coordinator %s: %v", n.id, n.coordinatorAddr, err)
				continue
			}
			client = rpc.NewClient(conn)
		}

		hb := &types.HeartbeatMessage{
			NodeID:    n.id,
			Timestamp: time.Now(),
			Role:      n.Role(),
		}
		var reply types.HeartbeatReply
		if err := client.Call("Coordinator.Heartbeat", hb, &reply); err != nil {
			log.Printf("heartbeatLoop: node %s heartbeat failed: %v", n.id, err)
			client.Close()
			client = nil
		}
	}
}

// UnknownAccountError distinguishes a missing account from transport faults.
type UnknownAccountError struct {
	AccountID string
}

func (e *UnknownAccountError) Error() string {
	return "unknown account " + e.AccountID
}
