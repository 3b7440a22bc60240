package types

import "time"

// Role is the replica role an account node currently holds for its accounts.
// Only a PRIMARY accepts PrepareRequest; only a BACKUP accepts ReplicationMessage.
type Role string

const (
	RolePrimary Role = "PRIMARY"
	RoleBackup  Role = "BACKUP"
)

// NodeStatus is the coordinator's view of an account node's liveness.
type NodeStatus string

const (
	NodeAlive     NodeStatus = "ALIVE"
	NodeSuspected NodeStatus = "SUSPECTED"
	NodeFailed    NodeStatus = "FAILED"
)

// TxnState is the coordinator-side transaction lifecycle state. COMMITTED and
// ABORTED are absorbing: a transaction never re-enters an active state.
type TxnState string

const (
	TxnInit       TxnState = "INIT"
	TxnPreparing  TxnState = "PREPARING"
	TxnPrepared   TxnState = "PREPARED"
	TxnCommitting TxnState = "COMMITTING"
	TxnCommitted  TxnState = "COMMITTED"
	TxnAborting   TxnState = "ABORTING"
	TxnAborted    TxnState = "ABORTED"
)

// Terminal reports whether s is an absorbing state.
func (s TxnState) Terminal() bool {
	return s == TxnCommitted || s == TxnAborted
}

// Vote is a participant's answer to a PrepareRequest. A lock timeout on the
// participant and an unreachable participant both count as VoteTimeout on the
// coordinator side; the aggregation rule treats them exactly like VoteNo.
type Vote string

const (
	VoteYes     Vote = "YES"
	VoteNo      Vote = "NO"
	VoteTimeout Vote = "TIMEOUT"
)

// NodeRecord is the coordinator's bookkeeping entry for one account node.
type NodeRecord struct {
	NodeID        string     `json:"node_id"`
	Role          Role       `json:"role"`
	Address       string     `json:"address"`
	PairedNodeID  string     `json:"paired_node_id"`
	Accounts      []string   `json:"accounts"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Status        NodeStatus `json:"status"`
}

// HistoryEntry is one applied transaction effect in an account's append-only
// history. Delta is negative for a debit.
type HistoryEntry struct {
	TxnID     string    `json:"txn_id"`
	Delta     int64     `json:"delta"`
	Sequence  uint64    `json:"sequence"`
	AppliedAt time.Time `json:"applied_at"`
}
