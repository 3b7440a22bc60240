package types

import "time"

// All amounts are fixed-point: integer cents. A negative amount is never valid
// on the wire; direction is carried by IsSender.

// PrepareRequest asks a primary to lock one account on behalf of a transaction
// and vote on the proposed effect.
type PrepareRequest struct {
	TxnID     string
	AccountID string
	IsSender  bool
	Amount    int64
}

type PrepareResponse struct {
	TxnID string
	Vote  Vote
}

// CommitRequest and AbortRequest carry the coordinator's decision. Both are
// idempotent per transaction id on the participant.
type CommitRequest struct {
	TxnID string
}

type AbortRequest struct {
	TxnID string
}

type Ack struct {
	TxnID string
}

// HeartbeatMessage is sent by every account node to the coordinator on a fixed
// period. The node reports the role it currently believes it holds.
type HeartbeatMessage struct {
	NodeID    string
	Timestamp time.Time
	Role      Role
}

type HeartbeatReply struct {
	Accepted bool
}

// PingRequest is the coordinator's direct confirmation probe, sent once after
// a node is marked SUSPECTED and before it is marked FAILED.
type PingRequest struct{}

type PingReply struct {
	NodeID string
	Role   Role
}

// PromoteCommand tells a backup to flip its role to PRIMARY and start
// accepting PrepareRequests. The role change is acknowledged implicitly by
// the node's next heartbeat.
type PromoteCommand struct {
	Accounts []string
}

type PromoteReply struct {
	NodeID string
	Role   Role
}

// ReplicationMessage carries one sequenced state update from a primary to its
// paired backup. The backup applies it only when Sequence follows its last
// applied sequence number for the account; duplicates are dropped and a gap is
// answered with NeedSync.
type ReplicationMessage struct {
	AccountID string
	Sequence  uint64
	Balance   int64
	Entry     HistoryEntry
}

type ReplicationReply struct {
	Applied  bool
	NeedSync bool
}

// SyncRequest asks a primary for an account's full state. Issued by a backup
// that detected a replication gap, and by a recovering node before it rejoins.
type SyncRequest struct {
	AccountID string
}

type SyncReply struct {
	AccountID string
	Balance   int64
	Sequence  uint64
	History   []HistoryEntry
}

// Client-facing coordinator contracts.

type TransferRequest struct {
	From   string
	To     string
	Amount int64
}

type TransferReply struct {
	TxnID  string
	Status TxnState
	// PendingAcks lists participants whose decision delivery exhausted its
	// retry budget. The outcome above is final regardless.
	PendingAcks []string
}

type BalanceRequest struct {
	AccountID string
}

type BalanceReply struct {
	AccountID string
	Balance   int64
	// ServedBy is the node that answered; after a failover this is the
	// promoted backup.
	ServedBy string
}

type StatusRequest struct {
	TxnID string
}

type StatusReply struct {
	TxnID string
	State TxnState
	Known bool
}
