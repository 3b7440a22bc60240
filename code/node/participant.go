package node

import (
	"log"

	"distledger/code/types"
)

// Participant side of 2PC. Per in-flight transaction the node moves through
// IDLE -> LOCK_REQUESTED -> PREPARED -> {COMMITTED | ABORTED} -> IDLE, with
// the reserved effect held in n.pending between the YES vote and the
// coordinator's decision.

// Prepare attempts the lock, validates the proposed effect, and votes. A NO
// vote releases the lock immediately: there is no reason to hold it for a
// transaction that will abort.
func (n *AccountNode) Prepare(req *types.PrepareRequest, reply *types.PrepareResponse) error {
	reply.TxnID = req.TxnID
	reply.Vote = types.VoteNo

	if n.Role() != types.RolePrimary {
		log.Printf("Prepare: node %s refused txn %s for account %s: not primary", n.id, req.TxnID, req.AccountID)
		return nil
	}
	if req.Amount <= 0 {
		log.Printf("Prepare: node %s refused txn %s: invalid amount %d", n.id, req.TxnID, req.Amount)
		return nil
	}

	n.mu.Lock()
	if state, done := n.terminal[req.TxnID]; done {
		n.mu.Unlock()
		log.Printf("Prepare: node %s refused txn %s: already terminal (%s)", n.id, req.TxnID, state)
		return nil
	}
	if _, reserved := n.pending[req.TxnID][req.AccountID]; reserved {
		n.mu.Unlock()
		log.Printf("Prepare: node %s txn %s already reserved account %s, repeating YES", n.id, req.TxnID, req.AccountID)
		reply.Vote = types.VoteYes
		return nil
	}
	n.mu.Unlock()

	if !n.locks.Acquire(req.AccountID, req.TxnID, n.lockTimeout) {
		// Lock timeout is a NO vote, nothing more.
		log.Printf("Prepare: node %s txn %s votes NO on account %s: lock timeout", n.id, req.TxnID, req.AccountID)
		return nil
	}

	balance, exists := n.ledger.Balance(req.AccountID)
	switch {
	case !exists:
		log.Printf("Prepare: node %s txn %s votes NO: unknown account %s", n.id, req.TxnID, req.AccountID)
		n.locks.Release(req.AccountID, req.TxnID)
		return nil
	case req.IsSender && balance < req.Amount:
		log.Printf("Prepare: node %s txn %s votes NO on account %s: insufficient funds (%d < %d)",
			n.id, req.TxnID, req.AccountID, balance, req.Amount)
		n.locks.Release(req.AccountID, req.TxnID)
		return nil
	}

	delta := req.Amount
	if req.IsSender {
		delta = -req.Amount
	}

	// Terminal re-check and reservation write must be one critical section:
	// a failover abort that lands between them would find nothing to release,
	// and a reservation written after it would hold the account lock forever.
	n.mu.Lock()
	if state, done := n.terminal[req.TxnID]; done {
		n.mu.Unlock()
		n.locks.Release(req.AccountID, req.TxnID)
		log.Printf("Prepare: node %s txn %s reached terminal state %s while locking, votes NO", n.id, req.TxnID, state)
		return nil
	}
	if n.pending[req.TxnID] == nil {
		n.pending[req.TxnID] = make(map[string]int64)
	}
	n.pending[req.TxnID][req.AccountID] = delta
	n.mu.Unlock()

	log.Printf("Prepare: node %s txn %s votes YES on account %s (reserved delta %d)",
		n.id, req.TxnID, req.AccountID, delta)
	reply.Vote = types.VoteYes
	return nil
}

// Commit applies the reserved effect, releases the lock and pushes the update
// to the replication channel. Idempotent: a repeated Commit for a terminal
// transaction returns the same ack without reapplying. A Commit without a
// prior YES is a protocol error; it is logged and acknowledged anyway because
// the coordinator's decision is authoritative.
func (n *AccountNode) Commit(req *types.CommitRequest, reply *types.Ack) error {
	reply.TxnID = req.TxnID

	n.mu.Lock()
	if state, done := n.terminal[req.TxnID]; done {
		n.mu.Unlock()
		if state != types.TxnCommitted {
			log.Printf("Commit: node %s txn %s was already %s, acking decision replay without effect", n.id, req.TxnID, state)
		}
		return nil
	}
	effects, prepared := n.pending[req.TxnID]
	delete(n.pending, req.TxnID)
	n.terminal[req.TxnID] = types.TxnCommitted
	n.mu.Unlock()

	if !prepared {
		log.Printf("Commit: protocol error on node %s: txn %s has no reservation, acking anyway", n.id, req.TxnID)
		return nil
	}

	for accountID, delta := range effects {
		if holder, held := n.locks.Holder(accountID); !held || holder != req.TxnID {
			log.Printf("Commit: protocol error on node %s: txn %s no longer holds lock on %s", n.id, req.TxnID, accountID)
		}
		entry, err := n.ledger.Apply(accountID, req.TxnID, delta)
		if err != nil {
			// Validation at prepare time plus the exclusive lock should make
			// this unreachable; the decision still stands.
			log.Printf("Commit: node %s failed to apply txn %s to account %s: %v", n.id, req.TxnID, accountID, err)
			n.locks.Release(accountID, req.TxnID)
			continue
		}
		n.locks.Release(accountID, req.TxnID)

		balance, _ := n.ledger.Balance(accountID)
		n.enqueueReplication(types.ReplicationMessage{
			AccountID: accountID,
			Sequence:  entry.Sequence,
			Balance:   balance,
			Entry:     entry,
		})
		log.Printf("Commit: node %s applied txn %s to account %s (delta %d, seq %d, balance %d)",
			n.id, req.TxnID, accountID, delta, entry.Sequence, balance)
	}
	return nil
}

// Abort discards the reserved effect and releases the lock. Idempotent the
// same way Commit is.
func (n *AccountNode) Abort(req *types.AbortRequest, reply *types.Ack) error {
	reply.TxnID = req.TxnID

	n.mu.Lock()
	if state, done := n.terminal[req.TxnID]; done {
		n.mu.Unlock()
		if state != types.TxnAborted {
			log.Printf("Abort: node %s txn %s was already %s, acking decision replay without effect", n.id, req.TxnID, state)
		}
		return nil
	}
	effects := n.pending[req.TxnID]
	delete(n.pending, req.TxnID)
	n.terminal[req.TxnID] = types.TxnAborted
	n.mu.Unlock()

	for accountID := range effects {
		n.locks.Release(accountID, req.TxnID)
	}
	if len(effects) > 0 {
		log.Printf("Abort: node %s discarded reservation for txn %s (%d accounts)", n.id, req.TxnID, len(effects))
	} else {
		// Typical for a NO voter: the lock was already released at vote time.
		log.Printf("Abort: node %s txn %s had no reservation to discard", n.id, req.TxnID)
	}
	return nil
}
