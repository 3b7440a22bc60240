package node

import (
	"log"
	"sync"
	"time"
)

const lockPollInterval = 10 * time.Millisecond

// LockManager grants exclusive per-account locks to transactions. An account
// is bound to at most one transaction id at a time; a second transaction can
// take the lock only after the first one released it.
type LockManager struct {
	mu      sync.Mutex
	holders map[string]string // accountID -> txnID
}

func NewLockManager() *LockManager {
	return &LockManager{
		holders: make(map[string]string),
	}
}

// Acquire blocks until the account's lock is free or timeout elapses.
// Re-acquisition by the holding transaction succeeds immediately. A false
// return is reported to the coordinator as a NO vote, never retried silently.
func (lm *LockManager) Acquire(accountID, txnID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		lm.mu.Lock()
		holder, held := lm.holders[accountID]
		if !held {
			lm.holders[accountID] = txnID
			lm.mu.Unlock()
			return true
		}
		if holder == txnID {
			lm.mu.Unlock()
			return true
		}
		lm.mu.Unlock()

		if time.Now().After(deadline) {
			log.Printf("Acquire: lock on account %s denied for txn %s after %v (held by %s)",
				accountID, txnID, timeout, holder)
			return false
		}
		time.Sleep(lockPollInterval)
	}
}

// Release is idempotent: it is a no-op when the account is not locked by the
// given transaction.
func (lm *LockManager) Release(accountID, txnID string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.holders[accountID] == txnID {
		delete(lm.holders, accountID)
	}
}

// Holder returns the transaction currently locking the account, if any.
func (lm *LockManager) Holder(accountID string) (string, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	txnID, held := lm.holders[accountID]
	return txnID, held
}
