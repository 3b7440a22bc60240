package node

import (
	"fmt"
	"log"
	"sync"
	"time"

	"distledger/code/types"
)

// Account holds one account's authoritative state on its primary node, or the
// read-only shadow copy on its backup. Balance never goes negative after a
// commit; Seq increments on every applied write and orders replication.
type Account struct {
	ID      string
	Balance int64
	Seq     uint64
	History []types.HistoryEntry
}

// Ledger holds the accounts hosted by one node. The per-account lock in the
// LockManager is the only mutual-exclusion primitive for transaction effects;
// the internal mutex only guards map access and backup-side installs.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*Account
	store    *LedgerStore
}

// NewLedger creates an empty ledger. store may be nil, in which case applied
// state is kept in memory only.
func NewLedger(store *LedgerStore) *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
		store:    store,
	}
}

// Recover loads persisted accounts from the store. Accounts recovered here
// take precedence over bootstrap seeds, so a restarted node does not reset
// balances it already applied.
func (l *Ledger) Recover() error {
	if l.store == nil {
		return nil
	}
	accounts, err := l.store.LoadAccounts()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, acct := range accounts {
		l.accounts[id] = acct
	}
	if len(accounts) > 0 {
		log.Printf("Recover: restored %d accounts from ledger store", len(accounts))
	}
	return nil
}

// CreateAccount registers an account at bootstrap. Existing accounts (for
// example recovered from the store) are left untouched.
func (l *Ledger) CreateAccount(id string, balance int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[id]; exists {
		return
	}
	l.accounts[id] = &Account{ID: id, Balance: balance}
	if l.store != nil {
		if err := l.store.SaveAccount(id, balance, 0); err != nil {
			log.Printf("CreateAccount: failed to persist account %s: %v", id, err)
		}
	}
}

// Exists reports whether the ledger hosts the account.
func (l *Ledger) Exists(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.accounts[id]
	return ok
}

// Balance returns the account's current balance.
func (l *Ledger) Balance(id string) (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return 0, false
	}
	return acct.Balance, true
}

// Sequence returns the account's last applied sequence number.
func (l *Ledger) Sequence(id string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.accounts[id]; ok {
		return acct.Seq
	}
	return 0
}

// Apply commits one transaction effect: the balance moves by delta, the
// sequence number increments and a history entry is appended. The caller must
// hold the account's lock. Store errors are logged and do not change the
// protocol outcome; the in-memory ledger is authoritative.
func (l *Ledger) Apply(id, txnID string, delta int64) (types.HistoryEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return types.HistoryEntry{}, fmt.Errorf("unknown account %s", id)
	}
	if acct.Balance+delta < 0 {
		return types.HistoryEntry{}, fmt.Errorf("account %s: applying %d to balance %d would go negative",
			id, delta, acct.Balance)
	}

	acct.Balance += delta
	acct.Seq++
	entry := types.HistoryEntry{
		TxnID:     txnID,
		Delta:     delta,
		Sequence:  acct.Seq,
		AppliedAt: time.Now(),
	}
	acct.History = append(acct.History, entry)

	if l.store != nil {
		if err := l.store.SaveAccount(id, acct.Balance, acct.Seq); err != nil {
			log.Printf("Apply: failed to persist account %s at seq %d: %v", id, acct.Seq, err)
		} else if err := l.store.AppendHistory(id, entry); err != nil {
			log.Printf("Apply: failed to persist history for account %s at seq %d: %v", id, acct.Seq, err)
		}
	}
	return entry, nil
}

// Install replaces an account's state wholesale. Used by a backup applying a
// full-state synchronization from its primary.
func (l *Ledger) Install(id string, balance int64, seq uint64, history []types.HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts[id] = &Account{
		ID:      id,
		Balance: balance,
		Seq:     seq,
		History: append([]types.HistoryEntry(nil), history...),
	}
	if l.store != nil {
		if err := l.store.SaveAccount(id, balance, seq); err != nil {
			log.Printf("Install: failed to persist account %s: %v", id, err)
		}
	}
}

// ApplyReplicated installs one in-order replicated update on a backup.
func (l *Ledger) ApplyReplicated(msg *types.ReplicationMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[msg.AccountID]
	if !ok {
		acct = &Account{ID: msg.AccountID}
		l.accounts[msg.AccountID] = acct
	}
	acct.Balance = msg.Balance
	acct.Seq = msg.Sequence
	acct.History = append(acct.History, msg.Entry)

	if l.store != nil {
		if err := l.store.SaveAccount(msg.AccountID, acct.Balance, acct.Seq); err != nil {
			log.Printf("ApplyReplicated: failed to persist account %s: %v", msg.AccountID, err)
		}
	}
}

// Snapshot returns the account's full state for synchronization.
func (l *Ledger) Snapshot(id string) (*types.SyncReply, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return nil, fmt.Errorf("unknown account %s", id)
	}
	return &types.SyncReply{
		AccountID: id,
		Balance:   acct.Balance,
		Sequence:  acct.Seq,
		History:   append([]types.HistoryEntry(nil), acct.History...),
	}, nil
}

// History returns a copy of the account's applied history.
func (l *Ledger) History(id string) []types.HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return nil
	}
	return append([]types.HistoryEntry(nil), acct.History...)
}

// AccountIDs lists the accounts this ledger hosts.
func (l *Ledger) AccountIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	return ids
}
