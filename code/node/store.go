package node

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"distledger/code/types"
)

// LedgerStore persists account state and history to sqlite so a node can
// recover its ledger after a restart. Writes happen after the in-memory apply;
// store failures are logged by the caller and never change a vote or an ack.
type LedgerStore struct {
	db          *sql.DB
	stmtUpsert  *sql.Stmt
	stmtHistory *sql.Stmt
}

// OpenLedgerStore opens (and if needed initializes) the node's sqlite file.
func OpenLedgerStore(path string) (*LedgerStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open ledger store %s: %w", path, err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS accounts (
		id      TEXT PRIMARY KEY,
		balance INTEGER NOT NULL,
		seq     INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create accounts table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS history (
		account_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		txn_id     TEXT NOT NULL,
		delta      INTEGER NOT NULL,
		applied_at INTEGER NOT NULL,
		PRIMARY KEY (account_id, seq)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create history table: %w", err)
	}

	s := &LedgerStore{db: db}
	if s.stmtUpsert, err = db.Prepare(
		"INSERT OR REPLACE INTO accounts(id, balance, seq) VALUES(?, ?, ?)"); err != nil {
		db.Close()
		return nil, err
	}
	if s.stmtHistory, err = db.Prepare(
		"INSERT OR REPLACE INTO history(account_id, seq, txn_id, delta, applied_at) VALUES(?, ?, ?, ?, ?)"); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LedgerStore) SaveAccount(id string, balance int64, seq uint64) error {
	_, err := s.stmtUpsert.Exec(id, balance, int64(seq))
	return err
}

func (s *LedgerStore) AppendHistory(id string, entry types.HistoryEntry) error {
	_, err := s.stmtHistory.Exec(id, int64(entry.Sequence), entry.TxnID, entry.Delta, entry.AppliedAt.UnixNano())
	return err
}

// LoadAccounts reads every persisted account with its history, for ledger
// recovery at startup.
func (s *LedgerStore) LoadAccounts() (map[string]*Account, error) {
	rows, err := s.db.Query("SELECT id, balance, seq FROM accounts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[string]*Account)
	for rows.Next() {
		var acct Account
		var seq int64
		if err := rows.Scan(&acct.ID, &acct.Balance, &seq); err != nil {
			return nil, err
		}
		acct.Seq = uint64(seq)
		accounts[acct.ID] = &acct
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for id, acct := range accounts {
		hrows, err := s.db.Query(
			"SELECT seq, txn_id, delta, applied_at FROM history WHERE account_id = ? ORDER BY seq", id)
		if err != nil {
			return nil, err
		}
		for hrows.Next() {
			var entry types.HistoryEntry
			var seq, appliedAt int64
			if err := hrows.Scan(&seq, &entry.TxnID, &entry.Delta, &appliedAt); err != nil {
				hrows.Close()
				return nil, err
			}
			entry.Sequence = uint64(seq)
			entry.AppliedAt = time.Unix(0, appliedAt)
			acct.History = append(acct.History, entry)
		}
		if err := hrows.Err(); err != nil {
			hrows.Close()
			return nil, err
		}
		hrows.Close()
	}
	return accounts, nil
}

func (s *LedgerStore) Close() error {
	return s.db.Close()
}
