package coordinator

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/boltdb/bolt"

	"distledger/code/types"
)

var (
	bucketDecisions = []byte("decisions")
	bucketArchive   = []byte("archive")
)

// DecisionLog is the coordinator's durable record of transaction outcomes.
// Writing the decision here, before phase 2 delivery starts, is the commit
// point: once recorded, the outcome is never renegotiated, regardless of how
// decision delivery to individual participants goes.
type DecisionLog struct {
	db *bolt.DB
}

func OpenDecisionLog(path string) (*DecisionLog, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open decision log %s: %w", path, err)
	}

	err = db.Update(func(btx *bolt.Tx) error {
		if _, err := btx.CreateBucketIfNotExists(bucketDecisions); err != nil {
			return err
		}
		_, err := btx.CreateBucketIfNotExists(bucketArchive)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DecisionLog{db: db}, nil
}

// RecordDecision durably writes the commit/abort decision for a transaction.
func (d *DecisionLog) RecordDecision(txnID string, state types.TxnState) error {
	return d.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketDecisions).Put([]byte(txnID), []byte(state))
	})
}

// Decision returns the recorded decision, if any.
func (d *DecisionLog) Decision(txnID string) (types.TxnState, bool) {
	var state types.TxnState
	err := d.db.View(func(btx *bolt.Tx) error {
		if v := btx.Bucket(bucketDecisions).Get([]byte(txnID)); v != nil {
			state = types.TxnState(v)
		}
		return nil
	})
	if err != nil || state == "" {
		return "", false
	}
	return state, true
}

// Archive stores a terminal transaction record. Archived transactions never
// re-enter an active state.
func (d *DecisionLog) Archive(txn *Transaction) error {
	txn.mu.Lock()
	data, err := json.Marshal(txn)
	txn.mu.Unlock()
	if err != nil {
		return err
	}

	return d.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketArchive).Put([]byte(txn.ID), data)
	})
}

// LookupArchive retrieves an archived transaction record.
func (d *DecisionLog) LookupArchive(txnID string) (*Transaction, bool) {
	var txn *Transaction
	err := d.db.View(func(btx *bolt.Tx) error {
		v := btx.Bucket(bucketArchive).Get([]byte(txnID))
		if v == nil {
			return nil
		}
		var decoded Transaction
		if err := json.Unmarshal(v, &decoded); err != nil {
			return err
		}
		txn = &decoded
		return nil
	})
	if err != nil {
		log.Printf("LookupArchive: failed to decode archived transaction %s: %v", txnID, err)
		return nil, false
	}
	return txn, txn != nil
}

func (d *DecisionLog) Close() error {
	return d.db.Close()
}
