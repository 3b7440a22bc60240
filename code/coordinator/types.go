package coordinator

import (
	"sync"
	"time"

	"distledger/code/types"
)

// Participant is one leg of a transaction: an account, the direction of the
// effect, and the node that was resolved as the account's primary when the
// prepare went out.
type Participant struct {
	AccountID  string     `json:"account_id"`
	NodeID     string     `json:"node_id"`
	Address    string     `json:"address"`
	IsSender   bool       `json:"is_sender"`
	Amount     int64      `json:"amount"`
	Vote       types.Vote `json:"vote"`
	AckPending bool       `json:"ack_pending"`
}

// Transaction is the coordinator-owned record of one transfer. The record
// lives in the active table until it reaches a terminal state, then moves to
// the archive and is never reused. Decision-making is serialized per record
// through its mutex; distinct transactions proceed concurrently.
type Transaction struct {
	mu sync.Mutex

	ID           string                `json:"id"`
	Participants []*Participant        `json:"participants"`
	State        types.TxnState        `json:"state"`
	Votes        map[string]types.Vote `json:"votes"`
	CreatedAt    time.Time             `json:"created_at"`
	DecidedAt    time.Time             `json:"decided_at"`
}

// decide moves the transaction into COMMITTING or ABORTING. Exactly one
// caller wins; later callers (a concurrent failover abort, a late timeout)
// see false and must follow the recorded decision instead.
func (t *Transaction) decide(commit bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State {
	case types.TxnInit, types.TxnPreparing, types.TxnPrepared:
	default:
		return false
	}
	if commit {
		t.State = types.TxnCommitting
	} else {
		t.State = types.TxnAborting
	}
	t.DecidedAt = time.Now()
	return true
}

func (t *Transaction) finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State {
	case types.TxnCommitting:
		t.State = types.TxnCommitted
	case types.TxnAborting:
		t.State = types.TxnAborted
	}
}

func (t *Transaction) currentState() types.TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

func (t *Transaction) setState(s types.TxnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.State = s
}

func (t *Transaction) recordVote(accountID string, vote types.Vote) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Votes == nil {
		t.Votes = make(map[string]types.Vote)
	}
	t.Votes[accountID] = vote
	for _, p := range t.Participants {
		if p.AccountID == accountID {
			p.Vote = vote
		}
	}
}

func (t *Transaction) markAckPending(accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.Participants {
		if p.AccountID == accountID {
			p.AckPending = true
		}
	}
}

// pendingAcks lists participants whose decision delivery exhausted its retry
// budget.
func (t *Transaction) pendingAcks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []string
	for _, p := range t.Participants {
		if p.AckPending {
			pending = append(pending, p.AccountID)
		}
	}
	return pending
}

// involves reports whether the transaction has a leg on the given node.
func (t *Transaction) involves(nodeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.Participants {
		if p.NodeID == nodeID {
			return true
		}
	}
	return false
}

func (t *Transaction) participants() []*Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Participant(nil), t.Participants...)
}
