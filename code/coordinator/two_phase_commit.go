package coordinator

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"distledger/code/types"
)

// ExecuteTransfer runs one transfer through the full 2PC lifecycle and
// returns the terminal record. The returned error is reserved for
// coordinator-level faults (no live primary for an account); every failure
// below that is absorbed into an ABORTED outcome.
func (c *Coordinator) ExecuteTransfer(from, to string, amount int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if from == to {
		return nil, fmt.Errorf("transfer needs two distinct accounts, got %s twice", from)
	}

	fromRec, err := c.registry.ResolvePrimary(from)
	if err != nil {
		return nil, err
	}
	toRec, err := c.registry.ResolvePrimary(to)
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		ID:    uuid.NewString(),
		State: types.TxnInit,
		Votes: make(map[string]types.Vote),
		Participants: []*Participant{
			{AccountID: from, NodeID: fromRec.NodeID, Address: fromRec.Address, IsSender: true, Amount: amount},
			{AccountID: to, NodeID: toRec.NodeID, Address: toRec.Address, IsSender: false, Amount: amount},
		},
		CreatedAt: time.Now(),
	}
	c.trackTxn(txn)
	log.Printf("ExecuteTransfer: txn %s created for %s -> %s amount %d (primaries %s, %s)",
		txn.ID, from, to, amount, fromRec.NodeID, toRec.NodeID)

	allYes := c.preparePhase(txn)

	if !txn.decide(allYes) {
		// A concurrent failover abort won the decision; follow it.
		log.Printf("ExecuteTransfer: txn %s was decided concurrently (%s), following that decision", txn.ID, txn.currentState())
		return txn, nil
	}

	commit := txn.currentState() == types.TxnCommitting
	outcome := types.TxnAborted
	if commit {
		outcome = types.TxnCommitted
	}

	// Durability of the decision record is the commit point. Phase 2 only
	// propagates a decision that already exists.
	if err := c.decisions.RecordDecision(txn.ID, outcome); err != nil {
		log.Printf("ExecuteTransfer: CRITICAL: failed to record decision for txn %s: %v", txn.ID, err)
	}
	log.Printf("ExecuteTransfer: txn %s decided %s", txn.ID, outcome)

	c.decidePhase(txn, commit)
	txn.finalize()
	c.archiveTxn(txn)

	log.Printf("ExecuteTransfer: txn %s finished as %s (pending acks: %v)", txn.ID, txn.currentState(), txn.pendingAcks())
	return txn, nil
}

type prepareResult struct {
	accountID string
	vote      types.Vote
}

// preparePhase sends PrepareRequests to the resolved primaries and joins on
// the votes with a bounded per-participant timeout. ALL YES proceeds to
// commit; ANY NO, timeout, or unreachable participant forces abort. Votes
// arriving after the join are still logged but no longer influence the
// decision.
//
// Distinct nodes are prepared concurrently. Legs that share a node are sent
// sequentially in ascending account-id order, so every transaction takes its
// locks on a node in the same global order and two crossing co-located
// transfers resolve by one winning instead of deadlocking into timeouts.
func (c *Coordinator) preparePhase(txn *Transaction) bool {
	txn.setState(types.TxnPreparing)

	participants := txn.participants()
	deadline := time.Now().Add(c.prepareTimeout)
	voteCh := make(chan prepareResult, len(participants))

	byNode := make(map[string][]*Participant)
	for _, p := range participants {
		byNode[p.NodeID] = append(byNode[p.NodeID], p)
	}

	log.Printf("preparePhase: txn %s sending prepare to %d participants on %d nodes with timeout %v",
		txn.ID, len(participants), len(byNode), c.prepareTimeout)
	for _, legs := range byNode {
		sort.Slice(legs, func(i, j int) bool { return legs[i].AccountID < legs[j].AccountID })
		go func(legs []*Participant) {
			for _, p := range legs {
				vote := c.sendPrepare(p, txn.ID, deadline)
				voteCh <- prepareResult{accountID: p.AccountID, vote: vote}
			}
		}(legs)
	}

	timeout := time.After(time.Until(deadline) + 100*time.Millisecond)
	received := 0
	allYes := true
	for received < len(participants) {
		select {
		case res := <-voteCh:
			received++
			txn.recordVote(res.accountID, res.vote)
			if res.vote != types.VoteYes {
				allYes = false
			}
		case <-timeout:
			// Mark everyone still outstanding as timed out; any vote that
			// trickles in later is logged by the drain below.
			log.Printf("preparePhase: txn %s join timed out with %d/%d votes", txn.ID, received, len(participants))
			for _, p := range participants {
				if _, voted := txn.Votes[p.AccountID]; !voted {
					txn.recordVote(p.AccountID, types.VoteTimeout)
				}
			}
			go c.drainLateVotes(txn.ID, voteCh, len(participants)-received)
			allYes = false
			received = len(participants)
		}
	}

	if allYes {
		txn.setState(types.TxnPrepared)
		log.Printf("preparePhase: txn %s all participants voted YES", txn.ID)
	} else {
		log.Printf("preparePhase: txn %s votes %v, aborting", txn.ID, txn.Votes)
	}
	return allYes
}

// drainLateVotes logs votes that arrive after the decision was made. They are
// ignored for decision purposes.
func (c *Coordinator) drainLateVotes(txnID string, voteCh <-chan prepareResult, outstanding int) {
	for i := 0; i < outstanding; i++ {
		res := <-voteCh
		log.Printf("drainLateVotes: txn %s late vote %s from %s, ignored for decision", txnID, res.vote, res.accountID)
	}
}

// decidePhase delivers the decision to every participant that was sent a
// prepare, including NO voters, so reservation state is cleaned up
// everywhere. Delivery is retried within a bounded budget; exhaustion marks
// the ack pending and raises an operational flag without ever reopening the
// decision.
func (c *Coordinator) decidePhase(txn *Transaction, commit bool) {
	participants := txn.participants()

	var wg sync.WaitGroup
	for _, p := range participants {
		wg.Add(1)
		go func(p *Participant) {
			defer wg.Done()
			for attempt := 1; attempt <= decisionRetryBudget; attempt++ {
				if c.sendDecision(p, txn.ID, commit, c.prepareTimeout) {
					log.Printf("decidePhase: txn %s participant %s acked (attempt %d)", txn.ID, p.AccountID, attempt)
					return
				}
				log.Printf("decidePhase: txn %s participant %s did not ack on attempt %d/%d",
					txn.ID, p.AccountID, attempt, decisionRetryBudget)
				time.Sleep(decisionRetryDelay)
			}
			txn.markAckPending(p.AccountID)
			log.Printf("decidePhase: OPERATIONAL: txn %s ack from %s still pending after %d attempts, outcome stands",
				txn.ID, p.AccountID, decisionRetryBudget)
		}(p)
	}
	wg.Wait()
}

// abortInFlight conservatively aborts every active transaction with an
// undecided leg on the given node. Called during failover: an unconfirmed
// prepare on a dead node is never assumed to have succeeded.
func (c *Coordinator) abortInFlight(nodeID string) {
	for _, txn := range c.activeTxns() {
		if !txn.involves(nodeID) {
			continue
		}
		if !txn.decide(false) {
			continue
		}
		log.Printf("abortInFlight: txn %s had an undecided leg on failed node %s, aborting system-wide", txn.ID, nodeID)
		if err := c.decisions.RecordDecision(txn.ID, types.TxnAborted); err != nil {
			log.Printf("abortInFlight: failed to record abort decision for txn %s: %v", txn.ID, err)
		}
		go func(txn *Transaction) {
			c.decidePhase(txn, false)
			txn.finalize()
			c.archiveTxn(txn)
		}(txn)
	}
}
