package coordinator

import (
	"log"

	"distledger/code/types"
)

// Client-facing RPC surface. All failures below the coordinator arrive here
// already translated into a binary transaction outcome; only an unroutable
// account surfaces as an error.

// Transfer runs a transfer through 2PC and reports the terminal outcome.
func (c *Coordinator) Transfer(req *types.TransferRequest, reply *types.TransferReply) error {
	log.Printf("Transfer: request %s -> %s amount %d", req.From, req.To, req.Amount)

	txn, err := c.ExecuteTransfer(req.From, req.To, req.Amount)
	if err != nil {
		log.Printf("Transfer: request %s -> %s rejected: %v", req.From, req.To, err)
		return err
	}

	reply.TxnID = txn.ID
	reply.Status = terminalState(txn.currentState())
	reply.PendingAcks = txn.pendingAcks()
	return nil
}

// QueryBalance forwards a balance read to the account's current primary.
// After a failover this transparently reaches the promoted backup.
func (c *Coordinator) QueryBalance(req *types.BalanceRequest, reply *types.BalanceReply) error {
	rec, err := c.registry.ResolvePrimary(req.AccountID)
	if err != nil {
		return err
	}
	resp, err := c.queryNodeBalance(rec, req.AccountID)
	if err != nil {
		log.Printf("QueryBalance: account %s primary %s unreachable: %v", req.AccountID, rec.NodeID, err)
		return err
	}
	*reply = *resp
	return nil
}

// GetStatus serves a transaction's state from the active table, falling back
// to the archive for terminal transactions.
func (c *Coordinator) GetStatus(req *types.StatusRequest, reply *types.StatusReply) error {
	reply.TxnID = req.TxnID

	if txn, ok := c.lookupTxn(req.TxnID); ok {
		reply.State = txn.currentState()
		reply.Known = true
		return nil
	}
	if archived, ok := c.decisions.LookupArchive(req.TxnID); ok {
		reply.State = archived.State
		reply.Known = true
		return nil
	}
	if decided, ok := c.decisions.Decision(req.TxnID); ok {
		reply.State = decided
		reply.Known = true
		return nil
	}
	log.Printf("GetStatus: transaction %s unknown", req.TxnID)
	return nil
}

// terminalState collapses a still-propagating decision into its terminal
// form for the client: the decision is final from the moment it was recorded.
func terminalState(s types.TxnState) types.TxnState {
	switch s {
	case types.TxnCommitting:
		return types.TxnCommitted
	case types.TxnAborting:
		return types.TxnAborted
	}
	return s
}
