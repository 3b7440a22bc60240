package coordinator

import (
	"log"
	"net"
	"net/rpc"
	"time"

	"distledger/code/types"
)

// RPC plumbing between the coordinator and account nodes. Every failure here
// is absorbed into the protocol: a prepare that cannot be delivered is a
// TIMEOUT vote, an undeliverable decision becomes a pending ack. No error
// crosses back to the client from this layer.

func dialNode(addr string, timeout time.Duration) (*rpc.Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(conn), nil
}

// sendPrepare delivers one PrepareRequest and waits for the vote, bounded by
// deadline. Unreachable and unresponsive participants both come back as
// VoteTimeout; the aggregation rule treats them like a NO.
func (c *Coordinator) sendPrepare(p *Participant, txnID string, deadline time.Time) types.Vote {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return types.VoteTimeout
	}

	client, err := dialNode(p.Address, remaining)
	if err != nil {
		log.Printf("sendPrepare: txn %s participant %s (%s) unreachable: %v", txnID, p.AccountID, p.Address, err)
		return types.VoteTimeout
	}
	defer client.Close()

	req := &types.PrepareRequest{
		TxnID:     txnID,
		AccountID: p.AccountID,
		IsSender:  p.IsSender,
		Amount:    p.Amount,
	}
	var resp types.PrepareResponse
	call := client.Go("AccountNode.Prepare", req, &resp, make(chan *rpc.Call, 1))

	select {
	case <-call.Done:
		if call.Error != nil {
			log.Printf("sendPrepare: txn %s prepare RPC to %s failed: %v", txnID, p.AccountID, call.Error)
			return types.VoteTimeout
		}
		log.Printf("sendPrepare: txn %s participant %s voted %s", txnID, p.AccountID, resp.Vote)
		return resp.Vote
	case <-time.After(time.Until(deadline)):
		log.Printf("sendPrepare: txn %s participant %s timed out waiting for vote", txnID, p.AccountID)
		return types.VoteTimeout
	}
}

// sendDecision delivers the commit or abort command once and waits for the
// ack, bounded by timeout.
func (c *Coordinator) sendDecision(p *Participant, txnID string, commit bool, timeout time.Duration) bool {
	client, err := dialNode(p.Address, timeout)
	if err != nil {
		log.Printf("sendDecision: txn %s participant %s (%s) unreachable: %v", txnID, p.AccountID, p.Address, err)
		return false
	}
	defer client.Close()

	var ack types.Ack
	var call *rpc.Call
	if commit {
		call = client.Go("AccountNode.Commit", &types.CommitRequest{TxnID: txnID}, &ack, make(chan *rpc.Call, 1))
	} else {
		call = client.Go("AccountNode.Abort", &types.AbortRequest{TxnID: txnID}, &ack, make(chan *rpc.Call, 1))
	}

	select {
	case <-call.Done:
		if call.Error != nil {
			log.Printf("sendDecision: txn %s decision RPC to %s failed: %v", txnID, p.AccountID, call.Error)
			return false
		}
		return true
	case <-time.After(timeout):
		log.Printf("sendDecision: txn %s participant %s timed out waiting for ack", txnID, p.AccountID)
		return false
	}
}

// probeNode performs the single direct confirmation probe between SUSPECTED
// and FAILED.
func (c *Coordinator) probeNode(addr string) bool {
	client, err := dialNode(addr, probeTimeout)
	if err != nil {
		return false
	}
	defer client.Close()

	var reply types.PingReply
	call := client.Go("AccountNode.Ping", &types.PingRequest{}, &reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error == nil
	case <-time.After(probeTimeout):
		return false
	}
}

// sendPromote tells a backup to take over. Best effort: the coordinator-side
// promotion stands even when the notification fails, and the node confirms
// the role change through its next heartbeat.
func (c *Coordinator) sendPromote(rec *types.NodeRecord, accounts []string) {
	client, err := dialNode(rec.Address, dialTimeout)
	if err != nil {
		log.Printf("sendPromote: cannot reach backup %s (%s): %v", rec.NodeID, rec.Address, err)
		return
	}
	defer client.Close()

	var reply types.PromoteReply
	if err := client.Call("AccountNode.Promote", &types.PromoteCommand{Accounts: accounts}, &reply); err != nil {
		log.Printf("sendPromote: promote command to %s failed: %v", rec.NodeID, err)
		return
	}
	log.Printf("sendPromote: node %s confirmed promotion to %s", reply.NodeID, reply.Role)
}

// queryNodeBalance forwards a balance read to the account's current primary.
func (c *Coordinator) queryNodeBalance(rec *types.NodeRecord, accountID string) (*types.BalanceReply, error) {
	client, err := dialNode(rec.Address, dialTimeout)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var reply types.BalanceReply
	if err := client.Call("AccountNode.QueryBalance", &types.BalanceRequest{AccountID: accountID}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
