package node

import (
	"log"
	"net"
	"net/rpc"
	"time"

	"distledger/code/types"
)

const replicationDialTimeout = 2 * time.Second

// Primary -> Backup replication. Updates are pushed after the local commit
// completes; the client-visible outcome never waits for the backup. The
// ordered channel plus a single sender goroutine preserves per-node send
// order, and the backup's sequence check makes delivery idempotent.

func (n *AccountNode) enqueueReplication(msg types.ReplicationMessage) {
	if n.pairAddr == "" || n.Role() != types.RolePrimary {
		return
	}
	select {
	case n.replCh <- msg:
	default:
		// Backup will detect the gap and resynchronize.
		log.Printf("enqueueReplication: node %s replication queue full, dropping seq %d for account %s",
			n.id, msg.Sequence, msg.AccountID)
	}
}

func (n *AccountNode) replicationLoop() {
	var client *rpc.Client
	defer func() {
		if client != nil {
			client.Close()
		}
	}()

	for {
		select {
		case <-n.stopCh:
			return
		case msg := <-n.replCh:
			if client == nil {
				conn, err := net.DialTimeout("tcp", n.pairAddr, replicationDialTimeout)
				if err != nil {
					log.Printf("replicationLoop: node %s cannot reach backup %s: %v", n.id, n.pairID, err)
					continue
				}
				client = rpc.NewClient(conn)
			}

			var reply types.ReplicationReply
			if err := client.Call("AccountNode.ApplyReplication", &msg, &reply); err != nil {
				log.Printf("replicationLoop: node %s failed to replicate seq %d for account %s: %v",
					n.id, msg.Sequence, msg.AccountID, err)
				client.Close()
				client = nil
				continue
			}
			if reply.NeedSync {
				// The backup pulls the full state itself; nothing to resend here.
				log.Printf("replicationLoop: node %s backup reported gap at seq %d for account %s",
					n.id, msg.Sequence, msg.AccountID)
			}
		}
	}
}

// ApplyReplication applies one sequenced update on a backup. Only the message
// that directly follows the last applied sequence number is applied;
// duplicates and out-of-order messages are dropped, and a gap triggers a
// full-state pull from the primary (self-healing, never client-visible).
func (n *AccountNode) ApplyReplication(msg *types.ReplicationMessage, reply *types.ReplicationReply) error {
	if n.Role() != types.RoleBackup {
		log.Printf("ApplyReplication: node %s refused replication for account %s: not backup", n.id, msg.AccountID)
		reply.Applied = false
		return nil
	}

	last := n.ledger.Sequence(msg.AccountID)
	switch {
	case msg.Sequence == last+1:
		n.ledger.ApplyReplicated(msg)
		reply.Applied = true
		log.Printf("ApplyReplication: node %s applied seq %d for account %s (balance %d)",
			n.id, msg.Sequence, msg.AccountID, msg.Balance)
	case msg.Sequence <= last:
		log.Printf("ApplyReplication: node %s dropped duplicate seq %d for account %s (last applied %d)",
			n.id, msg.Sequence, msg.AccountID, last)
	default:
		reply.NeedSync = true
		log.Printf("ApplyReplication: node %s gap at account %s: got seq %d, last applied %d, requesting sync",
			n.id, msg.AccountID, msg.Sequence, last)
		go n.syncAccount(msg.AccountID)
	}
	return nil
}

// Synchronize serves a full-state resend to the paired backup (or to a
// recovering counterpart).
func (n *AccountNode) Synchronize(req *types.SyncRequest, reply *types.SyncReply) error {
	snapshot, err := n.ledger.Snapshot(req.AccountID)
	if err != nil {
		return err
	}
	*reply = *snapshot
	log.Printf("Synchronize: node %s served snapshot of account %s at seq %d", n.id, req.AccountID, snapshot.Sequence)
	return nil
}

// resyncFromPrimary pulls the full state of every account the paired primary
// hosts. Run before a backup starts serving replication traffic, and by a
// recovered node before it rejoins.
func (n *AccountNode) resyncFromPrimary() error {
	conn, err := net.DialTimeout("tcp", n.pairAddr, replicationDialTimeout)
	if err != nil {
		return err
	}
	client := rpc.NewClient(conn)
	defer client.Close()

	ids := n.ledger.AccountIDs()
	for _, accountID := range ids {
		var snapshot types.SyncReply
		if err := client.Call("AccountNode.Synchronize", &types.SyncRequest{AccountID: accountID}, &snapshot); err != nil {
			return err
		}
		n.ledger.Install(snapshot.AccountID, snapshot.Balance, snapshot.Sequence, snapshot.History)
	}
	log.Printf("resyncFromPrimary: node %s synchronized %d accounts from %s", n.id, len(ids), n.pairID)
	return nil
}

func (n *AccountNode) syncAccount(accountID string) {
	conn, err := net.DialTimeout("tcp", n.pairAddr, replicationDialTimeout)
	if err != nil {
		log.Printf("syncAccount: node %s cannot reach primary %s: %v", n.id, n.pairID, err)
		return
	}
	client := rpc.NewClient(conn)
	defer client.Close()

	var snapshot types.SyncReply
	if err := client.Call("AccountNode.Synchronize", &types.SyncRequest{AccountID: accountID}, &snapshot); err != nil {
		log.Printf("syncAccount: node %s sync of account %s failed: %v", n.id, accountID, err)
		return
	}
	n.ledger.Install(snapshot.AccountID, snapshot.Balance, snapshot.Sequence, snapshot.History)
	log.Printf("syncAccount: node %s healed account %s to seq %d", n.id, accountID, snapshot.Sequence)
}
