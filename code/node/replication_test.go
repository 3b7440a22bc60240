package node

import (
	"net"
	"testing"
	"time"

	"distledger/code/types"
)

func newTestBackup(t *testing.T, pairAddr string) *AccountNode {
	t.Helper()
	n := NewAccountNode(Config{
		ID:       "node-1b",
		Role:     types.RoleBackup,
		PairID:   "node-1",
		PairAddr: pairAddr,
	})
	if err := n.Bootstrap([]types.AccountSeed{{ID: "acct-1", Balance: 10000}}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return n
}

func replicate(t *testing.T, n *AccountNode, seq uint64, balance int64) types.ReplicationReply {
	t.Helper()
	var reply types.ReplicationReply
	err := n.ApplyReplication(&types.ReplicationMessage{
		AccountID: "acct-1",
		Sequence:  seq,
		Balance:   balance,
		Entry:     types.HistoryEntry{TxnID: "txn", Sequence: seq},
	}, &reply)
	if err != nil {
		t.Fatalf("ApplyReplication returned an error: %v", err)
	}
	return reply
}

func TestBackupAppliesInSequence(t *testing.T) {
	n := newTestBackup(t, "")

	if reply := replicate(t, n, 1, 9000); !reply.Applied {
		t.Fatal("expected seq 1 to be applied")
	}
	if reply := replicate(t, n, 2, 9500); !reply.Applied {
		t.Fatal("expected seq 2 to be applied")
	}

	if balance, _ := n.Ledger().Balance("acct-1"); balance != 9500 {
		t.Fatalf("expected balance 9500, got %d", balance)
	}
	if seq := n.Ledger().Sequence("acct-1"); seq != 2 {
		t.Fatalf("expected sequence 2, got %d", seq)
	}
}

func TestBackupDropsDuplicates(t *testing.T) {
	n := newTestBackup(t, "")

	replicate(t, n, 1, 9000)
	if reply := replicate(t, n, 1, 4242); reply.Applied || reply.NeedSync {
		t.Fatalf("expected the duplicate to be dropped silently, got %+v", reply)
	}

	if balance, _ := n.Ledger().Balance("acct-1"); balance != 9000 {
		t.Fatalf("expected the duplicate to leave balance at 9000, got %d", balance)
	}
	if hist := n.Ledger().History("acct-1"); len(hist) != 1 {
		t.Fatalf("expected a single history entry, got %d", len(hist))
	}
}

func TestPrimaryRefusesReplication(t *testing.T) {
	n := NewAccountNode(Config{ID: "node-1", Role: types.RolePrimary})
	if err := n.Bootstrap([]types.AccountSeed{{ID: "acct-1", Balance: 10000}}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	var reply types.ReplicationReply
	if err := n.ApplyReplication(&types.ReplicationMessage{AccountID: "acct-1", Sequence: 1}, &reply); err != nil {
		t.Fatalf("ApplyReplication returned an error: %v", err)
	}
	if reply.Applied {
		t.Fatal("expected a primary to refuse replication traffic")
	}
}

// A gap in the replicated sequence triggers a full-state pull from the
// primary: the backup converges without the missed messages being resent.
func TestBackupHealsGapFromPrimary(t *testing.T) {
	primary := NewAccountNode(Config{ID: "node-1", Role: types.RolePrimary})
	if err := primary.Bootstrap([]types.AccountSeed{{ID: "acct-1", Balance: 10000}}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	primary.Ledger().Apply("acct-1", "txn-1", -1000)
	primary.Ledger().Apply("acct-1", "txn-2", -500)
	primary.Ledger().Apply("acct-1", "txn-3", 2000)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	defer lis.Close()
	go primary.Serve(lis)

	backup := newTestBackup(t, lis.Addr().String())

	// Seq 3 arrives while the backup is still at 0: a gap.
	reply := replicate(t, backup, 3, 10500)
	if reply.Applied || !reply.NeedSync {
		t.Fatalf("expected a gap to request synchronization, got %+v", reply)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if backup.Ledger().Sequence("acct-1") == 3 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if seq := backup.Ledger().Sequence("acct-1"); seq != 3 {
		t.Fatalf("expected the backup to heal to sequence 3, still at %d", seq)
	}
	if balance, _ := backup.Ledger().Balance("acct-1"); balance != 10500 {
		t.Fatalf("expected healed balance 10500, got %d", balance)
	}
	if hist := backup.Ledger().History("acct-1"); len(hist) != 3 {
		t.Fatalf("expected the full history after healing, got %d entries", len(hist))
	}
}

func TestResyncPullsFullStateFromPrimary(t *testing.T) {
	primary := NewAccountNode(Config{ID: "node-1", Role: types.RolePrimary})
	if err := primary.Bootstrap([]types.AccountSeed{
		{ID: "acct-1", Balance: 10000},
		{ID: "acct-2", Balance: 5000},
	}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	primary.Ledger().Apply("acct-1", "txn-1", -3000)
	primary.Ledger().Apply("acct-2", "txn-1", 3000)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	defer lis.Close()
	go primary.Serve(lis)

	backup := NewAccountNode(Config{
		ID:       "node-1b",
		Role:     types.RoleBackup,
		PairID:   "node-1",
		PairAddr: lis.Addr().String(),
	})
	if err := backup.Bootstrap([]types.AccountSeed{
		{ID: "acct-1", Balance: 10000},
		{ID: "acct-2", Balance: 5000},
	}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	if err := backup.resyncFromPrimary(); err != nil {
		t.Fatalf("resyncFromPrimary failed: %v", err)
	}

	if balance, _ := backup.Ledger().Balance("acct-1"); balance != 7000 {
		t.Fatalf("expected synced balance 7000 for acct-1, got %d", balance)
	}
	if balance, _ := backup.Ledger().Balance("acct-2"); balance != 8000 {
		t.Fatalf("expected synced balance 8000 for acct-2, got %d", balance)
	}
}

// End-to-end over the wire: commits on a started primary reach the backup in
// order through the replication loop.
func TestCommitsReplicateToBackup(t *testing.T) {
	backupLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	defer backupLis.Close()

	backup := newTestBackup(t, "")
	go backup.Serve(backupLis)

	primary := NewAccountNode(Config{
		ID:       "node-1",
		Role:     types.RolePrimary,
		PairID:   "node-1b",
		PairAddr: backupLis.Addr().String(),
		// The heartbeat loop is idle long past the end of this test.
		HeartbeatPeriod: time.Minute,
	})
	if err := primary.Bootstrap([]types.AccountSeed{{ID: "acct-1", Balance: 10000}}); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	primary.Start()
	defer primary.Stop()

	var vote types.PrepareResponse
	primary.Prepare(&types.PrepareRequest{TxnID: "txn-1", AccountID: "acct-1", IsSender: true, Amount: 2500}, &vote)
	if vote.Vote != types.VoteYes {
		t.Fatalf("expected YES, got %s", vote.Vote)
	}
	var ack types.Ack
	primary.Commit(&types.CommitRequest{TxnID: "txn-1"}, &ack)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if backup.Ledger().Sequence("acct-1") == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if balance, _ := backup.Ledger().Balance("acct-1"); balance != 7500 {
		t.Fatalf("expected the commit to reach the backup, balance is %d", balance)
	}
}
