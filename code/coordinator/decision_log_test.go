package coordinator

import (
	"path/filepath"
	"testing"

	"distledger/code/types"
)

func TestDecisionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.db")

	dl, err := OpenDecisionLog(path)
	if err != nil {
		t.Fatalf("OpenDecisionLog failed: %v", err)
	}
	if err := dl.RecordDecision("txn-1", types.TxnCommitted); err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}
	if err := dl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenDecisionLog(path)
	if err != nil {
		t.Fatalf("reopening decision log failed: %v", err)
	}
	defer reopened.Close()

	state, ok := reopened.Decision("txn-1")
	if !ok || state != types.TxnCommitted {
		t.Fatalf("expected recorded COMMITTED decision, got %q (ok=%v)", state, ok)
	}
	if _, ok := reopened.Decision("txn-unknown"); ok {
		t.Fatal("expected no decision for an unknown transaction")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	dl, err := OpenDecisionLog(filepath.Join(t.TempDir(), "decisions.db"))
	if err != nil {
		t.Fatalf("OpenDecisionLog failed: %v", err)
	}
	defer dl.Close()

	txn := &Transaction{
		ID:    "txn-1",
		State: types.TxnCommitted,
		Votes: map[string]types.Vote{"acct-1": types.VoteYes, "acct-2": types.VoteYes},
		Participants: []*Participant{
			{AccountID: "acct-1", NodeID: "node-1", IsSender: true, Amount: 2500, Vote: types.VoteYes},
			{AccountID: "acct-2", NodeID: "node-2", Amount: 2500, Vote: types.VoteYes},
		},
	}
	if err := dl.Archive(txn); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	archived, ok := dl.LookupArchive("txn-1")
	if !ok {
		t.Fatal("expected the archived transaction to be found")
	}
	if archived.State != types.TxnCommitted || len(archived.Participants) != 2 {
		t.Fatalf("unexpected archived record: %+v", archived)
	}
	if _, ok := dl.LookupArchive("txn-unknown"); ok {
		t.Fatal("expected no archive entry for an unknown transaction")
	}
}
