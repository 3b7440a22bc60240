package node

import (
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	lm := NewLockManager()

	if !lm.Acquire("acct-1", "txn-1", 100*time.Millisecond) {
		t.Fatal("expected to acquire a free lock")
	}
	if holder, held := lm.Holder("acct-1"); !held || holder != "txn-1" {
		t.Fatalf("expected txn-1 to hold acct-1, got %q held=%v", holder, held)
	}

	lm.Release("acct-1", "txn-1")
	if _, held := lm.Holder("acct-1"); held {
		t.Fatal("expected lock to be free after release")
	}
}

func TestAcquireHeldLockTimesOut(t *testing.T) {
	lm := NewLockManager()
	lm.Acquire("acct-1", "txn-1", 100*time.Millisecond)

	start := time.Now()
	if lm.Acquire("acct-1", "txn-2", 80*time.Millisecond) {
		t.Fatal("expected acquisition of a held lock to fail")
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected acquisition to block for the timeout, returned after %v", elapsed)
	}
	if holder, _ := lm.Holder("acct-1"); holder != "txn-1" {
		t.Fatalf("expected txn-1 to still hold the lock, got %q", holder)
	}
}

func TestReacquireBySameTransaction(t *testing.T) {
	lm := NewLockManager()
	lm.Acquire("acct-1", "txn-1", 100*time.Millisecond)

	if !lm.Acquire("acct-1", "txn-1", 100*time.Millisecond) {
		t.Fatal("expected re-acquisition by the holder to succeed")
	}
}

func TestReleaseByNonHolderIsNoop(t *testing.T) {
	lm := NewLockManager()
	lm.Acquire("acct-1", "txn-1", 100*time.Millisecond)

	lm.Release("acct-1", "txn-2")
	if holder, held := lm.Holder("acct-1"); !held || holder != "txn-1" {
		t.Fatalf("expected txn-1 to keep the lock, got %q held=%v", holder, held)
	}

	// Releasing an unlocked account is equally harmless.
	lm.Release("acct-9", "txn-2")
}
