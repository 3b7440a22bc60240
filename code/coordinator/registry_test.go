package coordinator

import (
	"testing"
	"time"

	"distledger/code/types"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(&types.NodeRecord{
		NodeID:       "node-1",
		Role:         types.RolePrimary,
		Address:      "127.0.0.1:7001",
		PairedNodeID: "node-1b",
		Accounts:     []string{"acct-1", "acct-2"},
	})
	r.Register(&types.NodeRecord{
		NodeID:       "node-1b",
		Role:         types.RoleBackup,
		Address:      "127.0.0.1:7002",
		PairedNodeID: "node-1",
		Accounts:     []string{"acct-1", "acct-2"},
	})
	return r
}

func TestResolvePrimaryRoutesToRegisteredPrimary(t *testing.T) {
	r := newTestRegistry()

	rec, err := r.ResolvePrimary("acct-1")
	if err != nil {
		t.Fatalf("ResolvePrimary failed: %v", err)
	}
	if rec.NodeID != "node-1" {
		t.Fatalf("expected route to node-1, got %s", rec.NodeID)
	}

	if _, err := r.ResolvePrimary("acct-unknown"); err == nil {
		t.Fatal("expected an error for an unrouted account")
	}
}

func TestPromoteMovesRoutes(t *testing.T) {
	r := newTestRegistry()

	if _, ok := r.MarkFailed("node-1"); !ok {
		t.Fatal("expected node-1 to transition to FAILED")
	}
	if _, err := r.ResolvePrimary("acct-1"); err == nil {
		t.Fatal("expected no live route while the primary is failed and unpromoted")
	}

	promoted, err := r.Promote("node-1")
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if promoted.NodeID != "node-1b" || promoted.Role != types.RolePrimary {
		t.Fatalf("expected node-1b promoted to PRIMARY, got %+v", promoted)
	}

	rec, err := r.ResolvePrimary("acct-2")
	if err != nil {
		t.Fatalf("ResolvePrimary after promotion failed: %v", err)
	}
	if rec.NodeID != "node-1b" {
		t.Fatalf("expected acct-2 rerouted to node-1b, got %s", rec.NodeID)
	}
}

func TestPromoteRefusesFailedBackup(t *testing.T) {
	r := newTestRegistry()
	r.MarkFailed("node-1b")
	r.MarkFailed("node-1")

	if _, err := r.Promote("node-1"); err == nil {
		t.Fatal("expected promotion to fail when the backup is itself failed")
	}
}

func TestSuspectAndProbeRecovery(t *testing.T) {
	r := newTestRegistry()

	if !r.Suspect("node-1") {
		t.Fatal("expected an ALIVE node to become SUSPECTED")
	}
	if r.Suspect("node-1") {
		t.Fatal("expected a second Suspect call to report no transition")
	}

	r.MarkAlive("node-1")
	rec, _ := r.Lookup("node-1")
	if rec.Status != types.NodeAlive {
		t.Fatalf("expected node-1 back to ALIVE, got %s", rec.Status)
	}
}

func TestHeartbeatClearsSuspicion(t *testing.T) {
	r := newTestRegistry()
	r.Suspect("node-1")

	r.Touch("node-1", types.RolePrimary, time.Now())
	rec, _ := r.Lookup("node-1")
	if rec.Status != types.NodeAlive {
		t.Fatalf("expected a heartbeat to clear suspicion, got %s", rec.Status)
	}
}

// A recovered former primary is re-admitted only once it reports itself as
// BACKUP; a heartbeat still claiming PRIMARY changes nothing.
func TestFailedPrimaryRejoinsOnlyAsBackup(t *testing.T) {
	r := newTestRegistry()
	r.MarkFailed("node-1")
	if _, err := r.Promote("node-1"); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	if r.Touch("node-1", types.RolePrimary, time.Now()) {
		t.Fatal("expected a heartbeat claiming PRIMARY to be refused")
	}
	rec, _ := r.Lookup("node-1")
	if rec.Status != types.NodeFailed {
		t.Fatalf("expected node-1 to stay FAILED, got %s", rec.Status)
	}

	if !r.Touch("node-1", types.RoleBackup, time.Now()) {
		t.Fatal("expected a heartbeat reporting BACKUP to re-admit the node")
	}
	rec, _ = r.Lookup("node-1")
	if rec.Status != types.NodeAlive || rec.Role != types.RoleBackup {
		t.Fatalf("expected node-1 ALIVE as BACKUP, got %s %s", rec.Status, rec.Role)
	}

	// The promoted backup keeps the routes.
	routed, err := r.ResolvePrimary("acct-1")
	if err != nil {
		t.Fatalf("ResolvePrimary failed: %v", err)
	}
	if routed.NodeID != "node-1b" {
		t.Fatalf("expected acct-1 to stay routed to node-1b, got %s", routed.NodeID)
	}
}
