package coordinator

import (
	"fmt"
	"log"
	"sync"
	"time"

	"distledger/code/types"
)

// Registry is the coordinator's owned roster of account nodes plus the
// account -> primary routing table. It is initialized at startup and mutated
// only through these methods; heartbeat receipt updates it continuously and
// roles flip only through Promote.
type Registry struct {
	mu     sync.Mutex
	nodes  map[string]*types.NodeRecord
	routes map[string]string // accountID -> nodeID of current primary
}

func NewRegistry() *Registry {
	return &Registry{
		nodes:  make(map[string]*types.NodeRecord),
		routes: make(map[string]string),
	}
}

// Register adds a node at bootstrap. Primaries also claim the routes for the
// accounts they host.
func (r *Registry) Register(rec *types.NodeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.Status = types.NodeAlive
	rec.LastHeartbeat = time.Now()
	r.nodes[rec.NodeID] = rec
	if rec.Role == types.RolePrimary {
		for _, accountID := range rec.Accounts {
			r.routes[accountID] = rec.NodeID
		}
	}
}

// ResolvePrimary returns the node currently routing the account. An account
// whose primary is FAILED and whose backup has not been promoted yet has no
// live route; that is the one coordinator-level fault that surfaces to the
// client.
func (r *Registry) ResolvePrimary(accountID string) (*types.NodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodeID, ok := r.routes[accountID]
	if !ok {
		return nil, fmt.Errorf("no node hosts account %s", accountID)
	}
	rec := r.nodes[nodeID]
	if rec == nil {
		return nil, fmt.Errorf("route for account %s points at unknown node %s", accountID, nodeID)
	}
	if rec.Status == types.NodeFailed {
		return nil, fmt.Errorf("primary %s for account %s is failed and has no promoted backup", nodeID, accountID)
	}
	clone := *rec
	return &clone, nil
}

// Touch records a heartbeat. A FAILED node's heartbeat refreshes the
// timestamp but never restores status or role by itself: a recovered former
// primary is re-admitted only once it reports itself as BACKUP, the
// split-brain guard.
func (r *Registry) Touch(nodeID string, role types.Role, at time.Time) (readmitted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	rec.LastHeartbeat = at

	switch rec.Status {
	case types.NodeFailed:
		if role == types.RoleBackup {
			rec.Status = types.NodeAlive
			rec.Role = types.RoleBackup
			log.Printf("Touch: failed node %s re-admitted as BACKUP", nodeID)
			return true
		}
		log.Printf("Touch: heartbeat from failed node %s (claims %s), status unchanged", nodeID, role)
	case types.NodeSuspected:
		rec.Status = types.NodeAlive
	}
	return false
}

// Suspect marks a node SUSPECTED; returns false if it already left ALIVE.
func (r *Registry) Suspect(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[nodeID]
	if !ok || rec.Status != types.NodeAlive {
		return false
	}
	rec.Status = types.NodeSuspected
	return true
}

// MarkAlive clears a suspicion after a successful confirmation probe.
func (r *Registry) MarkAlive(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.nodes[nodeID]; ok && rec.Status == types.NodeSuspected {
		rec.Status = types.NodeAlive
		rec.LastHeartbeat = time.Now()
	}
}

// MarkFailed transitions a node to FAILED and returns a copy of its record.
func (r *Registry) MarkFailed(nodeID string) (*types.NodeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[nodeID]
	if !ok || rec.Status == types.NodeFailed {
		return nil, false
	}
	rec.Status = types.NodeFailed
	clone := *rec
	return &clone, true
}

// Promote flips the paired backup of a failed primary to PRIMARY and moves
// the failed node's routes to it. The failed node record is kept (as FAILED)
// so a later recovery can rejoin as backup.
func (r *Registry) Promote(failedID string) (*types.NodeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed, ok := r.nodes[failedID]
	if !ok {
		return nil, fmt.Errorf("unknown node %s", failedID)
	}
	backup, ok := r.nodes[failed.PairedNodeID]
	if !ok {
		return nil, fmt.Errorf("failed primary %s has no registered backup", failedID)
	}
	if backup.Status == types.NodeFailed {
		return nil, fmt.Errorf("backup %s of failed primary %s is itself failed", backup.NodeID, failedID)
	}

	backup.Role = types.RolePrimary
	if len(backup.Accounts) == 0 {
		backup.Accounts = append([]string(nil), failed.Accounts...)
	}
	for _, accountID := range failed.Accounts {
		r.routes[accountID] = backup.NodeID
	}
	failed.Role = types.RoleBackup

	clone := *backup
	return &clone, nil
}

// Lookup returns a copy of a node record.
func (r *Registry) Lookup(nodeID string) (*types.NodeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[nodeID]
	if !ok {
		return nil, false
	}
	clone := *rec
	return &clone, true
}

// Records returns a copy of the roster.
func (r *Registry) Records() []*types.NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.NodeRecord, 0, len(r.nodes))
	for _, rec := range r.nodes {
		clone := *rec
		out = append(out, &clone)
	}
	return out
}
