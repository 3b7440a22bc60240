package coordinator

import (
	"log"
	"time"

	"distledger/code/types"
)

// Heartbeat monitor and failover. Every account node heartbeats on a fixed
// period T; a node with no heartbeat within missFactor*T is marked SUSPECTED,
// probed once directly, and marked FAILED if the probe also fails. A failed
// primary's paired backup is promoted and the routing table updated.

func (c *Coordinator) monitorLoop() {
	ticker := time.NewTicker(c.heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.checkNodes()
		}
	}
}

func (c *Coordinator) checkNodes() {
	cutoff := time.Duration(c.missFactor) * c.heartbeatPeriod

	for _, rec := range c.registry.Records() {
		if rec.Status == types.NodeFailed {
			continue
		}
		silence := time.Since(rec.LastHeartbeat)
		if silence <= cutoff {
			continue
		}

		if c.registry.Suspect(rec.NodeID) {
			log.Printf("checkNodes: node %s silent for %v (cutoff %v), marked SUSPECTED", rec.NodeID, silence, cutoff)
		}

		// One direct confirmation probe before declaring failure.
		if c.probeNode(rec.Address) {
			log.Printf("checkNodes: node %s answered the confirmation probe, clearing suspicion", rec.NodeID)
			c.registry.MarkAlive(rec.NodeID)
			continue
		}
		c.failNode(rec.NodeID)
	}
}

// failNode marks the node FAILED and, for a primary, runs the failover
// procedure: promote the paired backup, reroute its accounts, and
// conservatively abort every transaction left in an indeterminate state on
// the dead node.
func (c *Coordinator) failNode(nodeID string) {
	failed, ok := c.registry.MarkFailed(nodeID)
	if !ok {
		return
	}
	log.Printf("failNode: node %s marked FAILED (was %s for accounts %v)", nodeID, failed.Role, failed.Accounts)

	if failed.Role == types.RolePrimary {
		promoted, err := c.registry.Promote(nodeID)
		if err != nil {
			// Requests for these accounts are rejected until the route heals.
			log.Printf("failNode: cannot promote a backup for failed primary %s: %v", nodeID, err)
		} else {
			log.Printf("failNode: backup %s promoted to PRIMARY for accounts %v", promoted.NodeID, failed.Accounts)
			go c.sendPromote(promoted, failed.Accounts)
		}
	}

	// Never assume an unconfirmed prepare on the dead node succeeded.
	c.abortInFlight(nodeID)
}

// Heartbeat is the RPC entry point for node liveness signals. A FAILED node's
// heartbeat refreshes its timestamp but restores nothing until the node
// reports itself as BACKUP, at which point it is re-admitted (it must have
// resynced from the promoted primary before serving; it is never reinstated
// as primary directly).
func (c *Coordinator) Heartbeat(hb *types.HeartbeatMessage, reply *types.HeartbeatReply) error {
	// Liveness is judged on receipt time; the sender's clock is only reported.
	readmitted := c.registry.Touch(hb.NodeID, hb.Role, time.Now())
	if readmitted {
		log.Printf("Heartbeat: recovered node %s rejoined as BACKUP", hb.NodeID)
	}
	reply.Accepted = true
	return nil
}
