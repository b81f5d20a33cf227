// Package lease implements C12, the Lease Manager: single-owner-at-a-time
// guarantees over checkpointed executions across a fleet of server nodes,
// via heartbeat renewal and atomic stale-claim.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hensuio/hensu/store"
)

// Manager is C12.
//
// Invariants (spec §5, I1-I4):
//   - I1: a checkpoint row carries exactly one owner (ServerNodeID) at a time.
//   - I2: heartbeats only ever move LastHeartbeatAt forward.
//   - I3: ClaimStale only reassigns rows whose heartbeat predates
//     now-staleThreshold, and the backing repository guarantees no two
//     concurrent claimants win the same row.
//   - I4: completing/pausing/failing an execution clears ownership
//     (workflow.HensuSnapshot.ApplyLease, applied by the executor on save).
type Manager struct {
	repo           store.StateRepository // nil means persistence disabled (in-memory/test mode)
	serverNodeID   string
	staleThreshold time.Duration
}

// New builds a Manager with a freshly generated server node identity,
// unless serverNodeID is non-empty (configuration override).
func New(repo store.StateRepository, staleThreshold time.Duration, serverNodeID string) *Manager {
	if serverNodeID == "" {
		serverNodeID = uuid.NewString()
	}
	return &Manager{repo: repo, serverNodeID: serverNodeID, staleThreshold: staleThreshold}
}

// ServerNodeID returns this process's lease identity.
func (m *Manager) ServerNodeID() string {
	return m.serverNodeID
}

// IsActive reports whether lease management is backed by real persistence.
// False in in-memory/test mode, in which case UpdateHeartbeats and
// ClaimStaleExecutions are no-ops.
func (m *Manager) IsActive() bool {
	return m.repo != nil
}

// UpdateHeartbeats sets LastHeartbeatAt = now on every checkpoint row this
// node owns. Runs on a periodic timer with interval heartbeatInterval; never
// touches rows owned by another server node.
func (m *Manager) UpdateHeartbeats(ctx context.Context, now time.Time) error {
	if !m.IsActive() {
		return nil
	}
	owned, err := m.repo.FindOwnedCheckpoints(ctx, m.serverNodeID)
	if err != nil {
		return err
	}
	for _, snap := range owned {
		err := m.repo.RenewHeartbeat(ctx, snap.TenantID, snap.ExecutionID, m.serverNodeID, now)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		// ErrNotFound means ownership moved on between FindOwnedCheckpoints and
		// this renewal (e.g. a concurrent ClaimStale already reassigned the
		// row) — nothing to renew, not a failure.
	}
	return nil
}

// ClaimStaleExecutions atomically reassigns every checkpoint row whose
// heartbeat predates now-staleThreshold to this node, and returns their
// (tenantId, executionId) pairs for the Recovery Sweeper to resume.
func (m *Manager) ClaimStaleExecutions(ctx context.Context, now time.Time) ([]ClaimedExecution, error) {
	if !m.IsActive() {
		return nil, nil
	}
	claimed, err := m.repo.ClaimStale(ctx, now.Add(-m.staleThreshold), m.serverNodeID, now)
	if err != nil {
		return nil, err
	}
	out := make([]ClaimedExecution, len(claimed))
	for i, snap := range claimed {
		out[i] = ClaimedExecution{TenantID: snap.TenantID, ExecutionID: snap.ExecutionID, WorkflowID: snap.WorkflowID, CurrentNodeID: snap.CurrentNodeID}
	}
	return out, nil
}

// ClaimedExecution identifies one execution this node just took ownership
// of, ready for resumption at CurrentNodeID.
type ClaimedExecution struct {
	TenantID      string
	ExecutionID   string
	WorkflowID    string
	CurrentNodeID string
}

// Release clears ownership of an execution without changing its
// CheckpointReason; used when a node is shutting down gracefully and wants
// to hand its executions back to the pool immediately rather than waiting
// out staleThreshold.
func (m *Manager) Release(ctx context.Context, tenantID, executionID string) error {
	if !m.IsActive() {
		return nil
	}
	snap, err := m.repo.FindLatest(ctx, tenantID, executionID)
	if err != nil {
		return err
	}
	snap.ServerNodeID = nil
	snap.LastHeartbeatAt = nil
	return m.repo.Save(ctx, snap)
}
