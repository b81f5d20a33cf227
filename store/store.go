// Package store implements C11, the Snapshot Store, plus the
// WorkflowRepository contract: persistence for compiled workflow
// definitions and per-execution HensuSnapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hensuio/hensu/workflow"
)

// ErrNotFound is returned when a requested workflow or snapshot does not
// exist.
var ErrNotFound = errors.New("not found")

// StateRepository is C11's persistence contract.
//
// Ordering guarantee: for a given execution, Save calls are serialised by
// the executor itself (one worker advances one execution at a time);
// readers observe monotonically non-decreasing CheckpointTime.
type StateRepository interface {
	// Save is an atomic upsert keyed by (tenantId, executionId). It stores
	// the lease fields as given; callers set or clear them beforehand with
	// workflow.HensuSnapshot.ApplyLease.
	Save(ctx context.Context, snapshot *workflow.HensuSnapshot) error

	// FindLatest returns the most recently saved snapshot for an execution.
	FindLatest(ctx context.Context, tenantID, executionID string) (*workflow.HensuSnapshot, error)

	// FindByWorkflowID returns every snapshot for tenantID/workflowID,
	// ordered by CheckpointTime ascending.
	FindByWorkflowID(ctx context.Context, tenantID, workflowID string) ([]*workflow.HensuSnapshot, error)

	// FindPaused returns every snapshot for tenantID with reason "paused"
	// and no owning server node.
	FindPaused(ctx context.Context, tenantID string) ([]*workflow.HensuSnapshot, error)

	// FindOwnedCheckpoints returns every checkpoint-reason snapshot currently
	// owned by serverNodeID, across all tenants. Backs the Lease Manager's
	// (C12) periodic heartbeat renewal.
	FindOwnedCheckpoints(ctx context.Context, serverNodeID string) ([]*workflow.HensuSnapshot, error)

	// RenewHeartbeat sets LastHeartbeatAt = now on the (tenantID, executionID)
	// row, but only if it is still owned by serverNodeID; it is a no-op
	// (ErrNotFound) if ownership moved on (e.g. a concurrent ClaimStale
	// reassigned the row while this node's heartbeat loop was mid-cycle).
	// Implementations must guard this with the same ownership check ClaimStale
	// uses, so the two operations can never both "win" the same row.
	RenewHeartbeat(ctx context.Context, tenantID, executionID, serverNodeID string, now time.Time) error

	// ClaimStale atomically reassigns every checkpoint-reason snapshot whose
	// LastHeartbeatAt predates olderThan to claimantID (with heartbeat reset
	// to now), and returns the claimed snapshots. Implementations must
	// guarantee a row is claimed by at most one caller even under concurrent
	// ClaimStale calls from other server nodes (C12's "no double-claim"
	// requirement) — SQL backends do this with a single guarded UPDATE.
	ClaimStale(ctx context.Context, olderThan time.Time, claimantID string, now time.Time) ([]*workflow.HensuSnapshot, error)
}

// WorkflowRepository is the consumed interface for compiled workflow
// definitions (spec §6).
type WorkflowRepository interface {
	Save(ctx context.Context, tenantID string, wf *workflow.Workflow) error
	Find(ctx context.Context, tenantID, workflowID string) (*workflow.Workflow, error)
	Delete(ctx context.Context, tenantID, workflowID string) error
}
