package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hensuio/hensu/workflow"
)

func newTestSQLiteRepo(t *testing.T) *SQLiteStateRepository {
	t.Helper()
	repo, err := NewSQLiteStateRepository(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStateRepository() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testSnapshot(tenantID, executionID string) *workflow.HensuSnapshot {
	return &workflow.HensuSnapshot{
		TenantID:         tenantID,
		ExecutionID:      executionID,
		WorkflowID:       "wf1",
		State:            workflow.NewState("a", workflow.Context{"x": 1}),
		CurrentNodeID:    "a",
		CheckpointReason: workflow.ReasonCheckpoint,
		CheckpointTime:   time.Now().UTC(),
	}
}

func TestSQLiteSaveAndFindLatest(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	snap := testSnapshot("t1", "e1")
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.FindLatest(ctx, "t1", "e1")
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if got.WorkflowID != "wf1" || got.CurrentNodeID != "a" {
		t.Fatalf("FindLatest() = %+v, want workflowID wf1 / currentNodeID a", got)
	}
	if got.State.Context["x"] != float64(1) {
		t.Errorf("FindLatest() state context = %v, want x:1 (round-tripped through JSON as float64)", got.State.Context)
	}
}

func TestSQLiteSaveUpserts(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	snap := testSnapshot("t1", "e1")
	repo.Save(ctx, snap)

	snap.CurrentNodeID = "b"
	snap.CheckpointTime = snap.CheckpointTime.Add(time.Second)
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := repo.FindLatest(ctx, "t1", "e1")
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if got.CurrentNodeID != "b" {
		t.Fatalf("FindLatest() CurrentNodeID = %q, want b after upsert", got.CurrentNodeID)
	}
}

func TestSQLiteFindLatestNotFound(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	_, err := repo.FindLatest(context.Background(), "t1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindLatest() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteFindByWorkflowIDOrdersByCheckpointTime(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	snap1 := testSnapshot("t1", "e1")
	snap1.CheckpointTime = now
	snap2 := testSnapshot("t1", "e2")
	snap2.CheckpointTime = now.Add(time.Second)
	repo.Save(ctx, snap2)
	repo.Save(ctx, snap1)

	got, err := repo.FindByWorkflowID(ctx, "t1", "wf1")
	if err != nil {
		t.Fatalf("FindByWorkflowID() error = %v", err)
	}
	if len(got) != 2 || got[0].ExecutionID != "e1" || got[1].ExecutionID != "e2" {
		t.Fatalf("FindByWorkflowID() order = %+v, want [e1 e2]", got)
	}
}

func TestSQLiteFindPausedExcludesOwned(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	paused := testSnapshot("t1", "e1")
	paused.CheckpointReason = workflow.ReasonPaused
	repo.Save(ctx, paused)

	owned := testSnapshot("t1", "e2")
	owned.CheckpointReason = workflow.ReasonPaused
	owner := "node-a"
	owned.ServerNodeID = &owner
	repo.Save(ctx, owned)

	got, err := repo.FindPaused(ctx, "t1")
	if err != nil {
		t.Fatalf("FindPaused() error = %v", err)
	}
	if len(got) != 1 || got[0].ExecutionID != "e1" {
		t.Fatalf("FindPaused() = %+v, want only e1", got)
	}
}

func TestSQLiteClaimStale(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testSnapshot("t1", "e1")
	staleHeartbeat := now.Add(-time.Hour)
	stale.LastHeartbeatAt = &staleHeartbeat
	owner := "dead-node"
	stale.ServerNodeID = &owner
	repo.Save(ctx, stale)

	claimed, err := repo.ClaimStale(ctx, now.Add(-5*time.Minute), "new-node", now)
	if err != nil {
		t.Fatalf("ClaimStale() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ExecutionID != "e1" {
		t.Fatalf("ClaimStale() = %+v, want one claim for e1", claimed)
	}
	if *claimed[0].ServerNodeID != "new-node" {
		t.Errorf("claimed ServerNodeID = %s, want new-node", *claimed[0].ServerNodeID)
	}
}

func TestSQLiteClaimStaleLeavesFreshRowsUnclaimed(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := testSnapshot("t1", "e1")
	freshHeartbeat := now.Add(-time.Second)
	fresh.LastHeartbeatAt = &freshHeartbeat
	owner := "alive-node"
	fresh.ServerNodeID = &owner
	repo.Save(ctx, fresh)

	claimed, err := repo.ClaimStale(ctx, now.Add(-5*time.Minute), "new-node", now)
	if err != nil {
		t.Fatalf("ClaimStale() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("ClaimStale() claimed %d fresh rows, want 0", len(claimed))
	}
}

func TestSQLiteRenewHeartbeat(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	snap := testSnapshot("t1", "e1")
	owner := "node-a"
	snap.ServerNodeID = &owner
	repo.Save(ctx, snap)

	now := time.Now().UTC()
	if err := repo.RenewHeartbeat(ctx, "t1", "e1", "node-a", now); err != nil {
		t.Fatalf("RenewHeartbeat() error = %v", err)
	}
	got, _ := repo.FindLatest(ctx, "t1", "e1")
	if got.LastHeartbeatAt == nil || !got.LastHeartbeatAt.Equal(now) {
		t.Fatalf("LastHeartbeatAt = %v, want %v", got.LastHeartbeatAt, now)
	}
}

func TestSQLiteRenewHeartbeatRejectsWrongOwner(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	ctx := context.Background()

	snap := testSnapshot("t1", "e1")
	owner := "node-a"
	snap.ServerNodeID = &owner
	repo.Save(ctx, snap)

	err := repo.RenewHeartbeat(ctx, "t1", "e1", "node-b", time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("RenewHeartbeat() by non-owner error = %v, want ErrNotFound", err)
	}
	got, _ := repo.FindLatest(ctx, "t1", "e1")
	if got.LastHeartbeatAt != nil {
		t.Error("RenewHeartbeat() by non-owner modified the row")
	}
}

func TestSQLiteCloseIsIdempotentAndBlocksFurtherSaves(t *testing.T) {
	repo := newTestSQLiteRepo(t)
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("second Close() error = %v, want nil", err)
	}
	if err := repo.Save(context.Background(), testSnapshot("t1", "e1")); err == nil {
		t.Fatal("Save() after Close() error = nil, want error")
	}
}
