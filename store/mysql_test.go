package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hensuio/hensu/workflow"
)

// These tests exercise MySQLStateRepository against a real MySQL/MariaDB
// instance. They are skipped unless TEST_MYSQL_DSN is set.
//
// Example DSN: "user:password@tcp(127.0.0.1:3306)/hensu_test?parseTime=true"
//
// To run:
//
//	export TEST_MYSQL_DSN="user:password@tcp(127.0.0.1:3306)/hensu_test?parseTime=true"
//	go test -v -run TestMySQL ./store

func mysqlTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skipping MySQL integration test: set TEST_MYSQL_DSN to run")
	}
	return dsn
}

func newTestMySQLRepo(t *testing.T) *MySQLStateRepository {
	t.Helper()
	repo, err := NewMySQLStateRepository(mysqlTestDSN(t))
	if err != nil {
		t.Fatalf("NewMySQLStateRepository() error = %v", err)
	}
	t.Cleanup(func() {
		_, _ = repo.db.Exec("DELETE FROM execution_snapshots WHERE tenant_id LIKE 'mysql-test-%'")
		_ = repo.Close()
	})
	return repo
}

func TestMySQLInvalidDSN(t *testing.T) {
	mysqlTestDSN(t)
	if _, err := NewMySQLStateRepository("not a dsn"); err == nil {
		t.Error("NewMySQLStateRepository() with an invalid DSN error = nil, want error")
	}
}

func TestMySQLSaveAndFindLatest(t *testing.T) {
	repo := newTestMySQLRepo(t)
	ctx := context.Background()

	snap := testSnapshot("mysql-test-t1", "e1")
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.FindLatest(ctx, "mysql-test-t1", "e1")
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if got.WorkflowID != "wf1" || got.CurrentNodeID != "a" {
		t.Fatalf("FindLatest() = %+v, want workflowID wf1 / currentNodeID a", got)
	}
}

func TestMySQLSaveUpserts(t *testing.T) {
	repo := newTestMySQLRepo(t)
	ctx := context.Background()

	snap := testSnapshot("mysql-test-t1", "e1")
	repo.Save(ctx, snap)

	snap.CurrentNodeID = "b"
	if err := repo.Save(ctx, snap); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := repo.FindLatest(ctx, "mysql-test-t1", "e1")
	if err != nil {
		t.Fatalf("FindLatest() error = %v", err)
	}
	if got.CurrentNodeID != "b" {
		t.Fatalf("FindLatest() CurrentNodeID = %q, want b after upsert", got.CurrentNodeID)
	}
}

func TestMySQLFindLatestNotFound(t *testing.T) {
	repo := newTestMySQLRepo(t)
	_, err := repo.FindLatest(context.Background(), "mysql-test-t1", "missing")
	if err != ErrNotFound {
		t.Fatalf("FindLatest() error = %v, want ErrNotFound", err)
	}
}

func TestMySQLClaimStale(t *testing.T) {
	repo := newTestMySQLRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := testSnapshot("mysql-test-t1", "e1")
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

func TestMySQLRenewHeartbeat(t *testing.T) {
	repo := newTestMySQLRepo(t)
	ctx := context.Background()

	snap := testSnapshot("mysql-test-t1", "e1")
	owner := "node-a"
	snap.ServerNodeID = &owner
	repo.Save(ctx, snap)

	now := time.Now().UTC()
	if err := repo.RenewHeartbeat(ctx, "mysql-test-t1", "e1", "node-a", now); err != nil {
		t.Fatalf("RenewHeartbeat() error = %v", err)
	}
	got, _ := repo.FindLatest(ctx, "mysql-test-t1", "e1")
	if got.LastHeartbeatAt == nil || !got.LastHeartbeatAt.Equal(now) {
		t.Fatalf("LastHeartbeatAt = %v, want %v", got.LastHeartbeatAt, now)
	}

	if err := repo.RenewHeartbeat(ctx, "mysql-test-t1", "e1", "node-b", time.Now().UTC()); err != ErrNotFound {
		t.Fatalf("RenewHeartbeat() by non-owner error = %v, want ErrNotFound", err)
	}
}

func TestMySQLClose(t *testing.T) {
	repo := newTestMySQLRepo(t)
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("second Close() error = %v, want nil", err)
	}
}
