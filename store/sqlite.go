package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hensuio/hensu/workflow"
)

// SQLiteStateRepository is a pure-Go, WAL-mode SQLite StateRepository.
// Designed for development, single-process deployments, and as a stepping
// stone before migrating to MySQL for a multi-node, schedulerEnabled
// deployment.
type SQLiteStateRepository struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStateRepository opens (and migrates, if needed) a SQLite-backed
// StateRepository at path. Use ":memory:" for ephemeral use in tests.
func NewSQLiteStateRepository(path string) (*SQLiteStateRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStateRepository{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables migrates the execution_snapshots schema described in
// the persisted-state-layout table: one row per (tenant, execution), with
// the recovery sweeper's stale-lease scan served by idx_snapshots_lease.
func (s *SQLiteStateRepository) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS execution_snapshots (
			tenant_id TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			state TEXT NOT NULL,
			current_node_id TEXT NOT NULL DEFAULT '',
			checkpoint_reason TEXT NOT NULL,
			checkpoint_time TIMESTAMP NOT NULL,
			server_node_id TEXT,
			last_heartbeat_at TIMESTAMP,
			PRIMARY KEY (tenant_id, execution_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create execution_snapshots table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_snapshots_workflow ON execution_snapshots(tenant_id, workflow_id)",
		"CREATE INDEX IF NOT EXISTS idx_snapshots_lease ON execution_snapshots(checkpoint_reason, last_heartbeat_at)",
		"CREATE INDEX IF NOT EXISTS idx_snapshots_paused ON execution_snapshots(tenant_id, checkpoint_reason, server_node_id)",
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Save implements StateRepository as an atomic upsert.
func (s *SQLiteStateRepository) Save(ctx context.Context, snapshot *workflow.HensuSnapshot) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	stateJSON, err := json.Marshal(snapshot.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	var serverNodeID, lastHeartbeat interface{}
	if snapshot.ServerNodeID != nil {
		serverNodeID = *snapshot.ServerNodeID
	}
	if snapshot.LastHeartbeatAt != nil {
		lastHeartbeat = snapshot.LastHeartbeatAt.UTC().Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO execution_snapshots
			(tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, execution_id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			state = excluded.state,
			current_node_id = excluded.current_node_id,
			checkpoint_reason = excluded.checkpoint_reason,
			checkpoint_time = excluded.checkpoint_time,
			server_node_id = excluded.server_node_id,
			last_heartbeat_at = excluded.last_heartbeat_at
	`
	_, err = s.db.ExecContext(ctx, query,
		snapshot.TenantID, snapshot.ExecutionID, snapshot.WorkflowID, string(stateJSON),
		snapshot.CurrentNodeID, string(snapshot.CheckpointReason),
		snapshot.CheckpointTime.UTC().Format(time.RFC3339Nano), serverNodeID, lastHeartbeat,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// FindLatest implements StateRepository.
func (s *SQLiteStateRepository) FindLatest(ctx context.Context, tenantID, executionID string) (*workflow.HensuSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE tenant_id = ? AND execution_id = ?
	`, tenantID, executionID)
	snap, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// FindByWorkflowID implements StateRepository.
func (s *SQLiteStateRepository) FindByWorkflowID(ctx context.Context, tenantID, workflowID string) ([]*workflow.HensuSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE tenant_id = ? AND workflow_id = ?
		ORDER BY checkpoint_time ASC
	`, tenantID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSnapshots(rows)
}

// FindPaused implements StateRepository.
func (s *SQLiteStateRepository) FindPaused(ctx context.Context, tenantID string) ([]*workflow.HensuSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE tenant_id = ? AND checkpoint_reason = ? AND server_node_id IS NULL
	`, tenantID, string(workflow.ReasonPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to query paused snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSnapshots(rows)
}

// FindOwnedCheckpoints implements StateRepository.
func (s *SQLiteStateRepository) FindOwnedCheckpoints(ctx context.Context, serverNodeID string) ([]*workflow.HensuSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE checkpoint_reason = ? AND server_node_id = ?
	`, string(workflow.ReasonCheckpoint), serverNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSnapshots(rows)
}

// RenewHeartbeat implements StateRepository. The WHERE clause re-checks
// server_node_id, the same guard ClaimStale uses, so a renewal racing a
// concurrent ClaimStale that just reassigned the row affects zero rows
// instead of clobbering the new owner's claim.
func (s *SQLiteStateRepository) RenewHeartbeat(ctx context.Context, tenantID, executionID, serverNodeID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_snapshots SET last_heartbeat_at = ?
		WHERE tenant_id = ? AND execution_id = ? AND server_node_id = ?
	`, now.UTC().Format(time.RFC3339Nano), tenantID, executionID, serverNodeID)
	if err != nil {
		return fmt.Errorf("failed to renew heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check renew heartbeat result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimStale implements StateRepository. The guarded UPDATE (re-checking
// last_heartbeat_at in the WHERE clause) is what prevents two concurrent
// sweepers from both believing they claimed the same row: whichever UPDATE
// commits first moves last_heartbeat_at forward, so the loser's WHERE no
// longer matches when its own transaction executes (SQLite's single-writer
// serialization guarantees this rather than row-level locking).
func (s *SQLiteStateRepository) ClaimStale(ctx context.Context, olderThan time.Time, claimantID string, now time.Time) ([]*workflow.HensuSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT tenant_id, execution_id FROM execution_snapshots
		WHERE checkpoint_reason = ? AND last_heartbeat_at IS NOT NULL AND last_heartbeat_at < ?
	`, string(workflow.ReasonCheckpoint), olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale checkpoints: %w", err)
	}
	type key struct{ tenantID, executionID string }
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.tenantID, &k.executionID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*workflow.HensuSnapshot
	for _, k := range keys {
		res, err := tx.ExecContext(ctx, `
			UPDATE execution_snapshots SET server_node_id = ?, last_heartbeat_at = ?
			WHERE tenant_id = ? AND execution_id = ? AND checkpoint_reason = ? AND last_heartbeat_at < ?
		`, claimantID, now.UTC().Format(time.RFC3339Nano), k.tenantID, k.executionID, string(workflow.ReasonCheckpoint), olderThan.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, fmt.Errorf("failed to claim snapshot: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			continue
		}
		snap, err := func() (*workflow.HensuSnapshot, error) {
			row := tx.QueryRowContext(ctx, `
				SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
				FROM execution_snapshots WHERE tenant_id = ? AND execution_id = ?
			`, k.tenantID, k.executionID)
			return scanSnapshot(row.Scan)
		}()
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, snap)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return claimed, nil
}

// Close closes the underlying database connection. Safe to call more than
// once.
func (s *SQLiteStateRepository) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanSnapshots(rows *sql.Rows) ([]*workflow.HensuSnapshot, error) {
	var out []*workflow.HensuSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}
	return out, nil
}

func scanSnapshot(scan func(dest ...interface{}) error) (*workflow.HensuSnapshot, error) {
	var (
		snap                                      workflow.HensuSnapshot
		stateJSON, reason, checkpointTime          string
		serverNodeID, lastHeartbeat                sql.NullString
	)
	if err := scan(&snap.TenantID, &snap.ExecutionID, &snap.WorkflowID, &stateJSON, &snap.CurrentNodeID, &reason, &checkpointTime, &serverNodeID, &lastHeartbeat); err != nil {
		return nil, err
	}
	snap.CheckpointReason = workflow.CheckpointReason(reason)
	t, err := time.Parse(time.RFC3339Nano, checkpointTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint_time: %w", err)
	}
	snap.CheckpointTime = t
	var state workflow.HensuState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	snap.State = &state
	if serverNodeID.Valid {
		id := serverNodeID.String
		snap.ServerNodeID = &id
	}
	if lastHeartbeat.Valid {
		hb, err := time.Parse(time.RFC3339Nano, lastHeartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_heartbeat_at: %w", err)
		}
		snap.LastHeartbeatAt = &hb
	}
	return &snap, nil
}
