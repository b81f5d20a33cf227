package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/hensuio/hensu/workflow"
)

// MySQLStateRepository is a MySQL/MariaDB StateRepository. Designed for a
// production, multi-node deployment where schedulerEnabled is true and
// several server nodes race to claim stale executions via C12/C13.
type MySQLStateRepository struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStateRepository opens a connection pool against dsn (e.g.
// "user:pass@tcp(127.0.0.1:3306)/hensu?parseTime=true") and migrates the
// execution_snapshots table if needed.
//
// Never hardcode dsn; source it from configuration (see the config
// package).
func NewMySQLStateRepository(dsn string) (*MySQLStateRepository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &MySQLStateRepository{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStateRepository) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS execution_snapshots (
			tenant_id VARCHAR(128) NOT NULL,
			execution_id VARCHAR(128) NOT NULL,
			workflow_id VARCHAR(128) NOT NULL,
			state LONGTEXT NOT NULL,
			current_node_id VARCHAR(256) NOT NULL DEFAULT '',
			checkpoint_reason VARCHAR(32) NOT NULL,
			checkpoint_time DATETIME(6) NOT NULL,
			server_node_id VARCHAR(128) NULL,
			last_heartbeat_at DATETIME(6) NULL,
			PRIMARY KEY (tenant_id, execution_id),
			INDEX idx_snapshots_workflow (tenant_id, workflow_id),
			INDEX idx_snapshots_lease (checkpoint_reason, last_heartbeat_at),
			INDEX idx_snapshots_paused (tenant_id, checkpoint_reason, server_node_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create execution_snapshots table: %w", err)
	}
	return nil
}

// Save implements StateRepository as an atomic upsert.
func (s *MySQLStateRepository) Save(ctx context.Context, snapshot *workflow.HensuSnapshot) error {
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
		lastHeartbeat = snapshot.LastHeartbeatAt.UTC()
	}

	query := `
		INSERT INTO execution_snapshots
			(tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			workflow_id = VALUES(workflow_id),
			state = VALUES(state),
			current_node_id = VALUES(current_node_id),
			checkpoint_reason = VALUES(checkpoint_reason),
			checkpoint_time = VALUES(checkpoint_time),
			server_node_id = VALUES(server_node_id),
			last_heartbeat_at = VALUES(last_heartbeat_at)
	`
	_, err = s.db.ExecContext(ctx, query,
		snapshot.TenantID, snapshot.ExecutionID, snapshot.WorkflowID, string(stateJSON),
		snapshot.CurrentNodeID, string(snapshot.CheckpointReason),
		snapshot.CheckpointTime.UTC(), serverNodeID, lastHeartbeat,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// FindLatest implements StateRepository.
func (s *MySQLStateRepository) FindLatest(ctx context.Context, tenantID, executionID string) (*workflow.HensuSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE tenant_id = ? AND execution_id = ?
	`, tenantID, executionID)
	snap, err := scanMySQLSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// FindByWorkflowID implements StateRepository.
func (s *MySQLStateRepository) FindByWorkflowID(ctx context.Context, tenantID, workflowID string) ([]*workflow.HensuSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE tenant_id = ? AND workflow_id = ?
		ORDER BY checkpoint_time ASC
	`, tenantID, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMySQLSnapshots(rows)
}

// FindPaused implements StateRepository. Backs the listPaused operation
// across every server node sharing this database.
func (s *MySQLStateRepository) FindPaused(ctx context.Context, tenantID string) ([]*workflow.HensuSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE tenant_id = ? AND checkpoint_reason = ? AND server_node_id IS NULL
	`, tenantID, string(workflow.ReasonPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to query paused snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMySQLSnapshots(rows)
}

// FindOwnedCheckpoints implements StateRepository.
func (s *MySQLStateRepository) FindOwnedCheckpoints(ctx context.Context, serverNodeID string) ([]*workflow.HensuSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
		FROM execution_snapshots WHERE checkpoint_reason = ? AND server_node_id = ?
	`, string(workflow.ReasonCheckpoint), serverNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query owned checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMySQLSnapshots(rows)
}

// RenewHeartbeat implements StateRepository. The WHERE clause re-checks
// server_node_id, the same guard ClaimStale uses, so a renewal racing a
// concurrent ClaimStale that just reassigned the row affects zero rows
// instead of clobbering the new owner's claim.
func (s *MySQLStateRepository) RenewHeartbeat(ctx context.Context, tenantID, executionID, serverNodeID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_snapshots SET last_heartbeat_at = ?
		WHERE tenant_id = ? AND execution_id = ? AND server_node_id = ?
	`, now.UTC(), tenantID, executionID, serverNodeID)
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

// ClaimStale implements StateRepository using a transaction with a guarded
// UPDATE, so the same "no double-claim" guarantee holds across concurrent
// server nodes sharing one MySQL instance (InnoDB's row locks serialise the
// competing UPDATEs; the loser's WHERE clause no longer matches once the
// winner has committed its new last_heartbeat_at).
func (s *MySQLStateRepository) ClaimStale(ctx context.Context, olderThan time.Time, claimantID string, now time.Time) ([]*workflow.HensuSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT tenant_id, execution_id FROM execution_snapshots
		WHERE checkpoint_reason = ? AND last_heartbeat_at IS NOT NULL AND last_heartbeat_at < ?
		FOR UPDATE
	`, string(workflow.ReasonCheckpoint), olderThan.UTC())
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
		`, claimantID, now.UTC(), k.tenantID, k.executionID, string(workflow.ReasonCheckpoint), olderThan.UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to claim snapshot: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil || n == 0 {
			continue
		}
		row := tx.QueryRowContext(ctx, `
			SELECT tenant_id, execution_id, workflow_id, state, current_node_id, checkpoint_reason, checkpoint_time, server_node_id, last_heartbeat_at
			FROM execution_snapshots WHERE tenant_id = ? AND execution_id = ?
		`, k.tenantID, k.executionID)
		snap, err := scanMySQLSnapshot(row.Scan)
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

// Close closes the underlying connection pool. Safe to call more than once.
func (s *MySQLStateRepository) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanMySQLSnapshots(rows *sql.Rows) ([]*workflow.HensuSnapshot, error) {
	var out []*workflow.HensuSnapshot
	for rows.Next() {
		snap, err := scanMySQLSnapshot(rows.Scan)
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

func scanMySQLSnapshot(scan func(dest ...interface{}) error) (*workflow.HensuSnapshot, error) {
	var (
		snap                         workflow.HensuSnapshot
		stateJSON, reason            string
		checkpointTime               time.Time
		serverNodeID                 sql.NullString
		lastHeartbeat                sql.NullTime
	)
	if err := scan(&snap.TenantID, &snap.ExecutionID, &snap.WorkflowID, &stateJSON, &snap.CurrentNodeID, &reason, &checkpointTime, &serverNodeID, &lastHeartbeat); err != nil {
		return nil, err
	}
	snap.CheckpointReason = workflow.CheckpointReason(reason)
	snap.CheckpointTime = checkpointTime
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
		hb := lastHeartbeat.Time
		snap.LastHeartbeatAt = &hb
	}
	return &snap, nil
}
