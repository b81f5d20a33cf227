package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hensuio/hensu/workflow"
)

// MemoryStateRepository is an in-process StateRepository, used by tests and
// single-process deployments where schedulerEnabled is false.
type MemoryStateRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*workflow.HensuSnapshot // tenantID/executionID -> latest
}

// NewMemoryStateRepository builds an empty MemoryStateRepository.
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{snapshots: make(map[string]*workflow.HensuSnapshot)}
}

func snapshotKey(tenantID, executionID string) string {
	return tenantID + "/" + executionID
}

// Save implements StateRepository.
func (r *MemoryStateRepository) Save(_ context.Context, snapshot *workflow.HensuSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *snapshot
	r.snapshots[snapshotKey(snapshot.TenantID, snapshot.ExecutionID)] = &cp
	return nil
}

// FindLatest implements StateRepository.
func (r *MemoryStateRepository) FindLatest(_ context.Context, tenantID, executionID string) (*workflow.HensuSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[snapshotKey(tenantID, executionID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// FindByWorkflowID implements StateRepository.
func (r *MemoryStateRepository) FindByWorkflowID(_ context.Context, tenantID, workflowID string) ([]*workflow.HensuSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*workflow.HensuSnapshot
	for _, s := range r.snapshots {
		if s.TenantID == tenantID && s.WorkflowID == workflowID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckpointTime.Before(out[j].CheckpointTime) })
	return out, nil
}

// FindPaused implements StateRepository.
func (r *MemoryStateRepository) FindPaused(_ context.Context, tenantID string) ([]*workflow.HensuSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*workflow.HensuSnapshot
	for _, s := range r.snapshots {
		if s.TenantID == tenantID && s.CheckpointReason == workflow.ReasonPaused && s.ServerNodeID == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// FindOwnedCheckpoints implements StateRepository.
func (r *MemoryStateRepository) FindOwnedCheckpoints(_ context.Context, serverNodeID string) ([]*workflow.HensuSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*workflow.HensuSnapshot
	for _, s := range r.snapshots {
		if s.CheckpointReason == workflow.ReasonCheckpoint && s.ServerNodeID != nil && *s.ServerNodeID == serverNodeID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// RenewHeartbeat implements StateRepository. The mutex held for the
// check-and-set makes this the same single atomic operation a guarded SQL
// UPDATE gives the SQL-backed repositories.
func (r *MemoryStateRepository) RenewHeartbeat(_ context.Context, tenantID, executionID, serverNodeID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[snapshotKey(tenantID, executionID)]
	if !ok || s.ServerNodeID == nil || *s.ServerNodeID != serverNodeID {
		return ErrNotFound
	}
	s.LastHeartbeatAt = &now
	return nil
}

// ClaimStale implements StateRepository. The repository's mutex serialises
// this against every other Save/ClaimStale call, which is what guarantees
// no double-claim for the in-memory backend.
func (r *MemoryStateRepository) ClaimStale(_ context.Context, olderThan time.Time, claimantID string, now time.Time) ([]*workflow.HensuSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []*workflow.HensuSnapshot
	for _, s := range r.snapshots {
		if s.CheckpointReason != workflow.ReasonCheckpoint || s.LastHeartbeatAt == nil || !s.LastHeartbeatAt.Before(olderThan) {
			continue
		}
		s.ApplyLease(claimantID, now)
		cp := *s
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// MemoryWorkflowRepository is an in-process WorkflowRepository.
type MemoryWorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// NewMemoryWorkflowRepository builds an empty MemoryWorkflowRepository.
func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{workflows: make(map[string]*workflow.Workflow)}
}

func workflowKey(tenantID, workflowID string) string {
	return tenantID + "/" + workflowID
}

// Save implements WorkflowRepository.
func (r *MemoryWorkflowRepository) Save(_ context.Context, tenantID string, wf *workflow.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[workflowKey(tenantID, wf.ID)] = wf
	return nil
}

// Find implements WorkflowRepository.
func (r *MemoryWorkflowRepository) Find(_ context.Context, tenantID, workflowID string) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[workflowKey(tenantID, workflowID)]
	if !ok {
		return nil, ErrNotFound
	}
	return wf, nil
}

// Delete implements WorkflowRepository.
func (r *MemoryWorkflowRepository) Delete(_ context.Context, tenantID, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, workflowKey(tenantID, workflowID))
	return nil
}
