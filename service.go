// Package hensu is the root service package: it wires C3-C14's
// collaborators together and exposes the six operations of spec §6 as
// methods on Service, mirroring how the teacher's graph.New builds an
// Engine[S] from a Reducer, a store.Store, an emit.Emitter, and Options
// (graph/engine.go).
package hensu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hensuio/hensu/action"
	"github.com/hensuio/hensu/agent"
	"github.com/hensuio/hensu/config"
	"github.com/hensuio/hensu/consensus"
	"github.com/hensuio/hensu/emit"
	"github.com/hensuio/hensu/engine"
	"github.com/hensuio/hensu/forkjoin"
	"github.com/hensuio/hensu/lease"
	"github.com/hensuio/hensu/logging"
	"github.com/hensuio/hensu/plan"
	"github.com/hensuio/hensu/review"
	"github.com/hensuio/hensu/rubric"
	"github.com/hensuio/hensu/store"
	"github.com/hensuio/hensu/workflow"
)

// Status is getStatus's derived status enum, computed from a snapshot's
// CheckpointReason (spec §6).
type Status string

const (
	StatusRunning   Status = "Running"
	StatusPaused    Status = "Paused"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
)

func statusFromReason(reason workflow.CheckpointReason) Status {
	switch reason {
	case workflow.ReasonPaused:
		return StatusPaused
	case workflow.ReasonCompleted:
		return StatusCompleted
	case workflow.ReasonFailed:
		return StatusFailed
	case workflow.ReasonRejected:
		return StatusRejected
	case workflow.ReasonCancelled:
		return StatusCancelled
	default:
		return StatusRunning
	}
}

// Dependencies bundles Service's external collaborators: repositories and
// registries the caller (main/cmd) chooses backends for. Planner, Reviewer,
// and Metrics may be nil (static-plan-only, auto-approve, and
// no-instrumentation defaults respectively).
type Dependencies struct {
	Workflows store.WorkflowRepository
	States    store.StateRepository
	Events    *emit.Broadcaster
	Agents    *agent.Registry
	Rubrics   rubric.Repository
	Reviewer  review.Reviewer
	Planner   plan.Planner
	Metrics   *engine.Metrics
}

// Service is the root package's entry point: the six exposed operations of
// spec §6 as methods, backed by the C3-C14 collaborators New wires from
// Dependencies and Config.
type Service struct {
	workflows store.WorkflowRepository
	states    store.StateRepository
	events    *emit.Broadcaster
	leases    *lease.Manager
	executor  *engine.Executor
	sweeper   *lease.Sweeper
	cfg       config.Config
	logger    *slog.Logger
}

// New wires a Service. serverMode is always true for the Action Dispatcher
// (spec §4.4: CommandDefinition execution is never available to a hosted
// service), matching the teacher's deployment posture for graph.Engine.
func New(deps Dependencies, cfg config.Config) *Service {
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	rubrics := rubric.New(deps.Rubrics, deps.Agents, rubric.Options{})
	actions := action.New(true)
	planEngine := plan.New(actions, deps.Agents, deps.Planner, deps.Events)
	reviewGate := review.New(deps.Reviewer)
	cons := consensus.New(rubrics, deps.Agents, consensus.Options{})
	fj := forkjoin.New()

	dispatcher := engine.New(deps.Agents, rubrics, actions, planEngine, reviewGate, cons, fj, deps.Events, deps.Metrics, cfg.DefaultJoinTimeout)

	leases := lease.New(deps.States, cfg.StaleThreshold, cfg.ServerNodeID)
	executor := engine.NewExecutor(dispatcher, deps.States, leases, deps.Events, deps.Metrics, cfg.MaxBacktracks)

	svc := &Service{
		workflows: deps.Workflows,
		states:    deps.States,
		events:    deps.Events,
		leases:    leases,
		executor:  executor,
		cfg:       cfg,
		logger:    logger,
	}
	if cfg.SchedulerEnabled {
		svc.sweeper = lease.NewSweeper(leases, cfg.RecoveryInterval, cfg.WorkerPoolSize, svc.resumeClaimed)
	}
	return svc
}

// Start begins background maintenance: lease heartbeat renewal (if leases
// are backed by real persistence) and, if enabled, the Recovery Sweeper. It
// returns immediately; background goroutines stop when ctx is cancelled (or,
// for the sweeper, when Stop is called).
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("starting service", "serverNodeId", s.leases.ServerNodeID(), "schedulerEnabled", s.sweeper != nil)
	if s.leases.IsActive() {
		go s.heartbeatLoop(ctx)
	}
	if s.sweeper != nil {
		s.sweeper.Start(ctx)
	}
}

// Stop halts the Recovery Sweeper.
func (s *Service) Stop() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.leases.UpdateHeartbeats(ctx, now); err != nil {
				s.logger.Error("failed to renew lease heartbeats", "error", err)
			}
		}
	}
}

// resumeClaimed is the lease.ResumeFunc handed to the Recovery Sweeper: it
// loads the claimed execution's workflow and latest snapshot and resumes its
// traversal, now owned by this server node.
func (s *Service) resumeClaimed(ctx context.Context, claim lease.ClaimedExecution) {
	wf, err := s.workflows.Find(ctx, claim.TenantID, claim.WorkflowID)
	if err != nil {
		s.logger.Error("recovery sweeper failed to load claimed workflow", "tenantId", claim.TenantID, "executionId", claim.ExecutionID, "workflowId", claim.WorkflowID, "error", err)
		return
	}
	snap, err := s.states.FindLatest(ctx, claim.TenantID, claim.ExecutionID)
	if err != nil {
		s.logger.Error("recovery sweeper failed to load claimed execution snapshot", "tenantId", claim.TenantID, "executionId", claim.ExecutionID, "error", err)
		return
	}
	s.logger.Info("resuming claimed execution", "tenantId", claim.TenantID, "executionId", claim.ExecutionID, "currentNodeId", claim.CurrentNodeID)
	s.executor.Resume(ctx, claim.TenantID, claim.ExecutionID, wf, snap, nil)
}

// StartExecution positions a new HensuState at workflowID's start node with
// initialContext and launches its traversal in the background, returning
// immediately with the new execution id (spec §6).
func (s *Service) StartExecution(ctx context.Context, tenantID, workflowID string, initialContext workflow.Context) (string, error) {
	wf, err := s.workflows.Find(ctx, tenantID, workflowID)
	if err != nil {
		return "", fmt.Errorf("startExecution: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return "", fmt.Errorf("startExecution: %w", err)
	}

	executionID := uuid.NewString()
	state := workflow.NewState(wf.StartNode, initialContext)

	go s.executor.Run(detach(ctx), tenantID, executionID, wf, state)

	return executionID, nil
}

// ResumeExecution supplies decision as the Review Gate's override for an
// execution paused awaiting human review, or, for a non-paused checkpoint
// (e.g. one just reassigned by the Recovery Sweeper), simply re-enters its
// traversal — decision is ignored in that case. It blocks until the
// execution reaches its next terminal or paused state (spec §6: "future/
// promise"); callers wanting a non-blocking call should run it in a
// goroutine.
func (s *Service) ResumeExecution(ctx context.Context, tenantID, executionID string, decision *review.Decision) (engine.ExecutionResult, error) {
	snap, err := s.states.FindLatest(ctx, tenantID, executionID)
	if err != nil {
		return engine.ExecutionResult{}, fmt.Errorf("resumeExecution: %w", err)
	}
	if snap.CheckpointReason.IsTerminal() {
		return engine.ExecutionResult{}, fmt.Errorf("resumeExecution: execution %s is already terminal (%s)", executionID, snap.CheckpointReason)
	}
	wf, err := s.workflows.Find(ctx, tenantID, snap.WorkflowID)
	if err != nil {
		return engine.ExecutionResult{}, fmt.Errorf("resumeExecution: %w", err)
	}
	return s.executor.Resume(ctx, tenantID, executionID, wf, snap, decision), nil
}

// GetStatus returns an execution's latest snapshot and derived status enum
// (spec §6).
func (s *Service) GetStatus(ctx context.Context, tenantID, executionID string) (*workflow.HensuSnapshot, Status, error) {
	snap, err := s.states.FindLatest(ctx, tenantID, executionID)
	if err != nil {
		return nil, "", fmt.Errorf("getStatus: %w", err)
	}
	return snap, statusFromReason(snap.CheckpointReason), nil
}

// GetPlan returns the Plan attached to a paused execution's current node, if
// it is a Standard node carrying one, or nil if the execution is not
// paused, or paused at a node with no plan (spec §6: "pending plan if
// paused for plan review").
func (s *Service) GetPlan(ctx context.Context, tenantID, executionID string) (*workflow.Plan, error) {
	snap, err := s.states.FindLatest(ctx, tenantID, executionID)
	if err != nil {
		return nil, fmt.Errorf("getPlan: %w", err)
	}
	if snap.CheckpointReason != workflow.ReasonPaused {
		return nil, nil
	}
	wf, err := s.workflows.Find(ctx, tenantID, snap.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("getPlan: %w", err)
	}
	node, ok := wf.Node(snap.CurrentNodeID)
	if !ok || node.Type != workflow.NodeStandard || node.Standard == nil {
		return nil, nil
	}
	return node.Standard.Plan, nil
}

// ListPaused returns every execution of tenantID currently awaiting review
// (spec §6).
func (s *Service) ListPaused(ctx context.Context, tenantID string) ([]*workflow.HensuSnapshot, error) {
	paused, err := s.states.FindPaused(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listPaused: %w", err)
	}
	return paused, nil
}

// SubscribeEvents returns an ordered, per-execution event stream (spec §6):
// a bounded, drop-oldest-on-overflow channel that never blocks the
// publisher, closed when ctx is done or the returned unsubscribe func is
// called.
func (s *Service) SubscribeEvents(ctx context.Context, tenantID, executionID string) (<-chan emit.Event, func()) {
	return s.events.Subscribe(ctx, executionID)
}

// detach strips ctx's cancellation (but keeps its values) so a background
// execution launched by StartExecution outlives the request that started
// it; the Executor still honours Executor.Cancel through its cooperative
// cancellation channel, just not the original caller's HTTP context.
func detach(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct {
	context.Context
}

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }
