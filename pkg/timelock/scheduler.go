// Package timelock implements the governance-gated, time-delayed action
// scheduler: privileged actors plan an action, anyone may execute it once
// the mandatory delay has elapsed, and it may be dropped before execution.
//
// Who may plan or drop is decided by the authority policy the scheduler
// holds behind a delegated cell; the cell itself is only ever re-pointed
// through the scheduler's own plan/exec path (see SwapTarget), so changes
// of authority are subject to the same delay as everything else.
package timelock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tiller/pkg/authority"
	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/ledger"
	"github.com/Mindburn-Labs/tiller/pkg/observability"
)

// ActionStore persists the live-action set so a deployment survives
// restart. A persistence failure aborts the triggering call.
type ActionStore interface {
	PutAction(ctx context.Context, action contracts.Action) error
	RemoveAction(ctx context.Context, id string) error
}

// Scheduler owns the plan/execute/drop state machine. All mutation of
// the live-action set is serialized by one mutex per instance.
type Scheduler struct {
	mu     sync.Mutex
	self   contracts.Address
	delay  time.Duration
	policy *authority.Cell
	live   map[string]contracts.Action

	clock   func() time.Time
	events  *ledger.Ledger
	store   ActionStore
	metrics *observability.Recorder
	logger  *slog.Logger
}

// New creates a scheduler with the given address, maturation delay, and
// authority cell. Delay and the cell reference are immutable afterwards;
// only the cell's backing policy can change, and only via plan/exec.
func New(self contracts.Address, delay time.Duration, policy *authority.Cell) *Scheduler {
	return &Scheduler{
		self:   self,
		delay:  delay,
		policy: policy,
		live:   make(map[string]contracts.Action),
		clock:  time.Now,
		logger: slog.Default().With("component", "timelock"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// SetEventLedger injects the governance event ledger.
func (s *Scheduler) SetEventLedger(l *ledger.Ledger) { s.events = l }

// SetStore injects the persistence backend.
func (s *Scheduler) SetStore(store ActionStore) { s.store = store }

// SetMetrics injects the metrics recorder.
func (s *Scheduler) SetMetrics(r *observability.Recorder) { s.metrics = r }

// Self returns the scheduler's own address, the target of authority
// policy checks for plan and drop.
func (s *Scheduler) Self() contracts.Address { return s.self }

// Delay returns the configured maturation delay.
func (s *Scheduler) Delay() time.Duration { return s.delay }

// Policy returns the delegated authority cell.
func (s *Scheduler) Policy() *authority.Cell { return s.policy }

// Plan queues an action for execution after the delay. It returns the
// (target, payload, scheduledTime) triple the caller needs to later
// execute or drop it; the identifier stays an internal lookup key.
func (s *Scheduler) Plan(ctx context.Context, caller contracts.Address, target contracts.Target, payload []byte) (contracts.Plan, error) {
	if !s.policy.MayInvoke(ctx, caller, s.self, contracts.OpPlan) {
		s.observe("plan", "unauthorized")
		return contracts.Plan{}, fmt.Errorf("plan by %s: %w", caller, ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	scheduledTime := now.Add(s.delay)

	id, err := ActionID(target.ID(), payload, scheduledTime)
	if err != nil {
		return contracts.Plan{}, err
	}
	if _, exists := s.live[id]; exists {
		s.observe("plan", "duplicate")
		return contracts.Plan{}, fmt.Errorf("action %s: %w", id, ErrDuplicateAction)
	}

	action := contracts.Action{
		ID:            id,
		Target:        target.ID(),
		ScheduledTime: scheduledTime,
		PlannedAt:     now,
		PlannedBy:     caller,
	}

	if s.store != nil {
		if err := s.store.PutAction(ctx, action); err != nil {
			return contracts.Plan{}, fmt.Errorf("persist action %s: %w", id, err)
		}
	}
	if err := s.record(contracts.EventActionPlanned, caller, id, map[string]any{
		"target":         string(target.ID()),
		"scheduled_time": scheduledTime.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		if s.store != nil {
			_ = s.store.RemoveAction(ctx, id)
		}
		return contracts.Plan{}, err
	}
	s.live[id] = action

	s.observe("plan", "ok")
	s.logger.InfoContext(ctx, "action planned",
		"action_id", id,
		"target", target.ID(),
		"caller", caller,
		"scheduled_time", scheduledTime,
	)

	return contracts.Plan{
		Target:        target.ID(),
		Payload:       payload,
		ScheduledTime: scheduledTime,
	}, nil
}

// Exec runs a matured action and returns the target's raw response.
// It is open to any caller: the privilege was checked at plan time, and
// a matured public action may be triggered permissionlessly. The action
// is consumed before dispatch, so execution is one-shot regardless of
// the dispatch outcome.
func (s *Scheduler) Exec(ctx context.Context, caller contracts.Address, target contracts.Target, payload []byte, scheduledTime time.Time) ([]byte, error) {
	id, err := ActionID(target.ID(), payload, scheduledTime)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.live[id]; !exists {
		s.mu.Unlock()
		s.observe("exec", "not_planned")
		return nil, fmt.Errorf("action %s: %w", id, ErrNotPlanned)
	}
	if s.clock().Before(scheduledTime) {
		s.mu.Unlock()
		s.observe("exec", "not_matured")
		return nil, fmt.Errorf("action %s matures at %s: %w", id, scheduledTime.UTC().Format(time.RFC3339), ErrNotMatured)
	}
	if s.store != nil {
		if err := s.store.RemoveAction(ctx, id); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("consume action %s: %w", id, err)
		}
	}
	delete(s.live, id)
	s.mu.Unlock()

	resp, execErr := target.Exec(ctx, payload)

	outcome := "ok"
	if execErr != nil {
		outcome = "failed"
	}
	if err := s.record(contracts.EventActionExecuted, caller, id, map[string]any{
		"target":  string(target.ID()),
		"outcome": outcome,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record execution", "action_id", id, "error", err)
	}
	s.observe("exec", outcome)

	if execErr != nil {
		s.logger.WarnContext(ctx, "action dispatch failed", "action_id", id, "target", target.ID(), "error", execErr)
		return nil, fmt.Errorf("action %s: %w: %v", id, ErrExecutionFailed, execErr)
	}

	s.logger.InfoContext(ctx, "action executed", "action_id", id, "target", target.ID(), "caller", caller)
	return resp, nil
}

// Drop cancels a live action. It requires the same authority check as
// Plan and has no time constraint: an action may be dropped before or
// after maturation as long as it has not executed.
func (s *Scheduler) Drop(ctx context.Context, caller contracts.Address, target contracts.Target, payload []byte, scheduledTime time.Time) error {
	if !s.policy.MayInvoke(ctx, caller, s.self, contracts.OpDrop) {
		s.observe("drop", "unauthorized")
		return fmt.Errorf("drop by %s: %w", caller, ErrUnauthorized)
	}

	id, err := ActionID(target.ID(), payload, scheduledTime)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.live[id]; !exists {
		s.observe("drop", "not_planned")
		return fmt.Errorf("action %s: %w", id, ErrNotPlanned)
	}
	if s.store != nil {
		if err := s.store.RemoveAction(ctx, id); err != nil {
			return fmt.Errorf("remove action %s: %w", id, err)
		}
	}
	delete(s.live, id)

	if err := s.record(contracts.EventActionDropped, caller, id, map[string]any{
		"target": string(target.ID()),
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record drop", "action_id", id, "error", err)
	}
	s.observe("drop", "ok")
	s.logger.InfoContext(ctx, "action dropped", "action_id", id, "target", target.ID(), "caller", caller)
	return nil
}

// Live returns a snapshot of all planned actions, for introspection.
func (s *Scheduler) Live() []contracts.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Action, 0, len(s.live))
	for _, a := range s.live {
		out = append(out, a)
	}
	return out
}

// Restore seeds the live-action set from persisted records at boot.
// No policy check: the records were gated when originally planned.
func (s *Scheduler) Restore(actions []contracts.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		s.live[a.ID] = a
	}
}

func (s *Scheduler) record(event contracts.EventType, actor contracts.Address, subject string, detail map[string]any) error {
	if s.events == nil {
		return nil
	}
	_, err := s.events.Append(event, actor, subject, detail)
	return err
}

func (s *Scheduler) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSchedulerOp(op, outcome)
	}
}
