// Package election implements the token-weighted approval election that
// produces the current governance authority: voters lock stake for
// weight, name a bounded slate of candidates (bloc voting, full weight
// to each), and anyone may challenge the incumbent leader with a
// candidate whose approval strictly exceeds it.
//
// The electorate trusts an external stake ledger for the fungible
// balance moves backing lock/free and only tracks derived approval
// numbers internally.
package election

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/tiller/pkg/authority"
	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/ledger"
	"github.com/Mindburn-Labs/tiller/pkg/observability"
)

// StakeLedger backs lock/free with conventional fungible transfers.
// Deposit pulls stake from the voter into the electorate's custody;
// Withdraw returns it. Deposit failure surfaces as ErrInsufficientAllowance.
type StakeLedger interface {
	Deposit(ctx context.Context, voter contracts.Address, amount uint64) error
	Withdraw(ctx context.Context, voter contracts.Address, amount uint64) error
}

// VoterRecord is the persisted state of one voter.
type VoterRecord struct {
	Address contracts.Address `json:"address"`
	Locked  uint64            `json:"locked"`
	SlateID string            `json:"slate_id"`
}

// ApprovalRecord is the persisted approval weight of one candidate.
type ApprovalRecord struct {
	Candidate contracts.Address `json:"candidate"`
	Approval  uint64            `json:"approval"`
}

// StateStore persists election state so a deployment survives restart.
// A persistence failure aborts the triggering call.
type StateStore interface {
	PutVoter(ctx context.Context, rec VoterRecord) error
	PutApprovals(ctx context.Context, recs []ApprovalRecord) error
	PutSlate(ctx context.Context, id string, candidates []contracts.Address) error
	SetLeader(ctx context.Context, leader contracts.Address) error
}

type voterState struct {
	locked  uint64
	slateID string
}

// Electorate is a process-wide election instance. All mutation of
// approvals, voters, slates, and the leader pointer is serialized by one
// mutex per instance.
type Electorate struct {
	mu       sync.Mutex
	stake    StakeLedger
	maxSlate int

	approvals map[contracts.Address]uint64
	voters    map[contracts.Address]*voterState
	slates    map[string][]contracts.Address
	leader    contracts.Address

	events  *ledger.Ledger
	store   StateStore
	metrics *observability.Recorder
	logger  *slog.Logger
}

// New creates an electorate backed by the given stake ledger, with the
// configured maximum slate size. The leader starts at the sentinel
// AddressNone, which never authorizes anything.
func New(stake StakeLedger, maxSlate int) *Electorate {
	return &Electorate{
		stake:     stake,
		maxSlate:  maxSlate,
		approvals: make(map[contracts.Address]uint64),
		voters:    make(map[contracts.Address]*voterState),
		slates:    make(map[string][]contracts.Address),
		leader:    contracts.AddressNone,
		logger:    slog.Default().With("component", "election"),
	}
}

// SetEventLedger injects the governance event ledger.
func (e *Electorate) SetEventLedger(l *ledger.Ledger) { e.events = l }

// SetStore injects the persistence backend.
func (e *Electorate) SetStore(s StateStore) { e.store = s }

// SetMetrics injects the metrics recorder.
func (e *Electorate) SetMetrics(r *observability.Recorder) { e.metrics = r }

// MaxSlate returns the configured maximum slate size.
func (e *Electorate) MaxSlate() int { return e.maxSlate }

// Lock moves amount of stake into the voter's locked balance and adds
// that weight to every candidate in the voter's current slate.
func (e *Electorate) Lock(ctx context.Context, voter contracts.Address, amount uint64) error {
	if err := e.stake.Deposit(ctx, voter, amount); err != nil {
		e.observe("lock", "rejected")
		return fmt.Errorf("lock %d by %s: %w: %v", amount, voter, ErrInsufficientAllowance, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.voterFor(voter)
	state.locked += amount
	e.shiftWeight(e.slates[state.slateID], amount, true)

	if err := e.persistState(ctx, voter, state, e.slates[state.slateID]); err != nil {
		state.locked -= amount
		e.shiftWeight(e.slates[state.slateID], amount, false)
		if refundErr := e.stake.Withdraw(ctx, voter, amount); refundErr != nil {
			e.logger.ErrorContext(ctx, "failed to refund stake after persistence failure",
				"voter", voter, "amount", amount, "error", refundErr)
		}
		return err
	}

	e.recordEvent(contracts.EventStakeLocked, voter, state.slateID, map[string]any{"amount": amount})
	e.observe("lock", "ok")
	return nil
}

// Free is the inverse of Lock. It fails with ErrInsufficientStake if
// amount exceeds the voter's locked balance.
func (e *Electorate) Free(ctx context.Context, voter contracts.Address, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.voterFor(voter)
	if amount > state.locked {
		e.observe("free", "rejected")
		return fmt.Errorf("free %d by %s with %d locked: %w", amount, voter, state.locked, ErrInsufficientStake)
	}

	state.locked -= amount
	e.shiftWeight(e.slates[state.slateID], amount, false)

	if err := e.persistState(ctx, voter, state, e.slates[state.slateID]); err != nil {
		state.locked += amount
		e.shiftWeight(e.slates[state.slateID], amount, true)
		return err
	}

	if err := e.stake.Withdraw(ctx, voter, amount); err != nil {
		state.locked += amount
		e.shiftWeight(e.slates[state.slateID], amount, true)
		if persistErr := e.persistState(ctx, voter, state, e.slates[state.slateID]); persistErr != nil {
			e.logger.ErrorContext(ctx, "failed to re-persist state after withdraw failure",
				"voter", voter, "amount", amount, "error", persistErr)
		}
		return fmt.Errorf("withdraw %d to %s: %w", amount, voter, err)
	}

	e.recordEvent(contracts.EventStakeFreed, voter, state.slateID, map[string]any{"amount": amount})
	e.observe("free", "ok")
	return nil
}

// Etch registers a slate and returns its identifier, so later ballots
// can reference it by id alone.
func (e *Electorate) Etch(ctx context.Context, candidates []contracts.Address) (string, error) {
	normalized := normalizeSlate(candidates)
	if len(normalized) > e.maxSlate {
		return "", fmt.Errorf("slate of %d candidates exceeds maximum %d: %w", len(normalized), e.maxSlate, ErrSlateTooLarge)
	}
	id, err := SlateID(normalized)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, known := e.slates[id]; !known {
		if e.store != nil {
			if err := e.store.PutSlate(ctx, id, normalized); err != nil {
				return "", fmt.Errorf("persist slate %s: %w", id, err)
			}
		}
		e.slates[id] = normalized
	}
	return id, nil
}

// Vote replaces the voter's ballot with the given slate, atomically
// moving the voter's full locked weight from the old slate's candidates
// to the new slate's. It returns the slate identifier.
func (e *Electorate) Vote(ctx context.Context, voter contracts.Address, candidates []contracts.Address) (string, error) {
	id, err := e.Etch(ctx, candidates)
	if err != nil {
		e.observe("vote", "rejected")
		return "", err
	}
	if err := e.VoteByID(ctx, voter, id); err != nil {
		return "", err
	}
	return id, nil
}

// VoteByID casts a ballot for a previously etched slate.
func (e *Electorate) VoteByID(ctx context.Context, voter contracts.Address, slateID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newSlate, known := e.slates[slateID]
	if !known && slateID != "" {
		e.observe("vote", "rejected")
		return fmt.Errorf("slate %s: %w", slateID, ErrUnknownSlate)
	}

	state := e.voterFor(voter)
	oldSlateID := state.slateID
	oldSlate := e.slates[oldSlateID]

	e.shiftWeight(oldSlate, state.locked, false)
	e.shiftWeight(newSlate, state.locked, true)
	state.slateID = slateID

	if err := e.persistState(ctx, voter, state, oldSlate, newSlate); err != nil {
		state.slateID = oldSlateID
		e.shiftWeight(newSlate, state.locked, false)
		e.shiftWeight(oldSlate, state.locked, true)
		return err
	}

	e.recordEvent(contracts.EventVoteCast, voter, slateID, map[string]any{"weight": state.locked})
	e.observe("vote", "ok")
	e.logger.InfoContext(ctx, "ballot cast", "voter", voter, "slate_id", slateID, "weight", state.locked)
	return nil
}

// Lift promotes candidate to leader iff its approval strictly exceeds
// the incumbent's at call time. Ties never promote: the incumbent is
// sticky, which prevents toggling between equally weighted candidates.
func (e *Electorate) Lift(ctx context.Context, candidate contracts.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	challenger := e.approvals[candidate]
	incumbent := e.approvals[e.leader]
	if challenger <= incumbent {
		e.observe("lift", "rejected")
		return fmt.Errorf("lift %s (%d) against %s (%d): %w", candidate, challenger, e.leader, incumbent, ErrInsufficientApproval)
	}

	if e.store != nil {
		if err := e.store.SetLeader(ctx, candidate); err != nil {
			return fmt.Errorf("persist leader %s: %w", candidate, err)
		}
	}
	previous := e.leader
	e.leader = candidate

	e.recordEvent(contracts.EventLeaderLifted, candidate, string(candidate), map[string]any{
		"previous": string(previous),
		"approval": challenger,
	})
	e.observe("lift", "ok")
	e.logger.InfoContext(ctx, "leader lifted", "leader", candidate, "previous", previous, "approval", challenger)
	return nil
}

// Leader returns the currently elected delegate (AddressNone at boot).
func (e *Electorate) Leader() contracts.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// Approval returns the current approval weight of a candidate.
func (e *Electorate) Approval(candidate contracts.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.approvals[candidate]
}

// Locked returns the voter's locked stake.
func (e *Electorate) Locked(voter contracts.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.voters[voter]; ok {
		return state.locked
	}
	return 0
}

// Slate returns the candidates of an etched slate.
func (e *Electorate) Slate(id string) ([]contracts.Address, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slates[id]
	if !ok {
		return nil, false
	}
	out := make([]contracts.Address, len(s))
	copy(out, s)
	return out, true
}

// Restore seeds election state from persisted records at boot.
func (e *Electorate) Restore(voters []VoterRecord, approvals []ApprovalRecord, slates map[string][]contracts.Address, leader contracts.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range voters {
		e.voters[v.Address] = &voterState{locked: v.Locked, slateID: v.SlateID}
	}
	for _, a := range approvals {
		e.approvals[a.Candidate] = a.Approval
	}
	for id, candidates := range slates {
		e.slates[id] = candidates
	}
	e.leader = leader
}

// voterFor returns the voter's state, creating it on first touch.
// Callers hold e.mu.
func (e *Electorate) voterFor(voter contracts.Address) *voterState {
	state, ok := e.voters[voter]
	if !ok {
		state = &voterState{}
		e.voters[voter] = state
	}
	return state
}

// shiftWeight adds or removes weight on every candidate of a slate.
// Callers hold e.mu.
func (e *Electorate) shiftWeight(slate []contracts.Address, amount uint64, add bool) {
	if amount == 0 {
		return
	}
	for _, c := range slate {
		if add {
			e.approvals[c] += amount
		} else {
			e.approvals[c] -= amount
		}
	}
}

// persistState writes the voter record and the approvals of every
// candidate on the touched slates. Callers hold e.mu.
func (e *Electorate) persistState(ctx context.Context, voter contracts.Address, state *voterState, touched ...[]contracts.Address) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.PutVoter(ctx, VoterRecord{Address: voter, Locked: state.locked, SlateID: state.slateID}); err != nil {
		return fmt.Errorf("persist voter %s: %w", voter, err)
	}

	seen := make(map[contracts.Address]struct{})
	recs := make([]ApprovalRecord, 0)
	for _, slate := range touched {
		for _, c := range slate {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			recs = append(recs, ApprovalRecord{Candidate: c, Approval: e.approvals[c]})
		}
	}
	if len(recs) == 0 {
		return nil
	}
	if err := e.store.PutApprovals(ctx, recs); err != nil {
		return fmt.Errorf("persist approvals for voter %s: %w", voter, err)
	}
	return nil
}

func (e *Electorate) recordEvent(event contracts.EventType, actor contracts.Address, subject string, detail map[string]any) {
	if e.events == nil {
		return
	}
	if _, err := e.events.Append(event, actor, subject, detail); err != nil {
		e.logger.Error("failed to record election event", "event", event, "error", err)
	}
}

func (e *Electorate) observe(op, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordElectionOp(op, outcome)
	}
}

// Policy returns the authority policy view of this electorate: the
// caller is authorized iff it is the currently elected leader. The
// sentinel leader never authorizes.
func (e *Electorate) Policy() authority.Policy {
	return &leaderPolicy{electorate: e}
}

type leaderPolicy struct {
	electorate *Electorate
}

func (p *leaderPolicy) MayInvoke(_ context.Context, caller, _ contracts.Address, _ contracts.Op) bool {
	leader := p.electorate.Leader()
	return leader != contracts.AddressNone && caller == leader
}

func (p *leaderPolicy) Kind() authority.Kind { return authority.KindElectorate }
