package election

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Mindburn-Labs/tiller/pkg/authority"
	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/timelock"
)

const (
	ann = contracts.Address("ann")
	bob = contracts.Address("bob")
	cat = contracts.Address("cat")
	dan = contracts.Address("dan")
)

// memStake is an in-memory stake ledger with per-voter balances.
type memStake struct {
	balances map[contracts.Address]uint64
}

func newMemStake(grants map[contracts.Address]uint64) *memStake {
	b := make(map[contracts.Address]uint64, len(grants))
	for k, v := range grants {
		b[k] = v
	}
	return &memStake{balances: b}
}

func (m *memStake) Deposit(_ context.Context, voter contracts.Address, amount uint64) error {
	if m.balances[voter] < amount {
		return fmt.Errorf("balance %d below %d", m.balances[voter], amount)
	}
	m.balances[voter] -= amount
	return nil
}

func (m *memStake) Withdraw(_ context.Context, voter contracts.Address, amount uint64) error {
	m.balances[voter] += amount
	return nil
}

func newTestElectorate(grants map[contracts.Address]uint64) (*Electorate, *memStake) {
	stake := newMemStake(grants)
	return New(stake, 5), stake
}

func TestLockMovesStakeAndWeight(t *testing.T) {
	e, stake := newTestElectorate(map[contracts.Address]uint64{ann: 100})
	ctx := context.Background()

	if err := e.Lock(ctx, ann, 60); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := e.Locked(ann); got != 60 {
		t.Fatalf("locked = %d, want 60", got)
	}
	if got := stake.balances[ann]; got != 40 {
		t.Fatalf("remaining balance = %d, want 40", got)
	}
}

func TestLockWithoutAllowanceFails(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 10})
	err := e.Lock(context.Background(), ann, 50)
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}
	if got := e.Locked(ann); got != 0 {
		t.Fatalf("locked = %d, want 0", got)
	}
}

func TestFreeReturnsStake(t *testing.T) {
	e, stake := newTestElectorate(map[contracts.Address]uint64{ann: 100})
	ctx := context.Background()

	mustLock(t, e, ann, 100)
	if err := e.Free(ctx, ann, 30); err != nil {
		t.Fatalf("free: %v", err)
	}
	if got := e.Locked(ann); got != 70 {
		t.Fatalf("locked = %d, want 70", got)
	}
	if got := stake.balances[ann]; got != 30 {
		t.Fatalf("returned balance = %d, want 30", got)
	}

	if err := e.Free(ctx, ann, 100); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("over-free err = %v, want ErrInsufficientStake", err)
	}
}

// frozenStake accepts deposits but refuses every withdrawal.
type frozenStake struct {
	*memStake
}

func (s *frozenStake) Withdraw(context.Context, contracts.Address, uint64) error {
	return fmt.Errorf("custody transfer refused")
}

func TestFailedWithdrawLeavesStateIntact(t *testing.T) {
	stake := &frozenStake{memStake: newMemStake(map[contracts.Address]uint64{ann: 100})}
	e := New(stake, 5)

	mustLock(t, e, ann, 100)
	mustVote(t, e, ann, cat)

	if err := e.Free(context.Background(), ann, 40); err == nil {
		t.Fatal("free succeeded with a refusing stake ledger")
	}
	// A rejected free is all-or-nothing: locked balance and approvals
	// stay exactly as they were.
	if got := e.Locked(ann); got != 100 {
		t.Fatalf("locked after failed free = %d, want 100", got)
	}
	if got := e.Approval(cat); got != 100 {
		t.Fatalf("approval(cat) after failed free = %d, want 100", got)
	}
}

func TestVoteAppliesFullWeightToEachCandidate(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100})
	ctx := context.Background()

	mustLock(t, e, ann, 100)
	if _, err := e.Vote(ctx, ann, []contracts.Address{cat, dan}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got := e.Approval(cat); got != 100 {
		t.Fatalf("approval(cat) = %d, want 100", got)
	}
	if got := e.Approval(dan); got != 100 {
		t.Fatalf("approval(dan) = %d, want 100", got)
	}
}

func TestVoteShiftsWeightBetweenSlates(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100})

	mustLock(t, e, ann, 100)
	mustVote(t, e, ann, cat)
	mustVote(t, e, ann, dan)

	if got := e.Approval(cat); got != 0 {
		t.Fatalf("approval(cat) after revote = %d, want 0", got)
	}
	if got := e.Approval(dan); got != 100 {
		t.Fatalf("approval(dan) = %d, want 100", got)
	}
}

func TestLockAfterVoteAddsWeight(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100})

	mustLock(t, e, ann, 40)
	mustVote(t, e, ann, cat)
	mustLock(t, e, ann, 60)

	if got := e.Approval(cat); got != 100 {
		t.Fatalf("approval(cat) = %d, want 100", got)
	}
}

func TestFreeAfterVoteRemovesWeight(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100})

	mustLock(t, e, ann, 100)
	mustVote(t, e, ann, cat)
	if err := e.Free(context.Background(), ann, 40); err != nil {
		t.Fatalf("free: %v", err)
	}
	if got := e.Approval(cat); got != 60 {
		t.Fatalf("approval(cat) = %d, want 60", got)
	}
}

func TestLiftRequiresStrictMajority(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100, bob: 150})
	ctx := context.Background()

	mustLock(t, e, ann, 100)
	mustVote(t, e, ann, cat)
	if err := e.Lift(ctx, cat); err != nil {
		t.Fatalf("lift over empty leader: %v", err)
	}
	if got := e.Leader(); got != cat {
		t.Fatalf("leader = %q, want cat", got)
	}

	// Equal approval does not displace the incumbent: ties are sticky.
	mustLock(t, e, bob, 100)
	mustVote(t, e, bob, dan)
	if err := e.Lift(ctx, dan); !errors.Is(err, ErrInsufficientApproval) {
		t.Fatalf("tied lift err = %v, want ErrInsufficientApproval", err)
	}
	if got := e.Leader(); got != cat {
		t.Fatalf("leader after tied lift = %q, want cat", got)
	}

	// Strictly greater approval wins.
	mustLock(t, e, bob, 50)
	if got := e.Approval(dan); got != 150 {
		t.Fatalf("approval(dan) = %d, want 150", got)
	}
	if err := e.Lift(ctx, dan); err != nil {
		t.Fatalf("lift: %v", err)
	}
	if got := e.Leader(); got != dan {
		t.Fatalf("leader = %q, want dan", got)
	}
}

func TestLiftZeroOverNoneFails(t *testing.T) {
	e, _ := newTestElectorate(nil)
	// With no leader the incumbent approval is zero; zero does not
	// strictly exceed zero.
	if err := e.Lift(context.Background(), cat); !errors.Is(err, ErrInsufficientApproval) {
		t.Fatalf("err = %v, want ErrInsufficientApproval", err)
	}
	if got := e.Leader(); got != contracts.AddressNone {
		t.Fatalf("leader = %q, want sentinel", got)
	}
}

func TestSlateNormalization(t *testing.T) {
	e, _ := newTestElectorate(nil)
	ctx := context.Background()

	a, err := e.Etch(ctx, []contracts.Address{dan, cat, cat, contracts.AddressNone})
	if err != nil {
		t.Fatalf("etch: %v", err)
	}
	b, err := e.Etch(ctx, []contracts.Address{cat, dan})
	if err != nil {
		t.Fatalf("etch: %v", err)
	}
	if a != b {
		t.Fatalf("equivalent slates got distinct ids %q and %q", a, b)
	}

	got, ok := e.Slate(a)
	if !ok {
		t.Fatal("etched slate not stored")
	}
	if len(got) != 2 || got[0] != cat || got[1] != dan {
		t.Fatalf("stored slate = %v, want [cat dan]", got)
	}
}

func TestEtchRejectsOversizedSlate(t *testing.T) {
	e := New(newMemStake(nil), 2)
	_, err := e.Etch(context.Background(), []contracts.Address{ann, bob, cat})
	if !errors.Is(err, ErrSlateTooLarge) {
		t.Fatalf("err = %v, want ErrSlateTooLarge", err)
	}
}

func TestVoteByUnknownSlate(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 10})
	mustLock(t, e, ann, 10)
	err := e.VoteByID(context.Background(), ann, "sha256:deadbeef")
	if !errors.Is(err, ErrUnknownSlate) {
		t.Fatalf("err = %v, want ErrUnknownSlate", err)
	}
}

func TestEmptySlateParksWeight(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100})
	ctx := context.Background()

	mustLock(t, e, ann, 100)
	mustVote(t, e, ann, cat)
	if _, err := e.Vote(ctx, ann, nil); err != nil {
		t.Fatalf("vote empty slate: %v", err)
	}
	if got := e.Approval(cat); got != 0 {
		t.Fatalf("approval(cat) = %d, want 0", got)
	}
}

func TestPolicyAuthorizesOnlyLeader(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100})
	ctx := context.Background()
	pol := e.Policy()

	if pol.Kind() != authority.KindElectorate {
		t.Fatalf("kind = %q, want electorate", pol.Kind())
	}
	// Sentinel leader authorizes nobody.
	if pol.MayInvoke(ctx, cat, "scheduler", contracts.OpPlan) {
		t.Fatal("no-leader policy authorized a caller")
	}

	mustLock(t, e, ann, 100)
	mustVote(t, e, ann, cat)
	if err := e.Lift(ctx, cat); err != nil {
		t.Fatalf("lift: %v", err)
	}
	if !pol.MayInvoke(ctx, cat, "scheduler", contracts.OpPlan) {
		t.Fatal("leader denied")
	}
	if pol.MayInvoke(ctx, dan, "scheduler", contracts.OpPlan) {
		t.Fatal("non-leader authorized")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	e, _ := newTestElectorate(nil)
	slateID, err := e.Etch(context.Background(), []contracts.Address{cat})
	if err != nil {
		t.Fatalf("etch: %v", err)
	}

	restored := New(newMemStake(nil), 5)
	restored.Restore(
		[]VoterRecord{{Address: ann, Locked: 70, SlateID: slateID}},
		[]ApprovalRecord{{Candidate: cat, Approval: 70}},
		map[string][]contracts.Address{slateID: {cat}},
		cat,
	)

	if got := restored.Locked(ann); got != 70 {
		t.Fatalf("locked = %d, want 70", got)
	}
	if got := restored.Approval(cat); got != 70 {
		t.Fatalf("approval = %d, want 70", got)
	}
	if got := restored.Leader(); got != cat {
		t.Fatalf("leader = %q, want cat", got)
	}
}

// TestElectedDelegateGovernsScheduler wires the electorate's policy into
// a scheduler and walks the full flow: stake, vote, lift, then the
// elected delegate plans an action that anyone executes after the delay.
func TestElectedDelegateGovernsScheduler(t *testing.T) {
	e, _ := newTestElectorate(map[contracts.Address]uint64{ann: 100})
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	cell := authority.NewCell(e.Policy())
	sched := timelock.New("tiller/scheduler", 24*time.Hour, cell).
		WithClock(func() time.Time { return now })
	target := &valueTarget{id: "registry"}

	// Nobody governs until a leader is lifted.
	_, err := sched.Plan(ctx, cat, target, []byte("1"))
	if !errors.Is(err, timelock.ErrUnauthorized) {
		t.Fatalf("pre-election plan err = %v, want ErrUnauthorized", err)
	}

	mustLock(t, e, ann, 100)
	mustVote(t, e, ann, cat)
	if err := e.Lift(ctx, cat); err != nil {
		t.Fatalf("lift: %v", err)
	}

	plan, err := sched.Plan(ctx, cat, target, []byte("1"))
	if err != nil {
		t.Fatalf("plan by leader: %v", err)
	}

	now = now.Add(24 * time.Hour)
	if _, err := sched.Exec(ctx, dan, target, plan.Payload, plan.ScheduledTime); err != nil {
		t.Fatalf("exec by anyone: %v", err)
	}
	if target.value != "1" {
		t.Fatalf("target value = %q, want 1", target.value)
	}
	if _, err := sched.Exec(ctx, dan, target, plan.Payload, plan.ScheduledTime); !errors.Is(err, timelock.ErrNotPlanned) {
		t.Fatalf("re-exec err = %v, want ErrNotPlanned", err)
	}
}

type valueTarget struct {
	id    contracts.Address
	value string
}

func (t *valueTarget) ID() contracts.Address { return t.id }

func (t *valueTarget) Exec(_ context.Context, payload []byte) ([]byte, error) {
	t.value = string(payload)
	return []byte("ok"), nil
}

func mustLock(t *testing.T, e *Electorate, voter contracts.Address, amount uint64) {
	t.Helper()
	if err := e.Lock(context.Background(), voter, amount); err != nil {
		t.Fatalf("lock(%s, %d): %v", voter, amount, err)
	}
}

func mustVote(t *testing.T, e *Electorate, voter contracts.Address, candidates ...contracts.Address) {
	t.Helper()
	if _, err := e.Vote(context.Background(), voter, candidates); err != nil {
		t.Fatalf("vote(%s, %v): %v", voter, candidates, err)
	}
}
