// Package migration implements the guarded authority hand-off between
// two election instances. It is a composition, not a new primitive:
//
//  1. Construct a Guard with an unlock time and the new authority policy.
//  2. Install the guard's policy as the scheduler's delegated backing —
//     itself done via a normal plan/exec cycle under the old policy.
//  3. At or after the unlock time, call Unlock, which plans the policy
//     swap on the scheduler (authorized only because the caller is the
//     guard itself) and retires the guard.
//  4. After the scheduler's own delay matures, anyone executes the
//     planned swap, completing the hand-off.
//
// Authority transitions therefore never skip the mandatory delay, even
// when the transition is "change who the authority is".
package migration

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tiller/pkg/authority"
	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/ledger"
	"github.com/Mindburn-Labs/tiller/pkg/timelock"
)

// Guard is a disposable migration guard. It authorizes exactly one
// future action: planning the swap of the scheduler's authority cell to
// the new policy, and only once its unlock time has passed.
type Guard struct {
	mu        sync.Mutex
	self      contracts.Address
	policy    *authority.GuardPolicy
	scheduler *timelock.Scheduler
	swap      *timelock.SwapTarget
	planned   *contracts.Plan
}

// NewGuard creates a guard at address self that, once unlocked, will
// plan the re-pointing of scheduler's authority cell to next. swapAddr
// is the address of the swap target entity the planned action dispatches
// to.
func NewGuard(self contracts.Address, scheduler *timelock.Scheduler, next authority.Policy, swapAddr contracts.Address, unlockAt time.Time) *Guard {
	return &Guard{
		self:      self,
		policy:    authority.NewGuardPolicy(self, scheduler.Self(), unlockAt),
		scheduler: scheduler,
		swap:      timelock.NewSwapTarget(swapAddr, scheduler.Policy(), next),
	}
}

// WithClock overrides the guard policy's clock for deterministic testing.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.policy.WithClock(clock)
	return g
}

// SetEventLedger injects the governance event ledger into the swap
// target so the eventual policy swap is recorded.
func (g *Guard) SetEventLedger(l *ledger.Ledger) { g.swap.SetEventLedger(l) }

// Address returns the guard's own address.
func (g *Guard) Address() contracts.Address { return g.self }

// Policy returns the guard's single-use authority policy. Installing it
// as the scheduler's delegated backing is step 2 of the migration.
func (g *Guard) Policy() *authority.GuardPolicy { return g.policy }

// SwapTarget returns the target of the planned swap action; the caller
// that executes the matured action must re-supply it.
func (g *Guard) SwapTarget() *timelock.SwapTarget { return g.swap }

// Unlock plans the authority swap on the scheduler as the guard itself.
// Before the unlock time the guard's own policy rejects the plan with
// ErrUnauthorized. On success the guard is retired and exposes no
// further capability; the returned triple is what any caller needs to
// execute the swap once it matures.
func (g *Guard) Unlock(ctx context.Context) (contracts.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	plan, err := g.scheduler.Plan(ctx, g.self, g.swap, g.swap.Payload())
	if err != nil {
		return contracts.Plan{}, err
	}

	g.policy.Retire()
	g.planned = &plan
	return plan, nil
}

// Planned returns the triple of the swap action once Unlock has
// succeeded.
func (g *Guard) Planned() (contracts.Plan, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.planned == nil {
		return contracts.Plan{}, false
	}
	return *g.planned, true
}
