// Package authority defines the capability check gating every privileged
// entry point of the scheduler: "may actor A invoke operation B on target
// C right now?".
//
// Every Policy implementation MUST:
//   - Be fail-closed (deny on nil backing, missing state, or error)
//   - Be side-effect free and safe to call repeatedly
//   - Answer from current state only; no caching of verdicts
package authority

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
)

// Kind identifies the policy variant.
type Kind string

const (
	KindFixedOwner Kind = "fixed-owner"
	KindDelegated  Kind = "delegated"
	KindGuard      Kind = "guard"
	KindCEL        Kind = "cel"
	KindElectorate Kind = "electorate"
)

// Policy is the stable interface for authorization checks. The scheduler
// consults it on plan and drop; execution of a matured action is open to
// any caller and never consults a policy.
type Policy interface {
	// MayInvoke reports whether caller may invoke op on target right now.
	MayInvoke(ctx context.Context, caller, target contracts.Address, op contracts.Op) bool

	// Kind returns the variant identifier.
	Kind() Kind
}

// FixedOwner authorizes exactly one configured owner address.
type FixedOwner struct {
	owner contracts.Address
}

// NewFixedOwner creates a policy that authorizes only owner.
func NewFixedOwner(owner contracts.Address) *FixedOwner {
	return &FixedOwner{owner: owner}
}

func (p *FixedOwner) MayInvoke(_ context.Context, caller, _ contracts.Address, _ contracts.Op) bool {
	return p.owner != contracts.AddressNone && caller == p.owner
}

func (p *FixedOwner) Kind() Kind { return KindFixedOwner }

// Cell is the delegated-authority indirection: a policy that forwards
// every query to a swappable backing policy. The backing reference is
// exactly what a guarded migration exists to change, and it is only ever
// changed through the scheduler's own plan/exec path (see timelock.SwapTarget).
//
// A Cell with a nil backing means "no caller permitted", not "everyone
// permitted".
type Cell struct {
	mu      sync.RWMutex
	backing Policy
}

// NewCell creates a delegated policy cell with the given initial backing.
// A nil backing is valid and denies everything until Set is called.
func NewCell(backing Policy) *Cell {
	return &Cell{backing: backing}
}

func (c *Cell) MayInvoke(ctx context.Context, caller, target contracts.Address, op contracts.Op) bool {
	c.mu.RLock()
	backing := c.backing
	c.mu.RUnlock()

	if backing == nil {
		return false
	}
	return backing.MayInvoke(ctx, caller, target, op)
}

func (c *Cell) Kind() Kind { return KindDelegated }

// Backing returns the current backing policy (may be nil).
func (c *Cell) Backing() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backing
}

// Set replaces the backing policy.
func (c *Cell) Set(p Policy) {
	c.mu.Lock()
	c.backing = p
	c.mu.Unlock()
}

// GuardPolicy is the disposable, time-gated variant backing a guarded
// migration. It authorizes exactly one shape of call: the guard itself,
// planning on the scheduler, at or after the unlock time. Once retired it
// exposes no further capability.
type GuardPolicy struct {
	mu        sync.Mutex
	self      contracts.Address
	scheduler contracts.Address
	unlockAt  time.Time
	retired   bool
	clock     func() time.Time
}

// NewGuardPolicy creates a guard policy for the guard at self, gating
// plan calls on scheduler until unlockAt.
func NewGuardPolicy(self, scheduler contracts.Address, unlockAt time.Time) *GuardPolicy {
	return &GuardPolicy{
		self:      self,
		scheduler: scheduler,
		unlockAt:  unlockAt,
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (g *GuardPolicy) WithClock(clock func() time.Time) *GuardPolicy {
	g.clock = clock
	return g
}

func (g *GuardPolicy) MayInvoke(_ context.Context, caller, target contracts.Address, op contracts.Op) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.retired {
		return false
	}
	if caller != g.self || target != g.scheduler || op != contracts.OpPlan {
		return false
	}
	return !g.clock().Before(g.unlockAt)
}

func (g *GuardPolicy) Kind() Kind { return KindGuard }

// Retire consumes the guard after its single authorized action has been
// planned. All subsequent checks deny.
func (g *GuardPolicy) Retire() {
	g.mu.Lock()
	g.retired = true
	g.mu.Unlock()
}

// Retired reports whether the guard has been consumed.
func (g *GuardPolicy) Retired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retired
}
