// Package contracts holds the shared domain types of the tiller
// governance kernel: addresses, operation selectors, planned actions,
// and the governance event vocabulary recorded by the ledger.
package contracts

import (
	"context"
	"time"
)

// Address identifies an actor, target, or component instance.
// The zero Address is the sentinel "nobody" and never authorizes.
type Address string

// AddressNone is the sentinel unset address (e.g. the leader slot at boot).
const AddressNone Address = ""

// Op is an operation selector checked by authority policies.
type Op string

const (
	OpPlan Op = "plan"
	OpDrop Op = "drop"
)

// Target is an executable entity the scheduler can dispatch payloads to.
// The payload is opaque to the scheduler; only the target interprets it.
type Target interface {
	// ID returns the stable address of the target. The address is bound
	// into the action identifier, so two targets with the same address
	// are the same target as far as the scheduler is concerned.
	ID() Address

	// Exec runs the payload and returns the target's raw response.
	Exec(ctx context.Context, payload []byte) ([]byte, error)
}

// Plan is the triple returned by a successful plan call. It is exactly
// what a caller must re-supply to execute or drop the action later; the
// action identifier is re-derived from it and never handed out.
type Plan struct {
	Target        Address   `json:"target"`
	Payload       []byte    `json:"payload"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

// Action is the scheduler's record of a live planned action. Only
// Planned actions are retained; execution or drop removes the record,
// so set-membership encodes status.
type Action struct {
	ID            string    `json:"id"`
	Target        Address   `json:"target"`
	ScheduledTime time.Time `json:"scheduled_time"`
	PlannedAt     time.Time `json:"planned_at"`
	PlannedBy     Address   `json:"planned_by"`
}

// EventType names a governance event recorded in the event ledger.
type EventType string

const (
	EventActionPlanned  EventType = "ACTION_PLANNED"
	EventActionExecuted EventType = "ACTION_EXECUTED"
	EventActionDropped  EventType = "ACTION_DROPPED"
	EventStakeLocked    EventType = "STAKE_LOCKED"
	EventStakeFreed     EventType = "STAKE_FREED"
	EventVoteCast       EventType = "VOTE_CAST"
	EventLeaderLifted   EventType = "LEADER_LIFTED"
	EventPolicySwapped  EventType = "POLICY_SWAPPED"
)
