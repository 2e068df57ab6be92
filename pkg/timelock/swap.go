package timelock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/tiller/pkg/authority"
	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/ledger"
)

// SwapTarget is the executable entity that re-points an authority cell
// at a new backing policy. Swapping authority is itself a privileged
// action: the swap only happens when a planned action targeting this
// entity matures and is executed, so authority transitions never skip
// the mandatory delay.
type SwapTarget struct {
	self   contracts.Address
	cell   *authority.Cell
	next   authority.Policy
	events *ledger.Ledger
}

// NewSwapTarget creates a swap target that will install next as the
// cell's backing policy when executed.
func NewSwapTarget(self contracts.Address, cell *authority.Cell, next authority.Policy) *SwapTarget {
	return &SwapTarget{self: self, cell: cell, next: next}
}

// SetEventLedger injects the governance event ledger.
func (t *SwapTarget) SetEventLedger(l *ledger.Ledger) { t.events = l }

func (t *SwapTarget) ID() contracts.Address { return t.self }

// Payload returns the canonical payload describing this swap. The
// scheduler treats it as opaque bytes; it exists so the planned action's
// identifier is bound to what the swap does.
func (t *SwapTarget) Payload() []byte {
	raw, _ := json.Marshal(struct {
		Op       string `json:"op"`
		NextKind string `json:"next_kind"`
	}{Op: "swap_policy", NextKind: string(t.next.Kind())})
	return raw
}

// Exec installs the new backing policy.
func (t *SwapTarget) Exec(_ context.Context, _ []byte) ([]byte, error) {
	prev := t.cell.Backing()
	t.cell.Set(t.next)

	prevKind := authority.Kind("none")
	if prev != nil {
		prevKind = prev.Kind()
	}
	if t.events != nil {
		if _, err := t.events.Append(contracts.EventPolicySwapped, t.self, string(t.next.Kind()), map[string]any{
			"previous_kind": string(prevKind),
		}); err != nil {
			return nil, fmt.Errorf("record policy swap: %w", err)
		}
	}

	return []byte(fmt.Sprintf(`{"swapped":true,"previous_kind":%q,"next_kind":%q}`, prevKind, t.next.Kind())), nil
}
