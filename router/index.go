package router

import (
	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/wire"
)

// IndexMutationKind tags an IndexMutation (spec.md §4.3 "Index mutations").
type IndexMutationKind int

const (
	// IndexMutationUpdateCapacity announces a (friend, currency) pair's
	// current send-capacity to the graph's index servers.
	IndexMutationUpdateCapacity IndexMutationKind = iota
	// IndexMutationRemoveCapacity withdraws a (friend, currency) pair from
	// the graph, e.g. when a friend is disabled or removed.
	IndexMutationRemoveCapacity
)

// IndexMutation is the router's notification to the index-client
// collaborator (spec.md §6) that one edge of this node's capacity graph
// changed. Emitted "[o]n any change to a friend's currency's send capacity:
// add, remove, balance shift, enable/disable" (spec.md §4.3).
type IndexMutation struct {
	Kind     IndexMutationKind
	Friend   wire.PublicKey
	Currency wire.Currency

	// RecvCapacity is how much more the remote party could push to us over
	// Currency before invariant I1 would be violated, valid only when
	// Kind == IndexMutationUpdateCapacity.
	RecvCapacity wire.Uint128
}

// recvCapacity computes remote_max_debt - (balance + remote_pending_debt),
// floored at zero, i.e. the capacity this node currently offers to receive
// funds from l's remote party.
func recvCapacity(l *ledger.Ledger) wire.Uint128 {
	used, overflow := l.Balance.AddUint128(l.RemotePendingDebt)
	if overflow {
		return wire.Uint128{}
	}
	remoteMax := wire.Int128{Mag: l.RemoteMaxDebt}
	if !used.LessEq(remoteMax) {
		return wire.Uint128{}
	}
	// used <= remoteMax, and neither is negative beyond what LessEq allows
	// here in practice (a negative balance only makes used smaller), so the
	// difference is representable as a plain magnitude.
	if used.Neg {
		sum, _ := remoteMax.AddUint128(used.Mag)
		return sum.Mag
	}
	diff, _ := remoteMax.Mag.Sub(used.Mag)
	return diff
}

// publishCapacity emits an IndexMutation reflecting l's current recv
// capacity for (friend, currency) to the index-client collaborator.
func (r *Router) publishCapacity(friend wire.PublicKey, currency wire.Currency, l *ledger.Ledger) {
	if r.index == nil {
		return
	}
	r.index.Publish(IndexMutation{
		Kind:         IndexMutationUpdateCapacity,
		Friend:       friend,
		Currency:     currency,
		RecvCapacity: recvCapacity(l),
	})
}

// withdrawCapacity emits an IndexMutation removing (friend, currency) from
// the graph entirely, e.g. on friend disable/removal.
func (r *Router) withdrawCapacity(friend wire.PublicKey, currency wire.Currency) {
	if r.index == nil {
		return
	}
	r.index.Publish(IndexMutation{
		Kind:     IndexMutationRemoveCapacity,
		Friend:   friend,
		Currency: currency,
	})
}
