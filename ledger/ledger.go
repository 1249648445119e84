// Package ledger implements the mutual-credit ledger (spec.md §4.1, C1): per
// (friend, currency) balance and pending-debt bookkeeping, exposed as an
// operation interface consumed by package tokenchannel; the router and
// package payment also call it directly (local-pending inserts, remote-pending
// settlement, response canonicalization). Grounded
// on channeldb/channel.go's in-memory-state-plus-snapshot shape, generalized
// from one bitcoin channel's commitment balances to spec.md §3's mutual
// credit state.
package ledger

import (
	"github.com/go-errors/errors"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/wire"
)

// Sentinel errors returned by the operations below, matching the named
// rejection reasons in spec.md §4.1.
var (
	ErrInvalidRoute             = errors.New("ledger: route is not cycle-free")
	ErrDestPaymentExceedsTotal  = errors.New("ledger: dest payment exceeds total dest payment")
	ErrRequestAlreadyExists     = errors.New("ledger: request id already pending")
	ErrAmountOverflow           = errors.New("ledger: amount overflow")
	ErrRequestDoesNotExist      = errors.New("ledger: request id not in pending")
	ErrInvalidSrcPlainLock      = errors.New("ledger: src plain lock does not hash to pending src hashed lock")
	ErrInvalidResponseSignature = errors.New("ledger: response signature does not verify")
)

// PendingTransaction is the in-memory record of one in-flight request's
// frozen credit (spec.md §3).
type PendingTransaction struct {
	RequestID        wire.RequestID
	Route            wire.Route
	DestPayment      wire.Uint128
	TotalDestPayment wire.Uint128
	LeftFees         wire.Uint128
	InvoiceHash      wire.HashValue
	SrcHashedLock    wire.HashValue
	HMAC             []byte
}

func (p *PendingTransaction) freeze() (wire.Uint128, bool) {
	return p.DestPayment.Add(p.LeftFees)
}

// Ledger is the mutual-credit state for one (friend, currency) pair
// (spec.md §3).
type Ledger struct {
	Currency        wire.Currency
	RemotePublicKey wire.PublicKey

	Balance           wire.Int128
	LocalPendingDebt  wire.Uint128
	RemotePendingDebt wire.Uint128
	LocalMaxDebt      wire.Uint128
	RemoteMaxDebt     wire.Uint128
	InFees            wire.Uint256
	OutFees           wire.Uint256

	PendingLocal  map[wire.RequestID]*PendingTransaction
	PendingRemote map[wire.RequestID]*PendingTransaction
}

// New creates an empty ledger for a freshly activated (friend, currency)
// pair.
func New(currency wire.Currency, remotePK wire.PublicKey) *Ledger {
	return &Ledger{
		Currency:        currency,
		RemotePublicKey: remotePK,
		PendingLocal:    make(map[wire.RequestID]*PendingTransaction),
		PendingRemote:   make(map[wire.RequestID]*PendingTransaction),
	}
}

// Clone returns a deep copy, used by tokenchannel to stage a batch of
// operations against a scratch copy so the whole batch can be discarded
// without mutating the committed ledger on first failure (spec.md §4.1
// "Atomicity").
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		Currency:          l.Currency,
		RemotePublicKey:   l.RemotePublicKey,
		Balance:           l.Balance,
		LocalPendingDebt:  l.LocalPendingDebt,
		RemotePendingDebt: l.RemotePendingDebt,
		LocalMaxDebt:      l.LocalMaxDebt,
		RemoteMaxDebt:     l.RemoteMaxDebt,
		InFees:            l.InFees,
		OutFees:           l.OutFees,
		PendingLocal:      make(map[wire.RequestID]*PendingTransaction, len(l.PendingLocal)),
		PendingRemote:     make(map[wire.RequestID]*PendingTransaction, len(l.PendingRemote)),
	}
	for id, p := range l.PendingLocal {
		cp := *p
		out.PendingLocal[id] = &cp
	}
	for id, p := range l.PendingRemote {
		cp := *p
		out.PendingRemote[id] = &cp
	}
	return out
}

// CheckInvariant reports whether Invariant I1 (spec.md §3) holds:
// -local_max_debt <= balance-local_pending_debt and
// balance+remote_pending_debt <= remote_max_debt.
func (l *Ledger) CheckInvariant() bool {
	lhs, overflow := l.Balance.SubUint128(l.LocalPendingDebt)
	if overflow {
		return false
	}
	negLocalMax := wire.Int128{Neg: true, Mag: l.LocalMaxDebt}
	if !negLocalMax.LessEq(lhs) {
		return false
	}

	rhs, overflow := l.Balance.AddUint128(l.RemotePendingDebt)
	if overflow {
		return false
	}
	remoteMax := wire.Int128{Mag: l.RemoteMaxDebt}
	return rhs.LessEq(remoteMax)
}

// ToSnapshot converts the live state to its persisted form.
func (l *Ledger) ToSnapshot() *store.LedgerSnapshot {
	return &store.LedgerSnapshot{
		Balance:           l.Balance,
		LocalPendingDebt:  l.LocalPendingDebt,
		RemotePendingDebt: l.RemotePendingDebt,
		LocalMaxDebt:      l.LocalMaxDebt,
		RemoteMaxDebt:     l.RemoteMaxDebt,
		InFees:            l.InFees,
		OutFees:           l.OutFees,
	}
}

// FromSnapshot restores the mutual-credit fields from a persisted snapshot,
// leaving the pending-transaction maps for the caller to populate from the
// store's separate pending buckets.
func FromSnapshot(currency wire.Currency, remotePK wire.PublicKey, snap *store.LedgerSnapshot) *Ledger {
	l := New(currency, remotePK)
	if snap == nil {
		return l
	}
	l.Balance = snap.Balance
	l.LocalPendingDebt = snap.LocalPendingDebt
	l.RemotePendingDebt = snap.RemotePendingDebt
	l.LocalMaxDebt = snap.LocalMaxDebt
	l.RemoteMaxDebt = snap.RemoteMaxDebt
	l.InFees = snap.InFees
	l.OutFees = snap.OutFees
	return l
}

func uint256FromUint128(u wire.Uint128) wire.Uint256 {
	return wire.Uint256{Lo: u}
}
