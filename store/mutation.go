package store

import "github.com/meshcredit/creditnode/wire"

// MutationKind tags a NodeMutation. spec.md §6: "a list of NodeMutations
// including friend add/remove, token-channel direction changes, balance
// updates, currency set changes, and pending-transaction inserts/removes."
type MutationKind int

const (
	MutAddFriend MutationKind = iota
	MutRemoveFriend
	MutSetFriendEnabled
	MutSetFriendRelays
	MutSetFriendCurrencies
	MutSetLedger
	MutSetTokenChannel
	MutSetInconsistency
	MutClearInconsistency
	MutInsertPendingLocal
	MutRemovePendingLocal
	MutInsertPendingRemote
	MutRemovePendingRemote
)

// LedgerSnapshot is the persisted view of one (friend, currency)'s
// mutual-credit state, as defined in spec.md §3.
type LedgerSnapshot struct {
	Balance           wire.Int128
	LocalPendingDebt  wire.Uint128
	RemotePendingDebt wire.Uint128
	LocalMaxDebt      wire.Uint128
	RemoteMaxDebt     wire.Uint128
	InFees            wire.Uint256
	OutFees           wire.Uint256
}

// TokenChannelSnapshot is the persisted view of one friend's token-channel
// direction state (spec.md §3).
type TokenChannelSnapshot struct {
	// Direction is "out" (we hold no token, awaiting remote) or "in" (we
	// hold the token).
	Direction   string
	LastCounter wire.Uint128
	LastHash    wire.HashValue
}

// PendingTransactionSnapshot is the persisted view of one in-flight
// request's frozen-credit record.
type PendingTransactionSnapshot struct {
	RequestID        wire.RequestID
	Route            wire.Route
	DestPayment      wire.Uint128
	TotalDestPayment wire.Uint128
	LeftFees         wire.Uint128
	InvoiceHash      wire.HashValue
	SrcHashedLock    wire.HashValue

	// HMAC is carried through the response signature canonicalization
	// (spec.md §4.1) untouched by this node; no wire operation currently
	// populates it, so it is always empty until a future revision of
	// RequestSendFunds adds the field the spec's formula anticipates.
	HMAC []byte
}

// NodeMutation is one durable state change, applied atomically as part of a
// batch by DatabaseClient.ApplyMutations.
type NodeMutation struct {
	Kind     MutationKind
	Friend   wire.PublicKey
	Currency wire.Currency

	// Populated depending on Kind.
	Enabled      bool
	Relays       []wire.Relay
	Currencies   []wire.Currency
	Ledger       *LedgerSnapshot
	TokenChannel *TokenChannelSnapshot
	ResetTerms   *wire.ResetTerms
	Pending      *PendingTransactionSnapshot
	RequestID    wire.RequestID
}

// FriendRecord is the full persisted record for one friend (spec.md §3).
type FriendRecord struct {
	PublicKey  wire.PublicKey
	Enabled    bool
	Relays     []wire.Relay
	Currencies []wire.Currency

	Ledgers       map[wire.Currency]*LedgerSnapshot
	TokenChannels map[wire.Currency]*TokenChannelSnapshot
	ResetTerms    map[wire.Currency]*wire.ResetTerms

	PendingLocal  map[wire.Currency]map[wire.RequestID]*PendingTransactionSnapshot
	PendingRemote map[wire.Currency]map[wire.RequestID]*PendingTransactionSnapshot
}

func newFriendRecord(pk wire.PublicKey) *FriendRecord {
	return &FriendRecord{
		PublicKey:     pk,
		Ledgers:       make(map[wire.Currency]*LedgerSnapshot),
		TokenChannels: make(map[wire.Currency]*TokenChannelSnapshot),
		ResetTerms:    make(map[wire.Currency]*wire.ResetTerms),
		PendingLocal:  make(map[wire.Currency]map[wire.RequestID]*PendingTransactionSnapshot),
		PendingRemote: make(map[wire.Currency]map[wire.RequestID]*PendingTransactionSnapshot),
	}
}
