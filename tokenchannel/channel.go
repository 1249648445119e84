// Package tokenchannel implements the token channel (spec.md §4.2, C2): the
// signed, hash-chained conversation with one friend across its active
// currencies, sitting directly on top of the per-currency ledgers (C1) it
// owns as plain value types. Grounded on
// _examples/breez-lightninglib/store/channel.go's commitment-chain fields
// and original_source/components/funder/src/token_channel/directional.rs.
package tokenchannel

import (
	"github.com/go-errors/errors"
	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/wire"
)

// Direction is which side currently holds the token (spec.md §3).
type Direction int

const (
	// DirectionOut: we hold no token; we last sent a move-token; awaiting
	// remote.
	DirectionOut Direction = iota
	// DirectionIn: we hold the token; we may send next.
	DirectionIn
	// DirectionInconsistent: the chain diverged; recovery pending.
	DirectionInconsistent
)

// Channel is one friend's token-channel state. Per spec.md §9's
// back-reference design note, it holds its ledgers as plain values
// addressed by currency, with no pointer back to the friend or router that
// owns it.
type Channel struct {
	LocalPublicKey  wire.PublicKey
	RemotePublicKey wire.PublicKey

	Direction Direction

	// LastMoveToken is last_sent when Direction == DirectionOut, or
	// last_received when Direction == DirectionIn. Nil only before the
	// first message of the channel's lifetime is exchanged.
	LastMoveToken *wire.MoveToken

	// LocalResetTerms is set when this side computes reset terms (Direction
	// then becomes DirectionInconsistent); RemoteResetTerms is set whenever
	// the friend's InconsistencyError arrives, whatever the Direction. Both
	// are cleared when a reset completes.
	LocalResetTerms  *wire.ResetTerms
	RemoteResetTerms *wire.ResetTerms

	Ledgers map[wire.Currency]*ledger.Ledger

	// LastSentCounter / LastReceivedCounter track each direction's most
	// recent move-token counter independently of which one LastMoveToken
	// currently points at, so spec.md §4.2's reset-counter formula
	// (max(local_counter, remote_counter) + 2) has both values available
	// even though only one "last message" is tracked at a time for normal
	// chain validation.
	LastSentCounter     wire.Uint128
	LastReceivedCounter wire.Uint128

	// ActiveCurrencies tracks which currencies are currently enabled,
	// separately from Ledgers: disabling a currency does not discard its
	// historical balance (spec.md §3's "preserving historical balance" on
	// reset applies equally to plain disable/enable).
	ActiveCurrencies map[wire.Currency]bool

	signer idclient.Client
}

// toggleCurrencies applies a currencies_diff batch: each currency named
// flips its enabled bit.
func (c *Channel) toggleCurrencies(diff []wire.Currency) {
	for _, currency := range diff {
		c.ActiveCurrencies[currency] = !c.ActiveCurrencies[currency]
		if c.ActiveCurrencies[currency] {
			c.ledgerFor(currency)
		}
	}
}

// New creates a fresh channel for a newly activated friend, with the
// initial direction decided by spec.md §3's deterministic tie-break.
func New(localPK, remotePK wire.PublicKey, signer idclient.Client) *Channel {
	dir := DirectionOut
	if wire.Less(localPK, remotePK) {
		dir = DirectionIn
	}
	return &Channel{
		LocalPublicKey:   localPK,
		RemotePublicKey:  remotePK,
		Direction:        dir,
		Ledgers:          make(map[wire.Currency]*ledger.Ledger),
		ActiveCurrencies: make(map[wire.Currency]bool),
		signer:           signer,
	}
}

var (
	ErrWrongDirection  = errors.New("tokenchannel: handle_out_move_token requires DirectionIn")
	ErrUnknownCurrency = errors.New("tokenchannel: operation for currency not in channel's active set")
)

// nextExpectedCounter returns the move-token counter the next message (in
// either direction) must carry.
func (c *Channel) nextExpectedCounter() wire.Uint128 {
	if c.LastMoveToken == nil {
		return wire.Uint128{}
	}
	next, overflow := c.LastMoveToken.MoveTokenCounter.Add(wire.Uint128{Lo: 1})
	if overflow {
		// A 128-bit counter wrapping is outside any realistic channel
		// lifetime; treat as max value rather than panic.
		return wire.Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}
	}
	return next
}

// Ledger returns (creating if absent) the ledger for currency, for callers
// outside this package (the router builds outgoing operations and inserts
// local-pending entries directly against it).
func (c *Channel) Ledger(currency wire.Currency) *ledger.Ledger {
	return c.ledgerFor(currency)
}

// ledgerFor returns (creating if absent) the ledger for currency.
func (c *Channel) ledgerFor(currency wire.Currency) *ledger.Ledger {
	l, ok := c.Ledgers[currency]
	if !ok {
		l = ledger.New(currency, c.RemotePublicKey)
		c.Ledgers[currency] = l
	}
	return l
}

// currentBalances snapshots every ledger's reset-relevant balance
// (spec.md §4.2: "balance + remote_pending_debt"), used both for InfoHash
// and for reset-terms computation.
func (c *Channel) currentBalances() map[wire.Currency]wire.Int128 {
	out := make(map[wire.Currency]wire.Int128, len(c.Ledgers))
	for currency, l := range c.Ledgers {
		b, _ := l.Balance.AddUint128(l.RemotePendingDebt)
		out[currency] = b
	}
	return out
}
