package tokenchannel

import (
	"github.com/go-errors/errors"
	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/wire"
)

var (
	ErrNotInconsistent  = errors.New("tokenchannel: channel is not Inconsistent")
	ErrNoRemoteTerms    = errors.New("tokenchannel: no remote reset terms loaded")
	ErrResetTermsDiffer = errors.New("tokenchannel: reset move-token does not match loaded remote terms")
)

func maxUint128(a, b wire.Uint128) wire.Uint128 {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// ComputeLocalResetTerms implements spec.md §4.2's deterministic reset-terms
// generation and transitions the channel to Inconsistent: next counter =
// max(local_counter, remote_counter) + 2, reset balances = each currency's
// "balance-for-reset" (balance + remote_pending_debt).
func (c *Channel) ComputeLocalResetTerms() *wire.ResetTerms {
	counter, _ := maxUint128(c.LastSentCounter, c.LastReceivedCounter).Add(wire.Uint128{Lo: 2})
	terms := &wire.ResetTerms{
		ResetCounter:  counter,
		ResetBalances: c.currentBalances(),
	}
	c.Direction = DirectionInconsistent
	c.LocalResetTerms = terms
	return terms
}

// LoadRemoteResetTerms records the friend's proposed reset terms, received
// via an InconsistencyError (spec.md §4.3 step 5).
func (c *Channel) LoadRemoteResetTerms(terms *wire.ResetTerms) {
	c.RemoteResetTerms = terms
}

// AcceptRemoteReset implements spec.md §4.2's accept_remote_reset: produces
// a MoveToken whose counter equals the agreed reset counter and whose
// prior-hash equals the hash of the remote's reset-terms structure,
// transitioning the channel out of Inconsistent. purgedLocal/purgedRemote
// list every pending transaction cleared by the reset (spec.md §3's "may be
// purged on channel reset, with cancel propagation upstream"), mirroring
// what HandleInResetMoveToken reports on the other side of the same reset.
func (c *Channel) AcceptRemoteReset(randNonce wire.Nonce) (mt *wire.MoveToken, purgedLocal, purgedRemote map[wire.Currency][]wire.RequestID, mutations []store.NodeMutation, err error) {
	if c.Direction != DirectionInconsistent {
		return nil, nil, nil, nil, ErrNotInconsistent
	}
	if c.RemoteResetTerms == nil {
		return nil, nil, nil, nil, ErrNoRemoteTerms
	}

	digest, err := c.RemoteResetTerms.Digest()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	mt = &wire.MoveToken{
		PrevHash:             digest,
		CurrenciesOperations: map[wire.Currency][]wire.Operation{},
		MoveTokenCounter:     c.RemoteResetTerms.ResetCounter,
		RandNonce:            randNonce,
	}

	purgedLocal = make(map[wire.Currency][]wire.RequestID)
	purgedRemote = make(map[wire.Currency][]wire.RequestID)
	for currency, l := range c.Ledgers {
		for id := range l.PendingLocal {
			purgedLocal[currency] = append(purgedLocal[currency], id)
		}
		for id := range l.PendingRemote {
			purgedRemote[currency] = append(purgedRemote[currency], id)
		}
	}

	c.resetLedgers(c.RemoteResetTerms.ResetBalances)

	infoHash, err := wire.InfoHashInput(c.currentBalances(), c.LocalPublicKey, c.RemotePublicKey)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	mt.InfoHash = infoHash

	signed, err := mt.SignedBytes()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sig, err := c.signer.Sign(signed)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	mt.Signature = sig

	c.Direction = DirectionOut
	c.LastMoveToken = mt
	c.LastSentCounter = mt.MoveTokenCounter
	c.LocalResetTerms = nil
	c.RemoteResetTerms = nil

	return mt, purgedLocal, purgedRemote, c.resetMutations(), nil
}

// HandleInResetMoveToken accepts a reset MoveToken sent by the friend who
// accepted our locally proposed terms, completing the other half of
// spec.md §4.2's reset handshake. purgedLocal and purgedRemote list every pending
// transaction cleared by the reset, across both local and remote maps, for
// the router to propagate cancels upstream for (spec.md §3's "may be purged
// on channel reset (with cancel propagation upstream)").
func (c *Channel) HandleInResetMoveToken(mt *wire.MoveToken) (purgedLocal, purgedRemote map[wire.Currency][]wire.RequestID, mutations []store.NodeMutation, err error) {
	if c.Direction != DirectionInconsistent {
		return nil, nil, nil, ErrNotInconsistent
	}
	if c.LocalResetTerms == nil {
		return nil, nil, nil, ErrNoRemoteTerms
	}

	digest, err := c.LocalResetTerms.Digest()
	if err != nil {
		return nil, nil, nil, err
	}
	if mt.PrevHash != digest || mt.MoveTokenCounter != c.LocalResetTerms.ResetCounter {
		return nil, nil, nil, ErrResetTermsDiffer
	}

	// The remote's own balance-for-reset is the mirror image of ours:
	// what they record as "remote owes us" from their perspective is what
	// we record as "we owe remote" from ours.
	negated := make(map[wire.Currency]wire.Int128, len(c.LocalResetTerms.ResetBalances))
	for currency, bal := range c.LocalResetTerms.ResetBalances {
		negated[currency] = wire.Int128{Neg: !bal.Neg, Mag: bal.Mag}
	}

	purgedLocal = make(map[wire.Currency][]wire.RequestID)
	purgedRemote = make(map[wire.Currency][]wire.RequestID)
	for currency, l := range c.Ledgers {
		for id := range l.PendingLocal {
			purgedLocal[currency] = append(purgedLocal[currency], id)
		}
		for id := range l.PendingRemote {
			purgedRemote[currency] = append(purgedRemote[currency], id)
		}
	}

	c.resetLedgers(negated)

	c.Direction = DirectionIn
	c.LastMoveToken = mt
	c.LastReceivedCounter = mt.MoveTokenCounter
	c.LocalResetTerms = nil
	c.RemoteResetTerms = nil

	return purgedLocal, purgedRemote, c.resetMutations(), nil
}

// resetLedgers installs balances as every currency's fresh post-reset
// balance, with pending debts and transaction maps cleared (spec.md §4.2:
// "all pending transactions cleared").
func (c *Channel) resetLedgers(balances map[wire.Currency]wire.Int128) {
	for currency, balance := range balances {
		l := c.ledgerFor(currency)
		l.Balance = balance
		l.LocalPendingDebt = wire.Uint128{}
		l.RemotePendingDebt = wire.Uint128{}
		l.PendingLocal = make(map[wire.RequestID]*ledger.PendingTransaction)
		l.PendingRemote = make(map[wire.RequestID]*ledger.PendingTransaction)
	}
}

func (c *Channel) resetMutations() []store.NodeMutation {
	muts := make([]store.NodeMutation, 0, len(c.Ledgers)+1)
	for currency, l := range c.Ledgers {
		muts = append(muts, store.NodeMutation{
			Kind:     store.MutSetLedger,
			Friend:   c.RemotePublicKey,
			Currency: currency,
			Ledger:   l.ToSnapshot(),
		})
	}
	direction := "in"
	if c.Direction == DirectionOut {
		direction = "out"
	}
	muts = append(muts, store.NodeMutation{
		Kind:     store.MutSetTokenChannel,
		Friend:   c.RemotePublicKey,
		Currency: "",
		TokenChannel: &store.TokenChannelSnapshot{
			Direction:   direction,
			LastCounter: c.LastMoveToken.MoveTokenCounter,
		},
	})
	return muts
}
