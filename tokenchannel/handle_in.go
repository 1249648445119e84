package tokenchannel

import (
	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/wire"
)

// HandleInMoveToken implements spec.md §4.2's handle_in_move_token,
// following the four-step validation order it specifies. Grounded on
// original_source/components/funder/src/token_channel/directional.rs's
// simulate_receive_move_token, whose token-hash comparisons (rather than a
// separate counter check) distinguish the Duplicate/RetransmitOutgoing/
// Received/inconsistent cases; this version keeps that hash comparison and
// adds spec.md's explicit counter check as a second, redundant guard.
func (c *Channel) HandleInMoveToken(mt *wire.MoveToken) (*HandleInResult, error) {
	switch c.Direction {
	case DirectionIn:
		return c.handleInWhileHoldingToken(mt)
	case DirectionOut:
		return c.handleInWhileAwaiting(mt)
	default: // DirectionInconsistent
		return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.LocalResetTerms}, nil
	}
}

// handleInWhileHoldingToken covers spec.md §4.2's Direction::Incoming arm:
// we already hold the token, so any further incoming message must be an
// exact repeat of what we last received (remote never saw our transition),
// or the chain has diverged.
func (c *Channel) handleInWhileHoldingToken(mt *wire.MoveToken) (*HandleInResult, error) {
	if c.LastMoveToken == nil {
		return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.ComputeLocalResetTerms()}, nil
	}
	incomingHash, err := mt.Hash()
	if err != nil {
		return nil, err
	}
	lastHash, err := c.LastMoveToken.Hash()
	if err != nil {
		return nil, err
	}
	if incomingHash == lastHash {
		return &HandleInResult{Kind: HandleInDuplicate}, nil
	}
	return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.ComputeLocalResetTerms()}, nil
}

// handleInWhileAwaiting covers spec.md §4.2's Direction::Outgoing arm: we
// last sent a move-token and are awaiting the remote's reply.
func (c *Channel) handleInWhileAwaiting(mt *wire.MoveToken) (*HandleInResult, error) {
	expectedPrev := wire.HashValue{}
	if c.LastMoveToken != nil {
		h, err := c.LastMoveToken.Hash()
		if err != nil {
			return nil, err
		}
		expectedPrev = h
	}

	if mt.PrevHash != expectedPrev {
		if c.LastMoveToken != nil {
			incomingHash, err := mt.Hash()
			if err != nil {
				return nil, err
			}
			if incomingHash == c.LastMoveToken.PrevHash {
				return &HandleInResult{Kind: HandleInRetransmitOutgoing, RetransmitMoveToken: c.LastMoveToken}, nil
			}
		}
		return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.ComputeLocalResetTerms()}, nil
	}

	if mt.MoveTokenCounter != c.nextExpectedCounter() {
		return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.ComputeLocalResetTerms()}, nil
	}

	signed, err := mt.SignedBytes()
	if err != nil {
		return nil, err
	}
	if !idclient.Verify(c.RemotePublicKey, signed, mt.Signature) {
		return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.ComputeLocalResetTerms()}, nil
	}

	return c.applyBatch(mt)
}

// applyBatch implements spec.md §4.2's step 4: each currency's operations
// run through a clone of its ledger so the whole batch commits atomically
// or not at all (spec.md §4.1 "Atomicity").
func (c *Channel) applyBatch(mt *wire.MoveToken) (*HandleInResult, error) {
	clones := make(map[wire.Currency]*ledger.Ledger, len(mt.CurrenciesOperations))
	messages := make(map[wire.Currency][]IncomingMessage)
	var mutations []store.NodeMutation

	order := sortedCurrencies(mt.CurrenciesOperations)
	for _, currency := range order {
		ops := mt.CurrenciesOperations[currency]
		l, ok := clones[currency]
		if !ok {
			l = c.ledgerFor(currency).Clone()
			clones[currency] = l
		}

		for _, op := range ops {
			msg, err := applyOperation(l, currency, op)
			if err != nil {
				return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.ComputeLocalResetTerms()}, nil
			}
			messages[currency] = append(messages[currency], msg)
		}

		if !l.CheckInvariant() {
			return &HandleInResult{Kind: HandleInChainInconsistent, ResetTerms: c.ComputeLocalResetTerms()}, nil
		}
	}

	// Every operation in the batch applied cleanly: commit the clones and
	// the direction/channel-state transition together.
	for currency, l := range clones {
		c.Ledgers[currency] = l
		mutations = append(mutations, store.NodeMutation{
			Kind:     store.MutSetLedger,
			Friend:   c.RemotePublicKey,
			Currency: currency,
			Ledger:   l.ToSnapshot(),
		})
	}
	c.toggleCurrencies(mt.CurrenciesDiff)

	c.Direction = DirectionIn
	c.LastMoveToken = mt
	c.LastReceivedCounter = mt.MoveTokenCounter
	mutations = append(mutations, store.NodeMutation{
		Kind:     store.MutSetTokenChannel,
		Friend:   c.RemotePublicKey,
		Currency: "",
		TokenChannel: &store.TokenChannelSnapshot{
			Direction:   "in",
			LastCounter: mt.MoveTokenCounter,
		},
	})

	return &HandleInResult{
		Kind:             HandleInReceived,
		IncomingMessages: messages,
		Mutations:        mutations,
	}, nil
}

// applyOperation dispatches one wire.Operation through C1 and produces the
// corresponding IncomingMessage for the router (spec.md §4.3).
func applyOperation(l *ledger.Ledger, currency wire.Currency, op wire.Operation) (IncomingMessage, error) {
	switch o := op.(type) {
	case *wire.RequestSendFunds:
		outcome, err := l.ProcessRequest(o, l.RemoteMaxDebt)
		if err != nil {
			return IncomingMessage{}, err
		}
		if outcome == ledger.OutcomeCancel {
			if err := l.RejectPendingRemote(o.RequestID); err != nil {
				return IncomingMessage{}, err
			}
			return IncomingMessage{Kind: IncomingRequestCancel, Currency: currency, Request: o}, nil
		}
		return IncomingMessage{Kind: IncomingRequest, Currency: currency, Request: o}, nil

	case *wire.ResponseSendFunds:
		// A response's signature is verified against the payment
		// destination's key: the last hop of the route recorded on the
		// matching local-pending transaction, or the remote counterparty's
		// key when no such record exists (ProcessResponse then rejects the
		// response as unknown).
		destPK := l.RemotePublicKey
		if p, ok := l.PendingLocal[o.RequestID]; ok && len(p.Route) > 0 {
			destPK = p.Route[len(p.Route)-1]
		}
		if err := l.ProcessResponse(o, destPK); err != nil {
			return IncomingMessage{}, err
		}
		return IncomingMessage{Kind: IncomingResponse, Currency: currency, Response: o}, nil

	case *wire.CancelSendFunds:
		if err := l.ProcessCancel(o); err != nil {
			return IncomingMessage{}, err
		}
		return IncomingMessage{Kind: IncomingCancel, Currency: currency, Cancel: o}, nil

	default:
		return IncomingMessage{}, errUnknownOperation
	}
}

func sortedCurrencies(m map[wire.Currency][]wire.Operation) []wire.Currency {
	out := make([]wire.Currency, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
