package router

import (
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/tokenchannel"
	"github.com/meshcredit/creditnode/wire"
)

// HandleFriendMessage dispatches any inbound FriendMessage from friend pk to
// the handler for its concrete type (spec.md §4.3's wire protocol). The
// transport layer (C4) decodes frames into these variants and calls this
// single entry point; it does not need to know the friend-protocol dispatch
// rules itself.
func (r *Router) HandleFriendMessage(pk wire.PublicKey, msg wire.FriendMessage) error {
	switch m := msg.(type) {
	case wire.MoveTokenRequest:
		return r.HandleMoveTokenRequest(pk, m)
	case wire.InconsistencyError:
		return r.handleInconsistencyError(pk, m)
	case wire.RelaysUpdate:
		return r.handleRelaysUpdate(pk, m)
	case wire.RelaysAck:
		// Purely informational: the peer has acknowledged our last
		// RelaysUpdate. No durable state hangs off the ack itself.
		return nil
	default:
		return nil
	}
}

// handleInconsistencyError implements the receiving half of spec.md §4.2's
// reset handshake (S2): load the peer's proposed terms and, once this side
// has also detected the inconsistency (Direction == DirectionInconsistent,
// set by a prior ChainInconsistent outcome from our own move-token
// traffic), accept them and send back the reset MoveToken. Any pending
// transactions purged by the reset are cancelled back toward whoever
// forwarded them to us.
func (r *Router) handleInconsistencyError(pk wire.PublicKey, msg wire.InconsistencyError) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friendLocked(pk)
	if !ok || !f.Enabled {
		return ErrFriendNotFound
	}

	f.Channel.LoadRemoteResetTerms(&msg.Terms)
	if f.Channel.Direction != tokenchannel.DirectionInconsistent {
		// We haven't independently detected the inconsistency yet. The
		// remote terms are now loaded; the next HandleMoveTokenRequest
		// that surfaces ChainInconsistent will transition Direction and a
		// later retry of this message (or the reset MoveToken itself)
		// completes the exchange.
		return nil
	}

	mt, purgedLocal, purgedRemote, mutations, err := f.Channel.AcceptRemoteReset(r.rand.Nonce())
	if err != nil {
		return err
	}
	if err := r.persistLocked(f, mutations); err != nil {
		return err
	}

	for currency, ids := range purgedLocal {
		for _, id := range ids {
			r.routeCancelLocked(currency, &wire.CancelSendFunds{RequestID: id})
		}
	}
	for currency, ids := range purgedRemote {
		for _, id := range ids {
			r.sendCancelLocked(pk, currency, id)
		}
	}

	if f.Online {
		return r.transport.Send(pk, wire.MoveTokenRequest{MoveToken: *mt, TokenWanted: false})
	}
	return nil
}

// handleRelaysUpdate persists a friend's relay list (spec.md §3: relays are
// per-friend, updated out of band from the move-token flow) and
// acknowledges it.
func (r *Router) handleRelaysUpdate(pk wire.PublicKey, msg wire.RelaysUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friendLocked(pk)
	if !ok {
		return ErrFriendNotFound
	}
	f.Relays = msg.Relays

	if err := r.persistLocked(f, []store.NodeMutation{{
		Kind:   store.MutSetFriendRelays,
		Friend: pk,
		Relays: msg.Relays,
	}}); err != nil {
		return err
	}

	if f.Online {
		return r.transport.Send(pk, wire.RelaysAck{Generation: msg.Generation})
	}
	return nil
}
