package router

import (
	"github.com/meshcredit/creditnode/tokenchannel"
	"github.com/meshcredit/creditnode/wire"
)

// maybeFlushLocked flushes pk's outgoing queue only if we currently hold
// its token; otherwise the queued work waits for the next HandleInReceived
// or HandleInDuplicate-with-token-wanted to bring the token back to us.
func (r *Router) maybeFlushLocked(pk wire.PublicKey) {
	f, ok := r.friendLocked(pk)
	if !ok || f.Channel.Direction != tokenchannel.DirectionIn {
		return
	}
	r.flushFriendLocked(pk)
}

// flushFriendLocked builds and, if online, sends one outgoing MoveToken for
// pk, draining up to wire.MaxOperationsInBatch queued operations (spec.md
// §4.3's flush policy) and every queued currency toggle. Leftover queued
// operations set TokenWanted so the friend hands the token back promptly.
func (r *Router) flushFriendLocked(pk wire.PublicKey) {
	f, ok := r.friendLocked(pk)
	if !ok || f.Channel.Direction != tokenchannel.DirectionIn {
		return
	}
	if !f.hasQueuedWork() && !f.TokenWanted {
		return
	}
	if !f.flushLimiter.Allow() {
		// Rate-limited: leave the queue intact for the next trigger (a
		// later timer tick, HandleInDuplicate, or SetOnline).
		return
	}

	batch := make(map[wire.Currency][]wire.Operation)
	remaining := wire.MaxOperationsInBatch
	for currency, ops := range f.OutgoingOps {
		if remaining <= 0 {
			break
		}
		if len(ops) == 0 {
			continue
		}
		take := len(ops)
		if take > remaining {
			take = remaining
		}
		batch[currency] = append(batch[currency], ops[:take]...)
		f.OutgoingOps[currency] = ops[take:]
		remaining -= take
	}

	diff := f.CurrenciesDiff
	f.CurrenciesDiff = nil

	mt, mutations, err := f.Channel.HandleOutMoveToken(batch, diff, r.rand.Nonce())
	if err != nil {
		return
	}
	if err := r.persistLocked(f, mutations); err != nil {
		return
	}

	f.TokenWanted = f.hasQueuedWork()

	if f.Online {
		_ = r.transport.Send(pk, wire.MoveTokenRequest{
			MoveToken:   *mt,
			TokenWanted: f.TokenWanted,
		})
	}
}
