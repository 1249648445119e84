package router

import (
	"context"

	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/tokenchannel"
	"github.com/meshcredit/creditnode/wire"
)

// HandleMoveTokenRequest implements spec.md §4.3's five-step dispatch for an
// inbound MoveTokenRequest from friend pk: delegate to the token channel,
// then react to whichever of the four outcomes came back.
func (r *Router) HandleMoveTokenRequest(pk wire.PublicKey, msg wire.MoveTokenRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friendLocked(pk)
	if !ok || !f.Enabled {
		return ErrFriendNotFound
	}
	f.TicksSinceActivity = 0

	result, err := f.Channel.HandleInMoveToken(&msg.MoveToken)
	if err != nil {
		return err
	}

	switch result.Kind {
	case tokenchannel.HandleInDuplicate:
		f.TokenWanted = f.TokenWanted || msg.TokenWanted
		if f.Channel.Direction == tokenchannel.DirectionIn {
			r.flushFriendLocked(pk)
		}
		return nil

	case tokenchannel.HandleInRetransmitOutgoing:
		if f.Channel.LastMoveToken != nil && f.Online {
			return r.transport.Send(pk, wire.MoveTokenRequest{
				MoveToken:   *f.Channel.LastMoveToken,
				TokenWanted: f.TokenWanted,
			})
		}
		return nil

	case tokenchannel.HandleInChainInconsistent:
		if err := r.persistLocked(f, []store.NodeMutation{{
			Kind:       store.MutSetInconsistency,
			Friend:     pk,
			ResetTerms: result.ResetTerms,
		}}); err != nil {
			return err
		}
		if f.Online {
			return r.transport.Send(pk, wire.InconsistencyError{Terms: *result.ResetTerms})
		}
		return nil

	case tokenchannel.HandleInReceived:
		if err := r.persistLocked(f, result.Mutations); err != nil {
			return err
		}
		for currency, msgs := range result.IncomingMessages {
			for _, im := range msgs {
				r.handleIncomingLocked(pk, currency, im)
			}
			r.publishCapacity(pk, currency, f.Channel.Ledger(currency))
		}
		f.TokenWanted = msg.TokenWanted
		if f.TokenWanted && f.Channel.Direction == tokenchannel.DirectionIn {
			r.flushFriendLocked(pk)
		}
		return nil
	}
	return nil
}

// persistLocked durably commits mutations produced while holding r.mu. The
// router serializes all state changes through r.mu, so no caller ever races
// this write against another for the same friend; a background context is
// appropriate here because the call has no caller-supplied deadline (it
// runs off a transport-delivered message, not a user-facing RPC).
func (r *Router) persistLocked(f *Friend, mutations []store.NodeMutation) error {
	if len(mutations) == 0 {
		return nil
	}
	return r.db.ApplyMutations(context.Background(), mutations)
}

// handleIncomingLocked dispatches one IncomingMessage surfaced by C2's
// applied batch, per spec.md §4.3's four named cases.
func (r *Router) handleIncomingLocked(from wire.PublicKey, currency wire.Currency, im tokenchannel.IncomingMessage) {
	switch im.Kind {
	case tokenchannel.IncomingRequest:
		r.handleRequestLocked(from, currency, im.Request)
	case tokenchannel.IncomingRequestCancel:
		// C1 already reversed its own remote-pending bookkeeping for this
		// request (ledger.RejectPendingRemote, called from applyOperation);
		// only the wire-level reply back to from remains.
		r.sendCancelLocked(from, currency, im.Request.RequestID)
	case tokenchannel.IncomingResponse:
		r.routeResponseLocked(currency, im.Response)
	case tokenchannel.IncomingCancel:
		r.routeCancelLocked(currency, im.Cancel)
	}
}

// handleRequestLocked implements the forward-or-deliver decision for a
// freshly accepted RequestSendFunds (spec.md §4.3's "Request" case).
func (r *Router) handleRequestLocked(from wire.PublicKey, currency wire.Currency, req *wire.RequestSendFunds) {
	nextHop, isFinal := nextHopOf(req.Route, r.localPublicKey)

	if isFinal {
		if r.payments != nil {
			r.payments.IncomingPayment(currency, req)
		}
		return
	}
	if nextHop == nil {
		// We are not on our own route: reject rather than misroute.
		r.cancelBackLocked(from, currency, req.RequestID)
		return
	}

	next, ok := r.friendLocked(*nextHop)
	if !ok || !next.Enabled {
		r.cancelBackLocked(from, currency, req.RequestID)
		return
	}

	next.Channel.Ledger(currency).InsertPendingLocal(&ledger.PendingTransaction{
		RequestID:        req.RequestID,
		Route:            req.Route,
		DestPayment:      req.DestPayment,
		TotalDestPayment: req.TotalDestPayment,
		LeftFees:         req.LeftFees,
		InvoiceHash:      req.InvoiceHash,
		SrcHashedLock:    req.SrcHashedLock,
	})
	r.origins[req.RequestID] = originInfo{Friend: from, Currency: currency}
	next.OutgoingOps[currency] = append(next.OutgoingOps[currency], req)
	r.maybeFlushLocked(*nextHop)
}

// cancelBackLocked synthesizes a CancelSendFunds back toward whichever
// friend forwarded requestID to us, undoing the ledger's remote-pending
// bookkeeping first (spec.md §4.1's RequestCancel resolution, see
// ledger.RejectPendingRemote) since this rejection happens at the router
// level, after C1 already accepted the request as forwardable.
func (r *Router) cancelBackLocked(from wire.PublicKey, currency wire.Currency, requestID wire.RequestID) {
	if f, ok := r.friendLocked(from); ok {
		_ = f.Channel.Ledger(currency).RejectPendingRemote(requestID)
	}
	r.sendCancelLocked(from, currency, requestID)
}

// sendCancelLocked enqueues a CancelSendFunds addressed to friend pk,
// without touching any ledger bookkeeping (the caller has already settled
// that, or never needed to).
func (r *Router) sendCancelLocked(pk wire.PublicKey, currency wire.Currency, requestID wire.RequestID) {
	if f, ok := r.friendLocked(pk); ok {
		f.OutgoingOps[currency] = append(f.OutgoingOps[currency], &wire.CancelSendFunds{RequestID: requestID})
		r.maybeFlushLocked(pk)
	}
}

// routeCancelLocked forwards a Cancel (or an internally synthesized
// RequestCancel) back to the friend recorded as the request's origin.
func (r *Router) routeCancelLocked(currency wire.Currency, cancel *wire.CancelSendFunds) {
	origin, ok := r.origins[cancel.RequestID]
	if !ok {
		// We originated this payment ourselves.
		if r.payments != nil {
			r.payments.PaymentCancelled(currency, cancel)
		}
		return
	}
	delete(r.origins, cancel.RequestID)
	if f, ok := r.friendLocked(origin.Friend); ok {
		f.OutgoingOps[currency] = append(f.OutgoingOps[currency], cancel)
		r.maybeFlushLocked(origin.Friend)
	}
}

// routeResponseLocked forwards a Response back to the friend recorded as
// the request's origin.
func (r *Router) routeResponseLocked(currency wire.Currency, resp *wire.ResponseSendFunds) {
	origin, ok := r.origins[resp.RequestID]
	if !ok {
		if r.payments != nil {
			r.payments.PaymentResponse(currency, resp)
		}
		return
	}
	delete(r.origins, resp.RequestID)
	if f, ok := r.friendLocked(origin.Friend); ok {
		f.OutgoingOps[currency] = append(f.OutgoingOps[currency], resp)
		r.maybeFlushLocked(origin.Friend)
	}
}

// nextHopOf locates self within route and returns the following hop, or
// reports isFinal if self is the route's last entry. Returns (nil, false)
// if self does not appear in route at all.
func nextHopOf(route wire.Route, self wire.PublicKey) (next *wire.PublicKey, isFinal bool) {
	for i, pk := range route {
		if pk != self {
			continue
		}
		if i == len(route)-1 {
			return nil, true
		}
		hop := route[i+1]
		return &hop, false
	}
	return nil, false
}
