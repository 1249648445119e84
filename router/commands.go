package router

import (
	"context"

	"github.com/go-errors/errors"
	"golang.org/x/time/rate"

	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/tokenchannel"
	"github.com/meshcredit/creditnode/wire"
)

var (
	ErrFriendExists       = errors.New("router: friend already configured")
	ErrFriendNotFound     = errors.New("router: friend not configured")
	ErrFriendStillEnabled = errors.New("router: friend must be disabled before removal")
	ErrInvalidRoute       = errors.New("router: route must start at this node and name a first hop")
)

// AddFriend implements spec.md §3's "Friend: created by config".
func (r *Router) AddFriend(ctx context.Context, pk wire.PublicKey, relays []wire.Relay) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.friends[pk]; exists {
		return ErrFriendExists
	}

	f := &Friend{
		PublicKey:    pk,
		Relays:       relays,
		Channel:      tokenchannel.New(r.localPublicKey, pk, r.signer),
		OutgoingOps:  make(map[wire.Currency][]wire.Operation),
		flushLimiter: rate.NewLimiter(defaultFlushRateLimit, 1),
	}
	r.friends[pk] = f

	return r.db.ApplyMutations(ctx, []store.NodeMutation{
		{Kind: store.MutAddFriend, Friend: pk},
		{Kind: store.MutSetFriendRelays, Friend: pk, Relays: relays},
	})
}

// RemoveFriend implements spec.md §3's "destroyed by config; must be
// disabled before destruction".
func (r *Router) RemoveFriend(ctx context.Context, pk wire.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friends[pk]
	if !ok {
		return ErrFriendNotFound
	}
	if f.Enabled {
		return ErrFriendStillEnabled
	}
	delete(r.friends, pk)

	return r.db.ApplyMutations(ctx, []store.NodeMutation{
		{Kind: store.MutRemoveFriend, Friend: pk},
	})
}

// SetFriendEnabled toggles a friend's active state.
func (r *Router) SetFriendEnabled(ctx context.Context, pk wire.PublicKey, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friends[pk]
	if !ok {
		return ErrFriendNotFound
	}
	f.Enabled = enabled
	for currency, l := range f.Channel.Ledgers {
		if enabled {
			r.publishCapacity(pk, currency, l)
		} else {
			r.withdrawCapacity(pk, currency)
		}
	}

	return r.db.ApplyMutations(ctx, []store.NodeMutation{
		{Kind: store.MutSetFriendEnabled, Friend: pk, Enabled: enabled},
	})
}

// SetOnline updates liveness as reported by the encrypted transport
// (spec.md §4.3 "Liveness").
func (r *Router) SetOnline(pk wire.PublicKey, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.friends[pk]; ok {
		f.Online = online
		if online {
			r.flushFriendLocked(pk)
		}
	}
}

// SetMaxDebt sets how much friend pk may owe this node in currency (the
// ledger's RemoteMaxDebt); requests in later incoming batches from that
// friend are checked against it.
func (r *Router) SetMaxDebt(pk wire.PublicKey, currency wire.Currency, maxDebt wire.Uint128) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friends[pk]
	if !ok {
		return ErrFriendNotFound
	}
	f.Channel.Ledger(currency).RemoteMaxDebt = maxDebt
	return nil
}

// ResetChannel starts spec.md §4.2's reset recovery by computing and
// recording this side's local reset terms, then sends them to the friend
// at once as an InconsistencyError.
func (r *Router) ResetChannel(pk wire.PublicKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friends[pk]
	if !ok {
		return ErrFriendNotFound
	}
	terms := f.Channel.ComputeLocalResetTerms()
	return r.transport.Send(pk, wire.InconsistencyError{Terms: *terms})
}

// SendPayment implements spec.md §4.3's application "open payment" command:
// route must begin with this node's own public key and name the first-hop
// friend next; the request is recorded against that friend's ledger as a
// local-pending transaction and queued for the next outgoing move-token.
func (r *Router) SendPayment(currency wire.Currency, req *wire.RequestSendFunds) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(req.Route) < 2 || req.Route[0] != r.localPublicKey {
		return ErrInvalidRoute
	}
	firstHop := req.Route[1]

	f, ok := r.friends[firstHop]
	if !ok || !f.Enabled {
		return ErrFriendNotFound
	}

	f.Channel.Ledger(currency).InsertPendingLocal(&ledger.PendingTransaction{
		RequestID:        req.RequestID,
		Route:            req.Route,
		DestPayment:      req.DestPayment,
		TotalDestPayment: req.TotalDestPayment,
		LeftFees:         req.LeftFees,
		InvoiceHash:      req.InvoiceHash,
		SrcHashedLock:    req.SrcHashedLock,
	})
	f.OutgoingOps[currency] = append(f.OutgoingOps[currency], req)
	r.maybeFlushLocked(firstHop)
	return nil
}

// RespondPayment implements spec.md §4.3's application "close payment"
// command for a request this node is the final destination of: it settles
// the frozen remote-pending transaction recorded against pk's ledger (see
// ledger.AcceptPendingRemote) and queues resp for the next outgoing
// move-token back to pk. The caller (package payment) builds and signs
// resp itself; PaymentSink callbacks run synchronously inside the router's
// locked dispatch path, so they must never call back into the Router — this
// is meant to be invoked later, from the payment registry's own loop.
func (r *Router) RespondPayment(pk wire.PublicKey, currency wire.Currency, resp *wire.ResponseSendFunds) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friendLocked(pk)
	if !ok {
		return ErrFriendNotFound
	}
	if _, err := f.Channel.Ledger(currency).AcceptPendingRemote(resp.RequestID); err != nil {
		return err
	}
	f.OutgoingOps[currency] = append(f.OutgoingOps[currency], resp)
	r.maybeFlushLocked(pk)
	return nil
}

// CancelPayment implements the application "reject payment" command: an
// inbound request this node is the final destination of, but does not
// recognize (no matching open invoice), is unwound and answered with a
// CancelSendFunds the same way an unroutable forwarded request is.
func (r *Router) CancelPayment(pk wire.PublicKey, currency wire.Currency, requestID wire.RequestID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelBackLocked(pk, currency, requestID)
	return nil
}
