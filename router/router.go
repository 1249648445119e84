// Package router implements the router (spec.md §4.3, C3): the per-friend
// liveness table and FriendMessage dispatcher sitting on top of the token
// channel (C2). Grounded on indexclient/syncer.go's mutex-guarded per-peer
// state bookkeeping (renamed from discovery.GossipSyncer's query state) and
// semantics from original_source/components/funder/src/router/handle_friend.rs.
// Dispatch is short enough per friend that one Router mutex serializes all
// of it rather than a goroutine per friend; Run's single loop drives the
// liveness table off the shared timer tick stream (spec.md §9's injected
// time).
package router

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/timerclient"
	"github.com/meshcredit/creditnode/tokenchannel"
	"github.com/meshcredit/creditnode/wire"
)

// defaultFlushRateLimit caps how often a single friend's move-token flush
// may fire, the same pacing role rate.Limiter plays for discovery/syncer.go's
// query traffic — a friend with a constant stream of tiny payments should
// not be able to force a MoveToken per operation.
const defaultFlushRateLimit = rate.Limit(20)

// Transport is the encrypted-transport (C4) API the router sends
// FriendMessages through.
type Transport interface {
	// Send delivers msg to friend pk. Returns an error only for local
	// failures (e.g. no such connection); a dead or absent peer is not an
	// error here — the router's liveness table already knows.
	Send(pk wire.PublicKey, msg wire.FriendMessage) error
}

// IndexClient is the index-client collaborator (spec.md §4.3 "Index
// mutations") the router publishes capacity changes to.
type IndexClient interface {
	Publish(mutation IndexMutation)
}

// RandSource supplies the random nonces MoveToken and the handshake need,
// injected rather than drawn from a package-global RNG (spec.md §9).
type RandSource interface {
	Nonce() wire.Nonce
}

// PaymentSink is the application-layer callback for payments addressed to
// this node (it is the route's last hop) and for outcomes of payments this node
// originated.
type PaymentSink interface {
	IncomingPayment(currency wire.Currency, req *wire.RequestSendFunds)
	PaymentResponse(currency wire.Currency, resp *wire.ResponseSendFunds)
	PaymentCancelled(currency wire.Currency, cancel *wire.CancelSendFunds)
}

// Friend is the router's runtime view of one configured friend.
type Friend struct {
	PublicKey wire.PublicKey
	Enabled   bool
	Online    bool
	Relays    []wire.Relay

	Channel *tokenchannel.Channel

	// OutgoingOps queues operations awaiting the next outgoing MoveToken,
	// per currency, in the order they were enqueued.
	OutgoingOps map[wire.Currency][]wire.Operation
	// CurrenciesDiff queues currency enable/disable toggles awaiting the
	// next outgoing MoveToken.
	CurrenciesDiff []wire.Currency
	TokenWanted    bool

	// flushLimiter paces this friend's outgoing MoveToken flushes
	// (defaultFlushRateLimit), independent of every other friend's.
	flushLimiter *rate.Limiter

	// TicksSinceActivity backs spec.md §4.4's liveness/keepalive model at
	// the router's granularity: reset whenever a MoveTokenRequest is
	// received from this friend.
	TicksSinceActivity uint32
}

func (f *Friend) hasQueuedWork() bool {
	if len(f.CurrenciesDiff) > 0 {
		return true
	}
	for _, ops := range f.OutgoingOps {
		if len(ops) > 0 {
			return true
		}
	}
	return false
}

// originInfo records, per in-flight request-id, which friend forwarded the
// original RequestSendFunds to this node, so a later Response or Cancel
// from the next hop can be routed back. This index is router-owned and
// rebuildable: it is derivable from every friend's ledger
// pending_remote_transactions, which is what is actually durable — see
// DESIGN.md.
type originInfo struct {
	Friend   wire.PublicKey
	Currency wire.Currency
}

// Router owns every friend's runtime state and dispatches FriendMessage
// traffic and application commands (spec.md §4.3).
type Router struct {
	mu      sync.Mutex
	friends map[wire.PublicKey]*Friend
	origins map[wire.RequestID]originInfo

	localPublicKey wire.PublicKey
	signer         idclient.Client
	db             store.DatabaseClient
	transport      Transport
	index          IndexClient
	rand           RandSource
	timer          timerclient.Client
	payments       PaymentSink
}

// New creates a Router with no friends configured; AddFriend activates them.
func New(
	localPK wire.PublicKey,
	signer idclient.Client,
	db store.DatabaseClient,
	transport Transport,
	index IndexClient,
	rand RandSource,
	timer timerclient.Client,
	payments PaymentSink,
) *Router {
	return &Router{
		friends:        make(map[wire.PublicKey]*Friend),
		origins:        make(map[wire.RequestID]originInfo),
		localPublicKey: localPK,
		signer:         signer,
		db:             db,
		transport:      transport,
		index:          index,
		rand:           rand,
		timer:          timer,
		payments:       payments,
	}
}

// friendLocked returns the Friend for pk; caller must hold r.mu.
func (r *Router) friendLocked(pk wire.PublicKey) (*Friend, bool) {
	f, ok := r.friends[pk]
	return f, ok
}
