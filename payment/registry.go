// Package payment implements the local payment-request registry: the
// application-layer surface spec.md §4.3 refers to in passing as "the
// application commands open payment/close payment". It is the only
// consumer of router.PaymentSink that matters outside tests — invoices
// this node issues as a payee, payments it originates as a payer, and
// outcome subscriptions for both.
//
// Grounded on invoices/invoiceregistry.go's subscription/notifier design,
// repurposed from Lightning invoice settlement to this network's
// request/response/cancel model: InvoiceHash plays the role of a payment
// hash chosen by the payee for lookup, and Preimage/SrcHashedLock form the
// same hash-lock commitment invoiceregistry.go builds around
// lntypes.Preimage/Hash, independent of the lookup identifier.
package payment

import (
	"crypto/sha256"
	"sync"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/wire"
)

// Router is the subset of *router.Router the registry drives once it has
// decided how to resolve an incoming request or originate a new one.
// Declared locally, the same way router.Transport/IndexClient are kept
// local to router, so this package never imports router.
type Router interface {
	SendPayment(currency wire.Currency, req *wire.RequestSendFunds) error
	RespondPayment(pk wire.PublicKey, currency wire.Currency, resp *wire.ResponseSendFunds) error
	CancelPayment(pk wire.PublicKey, currency wire.Currency, requestID wire.RequestID) error
}

// RandSource supplies the randomness an opened invoice or outgoing payment
// needs, injected rather than drawn from a package-global RNG (spec.md
// §9's injected-randomness convention, matching router.RandSource and
// transport.RandSource).
type RandSource interface {
	// Random32 returns 32 fresh random bytes, used both for an invoice's
	// lookup identifier and its hash-lock preimage.
	Random32() [32]byte
	RequestID() wire.RequestID
	SerialNum() wire.Uint128
}

// InvoiceState is the lifecycle of a locally issued invoice.
type InvoiceState int

const (
	InvoiceOpen InvoiceState = iota
	InvoiceSettled
	InvoiceCanceled
)

func (s InvoiceState) String() string {
	switch s {
	case InvoiceOpen:
		return "open"
	case InvoiceSettled:
		return "settled"
	case InvoiceCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Invoice is a local payment request this node, as payee, expects to
// receive (spec.md §9's scenario S1: "Invoice on B for total_dest_payment
// = 4, invoice_id = [1;32]"). ID is the free-form lookup identifier a
// payer addresses via RequestSendFunds.InvoiceHash; Preimage is the
// settlement secret whose hash a payer must supply as
// RequestSendFunds.SrcHashedLock, revealed in the Response only once this
// node accepts the payment.
type Invoice struct {
	ID               [32]byte
	Preimage         [32]byte
	Currency         wire.Currency
	TotalDestPayment wire.Uint128

	State InvoiceState
}

// Hash returns the RequestSendFunds.InvoiceHash value that addresses this
// invoice.
func (inv *Invoice) Hash() wire.HashValue {
	return wire.HashValue(sha256.Sum256(inv.ID[:]))
}

// SrcHashedLock returns the RequestSendFunds.SrcHashedLock value a payer
// must supply to settle this invoice.
func (inv *Invoice) SrcHashedLock() wire.HashValue {
	return wire.HashValue(sha256.Sum256(inv.Preimage[:]))
}

// Descriptor is everything a payee hands a payer out of band before a
// payment is opened (the BOLT11-analogous "invoice" itself) — addressed by
// this identifier and this hash-lock, for this much, in this currency.
// Never transmitted over wire.FriendMessage; how it reaches the payer is
// outside this node's protocol surface.
type Descriptor struct {
	InvoiceHash      wire.HashValue
	SrcHashedLock    wire.HashValue
	Currency         wire.Currency
	TotalDestPayment wire.Uint128
}

// Descriptor returns what this node would hand a prospective payer for
// this invoice.
func (inv *Invoice) Descriptor() Descriptor {
	return Descriptor{
		InvoiceHash:      inv.Hash(),
		SrcHashedLock:    inv.SrcHashedLock(),
		Currency:         inv.Currency,
		TotalDestPayment: inv.TotalDestPayment,
	}
}

// PaymentState is the lifecycle of a payment this node originated.
type PaymentState int

const (
	PaymentPending PaymentState = iota
	PaymentSucceeded
	PaymentFailed
)

func (s PaymentState) String() string {
	switch s {
	case PaymentPending:
		return "pending"
	case PaymentSucceeded:
		return "succeeded"
	case PaymentFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OutgoingPayment is a payment this node, as payer, tracks from the moment
// it is handed to Router.SendPayment until a Response or Cancel returns
// for its RequestID.
type OutgoingPayment struct {
	RequestID wire.RequestID
	Currency  wire.Currency
	Route     wire.Route

	State    PaymentState
	Response *wire.ResponseSendFunds
}

type incomingRequestEvent struct {
	from     wire.PublicKey
	currency wire.Currency
	req      *wire.RequestSendFunds
}

type responseEvent struct {
	currency wire.Currency
	resp     *wire.ResponseSendFunds
}

type cancelEvent struct {
	currency wire.Currency
	cancel   *wire.CancelSendFunds
}

// Registry is a Router's application-layer payment endpoint. It
// implements router.PaymentSink; its three callback methods never do more
// than hand their event to the dispatcher goroutine, because
// router.Router invokes them while holding its own mutex (see
// dispatch.go's handleRequestLocked/routeResponseLocked/routeCancelLocked)
// — calling back into Router synchronously from inside one of them would
// deadlock. All actual invoice lookups, settlement, and notification
// happen later, on Run's goroutine.
type Registry struct {
	router Router
	rand   RandSource
	signer idclient.Client

	mu       sync.Mutex
	invoices map[wire.HashValue]*Invoice
	payments map[wire.RequestID]*OutgoingPayment

	incoming  chan incomingRequestEvent
	responses chan responseEvent
	cancels   chan cancelEvent
	quit      chan struct{}
	done      chan struct{}

	subMu       sync.Mutex
	nextSubID   uint64
	invoiceSubs map[uint64]*InvoiceSubscription
	paymentSubs map[uint64]*PaymentSubscription
}

// SetRouter binds the Router this Registry drives once it's constructed.
// Router and Registry are mutually dependent (router.New needs a
// PaymentSink, NewRegistry optionally needs a Router), so a node wiring
// both together constructs the Registry first with a nil router, builds
// the Router with the Registry as its PaymentSink, then calls SetRouter —
// safe because router is only read later, from Run's own goroutine.
func (r *Registry) SetRouter(router Router) {
	r.router = router
}

// NewRegistry creates a Registry. router may be nil if the caller will
// call SetRouter once it exists. Run must be called before any payment can
// settle.
func NewRegistry(router Router, rand RandSource, signer idclient.Client) *Registry {
	return &Registry{
		router:      router,
		rand:        rand,
		signer:      signer,
		invoices:    make(map[wire.HashValue]*Invoice),
		payments:    make(map[wire.RequestID]*OutgoingPayment),
		incoming:    make(chan incomingRequestEvent),
		responses:   make(chan responseEvent),
		cancels:     make(chan cancelEvent),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		invoiceSubs: make(map[uint64]*InvoiceSubscription),
		paymentSubs: make(map[uint64]*PaymentSubscription),
	}
}

// Run starts the dispatcher goroutine and blocks until Stop is called.
func (r *Registry) Run() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.incoming:
			r.handleIncoming(ev)
		case ev := <-r.responses:
			r.handleResponse(ev)
		case ev := <-r.cancels:
			r.handleCancel(ev)
		case <-r.quit:
			return
		}
	}
}

// Stop halts the dispatcher goroutine.
func (r *Registry) Stop() {
	close(r.quit)
	<-r.done
}

// IncomingPayment implements router.PaymentSink. from is recovered from
// the request's own route rather than taken as a parameter: this node is
// always the last hop of req.Route (that is why the router decided this
// request terminates here instead of forwarding it), so the friend that
// delivered it is the hop immediately before.
func (r *Registry) IncomingPayment(currency wire.Currency, req *wire.RequestSendFunds) {
	if len(req.Route) < 2 {
		return
	}
	from := req.Route[len(req.Route)-2]
	select {
	case r.incoming <- incomingRequestEvent{from, currency, req}:
	case <-r.quit:
	}
}

// PaymentResponse implements router.PaymentSink.
func (r *Registry) PaymentResponse(currency wire.Currency, resp *wire.ResponseSendFunds) {
	select {
	case r.responses <- responseEvent{currency, resp}:
	case <-r.quit:
	}
}

// PaymentCancelled implements router.PaymentSink.
func (r *Registry) PaymentCancelled(currency wire.Currency, cancel *wire.CancelSendFunds) {
	select {
	case r.cancels <- cancelEvent{currency, cancel}:
	case <-r.quit:
	}
}

func (r *Registry) handleIncoming(ev incomingRequestEvent) {
	r.mu.Lock()
	inv, ok := r.invoices[ev.req.InvoiceHash]
	match := ok && inv.State == InvoiceOpen &&
		inv.SrcHashedLock() == ev.req.SrcHashedLock &&
		ev.req.DestPayment.Cmp(inv.TotalDestPayment) == 0
	if match {
		inv.State = InvoiceSettled
	}
	r.mu.Unlock()

	if !match {
		r.router.CancelPayment(ev.from, ev.currency, ev.req.RequestID)
		return
	}

	if err := r.settle(ev, inv.Preimage); err != nil {
		// The invoice is already marked settled locally; a failure here
		// means the neighbor never gets a Response and will eventually
		// time out and cancel on its own side. Nothing to retry from.
		return
	}
	r.notifyInvoice(inv)
}

// settle builds and signs the Response for a matched invoice and hands it
// to the router. The signing buffer is built over the exact same
// PendingTransaction fields ledger.ProcessRequest stored against this
// request's id (see ops.go), reconstructed here from the request itself
// since the payee side of this package has no other handle on the
// ledger's bookkeeping.
func (r *Registry) settle(ev incomingRequestEvent, preimage [32]byte) error {
	req := ev.req
	pending := &ledger.PendingTransaction{
		RequestID:        req.RequestID,
		Route:            req.Route,
		DestPayment:      req.DestPayment,
		TotalDestPayment: req.TotalDestPayment,
		LeftFees:         req.LeftFees,
		InvoiceHash:      req.InvoiceHash,
		SrcHashedLock:    req.SrcHashedLock,
	}
	resp := &wire.ResponseSendFunds{
		RequestID:    req.RequestID,
		SrcPlainLock: preimage,
		SerialNum:    r.rand.SerialNum(),
	}
	canon, err := ledger.CanonicalizeResponse(ev.currency, resp, pending)
	if err != nil {
		return err
	}
	sig, err := r.signer.Sign(canon)
	if err != nil {
		return err
	}
	resp.Signature = sig
	return r.router.RespondPayment(ev.from, ev.currency, resp)
}

func (r *Registry) handleResponse(ev responseEvent) {
	r.mu.Lock()
	p, ok := r.payments[ev.resp.RequestID]
	if ok {
		p.State = PaymentSucceeded
		p.Response = ev.resp
	}
	r.mu.Unlock()
	if ok {
		r.notifyPayment(p)
	}
}

func (r *Registry) handleCancel(ev cancelEvent) {
	r.mu.Lock()
	p, ok := r.payments[ev.cancel.RequestID]
	if ok {
		p.State = PaymentFailed
	}
	r.mu.Unlock()
	if ok {
		r.notifyPayment(p)
	}
}

// AddInvoice implements the "open payment as payee" application command:
// it creates and records a new invoice this node will accept a matching
// payment against.
func (r *Registry) AddInvoice(currency wire.Currency, totalDestPayment wire.Uint128) *Invoice {
	inv := &Invoice{
		ID:               r.rand.Random32(),
		Preimage:         r.rand.Random32(),
		Currency:         currency,
		TotalDestPayment: totalDestPayment,
		State:            InvoiceOpen,
	}
	r.mu.Lock()
	r.invoices[inv.Hash()] = inv
	r.mu.Unlock()
	r.notifyInvoice(inv)
	return inv
}

// CancelInvoice revokes an invoice that has not yet been settled. A
// request that arrives for it afterward is rejected the same way one with
// no matching invoice is.
func (r *Registry) CancelInvoice(hash wire.HashValue) (*Invoice, bool) {
	r.mu.Lock()
	inv, ok := r.invoices[hash]
	if ok && inv.State == InvoiceOpen {
		inv.State = InvoiceCanceled
	}
	r.mu.Unlock()
	if ok {
		r.notifyInvoice(inv)
	}
	return inv, ok
}

// LookupInvoice returns the invoice addressed by hash, if any.
func (r *Registry) LookupInvoice(hash wire.HashValue) (*Invoice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[hash]
	return inv, ok
}

// OpenPayment implements the "open payment as payer" application command:
// it builds a fresh RequestSendFunds against desc, hands it to the router
// to send along route, and starts tracking its outcome.
func (r *Registry) OpenPayment(currency wire.Currency, route wire.Route, desc Descriptor, leftFees wire.Uint128) (wire.RequestID, error) {
	id := r.rand.RequestID()
	req := &wire.RequestSendFunds{
		RequestID:        id,
		Route:            route,
		DestPayment:      desc.TotalDestPayment,
		TotalDestPayment: desc.TotalDestPayment,
		LeftFees:         leftFees,
		InvoiceHash:      desc.InvoiceHash,
		SrcHashedLock:    desc.SrcHashedLock,
	}
	if err := r.router.SendPayment(currency, req); err != nil {
		return wire.RequestID{}, err
	}

	r.mu.Lock()
	r.payments[id] = &OutgoingPayment{
		RequestID: id,
		Currency:  currency,
		Route:     route,
		State:     PaymentPending,
	}
	r.mu.Unlock()
	return id, nil
}

// LookupPayment returns the outgoing payment with the given id, if any.
func (r *Registry) LookupPayment(id wire.RequestID) (*OutgoingPayment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	return p, ok
}

func (r *Registry) notifyInvoice(inv *Invoice) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, sub := range r.invoiceSubs {
		sub.kit.push(inv)
	}
}

func (r *Registry) notifyPayment(p *OutgoingPayment) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, sub := range r.paymentSubs {
		if sub.requestID == p.RequestID {
			sub.kit.push(p)
		}
	}
}
