package payment

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/ledger"
	"github.com/meshcredit/creditnode/wire"
)

// fakeRouter records what the registry asked the router to do, on
// buffered channels so the test can wait for the dispatcher goroutine's
// asynchronous reaction instead of polling.
type fakeRouter struct {
	sent      chan *wire.RequestSendFunds
	responded chan *wire.ResponseSendFunds
	cancelled chan wire.RequestID
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		sent:      make(chan *wire.RequestSendFunds, 8),
		responded: make(chan *wire.ResponseSendFunds, 8),
		cancelled: make(chan wire.RequestID, 8),
	}
}

func (f *fakeRouter) SendPayment(currency wire.Currency, req *wire.RequestSendFunds) error {
	f.sent <- req
	return nil
}

func (f *fakeRouter) RespondPayment(pk wire.PublicKey, currency wire.Currency, resp *wire.ResponseSendFunds) error {
	f.responded <- resp
	return nil
}

func (f *fakeRouter) CancelPayment(pk wire.PublicKey, currency wire.Currency, requestID wire.RequestID) error {
	f.cancelled <- requestID
	return nil
}

type seqRand struct{ n byte }

func (s *seqRand) Random32() [32]byte {
	s.n++
	return [32]byte{s.n}
}

func (s *seqRand) RequestID() wire.RequestID {
	s.n++
	return wire.RequestID{s.n}
}

func (s *seqRand) SerialNum() wire.Uint128 {
	s.n++
	return wire.Uint128{Lo: uint64(s.n)}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeRouter, idclient.Client) {
	t.Helper()
	router := newFakeRouter()
	signer := idclient.NewLocalSigner([32]byte{1})
	r := NewRegistry(router, &seqRand{}, signer)
	go r.Run()
	t.Cleanup(r.Stop)
	return r, router, signer
}

const testCurrency = wire.Currency("USD")

func TestIncomingPaymentSettlesMatchingInvoice(t *testing.T) {
	r, router, signer := newTestRegistry(t)

	inv := r.AddInvoice(testCurrency, wire.Uint128{Lo: 4})
	payer := wire.PublicKey{0xaa}
	route := wire.Route{payer, signer.PublicKey()}
	req := &wire.RequestSendFunds{
		RequestID:        wire.RequestID{7},
		Route:            route,
		DestPayment:      wire.Uint128{Lo: 4},
		TotalDestPayment: wire.Uint128{Lo: 4},
		InvoiceHash:      inv.Hash(),
		SrcHashedLock:    inv.SrcHashedLock(),
	}

	r.IncomingPayment(testCurrency, req)

	select {
	case resp := <-router.responded:
		if resp.RequestID != req.RequestID {
			t.Fatalf("RequestID = %v, want %v", resp.RequestID, req.RequestID)
		}
		if got := sha256.Sum256(resp.SrcPlainLock[:]); got != inv.SrcHashedLock() {
			t.Fatalf("revealed preimage does not hash to the invoice's lock")
		}
		pending := &ledger.PendingTransaction{
			RequestID:        req.RequestID,
			Route:            req.Route,
			DestPayment:      req.DestPayment,
			TotalDestPayment: req.TotalDestPayment,
			LeftFees:         req.LeftFees,
			InvoiceHash:      req.InvoiceHash,
			SrcHashedLock:    req.SrcHashedLock,
		}
		canon, err := ledger.CanonicalizeResponse(testCurrency, resp, pending)
		if err != nil {
			t.Fatalf("CanonicalizeResponse: %v", err)
		}
		if !idclient.Verify(signer.PublicKey(), canon, resp.Signature) {
			t.Fatalf("Response signature does not verify")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RespondPayment")
	}

	if got, ok := r.LookupInvoice(inv.Hash()); !ok || got.State != InvoiceSettled {
		t.Fatalf("invoice state = %v, want settled", got)
	}
}

func TestIncomingPaymentRejectsUnknownInvoice(t *testing.T) {
	r, router, signer := newTestRegistry(t)

	req := &wire.RequestSendFunds{
		RequestID:   wire.RequestID{9},
		Route:       wire.Route{{0xbb}, signer.PublicKey()},
		InvoiceHash: wire.HashValue{0x01},
	}
	r.IncomingPayment(testCurrency, req)

	select {
	case id := <-router.cancelled:
		if id != req.RequestID {
			t.Fatalf("cancelled id = %v, want %v", id, req.RequestID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CancelPayment")
	}
}

func TestIncomingPaymentRejectsWrongAmount(t *testing.T) {
	r, router, signer := newTestRegistry(t)

	inv := r.AddInvoice(testCurrency, wire.Uint128{Lo: 4})
	req := &wire.RequestSendFunds{
		RequestID:        wire.RequestID{3},
		Route:            wire.Route{{0xcc}, signer.PublicKey()},
		DestPayment:      wire.Uint128{Lo: 2}, // partial payment: not accepted
		TotalDestPayment: wire.Uint128{Lo: 4},
		InvoiceHash:      inv.Hash(),
		SrcHashedLock:    inv.SrcHashedLock(),
	}
	r.IncomingPayment(testCurrency, req)

	select {
	case id := <-router.cancelled:
		if id != req.RequestID {
			t.Fatalf("cancelled id = %v, want %v", id, req.RequestID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for CancelPayment")
	}
	if got, _ := r.LookupInvoice(inv.Hash()); got.State != InvoiceOpen {
		t.Fatalf("invoice state = %v, want still open", got.State)
	}
}

func TestOpenPaymentTracksSuccess(t *testing.T) {
	r, router, _ := newTestRegistry(t)

	desc := Descriptor{
		InvoiceHash:      wire.HashValue{0x05},
		SrcHashedLock:    wire.HashValue{0x06},
		Currency:         testCurrency,
		TotalDestPayment: wire.Uint128{Lo: 10},
	}
	route := wire.Route{{0x01}, {0x02}}
	id, err := r.OpenPayment(testCurrency, route, desc, wire.Uint128{Lo: 1})
	if err != nil {
		t.Fatalf("OpenPayment: %v", err)
	}

	select {
	case req := <-router.sent:
		if req.RequestID != id {
			t.Fatalf("sent RequestID = %v, want %v", req.RequestID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SendPayment")
	}

	sub := r.SubscribePayment(id)
	defer sub.Cancel()

	resp := &wire.ResponseSendFunds{RequestID: id}
	r.PaymentResponse(testCurrency, resp)

	select {
	case p := <-sub.Updates:
		if p.State != PaymentSucceeded {
			t.Fatalf("payment state = %v, want succeeded", p.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription delivery")
	}
}

func TestOpenPaymentTracksCancel(t *testing.T) {
	r, router, _ := newTestRegistry(t)

	desc := Descriptor{Currency: testCurrency, TotalDestPayment: wire.Uint128{Lo: 1}}
	route := wire.Route{{0x01}, {0x02}}
	id, err := r.OpenPayment(testCurrency, route, desc, wire.Uint128{})
	if err != nil {
		t.Fatalf("OpenPayment: %v", err)
	}
	<-router.sent

	r.PaymentCancelled(testCurrency, &wire.CancelSendFunds{RequestID: id})

	deadline := time.After(time.Second)
	for {
		if p, ok := r.LookupPayment(id); ok && p.State == PaymentFailed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for payment to be marked failed")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSubscribeInvoicesDeliversStateChanges(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	sub := r.SubscribeInvoices()
	defer sub.Cancel()

	inv := r.AddInvoice(testCurrency, wire.Uint128{Lo: 2})

	select {
	case got := <-sub.Updates:
		if got.Hash() != inv.Hash() || got.State != InvoiceOpen {
			t.Fatalf("got invoice %v, want %v open", got, inv)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for invoice creation notification")
	}

	r.CancelInvoice(inv.Hash())

	select {
	case got := <-sub.Updates:
		if got.State != InvoiceCanceled {
			t.Fatalf("state = %v, want canceled", got.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for invoice cancel notification")
	}
}
