package ledger

import (
	"crypto/sha256"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/wire"
)

// RequestOutcome is the result of ProcessRequest: whether the request
// should be forwarded upstream (spec.md §4.3's IncomingMessage::Request) or
// answered with a cancel (IncomingMessage::RequestCancel).
type RequestOutcome int

const (
	OutcomeForward RequestOutcome = iota
	OutcomeCancel
)

// ProcessRequest implements spec.md §4.1's process_request. remoteMaxDebt is
// passed explicitly rather than read off l.RemoteMaxDebt; tokenchannel's
// applyOperation passes the ledger's own l.RemoteMaxDebt. Once the request
// passes route and amount validation, ledger adopts it as the new ceiling.
func (l *Ledger) ProcessRequest(req *wire.RequestSendFunds, remoteMaxDebt wire.Uint128) (RequestOutcome, error) {
	if err := req.Route.Validate(); err != nil {
		return 0, ErrInvalidRoute
	}
	if req.DestPayment.Cmp(req.TotalDestPayment) > 0 {
		return 0, ErrDestPaymentExceedsTotal
	}
	if _, exists := l.PendingRemote[req.RequestID]; exists {
		return 0, ErrRequestAlreadyExists
	}

	freeze, overflow := req.DestPayment.Add(req.LeftFees)
	if overflow {
		return 0, ErrAmountOverflow
	}
	newRemotePending, overflow := l.RemotePendingDebt.Add(freeze)
	if overflow {
		return 0, ErrAmountOverflow
	}

	l.RemoteMaxDebt = remoteMaxDebt
	l.PendingRemote[req.RequestID] = &PendingTransaction{
		RequestID:        req.RequestID,
		Route:            req.Route,
		DestPayment:      req.DestPayment,
		TotalDestPayment: req.TotalDestPayment,
		LeftFees:         req.LeftFees,
		InvoiceHash:      req.InvoiceHash,
		SrcHashedLock:    req.SrcHashedLock,
	}
	l.RemotePendingDebt = newRemotePending

	sum, overflow := l.Balance.AddUint128(newRemotePending)
	ceiling := wire.Int128{Mag: remoteMaxDebt}
	if overflow || !sum.LessEq(ceiling) {
		// We still record the pending slot (spec.md §4.1) so the reject
		// path below has a coherent record to hand the router; the
		// router immediately calls RejectPendingRemote to undo it before
		// a CancelSendFunds ever reaches the wire.
		return OutcomeCancel, nil
	}
	return OutcomeForward, nil
}

// RejectPendingRemote reverses the bookkeeping ProcessRequest performed for
// a request that came back as OutcomeCancel: the router never forwards such
// a request, so no counterparty will ever send a matching CancelSendFunds
// to unwind it through ProcessCancel.
func (l *Ledger) RejectPendingRemote(id wire.RequestID) error {
	pending, ok := l.PendingRemote[id]
	if !ok {
		return ErrRequestDoesNotExist
	}
	freeze, overflow := pending.freeze()
	if overflow {
		return ErrAmountOverflow
	}
	newRemotePending, underflow := l.RemotePendingDebt.Sub(freeze)
	if underflow {
		return ErrAmountOverflow
	}
	l.RemotePendingDebt = newRemotePending
	delete(l.PendingRemote, id)
	return nil
}

// AcceptPendingRemote is the destination-side settlement counterpart to
// ProcessResponse: mutual_credit/incoming.rs's process_response only ever
// resolves a node's own local-pending entry (the forwarding/origin case).
// The final hop accepting a request it will not forward has no such
// counterpart in the retrieved source, so this freezes-to-balance
// conversion is this implementation's decision (see DESIGN.md): it removes
// id from PendingRemote, moves its frozen amount out of RemotePendingDebt
// and into Balance, and returns the removed record so the caller can build
// the Response's canonical signing buffer from it.
func (l *Ledger) AcceptPendingRemote(id wire.RequestID) (*PendingTransaction, error) {
	pending, ok := l.PendingRemote[id]
	if !ok {
		return nil, ErrRequestDoesNotExist
	}
	freeze, overflow := pending.freeze()
	if overflow {
		return nil, ErrAmountOverflow
	}
	newRemotePending, underflow := l.RemotePendingDebt.Sub(freeze)
	if underflow {
		return nil, ErrAmountOverflow
	}
	newBalance, overflow := l.Balance.AddUint128(freeze)
	if overflow {
		return nil, ErrAmountOverflow
	}
	l.RemotePendingDebt = newRemotePending
	l.Balance = newBalance
	delete(l.PendingRemote, id)
	return pending, nil
}

// ProcessResponse implements spec.md §4.1's process_response. destPK is the
// public key whose signature resp.Signature must verify against: the last
// hop's key, or our own when we are the payment's origin.
func (l *Ledger) ProcessResponse(resp *wire.ResponseSendFunds, destPK wire.PublicKey) error {
	pending, ok := l.PendingLocal[resp.RequestID]
	if !ok {
		return ErrRequestDoesNotExist
	}

	hashed := wire.HashValue(sha256.Sum256(resp.SrcPlainLock[:]))
	if hashed != pending.SrcHashedLock {
		return ErrInvalidSrcPlainLock
	}

	canon, err := CanonicalizeResponse(l.Currency, resp, pending)
	if err != nil {
		return err
	}
	if !idclient.Verify(destPK, canon, resp.Signature) {
		return ErrInvalidResponseSignature
	}

	freeze, overflow := pending.freeze()
	if overflow {
		return ErrAmountOverflow
	}
	newLocalPending, underflow := l.LocalPendingDebt.Sub(freeze)
	if underflow {
		return ErrAmountOverflow
	}
	newOutFees, overflow := l.OutFees.Add(uint256FromUint128(pending.LeftFees))
	if overflow {
		return ErrAmountOverflow
	}
	newBalance, overflow := l.Balance.SubUint128(freeze)
	if overflow {
		return ErrAmountOverflow
	}

	l.LocalPendingDebt = newLocalPending
	l.OutFees = newOutFees
	l.Balance = newBalance
	delete(l.PendingLocal, resp.RequestID)
	return nil
}

// ProcessCancel implements spec.md §4.1's process_cancel.
func (l *Ledger) ProcessCancel(cancel *wire.CancelSendFunds) error {
	pending, ok := l.PendingLocal[cancel.RequestID]
	if !ok {
		return ErrRequestDoesNotExist
	}
	freeze, overflow := pending.freeze()
	if overflow {
		return ErrAmountOverflow
	}
	newLocalPending, underflow := l.LocalPendingDebt.Sub(freeze)
	if underflow {
		return ErrAmountOverflow
	}
	l.LocalPendingDebt = newLocalPending
	delete(l.PendingLocal, cancel.RequestID)
	return nil
}

// InsertPendingLocal records a request this node is about to forward
// downstream as its own outgoing operation, so a later ResponseSendFunds or
// CancelSendFunds from that hop can be matched back to it. Not part of
// spec.md §4.1's three named operations, but required to populate
// local-pending in the first place — the router calls this when it builds
// the outgoing RequestSendFunds for the next hop.
func (l *Ledger) InsertPendingLocal(p *PendingTransaction) {
	l.PendingLocal[p.RequestID] = p
}
