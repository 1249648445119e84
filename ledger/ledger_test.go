package ledger

import (
	"crypto/sha256"
	"testing"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/wire"
)

func samplePK(b byte) wire.PublicKey {
	var pk wire.PublicKey
	pk[0] = 0x02
	for i := 1; i < len(pk); i++ {
		pk[i] = b
	}
	return pk
}

func sampleRoute() wire.Route {
	return wire.Route{samplePK(1), samplePK(2), samplePK(3)}
}

func newTestLedger(remoteMaxDebt, localMaxDebt uint64) *Ledger {
	l := New("FakeCoin", samplePK(9))
	l.RemoteMaxDebt = wire.Uint128{Lo: remoteMaxDebt}
	l.LocalMaxDebt = wire.Uint128{Lo: localMaxDebt}
	return l
}

func TestProcessRequestForwardsWithinCeiling(t *testing.T) {
	l := newTestLedger(1000, 1000)
	req := &wire.RequestSendFunds{
		RequestID:        wire.RequestID{1},
		Route:            sampleRoute(),
		DestPayment:      wire.Uint128{Lo: 100},
		TotalDestPayment: wire.Uint128{Lo: 110},
		LeftFees:         wire.Uint128{Lo: 10},
	}

	outcome, err := l.ProcessRequest(req, l.RemoteMaxDebt)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if outcome != OutcomeForward {
		t.Fatalf("expected OutcomeForward, got %v", outcome)
	}
	if l.RemotePendingDebt.Lo != 110 {
		t.Fatalf("remote pending debt = %d, want 110", l.RemotePendingDebt.Lo)
	}
	if !l.CheckInvariant() {
		t.Fatal("invariant I1 violated")
	}
}

func TestProcessRequestCancelsOverCeiling(t *testing.T) {
	l := newTestLedger(50, 1000)
	req := &wire.RequestSendFunds{
		RequestID:        wire.RequestID{1},
		Route:            sampleRoute(),
		DestPayment:      wire.Uint128{Lo: 100},
		TotalDestPayment: wire.Uint128{Lo: 110},
		LeftFees:         wire.Uint128{Lo: 10},
	}

	outcome, err := l.ProcessRequest(req, l.RemoteMaxDebt)
	if err != nil {
		t.Fatalf("ProcessRequest: %v", err)
	}
	if outcome != OutcomeCancel {
		t.Fatalf("expected OutcomeCancel, got %v", outcome)
	}
	if _, ok := l.PendingRemote[req.RequestID]; !ok {
		t.Fatal("expected pending slot to be recorded even on cancel")
	}

	if err := l.RejectPendingRemote(req.RequestID); err != nil {
		t.Fatalf("RejectPendingRemote: %v", err)
	}
	if !l.RemotePendingDebt.IsZero() {
		t.Fatalf("remote pending debt = %+v, want zero after reject", l.RemotePendingDebt)
	}
	if _, ok := l.PendingRemote[req.RequestID]; ok {
		t.Fatal("expected pending slot removed after reject")
	}
}

func TestProcessRequestRejectsDuplicateID(t *testing.T) {
	l := newTestLedger(1000, 1000)
	req := &wire.RequestSendFunds{
		RequestID:        wire.RequestID{1},
		Route:            sampleRoute(),
		DestPayment:      wire.Uint128{Lo: 10},
		TotalDestPayment: wire.Uint128{Lo: 10},
	}
	if _, err := l.ProcessRequest(req, l.RemoteMaxDebt); err != nil {
		t.Fatalf("first ProcessRequest: %v", err)
	}
	if _, err := l.ProcessRequest(req, l.RemoteMaxDebt); err != ErrRequestAlreadyExists {
		t.Fatalf("expected ErrRequestAlreadyExists, got %v", err)
	}
}

func TestProcessRequestRejectsCyclicRoute(t *testing.T) {
	l := newTestLedger(1000, 1000)
	req := &wire.RequestSendFunds{
		RequestID: wire.RequestID{1},
		Route:     wire.Route{samplePK(1), samplePK(2), samplePK(1)},
	}
	if _, err := l.ProcessRequest(req, l.RemoteMaxDebt); err != ErrInvalidRoute {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
}

func TestProcessResponseVerifiesLockAndSignature(t *testing.T) {
	l := newTestLedger(1000, 1000)

	signer := idclient.NewLocalSigner([32]byte{7})

	var srcPlainLock [32]byte
	srcPlainLock[0] = 0x42
	srcHashed := wire.HashValue(sha256.Sum256(srcPlainLock[:]))

	pending := &PendingTransaction{
		RequestID:        wire.RequestID{5},
		Route:            sampleRoute(),
		DestPayment:      wire.Uint128{Lo: 100},
		TotalDestPayment: wire.Uint128{Lo: 110},
		LeftFees:         wire.Uint128{Lo: 10},
		SrcHashedLock:    srcHashed,
	}
	l.InsertPendingLocal(pending)
	l.LocalPendingDebt = wire.Uint128{Lo: 110}

	resp := &wire.ResponseSendFunds{
		RequestID:    pending.RequestID,
		SrcPlainLock: srcPlainLock,
		SerialNum:    wire.Uint128{Lo: 1},
	}
	canon, err := CanonicalizeResponse(l.Currency, resp, pending)
	if err != nil {
		t.Fatalf("CanonicalizeResponse: %v", err)
	}
	sig, err := signer.Sign(canon)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	resp.Signature = sig

	if err := l.ProcessResponse(resp, signer.PublicKey()); err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if !l.LocalPendingDebt.IsZero() {
		t.Fatalf("local pending debt = %+v, want zero", l.LocalPendingDebt)
	}
	if l.Balance.Neg != true || l.Balance.Mag.Lo != 110 {
		t.Fatalf("balance = %+v, want -110", l.Balance)
	}
	if _, ok := l.PendingLocal[pending.RequestID]; ok {
		t.Fatal("expected pending entry removed")
	}
	if !l.CheckInvariant() {
		t.Fatal("invariant I1 violated")
	}
}

func TestProcessResponseRejectsBadLock(t *testing.T) {
	l := newTestLedger(1000, 1000)
	pending := &PendingTransaction{
		RequestID:     wire.RequestID{5},
		SrcHashedLock: wire.HashValue{0xaa},
	}
	l.InsertPendingLocal(pending)

	resp := &wire.ResponseSendFunds{RequestID: pending.RequestID}
	if err := l.ProcessResponse(resp, samplePK(1)); err != ErrInvalidSrcPlainLock {
		t.Fatalf("expected ErrInvalidSrcPlainLock, got %v", err)
	}
}

func TestProcessCancelReturnsFreeze(t *testing.T) {
	l := newTestLedger(1000, 1000)
	pending := &PendingTransaction{
		RequestID:   wire.RequestID{9},
		DestPayment: wire.Uint128{Lo: 40},
		LeftFees:    wire.Uint128{Lo: 5},
	}
	l.InsertPendingLocal(pending)
	l.LocalPendingDebt = wire.Uint128{Lo: 45}

	if err := l.ProcessCancel(&wire.CancelSendFunds{RequestID: pending.RequestID}); err != nil {
		t.Fatalf("ProcessCancel: %v", err)
	}
	if !l.LocalPendingDebt.IsZero() {
		t.Fatalf("local pending debt = %+v, want zero", l.LocalPendingDebt)
	}
	if !l.Balance.Mag.IsZero() {
		t.Fatal("cancel must not change balance")
	}
}

func TestProcessCancelUnknownID(t *testing.T) {
	l := newTestLedger(1000, 1000)
	err := l.ProcessCancel(&wire.CancelSendFunds{RequestID: wire.RequestID{1}})
	if err != ErrRequestDoesNotExist {
		t.Fatalf("expected ErrRequestDoesNotExist, got %v", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	l := newTestLedger(1000, 1000)
	l.InsertPendingLocal(&PendingTransaction{RequestID: wire.RequestID{1}, DestPayment: wire.Uint128{Lo: 1}})

	clone := l.Clone()
	clone.LocalPendingDebt = wire.Uint128{Lo: 999}
	delete(clone.PendingLocal, wire.RequestID{1})

	if l.LocalPendingDebt.Lo != 0 {
		t.Fatal("mutating clone must not affect original")
	}
	if _, ok := l.PendingLocal[wire.RequestID{1}]; !ok {
		t.Fatal("mutating clone's map must not affect original's map")
	}
}
