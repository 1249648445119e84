package tokenchannel

import (
	"testing"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/wire"
)

func newPair(t *testing.T) (a, b *Channel, signerA, signerB *idclient.LocalSigner) {
	t.Helper()
	signerA = idclient.NewLocalSigner([32]byte{1})
	signerB = idclient.NewLocalSigner([32]byte{2})
	pkA, pkB := signerA.PublicKey(), signerB.PublicKey()

	a = New(pkA, pkB, signerA)
	b = New(pkB, pkA, signerB)
	if a.Direction == b.Direction {
		t.Fatal("initial tie-break must give the two sides opposite directions")
	}
	return a, b, signerA, signerB
}

// senderFirst returns whichever of a/b starts in DirectionIn (may send
// first).
func senderFirst(a, b *Channel) (sender, receiver *Channel) {
	if a.Direction == DirectionIn {
		return a, b
	}
	return b, a
}

func TestHandshakeFirstMessageAccepted(t *testing.T) {
	a, b, _, _ := newPair(t)
	sender, receiver := senderFirst(a, b)

	mt, _, err := sender.HandleOutMoveToken(map[wire.Currency][]wire.Operation{}, nil, wire.Nonce{1})
	if err != nil {
		t.Fatalf("HandleOutMoveToken: %v", err)
	}

	result, err := receiver.HandleInMoveToken(mt)
	if err != nil {
		t.Fatalf("HandleInMoveToken: %v", err)
	}
	if result.Kind != HandleInReceived {
		t.Fatalf("expected HandleInReceived, got %v", result.Kind)
	}
	if receiver.Direction != DirectionIn {
		t.Fatalf("receiver direction = %v, want DirectionIn", receiver.Direction)
	}
}

func TestHandleOutRequiresHoldingToken(t *testing.T) {
	a, b, _, _ := newPair(t)
	_, receiver := senderFirst(a, b)

	_, _, err := receiver.HandleOutMoveToken(nil, nil, wire.Nonce{})
	if err != ErrWrongDirection {
		t.Fatalf("expected ErrWrongDirection, got %v", err)
	}
}

func TestDuplicateMoveTokenDetected(t *testing.T) {
	a, b, _, _ := newPair(t)
	sender, receiver := senderFirst(a, b)

	mt, _, err := sender.HandleOutMoveToken(map[wire.Currency][]wire.Operation{}, nil, wire.Nonce{1})
	if err != nil {
		t.Fatalf("HandleOutMoveToken: %v", err)
	}
	if _, err := receiver.HandleInMoveToken(mt); err != nil {
		t.Fatalf("first HandleInMoveToken: %v", err)
	}

	// Resend the exact same move token (sender never saw the transition).
	result, err := receiver.HandleInMoveToken(mt)
	if err != nil {
		t.Fatalf("second HandleInMoveToken: %v", err)
	}
	if result.Kind != HandleInDuplicate {
		t.Fatalf("expected HandleInDuplicate, got %v", result.Kind)
	}
}

func TestForgedSignatureIsInconsistent(t *testing.T) {
	a, b, _, _ := newPair(t)
	sender, receiver := senderFirst(a, b)

	mt, _, err := sender.HandleOutMoveToken(map[wire.Currency][]wire.Operation{}, nil, wire.Nonce{1})
	if err != nil {
		t.Fatalf("HandleOutMoveToken: %v", err)
	}
	mt.Signature[0] ^= 0xff

	result, err := receiver.HandleInMoveToken(mt)
	if err != nil {
		t.Fatalf("HandleInMoveToken: %v", err)
	}
	if result.Kind != HandleInChainInconsistent {
		t.Fatalf("expected HandleInChainInconsistent, got %v", result.Kind)
	}
	if receiver.Direction != DirectionInconsistent {
		t.Fatalf("receiver direction = %v, want DirectionInconsistent", receiver.Direction)
	}
}

func TestRequestBatchForwardsAndPersists(t *testing.T) {
	a, b, _, _ := newPair(t)
	sender, receiver := senderFirst(a, b)

	sender.ledgerFor("FakeCoin").RemoteMaxDebt = wire.Uint128{Lo: 1000}
	receiver.ledgerFor("FakeCoin").RemoteMaxDebt = wire.Uint128{Lo: 1000}

	req := &wire.RequestSendFunds{
		RequestID:        wire.RequestID{1},
		Route:            wire.Route{sender.LocalPublicKey, receiver.LocalPublicKey},
		DestPayment:      wire.Uint128{Lo: 50},
		TotalDestPayment: wire.Uint128{Lo: 50},
	}
	mt, _, err := sender.HandleOutMoveToken(
		map[wire.Currency][]wire.Operation{"FakeCoin": {req}}, nil, wire.Nonce{2},
	)
	if err != nil {
		t.Fatalf("HandleOutMoveToken: %v", err)
	}

	result, err := receiver.HandleInMoveToken(mt)
	if err != nil {
		t.Fatalf("HandleInMoveToken: %v", err)
	}
	if result.Kind != HandleInReceived {
		t.Fatalf("expected HandleInReceived, got %v", result.Kind)
	}
	msgs := result.IncomingMessages["FakeCoin"]
	if len(msgs) != 1 || msgs[0].Kind != IncomingRequest {
		t.Fatalf("expected one IncomingRequest, got %+v", msgs)
	}
	if len(result.Mutations) == 0 {
		t.Fatal("expected persisted mutations for the accepted batch")
	}
}
