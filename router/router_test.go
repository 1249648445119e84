package router

import (
	"context"
	"testing"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/timerclient"
	"github.com/meshcredit/creditnode/tokenchannel"
	"github.com/meshcredit/creditnode/wire"
)

type memStore struct{}

func (memStore) ApplyMutations(ctx context.Context, batch []store.NodeMutation) error { return nil }
func (memStore) LoadFriend(pk wire.PublicKey) (*store.FriendRecord, error) {
	return nil, store.ErrNotFound
}
func (memStore) LoadAllFriends() ([]*store.FriendRecord, error) { return nil, nil }

var _ store.DatabaseClient = memStore{}

// fakeTransport queues messages per recipient instead of delivering them
// inline, so a test can pump the network deterministically without risking
// two Routers' mutexes deadlocking on a synchronous call chain.
type fakeTransport struct {
	outbox map[wire.PublicKey][]wire.FriendMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{outbox: make(map[wire.PublicKey][]wire.FriendMessage)}
}

func (t *fakeTransport) Send(pk wire.PublicKey, msg wire.FriendMessage) error {
	t.outbox[pk] = append(t.outbox[pk], msg)
	return nil
}

func (t *fakeTransport) pop(pk wire.PublicKey) (wire.FriendMessage, bool) {
	q := t.outbox[pk]
	if len(q) == 0 {
		return nil, false
	}
	t.outbox[pk] = q[1:]
	return q[0], true
}

type fakeIndex struct{ mutations []IndexMutation }

func (i *fakeIndex) Publish(m IndexMutation) { i.mutations = append(i.mutations, m) }

type seqNonce struct{ n byte }

func (s *seqNonce) Nonce() wire.Nonce {
	s.n++
	return wire.Nonce{s.n}
}

type recordingPayments struct {
	incoming []*wire.RequestSendFunds
}

func (p *recordingPayments) IncomingPayment(currency wire.Currency, req *wire.RequestSendFunds) {
	p.incoming = append(p.incoming, req)
}
func (p *recordingPayments) PaymentResponse(wire.Currency, *wire.ResponseSendFunds) {}
func (p *recordingPayments) PaymentCancelled(wire.Currency, *wire.CancelSendFunds)  {}

func newTestRouter(t *testing.T, seed byte, transport Transport, payments PaymentSink) (*Router, wire.PublicKey) {
	t.Helper()
	signer := idclient.NewLocalSigner([32]byte{seed})
	r := New(
		signer.PublicKey(),
		signer,
		memStore{},
		transport,
		&fakeIndex{},
		&seqNonce{},
		timerclient.NewManualTimer(100),
		payments,
	)
	return r, signer.PublicKey()
}

func TestAddFriendRejectsDuplicate(t *testing.T) {
	transport := newFakeTransport()
	r, _ := newTestRouter(t, 1, transport, nil)
	other, _ := newTestRouter(t, 2, transport, nil)

	if err := r.AddFriend(context.Background(), wire.PublicKey{9}, nil); err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	if err := r.AddFriend(context.Background(), wire.PublicKey{9}, nil); err != ErrFriendExists {
		t.Fatalf("expected ErrFriendExists, got %v", err)
	}
	_ = other
}

func TestRemoveFriendRequiresDisabled(t *testing.T) {
	transport := newFakeTransport()
	r, _ := newTestRouter(t, 1, transport, nil)

	pk := wire.PublicKey{9}
	if err := r.AddFriend(context.Background(), pk, nil); err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	if err := r.SetFriendEnabled(context.Background(), pk, true); err != nil {
		t.Fatalf("SetFriendEnabled: %v", err)
	}
	if err := r.RemoveFriend(context.Background(), pk); err != ErrFriendStillEnabled {
		t.Fatalf("expected ErrFriendStillEnabled, got %v", err)
	}
	if err := r.SetFriendEnabled(context.Background(), pk, false); err != nil {
		t.Fatalf("SetFriendEnabled: %v", err)
	}
	if err := r.RemoveFriend(context.Background(), pk); err != nil {
		t.Fatalf("RemoveFriend: %v", err)
	}
}

// TestSendPaymentDeliversToFinalHop wires two routers as direct friends and
// drives a single-hop payment end to end: SendPayment on the token-holding
// side enqueues and flushes a RequestSendFunds, the peer's dispatch applies
// it through C1/C2 and, finding itself the route's final hop, hands it to
// its PaymentSink.
func TestSendPaymentDeliversToFinalHop(t *testing.T) {
	transport := newFakeTransport()
	paymentsA := &recordingPayments{}
	paymentsB := &recordingPayments{}
	routerA, pkA := newTestRouter(t, 1, transport, paymentsA)
	routerB, pkB := newTestRouter(t, 2, transport, paymentsB)

	if err := routerA.AddFriend(context.Background(), pkB, nil); err != nil {
		t.Fatalf("A.AddFriend: %v", err)
	}
	if err := routerB.AddFriend(context.Background(), pkA, nil); err != nil {
		t.Fatalf("B.AddFriend: %v", err)
	}
	if err := routerA.SetFriendEnabled(context.Background(), pkB, true); err != nil {
		t.Fatalf("A.SetFriendEnabled: %v", err)
	}
	if err := routerB.SetFriendEnabled(context.Background(), pkA, true); err != nil {
		t.Fatalf("B.SetFriendEnabled: %v", err)
	}
	routerA.SetOnline(pkB, true)
	routerB.SetOnline(pkA, true)

	friendA := routerA.friends[pkB]
	friendB := routerB.friends[pkA]

	var holder, peer *Router
	var holderFriend, peerFriend *Friend
	var holderPK, peerPK wire.PublicKey
	if friendA.Channel.Direction == tokenchannel.DirectionIn {
		holder, holderFriend, holderPK = routerA, friendA, pkA
		peer, peerFriend, peerPK = routerB, friendB, pkB
	} else {
		holder, holderFriend, holderPK = routerB, friendB, pkB
		peer, peerFriend, peerPK = routerA, friendA, pkA
	}
	_ = holderFriend

	// The final hop's own ledger (keyed by the sender as remote) must grant
	// enough RemoteMaxDebt for ProcessRequest's invariant check to pass;
	// this is the exact field applyOperation reads (l.ProcessRequest(o,
	// l.RemoteMaxDebt)), set directly here rather than through any
	// generation-crossed proxy field.
	peerFriend.Channel.Ledger("FakeCoin").RemoteMaxDebt = wire.Uint128{Lo: 1000}

	req := &wire.RequestSendFunds{
		RequestID:        wire.RequestID{7},
		Route:            wire.Route{holderPK, peerPK},
		DestPayment:      wire.Uint128{Lo: 25},
		TotalDestPayment: wire.Uint128{Lo: 25},
	}
	if err := holder.SendPayment("FakeCoin", req); err != nil {
		t.Fatalf("SendPayment: %v", err)
	}

	msg, ok := transport.pop(peerPK)
	if !ok {
		t.Fatal("expected holder to flush a MoveTokenRequest to peer")
	}
	mtReq, ok := msg.(wire.MoveTokenRequest)
	if !ok {
		t.Fatalf("expected wire.MoveTokenRequest, got %T", msg)
	}

	if err := peer.HandleMoveTokenRequest(holderPK, mtReq); err != nil {
		t.Fatalf("peer.HandleMoveTokenRequest: %v", err)
	}

	var sink *recordingPayments
	if peer == routerA {
		sink = paymentsA
	} else {
		sink = paymentsB
	}
	if len(sink.incoming) != 1 {
		t.Fatalf("expected 1 incoming payment delivered, got %d", len(sink.incoming))
	}
	if sink.incoming[0].RequestID != req.RequestID {
		t.Fatalf("request id mismatch: got %v want %v", sink.incoming[0].RequestID, req.RequestID)
	}
}

func TestNextHopOf(t *testing.T) {
	a, b, c := wire.PublicKey{1}, wire.PublicKey{2}, wire.PublicKey{3}
	route := wire.Route{a, b, c}

	next, isFinal := nextHopOf(route, a)
	if isFinal || next == nil || *next != b {
		t.Fatalf("expected next=b, got next=%v isFinal=%v", next, isFinal)
	}

	next, isFinal = nextHopOf(route, c)
	if !isFinal || next != nil {
		t.Fatalf("expected isFinal for route's last hop, got next=%v isFinal=%v", next, isFinal)
	}

	next, isFinal = nextHopOf(route, wire.PublicKey{9})
	if isFinal || next != nil {
		t.Fatalf("expected (nil,false) for a key absent from route, got next=%v isFinal=%v", next, isFinal)
	}
}
