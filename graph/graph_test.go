package graph

import (
	"context"
	"testing"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/wire"
)

// node returns a deterministic, distinct public key for small test node
// numbers, standing in for spec.md's wire.PublicKey-keyed graph nodes the
// way example_capacity_graph() in simple_capacity_graph.rs uses plain u32s.
func node(n byte) wire.PublicKey {
	return idclient.NewLocalSigner([32]byte{n + 1}).PublicKey()
}

func u128(v uint64) wire.Uint128 {
	return wire.Uint128{Lo: v}
}

func TestSendCapacityBasic(t *testing.T) {
	g := NewCapacityGraph()
	a, b := node(0), node(1)
	g.UpdateEdge(a, b, CapacityEdge{SendCapacity: u128(10), RecvCapacity: u128(20)})
	g.UpdateEdge(b, a, CapacityEdge{SendCapacity: u128(15), RecvCapacity: u128(5)})

	if got := g.sendCapacity(a, b); got.Cmp(u128(5)) != 0 {
		t.Fatalf("sendCapacity(a,b) = %v, want 5", got)
	}
	if got := g.sendCapacity(b, a); got.Cmp(u128(15)) != 0 {
		t.Fatalf("sendCapacity(b,a) = %v, want 15", got)
	}
}

func TestSendCapacityOneSided(t *testing.T) {
	g := NewCapacityGraph()
	a, b := node(0), node(1)
	g.UpdateEdge(a, b, CapacityEdge{SendCapacity: u128(10), RecvCapacity: u128(20)})

	if got := g.sendCapacity(a, b); !got.IsZero() {
		t.Fatalf("sendCapacity(a,b) = %v, want 0 (no reverse report)", got)
	}
	if got := g.sendCapacity(b, a); !got.IsZero() {
		t.Fatalf("sendCapacity(b,a) = %v, want 0", got)
	}
}

func TestAddRemoveEdge(t *testing.T) {
	g := NewCapacityGraph()
	a, b := node(0), node(1)

	if _, removed := g.RemoveEdge(a, b); removed {
		t.Fatalf("RemoveEdge on empty graph reported removed")
	}
	g.UpdateEdge(a, b, CapacityEdge{SendCapacity: u128(10), RecvCapacity: u128(20)})
	if len(g.nodes) != 1 {
		t.Fatalf("len(nodes) = %d, want 1", len(g.nodes))
	}

	old, removed := g.RemoveEdge(a, b)
	if !removed || old.SendCapacity.Cmp(u128(10)) != 0 {
		t.Fatalf("RemoveEdge = %v, %v", old, removed)
	}
	if len(g.nodes) != 0 {
		t.Fatalf("len(nodes) = %d, want 0 after removing a's only edge", len(g.nodes))
	}

	g.UpdateEdge(a, b, CapacityEdge{SendCapacity: u128(10), RecvCapacity: u128(20)})
	g.RemoveNode(b)
	if len(g.nodes) != 1 {
		t.Fatalf("RemoveNode(b) should not touch a's outgoing edges")
	}
}

// exampleGraph reproduces simple_capacity_graph.rs's example_capacity_graph
// fixture:
//
//	0 --> 1 --> 2 --> 5
//	      |     ^
//	      V     |
//	      3 --> 4
func exampleGraph() (*CapacityGraph, [6]wire.PublicKey) {
	var n [6]wire.PublicKey
	for i := range n {
		n[i] = node(byte(i))
	}
	g := NewCapacityGraph()
	add := func(a, b int, send, recv uint64) {
		g.UpdateEdge(n[a], n[b], CapacityEdge{SendCapacity: u128(send), RecvCapacity: u128(recv)})
	}
	add(0, 1, 30, 10)
	add(1, 0, 10, 30)
	add(1, 2, 10, 10)
	add(2, 1, 10, 10)
	add(2, 5, 30, 5)
	add(5, 2, 5, 30)
	add(1, 3, 30, 8)
	add(3, 1, 8, 30)
	add(3, 4, 30, 6)
	add(4, 3, 6, 30)
	add(4, 2, 30, 18)
	add(2, 4, 18, 30)
	return g, n
}

func routeEquals(t *testing.T, got []Route, wantHops []wire.PublicKey, wantCapacity uint64) {
	t.Helper()
	if wantHops == nil {
		if len(got) != 0 {
			t.Fatalf("got %v routes, want none", got)
		}
		return
	}
	if len(got) != 1 {
		t.Fatalf("got %d routes, want 1", len(got))
	}
	if len(got[0].Hops) != len(wantHops) {
		t.Fatalf("got %d hops, want %d", len(got[0].Hops), len(wantHops))
	}
	for i, hop := range got[0].Hops {
		if hop != wantHops[i] {
			t.Fatalf("hop %d = %x, want %x", i, hop, wantHops[i])
		}
	}
	if got[0].Capacity.Cmp(u128(wantCapacity)) != 0 {
		t.Fatalf("capacity = %v, want %d", got[0].Capacity, wantCapacity)
	}
}

func TestGetRoutes(t *testing.T) {
	g, n := exampleGraph()

	routes, err := g.GetRoutes(n[2], n[5], u128(29), nil)
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	routeEquals(t, routes, []wire.PublicKey{n[2], n[5]}, 30)

	routes, _ = g.GetRoutes(n[2], n[5], u128(31), nil)
	routeEquals(t, routes, nil, 0)

	routes, _ = g.GetRoutes(n[0], n[5], u128(25), nil)
	routeEquals(t, routes, []wire.PublicKey{n[0], n[1], n[3], n[4], n[2], n[5]}, 30)

	// Block an essential edge: no route survives.
	routes, _ = g.GetRoutes(n[0], n[5], u128(25), &DirectedEdge{From: n[3], To: n[4]})
	routeEquals(t, routes, nil, 0)

	// Block the same edge reversed: original route is unaffected.
	routes, _ = g.GetRoutes(n[0], n[5], u128(25), &DirectedEdge{From: n[4], To: n[3]})
	routeEquals(t, routes, []wire.PublicKey{n[0], n[1], n[3], n[4], n[2], n[5]}, 30)

	// Block an edge the route doesn't use: unaffected.
	routes, _ = g.GetRoutes(n[0], n[5], u128(25), &DirectedEdge{From: n[1], To: n[2]})
	routeEquals(t, routes, []wire.PublicKey{n[0], n[1], n[3], n[4], n[2], n[5]}, 30)

	// Excluding 2->1 finds the loop back to 1 via 4,3 instead.
	routes, _ = g.GetRoutes(n[2], n[1], u128(6), &DirectedEdge{From: n[2], To: n[1]})
	routeEquals(t, routes, []wire.PublicKey{n[2], n[4], n[3], n[1]}, 6)

	// Requiring more capacity than that loop offers fails.
	routes, _ = g.GetRoutes(n[2], n[1], u128(7), &DirectedEdge{From: n[2], To: n[1]})
	routeEquals(t, routes, nil, 0)
}

func TestTickExpiresStaleEdges(t *testing.T) {
	g := NewCapacityGraph()
	a, b := node(0), node(1)
	c, d := node(2), node(3)
	g.UpdateEdge(a, b, CapacityEdge{SendCapacity: u128(30), RecvCapacity: u128(10)})
	g.UpdateEdge(b, a, CapacityEdge{SendCapacity: u128(10), RecvCapacity: u128(30)})
	g.UpdateEdge(c, d, CapacityEdge{SendCapacity: u128(30), RecvCapacity: u128(10)})
	g.UpdateEdge(d, c, CapacityEdge{SendCapacity: u128(10), RecvCapacity: u128(30)})

	routes, _ := g.GetRoutes(a, b, u128(30), nil)
	routeEquals(t, routes, []wire.PublicKey{a, b}, 30)

	limit := maxEdgeAge(1)
	for i := uint32(0); i < limit-1; i++ {
		g.Tick(a)
		routes, _ = g.GetRoutes(a, b, u128(30), nil)
		routeEquals(t, routes, []wire.PublicKey{a, b}, 30)
		routes, _ = g.GetRoutes(c, d, u128(30), nil)
		routeEquals(t, routes, []wire.PublicKey{c, d}, 30)
	}

	// a->b, a's only edge, has now crossed the age limit; c->d, never
	// ticked, hasn't.
	g.Tick(a)
	routes, _ = g.GetRoutes(a, b, u128(30), nil)
	routeEquals(t, routes, nil, 0)
	routes, _ = g.GetRoutes(c, d, u128(30), nil)
	routeEquals(t, routes, []wire.PublicKey{c, d}, 30)
}

func TestServiceRoundTrip(t *testing.T) {
	svc := NewService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	client := NewClient(svc)
	currency := wire.Currency("USD")
	a, b := node(0), node(1)

	if _, err := client.UpdateEdge(ctx, currency, a, b, CapacityEdge{SendCapacity: u128(5), RecvCapacity: u128(1)}); err != nil {
		t.Fatalf("UpdateEdge: %v", err)
	}
	if _, err := client.UpdateEdge(ctx, currency, b, a, CapacityEdge{SendCapacity: u128(1), RecvCapacity: u128(30)}); err != nil {
		t.Fatalf("UpdateEdge: %v", err)
	}

	routes, err := client.GetRoutes(ctx, currency, a, b, u128(5), nil)
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	routeEquals(t, routes, []wire.PublicKey{a, b}, 5)

	routes, err = client.GetRoutes(ctx, currency, a, b, u128(6), nil)
	if err != nil {
		t.Fatalf("GetRoutes: %v", err)
	}
	routeEquals(t, routes, nil, 0)

	if err := client.Tick(ctx, a); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	old, err := client.RemoveEdge(ctx, currency, a, b)
	if err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if old == nil || old.SendCapacity.Cmp(u128(5)) != 0 {
		t.Fatalf("RemoveEdge returned %v", old)
	}

	if err := client.RemoveNode(ctx, b); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
}
