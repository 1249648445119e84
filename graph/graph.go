// Package graph implements the capacity graph service (spec.md §4.5, C5):
// a per-currency directed graph of advertised send/recv capacities, BFS
// route search with optional edge exclusion, and per-edge aging, all served
// through a single-writer actor (service.go) so concurrent readers observe
// a consistent snapshot.
//
// Grounded on original_source/components/index_server/src/graph/
// simple_capacity_graph.rs for the edge-aging and BFS route-search
// semantics, and on routing/pathfind_test.go's load-a-graph-then-assert-route
// contract for test shape — though pathfind_test.go's own fixtures (HTLC
// fees, onion hops, channel proofs) don't transfer: this graph has no fees
// or hop payloads, only directed send-capacity edges.
package graph

import (
	"bytes"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/meshcredit/creditnode/wire"
)

// CapacityEdge is one directed edge's advertised capacities (spec.md §4:
// "a (send_capacity, recv_capacity, rate) triple").
type CapacityEdge struct {
	SendCapacity wire.Uint128
	RecvCapacity wire.Uint128
	Rate         wire.Uint128
}

// baseMaxEdgeAge is the floor added to 3×out-degree for spec.md §4.5's
// coupon-collector eviction bound, generous enough that a just-built graph
// with few edges per node isn't immediately pruned.
const baseMaxEdgeAge = 16

func maxEdgeAge(outDegree int) uint32 {
	return baseMaxEdgeAge + 3*uint32(outDegree)
}

type agingEdge struct {
	capacity CapacityEdge
	age      uint32
}

type nodeEdges struct {
	edges map[wire.PublicKey]*agingEdge
}

func newNodeEdges() *nodeEdges {
	return &nodeEdges{edges: make(map[wire.PublicKey]*agingEdge)}
}

func (n *nodeEdges) tick() {
	limit := maxEdgeAge(len(n.edges))
	for to, e := range n.edges {
		e.age++
		if e.age >= limit {
			delete(n.edges, to)
		}
	}
}

// DirectedEdge names one directed edge, used to exclude it from a route
// search (spec.md §4.5: "skipping one directed edge").
type DirectedEdge struct {
	From, To wire.PublicKey
}

// Route is a discovered path from src to dst plus the bottleneck send
// capacity available along it.
type Route struct {
	Hops     []wire.PublicKey
	Capacity wire.Uint128
}

// CapacityGraph is one currency's directed capacity graph. Every method
// assumes single-writer access (service.go's actor loop is the only owner);
// the type itself holds no lock.
type CapacityGraph struct {
	nodes map[wire.PublicKey]*nodeEdges
}

// NewCapacityGraph returns an empty graph.
func NewCapacityGraph() *CapacityGraph {
	return &CapacityGraph{nodes: make(map[wire.PublicKey]*nodeEdges)}
}

// UpdateEdge adds or replaces the directed edge a→b, resetting its age to
// zero, and returns the capacities it replaced, if any.
func (g *CapacityGraph) UpdateEdge(a, b wire.PublicKey, edge CapacityEdge) (old *CapacityEdge, hadOld bool) {
	n, ok := g.nodes[a]
	if !ok {
		n = newNodeEdges()
		g.nodes[a] = n
	}
	if prev, ok := n.edges[b]; ok {
		c := prev.capacity
		n.edges[b] = &agingEdge{capacity: edge}
		return &c, true
	}
	n.edges[b] = &agingEdge{capacity: edge}
	return nil, false
}

// RemoveEdge drops the directed edge a→b, if any, pruning node a from the
// graph entirely once it has no outgoing edges left.
func (g *CapacityGraph) RemoveEdge(a, b wire.PublicKey) (old *CapacityEdge, removed bool) {
	n, ok := g.nodes[a]
	if !ok {
		return nil, false
	}
	e, ok := n.edges[b]
	if !ok {
		return nil, false
	}
	delete(n.edges, b)
	if len(n.edges) == 0 {
		delete(g.nodes, a)
	}
	return &e.capacity, true
}

// RemoveNode drops a and every edge starting from it. Edges from other
// nodes pointing at a are left as-is (spec.md §4.5); they age out normally
// once a stops reporting itself as their neighbor.
func (g *CapacityGraph) RemoveNode(a wire.PublicKey) bool {
	if _, ok := g.nodes[a]; !ok {
		return false
	}
	delete(g.nodes, a)
	return true
}

// Tick ages every outgoing edge of a by one tick, expiring any edge that
// has crossed maxEdgeAge(out_degree(a)).
func (g *CapacityGraph) Tick(a wire.PublicKey) {
	if n, ok := g.nodes[a]; ok {
		n.tick()
	}
}

func (g *CapacityGraph) edge(a, b wire.PublicKey) (CapacityEdge, bool) {
	n, ok := g.nodes[a]
	if !ok {
		return CapacityEdge{}, false
	}
	e, ok := n.edges[b]
	if !ok {
		return CapacityEdge{}, false
	}
	return e.capacity, true
}

// sendCapacity is spec.md §4: "send capacity on edge (A→B) equals
// min(A's reported send, B's reported recv)". Both directions must be
// advertised or the capacity is zero (a one-sided report can't be trusted
// to actually move funds).
func (g *CapacityGraph) sendCapacity(a, b wire.PublicKey) wire.Uint128 {
	ab, ok := g.edge(a, b)
	if !ok {
		return wire.ZeroUint128
	}
	ba, ok := g.edge(b, a)
	if !ok {
		return wire.ZeroUint128
	}
	if ab.SendCapacity.Cmp(ba.RecvCapacity) <= 0 {
		return ab.SendCapacity
	}
	return ba.RecvCapacity
}

// sortedNeighbors returns a's outgoing neighbors with at least minCapacity
// of send capacity toward them, ordered by public key so BFS traversal (and
// therefore the discovered route, on a tie) is deterministic regardless of
// Go's randomized map iteration order.
func (g *CapacityGraph) sortedNeighbors(a wire.PublicKey, minCapacity wire.Uint128, exclude *DirectedEdge) []wire.PublicKey {
	n, ok := g.nodes[a]
	if !ok {
		return nil
	}
	out := make([]wire.PublicKey, 0, len(n.edges))
	for b := range n.edges {
		if exclude != nil && a == exclude.From && b == exclude.To {
			continue
		}
		if g.sendCapacity(a, b).Cmp(minCapacity) < 0 {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// routeCapacity is the minimum send capacity across every hop of route.
func (g *CapacityGraph) routeCapacity(route []wire.PublicKey) wire.Uint128 {
	if len(route) < 2 {
		return wire.ZeroUint128
	}
	min := g.sendCapacity(route[0], route[1])
	for i := 1; i < len(route)-1; i++ {
		c := g.sendCapacity(route[i], route[i+1])
		if c.Cmp(min) < 0 {
			min = c
		}
	}
	return min
}

// bfsFrom runs plain BFS from start to dst, deterministic via
// sortedNeighbors, returning the hop sequence start..dst (inclusive) if
// found. preVisited marks nodes (typically the search's true origin) that
// must not be re-entered, for GetRoutes' per-neighbor parallel sub-searches
// below.
func (g *CapacityGraph) bfsFrom(start, dst wire.PublicKey, minCapacity wire.Uint128, exclude *DirectedEdge, preVisited ...wire.PublicKey) ([]wire.PublicKey, bool) {
	if start == dst {
		return []wire.PublicKey{start}, true
	}
	visited := map[wire.PublicKey]bool{start: true}
	for _, v := range preVisited {
		visited[v] = true
	}
	prev := map[wire.PublicKey]wire.PublicKey{}
	queue := []wire.PublicKey{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.sortedNeighbors(cur, minCapacity, exclude) {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur
			if next == dst {
				return reconstructPath(prev, start, dst), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func reconstructPath(prev map[wire.PublicKey]wire.PublicKey, start, dst wire.PublicKey) []wire.PublicKey {
	path := []wire.PublicKey{dst}
	for path[0] != start {
		path = append([]wire.PublicKey{prev[path[0]]}, path...)
	}
	return path
}

// GetRoutes implements spec.md §4.5's GetMultiRoutes for this currency: a
// route from src to dst with at least minCapacity of send capacity on
// every hop, honoring an optional excluded directed edge. It returns at
// most one route (the routeLess-least of the per-neighbor searches below),
// but reports it as a slice since the request may legitimately yield zero.
//
// The search is split across src's neighbors — each explored as its own
// disjoint sub-graph search rooted one hop in — and run concurrently via
// errgroup, the "parallelise over disjoint sub-graphs" option spec.md §4.5
// explicitly allows. Because goroutine completion order isn't deterministic,
// the result is picked by shortest-route-then-lexicographic tie-break
// (routeLess) rather than "whichever finishes first", so the same snapshot
// always yields the same answer regardless of scheduling.
func (g *CapacityGraph) GetRoutes(src, dst wire.PublicKey, minCapacity wire.Uint128, exclude *DirectedEdge) ([]Route, error) {
	if src == dst {
		return nil, nil
	}
	neighbors := g.sortedNeighbors(src, minCapacity, exclude)
	if len(neighbors) == 0 {
		return nil, nil
	}

	found := make([][]wire.PublicKey, len(neighbors))
	var eg errgroup.Group
	for i, nb := range neighbors {
		i, nb := i, nb
		eg.Go(func() error {
			route, ok := g.bfsFrom(nb, dst, minCapacity, exclude, src)
			if ok {
				found[i] = append([]wire.PublicKey{src}, route...)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var best []wire.PublicKey
	for _, route := range found {
		if route == nil {
			continue
		}
		if best == nil || routeLess(route, best) {
			best = route
		}
	}
	if best == nil {
		return nil, nil
	}
	return []Route{{Hops: best, Capacity: g.routeCapacity(best)}}, nil
}

// routeLess orders routes by hop count, then lexicographically by hop
// public keys, giving GetRoutes' parallel sub-searches a deterministic tie
// break independent of goroutine completion order.
func routeLess(a, b []wire.PublicKey) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	for i := range a {
		if c := bytes.Compare(a[i][:], b[i][:]); c != 0 {
			return c < 0
		}
	}
	return false
}
