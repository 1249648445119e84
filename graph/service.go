package graph

import (
	"context"

	"github.com/meshcredit/creditnode/wire"
)

// requestKind tags which operation a request carries, mirroring spec.md
// §4.5's GraphRequest union (UpdateEdge/RemoveEdge/RemoveNode/
// GetMultiRoutes/Tick).
type requestKind int

const (
	reqUpdateEdge requestKind = iota
	reqRemoveEdge
	reqRemoveNode
	reqGetRoutes
	reqTick
)

// request is one call into the actor, carrying every field any request
// kind might need plus a reply channel sized 1. The actor sends its reply
// without a select, so the buffer is what lets that send complete even
// when the caller has already stopped waiting on its ctx.
type request struct {
	kind     requestKind
	currency wire.Currency
	a, b     wire.PublicKey
	edge     CapacityEdge
	capacity wire.Uint128
	exclude  *DirectedEdge
	reply    chan response
}

type response struct {
	oldEdge *CapacityEdge
	routes  []Route
	err     error
}

// Service is the capacity-graph actor (spec.md §4.5): a single goroutine
// owns every currency's CapacityGraph, processing requests one at a time so
// mutations and route searches always observe a consistent snapshot. Route
// searches offload their BFS work to CapacityGraph.GetRoutes' errgroup-based
// sub-search, a "dedicated executor distinct from the request-accepting
// executor" in spec.md's words; Run blocks on that computation before
// accepting the next request, preserving per-request serial semantics
// while the CPU-heavy part runs off the accept loop's own stack frame.
type Service struct {
	requests chan request
	graphs   map[wire.Currency]*CapacityGraph
}

// NewService returns a Service whose Run loop has not yet been started.
func NewService() *Service {
	return &Service{
		requests: make(chan request),
		graphs:   make(map[wire.Currency]*CapacityGraph),
	}
}

// Run drives the actor loop until ctx is cancelled, per spec.md §5's
// "dropping a task aborts it immediately" cancellation model.
func (s *Service) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.requests:
			s.handle(req)
		}
	}
}

func (s *Service) handle(req request) {
	switch req.kind {
	case reqUpdateEdge:
		g := s.graphFor(req.currency)
		old, _ := g.UpdateEdge(req.a, req.b, req.edge)
		req.reply <- response{oldEdge: old}
	case reqRemoveEdge:
		g, ok := s.graphs[req.currency]
		if !ok {
			req.reply <- response{}
			return
		}
		old, _ := g.RemoveEdge(req.a, req.b)
		req.reply <- response{oldEdge: old}
	case reqRemoveNode:
		for _, g := range s.graphs {
			g.RemoveNode(req.a)
		}
		req.reply <- response{}
	case reqGetRoutes:
		g, ok := s.graphs[req.currency]
		if !ok {
			req.reply <- response{}
			return
		}
		routes, err := g.GetRoutes(req.a, req.b, req.capacity, req.exclude)
		req.reply <- response{routes: routes, err: err}
	case reqTick:
		for _, g := range s.graphs {
			g.Tick(req.a)
		}
		req.reply <- response{}
	}
}

func (s *Service) graphFor(currency wire.Currency) *CapacityGraph {
	g, ok := s.graphs[currency]
	if !ok {
		g = NewCapacityGraph()
		s.graphs[currency] = g
	}
	return g
}

// Client is the Service's request/response handle; every collaborator
// (indexclient's mutation-flood consumer, the route-request server) holds
// one. Safe for concurrent use by many callers — only Service.Run ever
// touches the graphs themselves.
type Client struct {
	requests chan<- request
}

// NewClient returns a Client bound to s.
func NewClient(s *Service) *Client {
	return &Client{requests: s.requests}
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// UpdateEdge adds or replaces the directed edge a→b in currency's graph.
func (c *Client) UpdateEdge(ctx context.Context, currency wire.Currency, a, b wire.PublicKey, edge CapacityEdge) (*CapacityEdge, error) {
	resp, err := c.call(ctx, request{kind: reqUpdateEdge, currency: currency, a: a, b: b, edge: edge})
	if err != nil {
		return nil, err
	}
	return resp.oldEdge, nil
}

// RemoveEdge drops the directed edge a→b from currency's graph, if present.
func (c *Client) RemoveEdge(ctx context.Context, currency wire.Currency, a, b wire.PublicKey) (*CapacityEdge, error) {
	resp, err := c.call(ctx, request{kind: reqRemoveEdge, currency: currency, a: a, b: b})
	if err != nil {
		return nil, err
	}
	return resp.oldEdge, nil
}

// RemoveNode drops a and its outgoing edges from every currency's graph.
func (c *Client) RemoveNode(ctx context.Context, a wire.PublicKey) error {
	_, err := c.call(ctx, request{kind: reqRemoveNode, a: a})
	return err
}

// GetRoutes searches currency's graph for a route from a to b with at
// least capacity send-capacity on every hop, optionally excluding one
// directed edge.
func (c *Client) GetRoutes(ctx context.Context, currency wire.Currency, a, b wire.PublicKey, capacity wire.Uint128, exclude *DirectedEdge) ([]Route, error) {
	resp, err := c.call(ctx, request{kind: reqGetRoutes, currency: currency, a: a, b: b, capacity: capacity, exclude: exclude})
	if err != nil {
		return nil, err
	}
	return resp.routes, resp.err
}

// Tick ages every currency's outgoing edges of a by one tick.
func (c *Client) Tick(ctx context.Context, a wire.PublicKey) error {
	_, err := c.call(ctx, request{kind: reqTick, a: a})
	return err
}
