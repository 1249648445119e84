// Package main is creditnode's entry point: it loads configuration, opens
// the on-disk store, and wires the C1-C5 components (ledger, token channel,
// router, transport, capacity graph) together into a running node, the same
// construction-order role cmd/lnd/main.go and daemon/lnd.go play for the
// teacher repo. This module has no RPC surface (spec.md's Non-goals exclude
// a wallet/user-facing API); the wiring here stops at the router, payment
// registry, and a TCP listen/dial loop for the encrypted transport.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshcredit/creditnode/build"
	"github.com/meshcredit/creditnode/graph"
	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/indexclient"
	"github.com/meshcredit/creditnode/payment"
	"github.com/meshcredit/creditnode/router"
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/timerclient"
	"github.com/meshcredit/creditnode/transport"
	"github.com/meshcredit/creditnode/wire"
)

var log = build.NewSubLogger("CRDN")

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := build.InitLogRotator(cfg.logPath(), defaultMaxLogFileSize, defaultMaxLogFiles); err != nil {
		return fmt.Errorf("creditnode: init log rotator: %w", err)
	}

	db, err := store.Open(cfg.dbPath())
	if err != nil {
		return fmt.Errorf("creditnode: open store: %w", err)
	}

	signer, err := loadOrCreateSigner(cfg.seedPath())
	if err != nil {
		return fmt.Errorf("creditnode: load identity: %w", err)
	}
	log.Infof("node public key %x", signer.PublicKey())

	rand := systemRand{}
	timer := timerclient.NewProductionTimer(cfg.TickMS)
	defer timer.Stop()

	graphSvc := graph.NewService()
	graphClient := graph.NewClient(graphSvc)

	index := indexclient.NewClient(signer.PublicKey(), graphClient, timer, nil, cfg.IndexTimeoutTicks)
	if len(cfg.IndexServers) > 0 {
		log.Warnf("%d index server(s) configured but dialing them is not wired up yet; "+
			"this node will only learn capacity from its own friends", len(cfg.IndexServers))
	}

	transportMgr := transport.NewManager()
	payments := payment.NewRegistry(nil, rand, signer)

	r := router.New(signer.PublicKey(), signer, db, transportMgr, index, rand, timer, payments)
	payments.SetRouter(r)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go graphSvc.Run(ctx)
	go index.Run(ctx)
	go r.Run(ctx)
	go payments.Run()
	defer payments.Stop()
	defer index.Stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("creditnode: listen: %w", err)
	}
	defer listener.Close()
	log.Infof("listening on %s", cfg.ListenAddress)

	go acceptLoop(ctx, listener, signer, rand, transportMgr, r, cfg.KeepaliveTicks, cfg.TicksToRekey)
	go tickTransport(ctx, timer, transportMgr)

	for _, fc := range cfg.Friends {
		pk, relays, err := parseFriendConfig(fc)
		if err != nil {
			return fmt.Errorf("creditnode: friend config: %w", err)
		}
		if err := r.AddFriend(ctx, pk, relays); err != nil {
			return fmt.Errorf("creditnode: add friend %x: %w", pk, err)
		}
		dialRelays(ctx, relays, pk, signer, rand, transportMgr, r, cfg.KeepaliveTicks, cfg.TicksToRekey)
	}

	recs, err := db.LoadAllFriends()
	if err != nil {
		return fmt.Errorf("creditnode: load friends: %w", err)
	}
	configured := make(map[wire.PublicKey]bool, len(cfg.Friends))
	for _, fc := range cfg.Friends {
		if pk, _, err := parseFriendConfig(fc); err == nil {
			configured[pk] = true
		}
	}
	for _, rec := range recs {
		if configured[rec.PublicKey] {
			continue
		}
		if err := r.AddFriend(ctx, rec.PublicKey, rec.Relays); err != nil {
			log.Warnf("re-adding persisted friend %x: %v", rec.PublicKey, err)
			continue
		}
		dialRelays(ctx, rec.Relays, rec.PublicKey, signer, rand, transportMgr, r, cfg.KeepaliveTicks, cfg.TicksToRekey)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	log.Infof("shutting down")
	return nil
}

// loadOrCreateSigner reads a persisted 32-byte identity seed from path,
// generating and writing one on first run. The seed is this node's only
// secret; idclient.LocalSigner derives the keypair from it deterministically
// (spec.md §6's identity service, reduced here to the module's sole
// concrete implementation rather than a separate signing process).
func loadOrCreateSigner(path string) (*idclient.LocalSigner, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0600)
	if err == nil {
		defer f.Close()
		var seed [32]byte
		if _, err := io.ReadFull(f, seed[:]); err != nil {
			return nil, err
		}
		return idclient.NewLocalSigner(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	seed := systemRand{}.Random32()
	if err := os.WriteFile(path, seed[:], 0600); err != nil {
		return nil, err
	}
	return idclient.NewLocalSigner(seed), nil
}

func parseFriendConfig(fc friendConfig) (wire.PublicKey, []wire.Relay, error) {
	raw, err := hex.DecodeString(fc.PublicKey)
	if err != nil {
		return wire.PublicKey{}, nil, fmt.Errorf("invalid pubkey %q: %w", fc.PublicKey, err)
	}
	var pk wire.PublicKey
	if len(raw) != len(pk) {
		return wire.PublicKey{}, nil, fmt.Errorf("pubkey %q has wrong length", fc.PublicKey)
	}
	copy(pk[:], raw)

	relays := make([]wire.Relay, len(fc.Relays))
	for i, addr := range fc.Relays {
		relays[i] = wire.Relay{PublicKey: pk, Address: addr}
	}
	return pk, relays, nil
}

// acceptLoop accepts inbound connections and runs each through the
// responder side of the handshake, mirroring daemon/lnd.go's
// listen-then-handshake-per-connection loop at this module's much smaller
// scale (one encrypted stream per friend instead of a gRPC/REST surface).
func acceptLoop(ctx context.Context, listener net.Listener, signer idclient.Client, rnd systemRand, mgr *transport.Manager, r *router.Router, keepaliveTicks, ticksToRekey uint32) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Errorf("accept: %v", err)
				continue
			}
		}
		go handleConn(conn, conn, signer, rnd, mgr, r, nil, keepaliveTicks, ticksToRekey, transport.RoleResponder)
	}
}

// handleConn runs the handshake over conn (role depending on which side
// dialed) and, on success, registers the resulting Peer with mgr, marks the
// friend online in r's liveness table, and runs its read loop until the
// connection drops.
func handleConn(conn net.Conn, closer io.Closer, signer idclient.Client, rnd transport.RandSource, mgr *transport.Manager, r *router.Router, expectedRemote *wire.PublicKey, keepaliveTicks, ticksToRekey uint32, role transport.Role) {
	session, err := transport.Handshake(conn, role, signer, rnd, expectedRemote, ticksToRekey)
	if err != nil {
		log.Warnf("handshake failed: %v", err)
		closer.Close()
		return
	}

	peer := transport.NewPeer(conn, closer, session, r, keepaliveTicks)
	mgr.AddPeer(peer)
	r.SetOnline(peer.RemotePublicKey, true)
	log.Infof("friend %x connected", peer.RemotePublicKey)

	if err := peer.ReadLoop(); err != nil {
		log.Infof("friend %x disconnected: %v", peer.RemotePublicKey, err)
	}
	mgr.RemovePeer(peer.RemotePublicKey, peer)
	r.SetOnline(peer.RemotePublicKey, false)
}

// dialFriend opens an outbound connection to a known friend at addr and
// registers it with mgr once the handshake completes.
func dialFriend(ctx context.Context, addr string, remotePK wire.PublicKey, signer idclient.Client, rnd transport.RandSource, mgr *transport.Manager, r *router.Router, keepaliveTicks, ticksToRekey uint32) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	go handleConn(conn, conn, signer, rnd, mgr, r, &remotePK, keepaliveTicks, ticksToRekey, transport.RoleInitiator)
	return nil
}

// dialRelays tries each of a freshly added friend's relay addresses in
// order, stopping at the first successful dial; a friend with no reachable
// relay simply stays offline until it dials in, or until a future reconnect
// loop retries (spec.md's liveness model tolerates an offline friend
// indefinitely).
func dialRelays(ctx context.Context, relays []wire.Relay, pk wire.PublicKey, signer idclient.Client, rnd transport.RandSource, mgr *transport.Manager, r *router.Router, keepaliveTicks, ticksToRekey uint32) {
	for _, relay := range relays {
		if err := dialFriend(ctx, relay.Address, pk, signer, rnd, mgr, r, keepaliveTicks, ticksToRekey); err != nil {
			log.Debugf("dial friend %x at %s: %v", pk, relay.Address, err)
			continue
		}
		return
	}
}

func tickTransport(ctx context.Context, timer timerclient.Client, mgr *transport.Manager) {
	ticks := timer.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			mgr.Tick()
		}
	}
}
