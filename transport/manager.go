package transport

import (
	"sync"

	"github.com/meshcredit/creditnode/wire"
)

// Manager holds every friend's live Peer connection and implements
// router.Transport by looking one up per send. A Peer is bound to a single
// remote public key; Manager is the many-friends-at-once layer router.go
// actually talks to.
type Manager struct {
	mu    sync.Mutex
	peers map[wire.PublicKey]*Peer
}

// NewManager returns an empty Manager ready to have Peers added as
// connections complete their handshake.
func NewManager() *Manager {
	return &Manager{peers: make(map[wire.PublicKey]*Peer)}
}

// Send implements router.Transport.
func (m *Manager) Send(pk wire.PublicKey, msg wire.FriendMessage) error {
	m.mu.Lock()
	peer, ok := m.peers[pk]
	m.mu.Unlock()
	if !ok {
		// No live connection: not a local failure, the router's own
		// liveness table already reflects this friend as offline.
		return nil
	}
	return peer.Send(pk, msg)
}

// AddPeer registers a freshly handshaken connection, replacing and closing
// any prior connection to the same friend (a reconnect supersedes a stale
// one rather than racing it).
func (m *Manager) AddPeer(peer *Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.peers[peer.RemotePublicKey]; ok {
		_ = old.Close()
	}
	m.peers[peer.RemotePublicKey] = peer
}

// RemovePeer drops the registered Peer for pk, if it is still the one
// passed in (a reconnect may already have replaced it).
func (m *Manager) RemovePeer(pk wire.PublicKey, peer *Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.peers[pk]; ok && current == peer {
		delete(m.peers, pk)
	}
}

// Tick drives every live Peer's keepalive/rekey countdown by one timer
// tick (spec.md §9's injected time), tearing down and deregistering any
// peer that missed KEEPALIVE_TICKS worth of inbound traffic.
func (m *Manager) Tick() {
	m.mu.Lock()
	dead := make([]*Peer, 0)
	for pk, peer := range m.peers {
		if !peer.OnTick() {
			dead = append(dead, peer)
			delete(m.peers, pk)
		}
	}
	m.mu.Unlock()

	for _, peer := range dead {
		_ = peer.Close()
	}
}
