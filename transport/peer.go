package transport

import (
	"io"
	"sync"

	"github.com/meshcredit/creditnode/buffer"
	"github.com/meshcredit/creditnode/wire"
)

// Dispatcher is the friend-protocol layer (router, C3) that decoded
// FriendMessages are handed to. Generalized from transport/peer.go's
// lnpeer.Peer.SendMessage/AddNewChannel surface, which coupled delivery to
// on-chain channel handles this module has no notion of; here a Peer only
// needs somewhere to hand a decoded message and someone to ask for outgoing
// ones.
type Dispatcher interface {
	HandleFriendMessage(pk wire.PublicKey, msg wire.FriendMessage) error
}

// Peer is one friend's live encrypted connection: the raw stream, its
// completed handshake Session, and the keepalive/rekey bookkeeping spec.md
// §4.4 layers on top. One Peer corresponds to one Friend in router.go's
// runtime table.
type Peer struct {
	RemotePublicKey wire.PublicKey

	conn    rawConn
	closer  io.Closer
	session *Session

	dispatcher Dispatcher

	writeMu sync.Mutex

	keepaliveTicks uint32
	ticksSinceSend uint32
	ticksSinceRecv uint32
}

// NewPeer wraps an already-handshaken connection. conn is read from by
// ReadLoop (call it in its own goroutine) and written to by Send and by
// OnTick's keepalive/rekey traffic.
func NewPeer(conn rawConn, closer io.Closer, session *Session, dispatcher Dispatcher, keepaliveTicks uint32) *Peer {
	return &Peer{
		RemotePublicKey: session.RemotePublicKey,
		conn:            conn,
		closer:          closer,
		session:         session,
		dispatcher:      dispatcher,
		keepaliveTicks:  keepaliveTicks,
	}
}

// Send implements router.Transport: encodes and encrypts msg as an
// Application frame and writes it. pk is asserted against this Peer's
// RemotePublicKey since a Peer is bound to exactly one friend; callers
// needing to address many friends use Manager instead.
func (p *Peer) Send(pk wire.PublicKey, msg wire.FriendMessage) error {
	if pk != p.RemotePublicKey {
		return ErrUnexpectedRemote
	}
	payload, err := wire.EncodeFriendMessage(msg)
	if err != nil {
		return err
	}
	return p.sendPlain(&wire.Plain{ContentTag: wire.PlainContentApplication, Application: payload})
}

func (p *Peer) sendPlain(plain *wire.Plain) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	frame, err := p.session.seal(plain)
	if err != nil {
		return err
	}
	if err := writeFrame(p.conn, frame); err != nil {
		return err
	}
	p.ticksSinceSend = 0
	return nil
}

// ReadLoop decodes frames off conn until it errs or the peer is closed.
// Every successfully decrypted Application frame is handed to dispatcher;
// KeepAlive frames just reset the liveness counter (ReadLoop zeroes
// ticksSinceRecv for every frame it reads); Rekey frames complete
// the rekey exchange, replying if this side hadn't already initiated one.
func (p *Peer) ReadLoop() error {
	for {
		scratch := buffer.Get()
		frame, err := readFrameScratch(p.conn, scratch[:])
		if err != nil {
			buffer.Put(scratch)
			return err
		}
		p.ticksSinceRecv = 0

		plain, err := p.session.open(frame)
		buffer.Put(scratch)
		if err != nil {
			// A corrupt or replayed frame is dropped, not fatal on its
			// own (spec.md §7: "cryptographic verification failure on
			// transport drops the offending frame"); the caller tears the
			// connection down if this keeps happening across a handshake,
			// which ReadLoop itself doesn't track.
			continue
		}

		switch plain.ContentTag {
		case wire.PlainContentKeepAlive:
			// Liveness already refreshed above; nothing else to do.
		case wire.PlainContentApplication:
			msg, err := wire.DecodeFriendMessage(plain.Application)
			if err != nil {
				continue
			}
			if p.dispatcher != nil {
				_ = p.dispatcher.HandleFriendMessage(p.RemotePublicKey, msg)
			}
		case wire.PlainContentRekey:
			reply, err := p.session.handleRekey(plain.RekeyMsg.DHPub, plain.RekeyMsg.Salt)
			if err != nil {
				continue
			}
			if reply != nil {
				p.writeMu.Lock()
				_ = writeFrame(p.conn, reply)
				p.writeMu.Unlock()
			}
		}
	}
}

// OnTick advances this peer's keepalive and rekey countdowns by one timer
// tick (spec.md §4.4 stage 3 and the rekeying section). It returns false if
// no inbound frame has arrived within KEEPALIVE_TICKS ticks, signalling the
// caller (Manager) that the channel is dead and should be torn down.
func (p *Peer) OnTick() bool {
	p.ticksSinceRecv++
	if p.ticksSinceRecv >= p.keepaliveTicks {
		return false
	}

	p.ticksSinceSend++
	if p.ticksSinceSend >= p.keepaliveTicks/2 {
		_ = p.sendPlain(&wire.Plain{ContentTag: wire.PlainContentKeepAlive})
	}

	if rekeyFrame, err := p.session.tick(); err == nil && rekeyFrame != nil {
		p.writeMu.Lock()
		_ = writeFrame(p.conn, rekeyFrame)
		p.writeMu.Unlock()
	}
	return true
}

// Close tears down the underlying connection.
func (p *Peer) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
