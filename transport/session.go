package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/meshcredit/creditnode/wire"
)

// maxRandPadding is the length of the random padding prepended to every
// Plain frame; every frame carries exactly this many padding bytes.
const maxRandPadding = 16

// pendingRekey is this side's in-flight rekey material: generated either
// proactively when TicksToRekey expires, or reactively the moment a peer's
// Rekey arrives before ours was sent (session.go's handleRekey).
type pendingRekey struct {
	priv [32]byte
	pub  [32]byte
	salt [32]byte
}

// Session is one handshake-completed encrypted channel: per-direction AEAD
// keys, monotone send counter, receive replay window, and rekey state
// (spec.md §4.4).
type Session struct {
	LocalPublicKey  wire.PublicKey
	RemotePublicKey wire.PublicKey

	sendChannelID ChannelID
	recvChannelID ChannelID

	sendKey     [32]byte
	sendAEAD    cipherAEAD
	sendCounter uint64

	recvKey       [32]byte
	recvAEAD      cipherAEAD
	recvWindow    *replayWindow
	oldRecvAEAD   cipherAEAD // nil once the new key has decrypted successfully
	oldRecvWindow *replayWindow

	ticksSinceRekey uint32
	ticksToRekey    uint32
	pending         *pendingRekey
}

// cipherAEAD is the subset of cipher.AEAD Session needs; named so tests can
// substitute a fake without importing crypto/cipher directly.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func newAEAD(key [32]byte) (cipherAEAD, error) {
	return chacha20poly1305.New(key[:])
}

// newSession builds a Session from the handshake's derived material.
// sendKey and recvKey are this side's two direction keys from
// directionKeys, already matched to its role by the caller, and
// sendChID/recvChID the matching channel IDs.
func newSession(localPK, remotePK wire.PublicKey, sendChID, recvChID ChannelID, sendKey, recvKey [32]byte, ticksToRekey uint32) (*Session, error) {
	sendAEAD, err := newAEAD(sendKey)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := newAEAD(recvKey)
	if err != nil {
		return nil, err
	}
	return &Session{
		LocalPublicKey:  localPK,
		RemotePublicKey: remotePK,
		sendChannelID:   sendChID,
		recvChannelID:   recvChID,
		sendKey:         sendKey,
		sendAEAD:        sendAEAD,
		recvKey:         recvKey,
		recvAEAD:        recvAEAD,
		recvWindow:      newReplayWindow(wire.ReplayWindowSize),
		ticksToRekey:    ticksToRekey,
	}, nil
}

func nonceFor(counter uint64) []byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce[:]
}

// seal encrypts a Plain frame and returns the wire bytes: an 8-byte
// big-endian counter followed by the AEAD-sealed ciphertext, associated
// with this direction's channel id (spec.md §4.4).
func (s *Session) seal(p *wire.Plain) ([]byte, error) {
	if p.RandPadding == nil {
		pad := make([]byte, maxRandPadding)
		if _, err := io.ReadFull(rand.Reader, pad); err != nil {
			return nil, err
		}
		p.RandPadding = pad
	}
	plaintext, err := wire.EncodePlain(p)
	if err != nil {
		return nil, err
	}
	s.sendCounter++
	nonce := nonceFor(s.sendCounter)
	ciphertext := s.sendAEAD.Seal(nil, nonce, plaintext, s.sendChannelID[:])

	out := make([]byte, 8+len(ciphertext))
	binary.BigEndian.PutUint64(out[:8], s.sendCounter)
	copy(out[8:], ciphertext)
	return out, nil
}

// open decrypts wire bytes produced by seal, trying the current receive
// key first and falling back to the retained previous key (spec.md §4.4:
// "the old decrypt key is retained until the first successful decrypt
// under the new key").
func (s *Session) open(frame []byte) (*wire.Plain, error) {
	if len(frame) < 8 {
		return nil, fmt.Errorf("transport: frame too short")
	}
	counter := binary.BigEndian.Uint64(frame[:8])
	ciphertext := frame[8:]
	nonce := nonceFor(counter)

	if plaintext, err := s.recvAEAD.Open(nil, nonce, ciphertext, s.recvChannelID[:]); err == nil {
		if !s.recvWindow.checkAndSet(counter) {
			return nil, fmt.Errorf("transport: replayed or out-of-window frame")
		}
		if s.oldRecvAEAD != nil {
			// First successful decrypt under the new key: the old key is
			// no longer needed.
			s.oldRecvAEAD = nil
			s.oldRecvWindow = nil
		}
		return wire.DecodePlain(plaintext)
	}

	if s.oldRecvAEAD != nil {
		if plaintext, err := s.oldRecvAEAD.Open(nil, nonce, ciphertext, s.recvChannelID[:]); err == nil {
			if !s.oldRecvWindow.checkAndSet(counter) {
				return nil, fmt.Errorf("transport: replayed or out-of-window frame")
			}
			return wire.DecodePlain(plaintext)
		}
	}

	return nil, fmt.Errorf("transport: decryption failed")
}

// tick advances the rekey countdown by one timer tick and, if it has
// expired and no rekey is already pending, generates this side's fresh DH
// material and returns a Rekey frame to send. A nil, nil return means no
// action is needed this tick.
func (s *Session) tick() ([]byte, error) {
	if s.ticksSinceRekey++; s.ticksSinceRekey < s.ticksToRekey {
		return nil, nil
	}
	if s.pending != nil {
		// Already initiated; waiting on the peer's Rekey to complete it.
		return nil, nil
	}
	return s.initiateRekeyLocked()
}

func (s *Session) initiateRekeyLocked() ([]byte, error) {
	priv, pub, err := generateDH()
	if err != nil {
		return nil, err
	}
	var salt [32]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return nil, err
	}
	s.pending = &pendingRekey{priv: priv, pub: pub, salt: salt}
	return s.seal(&wire.Plain{
		ContentTag: wire.PlainContentRekey,
		RekeyMsg:   &wire.Rekey{DHPub: pub, Salt: salt},
	})
}

// handleRekey completes a rekey using the peer's announced DH material,
// generating our own side reactively if we had not already initiated one
// this period. It rotates the receive key immediately (retaining the old
// one per Session.open's fallback) and rotates the send key only once our
// own Rekey has gone out, so both directions re-key from the same shared
// secret. Returns a Rekey frame to send back if we had to react, or nil if
// we'd already sent ours.
func (s *Session) handleRekey(peerDHPub, peerSalt [32]byte) ([]byte, error) {
	reactive := s.pending == nil
	var out []byte
	if reactive {
		frame, err := s.initiateRekeyLocked()
		if err != nil {
			return nil, err
		}
		out = frame
	}

	shared, err := dh(s.pending.priv, peerDHPub)
	if err != nil {
		return nil, err
	}

	// Both sides must land on the same (lowToHigh, highToLow) pair of keys
	// regardless of who initiated, so order the two salts by the same
	// lexicographically-smaller-public-key tie-break spec.md §3 uses for
	// the initial-sender convention, rather than by initiator/responder
	// role (rekeys have no fixed role).
	var saltLow, saltHigh [32]byte
	localIsLow := wire.Less(s.LocalPublicKey, s.RemotePublicKey)
	if localIsLow {
		saltLow, saltHigh = s.pending.salt, peerSalt
	} else {
		saltLow, saltHigh = peerSalt, s.pending.salt
	}
	keyLowToHigh, keyHighToLow, err := directionKeys(shared, saltLow, saltHigh, []byte("rekey"))
	if err != nil {
		return nil, err
	}
	var newRecvKey, newSendKey [32]byte
	if localIsLow {
		newSendKey, newRecvKey = keyLowToHigh, keyHighToLow
	} else {
		newSendKey, newRecvKey = keyHighToLow, keyLowToHigh
	}

	newRecvAEAD, err := newAEAD(newRecvKey)
	if err != nil {
		return nil, err
	}
	s.oldRecvAEAD = s.recvAEAD
	s.oldRecvWindow = s.recvWindow
	s.recvAEAD = newRecvAEAD
	s.recvWindow = newReplayWindow(wire.ReplayWindowSize)

	newSendAEAD, err := newAEAD(newSendKey)
	if err != nil {
		return nil, err
	}
	s.sendAEAD = newSendAEAD
	s.sendCounter = 0

	s.pending = nil
	s.ticksSinceRekey = 0
	return out, nil
}
