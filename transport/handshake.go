package transport

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/meshcredit/creditnode/idclient"
	"github.com/meshcredit/creditnode/wire"
)

// Role distinguishes which side of the raw connection drives the
// four-message handshake: A always sends InitChannel first (spec.md §4.4).
// Unlike the move-token initial-sender tie-break (wire.Less), the
// handshake's A/B roles are just "who dialed" — whichever side connected
// out speaks first.
type Role int

const (
	RoleInitiator Role = iota // A
	RoleResponder             // B
)

// RandSource supplies the random nonce each side contributes to the
// handshake, injected per spec.md §9 rather than drawn from a package
// global.
type RandSource interface {
	Nonce() wire.Nonce
}

// rawConn is the minimal raw-byte-stream contract the handshake and
// session need; satisfied by net.Conn but kept narrow for testability.
type rawConn interface {
	io.Reader
	io.Writer
}

// ErrUnexpectedRemote is returned when the handshake completes with a
// remote public key different from the one the caller expected (e.g. when
// dialing a known friend).
var ErrUnexpectedRemote = fmt.Errorf("transport: unexpected remote public key")

// ErrVersionMismatch is returned when the peer's version prefix byte
// doesn't match ours (spec.md §4.4 stage 1).
var ErrVersionMismatch = fmt.Errorf("transport: protocol version mismatch")

// Handshake runs spec.md §4.4's version-prefix exchange followed by the
// four-message authenticated DH handshake over conn, returning a ready
// Session. expectedRemote, if non-nil, aborts the handshake if the peer
// turns out to be someone else (dialing a known friend rather than
// accepting an unknown inbound connection).
func Handshake(conn rawConn, role Role, signer idclient.Client, rand RandSource, expectedRemote *wire.PublicKey, ticksToRekey uint32) (*Session, error) {
	if err := exchangeVersion(conn); err != nil {
		return nil, err
	}

	switch role {
	case RoleInitiator:
		return handshakeInitiator(conn, signer, rand, expectedRemote, ticksToRekey)
	case RoleResponder:
		return handshakeResponder(conn, signer, rand, expectedRemote, ticksToRekey)
	default:
		return nil, fmt.Errorf("transport: unknown handshake role %d", role)
	}
}

func exchangeVersion(conn rawConn) error {
	if _, err := conn.Write([]byte{wire.ProtocolVersion}); err != nil {
		return err
	}
	var peerVersion [1]byte
	if _, err := io.ReadFull(conn, peerVersion[:]); err != nil {
		return err
	}
	if peerVersion[0] != wire.ProtocolVersion {
		return ErrVersionMismatch
	}
	return nil
}

func handshakeInitiator(conn rawConn, signer idclient.Client, randSrc RandSource, expectedRemote *wire.PublicKey, ticksToRekey uint32) (*Session, error) {
	nonceA := randSrc.Nonce()
	pkA := signer.PublicKey()

	initMsg := &wire.InitChannel{RandNonceA: nonceA, PKA: pkA}
	initBytes := wire.EncodeInitChannel(initMsg)
	if err := writeFrame(conn, initBytes); err != nil {
		return nil, err
	}
	initHash := wire.HashValue(sha256Sum(initBytes))

	passiveBytes, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	passive, err := wire.DecodeExchangePassive(passiveBytes)
	if err != nil {
		return nil, err
	}
	if passive.PrevHash != initHash {
		return nil, fmt.Errorf("transport: exchange_passive prev_hash mismatch")
	}
	if expectedRemote != nil && passive.PKB != *expectedRemote {
		return nil, ErrUnexpectedRemote
	}
	if !idclient.Verify(passive.PKB, wire.EncodeExchangePassiveUnsigned(passive), passive.SigB) {
		return nil, fmt.Errorf("transport: exchange_passive signature invalid")
	}
	passiveHash := wire.HashValue(sha256Sum(passiveBytes))

	dhPrivA, dhPubA, err := generateDH()
	if err != nil {
		return nil, err
	}
	var saltA [32]byte
	if _, err := io.ReadFull(rand.Reader, saltA[:]); err != nil {
		return nil, err
	}

	active := &wire.ExchangeActive{PrevHash: passiveHash, DHPubA: dhPubA, KeySaltA: saltA}
	sigA, err := signer.Sign(wire.EncodeExchangeActiveUnsigned(active))
	if err != nil {
		return nil, err
	}
	active.SigA = sigA
	activeBytes := wire.EncodeExchangeActive(active)
	if err := writeFrame(conn, activeBytes); err != nil {
		return nil, err
	}
	activeHash := wire.HashValue(sha256Sum(activeBytes))

	readyBytes, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	ready, err := wire.DecodeChannelReady(readyBytes)
	if err != nil {
		return nil, err
	}
	if ready.PrevHash != activeHash {
		return nil, fmt.Errorf("transport: channel_ready prev_hash mismatch")
	}
	if !idclient.Verify(passive.PKB, wire.EncodeChannelReadyUnsigned(ready), ready.SigB) {
		return nil, fmt.Errorf("transport: channel_ready signature invalid")
	}

	return finishHandshake(true, pkA, passive.PKB, dhPrivA, dhPubA, passive.DHPubB, saltA, passive.KeySaltB, nonceA, passive.RandNonceB, ticksToRekey)
}

func handshakeResponder(conn rawConn, signer idclient.Client, randSrc RandSource, expectedRemote *wire.PublicKey, ticksToRekey uint32) (*Session, error) {
	initBytes, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	initMsg, err := wire.DecodeInitChannel(initBytes)
	if err != nil {
		return nil, err
	}
	if expectedRemote != nil && initMsg.PKA != *expectedRemote {
		return nil, ErrUnexpectedRemote
	}
	initHash := wire.HashValue(sha256Sum(initBytes))

	nonceB := randSrc.Nonce()
	pkB := signer.PublicKey()
	dhPrivB, dhPubB, err := generateDH()
	if err != nil {
		return nil, err
	}
	var saltB [32]byte
	if _, err := io.ReadFull(rand.Reader, saltB[:]); err != nil {
		return nil, err
	}

	passive := &wire.ExchangePassive{
		PrevHash:   initHash,
		RandNonceB: nonceB,
		PKB:        pkB,
		DHPubB:     dhPubB,
		KeySaltB:   saltB,
	}
	sigB, err := signer.Sign(wire.EncodeExchangePassiveUnsigned(passive))
	if err != nil {
		return nil, err
	}
	passive.SigB = sigB
	passiveBytes := wire.EncodeExchangePassive(passive)
	if err := writeFrame(conn, passiveBytes); err != nil {
		return nil, err
	}
	passiveHash := wire.HashValue(sha256Sum(passiveBytes))

	activeBytes, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	active, err := wire.DecodeExchangeActive(activeBytes)
	if err != nil {
		return nil, err
	}
	if active.PrevHash != passiveHash {
		return nil, fmt.Errorf("transport: exchange_active prev_hash mismatch")
	}
	if !idclient.Verify(initMsg.PKA, wire.EncodeExchangeActiveUnsigned(active), active.SigA) {
		return nil, fmt.Errorf("transport: exchange_active signature invalid")
	}
	activeHash := wire.HashValue(sha256Sum(activeBytes))

	ready := &wire.ChannelReady{PrevHash: activeHash}
	sigReady, err := signer.Sign(wire.EncodeChannelReadyUnsigned(ready))
	if err != nil {
		return nil, err
	}
	ready.SigB = sigReady
	readyBytes := wire.EncodeChannelReady(ready)
	if err := writeFrame(conn, readyBytes); err != nil {
		return nil, err
	}

	return finishHandshake(false, pkB, initMsg.PKA, dhPrivB, dhPubB, active.DHPubA, saltB, active.KeySaltA, initMsg.RandNonceA, nonceB, ticksToRekey)
}

// finishHandshake derives the two per-direction channel ids and AEAD keys
// common to both roles once all four messages have been verified. isA
// tells it which role the local side played (the caller always knows:
// handshakeInitiator always passes true, handshakeResponder always passes
// false). Takes each side's own (dhPriv, dhPub, salt) plus the peer's
// (dhPub, salt), and both rand nonces in (A, B) order regardless of who's
// computing it.
func finishHandshake(isA bool, localPK, remotePK wire.PublicKey, localDHPriv, localDHPub, remoteDHPub [32]byte, localSalt, remoteSalt [32]byte, nonceA, nonceB wire.Nonce, ticksToRekey uint32) (*Session, error) {
	var dhPubA, dhPubB [32]byte
	var saltA, saltB [32]byte
	if isA {
		dhPubA, dhPubB = localDHPub, remoteDHPub
		saltA, saltB = localSalt, remoteSalt
	} else {
		dhPubA, dhPubB = remoteDHPub, localDHPub
		saltA, saltB = remoteSalt, localSalt
	}

	shared, err := dh(localDHPriv, remoteDHPub)
	if err != nil {
		return nil, err
	}

	chIDAtoB := channelID("Init", dhPubA, dhPubB, nonceA, nonceB)
	chIDBtoA := channelID("Accp", dhPubA, dhPubB, nonceA, nonceB)

	keyAtoB, keyBtoA, err := directionKeys(shared, saltA, saltB, []byte("handshake"))
	if err != nil {
		return nil, err
	}

	var sendChID, recvChID ChannelID
	var sendKey, recvKey [32]byte
	if isA {
		sendChID, recvChID = chIDAtoB, chIDBtoA
		sendKey, recvKey = keyAtoB, keyBtoA
	} else {
		sendChID, recvChID = chIDBtoA, chIDAtoB
		sendKey, recvKey = keyBtoA, keyAtoB
	}

	return newSession(localPK, remotePK, sendChID, recvChID, sendKey, recvKey, ticksToRekey)
}
