package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/meshcredit/creditnode/wire"
)

// ChannelID is the 16-byte value derived per direction at handshake
// completion (spec.md §4.4) and used as AEAD associated data thereafter, so
// a ciphertext sealed for one direction of one channel cannot be replayed
// as if it belonged to the other.
type ChannelID [16]byte

// generateDH creates a fresh curve25519 keypair for one handshake or rekey.
func generateDH() (priv [32]byte, pub [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, err
	}
	// Clamp per curve25519's contract; ScalarBaseMult also clamps
	// internally, but doing it here keeps priv well-formed for logging/tests.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	copy(pub[:], curvePublic(priv))
	return priv, pub, nil
}

func curvePublic(priv [32]byte) []byte {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		// Only fails on a malformed scalar, which generateDH's clamping
		// above rules out.
		panic(fmt.Sprintf("transport: curve25519 base scalar mult: %v", err))
	}
	return pub
}

// dh computes the ECDH shared secret between priv and the peer's public point.
func dh(priv, peerPub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], peerPub[:])
}

// sha256Sum is a small convenience wrapper so handshake.go's prev_hash
// chaining reads as domain logic rather than crypto/sha256 plumbing.
func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// channelID implements spec.md §4.4's
// truncate_16(sha256(tag ‖ dh_pub_A ‖ dh_pub_B ‖ rand_nonce_A ‖ rand_nonce_B)).
func channelID(tag string, dhPubA, dhPubB [32]byte, nonceA, nonceB wire.Nonce) ChannelID {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write(dhPubA[:])
	h.Write(dhPubB[:])
	h.Write(nonceA[:])
	h.Write(nonceB[:])
	digest := h.Sum(nil)
	var id ChannelID
	copy(id[:], digest[:16])
	return id
}

// directionKeys derives the two 256-bit per-direction AEAD keys from the
// ECDH shared secret and each side's salt (spec.md §4.4: "two salt values,
// one per direction, feeding a KDF"). info is a label ("handshake" or
// "rekey") that keeps the handshake's and a rekey's derivations apart.
func directionKeys(shared []byte, saltA, saltB [32]byte, info []byte) (keyAtoB, keyBtoA [32]byte, err error) {
	saltBoth := append(append([]byte{}, saltA[:]...), saltB[:]...)
	kdf := hkdf.New(sha256.New, shared, saltBoth, info)
	if _, err = io.ReadFull(kdf, keyAtoB[:]); err != nil {
		return keyAtoB, keyBtoA, err
	}
	if _, err = io.ReadFull(kdf, keyBtoA[:]); err != nil {
		return keyAtoB, keyBtoA, err
	}
	return keyAtoB, keyBtoA, nil
}
