package idclient

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/meshcredit/creditnode/wire"
)

// encodeSignature packs an ECDSA signature's R and S into the fixed 64-byte
// wire.Signature shape, matching spec.md §6's MoveToken.signature: [64]u8.
func encodeSignature(sig *ecdsa.Signature) wire.Signature {
	var out wire.Signature
	r := sig.R()
	s := sig.S()
	rb := r.Bytes()
	sb := s.Bytes()
	copy(out[0:32], rb[:])
	copy(out[32:64], sb[:])
	return out
}

func decodeSignature(sig wire.Signature) *ecdsa.Signature {
	var r, s secp256k1.ModNScalar
	var rb, sb [32]byte
	copy(rb[:], sig[0:32])
	copy(sb[:], sig[32:64])
	r.SetBytes(&rb)
	s.SetBytes(&sb)
	return ecdsa.NewSignature(&r, &s)
}

// Verify reports whether sig is a valid signature by pk over buf. This is
// ordinary local verification — every node performs it unilaterally using
// only the counterparty's public key, unlike Sign which requires the
// external identity service.
func Verify(pk wire.PublicKey, buf []byte, sig wire.Signature) bool {
	pubKey, err := secp256k1.ParsePubKey(pk[:])
	if err != nil {
		return false
	}
	digest := sha256.Sum256(buf)
	return decodeSignature(sig).Verify(digest[:], pubKey)
}

// LocalSigner is a deterministic, in-memory Client. Tests use it, and
// cmd/creditnode uses it as the node's own signer, derived from a seed kept
// on disk.
type LocalSigner struct {
	priv *secp256k1.PrivateKey
	pub  wire.PublicKey
}

// NewLocalSigner derives a signer deterministically from seed, so tests can
// reproduce the same identity across runs.
func NewLocalSigner(seed [32]byte) *LocalSigner {
	priv := secp256k1.PrivKeyFromBytes(seed[:])
	var pk wire.PublicKey
	copy(pk[:], priv.PubKey().SerializeCompressed())
	return &LocalSigner{priv: priv, pub: pk}
}

// Sign implements Client.
func (s *LocalSigner) Sign(buf []byte) (wire.Signature, error) {
	digest := sha256.Sum256(buf)
	sig := ecdsa.Sign(s.priv, digest[:])
	return encodeSignature(sig), nil
}

// PublicKey implements Client.
func (s *LocalSigner) PublicKey() wire.PublicKey {
	return s.pub
}

var _ Client = (*LocalSigner)(nil)

// ErrVerificationFailed is a convenience sentinel for callers that want a
// typed error rather than a bool from Verify.
var ErrVerificationFailed = fmt.Errorf("idclient: signature verification failed")
