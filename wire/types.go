package wire

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// PublicKey is a node's durable identifier: a compressed secp256k1 point
// produced by the (external) identity service. Kept as a fixed-size array,
// not *btcec.PublicKey, so it is comparable and usable as a map key the way
// friend/currency state is keyed throughout ledger/tokenchannel/router.
type PublicKey [33]byte

func (p PublicKey) String() string {
	return fmt.Sprintf("%x", p[:])
}

// Less implements the "lexicographically smaller hash of its public key"
// initial-sender tie-break from spec.md §3.
func Less(a, b PublicKey) bool {
	ha := sha256.Sum256(a[:])
	hb := sha256.Sum256(b[:])
	return bytes.Compare(ha[:], hb[:]) < 0
}

// Signature is produced by the identity service over arbitrary bytes.
type Signature [64]byte

// RequestID uniquely identifies one payment request end to end.
type RequestID [16]byte

// HashValue is a generic 32-byte digest (sha256 throughout this repo).
type HashValue [32]byte

// Nonce is randomness embedded in a MoveToken or handshake message.
type Nonce [16]byte

// Currency is a short, human-readable currency name. spec.md §3: printable
// ASCII, bounded length.
type Currency string

// MaxCurrencyLength bounds a currency name.
const MaxCurrencyLength = 32

// ErrInvalidCurrency is returned by Validate when a currency name fails the
// printable-ASCII/bounded-length rule.
var ErrInvalidCurrency = fmt.Errorf("wire: invalid currency name")

// Validate checks the printable-ASCII, bounded-length rule for currency
// names (spec.md §3).
func (c Currency) Validate() error {
	if len(c) == 0 || len(c) > MaxCurrencyLength {
		return ErrInvalidCurrency
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 0x20 || c[i] > 0x7e {
			return ErrInvalidCurrency
		}
	}
	return nil
}

// Route is an ordered list of public keys [src, ..., dst]. spec.md §3:
// cycle-free, all keys distinct.
type Route []PublicKey

// ErrCyclicRoute is returned by Validate when a route repeats a node.
var ErrCyclicRoute = fmt.Errorf("wire: route is not cycle-free")

// Validate checks the route is cycle-free.
func (r Route) Validate() error {
	seen := make(map[PublicKey]struct{}, len(r))
	for _, pk := range r {
		if _, ok := seen[pk]; ok {
			return ErrCyclicRoute
		}
		seen[pk] = struct{}{}
	}
	return nil
}

// Hash returns the canonical hash of the route, used within the response
// signature canonicalization (spec.md §4.1).
func (r Route) Hash() HashValue {
	h := sha256.New()
	for _, pk := range r {
		h.Write(pk[:])
	}
	var out HashValue
	copy(out[:], h.Sum(nil))
	return out
}

func (r Route) encode(w *bytes.Buffer) error {
	if err := writeUint32(w, uint32(len(r))); err != nil {
		return err
	}
	for _, pk := range r {
		if err := writeFixed(w, pk[:]); err != nil {
			return err
		}
	}
	return nil
}

func decodeRoute(r *bytes.Reader) (Route, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > 4096 {
		return nil, fmt.Errorf("wire: route of %d hops exceeds sane bound", n)
	}
	route := make(Route, n)
	for i := range route {
		b, err := readFixed(r, 33)
		if err != nil {
			return nil, err
		}
		copy(route[i][:], b)
	}
	return route, nil
}
