package wire

import (
	"bytes"
	"crypto/sha256"
)

// ResetTerms is the (next move-token counter, per-currency reset balance)
// pair each side proposes when recovering from an Inconsistent channel
// (spec.md §3, §4.2).
type ResetTerms struct {
	ResetCounter  Uint128
	ResetBalances map[Currency]Int128
}

func (rt *ResetTerms) sortedCurrencies() []Currency {
	out := make([]Currency, 0, len(rt.ResetBalances))
	for c := range rt.ResetBalances {
		out = append(out, c)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// SignedBytes returns the canonical "RESET" ‖ reset_counter ‖ per-currency
// balances byte sequence (spec.md §3), unhashed; Digest hashes it.
func (rt *ResetTerms) SignedBytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("RESET")
	if err := writeUint128(&buf, rt.ResetCounter); err != nil {
		return nil, err
	}
	for _, c := range rt.sortedCurrencies() {
		if err := writeCurrency(&buf, c); err != nil {
			return nil, err
		}
		if err := writeInt128(&buf, rt.ResetBalances[c]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Digest returns sha256 of SignedBytes; tokenchannel uses it as the reset
// MoveToken's PrevHash and compares it against that field on receipt.
func (rt *ResetTerms) Digest() (HashValue, error) {
	b, err := rt.SignedBytes()
	if err != nil {
		return HashValue{}, err
	}
	var out HashValue
	sum := sha256.Sum256(b)
	copy(out[:], sum[:])
	return out, nil
}
