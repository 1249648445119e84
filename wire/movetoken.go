package wire

import (
	"bytes"
	"crypto/sha256"
)

// MoveToken is the atomic, signed message carrying one batch of per-currency
// operations from whichever party currently holds the token. Field layout
// and hashing follow spec.md §6.
type MoveToken struct {
	PrevHash             HashValue
	CurrenciesOperations map[Currency][]Operation
	CurrenciesDiff       []Currency
	MoveTokenCounter     Uint128
	InfoHash             HashValue
	RandNonce            Nonce
	Signature            Signature
}

// currencyOrder returns the batch's currencies in a deterministic order so
// encoding (and therefore the signature) is reproducible regardless of map
// iteration order.
func (mt *MoveToken) currencyOrder() []Currency {
	order := make([]Currency, 0, len(mt.CurrenciesOperations))
	for c := range mt.CurrenciesOperations {
		order = append(order, c)
	}
	// Simple insertion sort: batches are bounded by MaxOperationsInBatch
	// currencies in practice, so an O(n^2) sort keeps this dependency-free.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	return order
}

// SignedBytes returns the canonical byte representation signed over when
// producing mt.Signature, i.e. every field except the signature itself.
func (mt *MoveToken) SignedBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeFixed(&buf, mt.PrevHash[:]); err != nil {
		return nil, err
	}
	order := mt.currencyOrder()
	if err := writeUint32(&buf, uint32(len(order))); err != nil {
		return nil, err
	}
	for _, c := range order {
		if err := writeCurrency(&buf, c); err != nil {
			return nil, err
		}
		ops := mt.CurrenciesOperations[c]
		if err := writeUint32(&buf, uint32(len(ops))); err != nil {
			return nil, err
		}
		for _, op := range ops {
			enc, err := EncodeOperation(op)
			if err != nil {
				return nil, err
			}
			if err := writeBytes(&buf, enc); err != nil {
				return nil, err
			}
		}
	}
	if err := writeUint32(&buf, uint32(len(mt.CurrenciesDiff))); err != nil {
		return nil, err
	}
	for _, c := range mt.CurrenciesDiff {
		if err := writeCurrency(&buf, c); err != nil {
			return nil, err
		}
	}
	if err := writeUint128(&buf, mt.MoveTokenCounter); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, mt.InfoHash[:]); err != nil {
		return nil, err
	}
	if err := writeFixed(&buf, mt.RandNonce[:]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns sha256 of the full signed message, used by the next
// MoveToken's PrevHash field.
func (mt *MoveToken) Hash() (HashValue, error) {
	signed, err := mt.SignedBytes()
	if err != nil {
		return HashValue{}, err
	}
	var out HashValue
	full := sha256.Sum256(append(signed, mt.Signature[:]...))
	copy(out[:], full[:])
	return out, nil
}

// InfoHashInput computes the hash covering (balances, local/remote public
// keys) that feeds InfoHash, per spec.md §6.
func InfoHashInput(balances map[Currency]Int128, localPK, remotePK PublicKey) (HashValue, error) {
	var buf bytes.Buffer
	keys := make([]Currency, 0, len(balances))
	for c := range balances {
		keys = append(keys, c)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	for _, c := range keys {
		if err := writeCurrency(&buf, c); err != nil {
			return HashValue{}, err
		}
		if err := writeInt128(&buf, balances[c]); err != nil {
			return HashValue{}, err
		}
	}
	if err := writeFixed(&buf, localPK[:]); err != nil {
		return HashValue{}, err
	}
	if err := writeFixed(&buf, remotePK[:]); err != nil {
		return HashValue{}, err
	}
	var out HashValue
	sum := sha256.Sum256(buf.Bytes())
	copy(out[:], sum[:])
	return out, nil
}
