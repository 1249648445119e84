package main

import (
	cryptorand "crypto/rand"
	"encoding/binary"

	"github.com/meshcredit/creditnode/wire"
)

// systemRand is the production implementation of router.RandSource,
// transport.RandSource and payment.RandSource: three separately declared
// interfaces, satisfied structurally by one crypto/rand-backed type, the
// way spec.md §9 treats randomness as an injected external collaborator
// (original_source's CryptoRandom) rather than a package-global source.
// Every test in this module instead injects a deterministic fake (e.g.
// router_test.go's seqNonce, payment/registry_test.go's seqRand); this type
// is the only one of the three interfaces' implementations that ever runs
// against the real OS entropy source.
type systemRand struct{}

func (systemRand) Nonce() wire.Nonce {
	var n wire.Nonce
	if _, err := cryptorand.Read(n[:]); err != nil {
		panic(err)
	}
	return n
}

func (systemRand) Random32() [32]byte {
	var b [32]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		panic(err)
	}
	return b
}

func (systemRand) RequestID() wire.RequestID {
	var id wire.RequestID
	if _, err := cryptorand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}

func (systemRand) SerialNum() wire.Uint128 {
	var b [16]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		panic(err)
	}
	return wire.Uint128{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}
}
