// Package idclient consumes the external identity service (spec.md §6): a
// request/response API that signs arbitrary buffers and reports this node's
// public key. The module also holds LocalSigner (crypto.go), an in-process
// Client that keeps its private key in memory.
package idclient

import "github.com/meshcredit/creditnode/wire"

// Client is the identity service's API surface as consumed by ledger,
// tokenchannel and transport.
type Client interface {
	// Sign returns a signature over buf, produced by the node's identity
	// service.
	Sign(buf []byte) (wire.Signature, error)

	// PublicKey returns this node's durable identifier.
	PublicKey() wire.PublicKey
}
