package ledger

import (
	"bytes"

	"github.com/meshcredit/creditnode/wire"
)

// CanonicalizeResponse builds the exact byte sequence signed by the
// destination over a ResponseSendFunds (spec.md §4.1, "Response signature
// canonicalization"): fixed order, big-endian integers, length-prefixed
// variable fields. Exported so the final hop (package payment) can build
// the same buffer when it originates a Response, rather than only
// verifying one received from a neighbor.
func CanonicalizeResponse(currency wire.Currency, resp *wire.ResponseSendFunds, pending *PendingTransaction) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteString(&buf, string(currency)); err != nil {
		return nil, err
	}
	buf.Write(resp.RequestID[:])
	buf.Write(resp.SrcPlainLock[:])
	if err := wire.WriteUint128(&buf, resp.SerialNum); err != nil {
		return nil, err
	}
	buf.Write(pending.SrcHashedLock[:])
	if err := wire.WriteUint128(&buf, pending.DestPayment); err != nil {
		return nil, err
	}
	if err := wire.WriteUint128(&buf, pending.TotalDestPayment); err != nil {
		return nil, err
	}
	buf.Write(pending.InvoiceHash[:])
	routeHash := pending.Route.Hash()
	buf.Write(routeHash[:])
	if err := wire.WriteBytes(&buf, pending.HMAC); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
