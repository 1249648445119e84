package tokenchannel

import (
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/wire"
)

// IncomingMessageKind tags one IncomingMessage (spec.md §4.3's four cases
// the router dispatches on).
type IncomingMessageKind int

const (
	IncomingRequest IncomingMessageKind = iota
	IncomingRequestCancel
	IncomingResponse
	IncomingCancel
)

// IncomingMessage is one per-currency event handed to the router after a
// batch of operations is applied through C1. RequestCancel never appears on
// the wire (spec.md §4.1's process_request resolves it entirely inside
// ledger); it is surfaced here purely so the router's dispatch matches
// spec.md §4.3's four named cases.
type IncomingMessage struct {
	Kind     IncomingMessageKind
	Currency wire.Currency
	Request  *wire.RequestSendFunds
	Response *wire.ResponseSendFunds
	Cancel   *wire.CancelSendFunds
}

// HandleInKind tags the outcome of HandleInMoveToken (spec.md §4.2).
type HandleInKind int

const (
	HandleInDuplicate HandleInKind = iota
	HandleInRetransmitOutgoing
	HandleInReceived
	HandleInChainInconsistent
)

// HandleInResult is HandleInMoveToken's return value.
type HandleInResult struct {
	Kind HandleInKind

	// Set when Kind == HandleInRetransmitOutgoing.
	RetransmitMoveToken *wire.MoveToken

	// Set when Kind == HandleInReceived.
	IncomingMessages map[wire.Currency][]IncomingMessage
	Mutations        []store.NodeMutation

	// Set when Kind == HandleInChainInconsistent.
	ResetTerms *wire.ResetTerms
}
