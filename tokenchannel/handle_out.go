package tokenchannel

import (
	"github.com/meshcredit/creditnode/store"
	"github.com/meshcredit/creditnode/wire"
)

// HandleOutMoveToken implements spec.md §4.2's handle_out_move_token: only
// permitted while we hold the token (DirectionIn). randNonce is supplied by
// the caller rather than drawn from a package-global RNG, per spec.md §9's
// "global static randomness ... always injected" design note; the router
// obtains it from the external random-generator collaborator spec.md §6
// names.
func (c *Channel) HandleOutMoveToken(
	currenciesOperations map[wire.Currency][]wire.Operation,
	currenciesDiff []wire.Currency,
	randNonce wire.Nonce,
) (*wire.MoveToken, []store.NodeMutation, error) {
	if c.Direction != DirectionIn {
		return nil, nil, ErrWrongDirection
	}

	prevHash := wire.HashValue{}
	if c.LastMoveToken != nil {
		h, err := c.LastMoveToken.Hash()
		if err != nil {
			return nil, nil, err
		}
		prevHash = h
	}

	mt := &wire.MoveToken{
		PrevHash:             prevHash,
		CurrenciesOperations: currenciesOperations,
		CurrenciesDiff:       currenciesDiff,
		MoveTokenCounter:     c.nextExpectedCounter(),
		RandNonce:            randNonce,
	}

	infoHash, err := wire.InfoHashInput(c.currentBalances(), c.LocalPublicKey, c.RemotePublicKey)
	if err != nil {
		return nil, nil, err
	}
	mt.InfoHash = infoHash

	signed, err := mt.SignedBytes()
	if err != nil {
		return nil, nil, err
	}
	sig, err := c.signer.Sign(signed)
	if err != nil {
		return nil, nil, err
	}
	mt.Signature = sig

	c.toggleCurrencies(currenciesDiff)
	c.Direction = DirectionOut
	c.LastMoveToken = mt
	c.LastSentCounter = mt.MoveTokenCounter

	mutations := []store.NodeMutation{{
		Kind:     store.MutSetTokenChannel,
		Friend:   c.RemotePublicKey,
		Currency: "",
		TokenChannel: &store.TokenChannelSnapshot{
			Direction:   "out",
			LastCounter: mt.MoveTokenCounter,
		},
	}}
	return mt, mutations, nil
}
