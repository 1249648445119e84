package wire

import (
	"bytes"
	"testing"
)

func samplePK(b byte) PublicKey {
	var pk PublicKey
	pk[0] = 0x02
	for i := 1; i < len(pk); i++ {
		pk[i] = b
	}
	return pk
}

func TestOperationRoundTrip(t *testing.T) {
	ops := []Operation{
		&RequestSendFunds{
			RequestID:        RequestID{1, 2, 3},
			Route:            Route{samplePK(1), samplePK(2), samplePK(3)},
			DestPayment:      Uint128{Lo: 4},
			TotalDestPayment: Uint128{Lo: 5},
			LeftFees:         Uint128{Lo: 1},
			InvoiceHash:      HashValue{9},
			SrcHashedLock:    HashValue{8},
		},
		&ResponseSendFunds{
			RequestID: RequestID{1, 2, 3},
			SerialNum: Uint128{Lo: 7},
		},
		&CancelSendFunds{RequestID: RequestID{9}},
	}

	for _, op := range ops {
		enc, err := EncodeOperation(op)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, err := DecodeOperation(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		reenc, err := EncodeOperation(dec)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if !bytes.Equal(enc, reenc) {
			t.Fatalf("round trip mismatch for %T", op)
		}
	}
}

func TestMoveTokenRoundTrip(t *testing.T) {
	mt := &MoveToken{
		PrevHash: HashValue{1, 2, 3},
		CurrenciesOperations: map[Currency][]Operation{
			"FST1": {&CancelSendFunds{RequestID: RequestID{5}}},
		},
		CurrenciesDiff:   []Currency{"FST1"},
		MoveTokenCounter: Uint128{Lo: 42},
		InfoHash:         HashValue{4},
		RandNonce:        Nonce{7},
		Signature:        Signature{1},
	}
	enc, err := EncodeMoveToken(mt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := DecodeMoveToken(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reenc, err := EncodeMoveToken(dec)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(enc, reenc) {
		t.Fatalf("move token round trip mismatch")
	}
}

func TestFriendMessageRoundTrip(t *testing.T) {
	msgs := []FriendMessage{
		MoveTokenRequest{
			MoveToken: MoveToken{
				PrevHash:             HashValue{1},
				CurrenciesOperations: map[Currency][]Operation{},
				MoveTokenCounter:     Uint128{Lo: 1},
			},
			TokenWanted: true,
		},
		InconsistencyError{Terms: ResetTerms{
			ResetCounter:  Uint128{Lo: 9},
			ResetBalances: map[Currency]Int128{"FST1": {Neg: true, Mag: Uint128{Lo: 5}}},
		}},
		RelaysUpdate{Generation: Uint128{Lo: 2}, Relays: []Relay{{PublicKey: samplePK(1), Address: "a:1"}}},
		RelaysAck{Generation: Uint128{Lo: 2}},
	}
	for _, msg := range msgs {
		enc, err := EncodeFriendMessage(msg)
		if err != nil {
			t.Fatalf("encode %T: %v", msg, err)
		}
		dec, err := DecodeFriendMessage(enc)
		if err != nil {
			t.Fatalf("decode %T: %v", msg, err)
		}
		reenc, err := EncodeFriendMessage(dec)
		if err != nil {
			t.Fatalf("re-encode %T: %v", msg, err)
		}
		if !bytes.Equal(enc, reenc) {
			t.Fatalf("round trip mismatch for %T", msg)
		}
	}
}

func TestPlainRoundTrip(t *testing.T) {
	cases := []*Plain{
		{RandPadding: []byte{1, 2}, ContentTag: PlainContentKeepAlive},
		{RandPadding: []byte{1, 2}, ContentTag: PlainContentApplication, Application: []byte("hello")},
		{RandPadding: nil, ContentTag: PlainContentRekey, RekeyMsg: &Rekey{DHPub: [32]byte{1}, Salt: [32]byte{2}}},
	}
	for _, p := range cases {
		enc, err := EncodePlain(p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, err := DecodePlain(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		reenc, err := EncodePlain(dec)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if !bytes.Equal(enc, reenc) {
			t.Fatalf("plain round trip mismatch")
		}
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	init := &InitChannel{RandNonceA: Nonce{1}, PKA: samplePK(1)}
	if dec, err := DecodeInitChannel(EncodeInitChannel(init)); err != nil || *dec != *init {
		t.Fatalf("init channel round trip failed: %v", err)
	}

	ep := &ExchangePassive{
		PrevHash: HashValue{1}, RandNonceB: Nonce{2}, PKB: samplePK(2),
		DHPubB: [32]byte{3}, KeySaltB: [32]byte{4}, SigB: Signature{5},
	}
	if dec, err := DecodeExchangePassive(EncodeExchangePassive(ep)); err != nil || *dec != *ep {
		t.Fatalf("exchange passive round trip failed: %v", err)
	}

	ea := &ExchangeActive{PrevHash: HashValue{1}, DHPubA: [32]byte{2}, KeySaltA: [32]byte{3}, SigA: Signature{4}}
	if dec, err := DecodeExchangeActive(EncodeExchangeActive(ea)); err != nil || *dec != *ea {
		t.Fatalf("exchange active round trip failed: %v", err)
	}

	cr := &ChannelReady{PrevHash: HashValue{1}, SigB: Signature{2}}
	if dec, err := DecodeChannelReady(EncodeChannelReady(cr)); err != nil || *dec != *cr {
		t.Fatalf("channel ready round trip failed: %v", err)
	}
}

func TestRouteValidate(t *testing.T) {
	good := Route{samplePK(1), samplePK(2), samplePK(3)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid route, got %v", err)
	}
	bad := Route{samplePK(1), samplePK(2), samplePK(1)}
	if err := bad.Validate(); err != ErrCyclicRoute {
		t.Fatalf("expected ErrCyclicRoute, got %v", err)
	}
}

func TestCurrencyValidate(t *testing.T) {
	if err := Currency("FST1").Validate(); err != nil {
		t.Fatalf("expected valid currency, got %v", err)
	}
	if err := Currency("").Validate(); err != ErrInvalidCurrency {
		t.Fatalf("expected invalid for empty currency")
	}
	if err := Currency("bad\x01name").Validate(); err != ErrInvalidCurrency {
		t.Fatalf("expected invalid for non-printable currency")
	}
}
