package wire

import (
	"bytes"
	"fmt"
)

// EncodeMoveToken serializes the full MoveToken, including its signature.
func EncodeMoveToken(mt *MoveToken) ([]byte, error) {
	signed, err := mt.SignedBytes()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Write(signed)
	if err := writeFixed(&buf, mt.Signature[:]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMoveToken parses a MoveToken produced by EncodeMoveToken.
func DecodeMoveToken(b []byte) (*MoveToken, error) {
	r := bytes.NewReader(b)
	mt := &MoveToken{}
	prev, err := readFixed(r, 32)
	if err != nil {
		return nil, err
	}
	copy(mt.PrevHash[:], prev)

	numCurrencies, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	mt.CurrenciesOperations = make(map[Currency][]Operation, numCurrencies)
	for i := uint32(0); i < numCurrencies; i++ {
		c, err := readCurrency(r)
		if err != nil {
			return nil, err
		}
		numOps, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if numOps > MaxOperationsInBatch {
			return nil, fmt.Errorf("wire: batch of %d operations exceeds max", numOps)
		}
		ops := make([]Operation, numOps)
		for j := range ops {
			raw, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			op, err := DecodeOperation(raw)
			if err != nil {
				return nil, err
			}
			ops[j] = op
		}
		mt.CurrenciesOperations[c] = ops
	}

	numDiff, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	mt.CurrenciesDiff = make([]Currency, numDiff)
	for i := range mt.CurrenciesDiff {
		if mt.CurrenciesDiff[i], err = readCurrency(r); err != nil {
			return nil, err
		}
	}

	if mt.MoveTokenCounter, err = readUint128(r); err != nil {
		return nil, err
	}
	info, err := readFixed(r, 32)
	if err != nil {
		return nil, err
	}
	copy(mt.InfoHash[:], info)
	nonce, err := readFixed(r, 16)
	if err != nil {
		return nil, err
	}
	copy(mt.RandNonce[:], nonce)
	sig, err := readFixed(r, 64)
	if err != nil {
		return nil, err
	}
	copy(mt.Signature[:], sig)
	return mt, nil
}

// EncodeFriendMessage serializes the tagged FriendMessage union.
func EncodeFriendMessage(msg FriendMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := buf.WriteByte(byte(msg.FriendTag())); err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case MoveTokenRequest:
		enc, err := EncodeMoveToken(&m.MoveToken)
		if err != nil {
			return nil, err
		}
		if err := writeBytes(&buf, enc); err != nil {
			return nil, err
		}
		wanted := byte(0)
		if m.TokenWanted {
			wanted = 1
		}
		if err := buf.WriteByte(wanted); err != nil {
			return nil, err
		}
	case InconsistencyError:
		if err := encodeResetTerms(&buf, &m.Terms); err != nil {
			return nil, err
		}
	case RelaysUpdate:
		if err := writeUint128(&buf, m.Generation); err != nil {
			return nil, err
		}
		if err := writeUint32(&buf, uint32(len(m.Relays))); err != nil {
			return nil, err
		}
		for _, rel := range m.Relays {
			if err := writeFixed(&buf, rel.PublicKey[:]); err != nil {
				return nil, err
			}
			if err := writeBytes(&buf, []byte(rel.Address)); err != nil {
				return nil, err
			}
		}
	case RelaysAck:
		if err := writeUint128(&buf, m.Generation); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown friend message type %T", msg)
	}
	return buf.Bytes(), nil
}

// DecodeFriendMessage parses a FriendMessage produced by EncodeFriendMessage.
func DecodeFriendMessage(b []byte) (FriendMessage, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("wire: empty friend message")
	}
	r := bytes.NewReader(b[1:])
	switch FriendMessageTag(b[0]) {
	case FriendMsgMoveTokenRequest:
		raw, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		mt, err := DecodeMoveToken(raw)
		if err != nil {
			return nil, err
		}
		wanted, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return MoveTokenRequest{MoveToken: *mt, TokenWanted: wanted != 0}, nil
	case FriendMsgInconsistency:
		terms, err := decodeResetTerms(r)
		if err != nil {
			return nil, err
		}
		return InconsistencyError{Terms: *terms}, nil
	case FriendMsgRelaysUpdate:
		gen, err := readUint128(r)
		if err != nil {
			return nil, err
		}
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		relays := make([]Relay, n)
		for i := range relays {
			pk, err := readFixed(r, 33)
			if err != nil {
				return nil, err
			}
			copy(relays[i].PublicKey[:], pk)
			addr, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			relays[i].Address = string(addr)
		}
		return RelaysUpdate{Generation: gen, Relays: relays}, nil
	case FriendMsgRelaysAck:
		gen, err := readUint128(r)
		if err != nil {
			return nil, err
		}
		return RelaysAck{Generation: gen}, nil
	default:
		return nil, fmt.Errorf("wire: unknown friend message tag %d", b[0])
	}
}

func encodeResetTerms(w *bytes.Buffer, rt *ResetTerms) error {
	if err := writeUint128(w, rt.ResetCounter); err != nil {
		return err
	}
	currencies := rt.sortedCurrencies()
	if err := writeUint32(w, uint32(len(currencies))); err != nil {
		return err
	}
	for _, c := range currencies {
		if err := writeCurrency(w, c); err != nil {
			return err
		}
		if err := writeInt128(w, rt.ResetBalances[c]); err != nil {
			return err
		}
	}
	return nil
}

func decodeResetTerms(r *bytes.Reader) (*ResetTerms, error) {
	counter, err := readUint128(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	balances := make(map[Currency]Int128, n)
	for i := uint32(0); i < n; i++ {
		c, err := readCurrency(r)
		if err != nil {
			return nil, err
		}
		bal, err := readInt128(r)
		if err != nil {
			return nil, err
		}
		balances[c] = bal
	}
	return &ResetTerms{ResetCounter: counter, ResetBalances: balances}, nil
}

// EncodePlain serializes a Plain frame payload (pre-AEAD).
func EncodePlain(p *Plain) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeBytes(&buf, p.RandPadding); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(byte(p.ContentTag)); err != nil {
		return nil, err
	}
	switch p.ContentTag {
	case PlainContentKeepAlive:
	case PlainContentApplication:
		if err := writeBytes(&buf, p.Application); err != nil {
			return nil, err
		}
	case PlainContentRekey:
		if err := writeFixed(&buf, p.RekeyMsg.DHPub[:]); err != nil {
			return nil, err
		}
		if err := writeFixed(&buf, p.RekeyMsg.Salt[:]); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown plain content tag %d", p.ContentTag)
	}
	return buf.Bytes(), nil
}

// DecodePlain parses a Plain frame payload (post-AEAD).
func DecodePlain(b []byte) (*Plain, error) {
	r := bytes.NewReader(b)
	pad, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	p := &Plain{RandPadding: pad, ContentTag: PlainContentTag(tagByte)}
	switch p.ContentTag {
	case PlainContentKeepAlive:
	case PlainContentApplication:
		if p.Application, err = readBytes(r); err != nil {
			return nil, err
		}
	case PlainContentRekey:
		dh, err := readFixed(r, 32)
		if err != nil {
			return nil, err
		}
		salt, err := readFixed(r, 32)
		if err != nil {
			return nil, err
		}
		p.RekeyMsg = &Rekey{}
		copy(p.RekeyMsg.DHPub[:], dh)
		copy(p.RekeyMsg.Salt[:], salt)
	default:
		return nil, fmt.Errorf("wire: unknown plain content tag %d", tagByte)
	}
	return p, nil
}
