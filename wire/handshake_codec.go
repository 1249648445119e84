package wire

import "bytes"

// EncodeInitChannel serializes the first handshake message. It carries no
// signature (unauthenticated by design — A has no key material from B yet).
func EncodeInitChannel(m *InitChannel) []byte {
	var buf bytes.Buffer
	buf.Write(m.RandNonceA[:])
	buf.Write(m.PKA[:])
	return buf.Bytes()
}

// DecodeInitChannel parses an EncodeInitChannel payload.
func DecodeInitChannel(b []byte) (*InitChannel, error) {
	r := bytes.NewReader(b)
	nonce, err := readFixed(r, 16)
	if err != nil {
		return nil, err
	}
	pk, err := readFixed(r, 33)
	if err != nil {
		return nil, err
	}
	m := &InitChannel{}
	copy(m.RandNonceA[:], nonce)
	copy(m.PKA[:], pk)
	return m, nil
}

// EncodeExchangePassiveUnsigned serializes ExchangePassive minus SigB, the
// bytes that SigB is computed over.
func EncodeExchangePassiveUnsigned(m *ExchangePassive) []byte {
	var buf bytes.Buffer
	buf.Write(m.PrevHash[:])
	buf.Write(m.RandNonceB[:])
	buf.Write(m.PKB[:])
	buf.Write(m.DHPubB[:])
	buf.Write(m.KeySaltB[:])
	return buf.Bytes()
}

// EncodeExchangePassive serializes the full message including SigB.
func EncodeExchangePassive(m *ExchangePassive) []byte {
	b := EncodeExchangePassiveUnsigned(m)
	return append(b, m.SigB[:]...)
}

// DecodeExchangePassive parses an EncodeExchangePassive payload.
func DecodeExchangePassive(b []byte) (*ExchangePassive, error) {
	r := bytes.NewReader(b)
	m := &ExchangePassive{}
	fields := [][]byte{}
	for _, n := range []int{32, 16, 33, 32, 32, 64} {
		f, err := readFixed(r, n)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	copy(m.PrevHash[:], fields[0])
	copy(m.RandNonceB[:], fields[1])
	copy(m.PKB[:], fields[2])
	copy(m.DHPubB[:], fields[3])
	copy(m.KeySaltB[:], fields[4])
	copy(m.SigB[:], fields[5])
	return m, nil
}

// EncodeExchangeActiveUnsigned serializes ExchangeActive minus SigA.
func EncodeExchangeActiveUnsigned(m *ExchangeActive) []byte {
	var buf bytes.Buffer
	buf.Write(m.PrevHash[:])
	buf.Write(m.DHPubA[:])
	buf.Write(m.KeySaltA[:])
	return buf.Bytes()
}

// EncodeExchangeActive serializes the full message including SigA.
func EncodeExchangeActive(m *ExchangeActive) []byte {
	b := EncodeExchangeActiveUnsigned(m)
	return append(b, m.SigA[:]...)
}

// DecodeExchangeActive parses an EncodeExchangeActive payload.
func DecodeExchangeActive(b []byte) (*ExchangeActive, error) {
	r := bytes.NewReader(b)
	m := &ExchangeActive{}
	fields := [][]byte{}
	for _, n := range []int{32, 32, 32, 64} {
		f, err := readFixed(r, n)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	copy(m.PrevHash[:], fields[0])
	copy(m.DHPubA[:], fields[1])
	copy(m.KeySaltA[:], fields[2])
	copy(m.SigA[:], fields[3])
	return m, nil
}

// EncodeChannelReadyUnsigned serializes ChannelReady minus SigB.
func EncodeChannelReadyUnsigned(m *ChannelReady) []byte {
	return append([]byte{}, m.PrevHash[:]...)
}

// EncodeChannelReady serializes the full message including SigB.
func EncodeChannelReady(m *ChannelReady) []byte {
	b := EncodeChannelReadyUnsigned(m)
	return append(b, m.SigB[:]...)
}

// DecodeChannelReady parses an EncodeChannelReady payload.
func DecodeChannelReady(b []byte) (*ChannelReady, error) {
	r := bytes.NewReader(b)
	prev, err := readFixed(r, 32)
	if err != nil {
		return nil, err
	}
	sig, err := readFixed(r, 64)
	if err != nil {
		return nil, err
	}
	m := &ChannelReady{}
	copy(m.PrevHash[:], prev)
	copy(m.SigB[:], sig)
	return m, nil
}
