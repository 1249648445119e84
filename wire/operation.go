package wire

import (
	"bytes"
	"fmt"
)

// OpTag identifies which Operation variant a serialized operation carries.
type OpTag byte

const (
	OpTagRequest  OpTag = 1
	OpTagResponse OpTag = 2
	OpTagCancel   OpTag = 3
)

// Operation is the tagged union {RequestSendFunds, ResponseSendFunds,
// CancelSendFunds} from spec.md §6.
type Operation interface {
	Tag() OpTag
	encodeBody(w *bytes.Buffer) error
}

// RequestSendFunds carries a payment request forwarded along Route.
type RequestSendFunds struct {
	RequestID        RequestID
	Route            Route
	DestPayment      Uint128
	TotalDestPayment Uint128
	LeftFees         Uint128
	InvoiceHash      HashValue
	SrcHashedLock    HashValue
}

func (r *RequestSendFunds) Tag() OpTag { return OpTagRequest }

func (r *RequestSendFunds) encodeBody(w *bytes.Buffer) error {
	if err := writeFixed(w, r.RequestID[:]); err != nil {
		return err
	}
	if err := r.Route.encode(w); err != nil {
		return err
	}
	if err := writeUint128(w, r.DestPayment); err != nil {
		return err
	}
	if err := writeUint128(w, r.TotalDestPayment); err != nil {
		return err
	}
	if err := writeUint128(w, r.LeftFees); err != nil {
		return err
	}
	if err := writeFixed(w, r.InvoiceHash[:]); err != nil {
		return err
	}
	return writeFixed(w, r.SrcHashedLock[:])
}

func decodeRequest(r *bytes.Reader) (*RequestSendFunds, error) {
	out := &RequestSendFunds{}
	idb, err := readFixed(r, 16)
	if err != nil {
		return nil, err
	}
	copy(out.RequestID[:], idb)
	if out.Route, err = decodeRoute(r); err != nil {
		return nil, err
	}
	if out.DestPayment, err = readUint128(r); err != nil {
		return nil, err
	}
	if out.TotalDestPayment, err = readUint128(r); err != nil {
		return nil, err
	}
	if out.LeftFees, err = readUint128(r); err != nil {
		return nil, err
	}
	b, err := readFixed(r, 32)
	if err != nil {
		return nil, err
	}
	copy(out.InvoiceHash[:], b)
	b, err = readFixed(r, 32)
	if err != nil {
		return nil, err
	}
	copy(out.SrcHashedLock[:], b)
	return out, nil
}

// ResponseSendFunds completes a RequestSendFunds successfully.
type ResponseSendFunds struct {
	RequestID    RequestID
	SrcPlainLock [32]byte
	SerialNum    Uint128
	Signature    Signature
}

func (r *ResponseSendFunds) Tag() OpTag { return OpTagResponse }

func (r *ResponseSendFunds) encodeBody(w *bytes.Buffer) error {
	if err := writeFixed(w, r.RequestID[:]); err != nil {
		return err
	}
	if err := writeFixed(w, r.SrcPlainLock[:]); err != nil {
		return err
	}
	if err := writeUint128(w, r.SerialNum); err != nil {
		return err
	}
	return writeFixed(w, r.Signature[:])
}

func decodeResponse(r *bytes.Reader) (*ResponseSendFunds, error) {
	out := &ResponseSendFunds{}
	b, err := readFixed(r, 16)
	if err != nil {
		return nil, err
	}
	copy(out.RequestID[:], b)
	b, err = readFixed(r, 32)
	if err != nil {
		return nil, err
	}
	copy(out.SrcPlainLock[:], b)
	if out.SerialNum, err = readUint128(r); err != nil {
		return nil, err
	}
	b, err = readFixed(r, 64)
	if err != nil {
		return nil, err
	}
	copy(out.Signature[:], b)
	return out, nil
}

// CancelSendFunds aborts a RequestSendFunds, returning frozen credit.
type CancelSendFunds struct {
	RequestID RequestID
}

func (c *CancelSendFunds) Tag() OpTag { return OpTagCancel }

func (c *CancelSendFunds) encodeBody(w *bytes.Buffer) error {
	return writeFixed(w, c.RequestID[:])
}

func decodeCancel(r *bytes.Reader) (*CancelSendFunds, error) {
	out := &CancelSendFunds{}
	b, err := readFixed(r, 16)
	if err != nil {
		return nil, err
	}
	copy(out.RequestID[:], b)
	return out, nil
}

// EncodeOperation writes the canonical tag-byte-prefixed encoding of op.
func EncodeOperation(op Operation) ([]byte, error) {
	var buf bytes.Buffer
	if err := buf.WriteByte(byte(op.Tag())); err != nil {
		return nil, err
	}
	if err := op.encodeBody(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeOperation parses the canonical tag-byte-prefixed encoding.
func DecodeOperation(b []byte) (Operation, error) {
	r := bytes.NewReader(b)
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch OpTag(tagByte) {
	case OpTagRequest:
		return decodeRequest(r)
	case OpTagResponse:
		return decodeResponse(r)
	case OpTagCancel:
		return decodeCancel(r)
	default:
		return nil, fmt.Errorf("wire: unknown operation tag %d", tagByte)
	}
}
