// Package wire implements the canonical, self-describing binary encoding
// used across the friend protocol, the index-server protocol and the
// handshake messages that precede both. spec.md §1 deliberately leaves the
// wire encoding unprescribed ("any self-describing binary encoding with
// fixed-size integers, tagged unions, and length-prefixed byte blobs
// suffices"); this package is one concrete choice, written in the
// hand-rolled style lnwire itself uses for the same job.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLength bounds a single length-prefixed frame, per spec.md §6.
const MaxFrameLength = 0x1000000

// MaxOperationsInBatch bounds the operations carried by one MoveToken.
const MaxOperationsInBatch = 16

// TICK_MS / KEEPALIVE_TICKS / TICKS_TO_REKEY / INDEX_NODE_TIMEOUT_TICKS are
// configuration defaults per spec.md §6; they're expressed here as the
// package's zero-config defaults and are overridable via node config.
const (
	DefaultTickMS                = 100
	DefaultKeepaliveTicks        = 15
	DefaultTicksToRekey          = 200
	DefaultIndexNodeTimeoutTicks = 20
	DefaultConnTimeoutTicks      = 30
	ReplayWindowSize             = 256
)

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeUint128(w io.Writer, v Uint128) error {
	if err := writeUint64(w, v.Hi); err != nil {
		return err
	}
	return writeUint64(w, v.Lo)
}

func readUint128(r io.Reader) (Uint128, error) {
	hi, err := readUint64(r)
	if err != nil {
		return Uint128{}, err
	}
	lo, err := readUint64(r)
	if err != nil {
		return Uint128{}, err
	}
	return Uint128{Hi: hi, Lo: lo}, nil
}

func writeInt128(w io.Writer, v Int128) error {
	var sign byte
	if v.Neg {
		sign = 1
	}
	if _, err := w.Write([]byte{sign}); err != nil {
		return err
	}
	return writeUint128(w, v.Mag)
}

func readInt128(r io.Reader) (Int128, error) {
	var sign [1]byte
	if _, err := io.ReadFull(r, sign[:]); err != nil {
		return Int128{}, err
	}
	mag, err := readUint128(r)
	if err != nil {
		return Int128{}, err
	}
	return Int128{Neg: sign[0] != 0, Mag: mag}, nil
}

func writeUint256(w io.Writer, v Uint256) error {
	if err := writeUint128(w, v.Hi); err != nil {
		return err
	}
	return writeUint128(w, v.Lo)
}

func readUint256(r io.Reader) (Uint256, error) {
	hi, err := readUint128(r)
	if err != nil {
		return Uint256{}, err
	}
	lo, err := readUint128(r)
	if err != nil {
		return Uint256{}, err
	}
	return Uint256{Hi: hi, Lo: lo}, nil
}

// writeBytes writes a length-prefixed (32-bit) variable byte blob.
func writeBytes(w io.Writer, b []byte) error {
	if len(b) > MaxFrameLength {
		return fmt.Errorf("wire: blob of %d bytes exceeds max frame length", len(b))
	}
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxFrameLength {
		return nil, fmt.Errorf("wire: declared blob length %d exceeds max frame length", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeFixed(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

func readFixed(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeCurrency(w io.Writer, c Currency) error {
	return writeBytes(w, []byte(c))
}

func readCurrency(r io.Reader) (Currency, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return Currency(b), nil
}
