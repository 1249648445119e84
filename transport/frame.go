// Package transport implements the encrypted transport (spec.md §4.4, C4):
// a four-stage pipeline — version prefix, authenticated DH handshake, AEAD
// framing with rekey, and keepalive — layered over a raw bidirectional byte
// stream. The raw stream itself (listen/connect) is external per spec.md §6;
// this package only ever receives an already-open io.ReadWriteCloser.
//
// Grounded on transport/peer.go's lnpeer.Peer interface, generalized away
// from on-chain channel handles to friend-message delivery, and on
// buffer/read.go's fixed-size-read-buffer convention (brontide, referenced
// there but not vendored, is the shape this package reimplements against
// spec.md §4.4 rather than BOLT-8). Handshake and rekey semantics follow
// original_source/src/channeler/handshake/state_machine.rs and
// src/secure_channel/mod.rs.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meshcredit/creditnode/wire"
)

// writeFrame writes payload as a 4-byte big-endian length prefix followed by
// the bytes themselves, the same outer shape for handshake plaintext and
// post-handshake ciphertext alike (spec.md §6's MAX_FRAME_LENGTH applies to
// both).
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > wire.MaxFrameLength {
		return fmt.Errorf("transport: frame of %d bytes exceeds max frame length", len(payload))
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one writeFrame-produced payload.
func readFrame(r io.Reader) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > wire.MaxFrameLength {
		return nil, fmt.Errorf("transport: incoming frame of %d bytes exceeds max frame length", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readFrameScratch is readFrame's allocation-free counterpart, used by
// Peer.ReadLoop's hot path: it reads the frame into scratch (a pooled
// buffer.Read, see the buffer package) instead of allocating a new slice
// per frame, returning the filled portion of scratch.
func readFrameScratch(r io.Reader, scratch []byte) ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(length[:])
	if n > wire.MaxFrameLength {
		return nil, fmt.Errorf("transport: incoming frame of %d bytes exceeds max frame length", n)
	}
	if int(n) > len(scratch) {
		return nil, fmt.Errorf("transport: incoming frame of %d bytes exceeds scratch buffer", n)
	}
	buf := scratch[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
