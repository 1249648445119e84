package wire

import "io"

// WriteUint128, WriteBytes and WriteString expose this package's
// length-prefixed, big-endian primitives to callers outside wire that build
// their own canonical byte sequences to sign or hash (ledger's response
// canonicalization, spec.md §4.1).

// WriteUint128 writes v as two big-endian 64-bit halves.
func WriteUint128(w io.Writer, v Uint128) error {
	return writeUint128(w, v)
}

// WriteBytes writes a length-prefixed (32-bit) variable byte blob.
func WriteBytes(w io.Writer, b []byte) error {
	return writeBytes(w, b)
}

// WriteString writes s as a length-prefixed byte blob.
func WriteString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}
