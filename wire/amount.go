package wire

import "math/bits"

// Uint128 is an unsigned 128-bit integer, stored as two big-endian halves.
// Balances, pending debts and max-debt ceilings are all Uint128 per
// spec.md §3; Go has no native 128-bit integer so operations that the spec
// requires to be overflow-checked (freeze amounts, pending totals) are
// implemented here rather than silently wrapping.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Add returns a+b and whether the addition overflowed 128 bits.
func (a Uint128) Add(b Uint128) (Uint128, bool) {
	lo, carry := bits.Add64(a.Lo, b.Lo, 0)
	hi, carry2 := bits.Add64(a.Hi, b.Hi, carry)
	return Uint128{Hi: hi, Lo: lo}, carry2 != 0
}

// Sub returns a-b and whether the subtraction underflowed.
func (a Uint128) Sub(b Uint128) (Uint128, bool) {
	lo, borrow := bits.Sub64(a.Lo, b.Lo, 0)
	hi, borrow2 := bits.Sub64(a.Hi, b.Hi, borrow)
	return Uint128{Hi: hi, Lo: lo}, borrow2 != 0
}

// Cmp returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func (a Uint128) Cmp(b Uint128) int {
	switch {
	case a.Hi < b.Hi:
		return -1
	case a.Hi > b.Hi:
		return 1
	case a.Lo < b.Lo:
		return -1
	case a.Lo > b.Lo:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the value is zero.
func (a Uint128) IsZero() bool {
	return a.Hi == 0 && a.Lo == 0
}

// ZeroUint128 is the additive identity.
var ZeroUint128 = Uint128{}

// Int128 is a signed 128-bit integer used for the mutual-credit balance,
// which may legitimately go negative (the remote owes us, or we owe the
// remote). Represented as sign-magnitude over Uint128 to keep the
// overflow-checked Uint128 arithmetic reusable.
type Int128 struct {
	Neg bool
	Mag Uint128
}

// ZeroInt128 is the additive identity.
var ZeroInt128 = Int128{}

// AddUint128 returns i + u (u treated as non-negative) and whether the
// result overflowed the signed 128-bit range used here (we only ever need
// a conservative overflow signal, not the exact two's-complement range).
func (i Int128) AddUint128(u Uint128) (Int128, bool) {
	if !i.Neg {
		sum, overflow := i.Mag.Add(u)
		return Int128{Neg: false, Mag: sum}, overflow
	}
	// i is negative: i + u = u - |i|.
	if u.Cmp(i.Mag) >= 0 {
		diff, _ := u.Sub(i.Mag)
		return Int128{Neg: false, Mag: diff}, false
	}
	diff, _ := i.Mag.Sub(u)
	return Int128{Neg: true, Mag: diff}, false
}

// SubUint128 returns i - u and whether the result overflowed.
func (i Int128) SubUint128(u Uint128) (Int128, bool) {
	// i - u = -((-i) + u).
	r, overflow := Int128{Neg: !i.Neg, Mag: i.Mag}.AddUint128(u)
	if r.Mag.IsZero() {
		return Int128{}, overflow
	}
	return Int128{Neg: !r.Neg, Mag: r.Mag}, overflow
}

// LessEq reports whether i <= j.
func (i Int128) LessEq(j Int128) bool {
	switch {
	case i.Neg && !j.Neg:
		return true
	case !i.Neg && j.Neg:
		return i.Mag.IsZero() && j.Mag.IsZero()
	case !i.Neg && !j.Neg:
		return i.Mag.Cmp(j.Mag) <= 0
	default: // both negative
		return i.Mag.Cmp(j.Mag) >= 0
	}
}

// Uint256 is an unsigned 256-bit integer used for the cumulative in/out fee
// counters (spec.md §3), which are never decremented so only Add is needed.
type Uint256 struct {
	Hi Uint128
	Lo Uint128
}

// Add returns a+b and whether the addition overflowed 256 bits.
func (a Uint256) Add(b Uint256) (Uint256, bool) {
	lo, loOverflow := a.Lo.Add(b.Lo)
	var carry Uint128
	if loOverflow {
		carry = Uint128{Lo: 1}
	}
	hi, hiOverflow1 := a.Hi.Add(b.Hi)
	hi, hiOverflow2 := hi.Add(carry)
	return Uint256{Hi: hi, Lo: lo}, hiOverflow1 || hiOverflow2
}
